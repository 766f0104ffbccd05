// Package deflate implements the DEFLATE decompressor (C3) per RFC 1951
// and spec.md §4.3: the zlib wrapper, stored/fixed/dynamic blocks, and
// LZ77 back-reference replay into a single contiguous output buffer.
//
// It is built on internal/bitio's LSB-first reader (the PNG dialect) and
// internal/huffman's canonical table decoder, composed the way the
// teacher's internal/lossless VP8L decoder composes internal/bitio and
// its own Huffman tables over a block-structured bitstream.
package deflate

import (
	"errors"

	"github.com/raster/decode/internal/bitio"
	"github.com/raster/decode/internal/huffman"
)

// Errors surfaced by Inflate; all map to spec.md's "malformed" or
// "truncated" categories at the call site.
var (
	ErrReservedBlockType = errors.New("deflate: reserved block type")
	ErrStoredLengthCheck = errors.New("deflate: stored block LEN/~LEN mismatch")
	ErrBadDistance       = errors.New("deflate: invalid distance code")
	ErrOutputOverflow    = errors.New("deflate: output would overflow destination")
)

const (
	blockStored = 0
	blockFixed  = 1
	blockDyn    = 2
	blockResvd  = 3
)

// lengthBase and lengthExtra give the base length and extra-bit count for
// length codes 257..285 (RFC 1951 §3.2.5).
var lengthBase = [29]int{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 258,
}
var lengthExtra = [29]int{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 5, 5, 5, 5, 0,
}

// distBase and distExtra give the base distance and extra-bit count for
// distance codes 0..29 (RFC 1951 §3.2.5).
var distBase = [30]int{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
	257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145,
	8193, 12289, 16385, 24577,
}
var distExtra = [30]int{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// clLenOrder is the order in which the 19 code-length-code lengths
// appear in a dynamic block header (RFC 1951 §3.2.7).
var clLenOrder = [19]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// lsbBits adapts bitio.LSBReader to huffman.BitSource.
type lsbBits struct{ r *bitio.LSBReader }

func (b lsbBits) ReadBits(n int) uint32 { return b.r.ReadBits(n) }

var fixedLit, fixedDist *huffman.Table

func init() {
	litLens := make([]int, 288)
	for i := 0; i < 144; i++ {
		litLens[i] = 8
	}
	for i := 144; i < 256; i++ {
		litLens[i] = 9
	}
	for i := 256; i < 280; i++ {
		litLens[i] = 7
	}
	for i := 280; i < 288; i++ {
		litLens[i] = 8
	}
	fixedLit, _ = huffman.Build(litLens)

	distLens := make([]int, 30)
	for i := range distLens {
		distLens[i] = 5
	}
	fixedDist, _ = huffman.Build(distLens)
}

// SkipZlibHeader consumes the 2-byte zlib CMF/FLG header and, if FDICT
// (bit 5 of FLG) is set, the following 4-byte dictionary id. The Adler-32
// trailer is never read — spec.md leaves checksum verification optional
// and off by default (see SPEC_FULL.md Open Question d).
func SkipZlibHeader(r *bitio.LSBReader) {
	r.ReadBits(8) // CMF
	flg := r.ReadBits(8)
	if flg&0x20 != 0 {
		r.ReadBits(32)
	}
}

// Inflate decompresses a DEFLATE bitstream (already past any zlib header)
// into dst, stopping after the BFINAL block or once the input is exhausted.
// Writes past dst's end are reported as ErrOutputOverflow rather than
// panicking, per spec.md §4.3: "writes past its end are a format error,
// not UB."
func Inflate(r *bitio.LSBReader, dst []byte) (n int, err error) {
	src := lsbBits{r}
	out := 0

	for {
		final := r.ReadBits(1)
		btype := r.ReadBits(2)

		switch btype {
		case blockStored:
			r.AlignToByte()
			lenLo := r.ReadBits(16)
			nlen := r.ReadBits(16)
			if lenLo&0xFFFF != (^nlen)&0xFFFF {
				return out, ErrStoredLengthCheck
			}
			length := int(lenLo)
			if out+length > len(dst) {
				out += r.CopyBytes(dst[out:], len(dst)-out)
				return out, ErrOutputOverflow
			}
			got := r.CopyBytes(dst[out:out+length], length)
			out += got
			if got < length && r.Exhausted() {
				return out, nil
			}

		case blockFixed:
			out, err = inflateHuffmanBlock(r, src, fixedLit, fixedDist, dst, out)
			if err != nil {
				return out, err
			}

		case blockDyn:
			litTable, distTable, derr := readDynamicTables(r, src)
			if derr != nil {
				return out, derr
			}
			out, err = inflateHuffmanBlock(r, src, litTable, distTable, dst, out)
			if err != nil {
				return out, err
			}

		default:
			return out, ErrReservedBlockType
		}

		if r.Exhausted() {
			return out, nil
		}
		if final == 1 {
			return out, nil
		}
	}
}

// readDynamicTables parses a dynamic Huffman block header: HLIT, HDIST,
// HCLEN, the 19 code-length-code lengths, then the expanded HLIT+HDIST
// code lengths using repeat codes 16/17/18, per spec.md §4.3.
func readDynamicTables(r *bitio.LSBReader, src lsbBits) (lit, dist *huffman.Table, err error) {
	hlit := int(r.ReadBits(5)) + 257
	hdist := int(r.ReadBits(5)) + 1
	hclen := int(r.ReadBits(4)) + 4

	var clLens [19]int
	for i := 0; i < hclen; i++ {
		clLens[clLenOrder[i]] = int(r.ReadBits(3))
	}
	clTable, err := huffman.Build(clLens[:])
	if err != nil {
		return nil, nil, err
	}

	total := hlit + hdist
	lens := make([]int, total)
	i := 0
	var prev int
	for i < total {
		sym, derr := clTable.Decode(src)
		if derr != nil {
			return nil, nil, derr
		}
		switch {
		case sym < 16:
			lens[i] = int(sym)
			prev = int(sym)
			i++
		case sym == 16:
			rep := int(r.ReadBits(2)) + 3
			for k := 0; k < rep && i < total; k++ {
				lens[i] = prev
				i++
			}
		case sym == 17:
			rep := int(r.ReadBits(3)) + 3
			for k := 0; k < rep && i < total; k++ {
				lens[i] = 0
				i++
			}
			prev = 0
		case sym == 18:
			rep := int(r.ReadBits(7)) + 11
			for k := 0; k < rep && i < total; k++ {
				lens[i] = 0
				i++
			}
			prev = 0
		}
	}

	lit, err = huffman.Build(lens[:hlit])
	if err != nil {
		return nil, nil, err
	}
	dist, err = huffman.Build(lens[hlit:])
	if err != nil {
		return nil, nil, err
	}
	return lit, dist, nil
}

// inflateHuffmanBlock decodes literal/length/distance symbols until an
// end-of-block code or stream exhaustion, replaying LZ77 back-references
// directly into dst.
func inflateHuffmanBlock(r *bitio.LSBReader, src lsbBits, lit, dist *huffman.Table, dst []byte, out int) (int, error) {
	for {
		if r.Exhausted() {
			return out, nil
		}
		sym, err := lit.Decode(src)
		if err != nil {
			return out, err
		}
		switch {
		case sym < 256:
			if out >= len(dst) {
				return out, ErrOutputOverflow
			}
			dst[out] = byte(sym)
			out++
		case sym == 256:
			return out, nil
		default:
			li := int(sym) - 257
			if li >= len(lengthBase) {
				return out, ErrBadDistance
			}
			length := lengthBase[li] + int(r.ReadBits(lengthExtra[li]))

			dsym, err := dist.Decode(src)
			if err != nil {
				return out, err
			}
			if int(dsym) >= len(distBase) {
				return out, ErrBadDistance
			}
			distance := distBase[dsym] + int(r.ReadBits(distExtra[dsym]))
			if distance > out {
				return out, ErrBadDistance
			}
			for k := 0; k < length; k++ {
				if out >= len(dst) {
					return out, ErrOutputOverflow
				}
				dst[out] = dst[out-distance]
				out++
			}
		}
		if r.Exhausted() {
			return out, nil
		}
	}
}
