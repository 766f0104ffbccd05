// Package normalize implements C10, the pixel-layout canonicalization
// stage: it takes any decoder's surface.PixelSource and produces the
// single normalized BGRA8, top-down, straight-alpha surface.Surface
// every decoder hands to the sink, per spec.md §4.10.
package normalize

import (
	"errors"

	"github.com/raster/decode/internal/sink"
	"github.com/raster/decode/internal/surface"
)

// ErrNonContiguousMask reports a channel mask whose set bits are not a
// single contiguous run, which spec.md §4.10 step 2 calls a format error.
var ErrNonContiguousMask = errors.New("normalize: channel mask is not contiguous")

// channelInfo is the derived (offset, scale) pair for one channel mask,
// per spec.md §4.10 steps 2-3.
type channelInfo struct {
	mask   uint64
	offset uint
	bits   uint
	factor float64 // 255 / maxValue, or 0 for an all-zero mask
	opaque bool     // true for an all-zero alpha mask: always output 255
}

func deriveChannel(mask uint64, isAlpha bool) (channelInfo, error) {
	if mask == 0 {
		if isAlpha {
			return channelInfo{opaque: true}, nil
		}
		return channelInfo{}, nil
	}
	offset := uint(0)
	for (mask>>offset)&1 == 0 {
		offset++
	}
	shifted := mask >> offset
	bits := uint(0)
	for (shifted>>bits)&1 == 1 {
		bits++
	}
	if shifted>>bits != 0 {
		return channelInfo{}, ErrNonContiguousMask
	}
	maxVal := (uint64(1) << bits) - 1
	return channelInfo{mask: mask, offset: offset, bits: bits, factor: 255 / float64(maxVal)}, nil
}

func (c channelInfo) extract(word uint64) byte {
	if c.opaque {
		return 255
	}
	if c.mask == 0 {
		return 0
	}
	raw := (word & c.mask) >> c.offset
	return round8(float64(raw) * c.factor)
}

func round8(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}

// Normalize runs C10 over src and returns the normalized surface. It is
// the last consumer of src, so it frees every scratch buffer the
// decoder attached to src.Scratch on every exit path, per spec.md §5's
// "no buffer outlives the decode".
func Normalize(src *surface.PixelSource, sk sink.Sink) (*surface.Surface, error) {
	defer func() {
		for _, b := range src.Scratch {
			sk.FreeImageBuffer(b)
		}
	}()

	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.DCT != nil {
		return normalizeDCT(src)
	}

	rc, err := deriveChannel(src.RMask, false)
	if err != nil {
		return nil, err
	}
	gc, err := deriveChannel(src.GMask, false)
	if err != nil {
		return nil, err
	}
	bc, err := deriveChannel(src.BMask, false)
	if err != nil {
		return nil, err
	}
	ac, err := deriveChannel(src.AMask, true)
	if err != nil {
		return nil, err
	}

	var paletteBGRA []byte
	if src.Palette != nil {
		paletteBGRA, err = normalizePalette(src.Palette, sk)
		if err != nil {
			return nil, err
		}
		defer sk.FreeImageBuffer(paletteBGRA)
	}

	var keyB, keyG, keyR byte
	if src.HasKey {
		keyR = rc.extract(src.TransparentKey)
		keyG = gc.extract(src.TransparentKey)
		keyB = bc.extract(src.TransparentKey)
	}

	out := surface.NewSurface(src.Width, src.Height)
	stride := src.RowStride()

	for y := 0; y < src.Height; y++ {
		rowStart := y * stride
		if rowStart >= len(src.Pixels) {
			break
		}
		row := src.Pixels[rowStart:]

		var acc uint32
		var accBits uint
		bytePos := 0

		for x := 0; x < src.Width; x++ {
			var b, g, r, a byte
			var word uint64
			ok := true

			if src.BitsPerPixel < 8 {
				for accBits < uint(src.BitsPerPixel) {
					if bytePos >= len(row) {
						ok = false
						break
					}
					acc = (acc << 8) | uint32(row[bytePos])
					bytePos++
					accBits += 8
				}
				if !ok {
					break
				}
				shift := accBits - uint(src.BitsPerPixel)
				word = uint64((acc >> shift) & ((1 << uint(src.BitsPerPixel)) - 1))
				accBits -= uint(src.BitsPerPixel)
				acc &= (1 << accBits) - 1
			} else {
				word = readWord(row, x, src.BitsPerPixel, src.BigEndian)
			}

			if src.Palette != nil {
				b, g, r, a = paletteLookup(paletteBGRA, int(word))
			} else {
				r = rc.extract(word)
				g = gc.extract(word)
				b = bc.extract(word)
				a = ac.extract(word)
				if src.HasKey && r == keyR && g == keyG && b == keyB {
					a = 0
				}
			}

			ox, oy := x, y
			if src.FlippedX {
				ox = src.Width - 1 - x
			}
			if src.FlippedY {
				oy = src.Height - 1 - y
			}
			off := out.At(ox, oy)
			out.Pix[off+0] = b
			out.Pix[off+1] = g
			out.Pix[off+2] = r
			out.Pix[off+3] = a
		}
	}

	return out, nil
}

// readWord reads one source pixel of the given bit width at column x from
// a row buffer (8/16/24/32/48/64-bit widths only; sub-byte widths are
// handled by the caller's rolling accumulator).
//
// The mask scheme throughout this package puts the first channel sample
// to appear in memory at the word's low bits, each subsequent channel
// one group higher (so mask tables like spec.md §6's stay position-for-
// position with the byte layout). For 8-bit channels that means reading
// whole bytes from the last in the pixel back to the first (group size
// 1). For big-endian 16-bit-per-channel sources each channel's own
// 2-byte sample is itself MSB-first, so the groups (size 2) are walked
// last-to-first while each group is decoded MSB-first internally.
func readWord(row []byte, x, bpp int, bigEndian bool) uint64 {
	bytesPer := bpp / 8
	off := x * bytesPer
	if off+bytesPer > len(row) {
		return 0
	}
	groupSize := 1
	if bigEndian {
		groupSize = 2
	}
	var v uint64
	for g := bytesPer/groupSize - 1; g >= 0; g-- {
		base := off + g*groupSize
		var sample uint64
		for i := 0; i < groupSize; i++ {
			sample = (sample << 8) | uint64(row[base+i])
		}
		v = (v << uint(groupSize*8)) | sample
	}
	return v
}

// normalizePalette converts a Palette's raw entries to a flat BGRA8 table
// using the same mask-derived extraction as the main pixel path, per
// spec.md §4.10 step 6.
func normalizePalette(p *surface.Palette, sk sink.Sink) ([]byte, error) {
	rc, err := deriveChannel(p.RMask, false)
	if err != nil {
		return nil, err
	}
	gc, err := deriveChannel(p.GMask, false)
	if err != nil {
		return nil, err
	}
	bc, err := deriveChannel(p.BMask, false)
	if err != nil {
		return nil, err
	}
	ac, err := deriveChannel(p.AMask, true)
	if err != nil {
		return nil, err
	}

	out := sk.RequestImageBuffer(p.Count * 4)
	if out == nil {
		return nil, sink.ErrBudgetExceeded
	}
	entryBytes := p.BitsPerEntry / 8
	for i := 0; i < p.Count; i++ {
		off := i * entryBytes
		if off+entryBytes > len(p.Data) {
			break
		}
		var v uint64
		for j := entryBytes - 1; j >= 0; j-- {
			v = (v << 8) | uint64(p.Data[off+j])
		}
		out[i*4+0] = bc.extract(v)
		out[i*4+1] = gc.extract(v)
		out[i*4+2] = rc.extract(v)
		out[i*4+3] = ac.extract(v)
	}
	return out, nil
}

func paletteLookup(pal []byte, idx int) (b, g, r, a byte) {
	if idx < 0 || (idx+1)*4 > len(pal) {
		return 0, 0, 0, 0
	}
	return pal[idx*4], pal[idx*4+1], pal[idx*4+2], pal[idx*4+3]
}

// normalizeDCT implements spec.md §4.10 step 9: the JPEG decoder already
// produced full-resolution BGR float planes, so this just clamps and
// packs (with an optional K-driven alpha plane for a genuine 4-channel
// non-CMYK source).
func normalizeDCT(src *surface.PixelSource) (*surface.Surface, error) {
	d := src.DCT
	out := surface.NewSurface(d.Width, d.Height)
	n := d.Width * d.Height
	for i := 0; i < n; i++ {
		off := i * 4
		out.Pix[off+0] = round8(float64(d.Planes[0][i]))
		out.Pix[off+1] = round8(float64(d.Planes[1][i]))
		out.Pix[off+2] = round8(float64(d.Planes[2][i]))
		if d.Planes[3] != nil {
			out.Pix[off+3] = round8(float64(d.Planes[3][i]))
		} else {
			out.Pix[off+3] = 255
		}
	}
	return out, nil
}
