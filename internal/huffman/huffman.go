// Package huffman builds and decodes canonical Huffman tables shared by
// the DEFLATE inflater (C3) and the JPEG entropy decoder (C7), per
// spec.md §3 "Huffman table" and §4.2.
//
// The construction follows the same two-phase shape as the teacher's
// internal/lossless.BuildHuffmanTable: count codes per length, derive
// per-length starting codes, then assign codes to symbols in length-then-
// input order. Where the teacher builds a flat lookup table sized to a
// root-bits window (because VP8L codes can run to 15 bits over a large
// alphabet), this package instead keeps the compact "smallest code per
// length + offset into symbol vector" representation spec.md's data
// model calls for, since both DEFLATE and JPEG tables are small (<=288
// symbols, <=16 bits) and decoded one bit at a time.
package huffman

import "errors"

// MaxBits is the longest canonical Huffman code this package supports.
const MaxBits = 16

// absent is the firstCode value of a code length that has no codes. A
// table with no codes at all is marked by populated == false instead;
// Decode on such a table returns ErrAbsentTable.
const absent = -1

// ErrAbsentTable is returned by Decode when called on a Table that was
// never populated.
var ErrAbsentTable = errors.New("huffman: table absent")

// ErrOverSubscribed is returned when the code lengths do not describe a
// valid canonical Huffman tree (total code-space > 1).
var ErrOverSubscribed = errors.New("huffman: code lengths oversubscribed")

// BitSource is the minimal bit-reader contract Decode needs: peek a
// single bit at a time and consume it. Both bitio.LSBReader and
// bitio.MSBReader satisfy this via thin wrappers in their own packages;
// huffman stays reader-agnostic so it can serve both dialects.
type BitSource interface {
	ReadBits(n int) uint32
}

// Table is a canonical Huffman decode table: for each code length 1..16,
// the smallest numeric code of that length (left-justified is NOT used
// here — codes are compared at their natural bit width) and the index
// into Symbols where that length's symbols begin.
type Table struct {
	// firstCode[l] is the smallest code of length l, or -1 if no code of
	// that length exists.
	firstCode [MaxBits + 1]int32
	// firstSymbolIndex[l] is the offset into Symbols of the first symbol
	// encoded with length l.
	firstSymbolIndex [MaxBits + 1]int32
	// countAtLen[l] is the number of symbols of length l.
	countAtLen [MaxBits + 1]int32
	Symbols    []uint16
	populated  bool
}

// Build constructs a canonical Huffman table from a length vector
// (lengths[i] = code length in bits for symbol i, 0 = unused) — the
// DEFLATE-style representation — deriving the symbol list itself in
// ascending-length, ascending-symbol order (callers that already have
// counts-per-length + flat symbol list, as JPEG's DHT segment provides,
// can call BuildFromCounts directly).
func Build(lengths []int) (*Table, error) {
	maxSym := len(lengths)
	var counts [MaxBits + 1]int
	for _, l := range lengths {
		if l < 0 || l > MaxBits {
			return nil, errors.New("huffman: code length out of range")
		}
		if l > 0 {
			counts[l]++
		}
	}
	symbols := make([]uint16, 0, maxSym)
	for l := 1; l <= MaxBits; l++ {
		for sym, cl := range lengths {
			if cl == l {
				symbols = append(symbols, uint16(sym))
			}
		}
	}
	return BuildFromCounts(counts[1:], symbols)
}

// BuildFromCounts constructs a table from per-length symbol counts
// (counts[i] = number of codes of length i+1, matching DEFLATE's
// HCLEN/HLIT vectors and JPEG's DHT 16-length-count array) plus the flat
// symbol list ordered by ascending length, then input order within a
// length — exactly the layout DHT and DEFLATE's dynamic-block header
// already provide on the wire.
func BuildFromCounts(counts []int, symbols []uint16) (*Table, error) {
	t := &Table{Symbols: symbols}
	for i := range t.firstCode {
		t.firstCode[i] = absent
	}

	var code int32
	var total int
	offset := 0
	for l := 1; l <= MaxBits && l-1 < len(counts); l++ {
		c := counts[l-1]
		total += c
		if c > 0 {
			if int(code)+c > (1 << uint(l)) {
				return nil, ErrOverSubscribed
			}
			t.firstCode[l] = code
			t.firstSymbolIndex[l] = int32(offset)
			t.countAtLen[l] = int32(c)
			offset += c
		} else {
			t.firstCode[l] = absent
		}
		code = (code + int32(c)) << 1
	}
	if total == 0 {
		return t, nil // absent table: every length's firstCode stays -1
	}
	if total > len(symbols) {
		return nil, errors.New("huffman: symbol count mismatch")
	}
	t.populated = true
	return t, nil
}

// Decode reads one symbol from src using this table, peeking one
// additional bit at a time until a valid code of some length matches.
// This mirrors spec.md §4.2: "peeks 16 bits... indexes, then drops the
// returned length" is an optimization; the portable version below walks
// bit-by-bit, which every canonical-Huffman decoder (DEFLATE or JPEG)
// can do correctly regardless of table size.
func (t *Table) Decode(src BitSource) (uint16, error) {
	if !t.populated {
		return 0, ErrAbsentTable
	}
	var code int32
	for l := 1; l <= MaxBits; l++ {
		code = (code << 1) | int32(src.ReadBits(1))
		if t.firstCode[l] == absent {
			continue
		}
		count := t.countAtLen[l]
		if code-t.firstCode[l] < count {
			idx := t.firstSymbolIndex[l] + (code - t.firstCode[l])
			return t.Symbols[idx], nil
		}
	}
	return 0, errors.New("huffman: invalid code (no match within max length)")
}

// Populated reports whether this table has at least one code, i.e. is
// not the "absent" sentinel.
func (t *Table) Populated() bool { return t.populated }
