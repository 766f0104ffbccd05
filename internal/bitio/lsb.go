// Package bitio provides the two bit-reader dialects spec.md §3/§4.1
// requires: an LSB-first reader for PNG/DEFLATE that follows a chunk
// chain on exhaustion, and an MSB-first reader for JPEG entropy-coded
// segments that understands 0xFF00 byte stuffing. Both are windowed
// cursors over a borrowed byte slice in the style of the teacher's
// internal/bitio readers (LosslessReader and BoolReader): a small
// register of prefetched bits refilled from the slice, with a sticky
// exhaustion flag instead of a panic or error return on overrun.
package bitio

// SegmentSource supplies the next contiguous byte segment to an LSB
// reader once the current one is exhausted. PNG satisfies this by
// walking its IDAT chunk chain (skipping length/type of intervening
// chunks and ignoring CRCs), per spec.md §4.1.
type SegmentSource interface {
	NextSegment() (data []byte, ok bool)
}

// LSBReader is the PNG/DEFLATE bit-reader dialect: LSB-first within each
// byte, stops at the end of the current subrange, and can transparently
// continue into the next chunk via a SegmentSource.
type LSBReader struct {
	buf     []byte
	pos     int // next byte to load
	acc     uint32
	nbits   uint
	src     SegmentSource
	exhaust bool
}

// NewLSBReader creates a reader over the first segment. src may be nil
// if the caller knows the data never spans more than one segment (e.g.
// raw DEFLATE over an already-concatenated buffer).
func NewLSBReader(first []byte, src SegmentSource) *LSBReader {
	return &LSBReader{buf: first, src: src}
}

// Exhausted reports whether a previous read ran past the end of all
// available segments.
func (r *LSBReader) Exhausted() bool { return r.exhaust }

// refill tops up the accumulator up to 32 bits, pulling new segments as
// needed. It never blocks: once no more segments are available it stops
// and leaves the accumulator as-is. The exhaustion flag is set by Peek,
// only when a read asks for more bits than remain.
func (r *LSBReader) refill() {
	for r.nbits <= 24 {
		if r.pos >= len(r.buf) {
			if r.src == nil {
				return
			}
			seg, ok := r.src.NextSegment()
			if !ok {
				return
			}
			r.buf = seg
			r.pos = 0
			if len(r.buf) == 0 {
				continue
			}
		}
		r.acc |= uint32(r.buf[r.pos]) << r.nbits
		r.pos++
		r.nbits += 8
	}
}

// Peek returns the next n (<=24) bits without consuming them. Past
// end-of-stream this returns zero padding.
func (r *LSBReader) Peek(n int) uint32 {
	if r.nbits < uint(n) {
		r.refill()
	}
	if r.nbits < uint(n) {
		// Still short: stream is exhausted mid-field. Pad with zeros,
		// matching spec.md §4.1's "empty window returns zero" rule.
		r.exhaust = true
		return r.acc & ((1 << uint(r.nbits)) - 1)
	}
	return r.acc & ((1 << uint(n)) - 1)
}

// Consume drops n (<=24) bits that were already inspected via Peek.
func (r *LSBReader) Consume(n int) {
	if uint(n) > r.nbits {
		n = int(r.nbits)
	}
	r.acc >>= uint(n)
	r.nbits -= uint(n)
}

// ReadBits reads and consumes n bits, returning them as an unsigned
// value. Equivalent to Peek followed by Consume.
func (r *LSBReader) ReadBits(n int) uint32 {
	v := r.Peek(n)
	r.Consume(n)
	return v
}

// AlignToByte drops any partial bits so the next read starts at a byte
// boundary (used by DEFLATE's stored-block handling).
func (r *LSBReader) AlignToByte() {
	drop := r.nbits % 8
	r.Consume(int(drop))
}

// CopyBytes copies n already byte-aligned bytes into dst, advancing the
// cursor, and following segments as needed. Returns the number of bytes
// actually copied; fewer than n means the stream was exhausted.
func (r *LSBReader) CopyBytes(dst []byte, n int) int {
	copied := 0
	for copied < n {
		// Drain whole bytes already sitting in the accumulator first.
		for r.nbits >= 8 && copied < n {
			dst[copied] = byte(r.acc)
			r.acc >>= 8
			r.nbits -= 8
			copied++
		}
		if copied >= n {
			break
		}
		if r.pos >= len(r.buf) {
			if r.src == nil {
				r.exhaust = true
				return copied
			}
			seg, ok := r.src.NextSegment()
			if !ok {
				r.exhaust = true
				return copied
			}
			r.buf = seg
			r.pos = 0
			continue
		}
		take := n - copied
		if avail := len(r.buf) - r.pos; take > avail {
			take = avail
		}
		copy(dst[copied:copied+take], r.buf[r.pos:r.pos+take])
		r.pos += take
		copied += take
	}
	return copied
}
