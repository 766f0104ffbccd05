// Package jpeg implements the JPEG segment parser (C6), entropy decoder
// (C7), and frequency->spatial stage (C8), per spec.md §4.6-4.8.
//
// Structurally this mirrors the teacher's split between container
// parsing (internal/container) and bitstream decode (internal/lossy):
// segment.go is the marker walker (the RIFF-chunk-walker analogue),
// while entropy.go/idct.go are this package's internal/lossy.DecodeFrame
// analogue, composing internal/bitio and internal/huffman the way
// internal/lossy/decode_mb.go composes internal/bitio.BoolReader and its
// own probability trees over 16x16 macroblocks.
package jpeg

import (
	"encoding/binary"
	"errors"

	"github.com/raster/decode/internal/huffman"
)

const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerDQT  = 0xDB
	markerDHT  = 0xC4
	markerDAC  = 0xCC
	markerDRI  = 0xDD
	markerSOS  = 0xDA
	markerSOF0 = 0xC0 // baseline
	markerSOF2 = 0xC2 // progressive
	markerAPP0 = 0xE0
	markerAPP14 = 0xEE
	markerRST0 = 0xD0
	markerRST7 = 0xD7
)

var (
	ErrNoSOI           = errors.New("jpeg: missing SOI marker")
	ErrUnsupportedSOF  = errors.New("jpeg: unsupported frame marker")
	ErrArithmeticCoding = errors.New("jpeg: arithmetic coding not supported")
	ErrTruncated       = errors.New("jpeg: truncated segment")
	ErrBadComponentCount = errors.New("jpeg: component count out of range")
	ErrBadPrecision    = errors.New("jpeg: unsupported sample precision")
)

// Component is one frame component's descriptor (spec.md §3 "JPEG frame
// state").
type Component struct {
	ID          int
	H, V        int
	QuantTable  int
	OutputSlot  int // 0..3, assigned in encounter order
	dcTable     int // selected by the most recent SOS for this component
	acTable     int
	dcPred      int32 // running DC predictor, reset at restarts
	eobRun      int
}

// FrameState holds everything C6 assembles from SOF/DHT/DQT/DRI/APPn.
type FrameState struct {
	Width, Height int
	Progressive   bool
	Components    []Component
	MaxH, MaxV    int

	QuantTables [4]*[64]int32

	DCTables [4]*huffman.Table
	ACTables [4]*huffman.Table

	RestartInterval int
	JFIFPresent     bool
	AdobeTransform  int // 0 unset, 1 YCbCr/YCCK, 2 known RGB/CMYK
}

// segReader is a tiny cursor over the whole file buffer used only by the
// marker walker (distinct from bitio.MSBReader, which only ever reads
// entropy-coded scan data).
type segReader struct {
	buf []byte
	pos int
}

func (r *segReader) u8() (byte, bool) {
	if r.pos >= len(r.buf) {
		return 0, false
	}
	b := r.buf[r.pos]
	r.pos++
	return b, true
}

func (r *segReader) u16() (int, bool) {
	if r.pos+2 > len(r.buf) {
		return 0, false
	}
	v := int(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v, true
}

// ScanInfo is the per-scan descriptor read from an SOS segment.
type ScanInfo struct {
	Components []int // indices into FrameState.Components, in scan order
	Ss, Se     int
	Ah, Al     int
}

// ParseFrame walks the whole buffer starting right after SOI, populating
// fs as segments are encountered, and invokes onScan for every SOS
// segment with the entropy-coded data slice that follows it (up to, but
// not including, the terminating marker). onScan returns the byte offset
// where entropy data actually ended (so RST markers consumed mid-scan by
// the entropy decoder are properly skipped) or an error.
func ParseFrame(buf []byte, onScan func(fs *FrameState, scan ScanInfo, data []byte, dataStart int) (consumed int, err error)) (*FrameState, error) {
	if len(buf) < 2 || buf[0] != 0xFF || buf[1] != markerSOI {
		return nil, ErrNoSOI
	}
	r := &segReader{buf: buf, pos: 2}
	fs := &FrameState{}
	seedDefaultTables(fs)

	for {
		// Skip fill bytes (0xFF padding) then read the marker.
		var b byte
		var ok bool
		for {
			b, ok = r.u8()
			if !ok {
				return fs, nil // ran off the end; caller decides if usable
			}
			if b == 0xFF {
				break
			}
		}
		var marker byte
		for {
			marker, ok = r.u8()
			if !ok {
				return fs, nil
			}
			if marker != 0xFF {
				break
			}
		}
		if marker == 0x00 {
			continue // stray stuffed byte outside a scan; ignore
		}
		if marker == markerEOI {
			return fs, nil
		}
		if marker >= markerRST0 && marker <= markerRST7 {
			continue // stray restart marker outside a scan body
		}

		length, ok := r.u16()
		if !ok {
			return fs, ErrTruncated
		}
		segStart := r.pos
		segEnd := segStart + length - 2
		if segEnd > len(buf) {
			segEnd = len(buf)
		}
		seg := buf[segStart:segEnd]

		switch marker {
		case markerDQT:
			if err := readDQT(seg, fs); err != nil {
				return fs, err
			}
		case markerDHT:
			if err := readDHT(seg, fs); err != nil {
				return fs, err
			}
		case markerDAC:
			return fs, ErrArithmeticCoding
		case markerDRI:
			if len(seg) >= 2 {
				fs.RestartInterval = int(binary.BigEndian.Uint16(seg))
			}
		case markerAPP0:
			if len(seg) >= 5 && string(seg[0:4]) == "JFIF" {
				fs.JFIFPresent = true
			}
		case markerAPP14:
			if len(seg) >= 12 && string(seg[0:5]) == "Adobe" {
				fs.AdobeTransform = int(seg[11]) + 1
			}
		case markerSOF0, markerSOF2:
			if err := readSOF(seg, fs, marker == markerSOF2); err != nil {
				return fs, err
			}
		case markerSOS:
			scan, dataStart, err := readSOS(seg, fs, segEnd)
			if err != nil {
				return fs, err
			}
			consumed, err := onScan(fs, scan, buf[dataStart:], dataStart)
			if err != nil {
				return fs, err
			}
			r.pos = dataStart + consumed
			continue
		}
		r.pos = segEnd
	}
}

func readDQT(seg []byte, fs *FrameState) error {
	pos := 0
	for pos < len(seg) {
		pq := seg[pos] >> 4
		tq := seg[pos] & 0x0F
		pos++
		// Quant table entries arrive in zig-zag order on the wire; store
		// them at natural positions so a flat blk[pos]*=table[pos]
		// dequant matches the natural-order coefficients the entropy
		// decoder produces (blk[zigzag[k]] = ...).
		var table [64]int32
		if pq == 0 {
			if pos+64 > len(seg) {
				return ErrTruncated
			}
			for i := 0; i < 64; i++ {
				table[zigzag[i]] = int32(seg[pos+i])
			}
			pos += 64
		} else {
			if pos+128 > len(seg) {
				return ErrTruncated
			}
			for i := 0; i < 64; i++ {
				table[zigzag[i]] = int32(binary.BigEndian.Uint16(seg[pos+i*2:]))
			}
			pos += 128
		}
		if tq < 4 {
			fs.QuantTables[tq] = &table
		}
	}
	return nil
}

func readDHT(seg []byte, fs *FrameState) error {
	pos := 0
	for pos < len(seg) {
		class := seg[pos] >> 4
		dest := seg[pos] & 0x0F
		pos++
		if pos+16 > len(seg) {
			return ErrTruncated
		}
		counts := make([]int, 16)
		total := 0
		for i := 0; i < 16; i++ {
			counts[i] = int(seg[pos+i])
			total += counts[i]
		}
		pos += 16
		if pos+total > len(seg) {
			return ErrTruncated
		}
		symbols := make([]uint16, total)
		for i := 0; i < total; i++ {
			symbols[i] = uint16(seg[pos+i])
		}
		pos += total

		table, err := huffman.BuildFromCounts(counts, symbols)
		if err != nil {
			return err
		}
		if dest < 4 {
			if class == 0 {
				fs.DCTables[dest] = table
			} else {
				fs.ACTables[dest] = table
			}
		}
	}
	return nil
}

func readSOF(seg []byte, fs *FrameState, progressive bool) error {
	if len(seg) < 6 {
		return ErrTruncated
	}
	precision := seg[0]
	if precision != 8 {
		return ErrBadPrecision
	}
	fs.Height = int(binary.BigEndian.Uint16(seg[1:3]))
	fs.Width = int(binary.BigEndian.Uint16(seg[3:5]))
	nc := int(seg[5])
	if nc < 1 || nc > 4 {
		return ErrBadComponentCount
	}
	if len(seg) < 6+nc*3 {
		return ErrTruncated
	}
	fs.Progressive = progressive
	fs.Components = make([]Component, nc)
	for i := 0; i < nc; i++ {
		off := 6 + i*3
		c := Component{
			ID:         int(seg[off]),
			H:          int(seg[off+1] >> 4),
			V:          int(seg[off+1] & 0x0F),
			QuantTable: int(seg[off+2]),
			OutputSlot: i,
		}
		if c.H > fs.MaxH {
			fs.MaxH = c.H
		}
		if c.V > fs.MaxV {
			fs.MaxV = c.V
		}
		fs.Components[i] = c
	}
	return nil
}

// readSOS parses the SOS header and returns the scan descriptor plus the
// byte offset where entropy-coded data begins (right after the header).
func readSOS(seg []byte, fs *FrameState, segEnd int) (ScanInfo, int, error) {
	if len(seg) < 1 {
		return ScanInfo{}, 0, ErrTruncated
	}
	ns := int(seg[0])
	if len(seg) < 1+ns*2+3 {
		return ScanInfo{}, 0, ErrTruncated
	}
	scan := ScanInfo{Components: make([]int, ns)}
	for i := 0; i < ns; i++ {
		off := 1 + i*2
		cs := int(seg[off])
		td := int(seg[off+1] >> 4)
		ta := int(seg[off+1] & 0x0F)
		idx := -1
		for ci := range fs.Components {
			if fs.Components[ci].ID == cs {
				idx = ci
				break
			}
		}
		if idx < 0 {
			return ScanInfo{}, 0, errors.New("jpeg: SOS references unknown component")
		}
		fs.Components[idx].dcTable = td
		fs.Components[idx].acTable = ta
		scan.Components[i] = idx
	}
	tail := 1 + ns*2
	scan.Ss = int(seg[tail])
	scan.Se = int(seg[tail+1])
	scan.Ah = int(seg[tail+2] >> 4)
	scan.Al = int(seg[tail+2] & 0x0F)
	return scan, segEnd, nil
}
