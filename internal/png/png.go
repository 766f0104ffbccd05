package png

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/raster/decode/internal/bitio"
	"github.com/raster/decode/internal/deflate"
	"github.com/raster/decode/internal/sink"
	"github.com/raster/decode/internal/surface"
)

// Signature is the 8-byte PNG magic, per spec.md §6.
var Signature = [8]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

var (
	ErrBadSignature  = errors.New("png: bad signature")
	ErrNoIHDR        = errors.New("png: first chunk is not IHDR")
	ErrBadIHDR       = errors.New("png: invalid IHDR combination")
	ErrNoIDAT        = errors.New("png: no IDAT chunk found")
	ErrNoPLTE        = errors.New("png: color type 3 requires PLTE")
	errUnknownFilter = errors.New("png: unknown filter type")
	errTruncatedRow  = errors.New("png: truncated scanline data")
	ErrChecksum      = errors.New("png: chunk CRC-32 mismatch")
)

// chunkCRC computes the CRC-32 (IEEE, same polynomial zlib/PNG use) over
// a chunk's type+data bytes, per spec.md §6's chunk layout.
func chunkCRC(typeAndData []byte) uint32 {
	return crc32.ChecksumIEEE(typeAndData)
}

// chunkType codes recognized by the walker; everything else is skipped.
const (
	ctIHDR = "IHDR"
	ctPLTE = "PLTE"
	ctIDAT = "IDAT"
	ctIEND = "IEND"
	ctTRNS = "tRNS"
	ctICCP = "iCCP" // recognized by name for skip bookkeeping only, never applied
)

// ColorType enumerates the five PNG color types spec.md §4.5 accepts.
type ColorType int

const (
	ColorGray       ColorType = 0
	ColorTrueColor  ColorType = 2
	ColorPalette    ColorType = 3
	ColorGrayAlpha  ColorType = 4
	ColorTrueAlpha  ColorType = 6
)

// Header is the parsed IHDR payload.
type Header struct {
	Width, Height       int
	BitDepth, ColorType int
	Interlace           int
}

// idatChain implements bitio.SegmentSource by walking the chunk stream
// forward from the first IDAT, collecting every consecutive IDAT into
// one logical compressed stream and stopping at the first non-IDAT
// chunk, per spec.md §4.1/§4.5.
type idatChain struct {
	buf []byte
	pos int
}

func (c *idatChain) NextSegment() ([]byte, bool) {
	for c.pos+8 <= len(c.buf) {
		length := binary.BigEndian.Uint32(c.buf[c.pos:])
		typ := string(c.buf[c.pos+4 : c.pos+8])
		dataStart := c.pos + 8
		dataEnd := dataStart + int(length)
		if dataEnd+4 > len(c.buf) || dataEnd < dataStart {
			return nil, false
		}
		if typ != ctIDAT {
			return nil, false
		}
		data := c.buf[dataStart:dataEnd]
		c.pos = dataEnd + 4 // skip CRC, not verified
		return data, true
	}
	return nil, false
}

// Decode parses a complete PNG buffer into a PixelSource descriptor plus
// the decompressed, filter-reversed pixel plane it points into. Chunk
// CRC-32 values are not compared; use DecodeChecked to enforce them. The
// zlib stream's Adler-32 trailer is never read or verified.
func Decode(buf []byte, sk sink.Sink) (*surface.PixelSource, error) {
	return decode(buf, false, sk)
}

// DecodeChecked is Decode with per-chunk CRC-32 verification enabled, for
// DecodeOptions.VerifyChecksums callers. Adler-32 is not verified.
func DecodeChecked(buf []byte, sk sink.Sink) (*surface.PixelSource, error) {
	return decode(buf, true, sk)
}

func decode(buf []byte, verify bool, sk sink.Sink) (*surface.PixelSource, error) {
	if len(buf) < 8 || [8]byte(buf[:8]) != Signature {
		return nil, ErrBadSignature
	}
	pos := 8

	if pos+8 > len(buf) {
		return nil, ErrNoIHDR
	}
	length := binary.BigEndian.Uint32(buf[pos:])
	typ := string(buf[pos+4 : pos+8])
	if typ != ctIHDR || length != 13 {
		return nil, ErrNoIHDR
	}
	ihdrData := buf[pos+8 : pos+8+13]
	pos += 8 + 13 + 4 // data + CRC

	hdr := Header{
		Width:     int(binary.BigEndian.Uint32(ihdrData[0:4])),
		Height:    int(binary.BigEndian.Uint32(ihdrData[4:8])),
		BitDepth:  int(ihdrData[8]),
		ColorType: int(ihdrData[9]),
		Interlace: int(ihdrData[12]),
	}
	compression := int(ihdrData[10])
	filterMethod := int(ihdrData[11])
	if err := validateIHDR(hdr, compression, filterMethod); err != nil {
		return nil, err
	}

	var palette []byte // raw RGB triples
	var trns []byte
	firstIDAT := -1

	for pos+8 <= len(buf) {
		length = binary.BigEndian.Uint32(buf[pos:])
		typ = string(buf[pos+4 : pos+8])
		dataStart := pos + 8
		dataEnd := dataStart + int(length)
		if dataEnd < dataStart || dataEnd+4 > len(buf) {
			break // truncated trailing chunk: stop, use what we have
		}
		data := buf[dataStart:dataEnd]
		if verify {
			wantCRC := binary.BigEndian.Uint32(buf[dataEnd:])
			if gotCRC := chunkCRC(buf[dataStart-4:dataEnd]); gotCRC != wantCRC {
				return nil, ErrChecksum
			}
		}
		switch typ {
		case ctPLTE:
			palette = data
		case ctTRNS:
			trns = data
		case ctIDAT:
			if firstIDAT < 0 {
				firstIDAT = pos
			}
		case ctIEND:
			pos = dataEnd + 4
			goto walked
		}
		pos = dataEnd + 4
	}
walked:

	if hdr.ColorType == int(ColorPalette) && palette == nil {
		return nil, ErrNoPLTE
	}
	if firstIDAT < 0 {
		return nil, ErrNoIDAT
	}

	channels := channelsForColorType(hdr.ColorType)
	sampleBits := hdr.BitDepth * channels
	rawStride := (hdr.Width*sampleBits + 7) / 8

	var rawPlaneSize int
	if hdr.Interlace == 1 {
		// Upper bound: sum of (1+stride_i)*height_i across the 7 passes,
		// computed exactly the same way ReverseInterlaced walks passes.
		rawPlaneSize = interlacedInflateBound(hdr.Width, hdr.Height, sampleBits)
	} else {
		rawPlaneSize = (1 + rawStride) * hdr.Height
	}

	chain := &idatChain{buf: buf, pos: firstIDAT}
	first, ok := chain.NextSegment()
	if !ok {
		return nil, ErrNoIDAT
	}
	r := bitio.NewLSBReader(first, chain)
	deflate.SkipZlibHeader(r)

	inflated := sk.RequestImageBuffer(rawPlaneSize)
	if inflated == nil {
		return nil, sink.ErrBudgetExceeded
	}
	defer sk.FreeImageBuffer(inflated)

	n, err := deflate.Inflate(r, inflated)
	if err != nil && err != deflate.ErrOutputOverflow && n == 0 {
		return nil, err
	}
	if n < len(inflated) {
		inflated = inflated[:n]
	}

	var plane []byte
	if hdr.Interlace == 1 {
		plane, err = ReverseInterlaced(inflated, hdr.Width, hdr.Height, hdr.BitDepth, channels, sk)
	} else {
		bpp := (sampleBits + 7) / 8
		if bpp < 1 {
			bpp = 1
		}
		plane, err = ReverseNonInterlaced(inflated, hdr.Height, rawStride, bpp, sk)
	}
	if err != nil && len(plane) == 0 {
		return nil, err
	}

	src := &surface.PixelSource{
		Width:        hdr.Width,
		Height:       hdr.Height,
		BitsPerPixel: sampleBits,
		RowAlign:     1,
		BigEndian:    hdr.BitDepth == 16,
		Pixels:       plane,
		Scratch:      [][]byte{plane},
	}

	if err := buildChannelLayout(src, hdr, palette, trns, sk); err != nil {
		sk.FreeImageBuffer(plane)
		return nil, err
	}
	return src, nil
}

// interlacedInflateBound computes the exact inflated byte count for an
// Adam7 image: sum over the 7 passes of (1 + passStride) * passHeight.
func interlacedInflateBound(width, height, sampleBits int) int {
	total := 0
	for _, pass := range adam7Passes {
		pw, ph := passDimensions(pass, width, height)
		if pw == 0 || ph == 0 {
			continue
		}
		passStride := (pw*sampleBits + 7) / 8
		total += (1 + passStride) * ph
	}
	return total
}

func validateIHDR(hdr Header, compression, filterMethod int) error {
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return ErrBadIHDR
	}
	if compression != 0 || filterMethod != 0 {
		return ErrBadIHDR
	}
	if hdr.Interlace != 0 && hdr.Interlace != 1 {
		return ErrBadIHDR
	}
	validDepths := map[int]bool{1: true, 2: true, 4: true, 8: true, 16: true}
	if !validDepths[hdr.BitDepth] {
		return ErrBadIHDR
	}
	switch ColorType(hdr.ColorType) {
	case ColorGray:
		// all depths valid
	case ColorTrueColor, ColorGrayAlpha, ColorTrueAlpha:
		if hdr.BitDepth < 8 {
			return ErrBadIHDR
		}
	case ColorPalette:
		if hdr.BitDepth == 16 {
			return ErrBadIHDR
		}
	default:
		return ErrBadIHDR
	}
	return nil
}

func channelsForColorType(ct int) int {
	switch ColorType(ct) {
	case ColorGray:
		return 1
	case ColorTrueColor:
		return 3
	case ColorPalette:
		return 1
	case ColorGrayAlpha:
		return 2
	case ColorTrueAlpha:
		return 4
	}
	return 1
}

// buildChannelLayout derives the four channel masks per the table in
// spec.md §4.5, or sets up the palette path for color type 3.
func buildChannelLayout(src *surface.PixelSource, hdr Header, palette, trns []byte, sk sink.Sink) error {
	bd := uint(hdr.BitDepth)
	full := uint64(1)<<bd - 1

	switch ColorType(hdr.ColorType) {
	case ColorGray:
		src.RMask, src.GMask, src.BMask = full, full, full
		if len(trns) >= 2 {
			key := uint64(binary.BigEndian.Uint16(trns[0:2]))
			if hdr.BitDepth < 16 {
				key &= full
			}
			src.HasKey = true
			src.TransparentKey = key
		}
	case ColorTrueColor:
		src.RMask = full
		src.GMask = full << bd
		src.BMask = full << (2 * bd)
		if len(trns) >= 6 {
			r := uint64(binary.BigEndian.Uint16(trns[0:2]))
			g := uint64(binary.BigEndian.Uint16(trns[2:4]))
			b := uint64(binary.BigEndian.Uint16(trns[4:6]))
			if hdr.BitDepth < 16 {
				r &= full
				g &= full
				b &= full
			}
			src.HasKey = true
			src.TransparentKey = r | (g << bd) | (b << (2 * bd))
		}
	case ColorGrayAlpha:
		src.RMask, src.GMask, src.BMask = full, full, full
		src.AMask = full << bd
	case ColorTrueAlpha:
		src.RMask = full
		src.GMask = full << bd
		src.BMask = full << (2 * bd)
		src.AMask = full << (3 * bd)
	case ColorPalette:
		entries := len(palette) / 3
		pal := &surface.Palette{
			Count:        entries,
			BitsPerEntry: 32,
			RMask:        0x0000FF,
			GMask:        0x00FF00,
			BMask:        0xFF0000,
			AMask:        0xFF000000,
		}
		data := sk.RequestImageBuffer(entries * 4)
		if data == nil {
			return sink.ErrBudgetExceeded
		}
		for i := 0; i < entries; i++ {
			r, g, b := palette[i*3], palette[i*3+1], palette[i*3+2]
			a := byte(255)
			if i < len(trns) {
				a = trns[i]
			}
			data[i*4] = r
			data[i*4+1] = g
			data[i*4+2] = b
			data[i*4+3] = a
		}
		pal.Data = data
		src.Palette = pal
		src.Scratch = append(src.Scratch, data)
		// The index itself has no channel layout of its own; the
		// normalizer dereferences the palette directly.
		src.RMask = full
	}
	return nil
}
