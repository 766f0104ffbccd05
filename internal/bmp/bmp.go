// Package bmp implements the Windows bitmap decoder (C9): header-family
// dispatch across BITMAPCOREHEADER/OS2/BITMAPINFOHEADER V1-V5, channel
// mask extraction, and the RLE4/RLE8 run-length state machines, per
// spec.md §4.9.
//
// Shaped after other_examples/sergeymakinen-go-bmp and the x/image/bmp
// fork in other_examples/esimov-caire (both derived from the Go project's
// own bmp reader): a flat decoder struct walking the file header then
// dispatching on header size, generalized here to cover RLE and
// BITFIELDS/ALPHABITFIELDS which those minimal readers skip.
package bmp

import (
	"encoding/binary"
	"errors"

	"github.com/raster/decode/internal/sink"
	"github.com/raster/decode/internal/surface"
)

var (
	ErrBadMagic        = errors.New("bmp: missing 'BM' signature")
	ErrUnsupportedHdr  = errors.New("bmp: unsupported header family (OS/2)")
	ErrBadBitsPerPixel = errors.New("bmp: unsupported bits-per-pixel")
	ErrPaletteOverrun  = errors.New("bmp: palette overruns buffer")
	ErrNoAlphaMask     = errors.New("bmp: ALPHABITFIELDS without an alpha mask")
	ErrEmbedded        = errors.New("bmp: embedded JPEG/PNG payload")
)

const (
	compRGB             = 0
	compRLE8            = 1
	compRLE4            = 2
	compBITFIELDS       = 3
	compJPEG            = 4
	compPNG             = 5
	compALPHABITFIELDS  = 6
)

// Result is what Decode returns: either a normal pixel source, or (when
// Compression is JPEG/PNG) the raw embedded payload for the caller to
// recursively redispatch through C11, per SPEC_FULL.md §5.
type Result struct {
	Source   *surface.PixelSource
	Embedded []byte // non-nil when Compression indicated JPEG/PNG
}

// Decode parses a BMP file buffer (file header + info header + optional
// masks/palette + pixel data).
func Decode(buf []byte, sk sink.Sink) (*Result, error) {
	if len(buf) < 14 || buf[0] != 'B' || buf[1] != 'M' {
		return nil, ErrBadMagic
	}
	pixelOffset := int(binary.LittleEndian.Uint32(buf[10:14]))

	if len(buf) < 18 {
		return nil, ErrBadMagic
	}
	headerSize := int(binary.LittleEndian.Uint32(buf[14:18]))

	switch headerSize {
	case 12:
		return decodeCoreHeader(buf, pixelOffset, sk)
	case 16, 64:
		return nil, ErrUnsupportedHdr
	default:
		return decodeInfoHeader(buf, pixelOffset, headerSize, sk)
	}
}

// decodeCoreHeader handles the ancient BITMAPCOREHEADER (12-byte) family,
// limited to uncompressed 1/4/8/24-bit RGB per spec.md §4.9.
func decodeCoreHeader(buf []byte, pixelOffset int, sk sink.Sink) (*Result, error) {
	h := buf[14 : 14+12]
	width := int(binary.LittleEndian.Uint16(h[4:6]))
	height := int(binary.LittleEndian.Uint16(h[6:8]))
	bpp := int(binary.LittleEndian.Uint16(h[10:12]))

	if bpp != 1 && bpp != 4 && bpp != 8 && bpp != 24 {
		return nil, ErrBadBitsPerPixel
	}

	src := &surface.PixelSource{
		Width:        width,
		Height:       height,
		BitsPerPixel: bpp,
		RowAlign:     4,
		FlippedY:     true, // BMP core-header rows are always bottom-up
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	if bpp == 24 {
		src.RMask, src.GMask, src.BMask = 0xFF0000, 0x00FF00, 0x0000FF
	} else {
		palStart := 14 + 12
		entries := 1 << uint(bpp)
		palBytes := entries * 3
		if palStart+palBytes > len(buf) {
			return nil, ErrPaletteOverrun
		}
		pal := &surface.Palette{Count: entries, BitsPerEntry: 32, RMask: 0x0000FF, GMask: 0x00FF00, BMask: 0xFF0000}
		data := sk.RequestImageBuffer(entries * 4)
		if data == nil {
			return nil, sink.ErrBudgetExceeded
		}
		for i := 0; i < entries; i++ {
			off := palStart + i*3
			data[i*4] = buf[off+2]
			data[i*4+1] = buf[off+1]
			data[i*4+2] = buf[off]
			data[i*4+3] = 255
		}
		pal.Data = data
		src.Palette = pal
		src.Scratch = append(src.Scratch, data)
	}

	stride := src.RowStride()
	need := pixelOffset + stride*height
	if need > len(buf) {
		need = len(buf)
	}
	src.Pixels = buf[pixelOffset:need]
	return &Result{Source: src}, nil
}

// decodeInfoHeader handles the BITMAPINFOHEADER family (V1..V5): any
// header size not matched above is treated as this family per spec.md
// §4.9, dispatching further on compression and header size for the
// optional BITFIELDS/ALPHABITFIELDS masks.
func decodeInfoHeader(buf []byte, pixelOffset, headerSize int, sk sink.Sink) (*Result, error) {
	var scratch [][]byte
	ok := false
	defer func() {
		if !ok {
			for _, b := range scratch {
				sk.FreeImageBuffer(b)
			}
		}
	}()
	base := 14
	if base+headerSize > len(buf) {
		return nil, errors.New("bmp: info header truncated")
	}
	h := buf[base : base+headerSize]

	width := int(int32(binary.LittleEndian.Uint32(h[4:8])))
	rawHeight := int32(binary.LittleEndian.Uint32(h[8:12]))
	bpp := int(binary.LittleEndian.Uint16(h[14:16]))
	compression := int(binary.LittleEndian.Uint32(h[16:20]))

	flippedY := rawHeight > 0
	height := int(rawHeight)
	if height < 0 {
		height = -height
	}

	src := &surface.PixelSource{
		Width:        width,
		Height:       height,
		BitsPerPixel: bpp,
		RowAlign:     4,
		FlippedY:     flippedY,
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	if compression == compJPEG || compression == compPNG {
		end := len(buf)
		if pixelOffset > end {
			pixelOffset = end
		}
		return &Result{Embedded: buf[pixelOffset:end]}, nil
	}

	maskStart := base + headerSize
	switch compression {
	case compBITFIELDS:
		if maskStart+12 > len(buf) {
			return nil, errors.New("bmp: truncated BITFIELDS masks")
		}
		src.RMask = uint64(binary.LittleEndian.Uint32(buf[maskStart:]))
		src.GMask = uint64(binary.LittleEndian.Uint32(buf[maskStart+4:]))
		src.BMask = uint64(binary.LittleEndian.Uint32(buf[maskStart+8:]))
		maskStart += 12
	case compALPHABITFIELDS:
		if maskStart+16 > len(buf) {
			return nil, errors.New("bmp: truncated ALPHABITFIELDS masks")
		}
		src.RMask = uint64(binary.LittleEndian.Uint32(buf[maskStart:]))
		src.GMask = uint64(binary.LittleEndian.Uint32(buf[maskStart+4:]))
		src.BMask = uint64(binary.LittleEndian.Uint32(buf[maskStart+8:]))
		src.AMask = uint64(binary.LittleEndian.Uint32(buf[maskStart+12:]))
		if src.AMask == 0 {
			return nil, ErrNoAlphaMask
		}
		maskStart += 16
	default:
		applyDefaultMasks(src, bpp)
	}
	// V3+ BITFIELDS headers (>=56 bytes) may also carry an explicit alpha
	// mask inline in the info header itself.
	if compression == compBITFIELDS && headerSize >= 56 {
		src.AMask = uint64(binary.LittleEndian.Uint32(h[52:56]))
	}

	colorsUsed := 0
	if headerSize >= 36 {
		colorsUsed = int(binary.LittleEndian.Uint32(h[32:36]))
	}

	var palette *surface.Palette
	if bpp <= 8 {
		entries := colorsUsed
		if entries == 0 {
			entries = 1 << uint(bpp)
		}
		palStart := maskStart
		if palStart+entries*4 > len(buf) {
			return nil, ErrPaletteOverrun
		}
		pal := &surface.Palette{Count: entries, BitsPerEntry: 32, RMask: 0xFF0000, GMask: 0x00FF00, BMask: 0x0000FF, AMask: 0}
		data := sk.RequestImageBuffer(entries * 4)
		if data == nil {
			return nil, sink.ErrBudgetExceeded
		}
		scratch = append(scratch, data)
		copy(data, buf[palStart:palStart+entries*4])
		// BMP palette entries are stored BGRx; normalize to opaque BGRA.
		for i := 0; i < entries; i++ {
			data[i*4+3] = 255
		}
		pal.Data = data
		palette = pal
	}

	if compression == compRLE4 || compression == compRLE8 {
		dst := sk.RequestImageBuffer(width * height * 4)
		if dst == nil {
			return nil, sink.ErrBudgetExceeded
		}
		scratch = append(scratch, dst)
		end := len(buf)
		decodeRLE(buf[pixelOffset:end], dst, width, height, compression == compRLE4, palette)
		ok = true
		return &Result{Source: &surface.PixelSource{
			Width: width, Height: height, BitsPerPixel: 32, RowAlign: 1,
			FlippedY: flippedY,
			RMask:    0x00FF0000, GMask: 0x0000FF00, BMask: 0x000000FF, AMask: 0xFF000000,
			BigEndian: false,
			Pixels:    dst,
			Scratch:   scratch,
		}}, nil
	}

	if bpp != 1 && bpp != 2 && bpp != 4 && bpp != 8 && bpp != 16 && bpp != 24 && bpp != 32 && bpp != 0 {
		return nil, ErrBadBitsPerPixel
	}
	src.Palette = palette
	src.Scratch = scratch
	ok = true

	stride := src.RowStride()
	need := pixelOffset + stride*height
	if need > len(buf) {
		need = len(buf)
	}
	if pixelOffset > len(buf) {
		pixelOffset = len(buf)
	}
	src.Pixels = buf[pixelOffset:need]
	return &Result{Source: src}, nil
}

// applyDefaultMasks fills in the standard channel triples for RGB
// compression at 16/24/32 bpp, per spec.md §4.9.
func applyDefaultMasks(src *surface.PixelSource, bpp int) {
	switch bpp {
	case 16:
		src.RMask = 0x7C00
		src.GMask = 0x03E0
		src.BMask = 0x001F
	case 24, 32:
		src.RMask = 0xFF0000
		src.GMask = 0x00FF00
		src.BMask = 0x0000FF
	}
}

// decodeRLE runs the RLE4/RLE8 state machine from spec.md §4.9, emitting
// palette-dereferenced BGRA8 pixels (B,G,R,A byte order so the caller's
// trivial masks above line up) directly into dst, which must already be
// zero-initialized and sized width*height*4.
func decodeRLE(data []byte, dst []byte, width, height int, rle4 bool, pal *surface.Palette) {
	x, y := 0, 0
	pos := 0

	putPixel := func(idx int) {
		if x >= width || y >= height {
			return
		}
		var b, g, r, a byte
		if pal != nil && idx < pal.Count {
			off := idx * 4
			b, g, r, a = pal.Data[off], pal.Data[off+1], pal.Data[off+2], pal.Data[off+3]
		} else {
			a = 255
		}
		off := (y*width + x) * 4
		dst[off] = b
		dst[off+1] = g
		dst[off+2] = r
		dst[off+3] = a
		x++
	}

	for pos+1 < len(data) {
		count := data[pos]
		ctrl := data[pos+1]
		pos += 2

		if count == 0 {
			switch ctrl {
			case 0: // end-of-line
				x = 0
				y++
				continue
			case 1: // end-of-bitmap
				return
			case 2: // delta
				if pos+1 >= len(data) {
					return
				}
				dx := int(data[pos])
				dy := int(data[pos+1])
				pos += 2
				x += dx
				y += dy
				continue
			default: // absolute run of ctrl pixels
				n := int(ctrl)
				if rle4 {
					nbytes := (n + 1) / 2
					if pos+nbytes > len(data) {
						return
					}
					for i := 0; i < n; i++ {
						b := data[pos+i/2]
						var idx int
						if i%2 == 0 {
							idx = int(b >> 4)
						} else {
							idx = int(b & 0x0F)
						}
						putPixel(idx)
					}
					pos += nbytes
					if nbytes%2 != 0 {
						pos++ // pad to 16-bit boundary
					}
				} else {
					if pos+n > len(data) {
						return
					}
					for i := 0; i < n; i++ {
						putPixel(int(data[pos+i]))
					}
					pos += n
					if n%2 != 0 {
						pos++
					}
				}
			}
			continue
		}

		// Replicated run of `count` pixels.
		n := int(count)
		if rle4 {
			hi := int(ctrl >> 4)
			lo := int(ctrl & 0x0F)
			for i := 0; i < n; i++ {
				if i%2 == 0 {
					putPixel(hi)
				} else {
					putPixel(lo)
				}
			}
		} else {
			for i := 0; i < n; i++ {
				putPixel(int(ctrl))
			}
		}
	}
}
