package raster

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	xbmp "golang.org/x/image/bmp"

	"github.com/raster/decode/internal/sink"
)

// buildPNG assembles a minimal, uncompressed (stored-block DEFLATE) PNG
// buffer from raw chunk payloads. CRC bytes are left zero since these
// tests decode with checksum verification off (the default).
func buildPNG(t *testing.T, width, height, bitDepth, colorType int, rawPlane []byte, plte, trns []byte) []byte {
	t.Helper()
	var buf []byte
	buf = append(buf, 0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A)

	appendChunk := func(typ string, data []byte) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, typ...)
		buf = append(buf, data...)
		buf = append(buf, 0, 0, 0, 0) // CRC, unverified
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(height))
	ihdr[8] = byte(bitDepth)
	ihdr[9] = byte(colorType)
	appendChunk("IHDR", ihdr)

	if plte != nil {
		appendChunk("PLTE", plte)
	}
	if trns != nil {
		appendChunk("tRNS", trns)
	}

	idat := deflateStored(rawPlane)
	appendChunk("IDAT", idat)
	appendChunk("IEND", nil)
	return buf
}

// deflateStored wraps raw in a minimal zlib stream using a single
// uncompressed ("stored") DEFLATE block, the simplest valid encoding and
// the one this package's Inflate handles without any Huffman decoding.
func deflateStored(raw []byte) []byte {
	var out []byte
	out = append(out, 0x78, 0x01) // zlib CMF/FLG, no FDICT
	out = append(out, 0x01)       // BFINAL=1, BTYPE=00 (stored), rest padding
	n := len(raw)
	out = append(out, byte(n), byte(n>>8))
	nlen := ^uint16(n)
	out = append(out, byte(nlen), byte(nlen>>8))
	out = append(out, raw...)
	return out
}

// TestDecode_MinimalPNG matches spec.md §8 scenario 1: 2x2 RGB8.
func TestDecode_MinimalPNG(t *testing.T) {
	raw := []byte{
		0, 255, 0, 0, 0, 255, 0, // filter=None, (255,0,0),(0,255,0)
		0, 0, 0, 255, 255, 255, 255, // filter=None, (0,0,255),(255,255,255)
	}
	buf := buildPNG(t, 2, 2, 8, 2, raw, nil, nil)

	sk := sink.NewPoolSink()
	if !Decode(buf, sk) {
		t.Fatalf("decode failed: %v", sk.Errors)
	}
	want := []byte{
		0, 0, 255, 255, 0, 255, 0, 255,
		255, 0, 0, 255, 255, 255, 255, 255,
	}
	if diff := cmp.Diff(want, sk.Result.Pix); diff != "" {
		t.Errorf("Pix mismatch (-want +got):\n%s", diff)
	}
	if sk.Outstanding() != 0 {
		t.Errorf("outstanding buffers = %d, want 0", sk.Outstanding())
	}
}

// TestDecode_PalettePNGWithTRNS matches spec.md §8 scenario 3: 2x1,
// bit-depth 8, color-type 3, PLTE={(255,0,0),(0,255,0)}, tRNS={128,255}.
func TestDecode_PalettePNGWithTRNS(t *testing.T) {
	plte := []byte{255, 0, 0, 0, 255, 0}
	trns := []byte{128, 255}
	raw := []byte{0, 0, 1} // filter=None, indices 0,1
	buf := buildPNG(t, 2, 1, 8, 3, raw, plte, trns)

	sk := sink.NewPoolSink()
	if !Decode(buf, sk) {
		t.Fatalf("decode failed: %v", sk.Errors)
	}
	want := []byte{0, 0, 255, 128, 0, 255, 0, 255}
	if diff := cmp.Diff(want, sk.Result.Pix); diff != "" {
		t.Errorf("Pix mismatch (-want +got):\n%s", diff)
	}
}

// buildBMPHeader builds a BM file header + BITMAPINFOHEADER (40 bytes)
// with the given dimensions/bpp/compression, returning the header bytes
// and the pixel-data offset they declare.
func buildBMPHeader(width, height, bpp, compression int, extra []byte) []byte {
	const fileHdrSize = 14
	const infoHdrSize = 40
	pixelOffset := fileHdrSize + infoHdrSize + len(extra)

	buf := make([]byte, pixelOffset)
	buf[0], buf[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(buf[10:14], uint32(pixelOffset))
	binary.LittleEndian.PutUint32(buf[14:18], uint32(infoHdrSize))
	binary.LittleEndian.PutUint32(buf[18:22], uint32(width))
	binary.LittleEndian.PutUint32(buf[22:26], uint32(int32(height)))
	binary.LittleEndian.PutUint16(buf[26:28], 1)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(bpp))
	binary.LittleEndian.PutUint32(buf[30:34], uint32(compression))
	copy(buf[54:], extra)
	return buf
}

// TestDecode_MinimalBMP matches spec.md §8 scenario 2: 2x2, 24-bpp,
// bottom-up (positive height).
func TestDecode_MinimalBMP(t *testing.T) {
	hdr := buildBMPHeader(2, 2, 24, 0, nil)
	// Bottom-up: disk row 0 is the image's bottom row (y=1 after the
	// FlippedY un-flip); each pixel is 3 bytes in B,G,R memory order.
	// Row stride is 4-byte aligned: 2 pixels * 3 bytes = 6, padded to 8.
	pixels := []byte{
		0x00, 0xFF, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x00, // disk row 0 (image bottom): green, red
		0xFF, 0xFF, 0xFF, 0x00, 0x00, 0xFF, 0x00, 0x00, // disk row 1 (image top): white, red
	}
	buf := append(hdr, pixels...)

	sk := sink.NewPoolSink()
	if !Decode(buf, sk) {
		t.Fatalf("decode failed: %v", sk.Errors)
	}
	// Top-down output: row y=0 is disk row 1 (white, red); row y=1 is
	// disk row 0 (green, red).
	want := []byte{
		0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0xFF, 0xFF,
		0x00, 0xFF, 0x00, 0xFF, 0x00, 0x00, 0xFF, 0xFF,
	}
	if diff := cmp.Diff(want, sk.Result.Pix); diff != "" {
		t.Errorf("Pix mismatch (-want +got):\n%s", diff)
	}

	// Cross-check against an independent BMP decoder
	// (golang.org/x/image/bmp), converting its RGBA output to this
	// package's BGRA8 convention.
	oracle, err := xbmp.Decode(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("oracle decode: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			r, g, b, a := oracle.At(x, y).RGBA()
			off := sk.Result.At(x, y)
			got := []byte{sk.Result.Pix[off], sk.Result.Pix[off+1], sk.Result.Pix[off+2], sk.Result.Pix[off+3]}
			want := []byte{byte(b >> 8), byte(g >> 8), byte(r >> 8), byte(a >> 8)}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("pixel (%d,%d) vs oracle mismatch (-want +got):\n%s", x, y, diff)
			}
		}
	}
}

// TestDecode_BMPBitfields565 matches spec.md §8 scenario 4.
func TestDecode_BMPBitfields565(t *testing.T) {
	masks := make([]byte, 12)
	binary.LittleEndian.PutUint32(masks[0:4], 0xF800)
	binary.LittleEndian.PutUint32(masks[4:8], 0x07E0)
	binary.LittleEndian.PutUint32(masks[8:12], 0x001F)
	hdr := buildBMPHeader(2, 1, 16, 3, masks)
	pixels := []byte{0x00, 0xF8, 0x1F, 0x00}
	buf := append(hdr, pixels...)

	sk := sink.NewPoolSink()
	if !Decode(buf, sk) {
		t.Fatalf("decode failed: %v", sk.Errors)
	}
	want := []byte{0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0xFF}
	if diff := cmp.Diff(want, sk.Result.Pix); diff != "" {
		t.Errorf("Pix mismatch (-want +got):\n%s", diff)
	}
}

// buildMinimalJPEG assembles a baseline, single-component (grayscale)
// 8x8 JPEG with a single all-zero-coefficient block, matching spec.md
// §8 scenario 6. It relies on the decoder's JFIF Annex K default DC/AC
// luminance Huffman tables rather than carrying its own DHT, so the
// entropy payload is just the DC-diff-0 codeword ("00" at 2 bits)
// followed by the EOB codeword ("1010" at 4 bits), padded to a byte
// with 1-bits: 0b00101011 = 0x2B.
func buildMinimalJPEG() []byte {
	var buf []byte
	appendMarker := func(marker byte, payload []byte) {
		buf = append(buf, 0xFF, marker)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)+2))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, payload...)
	}
	buf = append(buf, 0xFF, 0xD8) // SOI

	jfif := []byte{'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00}
	appendMarker(0xE0, jfif) // APP0

	dqt := make([]byte, 1+64)
	dqt[0] = 0x00 // Pq=0, Tq=0
	for i := 1; i < len(dqt); i++ {
		dqt[i] = 1
	}
	appendMarker(0xDB, dqt)

	sof := []byte{8, 0, 8, 0, 8, 1, 1, 0x11, 0} // precision, height, width, nc, (id,H/V,Tq)
	appendMarker(0xC0, sof)

	sos := []byte{1, 1, 0x00, 0, 63, 0x00}
	appendMarker(0xDA, sos)

	buf = append(buf, 0x2B) // entropy-coded data: DC=0, EOB
	buf = append(buf, 0xFF, 0xD9) // EOI
	return buf
}

// TestDecode_MinimalJPEG matches spec.md §8 scenario 6: baseline JPEG,
// single 8x8 Y block, DC=0, no AC. Expected surface: 64 pixels of BGRA
// (128,128,128,255).
func TestDecode_MinimalJPEG(t *testing.T) {
	buf := buildMinimalJPEG()

	sk := sink.NewPoolSink()
	if !Decode(buf, sk) {
		t.Fatalf("decode failed: %v", sk.Errors)
	}
	if sk.Result.Width != 8 || sk.Result.Height != 8 {
		t.Fatalf("dims = %dx%d, want 8x8", sk.Result.Width, sk.Result.Height)
	}
	for i := 0; i < 8*8; i++ {
		off := i * 4
		px := sk.Result.Pix[off : off+4]
		want := []byte{128, 128, 128, 255}
		if diff := cmp.Diff(want, px); diff != "" {
			t.Errorf("pixel %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestDecode_Unrecognized(t *testing.T) {
	sk := sink.NewPoolSink()
	if Decode([]byte("not an image"), sk) {
		t.Fatal("expected decode to fail for unrecognized magic")
	}
	if len(sk.Errors) != 0 {
		t.Errorf("unrecognized format should not log, got %v", sk.Errors)
	}
	if sk.Result != nil {
		t.Errorf("Result should be nil on failure")
	}
}

// TestDecodeWithOptions_ScratchBudgetDeclined matches spec.md §7 category
// 5: a scratch budget too small for even the smallest buffer a decode
// needs must fail the whole decode as "policy", and must leave nothing
// outstanding on the underlying sink.
func TestDecodeWithOptions_ScratchBudgetDeclined(t *testing.T) {
	raw := []byte{
		0, 255, 0, 0, 0, 255, 0,
		0, 0, 0, 255, 255, 255, 255,
	}
	buf := buildPNG(t, 2, 2, 8, 2, raw, nil, nil)

	sk := sink.NewPoolSink()
	opts := DefaultOptions()
	opts.MaxScratchBytes = 1 // smaller than any real PNG scratch request
	if DecodeWithOptions(buf, opts, sk) {
		t.Fatal("expected decode to fail under an unworkably small scratch budget")
	}
	if sk.Result != nil {
		t.Errorf("Result should be nil on failure")
	}
	foundPolicy := false
	for _, d := range sk.Errors {
		if d.Category == sink.CategoryPolicy {
			foundPolicy = true
		}
	}
	if !foundPolicy {
		t.Errorf("expected a policy-category diagnostic, got %v", sk.Errors)
	}
	if sk.Outstanding() != 0 {
		t.Errorf("outstanding buffers = %d, want 0 (budget decline must not leak)", sk.Outstanding())
	}
}
