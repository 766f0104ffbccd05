package jpeg

import (
	"testing"

	"github.com/raster/decode/internal/sink"
	"github.com/raster/decode/internal/surface"
)

// TestIdctBlock_AllZero matches spec.md §8 scenario 6's numeric core: an
// all-zero coefficient block (DC=0, no AC) IDCTs to all-zero spatial
// samples, which level-shift to 128 everywhere.
func TestIdctBlock_AllZero(t *testing.T) {
	var blk [64]int32
	var out [64]byte
	idctBlock(&blk, &out)
	for i, v := range out {
		if v != 128 {
			t.Fatalf("out[%d] = %d, want 128", i, v)
		}
	}
}

// TestIdctBlock_DCOnly checks the DC-only term directly against the
// separable IDCT's closed form: for u=v=0, idctCos[x][0]==1 for all x, so
// the result is alpha(0)^2 * DC / 4 = DC/8, uniform across the block.
func TestIdctBlock_DCOnly(t *testing.T) {
	var blk [64]int32
	blk[0] = 800
	var out [64]byte
	idctBlock(&blk, &out)
	want := clamp8(800.0/8.0 + 128)
	for i, v := range out {
		if v != want {
			t.Fatalf("out[%d] = %d, want %d", i, v, want)
		}
	}
}

func TestClamp8(t *testing.T) {
	cases := []struct {
		in   float64
		want byte
	}{
		{-50, 0},
		{0, 0},
		{127.4, 127},
		{127.6, 128},
		{255, 255},
		{400, 255},
	}
	for _, c := range cases {
		if got := clamp8(c.in); got != c.want {
			t.Errorf("clamp8(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestDequantize(t *testing.T) {
	var blk [64]int32
	var q [64]int32
	for i := range blk {
		blk[i] = 2
		q[i] = int32(i)
	}
	dequantize(&blk, &q)
	for i := range blk {
		want := int32(2 * i)
		if blk[i] != want {
			t.Errorf("blk[%d] = %d, want %d", i, blk[i], want)
		}
	}
}

// TestYcbcrToBGR_Neutral checks that Cb=Cr=128 (no chroma) leaves B=G=R=Y,
// the all-zero-AC/DC=0 scenario's color-conversion half.
func TestYcbcrToBGR_Neutral(t *testing.T) {
	b, g, r := ycbcrToBGR(128, 128, 128)
	if b != 128 || g != 128 || r != 128 {
		t.Fatalf("ycbcrToBGR(128,128,128) = (%v,%v,%v), want (128,128,128)", b, g, r)
	}
}

func TestYcbcrToBGR_Clamped(t *testing.T) {
	// Full-saturation red: Cr pushed far past 255 would drive r out of
	// range without clamping.
	b, g, r := ycbcrToBGR(255, 128, 255)
	if r != 255 {
		t.Errorf("r = %v, want clamped to 255", r)
	}
	if b < 0 || b > 255 || g < 0 || g > 255 {
		t.Errorf("b/g out of range: b=%v g=%v", b, g)
	}
}

// TestBuildDCTDescriptor_SingleGrayBlockAllZero runs the full C8 path end
// to end for spec.md §8 scenario 6: one 8x8 Y-only (grayscale) component,
// one block, all-zero coefficients. Expected: every sample in all three
// B/G/R planes is 128.
func TestBuildDCTDescriptor_SingleGrayBlockAllZero(t *testing.T) {
	fs := &FrameState{
		Width: 8, Height: 8,
		Components: []Component{
			{ID: 1, H: 1, V: 1, QuantTable: 0},
		},
		MaxH: 1, MaxV: 1,
	}
	blocks := [][]int32{make([]int32, 64)}
	desc, err := buildDCTDescriptor(fs, blocks, []int{1}, []int{1}, sink.NewPoolSink())
	if err != nil {
		t.Fatalf("buildDCTDescriptor: %v", err)
	}

	if desc.ColorSpace != surface.ColorSpaceSRGB {
		t.Fatalf("ColorSpace = %v, want ColorSpaceSRGB for a single component", desc.ColorSpace)
	}
	if desc.Width != 8 || desc.Height != 8 {
		t.Fatalf("dims = %dx%d, want 8x8", desc.Width, desc.Height)
	}
	for ch := 0; ch < 3; ch++ {
		plane := desc.Planes[ch]
		if len(plane) != 64 {
			t.Fatalf("Planes[%d] len = %d, want 64", ch, len(plane))
		}
		for i, v := range plane {
			if v != 128 {
				t.Errorf("Planes[%d][%d] = %v, want 128", ch, i, v)
			}
		}
	}
}

// TestColorSpaceOf covers the Adobe-tag and component-count fallback
// rules from spec.md §4.6/§4.8.
func TestColorSpaceOf(t *testing.T) {
	cases := []struct {
		name  string
		nc    int
		adobe int
		want  surface.ColorSpace
	}{
		{"3-component defaults to YCbCr", 3, 0, surface.ColorSpaceYCbCr},
		{"1-component defaults to sRGB/gray", 1, 0, surface.ColorSpaceSRGB},
		{"4-component defaults to CMYK", 4, 0, surface.ColorSpaceCMYK},
		{"Adobe tag 2 + 4 components is CMYK", 4, 2, surface.ColorSpaceCMYK},
		{"Adobe tag 2 + 3 components is known sRGB", 3, 2, surface.ColorSpaceSRGB},
		{"Adobe tag 1 + 4 components is YCCK", 4, 1, surface.ColorSpaceYCCK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fs := &FrameState{Components: make([]Component, c.nc), AdobeTransform: c.adobe}
			if got := colorSpaceOf(fs); got != c.want {
				t.Errorf("colorSpaceOf() = %v, want %v", got, c.want)
			}
		})
	}
}
