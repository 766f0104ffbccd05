package jpeg

import (
	"testing"

	"github.com/raster/decode/internal/bitio"
)

// TestReceive checks the JPEG "extend" sign rule from spec.md §4.7: an
// n-bit magnitude below 2^(n-1) is actually negative, mirrored into the
// lower half of the symmetric range.
func TestReceive(t *testing.T) {
	cases := []struct {
		n    int
		bits uint32
		want int32
	}{
		{0, 0, 0},
		{1, 0, -1},
		{1, 1, 1},
		{3, 0, -7},
		{3, 3, -4},
		{3, 4, 4},
		{3, 7, 7},
	}
	for _, c := range cases {
		buf := []byte{byte(c.bits << uint(8-c.n))}
		r := bitio.NewMSBReader(buf, 0)
		if got := receive(r, c.n); got != c.want {
			t.Errorf("receive(n=%d, bits=%d) = %d, want %d", c.n, c.bits, got, c.want)
		}
	}
}

// TestSelectDecoder matches spec.md §4.7's scan-to-decoder dispatch
// table.
func TestSelectDecoder(t *testing.T) {
	cases := []struct {
		name string
		fs   *FrameState
		scan ScanInfo
		want blockDecoder
	}{
		{"sequential always whole", &FrameState{Progressive: false}, ScanInfo{Ss: 4, Ah: 1}, decodeWhole},
		{"progressive DC first", &FrameState{Progressive: true}, ScanInfo{Ss: 0, Ah: 0}, decodeDCBase},
		{"progressive DC refine", &FrameState{Progressive: true}, ScanInfo{Ss: 0, Ah: 1}, decodeDCRefine},
		{"progressive AC first", &FrameState{Progressive: true}, ScanInfo{Ss: 1, Ah: 0}, decodeACBase},
		{"progressive AC refine", &FrameState{Progressive: true}, ScanInfo{Ss: 1, Ah: 1}, decodeACRefine},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := selectDecoder(c.fs, c.scan); got != c.want {
				t.Errorf("selectDecoder() = %v, want %v", got, c.want)
			}
		})
	}
}

// TestDecodeBlockACRefine_EOBRunOnlyCorrects matches spec.md §8's
// progressive-AC invariant: once an EOB run is active, refinement only
// applies correction bits to already-nonzero coefficients and never
// writes a coefficient past the declared selection end (Se).
func TestDecodeBlockACRefine_EOBRunOnlyCorrects(t *testing.T) {
	var blk [64]int32
	blk[zigzag[3]] = 4 // one pre-existing nonzero AC coefficient

	// All-ones bit source: every correction bit reads as 1, so the
	// existing coefficient should only grow by +p1 and nothing beyond Se
	// should ever be touched. Each 0xFF is stuffed with 0x00 so the
	// reader yields it as data rather than stopping at a marker.
	buf := []byte{0xFF, 0x00, 0xFF, 0x00}
	r := bitio.NewMSBReader(buf, 0)
	eobRun := 1
	if err := decodeBlockACRefine(r, nil, &blk, 1, 10, 0, &eobRun); err != nil {
		t.Fatalf("decodeBlockACRefine: %v", err)
	}
	if blk[zigzag[3]] != 5 {
		t.Errorf("blk[zigzag[3]] = %d, want 5 (corrected by +1)", blk[zigzag[3]])
	}
	for k := 11; k < 64; k++ {
		if blk[zigzag[k]] != 0 {
			t.Errorf("blk[zigzag[%d]] = %d, want 0 (beyond Se=10)", k, blk[zigzag[k]])
		}
	}
	if eobRun != 0 {
		t.Errorf("eobRun = %d, want 0 (decremented after the run completes)", eobRun)
	}
}
