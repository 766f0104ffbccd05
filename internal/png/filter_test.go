package png

import (
	"testing"

	"github.com/raster/decode/internal/sink"
)

// TestPaeth checks Paeth against hand-computed expected bytes for a
// handful of (a,b,c) predictor-input triples covering each tie-breaking
// branch of RFC 2083's rule, rather than against a second transcription
// of the same algorithm.
func TestPaeth(t *testing.T) {
	cases := []struct {
		a, b, c, want byte
	}{
		// a==b==c: p=0, pa=pb=pc=0, first branch wins, returns a.
		{10, 10, 10, 10},
		// a=5,b=15,c=10: p=10, pa=|15-10|=5, pb=|5-10|=5, pc=|20-20|=0;
		// pc is the unique minimum, c (10) wins.
		{5, 15, 10, 10},
		// a=5,b=9,c=5: p=9, pa=|9-5|=4, pb=|5-5|=0, pc=|14-10|=4; pb is
		// the unique minimum, b (9) wins via the pb<=pc branch.
		{5, 9, 5, 9},
		// Genuine Paeth prediction, no ties: a=20,b=40,c=10 ->
		// p=a+b-c=50, pa=|40-10|=30, pb=|20-10|=10, pc=|20+40-2*10|=40;
		// pb is strictly smallest so b (40) wins.
		{20, 40, 10, 40},
		// a=10,b=10,c=40 -> p=-20, pa=|10-40|=30, pb=|10-40|=30,
		// pc=|10+10-80|=60; tie between pa/pb, a (10) wins via the first
		// branch's <= tie-break.
		{10, 10, 40, 10},
		// Saturating byte-wrap inputs still compare as plain ints per
		// Paeth's signature (a,b,c byte): a=0,b=255,c=0 -> p=255,
		// pa=|255-0|=255, pb=|0-0|=0, pc=|255-0|=255; pb smallest, b wins.
		{0, 255, 0, 255},
	}
	for _, c := range cases {
		if got := Paeth(c.a, c.b, c.c); got != c.want {
			t.Errorf("Paeth(%d,%d,%d) = %d, want %d", c.a, c.b, c.c, got, c.want)
		}
	}
}

func TestReverseNonInterlaced_SubFilter(t *testing.T) {
	// One row, 3 bytes/pixel, filter type 1 (Sub): each byte is the raw
	// value plus the byte bpp positions to its left (wrapping to 0 at the
	// row start).
	stride := 3
	bpp := 3
	raw := []byte{10, 20, 30}
	data := append([]byte{1}, raw...) // filter tag 1 = Sub, but raw==filtered here (no prior bytes)
	got, err := ReverseNonInterlaced(data, 1, stride, bpp, sink.NewPoolSink())
	if err != nil {
		t.Fatalf("ReverseNonInterlaced: %v", err)
	}
	for i, v := range raw {
		if got[i] != v {
			t.Errorf("byte %d = %d, want %d", i, got[i], v)
		}
	}
}

func TestReverseNonInterlaced_UnknownFilter(t *testing.T) {
	data := []byte{9, 0, 0, 0} // filter tag 9 is invalid
	_, err := ReverseNonInterlaced(data, 1, 3, 3, sink.NewPoolSink())
	if err == nil {
		t.Fatal("expected error for unknown filter type")
	}
}
