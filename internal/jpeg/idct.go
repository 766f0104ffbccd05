package jpeg

import (
	"math"

	"github.com/raster/decode/internal/sink"
	"github.com/raster/decode/internal/surface"
)

// idctCos[x][u] holds cos((2x+1)uπ/16), the cosine basis used by
// idctBlock's inverse 8x8 DCT. idctBlock is a plain float64 direct 2-D
// sum rather than a separable or AA&N/Loeffler butterfly: clear, not the
// fastest, but unambiguously correct.
var idctCos [8][8]float64

func init() {
	for x := 0; x < 8; x++ {
		for u := 0; u < 8; u++ {
			idctCos[x][u] = cosTable(x, u)
		}
	}
}

func cosTable(x, u int) float64 {
	return math.Cos(float64(2*x+1) * float64(u) * math.Pi / 16)
}

// idctBlock computes the inverse 8x8 DCT of a natural-order 64-coefficient block
// (already dequantized) and writes 64 level-shifted, clamped samples in
// row-major order to out.
func idctBlock(blk *[64]int32, out *[64]byte) {
	alpha := func(u int) float64 {
		if u == 0 {
			return 0.70710678118654752440 // 1/sqrt(2)
		}
		return 1
	}
	var tmp [64]float64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			var sum float64
			for v := 0; v < 8; v++ {
				av := alpha(v)
				cv := idctCos[y][v]
				for u := 0; u < 8; u++ {
					c := float64(blk[v*8+u])
					if c == 0 {
						continue
					}
					sum += alpha(u) * av * c * idctCos[x][u] * cv
				}
			}
			tmp[y*8+x] = sum / 4
		}
	}
	for i := 0; i < 64; i++ {
		v := tmp[i] + 128
		out[i] = clamp8(v)
	}
}

func clamp8(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}

// dequantize multiplies every coefficient by its quant-table entry at
// the matching natural position (spec.md §3: "each entry is multiplied
// into the decoded coefficient for its zigzag position").
func dequantize(blk *[64]int32, q *[64]int32) {
	for i := 0; i < 64; i++ {
		blk[i] *= q[i]
	}
}

// ycbcrToBGR converts one Y/Cb/Cr triple to B,G,R per spec.md §4.8.
func ycbcrToBGR(y, cb, cr float32) (b, g, r float32) {
	cb -= 128
	cr -= 128
	r = y + 1.402*cr
	g = y - 0.344136*cb - 0.714136*cr
	b = y + 1.772*cb
	return clampF(b), clampF(g), clampF(r)
}

func clampF(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// buildDCTDescriptor runs C8 in full: IDCT every block, upsample each
// component's plane to the frame's full pixel resolution (nearest-
// neighbor replication via the recorded H/V stretch factors), then
// apply the color-space conversion named in spec.md §4.8, leaving
// Planes[0..2] as B,G,R floats ready for the normalizer to clamp and
// pack.
func buildDCTDescriptor(fs *FrameState, blocks [][]int32, blocksWide, blocksHigh []int, sk sink.Sink) (*surface.DCTDescriptor, error) {
	w, h := fs.Width, fs.Height
	nc := len(fs.Components)

	// Decode every block to a full-resolution per-component sample
	// plane, replicating samples per the component's H/V subsampling
	// stretch relative to MaxH/MaxV. Both plane and full are scratch
	// fully consumed within this function, requested from and returned
	// to the sink before buildDCTDescriptor's own return.
	compPlanes := make([][]byte, nc)
	defer func() {
		for _, p := range compPlanes {
			if p != nil {
				sk.FreeImageBuffer(p)
			}
		}
	}()
	for ci, comp := range fs.Components {
		bw, bh := blocksWide[ci], blocksHigh[ci]
		compW := bw * 8
		compH := bh * 8
		plane := sk.RequestImageBuffer(compW * compH)
		if plane == nil {
			return nil, sink.ErrBudgetExceeded
		}
		var blk [64]int32
		var spatial [64]byte
		q := fs.QuantTables[comp.QuantTable]
		if q == nil {
			var zero [64]int32
			q = &zero
		}
		for by := 0; by < bh; by++ {
			for bx := 0; bx < bw; bx++ {
				src := blocks[ci][(by*bw+bx)*64 : (by*bw+bx)*64+64]
				copy(blk[:], src)
				dequantize(&blk, q)
				idctBlock(&blk, &spatial)
				for yy := 0; yy < 8; yy++ {
					rowOff := (by*8+yy)*compW + bx*8
					copy(plane[rowOff:rowOff+8], spatial[yy*8:yy*8+8])
				}
			}
		}

		stretchX := fs.MaxH / comp.H
		stretchY := fs.MaxV / comp.V
		if stretchX < 1 {
			stretchX = 1
		}
		if stretchY < 1 {
			stretchY = 1
		}

		full := sk.RequestImageBuffer(w * h)
		if full == nil {
			sk.FreeImageBuffer(plane)
			return nil, sink.ErrBudgetExceeded
		}
		for y := 0; y < h; y++ {
			sy := y / stretchY
			if sy >= compH {
				sy = compH - 1
			}
			for x := 0; x < w; x++ {
				sx := x / stretchX
				if sx >= compW {
					sx = compW - 1
				}
				full[y*w+x] = plane[sy*compW+sx]
			}
		}
		sk.FreeImageBuffer(plane)
		compPlanes[ci] = full
	}

	desc := &surface.DCTDescriptor{Width: w, Height: h, Channels: nc, ColorSpace: colorSpaceOf(fs)}
	switch desc.ColorSpace {
	case surface.ColorSpaceYCbCr, surface.ColorSpaceYCCK:
		bPlane := make([]float32, w*h)
		gPlane := make([]float32, w*h)
		rPlane := make([]float32, w*h)
		for i := 0; i < w*h; i++ {
			y := float32(compPlanes[0][i])
			cb := float32(compPlanes[1][i])
			cr := float32(compPlanes[2][i])
			b, g, r := ycbcrToBGR(y, cb, cr)
			if desc.ColorSpace == surface.ColorSpaceYCCK && nc == 4 {
				k := float32(compPlanes[3][i]) / 255
				b *= k
				g *= k
				r *= k
			}
			bPlane[i] = b
			gPlane[i] = g
			rPlane[i] = r
		}
		desc.Planes[0] = bPlane
		desc.Planes[1] = gPlane
		desc.Planes[2] = rPlane
	case surface.ColorSpaceCMYK:
		bPlane := make([]float32, w*h)
		gPlane := make([]float32, w*h)
		rPlane := make([]float32, w*h)
		for i := 0; i < w*h; i++ {
			c := float32(compPlanes[0][i])
			m := float32(compPlanes[1][i])
			y := float32(compPlanes[2][i])
			k := float32(compPlanes[3][i])
			rPlane[i] = (1 - c*k/65025) * 255
			gPlane[i] = (1 - m*k/65025) * 255
			bPlane[i] = (1 - y*k/65025) * 255
		}
		desc.Planes[0] = bPlane
		desc.Planes[1] = gPlane
		desc.Planes[2] = rPlane
	default:
		// Unknown/sRGB: component order is assumed already R,G,B (or a
		// single gray channel replicated across B,G,R).
		bPlane := make([]float32, w*h)
		gPlane := make([]float32, w*h)
		rPlane := make([]float32, w*h)
		for i := 0; i < w*h; i++ {
			if nc == 1 {
				v := float32(compPlanes[0][i])
				bPlane[i], gPlane[i], rPlane[i] = v, v, v
			} else {
				rPlane[i] = float32(compPlanes[0][i])
				gPlane[i] = float32(compPlanes[1][i])
				bPlane[i] = float32(compPlanes[2][i])
			}
		}
		desc.Planes[0] = bPlane
		desc.Planes[1] = gPlane
		desc.Planes[2] = rPlane
		if nc == 4 {
			aPlane := make([]float32, w*h)
			for i := 0; i < w*h; i++ {
				aPlane[i] = float32(compPlanes[3][i])
			}
			desc.Planes[3] = aPlane
		}
	}
	return desc, nil
}

// colorSpaceOf decides the color-space tag per spec.md §4.6/§4.8: the
// Adobe APP14 transform tag takes precedence when present, otherwise the
// component count decides (3 components defaults to YCbCr, 1 to gray,
// 4 to CMYK) unless Adobe explicitly tagged "known RGB/CMYK" (tag 2).
func colorSpaceOf(fs *FrameState) surface.ColorSpace {
	nc := len(fs.Components)
	switch fs.AdobeTransform {
	case 1:
		if nc == 4 {
			return surface.ColorSpaceYCCK
		}
		return surface.ColorSpaceYCbCr
	case 2:
		if nc == 4 {
			return surface.ColorSpaceCMYK
		}
		return surface.ColorSpaceSRGB
	}
	switch nc {
	case 3:
		return surface.ColorSpaceYCbCr
	case 4:
		return surface.ColorSpaceCMYK
	default:
		return surface.ColorSpaceSRGB
	}
}
