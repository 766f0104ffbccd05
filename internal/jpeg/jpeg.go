package jpeg

import (
	"errors"

	"github.com/raster/decode/internal/bitio"
	"github.com/raster/decode/internal/sink"
	"github.com/raster/decode/internal/surface"
)

// ErrNoTable reports a scan referencing a Huffman table slot never
// populated by a DHT segment.
var ErrNoTable = errors.New("jpeg: scan references unpopulated Huffman table")

// decodeState carries the coefficient storage across however many scans
// a progressive file spreads across (ParseFrame invokes onScan once per
// SOS, and a progressive stream revisits the same component's blocks
// repeatedly to add refinement bits).
type decodeState struct {
	fs         *FrameState
	blocks     [][]int32 // per component, flattened block-major then in-block order
	blocksWide []int
	blocksHigh []int
}

// dims sizes d's per-component block storage: for each component it
// records how many 8x8 blocks wide and high cover the frame once padded
// to a whole number of MCUs, and allocates that many coefficient blocks.
func (d *decodeState) dims(fs *FrameState) {
	mcuW := 8 * fs.MaxH
	mcuH := 8 * fs.MaxV
	mcusX := (fs.Width + mcuW - 1) / mcuW
	mcusY := (fs.Height + mcuH - 1) / mcuH

	nc := len(fs.Components)
	d.blocks = make([][]int32, nc)
	d.blocksWide = make([]int, nc)
	d.blocksHigh = make([]int, nc)
	for ci, comp := range fs.Components {
		bw := mcusX * comp.H
		bh := mcusY * comp.V
		d.blocksWide[ci] = bw
		d.blocksHigh[ci] = bh
		d.blocks[ci] = make([]int32, bw*bh*64)
	}
}

// Decode runs C6+C7+C8 over a full JPEG buffer (positioned so buf[0:2]
// is the SOI marker) and returns a DCT-backed pixel source.
func Decode(buf []byte, sk sink.Sink) (*surface.PixelSource, error) {
	var state decodeState
	first := true

	fs, err := ParseFrame(buf, func(fs *FrameState, scan ScanInfo, data []byte, dataStart int) (int, error) {
		if first {
			if len(fs.Components) == 0 {
				return 0, errors.New("jpeg: SOS before SOF")
			}
			state.fs = fs
			state.dims(fs)
			first = false
		}
		return decodeScan(fs, &state, scan, data)
	})
	if err != nil {
		return nil, err
	}
	if fs.Width == 0 || fs.Height == 0 {
		return nil, errors.New("jpeg: no frame header found")
	}

	desc, err := buildDCTDescriptor(fs, state.blocks, state.blocksWide, state.blocksHigh, sk)
	if err != nil {
		return nil, err
	}
	src := &surface.PixelSource{
		Width:  fs.Width,
		Height: fs.Height,
		DCT:    desc,
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	return src, nil
}

// decodeScan drives one SOS's entropy-coded data through the block
// decoder selected for it, in MCU order for interleaved (multi-
// component) scans or raster-block order for a single-component
// non-interleaved scan (per spec.md §4.7, matching the JPEG standard's
// distinction between the two scan shapes).
func decodeScan(fs *FrameState, state *decodeState, scan ScanInfo, data []byte) (int, error) {
	r := bitio.NewMSBReader(data, 0)
	kind := selectDecoder(fs, scan)

	for i := range fs.Components {
		fs.Components[i].dcPred = 0
		fs.Components[i].eobRun = 0
	}

	restartCounter := fs.RestartInterval
	mcuIndex := 0

	handleRestart := func() error {
		if fs.RestartInterval == 0 {
			return nil
		}
		restartCounter--
		if restartCounter > 0 {
			return nil
		}
		restartCounter = fs.RestartInterval
		pos, ok := r.SkipToRestart()
		if !ok {
			return nil // EOI or truncation; let caller stop on next read error
		}
		r.Reset(pos)
		for i := range fs.Components {
			fs.Components[i].dcPred = 0
			fs.Components[i].eobRun = 0
		}
		return nil
	}

	if len(scan.Components) > 1 {
		mcuW := fs.MaxH
		mcuH := fs.MaxV
		mcusX := (fs.Width + 8*mcuW - 1) / (8 * mcuW)
		mcusY := (fs.Height + 8*mcuH - 1) / (8 * mcuH)
		for my := 0; my < mcusY; my++ {
			for mx := 0; mx < mcusX; mx++ {
				for _, ci := range scan.Components {
					comp := &fs.Components[ci]
					bw := state.blocksWide[ci]
					for v := 0; v < comp.V; v++ {
						for h := 0; h < comp.H; h++ {
							bx := mx*comp.H + h
							by := my*comp.V + v
							if err := decodeOneBlock(fs, state, ci, bx, by, bw, r, kind, scan); err != nil {
								return r.Pos(), err
							}
						}
					}
				}
				mcuIndex++
				if err := handleRestart(); err != nil {
					return r.Pos(), err
				}
			}
		}
	} else {
		ci := scan.Components[0]
		comp := &fs.Components[ci]
		bw := state.blocksWide[ci]
		bh := state.blocksHigh[ci]
		// Non-interleaved scans walk only the blocks that actually
		// belong to this component's real (non-padded) extent.
		compW := (fs.Width*comp.H + fs.MaxH - 1) / fs.MaxH
		compH := (fs.Height*comp.V + fs.MaxV - 1) / fs.MaxV
		realBW := (compW + 7) / 8
		realBH := (compH + 7) / 8
		if realBW > bw {
			realBW = bw
		}
		if realBH > bh {
			realBH = bh
		}
		for by := 0; by < realBH; by++ {
			for bx := 0; bx < realBW; bx++ {
				if err := decodeOneBlock(fs, state, ci, bx, by, bw, r, kind, scan); err != nil {
					return r.Pos(), err
				}
				mcuIndex++
				if err := handleRestart(); err != nil {
					return r.Pos(), err
				}
			}
		}
	}

	return r.Pos(), nil
}

func decodeOneBlock(fs *FrameState, state *decodeState, ci, bx, by, bw int, r *bitio.MSBReader, kind blockDecoder, scan ScanInfo) error {
	comp := &fs.Components[ci]
	off := (by*bw + bx) * 64
	blk := (*[64]int32)(state.blocks[ci][off : off+64])

	switch kind {
	case decodeWhole:
		dc := fs.DCTables[comp.dcTable]
		ac := fs.ACTables[comp.acTable]
		if dc == nil || ac == nil {
			return ErrNoTable
		}
		return decodeBlockWhole(r, dc, ac, blk, &comp.dcPred)
	case decodeDCBase:
		dc := fs.DCTables[comp.dcTable]
		if dc == nil {
			return ErrNoTable
		}
		return decodeBlockDCBase(r, dc, blk, &comp.dcPred, scan.Al)
	case decodeDCRefine:
		decodeBlockDCRefine(r, blk, scan.Al)
		return nil
	case decodeACBase:
		ac := fs.ACTables[comp.acTable]
		if ac == nil {
			return ErrNoTable
		}
		return decodeBlockACBase(r, ac, blk, scan.Ss, scan.Se, scan.Al, &comp.eobRun)
	case decodeACRefine:
		ac := fs.ACTables[comp.acTable]
		if ac == nil {
			return ErrNoTable
		}
		return decodeBlockACRefine(r, ac, blk, scan.Ss, scan.Se, scan.Al, &comp.eobRun)
	}
	return nil
}
