package jpeg

import (
	"github.com/raster/decode/internal/bitio"
	"github.com/raster/decode/internal/huffman"
)

// msbBits adapts bitio.MSBReader to huffman.BitSource, the same shim
// pattern deflate uses for its LSB reader.
type msbBits struct{ r *bitio.MSBReader }

func (b msbBits) ReadBits(n int) uint32 { return b.r.ReadBits(n) }

// receive reads n magnitude bits and extends them per the JPEG
// "extend" rule: values in [0, 2^(n-1)) are negative, mirrored into
// [-(2^n-1), -2^(n-1)].
func receive(r *bitio.MSBReader, n int) int32 {
	if n == 0 {
		return 0
	}
	v := int32(r.ReadBits(n))
	vt := int32(1) << uint(n-1)
	if v < vt {
		v += -(int32(1) << uint(n)) + 1
	}
	return v
}

// blockDecoder is the tagged-variant dispatch spec.md's REDESIGN FLAGS
// call for in place of the original's function-pointer-per-scan: one of
// Whole/DCBase/DCRefine/ACBase/ACRefine selected once per scan, keeping
// the per-block hot loop monomorphic.
type blockDecoder int

const (
	decodeWhole blockDecoder = iota
	decodeDCBase
	decodeDCRefine
	decodeACBase
	decodeACRefine
)

// selectDecoder picks the block decoder for a scan per spec.md §4.7: a
// progressive scan touching only Ss==0 (the DC band) uses DC base/refine,
// one touching Ss>0 (the AC band) uses AC base/refine, and a sequential
// frame always uses Whole.
func selectDecoder(fs *FrameState, scan ScanInfo) blockDecoder {
	if !fs.Progressive {
		return decodeWhole
	}
	if scan.Ss == 0 {
		if scan.Ah == 0 {
			return decodeDCBase
		}
		return decodeDCRefine
	}
	if scan.Ah == 0 {
		return decodeACBase
	}
	return decodeACRefine
}

// decodeBlockWhole implements the baseline sequential block decoder:
// full DC + up to 63 AC coefficients in one pass, per spec.md §4.7.
func decodeBlockWhole(r *bitio.MSBReader, dcTable, acTable *huffman.Table, blk *[64]int32, dcPred *int32) error {
	src := msbBits{r}
	sym, err := dcTable.Decode(src)
	if err != nil {
		return err
	}
	size := int(sym)
	diff := receive(r, size)
	*dcPred += diff
	blk[0] = *dcPred

	k := 1
	for k < 64 {
		rs, err := acTable.Decode(src)
		if err != nil {
			return err
		}
		run := int(rs >> 4)
		size := int(rs & 0x0F)
		if size == 0 {
			if run == 15 {
				k += 16 // ZRL
				continue
			}
			break // EOB
		}
		k += run
		if k >= 64 {
			break
		}
		blk[zigzag[k]] = receive(r, size)
		k++
	}
	return nil
}

// decodeBlockDCBase implements the progressive DC first scan: a single
// DC coefficient, left-shifted by Al.
func decodeBlockDCBase(r *bitio.MSBReader, dcTable *huffman.Table, blk *[64]int32, dcPred *int32, al int) error {
	src := msbBits{r}
	sym, err := dcTable.Decode(src)
	if err != nil {
		return err
	}
	size := int(sym)
	diff := receive(r, size)
	*dcPred += diff
	blk[0] = *dcPred << uint(al)
	return nil
}

// decodeBlockDCRefine implements the progressive DC refinement scan: one
// correction bit added at position Al.
func decodeBlockDCRefine(r *bitio.MSBReader, blk *[64]int32, al int) {
	bit := r.ReadBit()
	blk[0] |= int32(bit) << uint(al)
}

// decodeBlockACBase implements the progressive AC first scan over
// [Ss,Se]. EOB runs are tracked by the caller across consecutive blocks.
func decodeBlockACBase(r *bitio.MSBReader, acTable *huffman.Table, blk *[64]int32, ss, se, al int, eobRun *int) error {
	if *eobRun > 0 {
		*eobRun--
		return nil
	}
	src := msbBits{r}
	k := ss
	for k <= se {
		rs, err := acTable.Decode(src)
		if err != nil {
			return err
		}
		run := int(rs >> 4)
		size := int(rs & 0x0F)
		if size == 0 {
			if run < 15 {
				*eobRun = (1 << uint(run)) - 1
				if run > 0 {
					*eobRun += int(r.ReadBits(run))
				}
				return nil
			}
			k += 16 // ZRL
			continue
		}
		k += run
		if k > se {
			break
		}
		blk[zigzag[k]] = receive(r, size) << uint(al)
		k++
	}
	return nil
}

// decodeBlockACRefine implements the progressive AC refinement scan,
// per spec.md §4.7: existing non-zero coefficients receive a correction
// bit, zero slots may be skipped (consuming run) or become newly
// non-zero, and EOB runs continue correcting existing coefficients
// without placing new ones.
func decodeBlockACRefine(r *bitio.MSBReader, acTable *huffman.Table, blk *[64]int32, ss, se, al int, eobRun *int) error {
	src := msbBits{r}
	p1 := int32(1) << uint(al)
	m1 := int32(-1) << uint(al)

	k := ss
	if *eobRun == 0 {
		for k <= se {
			rs, err := acTable.Decode(src)
			if err != nil {
				return err
			}
			run := int(rs >> 4)
			size := int(rs & 0x0F)
			var value int32
			if size == 0 {
				if run < 15 {
					*eobRun = (1 << uint(run))
					if run > 0 {
						*eobRun += int(r.ReadBits(run))
					}
					break
				}
				// run == 15: ZRL, skip 16 zero-history coefficients while
				// still correcting any already-nonzero ones encountered.
			} else {
				if r.ReadBit() != 0 {
					value = p1
				} else {
					value = m1
				}
			}

			for k <= se {
				coefPos := zigzag[k]
				if blk[coefPos] != 0 {
					if r.ReadBit() != 0 {
						if blk[coefPos] >= 0 {
							blk[coefPos] += p1
						} else {
							blk[coefPos] += m1
						}
					}
				} else {
					if run == 0 {
						if value != 0 {
							blk[coefPos] = value
						}
						k++
						break
					}
					run--
				}
				k++
			}
		}
	}

	if *eobRun > 0 {
		for ; k <= se; k++ {
			coefPos := zigzag[k]
			if blk[coefPos] != 0 {
				if r.ReadBit() != 0 {
					if blk[coefPos] >= 0 {
						blk[coefPos] += p1
					} else {
						blk[coefPos] += m1
					}
				}
			}
		}
		*eobRun--
	}
	return nil
}
