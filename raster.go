// Package raster is the public entry point for the image decode core:
// C11, the magic-byte dispatcher, described in spec.md §4.11 and §6.
package raster

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/raster/decode/internal/bmp"
	"github.com/raster/decode/internal/jpeg"
	"github.com/raster/decode/internal/normalize"
	"github.com/raster/decode/internal/png"
	"github.com/raster/decode/internal/sink"
	"github.com/raster/decode/internal/surface"
)

// DecodeOptions carries the knobs this core exposes, per SPEC_FULL.md §1
// (modeled on the teacher's plain-struct EncoderOptions, passed by value,
// no flag/env parsing pulled into the core itself).
type DecodeOptions struct {
	// MaxDimension, when non-zero, rejects images wider or taller than
	// it. It can only lower the cap: decoders reject anything above
	// surface.MaxDimension regardless of this value.
	MaxDimension int
	// VerifyChecksums enables per-chunk CRC-32 verification during PNG
	// decode; CRCs are not compared by default. The zlib Adler-32
	// trailer is not verified either way.
	VerifyChecksums bool
	// AllowRecursiveEmbedding controls whether a BMP's embedded JPEG/PNG
	// payload is recursively redispatched (default true, matching
	// original_source/'s "attempted, not trusted" precedent).
	AllowRecursiveEmbedding bool
	// MaxScratchBytes caps the total scratch bytes a decode call may have
	// outstanding at once, enforced against whatever Sink the caller
	// supplies (not just sink.PoolSink), per spec.md §7 category 5
	// ("requested scratch exceeds the buffer-size budget"). Zero means
	// unlimited.
	MaxScratchBytes int
}

// budgetedSink wraps a caller-supplied Sink and declines
// RequestImageBuffer calls once granting one would push total
// outstanding scratch past max, regardless of the underlying Sink's own
// allocation policy.
type budgetedSink struct {
	sink.Sink
	max     int
	current int
}

func (b *budgetedSink) RequestImageBuffer(n int) []byte {
	if n <= 0 {
		return nil
	}
	if b.current+n > b.max {
		return nil
	}
	buf := b.Sink.RequestImageBuffer(n)
	if buf == nil {
		return nil
	}
	b.current += n
	return buf
}

func (b *budgetedSink) FreeImageBuffer(buf []byte) {
	b.current -= len(buf)
	b.Sink.FreeImageBuffer(buf)
}

// DefaultOptions matches the original_source/-derived defaults recorded
// in SPEC_FULL.md §6.
func DefaultOptions() DecodeOptions {
	return DecodeOptions{
		MaxDimension:            surface.MaxDimension,
		VerifyChecksums:         false,
		AllowRecursiveEmbedding: true,
	}
}

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// Decode classifies buf by magic bytes, runs the matching decoder plus
// the normalizer, and hands the result to sk, per spec.md §6's public
// entry point `decode(buffer, length) -> bool`.
func Decode(buf []byte, sk sink.Sink) bool {
	return DecodeWithOptions(buf, DefaultOptions(), sk)
}

// DecodeWithOptions is Decode with an explicit DecodeOptions.
func DecodeWithOptions(buf []byte, opts DecodeOptions, sk sink.Sink) bool {
	var effective sink.Sink = sk
	if opts.MaxScratchBytes > 0 {
		effective = &budgetedSink{Sink: sk, max: opts.MaxScratchBytes}
	}

	src, category, err := decodeToPixelSource(buf, opts, effective)
	if err != nil {
		if category >= 0 {
			sk.LogError(err.Error(), category)
		}
		return false
	}

	if opts.MaxDimension > 0 {
		if src.Width > opts.MaxDimension || src.Height > opts.MaxDimension {
			for _, b := range src.Scratch {
				effective.FreeImageBuffer(b)
			}
			sk.LogError(fmt.Sprintf("raster: dimensions %dx%d exceed cap %d", src.Width, src.Height, opts.MaxDimension), sink.CategoryPolicy)
			return false
		}
	}

	surf, err := normalize.Normalize(src, effective)
	if err != nil {
		sk.LogError(fmt.Sprintf("raster: normalize: %v", err), sink.CategoryMalformed)
		return false
	}

	sk.StoreImage(surf)
	return true
}

// decodeToPixelSource runs the magic-byte classifier and the matching
// per-format decoder, recursing once for a BMP that embeds JPEG/PNG.
// A negative category means "don't log" (the unrecognized case, which
// per spec.md §7 the dispatcher handles silently).
func decodeToPixelSource(buf []byte, opts DecodeOptions, sk sink.Sink) (*surface.PixelSource, sink.Category, error) {
	switch {
	case len(buf) >= 8 && bytes.Equal(buf[:8], pngSignature):
		var src *surface.PixelSource
		var err error
		if opts.VerifyChecksums {
			src, err = png.DecodeChecked(buf, sk)
		} else {
			src, err = png.Decode(buf, sk)
		}
		if err != nil {
			return nil, categoryFor(err), err
		}
		return src, 0, nil

	case len(buf) >= 3 && buf[0] == 0xFF && buf[1] == 0xD8 && buf[2] == 0xFF:
		src, err := jpeg.Decode(buf, sk)
		if err != nil {
			return nil, categoryFor(err), err
		}
		return src, 0, nil

	case len(buf) >= 2 && buf[0] == 'B' && buf[1] == 'M':
		res, err := bmp.Decode(buf, sk)
		if err != nil {
			return nil, categoryFor(err), err
		}
		if res.Embedded != nil {
			sk.LogError("raster: BMP embeds a JPEG/PNG payload", sink.CategoryUnsupported)
			if !opts.AllowRecursiveEmbedding {
				return nil, -1, fmt.Errorf("raster: recursive embedding disabled")
			}
			embeddedSrc, cat, err := decodeToPixelSource(res.Embedded, opts, sk)
			if err != nil {
				return nil, cat, err
			}
			return embeddedSrc, 0, nil
		}
		return res.Source, 0, nil
	}

	return nil, -1, fmt.Errorf("raster: unrecognized image format")
}

// categoryFor maps a decoder error to its spec.md §7 diagnostic
// category: a declined scratch request and zero or over-cap declared
// dimensions (surface.ErrDimension) are policy category 5, everything
// else from a format decoder is malformed input.
func categoryFor(err error) sink.Category {
	if errors.Is(err, sink.ErrBudgetExceeded) || errors.Is(err, surface.ErrDimension) {
		return sink.CategoryPolicy
	}
	return sink.CategoryMalformed
}
