// Package sink defines the host collaborator contract (spec.md §6): a
// scratch-buffer pool and the final surface handoff. Decoders never talk
// to the GPU uploader, the window, or a file system directly — they only
// ever call through this interface, mirroring the way the teacher's
// codec never reaches past its own package boundary into host state.
package sink

import (
	"errors"

	"github.com/raster/decode/internal/surface"
)

// ErrBudgetExceeded is returned by a decoder when RequestImageBuffer
// declines a scratch request, per spec.md §7 category 5 ("requested
// scratch exceeds the buffer-size budget").
var ErrBudgetExceeded = errors.New("sink: scratch buffer request declined (over budget)")

// Category classifies a diagnostic passed to LogError, per spec.md §7.
type Category int

const (
	CategoryUnrecognized Category = iota
	CategoryTruncated
	CategoryMalformed
	CategoryUnsupported
	CategoryPolicy
)

// String renders the category the way a diagnostic line would name it.
func (c Category) String() string {
	switch c {
	case CategoryUnrecognized:
		return "unrecognized"
	case CategoryTruncated:
		return "truncated"
	case CategoryMalformed:
		return "malformed"
	case CategoryUnsupported:
		return "unsupported"
	case CategoryPolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// Sink is the host-provided collaborator every decode call talks to.
type Sink interface {
	// RequestImageBuffer returns a zero-initialized buffer of n bytes, or
	// nil if the host declines (e.g. over budget).
	RequestImageBuffer(n int) []byte
	// FreeImageBuffer releases a buffer obtained from RequestImageBuffer.
	// Called on every exit path, success or failure.
	FreeImageBuffer(buf []byte)
	// StoreImage receives the decoded raster. Invoked at most once per
	// successful decode, and only on the success path.
	StoreImage(s *surface.Surface)
	// LogError reports a recoverable format or policy violation.
	LogError(text string, category Category)
}

// PoolSink is a reference Sink backed by a plain allocator pool. It is
// the default collaborator used by the public entry point and by tests;
// a host embedding this core for real GPU upload supplies its own Sink.
type PoolSink struct {
	// MaxBytes caps the total size of buffers this sink will have
	// outstanding at once (0 = unlimited). RequestImageBuffer declines
	// (returns nil) once granting a request would exceed it.
	MaxBytes int

	outstanding map[*byte][]byte
	liveBytes   int
	Result      *surface.Surface
	Errors      []Diagnostic
}

// Diagnostic records one LogError call for inspection by callers and
// tests.
type Diagnostic struct {
	Text     string
	Category Category
}

// NewPoolSink creates an empty, unbudgeted PoolSink ready for one decode
// call.
func NewPoolSink() *PoolSink {
	return &PoolSink{outstanding: make(map[*byte][]byte)}
}

// NewBudgetedPoolSink creates a PoolSink that declines any
// RequestImageBuffer call whose size would push total outstanding bytes
// past maxBytes.
func NewBudgetedPoolSink(maxBytes int) *PoolSink {
	return &PoolSink{MaxBytes: maxBytes, outstanding: make(map[*byte][]byte)}
}

func (s *PoolSink) RequestImageBuffer(n int) []byte {
	if n <= 0 {
		return nil
	}
	if s.MaxBytes > 0 && s.liveBytes+n > s.MaxBytes {
		return nil
	}
	buf := make([]byte, n)
	if s.outstanding == nil {
		s.outstanding = make(map[*byte][]byte)
	}
	s.outstanding[&buf[0]] = buf
	s.liveBytes += n
	return buf
}

func (s *PoolSink) FreeImageBuffer(buf []byte) {
	if len(buf) == 0 {
		return
	}
	if _, ok := s.outstanding[&buf[0]]; !ok {
		return
	}
	delete(s.outstanding, &buf[0])
	s.liveBytes -= len(buf)
}

func (s *PoolSink) StoreImage(surf *surface.Surface) {
	s.Result = surf
}

func (s *PoolSink) LogError(text string, category Category) {
	s.Errors = append(s.Errors, Diagnostic{Text: text, Category: category})
}

// Outstanding reports the number of buffers requested but not yet freed.
// Used by tests to verify sink discipline (spec.md §8).
func (s *PoolSink) Outstanding() int {
	return len(s.outstanding)
}
