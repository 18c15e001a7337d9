// SPDX-License-Identifier: MPL-2.0

package streamio

import (
	"bytes"
	"io"
	"sync"
)

// CaptureSink is a concurrency-safe io.Writer that accumulates everything
// written to it, for later retrieval as ExecutionResult.Stdout/Stderr.
type CaptureSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewCaptureSink constructs an empty CaptureSink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

func (s *CaptureSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// Bytes returns a copy of everything captured so far. Safe to call while
// writes are still in flight.
func (s *CaptureSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	return out
}

// Tee returns an io.Writer that duplicates every write to both dst and a
// CaptureSink, returning the sink so its accumulated bytes remain readable
// after the underlying writer (e.g. a file) is closed. If dst is nil, the
// returned writer behaves exactly like the sink alone.
func Tee(dst io.Writer) (io.Writer, *CaptureSink) {
	sink := NewCaptureSink()
	if dst == nil {
		return sink, sink
	}
	return io.MultiWriter(dst, sink), sink
}
