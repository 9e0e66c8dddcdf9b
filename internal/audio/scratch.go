package audio

import "fmt"

// initialScratchSize matches the tiny staging buffer the first tick starts from;
// the first real packet always forces a grow.
const initialScratchSize = 16

// ScratchBuffer is the reusable staging region an engine fills with raw frames.
// It grows on demand and never shrinks, so steady-state ticks do not allocate
// beyond the extracted chunk copies.
//
// A ScratchBuffer is owned by a single Drainer and is not safe for concurrent use.
type ScratchBuffer struct {
	buf   []byte
	grows int
}

// NewScratchBuffer creates a scratch buffer with the initial staging size
func NewScratchBuffer() *ScratchBuffer {
	return &ScratchBuffer{buf: make([]byte, initialScratchSize)}
}

// EnsureCapacity guarantees Cap() >= minBytes. It reallocates to exactly
// minBytes only when the current region is too small and reports whether it did.
// The previous contents are not preserved across a grow.
func (s *ScratchBuffer) EnsureCapacity(minBytes int) bool {
	if len(s.buf) >= minBytes {
		return false
	}
	s.buf = make([]byte, minBytes)
	s.grows++
	return true
}

// Bytes returns the whole staging region for an engine to fill
func (s *ScratchBuffer) Bytes() []byte {
	return s.buf
}

// Extract returns a copy of exactly the first frames*frameSize bytes.
// The copy is independent of later fills and grows; bytes past the boundary
// are never read.
func (s *ScratchBuffer) Extract(frames, frameSize uint32) []byte {
	n := int(frames) * int(frameSize)
	if n > len(s.buf) {
		panic(fmt.Sprintf("audio: extract of %d bytes exceeds scratch capacity %d", n, len(s.buf)))
	}
	out := make([]byte, n)
	copy(out, s.buf[:n])
	return out
}

// Cap returns the current size of the staging region in bytes
func (s *ScratchBuffer) Cap() int {
	return len(s.buf)
}

// Grows returns how many times the region has been reallocated
func (s *ScratchBuffer) Grows() int {
	return s.grows
}
