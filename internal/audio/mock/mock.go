// Package mock provides scriptable in-memory implementations of
// [audio.Engine], [audio.EngineSession] and [audio.Sink] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments, and they expose exported fields that
// control the results.
//
// Typical usage:
//
//	session := &mock.Session{
//	    FormatResult: audio.SupportedFormat,
//	    Packets:      []uint32{5, 3, 0},
//	}
//	engine := &mock.Engine{Session: session}
//	sink := &mock.Sink{}
//	c, err := audio.StartCapture(engine, token, opts, sink)
package mock

import (
	"sync"

	"github.com/emmett/deskcap/internal/audio"
)

// StaleByte is written by [Session.Fill] into the part of the destination
// buffer past the reported frames, so tests can detect over-reads.
const StaleByte = 0xEE

// ─── Engine ───────────────────────────────────────────────────────────────────

// Engine is a mock implementation of [audio.Engine].
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession.
	Session *Session

	// NewSessionError, when set, is returned by NewSession instead of Session.
	NewSessionError error

	// CallCountNewSession records how many times NewSession was called.
	CallCountNewSession int
}

// NewSession implements [audio.Engine].
func (e *Engine) NewSession() (audio.EngineSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountNewSession++
	if e.NewSessionError != nil {
		return nil, e.NewSessionError
	}
	return e.Session, nil
}

// ─── Session ──────────────────────────────────────────────────────────────────

// FillCall records the arguments of a single [Session.Fill] invocation.
type FillCall struct {
	Requested uint32
	Capacity  uint32
	DstLen    int
}

// Session is a mock implementation of [audio.EngineSession].
type Session struct {
	mu sync.Mutex

	// FormatResult is returned by Format.
	FormatResult audio.Format

	// Packets scripts successive NextPacketSize results. Once exhausted,
	// NextPacketSize returns 0.
	Packets []uint32

	// FillFrames scripts successive Fill results. When exhausted (or empty),
	// Fill reports the requested frame count.
	FillFrames []uint32

	// InitializeError, StartError, FormatError, NextPacketError, FillError and
	// CloseError are returned by the corresponding methods.
	InitializeError error
	StartError      error
	FormatError     error
	NextPacketError error
	FillError       error
	CloseError      error

	// CallCount* record how many times each method was called.
	CallCountInitialize     int
	CallCountStart          int
	CallCountFormat         int
	CallCountNextPacketSize int
	CallCountClose          int

	// FillCalls records every Fill invocation in order.
	FillCalls []FillCall

	packetIdx int
	fillIdx   int
}

// Initialize implements [audio.EngineSession].
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountInitialize++
	return s.InitializeError
}

// Start implements [audio.EngineSession].
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartError
}

// Format implements [audio.EngineSession].
func (s *Session) Format() (audio.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFormat++
	return s.FormatResult, s.FormatError
}

// NextPacketSize implements [audio.EngineSession] by returning the next
// scripted packet size.
func (s *Session) NextPacketSize() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountNextPacketSize++
	if s.NextPacketError != nil {
		return 0, s.NextPacketError
	}
	if s.packetIdx >= len(s.Packets) {
		return 0, nil
	}
	p := s.Packets[s.packetIdx]
	s.packetIdx++
	return p, nil
}

// Fill implements [audio.EngineSession]. Frame i of fill call n is written as
// bytes of value byte(n), starting at 1; the rest of dst is set to StaleByte.
// The reported count is not clamped to capacity, so scripted overruns reach
// the caller.
func (s *Session) Fill(requested, capacity uint32, dst []byte) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FillCalls = append(s.FillCalls, FillCall{Requested: requested, Capacity: capacity, DstLen: len(dst)})
	if s.FillError != nil {
		return 0, s.FillError
	}

	frames := requested
	if s.fillIdx < len(s.FillFrames) {
		frames = s.FillFrames[s.fillIdx]
	}
	s.fillIdx++

	n := min(int(frames)*int(s.FormatResult.FrameSize), len(dst))
	value := byte(len(s.FillCalls))
	for i := range dst {
		if i < n {
			dst[i] = value
		} else {
			dst[i] = StaleByte
		}
	}
	return frames, nil
}

// Close implements [audio.EngineSession].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// Closed reports whether Close has been called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// NextPacketCalls returns CallCountNextPacketSize under the lock.
func (s *Session) NextPacketCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountNextPacketSize
}

// CloseCalls returns CallCountClose under the lock.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Fills returns a copy of the recorded Fill calls.
func (s *Session) Fills() []FillCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FillCall, len(s.FillCalls))
	copy(out, s.FillCalls)
	return out
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink] that records delivered chunks.
type Sink struct {
	mu sync.Mutex

	// DeliverError is returned by Deliver once FailAfter chunks have been accepted.
	DeliverError error

	// FailAfter is the number of chunks accepted before DeliverError is returned.
	FailAfter int

	chunks []audio.Chunk
}

// Deliver implements [audio.Sink].
func (s *Sink) Deliver(chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeliverError != nil && len(s.chunks) >= s.FailAfter {
		return s.DeliverError
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

// Chunks returns a copy of the delivered chunks in order.
func (s *Sink) Chunks() []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Len returns the number of delivered chunks.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}
