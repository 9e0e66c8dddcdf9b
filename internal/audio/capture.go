package audio

import (
	"errors"
	"fmt"
	"time"
)

// Chunk is one contiguous run of whole frames extracted from a single engine fill.
// Data is a private copy; the sink may keep it for as long as it likes.
type Chunk struct {
	Data      []byte    // Raw interleaved samples, len = Frames * FrameSize
	Frames    uint32    // Number of frames in Data
	Seq       uint64    // Position in capture order, starting at 1
	Timestamp time.Time // When the chunk was extracted
}

// Sink receives chunks in strict capture order, one at a time.
// Returning an error ends the capture session.
type Sink interface {
	Deliver(chunk Chunk) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(chunk Chunk) error

// Deliver calls f(chunk)
func (f SinkFunc) Deliver(chunk Chunk) error {
	return f(chunk)
}

// OnChunk adapts a plain byte callback to a Sink
func OnChunk(fn func(data []byte)) Sink {
	return SinkFunc(func(chunk Chunk) error {
		fn(chunk.Data)
		return nil
	})
}

// Engine is the native capture engine. Each call to NewSession creates an
// independent capture attempt.
type Engine interface {
	// NewSession creates a fresh engine session
	NewSession() (EngineSession, error)
}

// EngineSession is one capture attempt against the engine.
// Calls are made from a single goroutine in the order
// Initialize, Start, Format, then any number of NextPacketSize/Fill pairs, then Close.
type EngineSession interface {
	// Initialize prepares the endpoint; it must precede Start
	Initialize() error

	// Start begins producing packets
	Start() error

	// Format returns the negotiated format; called once after Start
	Format() (Format, error)

	// NextPacketSize returns the number of frames in the next pending packet.
	// Zero means nothing is pending.
	NextPacketSize() (uint32, error)

	// Fill writes up to capacity frames into dst and returns the number of
	// frames written. requested is the caller's latest NextPacketSize estimate.
	// The returned count is authoritative and must not exceed capacity.
	Fill(requested, capacity uint32, dst []byte) (uint32, error)

	// Close stops the engine and releases its resources
	Close() error
}

var (
	// ErrEngineFault is matched by every *EngineError
	ErrEngineFault = errors.New("capture engine fault")

	// ErrOverrun is returned when an engine reports more frames than it was given room for
	ErrOverrun = errors.New("engine wrote more frames than requested capacity")

	// ErrSinkFault is matched by every *SinkError
	ErrSinkFault = errors.New("delivery sink fault")

	// ErrBackendUnsupported is returned by engines that cannot run on this platform
	ErrBackendUnsupported = errors.New("capture backend not supported on this platform")
)

// EngineError wraps a failure reported by the capture engine
type EngineError struct {
	Op  string // Engine operation that failed, e.g. "initialize", "fill"
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrEngineFault, e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrEngineFault) match
func (e *EngineError) Is(target error) bool {
	return target == ErrEngineFault
}

// SinkError wraps a failure returned by a Sink
type SinkError struct {
	Seq uint64
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%v: chunk %d: %v", ErrSinkFault, e.Seq, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrSinkFault) match
func (e *SinkError) Is(target error) bool {
	return target == ErrSinkFault
}

func engineErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Err: err}
}
