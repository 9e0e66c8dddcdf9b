package audio

import (
	"errors"
	"fmt"
	"time"
)

// Format describes the sample format negotiated by a capture engine.
// It is produced once per session, after the engine has started, and does not
// change for the lifetime of that session.
type Format struct {
	// Valid is true when the engine delivers IEEE float samples
	Valid bool

	// FrameSize is the number of bytes in one frame (one sample per channel)
	FrameSize uint32

	// Channels is the number of interleaved channels
	Channels uint32

	// BitsPerSample is the width of a single sample
	BitsPerSample uint32

	// SampleRate is the number of frames per second (Hz)
	SampleRate uint32
}

// SupportedFormat is the only profile a capture session accepts:
// interleaved 32-bit float stereo at 48 kHz.
var SupportedFormat = Format{
	Valid:         true,
	FrameSize:     8,
	Channels:      2,
	BitsPerSample: 32,
	SampleRate:    48000,
}

// ErrFormatRejected is matched by every *FormatError
var ErrFormatRejected = errors.New("negotiated audio format is not supported")

// FormatError reports a negotiated format outside the supported profile
type FormatError struct {
	Got Format
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%v: got %s, want %s", ErrFormatRejected, e.Got, SupportedFormat)
}

// Is lets errors.Is(err, ErrFormatRejected) match
func (e *FormatError) Is(target error) bool {
	return target == ErrFormatRejected
}

// ValidateFormat returns nil if f equals SupportedFormat and a *FormatError otherwise.
func ValidateFormat(f Format) error {
	if !f.Supported() {
		return &FormatError{Got: f}
	}
	return nil
}

// Supported reports whether f is exactly the supported profile
func (f Format) Supported() bool {
	return f == SupportedFormat
}

// String returns a compact description, e.g. "f32 2ch 48000Hz (8 B/frame)"
func (f Format) String() string {
	kind := "pcm"
	if f.Valid {
		kind = "f32"
	}
	if !f.Valid && f.BitsPerSample > 0 {
		kind = fmt.Sprintf("pcm%d", f.BitsPerSample)
	}
	return fmt.Sprintf("%s %dch %dHz (%d B/frame)", kind, f.Channels, f.SampleRate, f.FrameSize)
}

// BytesPerSecond returns the data rate of the format
func (f Format) BytesPerSecond() uint64 {
	return uint64(f.FrameSize) * uint64(f.SampleRate)
}

// FrameDuration returns how much audio the given number of frames represents
func (f Format) FrameDuration(frames uint64) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}
