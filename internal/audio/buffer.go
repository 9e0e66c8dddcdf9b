package audio

import (
	"sync"
)

// RingBuffer is a circular byte buffer between an engine's device callback
// and the drain loop. Writes never block; data that does not fit is refused.
type RingBuffer struct {
	mu       sync.RWMutex
	buffer   []byte
	size     int
	writePos int
	readPos  int
	full     bool
}

// NewRingBuffer creates a new ring buffer with the specified size in bytes
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write copies as much of data as fits and returns the number of bytes accepted.
// A short count means the buffer filled up.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	free := rb.size - rb.availableLocked()
	n := min(len(data), free)
	if n == 0 {
		return 0
	}

	first := copy(rb.buffer[rb.writePos:], data[:n])
	if first < n {
		copy(rb.buffer, data[first:n])
	}
	rb.writePos = (rb.writePos + n) % rb.size
	if rb.writePos == rb.readPos {
		rb.full = true
	}
	return n
}

// Read reads up to len(data) bytes from the buffer
// Returns the number of bytes read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(data), rb.availableLocked())
	if n == 0 {
		return 0
	}

	first := copy(data[:n], rb.buffer[rb.readPos:])
	if first < n {
		copy(data[first:n], rb.buffer)
	}
	rb.readPos = (rb.readPos + n) % rb.size
	rb.full = false
	return n
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.availableLocked()
}

func (rb *RingBuffer) availableLocked() int {
	if rb.full {
		return rb.size
	}
	if rb.writePos >= rb.readPos {
		return rb.writePos - rb.readPos
	}
	return rb.size - rb.readPos + rb.writePos
}

// Free returns the number of bytes available to write
func (rb *RingBuffer) Free() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size - rb.availableLocked()
}
