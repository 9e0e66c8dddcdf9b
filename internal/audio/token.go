package audio

import (
	"context"
	"sync"
	"sync/atomic"
)

// CancellationToken is the stop flag shared between a caller and a running
// capture. Only the caller requests a stop; the capture loop reads the flag
// at tick boundaries.
type CancellationToken struct {
	stopped  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// NewCancellationToken creates a token that has not been stopped
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// RequestStop asks the capture to stop before its next tick. Safe to call repeatedly.
func (t *CancellationToken) RequestStop() {
	t.stopped.Store(true)
	t.doneOnce.Do(func() {
		close(t.done)
	})
}

// IsStopRequested reports whether RequestStop has been called
func (t *CancellationToken) IsStopRequested() bool {
	return t.stopped.Load()
}

// Done is closed once a stop has been requested
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}

// StopOnContext requests a stop when ctx is cancelled.
// Call the returned function to detach once the capture is over.
func (t *CancellationToken) StopOnContext(ctx context.Context) (detach func()) {
	stop := context.AfterFunc(ctx, t.RequestStop)
	return func() { stop() }
}
