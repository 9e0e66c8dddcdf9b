// Package stream broadcasts captured chunks to any number of live consumers.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/emmett/deskcap/internal/audio"
)

// Subscription is one consumer's view of the stream
type Subscription struct {
	ID string
	C  <-chan audio.Chunk

	ch      chan audio.Chunk
	dropped atomic.Uint64
}

// Dropped returns how many chunks this subscriber missed because its buffer was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub fans chunks out to subscribers without ever blocking the publisher.
// A slow subscriber loses chunks; the others are unaffected.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	published atomic.Uint64

	// OnDrop, if set, is called when a chunk is dropped for a subscriber
	OnDrop func(sub *Subscription)
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]*Subscription)}
}

// Subscribe registers a consumer with the given channel buffer and returns it
// with an unsubscribe function. Subscribing to a closed hub yields a closed channel.
func (h *Hub) Subscribe(buffer int) (*Subscription, func()) {
	ch := make(chan audio.Chunk, buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub, func() {}
	}
	h.subs[sub.ID] = sub

	var once sync.Once
	return sub, func() {
		once.Do(func() { h.remove(sub.ID) })
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Publish hands chunk to every subscriber that has room
func (h *Hub) Publish(chunk audio.Chunk) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)

	for _, sub := range h.subs {
		select {
		case sub.ch <- chunk:
		default:
			sub.dropped.Add(1)
			if h.OnDrop != nil {
				h.OnDrop(sub)
			}
		}
	}
}

// Deliver implements audio.Sink; publishing never fails
func (h *Hub) Deliver(chunk audio.Chunk) error {
	h.Publish(chunk)
	return nil
}

// Published returns how many chunks have been published
func (h *Hub) Published() uint64 {
	return h.published.Load()
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}
