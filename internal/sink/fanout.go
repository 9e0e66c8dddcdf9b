package sink

import (
	"github.com/emmett/deskcap/internal/audio"
)

// Fanout delivers each chunk to every sink in order. The first error stops
// delivery of that chunk and is returned.
type Fanout []audio.Sink

// NewFanout returns a Fanout over the non-nil sinks
func NewFanout(sinks ...audio.Sink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Deliver implements audio.Sink
func (f Fanout) Deliver(chunk audio.Chunk) error {
	for _, s := range f {
		if err := s.Deliver(chunk); err != nil {
			return err
		}
	}
	return nil
}
