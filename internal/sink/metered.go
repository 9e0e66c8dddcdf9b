package sink

import (
	"context"
	"time"

	"github.com/emmett/deskcap/internal/audio"
)

// DeliveryRecorder receives per-sink delivery timings
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, sink string, elapsed time.Duration, err error)
}

// Metered times every delivery to the wrapped sink
type Metered struct {
	name string
	next audio.Sink
	rec  DeliveryRecorder
}

// NewMetered wraps next, reporting under name
func NewMetered(name string, next audio.Sink, rec DeliveryRecorder) *Metered {
	return &Metered{name: name, next: next, rec: rec}
}

// Deliver implements audio.Sink
func (m *Metered) Deliver(chunk audio.Chunk) error {
	start := time.Now()
	err := m.next.Deliver(chunk)
	m.rec.RecordDelivery(context.Background(), m.name, time.Since(start), err)
	return err
}
