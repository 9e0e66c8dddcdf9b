// Package observe provides the OpenTelemetry metric instruments for deskcap
// and the provider that exposes them to Prometheus.
//
// Tests should use [NewMetrics] with a MeterProvider backed by a ManualReader
// to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/emmett/deskcap/internal/audio"
)

// meterName is the instrumentation scope name used for all deskcap metrics.
const meterName = "github.com/emmett/deskcap"

// Metrics holds all OpenTelemetry metric instruments for the application.
// It implements [audio.Recorder].
type Metrics struct {
	// --- Capture loop ---

	// Ticks counts drain ticks.
	Ticks metric.Int64Counter

	// Chunks counts chunks delivered to the sink.
	Chunks metric.Int64Counter

	// Bytes counts sample bytes delivered to the sink.
	Bytes metric.Int64Counter

	// EmptyFills counts fills that returned zero frames.
	EmptyFills metric.Int64Counter

	// BufferGrows counts scratch buffer reallocations.
	BufferGrows metric.Int64Counter

	// Errors counts fatal capture errors. Use with attribute:
	//   attribute.String("kind", ...)
	Errors metric.Int64Counter

	// TickDuration tracks how long a single drain tick takes.
	TickDuration metric.Float64Histogram

	// ActiveCaptures tracks the number of running capture sessions.
	ActiveCaptures metric.Int64UpDownCounter

	// --- Delivery ---

	// AudioLevel tracks the RMS level of delivered chunks (0..1).
	AudioLevel metric.Float64Histogram

	// SinkDropped counts chunks dropped by non-blocking sinks. Use with attribute:
	//   attribute.String("sink", ...)
	SinkDropped metric.Int64Counter

	// DeliveryDuration tracks per-sink delivery latency. Use with attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	DeliveryDuration metric.Float64Histogram
}

// tickBuckets are histogram boundaries (in seconds) for drain tick latency.
var tickBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

var levelBuckets = []float64{
	0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Ticks, err = m.Int64Counter("deskcap.capture.ticks",
		metric.WithDescription("Total drain ticks."),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("deskcap.capture.chunks",
		metric.WithDescription("Total chunks delivered to the sink."),
	); err != nil {
		return nil, err
	}
	if met.Bytes, err = m.Int64Counter("deskcap.capture.bytes",
		metric.WithDescription("Total sample bytes delivered to the sink."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.EmptyFills, err = m.Int64Counter("deskcap.capture.empty_fills",
		metric.WithDescription("Total engine fills that returned no frames."),
	); err != nil {
		return nil, err
	}
	if met.BufferGrows, err = m.Int64Counter("deskcap.capture.buffer_grows",
		metric.WithDescription("Total scratch buffer reallocations."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("deskcap.capture.errors",
		metric.WithDescription("Total fatal capture errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.SinkDropped, err = m.Int64Counter("deskcap.sink.dropped",
		metric.WithDescription("Total chunks dropped by non-blocking sinks."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("deskcap.capture.tick.duration",
		metric.WithDescription("Duration of a single drain tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioLevel, err = m.Float64Histogram("deskcap.audio.level",
		metric.WithDescription("RMS level of delivered chunks."),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}

	if met.DeliveryDuration, err = m.Float64Histogram("deskcap.sink.deliver.duration",
		metric.WithDescription("Latency of a single chunk delivery by sink and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("deskcap.capture.active",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTick implements [audio.Recorder].
func (m *Metrics) RecordTick(ctx context.Context, stats audio.TickStats, elapsed time.Duration) {
	m.Ticks.Add(ctx, 1)
	m.TickDuration.Record(ctx, elapsed.Seconds())
	if stats.Chunks > 0 {
		m.Chunks.Add(ctx, int64(stats.Chunks))
		m.Bytes.Add(ctx, int64(stats.Bytes))
	}
	if stats.EmptyFills > 0 {
		m.EmptyFills.Add(ctx, int64(stats.EmptyFills))
	}
	if stats.Grew {
		m.BufferGrows.Add(ctx, 1)
	}
}

// RecordCaptureError implements [audio.Recorder].
func (m *Metrics) RecordCaptureError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// AddActiveCaptures implements [audio.Recorder].
func (m *Metrics) AddActiveCaptures(ctx context.Context, delta int64) {
	m.ActiveCaptures.Add(ctx, delta)
}

// RecordLevel records the RMS level of one chunk.
func (m *Metrics) RecordLevel(ctx context.Context, rms float64) {
	m.AudioLevel.Record(ctx, rms)
}

// RecordSinkDropped records chunks dropped by the named sink.
func (m *Metrics) RecordSinkDropped(ctx context.Context, sink string, n int64) {
	m.SinkDropped.Add(ctx, n, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordDelivery records how long a sink took to accept one chunk.
func (m *Metrics) RecordDelivery(ctx context.Context, sink string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DeliveryDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
}
