package observe

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/emmett/deskcap/internal/audio"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumInt64(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, "metric %s not found", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is %T", name, m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordTick(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTick(ctx, audio.TickStats{Packets: 3, Chunks: 2, EmptyFills: 1, Bytes: 64, Grew: true}, 2*time.Millisecond)
	m.RecordTick(ctx, audio.TickStats{}, time.Millisecond)

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumInt64(t, rm, "deskcap.capture.ticks"))
	assert.Equal(t, int64(2), sumInt64(t, rm, "deskcap.capture.chunks"))
	assert.Equal(t, int64(64), sumInt64(t, rm, "deskcap.capture.bytes"))
	assert.Equal(t, int64(1), sumInt64(t, rm, "deskcap.capture.empty_fills"))
	assert.Equal(t, int64(1), sumInt64(t, rm, "deskcap.capture.buffer_grows"))

	hm := findMetric(rm, "deskcap.capture.tick.duration")
	require.NotNil(t, hm)
	hist, ok := hm.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestRecordCaptureErrorAndActive(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCaptureError(ctx, "overrun")
	m.RecordCaptureError(ctx, "sink_fault")
	m.AddActiveCaptures(ctx, 1)
	m.AddActiveCaptures(ctx, 1)
	m.AddActiveCaptures(ctx, -1)
	m.RecordSinkDropped(ctx, "hub", 4)

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumInt64(t, rm, "deskcap.capture.errors"))
	assert.Equal(t, int64(1), sumInt64(t, rm, "deskcap.capture.active"))
	assert.Equal(t, int64(4), sumInt64(t, rm, "deskcap.sink.dropped"))

	errs := findMetric(rm, "deskcap.capture.errors").Data.(metricdata.Sum[int64])
	kinds := map[string]bool{}
	for _, dp := range errs.DataPoints {
		v, ok := dp.Attributes.Value("kind")
		require.True(t, ok)
		kinds[v.AsString()] = true
	}
	assert.Equal(t, map[string]bool{"overrun": true, "sink_fault": true}, kinds)
}

func TestRecordLevel(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordLevel(context.Background(), 0.3)

	rm := collect(t, reader)
	hm := findMetric(rm, "deskcap.audio.level")
	require.NotNil(t, hm)
	hist := hm.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	assert.InDelta(t, 0.3, hist.DataPoints[0].Sum, 1e-9)
}

func TestRecordDelivery(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordDelivery(ctx, "file", time.Millisecond, nil)
	m.RecordDelivery(ctx, "file", time.Millisecond, errors.New("disk full"))

	rm := collect(t, reader)
	hm := findMetric(rm, "deskcap.sink.deliver.duration")
	require.NotNil(t, hm)
	hist := hm.Data.(metricdata.Histogram[float64])
	assert.Len(t, hist.DataPoints, 2, "one series per status")
}

func TestMetricsSatisfyRecorder(t *testing.T) {
	var _ audio.Recorder = (*Metrics)(nil)
}

func TestInitProviderServesPrometheus(t *testing.T) {
	p, err := InitProvider(ProviderConfig{ServiceVersion: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider)
	require.NoError(t, err)
	m.RecordTick(context.Background(), audio.TickStats{Chunks: 1, Bytes: 8}, time.Millisecond)

	rec := httptest.NewRecorder()
	promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "deskcap_capture_ticks"), body)
	assert.True(t, strings.Contains(body, "deskcap_capture_chunks"), body)
}
