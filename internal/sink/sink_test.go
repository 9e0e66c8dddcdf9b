package sink

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/deskcap/internal/audio"
	"github.com/emmett/deskcap/internal/audio/mock"
)

func chunkOf(seq uint64, samples ...float32) audio.Chunk {
	data := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	return audio.Chunk{Data: data, Frames: uint32(len(samples) / 2), Seq: seq, Timestamp: time.Now()}
}

func TestRawFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.bin")
	f, err := CreateRawFile(path)
	require.NoError(t, err)

	require.NoError(t, f.Deliver(audio.Chunk{Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}))
	require.NoError(t, f.Deliver(audio.Chunk{Data: []byte{9, 10, 11, 12, 13, 14, 15, 16}}))
	assert.Equal(t, uint64(16), f.Bytes())
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, got)

	assert.ErrorIs(t, f.Deliver(audio.Chunk{Data: []byte{1}}), os.ErrClosed)
}

func TestWAVHeaderPatchedOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.wav")
	w, err := CreateWAV(path, audio.SupportedFormat)
	require.NoError(t, err)

	require.NoError(t, w.Deliver(chunkOf(1, 0.5, -0.5)))
	require.NoError(t, w.Deliver(chunkOf(2, 0.25, -0.25, 0.1, 0.2)))
	require.NoError(t, w.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 44+24)

	assert.Equal(t, "RIFF", string(got[0:4]))
	assert.Equal(t, uint32(36+24), binary.LittleEndian.Uint32(got[4:8]))
	assert.Equal(t, "WAVE", string(got[8:12]))
	assert.Equal(t, "fmt ", string(got[12:16]))
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(got[20:22]), "IEEE float")
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(got[22:24]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(got[24:28]))
	assert.Equal(t, uint32(384000), binary.LittleEndian.Uint32(got[28:32]))
	assert.Equal(t, uint16(8), binary.LittleEndian.Uint16(got[32:34]))
	assert.Equal(t, uint16(32), binary.LittleEndian.Uint16(got[34:36]))
	assert.Equal(t, "data", string(got[36:40]))
	assert.Equal(t, uint32(24), binary.LittleEndian.Uint32(got[40:44]))
	assert.Equal(t, float32(0.5), math.Float32frombits(binary.LittleEndian.Uint32(got[44:48])))
}

func TestFanout(t *testing.T) {
	a, b := &mock.Sink{}, &mock.Sink{}
	f := NewFanout(a, nil, b)
	require.Len(t, f, 2)

	require.NoError(t, f.Deliver(chunkOf(1, 0, 0)))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())

	boom := errors.New("boom")
	failing := &mock.Sink{DeliverError: boom}
	c := &mock.Sink{}
	err := NewFanout(failing, c).Deliver(chunkOf(2, 0, 0))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len(), "later sinks are skipped after an error")
}

type levelRecorder struct {
	mu     sync.Mutex
	levels []float64
}

func (r *levelRecorder) RecordLevel(_ context.Context, rms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, rms)
}

func TestMonitorReportsSilence(t *testing.T) {
	next := &mock.Sink{}
	rec := &levelRecorder{}
	m := NewMonitor(next, audio.SilenceConfig{Threshold: 0.01, SilentChunks: 2}, rec)

	var transitions []bool
	m.OnSilence = func(silent bool) { transitions = append(transitions, silent) }

	require.NoError(t, m.Deliver(chunkOf(1, 0.5, -0.5)))
	rms, peak, silent := m.Level()
	assert.InDelta(t, 0.5, rms, 1e-9)
	assert.InDelta(t, 0.5, peak, 1e-9)
	assert.False(t, silent)

	require.NoError(t, m.Deliver(chunkOf(2, 0, 0)))
	require.NoError(t, m.Deliver(chunkOf(3, 0, 0)))
	_, _, silent = m.Level()
	assert.True(t, silent)

	require.NoError(t, m.Deliver(chunkOf(4, 0.3, 0.3)))
	assert.Equal(t, []bool{true, false}, transitions)
	assert.Equal(t, 4, next.Len())
	assert.Len(t, rec.levels, 4)
}

type deliveryRecorder struct {
	sinks []string
	errs  []error
}

func (r *deliveryRecorder) RecordDelivery(_ context.Context, sink string, _ time.Duration, err error) {
	r.sinks = append(r.sinks, sink)
	r.errs = append(r.errs, err)
}

func TestMetered(t *testing.T) {
	boom := errors.New("boom")
	rec := &deliveryRecorder{}
	next := &mock.Sink{DeliverError: boom, FailAfter: 1}
	m := NewMetered("file", next, rec)

	require.NoError(t, m.Deliver(chunkOf(1, 0, 0)))
	assert.ErrorIs(t, m.Deliver(chunkOf(2, 0, 0)), boom)

	assert.Equal(t, []string{"file", "file"}, rec.sinks)
	assert.Nil(t, rec.errs[0])
	assert.ErrorIs(t, rec.errs[1], boom)
}
