package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func f32le(samples ...float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func TestLevel(t *testing.T) {
	rms, peak := Level(nil)
	assert.Zero(t, rms)
	assert.Zero(t, peak)

	rms, peak = Level(f32le(0, 0, 0, 0))
	assert.Zero(t, rms)
	assert.Zero(t, peak)

	rms, peak = Level(f32le(0.5, -0.5, 0.5, -0.5))
	assert.InDelta(t, 0.5, rms, 1e-9)
	assert.InDelta(t, 0.5, peak, 1e-9)

	rms, peak = Level(f32le(1, 0, 0, 0))
	assert.InDelta(t, 0.5, rms, 1e-9)
	assert.InDelta(t, 1.0, peak, 1e-9)

	// Partial trailing sample is ignored
	rms, _ = Level(append(f32le(0.5), 0xFF))
	assert.InDelta(t, 0.5, rms, 1e-9)
}

func TestSilenceDetector(t *testing.T) {
	d := NewSilenceDetector(SilenceConfig{Threshold: 0.01, SilentChunks: 3})

	silent, started, ended := d.Process(0.5)
	assert.False(t, silent)
	assert.False(t, started)
	assert.False(t, ended)

	d.Process(0.001)
	_, started, _ = d.Process(0.001)
	assert.False(t, started)

	silent, started, _ = d.Process(0.0)
	assert.True(t, silent)
	assert.True(t, started)
	assert.True(t, d.IsSilent())

	silent, started, _ = d.Process(0.0)
	assert.True(t, silent)
	assert.False(t, started, "start is reported once")

	silent, _, ended = d.Process(0.2)
	assert.False(t, silent)
	assert.True(t, ended)

	d.Process(0)
	d.Reset()
	assert.False(t, d.IsSilent())
}
