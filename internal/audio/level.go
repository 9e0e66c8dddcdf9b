package audio

import (
	"encoding/binary"
	"math"
)

// Level calculates the RMS and peak amplitude of interleaved 32-bit float
// little-endian samples. Trailing bytes that do not form a whole sample are ignored.
func Level(data []byte) (rms, peak float64) {
	sampleCount := len(data) / 4
	if sampleCount == 0 {
		return 0, 0
	}

	var sum float64
	for i := 0; i < sampleCount; i++ {
		sample := float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		if math.IsNaN(sample) {
			continue
		}
		sum += sample * sample
		if a := math.Abs(sample); a > peak {
			peak = a
		}
	}

	return math.Sqrt(sum / float64(sampleCount)), peak
}

// SilenceConfig holds configuration for silence detection
type SilenceConfig struct {
	// Threshold is the RMS level at or below which a chunk counts as silent.
	// Typical values: 0.0001 to 0.01 (lower = only true digital silence)
	Threshold float64

	// SilentChunks is the number of consecutive silent chunks before reporting silence
	SilentChunks int
}

// DefaultSilenceConfig returns a default configuration (about 2s at a 250ms poll)
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		Threshold:    0.0005,
		SilentChunks: 8,
	}
}

// SilenceDetector tracks whether the captured mix has gone quiet
type SilenceDetector struct {
	config      SilenceConfig
	silentCount int
	silent      bool
}

// NewSilenceDetector creates a new silence detector
func NewSilenceDetector(config SilenceConfig) *SilenceDetector {
	if config.SilentChunks <= 0 {
		config.SilentChunks = 1
	}
	return &SilenceDetector{config: config}
}

// Process feeds one chunk's RMS level and returns whether the stream is silent
// and whether this chunk started or ended a silent stretch.
func (d *SilenceDetector) Process(rms float64) (silent, started, ended bool) {
	if rms <= d.config.Threshold {
		d.silentCount++
		if !d.silent && d.silentCount >= d.config.SilentChunks {
			d.silent = true
			started = true
		}
	} else {
		d.silentCount = 0
		if d.silent {
			d.silent = false
			ended = true
		}
	}
	return d.silent, started, ended
}

// IsSilent returns whether a silent stretch is in progress
func (d *SilenceDetector) IsSilent() bool {
	return d.silent
}

// Reset resets the detector state
func (d *SilenceDetector) Reset() {
	d.silentCount = 0
	d.silent = false
}
