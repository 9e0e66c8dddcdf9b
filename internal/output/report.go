package output

import (
	"time"

	"github.com/emmett/deskcap/internal/audio"
)

// Report summarizes a finished (or still running) capture session
type Report struct {
	Session        string    `json:"session"`
	State          string    `json:"state"`
	Format         string    `json:"format"`
	Output         string    `json:"output,omitempty"`
	Chunks         uint64    `json:"chunks"`
	Frames         uint64    `json:"frames"`
	Bytes          uint64    `json:"bytes"`
	Ticks          uint64    `json:"ticks"`
	EmptyFills     uint64    `json:"empty_fills"`
	TruncatedTicks uint64    `json:"truncated_ticks"`
	BufferGrows    int       `json:"buffer_grows"`
	ScratchBytes   int       `json:"scratch_bytes"`
	StartedAt      time.Time `json:"started_at"`
	Duration       Seconds   `json:"duration_seconds"`
	Audio          Seconds   `json:"audio_seconds"`
	Error          string    `json:"error,omitempty"`
}

// Seconds marshals a duration as fractional seconds
type Seconds float64

// AsDuration converts back to a time.Duration
func (s Seconds) AsDuration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// CaptureView is the part of a capture a report is built from
type CaptureView interface {
	ID() string
	State() audio.State
	Format() audio.Format
	Stats() audio.Stats
	Err() error
}

// NewReport snapshots c. A session that has not stopped is measured up to now.
func NewReport(c CaptureView, outputPath string) Report {
	stats := c.Stats()
	end := stats.StoppedAt
	if end.IsZero() {
		end = time.Now()
	}

	r := Report{
		Session:        c.ID(),
		State:          c.State().String(),
		Format:         c.Format().String(),
		Output:         outputPath,
		Chunks:         stats.Chunks,
		Frames:         stats.Frames,
		Bytes:          stats.Bytes,
		Ticks:          stats.Ticks,
		EmptyFills:     stats.EmptyFills,
		TruncatedTicks: stats.Truncated,
		BufferGrows:    stats.Grows,
		ScratchBytes:   stats.ScratchBytes,
		StartedAt:      stats.StartedAt,
		Audio:          Seconds(c.Format().FrameDuration(stats.Frames).Seconds()),
	}
	if !stats.StartedAt.IsZero() {
		r.Duration = Seconds(end.Sub(stats.StartedAt).Seconds())
	}
	if err := c.Err(); err != nil {
		r.Error = err.Error()
	}
	return r
}
