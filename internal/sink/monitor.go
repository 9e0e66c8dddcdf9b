package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/emmett/deskcap/internal/audio"
	"github.com/emmett/deskcap/internal/logging"
)

// LevelRecorder receives the RMS level of each chunk
type LevelRecorder interface {
	RecordLevel(ctx context.Context, rms float64)
}

// Monitor measures the level of every chunk, reports silence transitions and
// then passes the chunk on unchanged.
type Monitor struct {
	next     audio.Sink
	detector *audio.SilenceDetector
	rec      LevelRecorder
	log      *slog.Logger

	mu     sync.Mutex
	rms    float64
	peak   float64
	silent bool

	// OnSilence, if set, is called with true when a silent stretch starts
	// and false when audio resumes
	OnSilence func(silent bool)
}

// NewMonitor wraps next. rec may be nil.
func NewMonitor(next audio.Sink, cfg audio.SilenceConfig, rec LevelRecorder) *Monitor {
	return &Monitor{
		next:     next,
		detector: audio.NewSilenceDetector(cfg),
		rec:      rec,
		log:      logging.L("monitor"),
	}
}

// Deliver implements audio.Sink
func (m *Monitor) Deliver(chunk audio.Chunk) error {
	rms, peak := audio.Level(chunk.Data)
	if m.rec != nil {
		m.rec.RecordLevel(context.Background(), rms)
	}

	silent, started, ended := m.detector.Process(rms)

	m.mu.Lock()
	m.rms, m.peak, m.silent = rms, peak, silent
	m.mu.Unlock()

	switch {
	case started:
		m.log.Info("desktop audio went silent", "seq", chunk.Seq)
	case ended:
		m.log.Info("desktop audio resumed", "seq", chunk.Seq, "rms", rms)
	}
	if (started || ended) && m.OnSilence != nil {
		m.OnSilence(silent)
	}

	return m.next.Deliver(chunk)
}

// Level returns the RMS and peak of the last chunk and whether the stream is silent
func (m *Monitor) Level() (rms, peak float64, silent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rms, m.peak, m.silent
}
