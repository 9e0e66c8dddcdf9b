package app

import (
	"fmt"

	"github.com/emmett/deskcap/internal/audio"
	"github.com/emmett/deskcap/internal/config"
	"github.com/emmett/deskcap/internal/logging"
)

// NewEngine builds the capture engine named by cfg.Capture.Backend
func NewEngine(cfg *config.Config) (audio.Engine, error) {
	ec := audio.DefaultEngineConfig()
	ec.RingBufferMs = cfg.Capture.RingBufferMs
	ec.Logger = logging.L("engine").With("backend", cfg.Capture.Backend)

	switch cfg.Capture.Backend {
	case config.BackendMalgo:
		return audio.NewMalgoEngine(ec), nil
	case config.BackendWASAPI:
		return audio.NewWASAPIEngine(ec), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.Capture.Backend)
	}
}

// captureOptions maps the capture section onto session options
func captureOptions(cfg *config.Config, rec audio.Recorder) audio.Options {
	return audio.Options{
		PollInterval:      cfg.Capture.PollInterval,
		SlackFactor:       uint32(cfg.Capture.SlackFactor),
		MaxPacketsPerTick: cfg.Capture.MaxPacketsPerTick,
		Logger:            logging.L("capture"),
		Recorder:          rec,
	}
}

func silenceConfig(cfg *config.Config) audio.SilenceConfig {
	return audio.SilenceConfig{
		Threshold:    cfg.Monitor.SilenceThreshold,
		SilentChunks: cfg.Monitor.SilentChunks,
	}
}
