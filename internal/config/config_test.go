package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.PollInterval)
	assert.Equal(t, 10, cfg.Capture.SlackFactor)
	assert.Equal(t, "raw", cfg.Output.Container)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskcap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
capture:
  backend: malgo
  poll_interval: 100ms
  duration: 10s
output:
  file: out.wav
  container: wav
  report: json
server:
  http_addr: 127.0.0.1:9090
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.Capture.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Capture.Duration)
	assert.Equal(t, "wav", cfg.Output.Container)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)

	// Untouched sections keep their defaults
	assert.Equal(t, 10, cfg.Capture.SlackFactor)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capture:\n  backend: alsa\n  slack_factor: 0\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture.backend")
	assert.Contains(t, err.Error(), "capture.slack_factor")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithFallbackUsesHomeRC(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, ".deskcaprc"), []byte("output:\n  report: text\n"), 0644))

	cfg, err := LoadWithFallback("")
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Output.Report)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.Duration = 3 * time.Second
	cfg.Hotkey.Stop = "ctrl+shift+s"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"poll interval", func(c *Config) { c.Capture.PollInterval = 0 }, "poll_interval"},
		{"negative packets", func(c *Config) { c.Capture.MaxPacketsPerTick = -1 }, "max_packets_per_tick"},
		{"container", func(c *Config) { c.Output.Container = "flac" }, "output.container"},
		{"report", func(c *Config) { c.Output.Report = "xml" }, "output.report"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"silent chunks", func(c *Config) { c.Monitor.SilentChunks = 0 }, "monitor.silent_chunks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.File = "/tmp/deskcap.log"
	lc := cfg.LoggingConfig()
	assert.Equal(t, "/tmp/deskcap.log", lc.File)
	assert.Equal(t, 50, lc.MaxSizeMB)
}
