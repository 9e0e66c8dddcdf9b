package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emmett/deskcap/internal/logging"
)

// Backend names accepted in capture.backend
const (
	BackendMalgo  = "malgo"
	BackendWASAPI = "wasapi"
)

// Config represents the application configuration
type Config struct {
	// Capture settings
	Capture struct {
		Backend           string        `yaml:"backend"`
		PollInterval      time.Duration `yaml:"poll_interval"`
		SlackFactor       int           `yaml:"slack_factor"`
		MaxPacketsPerTick int           `yaml:"max_packets_per_tick"`
		RingBufferMs      int           `yaml:"ring_buffer_ms"`
		Duration          time.Duration `yaml:"duration"`
	} `yaml:"capture"`

	// Output settings
	Output struct {
		File      string `yaml:"file"`
		Container string `yaml:"container"`
		Report    string `yaml:"report"`
	} `yaml:"output"`

	// Logging settings
	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	// Server settings; an empty address disables that server
	Server struct {
		HTTPAddr string `yaml:"http_addr"`
		GRPCAddr string `yaml:"grpc_addr"`
	} `yaml:"server"`

	// Hotkey settings
	Hotkey struct {
		Stop string `yaml:"stop"`
	} `yaml:"hotkey"`

	// Silence monitor settings
	Monitor struct {
		SilenceThreshold float64 `yaml:"silence_threshold"`
		SilentChunks     int     `yaml:"silent_chunks"`
	} `yaml:"monitor"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Capture defaults
	cfg.Capture.Backend = defaultBackend()
	cfg.Capture.PollInterval = 250 * time.Millisecond
	cfg.Capture.SlackFactor = 10
	cfg.Capture.MaxPacketsPerTick = 0
	cfg.Capture.RingBufferMs = 2000
	cfg.Capture.Duration = 0

	// Output defaults
	cfg.Output.File = "capture.raw"
	cfg.Output.Container = "raw"
	cfg.Output.Report = "console"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.MaxSizeMB = 50
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28

	// Monitor defaults
	cfg.Monitor.SilenceThreshold = 0.0005
	cfg.Monitor.SilentChunks = 8

	return cfg
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadWithFallback attempts to load configuration from multiple locations
// Priority: explicit path > ~/.deskcaprc > /etc/deskcap/config.yaml
func LoadWithFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(homeDir, ".deskcaprc")
		if _, err := os.Stat(userConfigPath); err == nil {
			return Load(userConfigPath)
		}
	}

	systemConfigPath := "/etc/deskcap/config.yaml"
	if _, err := os.Stat(systemConfigPath); err == nil {
		return Load(systemConfigPath)
	}

	return DefaultConfig(), nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	switch c.Capture.Backend {
	case BackendMalgo, BackendWASAPI:
	default:
		errs = append(errs, fmt.Errorf("capture.backend: unknown backend %q", c.Capture.Backend))
	}
	if c.Capture.PollInterval <= 0 {
		errs = append(errs, errors.New("capture.poll_interval must be positive"))
	}
	if c.Capture.SlackFactor < 1 {
		errs = append(errs, errors.New("capture.slack_factor must be at least 1"))
	}
	if c.Capture.MaxPacketsPerTick < 0 {
		errs = append(errs, errors.New("capture.max_packets_per_tick must not be negative"))
	}
	if c.Capture.RingBufferMs <= 0 {
		errs = append(errs, errors.New("capture.ring_buffer_ms must be positive"))
	}
	if c.Capture.Duration < 0 {
		errs = append(errs, errors.New("capture.duration must not be negative"))
	}

	switch c.Output.Container {
	case "raw", "wav":
	default:
		errs = append(errs, fmt.Errorf("output.container: want raw or wav, got %q", c.Output.Container))
	}
	switch c.Output.Report {
	case "console", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("output.report: want console, json or text, got %q", c.Output.Report))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: want text or json, got %q", c.Logging.Format))
	}

	if c.Monitor.SilenceThreshold < 0 {
		errs = append(errs, errors.New("monitor.silence_threshold must not be negative"))
	}
	if c.Monitor.SilentChunks < 1 {
		errs = append(errs, errors.New("monitor.silent_chunks must be at least 1"))
	}

	return errors.Join(errs...)
}

// LoggingConfig converts the logging section for logging.Init
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Format:     c.Logging.Format,
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}
