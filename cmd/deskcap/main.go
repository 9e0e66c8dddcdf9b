package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/emmett/deskcap/internal/app"
	"github.com/emmett/deskcap/internal/config"
	"github.com/emmett/deskcap/internal/logging"
	"github.com/emmett/deskcap/internal/observe"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

// CLI flags
var (
	configFile   = flag.String("config", "", "Path to configuration file (default: ~/.deskcaprc or /etc/deskcap/config.yaml)")
	mode         = flag.String("mode", "record", "Operation mode: record, mcp")
	backend      = flag.String("backend", "", "Capture backend: malgo, wasapi (default depends on platform)")
	outputFile   = flag.String("output", "", "Output file for captured audio (default: capture.raw)")
	container    = flag.String("container", "", "Output container: raw, wav")
	reportFormat = flag.String("format", "", "Report format: console, json, text")
	duration     = flag.Duration("duration", 0, "Stop after this long (0 = until interrupted)")
	pollInterval = flag.Duration("poll-interval", 0, "Time between drain ticks (default: 250ms)")
	httpAddr     = flag.String("http", "", "Serve /stream, /metrics and /healthz on this address")
	grpcAddr     = flag.String("grpc", "", "Serve the gRPC chunk stream on this address")
	stopHotkey   = flag.String("hotkey", "", "Global hotkey that stops the capture (e.g. ctrl+shift+s)")
	logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat    = flag.String("log-format", "", "Log format: text, json")
	logFile      = flag.String("log-file", "", "Write logs to a rotating file instead of stderr")
	saveConfig   = flag.String("save-config", "", "Write the effective configuration to this path and exit")
	showVersion  = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("deskcap v%s\n", Version)
		fmt.Printf("  Commit:  %s\n", GitCommit)
		fmt.Printf("  Branch:  %s\n", GitBranch)
		fmt.Printf("  Built:   %s\n", BuildTime)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithFallback(*configFile)
	if err != nil {
		return err
	}

	// Explicit flags win over the config file
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if *saveConfig != "" {
		if err := cfg.Save(*saveConfig); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Configuration written to %s\n", *saveConfig)
		return nil
	}

	if err := logging.Init(cfg.LoggingConfig()); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Close()

	// stdout is reserved for the report (or the MCP protocol)
	fmt.Fprintf(os.Stderr, "deskcap v%s (commit: %s, branch: %s, built: %s)\n",
		Version, GitCommit, GitBranch, BuildTime)

	provider, err := observe.InitProvider(observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		provider.Shutdown(ctx)
	}()

	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx := context.Background()
	switch *mode {
	case "record":
		return app.NewRecorder(app.RecorderConfig{
			Config:   cfg,
			Metrics:  metrics,
			Gatherer: provider.Registry,
		}).Run(ctx)
	case "mcp":
		return app.NewMCPHandler(cfg, nil, metrics, Version, GitCommit).Run(ctx)
	default:
		return fmt.Errorf("unknown mode %q (valid: record, mcp)", *mode)
	}
}

func applyFlagOverrides(cfg *config.Config) {
	flagsSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		flagsSet[f.Name] = true
	})

	if flagsSet["backend"] {
		cfg.Capture.Backend = *backend
	}
	if flagsSet["output"] {
		cfg.Output.File = *outputFile
	}
	if flagsSet["container"] {
		cfg.Output.Container = *container
	}
	if flagsSet["format"] {
		cfg.Output.Report = *reportFormat
	}
	if flagsSet["duration"] {
		cfg.Capture.Duration = *duration
	}
	if flagsSet["poll-interval"] {
		cfg.Capture.PollInterval = *pollInterval
	}
	if flagsSet["http"] {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if flagsSet["grpc"] {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if flagsSet["hotkey"] {
		cfg.Hotkey.Stop = *stopHotkey
	}
	if flagsSet["log-level"] {
		cfg.Logging.Level = *logLevel
	}
	if flagsSet["log-format"] {
		cfg.Logging.Format = *logFormat
	}
	if flagsSet["log-file"] {
		cfg.Logging.File = *logFile
	}
}
