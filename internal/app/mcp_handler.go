package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/emmett/deskcap/internal/audio"
	"github.com/emmett/deskcap/internal/config"
	"github.com/emmett/deskcap/internal/logging"
	"github.com/emmett/deskcap/internal/observe"
	"github.com/emmett/deskcap/internal/server/mcp"
	"github.com/emmett/deskcap/internal/sink"
	"github.com/emmett/deskcap/internal/stream"
)

// MCPHandler captures into an in-memory hub and exposes it as MCP tools over stdio
type MCPHandler struct {
	config    *config.Config
	engine    audio.Engine
	metrics   *observe.Metrics
	version   string
	gitCommit string
	stderr    io.Writer
}

// NewMCPHandler creates a new MCP handler. engine may be nil to use the configured backend.
func NewMCPHandler(cfg *config.Config, engine audio.Engine, metrics *observe.Metrics, version, gitCommit string) *MCPHandler {
	return &MCPHandler{
		config:    cfg,
		engine:    engine,
		metrics:   metrics,
		version:   version,
		gitCommit: gitCommit,
		stderr:    os.Stderr,
	}
}

// Run starts the capture and serves MCP until stdin closes or a signal arrives
func (h *MCPHandler) Run(ctx context.Context) error {
	fmt.Fprintf(h.stderr, "Starting MCP server...\n")
	fmt.Fprintf(h.stderr, "Protocol: Model Context Protocol (stdio transport)\n")
	fmt.Fprintf(h.stderr, "Version: %s (commit: %s)\n\n", h.version, h.gitCommit)
	h.printClientConfig()

	engine := h.engine
	if engine == nil {
		var err error
		if engine, err = NewEngine(h.config); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := stream.NewHub()
	var live audio.Sink = hub
	var rec audio.Recorder
	if h.metrics != nil {
		live = sink.NewMetered("hub", hub, h.metrics)
		rec = h.metrics
	}

	token := audio.NewCancellationToken()
	detach := token.StopOnContext(ctx)
	defer detach()

	capture, err := audio.StartCapture(engine, token, captureOptions(h.config, rec), live)
	if err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	defer stopCapture(capture, hub)

	server, err := mcp.NewServer(mcp.Config{
		ServerName:    "deskcap",
		ServerVersion: h.version,
		Capture:       capture,
		Hub:           hub,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	fmt.Fprintf(h.stderr, "MCP server ready. Capturing %s, listening on stdin/stdout...\n", capture.Format())
	logging.L("mcp").Info("mcp server ready", logging.KeySession, capture.ID())

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// stopCapture ends the session and the hub. The session may already have
// failed on its own while tools were being served.
func stopCapture(capture *audio.Capture, hub *stream.Hub) {
	if err := capture.Stop(); err != nil {
		logging.L("mcp").Error("capture ended with error",
			logging.KeySession, capture.ID(), logging.KeyError, err)
	}
	hub.Close()
}

func (h *MCPHandler) printClientConfig() {
	execPath, err := os.Executable()
	if err != nil {
		execPath = "deskcap"
	}

	type serverConfig struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
	}
	clientConfig := struct {
		MCPServers map[string]serverConfig `json:"mcpServers"`
	}{
		MCPServers: map[string]serverConfig{
			"deskcap": {Command: execPath, Args: []string{"-mode", "mcp"}},
		},
	}

	configJSON, err := json.MarshalIndent(clientConfig, "", "  ")
	if err == nil {
		fmt.Fprintf(h.stderr, "MCP Client Configuration:\n%s\n\n", string(configJSON))
	}
}
