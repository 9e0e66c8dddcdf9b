package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/deskcap/internal/audio"
	"github.com/emmett/deskcap/internal/stream"
)

// DefaultMaxClipSeconds bounds a single capture_clip call
const DefaultMaxClipSeconds = 30

// CaptureSource is the running capture the tools report on
type CaptureSource interface {
	ID() string
	State() audio.State
	Stats() audio.Stats
	Format() audio.Format
}

type Config struct {
	ServerName     string
	ServerVersion  string
	Capture        CaptureSource
	Hub            *stream.Hub
	MaxClipSeconds float64
}

type Server struct {
	config    Config
	mcpServer *sdk.Server
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Capture == nil || cfg.Hub == nil {
		return nil, fmt.Errorf("mcp server: capture and hub are required")
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "deskcap"
	}
	if cfg.MaxClipSeconds <= 0 {
		cfg.MaxClipSeconds = DefaultMaxClipSeconds
	}

	s := &Server{config: cfg}
	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)

	s.registerTools()
	return s, nil
}

// Start serves over stdio until ctx is done or the client disconnects
func (s *Server) Start(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &sdk.StdioTransport{})
}

// Connect serves a single session over t
func (s *Server) Connect(ctx context.Context, t sdk.Transport) (*sdk.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "capture_status",
		Description: "Report the state, negotiated format and counters of the running loopback capture",
	}, s.handleCaptureStatus)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name: "capture_clip",
		Description: fmt.Sprintf("Record the next few seconds of system audio (at most %.0f) and return it as a WAV clip",
			s.config.MaxClipSeconds),
	}, s.handleCaptureClip)
}

// clipTimeout leaves headroom over real time for engine latency
func clipTimeout(seconds float64) time.Duration {
	return time.Duration(seconds*1.5*float64(time.Second)) + 2*time.Second
}
