// Package web serves the live capture stream over WebSocket alongside
// Prometheus metrics and a health endpoint.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emmett/deskcap/internal/audio"
	"github.com/emmett/deskcap/internal/logging"
	"github.com/emmett/deskcap/internal/stream"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Config holds server configuration
type Config struct {
	Addr string
	Hub  *stream.Hub

	// Gatherer backs /metrics. The endpoint is not mounted when nil.
	Gatherer prometheus.Gatherer

	// Format is announced to each WebSocket client before any audio
	Format audio.Format

	// Status, if set, is embedded in the /healthz response
	Status func() any

	// Buffer is the per-client chunk backlog before chunks are dropped
	Buffer int
}

// StreamHello is the first (text) message on /stream
type StreamHello struct {
	Encoding   string `json:"encoding"`
	SampleRate uint32 `json:"sample_rate"`
	Channels   uint32 `json:"channels"`
	FrameSize  uint32 `json:"frame_size"`
}

// Server is the HTTP server for the chunk stream and metrics
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
	log      *slog.Logger

	// connMu orders conns.Add against the close of stopping, so Stop never
	// waits while a new stream is being admitted.
	connMu   sync.Mutex
	stopOnce sync.Once
	stopping chan struct{}
	conns    sync.WaitGroup
}

// NewServer creates a new server. Nothing listens until Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Hub == nil {
		return nil, fmt.Errorf("web server: hub is required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     checkOrigin,
		},
		log:      logging.L("web"),
		stopping: make(chan struct{}),
	}, nil
}

// Non-browser clients send no Origin; browsers must come from this host
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Handler returns the routes without starting a listener
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start binds the address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = lis
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.log.Info("starting web server", "addr", lis.Addr().String())

	go func() {
		if err := s.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.log.Error("web server error", logging.KeyError, err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Stop shuts the server down and closes open streams
func (s *Server) Stop(ctx context.Context) error {
	s.connMu.Lock()
	s.stopOnce.Do(func() { close(s.stopping) })
	s.connMu.Unlock()
	if s.server == nil {
		return nil
	}

	s.log.Info("stopping web server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown failed: %w", err)
	}
	s.conns.Wait()

	s.log.Info("web server stopped")
	return nil
}

// admit registers a stream connection unless the server is stopping
func (s *Server) admit() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	select {
	case <-s.stopping:
		return false
	default:
	}
	s.conns.Add(1)
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"subscribers": s.cfg.Hub.Subscribers(),
		"published":   s.cfg.Hub.Published(),
	}
	if s.cfg.Status != nil {
		body["capture"] = s.cfg.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.admit() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.conns.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logging.KeyError, err)
		return
	}
	defer conn.Close()

	sub, unsubscribe := s.cfg.Hub.Subscribe(s.cfg.Buffer)
	defer unsubscribe()

	log := s.log.With("subscriber", sub.ID, "remote", r.RemoteAddr)
	log.Info("stream client connected")

	hello := StreamHello{
		Encoding:   "f32le",
		SampleRate: s.cfg.Format.SampleRate,
		Channels:   s.cfg.Format.Channels,
		FrameSize:  s.cfg.Format.FrameSize,
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(hello); err != nil {
		log.Warn("write hello failed", logging.KeyError, err)
		return
	}

	// Reads only serve to notice the client leaving
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopping:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			log.Info("stream client disconnected", "dropped", sub.Dropped())
			return
		case chunk, ok := <-sub.C:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "capture ended"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk.Data); err != nil {
				log.Warn("write chunk failed", logging.KeyError, err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}
