package grpc

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/emmett/deskcap/internal/audio"
	"github.com/emmett/deskcap/internal/logging"
	"github.com/emmett/deskcap/internal/stream"
)

// Metadata keys sent in the stream header
const (
	HeaderSampleRate = "x-deskcap-sample-rate"
	HeaderChannels   = "x-deskcap-channels"
	HeaderFrameSize  = "x-deskcap-frame-size"
)

const defaultStopTimeout = 5 * time.Second

// Server wraps the gRPC server and the chunk stream service
type Server struct {
	grpcServer  *grpc.Server
	hub         *stream.Hub
	format      audio.Format
	buffer      int
	stopTimeout time.Duration
	log         *slog.Logger
}

// Config holds server configuration
type Config struct {
	Hub *stream.Hub

	// Format is advertised to clients in the stream header
	Format audio.Format

	// Buffer is the per-client chunk backlog before chunks are dropped
	Buffer int

	// StopTimeout bounds the graceful stop before streams are cut
	StopTimeout time.Duration
}

// NewServer creates a new gRPC server
func NewServer(cfg Config, opts ...grpc.ServerOption) (*Server, error) {
	if cfg.Hub == nil {
		return nil, fmt.Errorf("grpc server: hub is required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	s := &Server{
		grpcServer:  grpc.NewServer(opts...),
		hub:         cfg.Hub,
		format:      cfg.Format,
		buffer:      cfg.Buffer,
		stopTimeout: cfg.StopTimeout,
		log:         logging.L("grpc"),
	}
	RegisterCaptureStreamServer(s.grpcServer, s)
	return s, nil
}

// Start serves on lis until Stop is called
func (s *Server) Start(lis net.Listener) error {
	s.log.Info("grpc server listening", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, cutting open streams after the stop timeout
func (s *Server) Stop() {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		s.log.Warn("graceful stop timed out, closing streams")
		s.grpcServer.Stop()
	}
}

// Subscribe implements CaptureStreamServer
func (s *Server) Subscribe(_ *emptypb.Empty, srv grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	sub, unsubscribe := s.hub.Subscribe(s.buffer)
	defer unsubscribe()

	log := s.log.With("subscriber", sub.ID)
	log.Info("client subscribed")

	if s.format.FrameSize > 0 {
		md := metadata.Pairs(
			HeaderSampleRate, strconv.FormatUint(uint64(s.format.SampleRate), 10),
			HeaderChannels, strconv.FormatUint(uint64(s.format.Channels), 10),
			HeaderFrameSize, strconv.FormatUint(uint64(s.format.FrameSize), 10),
		)
		if err := srv.SendHeader(md); err != nil {
			return err
		}
	}

	ctx := srv.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info("client went away", "dropped", sub.Dropped())
			return nil
		case chunk, ok := <-sub.C:
			if !ok {
				log.Info("stream ended", "dropped", sub.Dropped())
				return nil
			}
			if err := srv.Send(wrapperspb.Bytes(chunk.Data)); err != nil {
				log.Warn("send failed", logging.KeyError, err)
				return err
			}
		}
	}
}
