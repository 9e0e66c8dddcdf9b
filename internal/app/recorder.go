package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/emmett/deskcap/internal/audio"
	"github.com/emmett/deskcap/internal/config"
	"github.com/emmett/deskcap/internal/input"
	"github.com/emmett/deskcap/internal/logging"
	"github.com/emmett/deskcap/internal/observe"
	"github.com/emmett/deskcap/internal/output"
	grpcserver "github.com/emmett/deskcap/internal/server/grpc"
	"github.com/emmett/deskcap/internal/server/web"
	"github.com/emmett/deskcap/internal/sink"
	"github.com/emmett/deskcap/internal/stream"
)

const levelRefresh = 200 * time.Millisecond

// RecorderConfig holds configuration for a recording run
type RecorderConfig struct {
	Config *config.Config

	// Engine overrides the backend named in Config
	Engine audio.Engine

	// Metrics is optional; Gatherer backs /metrics when the HTTP server runs
	Metrics  *observe.Metrics
	Gatherer prometheus.Gatherer

	// Stdout receives the report, Stderr status lines (defaults: os.Stdout, os.Stderr)
	Stdout io.Writer
	Stderr io.Writer
}

// Recorder captures desktop audio into a file and any network listeners
type Recorder struct {
	config RecorderConfig
	log    *slog.Logger
}

// NewRecorder creates a new Recorder instance
func NewRecorder(config RecorderConfig) *Recorder {
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	return &Recorder{config: config, log: logging.L("recorder")}
}

// outputFile is the file sink plus the close step that finalizes it
type outputFile struct {
	audio.Sink
	path  string
	close func() error
}

func openOutput(cfg *config.Config) (*outputFile, error) {
	path := cfg.Output.File
	if path == "" {
		return nil, nil
	}
	switch cfg.Output.Container {
	case "wav":
		// Any other format is rejected before the first chunk is written
		w, err := sink.CreateWAV(path, audio.SupportedFormat)
		if err != nil {
			return nil, err
		}
		return &outputFile{Sink: w, path: path, close: w.Close}, nil
	default:
		f, err := sink.CreateRawFile(path)
		if err != nil {
			return nil, err
		}
		return &outputFile{Sink: f, path: path, close: f.Close}, nil
	}
}

// Run records until interrupted, the configured duration elapses, the stop
// hotkey is pressed or the capture fails
func (r *Recorder) Run(ctx context.Context) error {
	cfg := r.config.Config

	formatter, err := output.NewFormatter(cfg.Output.Report, r.config.Stdout)
	if err != nil {
		return err
	}
	defer formatter.Close()

	status := output.NewConsoleOutput(output.ConsoleConfig{
		ShowTimestamp: true,
		Writer:        r.config.Stderr,
		ErrWriter:     r.config.Stderr,
	})

	engine := r.config.Engine
	if engine == nil {
		if engine, err = NewEngine(cfg); err != nil {
			return err
		}
	}

	out, err := openOutput(cfg)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}

	hub := stream.NewHub()
	monitor := r.buildChain(out, hub, formatter)

	token := audio.NewCancellationToken()
	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	detach := token.StopOnContext(sigCtx)
	defer detach()

	var rec audio.Recorder
	if r.config.Metrics != nil {
		rec = r.config.Metrics
	}

	capture, err := audio.StartCapture(engine, token, captureOptions(cfg, rec), monitor)
	if err != nil {
		hub.Close()
		if out != nil {
			out.close()
		}
		return fmt.Errorf("failed to start capture: %w", err)
	}

	status.Info(fmt.Sprintf("Capturing desktop audio: %s (session %s)", capture.Format(), capture.ID()))
	if out != nil {
		status.Info(fmt.Sprintf("Writing %s to %s", cfg.Output.Container, out.path))
	}

	if cfg.Capture.Duration > 0 {
		timer := time.AfterFunc(cfg.Capture.Duration, token.RequestStop)
		defer timer.Stop()
		status.Info(fmt.Sprintf("Stopping after %s", cfg.Capture.Duration))
	}

	if cfg.Hotkey.Stop != "" {
		if hk, err := input.NewStopHotkey(cfg.Hotkey.Stop, token.RequestStop); err != nil {
			status.Error(err.Error())
		} else if err := hk.Start(ctx); err != nil {
			// A missing display server should not prevent recording
			r.log.Warn("stop hotkey unavailable", logging.KeyError, err)
		} else {
			defer hk.Stop()
			status.Info(fmt.Sprintf("Press %s to stop.", cfg.Hotkey.Stop))
		}
	}
	status.Info("Press Ctrl+C to stop.")

	meterDone := make(chan struct{})
	if cfg.Output.Report == "console" {
		go showLevel(status, monitor, capture.Done(), meterDone)
	} else {
		close(meterDone)
	}

	serveErr := r.serve(ctx, capture, hub)

	captureErr := capture.Wait()
	<-meterDone
	if cfg.Output.Report == "console" {
		status.Clear()
	}

	if out != nil {
		if err := out.close(); err != nil {
			status.Error(fmt.Sprintf("failed to finalize %s: %v", out.path, err))
		}
	}

	if err := formatter.WriteReport(output.NewReport(capture, outputPath(out))); err != nil {
		r.log.Warn("failed to write report", logging.KeyError, err)
	}
	formatter.Flush()

	if out != nil && cfg.Output.Container == "raw" && captureErr == nil {
		f := capture.Format()
		status.Info(fmt.Sprintf("Convert with: ffmpeg -f f32le -ar %d -ac %d -i %s %s.wav",
			f.SampleRate, f.Channels, out.path, out.path))
	}

	if captureErr != nil {
		return fmt.Errorf("capture failed: %w", captureErr)
	}
	return serveErr
}

// buildChain wires file and hub behind per-sink metering and a level monitor
func (r *Recorder) buildChain(out *outputFile, hub *stream.Hub, formatter output.Formatter) *sink.Monitor {
	m := r.config.Metrics

	var file audio.Sink
	if out != nil {
		file = out
	}
	var live audio.Sink = hub

	if m != nil {
		if file != nil {
			file = sink.NewMetered("file", file, m)
		}
		live = sink.NewMetered("hub", hub, m)
		hub.OnDrop = func(*stream.Subscription) {
			m.RecordSinkDropped(context.Background(), "hub", 1)
		}
	}

	var lr sink.LevelRecorder
	if m != nil {
		lr = m
	}
	monitor := sink.NewMonitor(sink.NewFanout(file, live), silenceConfig(r.config.Config), lr)
	monitor.OnSilence = func(silent bool) {
		msg := "audio resumed"
		if silent {
			msg = "silence started"
		}
		formatter.WriteEvent("silence", msg)
	}
	return monitor
}

// serve runs the network listeners and the level meter for as long as the
// capture runs. A listener failure stops the capture.
func (r *Recorder) serve(ctx context.Context, capture *audio.Capture, hub *stream.Hub) error {
	cfg := r.config.Config
	g, gctx := errgroup.WithContext(ctx)

	var webSrv *web.Server
	if cfg.Server.HTTPAddr != "" {
		s, err := web.NewServer(web.Config{
			Addr:     cfg.Server.HTTPAddr,
			Hub:      hub,
			Gatherer: r.config.Gatherer,
			Format:   capture.Format(),
			Status:   func() any { return capture.State().String() },
		})
		if err == nil {
			err = s.Start(gctx)
		}
		if err != nil {
			capture.Token().RequestStop()
			return fmt.Errorf("failed to start web server: %w", err)
		}
		webSrv = s
	}

	var grpcSrv *grpcserver.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			capture.Token().RequestStop()
			if webSrv != nil {
				webSrv.Stop(context.Background())
			}
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
		}
		grpcSrv, err = grpcserver.NewServer(grpcserver.Config{Hub: hub, Format: capture.Format()})
		if err != nil {
			lis.Close()
			capture.Token().RequestStop()
			if webSrv != nil {
				webSrv.Stop(context.Background())
			}
			return err
		}
		g.Go(func() error { return grpcSrv.Start(lis) })
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			capture.Token().RequestStop()
			<-capture.Done()
		case <-capture.Done():
		}

		hub.Close()
		if grpcSrv != nil {
			grpcSrv.Stop()
		}
		if webSrv != nil {
			return webSrv.Stop(context.Background())
		}
		return nil
	})

	return g.Wait()
}

// showLevel redraws the console level meter until done is closed
func showLevel(status *output.ConsoleOutput, monitor *sink.Monitor, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	ticker := time.NewTicker(levelRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_, peak, silent := monitor.Level()
			status.WriteAudioLevel(peak, silent)
		}
	}
}

func outputPath(out *outputFile) string {
	if out == nil {
		return ""
	}
	return out.path
}
