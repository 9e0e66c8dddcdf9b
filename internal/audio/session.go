package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/emmett/deskcap/internal/logging"
)

// DefaultPollInterval is the drain frequency used when Options leaves it unset
const DefaultPollInterval = 250 * time.Millisecond

// State is a point in the capture session lifecycle
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateValidating
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

// String returns the lower-case state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateValidating:
		return "validating"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Recorder receives capture telemetry. A nil Recorder disables it.
type Recorder interface {
	RecordTick(ctx context.Context, stats TickStats, elapsed time.Duration)
	RecordCaptureError(ctx context.Context, kind string)
	AddActiveCaptures(ctx context.Context, delta int64)
}

// Options configures a capture session
type Options struct {
	// PollInterval is the time between drain ticks. Lower values reduce
	// per-tick backlog and latency at higher overhead.
	PollInterval time.Duration

	// SlackFactor is passed to the Drainer (zero = DefaultSlackFactor)
	SlackFactor uint32

	// MaxPacketsPerTick is passed to the Drainer (zero = unbounded)
	MaxPacketsPerTick int

	// Logger defaults to the "capture" component logger
	Logger *slog.Logger

	// Recorder is optional
	Recorder Recorder
}

// Stats accumulates drain results over the life of a capture
type Stats struct {
	Ticks        uint64
	Packets      uint64
	Chunks       uint64
	EmptyFills   uint64
	Frames       uint64
	Bytes        uint64
	Truncated    uint64
	Grows        int
	ScratchBytes int
	StartedAt    time.Time
	StoppedAt    time.Time
}

// Capture is a running capture session. It is terminal once stopped or failed;
// start a new one to capture again.
type Capture struct {
	id       string
	format   Format
	session  EngineSession
	drainer  *Drainer
	token    *CancellationToken
	interval time.Duration
	log      *slog.Logger
	rec      Recorder

	state atomic.Int32
	done  chan struct{}

	mu    sync.Mutex
	stats Stats
	err   error
}

// StartCapture starts an engine session, validates the negotiated format and
// begins draining it into sink every opts.PollInterval until token is stopped.
//
// It returns synchronously: a *FormatError when the engine negotiated an
// unsupported format, an *EngineError when the engine could not be brought up.
// In both cases the engine session is closed and sink is never called.
func StartCapture(engine Engine, token *CancellationToken, opts Options, sink Sink) (*Capture, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.L("capture")
	}
	if token == nil {
		token = NewCancellationToken()
	}

	c := &Capture{
		id:       uuid.NewString(),
		token:    token,
		interval: opts.PollInterval,
		rec:      opts.Recorder,
		done:     make(chan struct{}),
	}
	c.log = opts.Logger.With(slog.String(logging.KeySession, c.id))

	c.setState(StateStarting)
	session, err := engine.NewSession()
	if err != nil {
		c.setState(StateFailed)
		return nil, engineErr("create session", err)
	}
	c.session = session

	if err := session.Initialize(); err != nil {
		return nil, c.abort(engineErr("initialize", err))
	}
	if err := session.Start(); err != nil {
		return nil, c.abort(engineErr("start", err))
	}

	format, err := session.Format()
	if err != nil {
		return nil, c.abort(engineErr("query format", err))
	}
	c.format = format

	c.setState(StateValidating)
	if err := ValidateFormat(format); err != nil {
		return nil, c.abort(err)
	}

	c.drainer = NewDrainer(session, sink, DrainConfig{
		FrameSize:         format.FrameSize,
		SlackFactor:       opts.SlackFactor,
		MaxPacketsPerTick: opts.MaxPacketsPerTick,
	})
	c.stats.StartedAt = time.Now()
	c.setState(StateRunning)
	if c.rec != nil {
		c.rec.AddActiveCaptures(context.Background(), 1)
	}
	c.log.Info("capture started", "format", format.String(), "interval", c.interval)

	go c.run()
	return c, nil
}

// abort tears down a session that never reached Running
func (c *Capture) abort(err error) error {
	c.setState(StateFailed)
	if cerr := c.session.Close(); cerr != nil {
		c.log.Warn("engine close after failed start", logging.KeyError, cerr)
	}
	c.log.Warn("capture start failed", logging.KeyError, err)
	if c.rec != nil {
		c.rec.RecordCaptureError(context.Background(), errorKind(err))
	}
	return err
}

func (c *Capture) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-c.token.Done():
		}

		if c.token.IsStopRequested() {
			c.setState(StateStopping)
			c.finish(nil)
			return
		}

		if err := c.tick(); err != nil {
			c.finish(err)
			return
		}
	}
}

func (c *Capture) tick() error {
	start := time.Now()
	ts, err := c.drainer.Drain()
	elapsed := time.Since(start)

	c.mu.Lock()
	c.stats.Ticks++
	c.stats.Packets += uint64(ts.Packets)
	c.stats.Chunks += uint64(ts.Chunks)
	c.stats.EmptyFills += uint64(ts.EmptyFills)
	c.stats.Frames += ts.Frames
	c.stats.Bytes += ts.Bytes
	if ts.Truncated {
		c.stats.Truncated++
	}
	c.stats.Grows = c.drainer.Scratch().Grows()
	c.stats.ScratchBytes = c.drainer.Scratch().Cap()
	c.mu.Unlock()

	if c.rec != nil {
		c.rec.RecordTick(context.Background(), ts, elapsed)
	}
	if ts.Grew {
		c.log.Debug("scratch buffer grown", "bytes", c.drainer.Scratch().Cap())
	}
	if ts.EmptyFills > 0 {
		c.log.Debug("engine returned empty fills", "count", ts.EmptyFills)
	}
	if err != nil && c.rec != nil {
		c.rec.RecordCaptureError(context.Background(), errorKind(err))
	}
	return err
}

// finish releases the engine and moves to the terminal state
func (c *Capture) finish(err error) {
	if cerr := c.session.Close(); cerr != nil {
		c.log.Warn("engine close failed", logging.KeyError, cerr)
	}

	c.mu.Lock()
	c.err = err
	c.stats.StoppedAt = time.Now()
	stats := c.stats
	c.mu.Unlock()

	if c.rec != nil {
		c.rec.AddActiveCaptures(context.Background(), -1)
	}

	if err != nil {
		c.setState(StateFailed)
		c.log.Error("capture failed", logging.KeyError, err, "chunks", stats.Chunks)
		return
	}
	c.setState(StateStopped)
	c.log.Info("capture stopped", "chunks", stats.Chunks, "bytes", stats.Bytes, "ticks", stats.Ticks)
}

func (c *Capture) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if c.log != nil && prev != s {
		c.log.Debug("capture state", "from", prev.String(), "to", s.String())
	}
}

// ID returns the session identifier used in logs
func (c *Capture) ID() string {
	return c.id
}

// Format returns the negotiated (and accepted) format
func (c *Capture) Format() Format {
	return c.format
}

// State returns the current lifecycle state
func (c *Capture) State() State {
	return State(c.state.Load())
}

// Token returns the cancellation token driving this capture
func (c *Capture) Token() *CancellationToken {
	return c.token
}

// Stats returns a snapshot of the cumulative drain statistics
func (c *Capture) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Done is closed once the capture has reached Stopped or Failed
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Err returns the fatal error, if any, once Done is closed
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until the capture is over and returns its fatal error, if any
func (c *Capture) Wait() error {
	<-c.done
	return c.Err()
}

// Stop requests a stop and waits for the capture to finish
func (c *Capture) Stop() error {
	c.token.RequestStop()
	return c.Wait()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrFormatRejected):
		return "format_rejected"
	case errors.Is(err, ErrOverrun):
		return "overrun"
	case errors.Is(err, ErrEngineFault):
		return "engine_fault"
	case errors.Is(err, ErrSinkFault):
		return "sink_fault"
	default:
		return "unknown"
	}
}
