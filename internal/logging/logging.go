// Package logging configures the process-wide slog logger and hands out
// component-tagged loggers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Key constants for structured log fields.
const (
	KeyComponent = "component"
	KeySession   = "session"
	KeyError     = "error"
)

// Config selects the handler, level and destination.
type Config struct {
	Format     string // "text" or "json"
	Level      string // "debug", "info", "warn", "error"
	File       string // empty = stderr
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// switchableHandler lets loggers created before Init pick up the configured
// handler once Init runs.
type switchableHandler struct {
	current *atomic.Pointer[handlerBox]
	attrs   []slog.Attr
	groups  []string
	cache   atomic.Pointer[materialized]
}

type handlerBox struct {
	slog.Handler
}

// materialized is the derived handler built for one installed handlerBox.
type materialized struct {
	box     *handlerBox
	handler slog.Handler
}

func (h *switchableHandler) materialize() slog.Handler {
	box := h.current.Load()
	if len(h.groups) == 0 && len(h.attrs) == 0 {
		return box.Handler
	}
	if m := h.cache.Load(); m != nil && m.box == box {
		return m.handler
	}

	handler := box.Handler
	for _, group := range h.groups {
		handler = handler.WithGroup(group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	h.cache.Store(&materialized{box: box, handler: handler})
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.materialize().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.materialize().Handle(ctx, record)
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &switchableHandler{current: h.current, attrs: merged, groups: h.groups}
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &switchableHandler{current: h.current, attrs: h.attrs, groups: groups}
}

var (
	current     atomic.Pointer[handlerBox]
	rootHandler = &switchableHandler{current: &current}
	rootLogger  = slog.New(rootHandler)
	closer      io.Closer
)

func init() {
	current.Store(&handlerBox{slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})})
}

// Init installs the configured handler. Loggers obtained from L before Init
// switch over as well.
func Init(cfg Config) error {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = lj
		if closer != nil {
			_ = closer.Close()
		}
		closer = lj
	}

	handler, err := newHandler(cfg.Format, lvl, out)
	if err != nil {
		return err
	}
	current.Store(&handlerBox{handler})
	slog.SetDefault(rootLogger)
	return nil
}

// InitWriter installs a handler that writes to w. Mostly useful in tests.
func InitWriter(format, level string, w io.Writer) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	handler, err := newHandler(format, lvl, w)
	if err != nil {
		return err
	}
	current.Store(&handlerBox{handler})
	return nil
}

// Close releases the rotating log file, if any.
func Close() error {
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

func newHandler(format string, lvl slog.Level, w io.Writer) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", format)
	}
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return rootLogger.With(slog.String(KeyComponent, component))
}

// ParseLevel converts a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", s)
	}
}
