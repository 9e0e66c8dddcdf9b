package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Event represents a system event during capture (silence, client joins, ...)
type Event struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Formatter is the interface for session report formatters
type Formatter interface {
	// WriteEvent writes a system event (e.g., silence state changes)
	WriteEvent(eventType, message string) error

	// WriteReport writes the session summary
	WriteReport(report Report) error

	// Flush ensures all buffered output is written
	Flush() error

	// Close closes the formatter and releases resources
	Close() error
}

// NewFormatter returns the formatter for name: console, json or text
func NewFormatter(name string, w io.Writer) (Formatter, error) {
	switch name {
	case "", "console":
		return NewConsoleOutput(ConsoleConfig{Writer: w, ShowTimestamp: true}), nil
	case "json":
		return NewJSONFormatter(w), nil
	case "text":
		return NewPlainTextFormatter(w), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", name)
	}
}

// JSONFormatter writes one JSON object per event and per report
type JSONFormatter struct {
	encoder *json.Encoder
	events  []Event
	now     func() time.Time
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(writer io.Writer) *JSONFormatter {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return &JSONFormatter{
		encoder: encoder,
		now:     time.Now,
	}
}

// WriteEvent writes a system event
func (j *JSONFormatter) WriteEvent(eventType, message string) error {
	event := Event{
		Type:      eventType,
		Message:   message,
		Timestamp: j.now(),
	}
	j.events = append(j.events, event)
	return j.encoder.Encode(event)
}

// WriteReport writes the report with a "type" discriminator
func (j *JSONFormatter) WriteReport(report Report) error {
	return j.encoder.Encode(struct {
		Type string `json:"type"`
		Report
	}{Type: "report", Report: report})
}

// Flush is a no-op; the encoder writes immediately
func (j *JSONFormatter) Flush() error {
	return nil
}

// Close closes the formatter
func (j *JSONFormatter) Close() error {
	return nil
}

// Events returns every event written so far
func (j *JSONFormatter) Events() []Event {
	return j.events
}

// PlainTextFormatter writes key: value lines
type PlainTextFormatter struct {
	writer io.Writer
	now    func() time.Time
}

// NewPlainTextFormatter creates a new plain text formatter
func NewPlainTextFormatter(writer io.Writer) *PlainTextFormatter {
	return &PlainTextFormatter{
		writer: writer,
		now:    time.Now,
	}
}

// WriteEvent writes a system event
func (p *PlainTextFormatter) WriteEvent(eventType, message string) error {
	timestamp := p.now().Format("15:04:05")
	_, err := fmt.Fprintf(p.writer, "[%s] [%s] %s\n", timestamp, eventType, message)
	return err
}

// WriteReport writes the report one field per line
func (p *PlainTextFormatter) WriteReport(r Report) error {
	lines := []struct {
		key   string
		value any
	}{
		{"session", r.Session},
		{"state", r.State},
		{"format", r.Format},
		{"output", r.Output},
		{"chunks", r.Chunks},
		{"frames", r.Frames},
		{"bytes", r.Bytes},
		{"ticks", r.Ticks},
		{"empty_fills", r.EmptyFills},
		{"truncated_ticks", r.TruncatedTicks},
		{"buffer_grows", r.BufferGrows},
		{"scratch_bytes", r.ScratchBytes},
		{"duration", r.Duration.AsDuration().Round(time.Millisecond)},
		{"audio", r.Audio.AsDuration().Round(time.Millisecond)},
	}
	if r.Error != "" {
		lines = append(lines, struct {
			key   string
			value any
		}{"error", r.Error})
	}

	for _, l := range lines {
		if _, err := fmt.Fprintf(p.writer, "%s: %v\n", l.key, l.value); err != nil {
			return err
		}
	}
	return nil
}

// Flush ensures all buffered output is written
func (p *PlainTextFormatter) Flush() error {
	return nil
}

// Close closes the formatter
func (p *PlainTextFormatter) Close() error {
	return nil
}
