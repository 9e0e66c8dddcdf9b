package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ConsoleOutput writes human-facing status lines and the final report
type ConsoleOutput struct {
	mu            sync.Mutex
	writer        io.Writer
	errWriter     io.Writer
	showTimestamp bool
	now           func() time.Time
}

// ConsoleConfig configures console output behavior
type ConsoleConfig struct {
	// ShowTimestamp prefixes events with a timestamp
	ShowTimestamp bool

	// Writer is the output destination (default: os.Stdout)
	Writer io.Writer

	// ErrWriter receives Error lines (default: os.Stderr)
	ErrWriter io.Writer
}

// NewConsoleOutput creates a new console output handler
func NewConsoleOutput(config ConsoleConfig) *ConsoleOutput {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}
	errWriter := config.ErrWriter
	if errWriter == nil {
		errWriter = os.Stderr
	}

	return &ConsoleOutput{
		writer:        writer,
		errWriter:     errWriter,
		showTimestamp: config.ShowTimestamp,
		now:           time.Now,
	}
}

// DefaultConsoleOutput creates a console output with default settings
func DefaultConsoleOutput() *ConsoleOutput {
	return NewConsoleOutput(ConsoleConfig{ShowTimestamp: true})
}

// WriteEvent writes a system event on its own line
func (c *ConsoleOutput) WriteEvent(eventType, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.showTimestamp {
		fmt.Fprintf(c.writer, "\r[%s] %s: %s\n", c.now().Format("15:04:05"), eventType, message)
	} else {
		fmt.Fprintf(c.writer, "\r%s: %s\n", eventType, message)
	}
	return nil
}

// WriteReport prints a short human summary
func (c *ConsoleOutput) WriteReport(r Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.writer)
	fmt.Fprintf(c.writer, "Capture %s %s\n", r.Session, r.State)
	fmt.Fprintf(c.writer, "  Format:   %s\n", r.Format)
	fmt.Fprintf(c.writer, "  Captured: %s in %d chunks over %d ticks (%d empty)\n",
		formatBytes(r.Bytes), r.Chunks, r.Ticks, r.EmptyFills)
	fmt.Fprintf(c.writer, "  Duration: %s (%s of audio)\n",
		r.Duration.AsDuration().Round(time.Millisecond), r.Audio.AsDuration().Round(time.Millisecond))
	if r.Output != "" {
		fmt.Fprintf(c.writer, "  Output:   %s\n", r.Output)
	}
	if r.Error != "" {
		fmt.Fprintf(c.writer, "  Error:    %s\n", r.Error)
	}
	return nil
}

// Flush is a no-op for the console
func (c *ConsoleOutput) Flush() error {
	return nil
}

// Close is a no-op for the console
func (c *ConsoleOutput) Close() error {
	return nil
}

// WriteAudioLevel redraws the level meter on the current line
func (c *ConsoleOutput) WriteAudioLevel(level float64, silent bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	barLength := min(max(int(level*50), 0), 50)
	bar := strings.Repeat("=", barLength)

	mark := ""
	if silent {
		mark = " (silent)"
	}
	fmt.Fprintf(c.writer, "\rLevel: [%-50s] %5.1f%%%s", bar, level*100, mark)
	return nil
}

// Clear clears the current line
func (c *ConsoleOutput) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "\r%80s\r", " ")
	return nil
}

// Info writes an informational message
func (c *ConsoleOutput) Info(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "[INFO] %s\n", msg)
}

// Error writes an error message
func (c *ConsoleOutput) Error(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.errWriter, "[ERROR] %s\n", msg)
}

// Status writes a status message (typically overwritten)
func (c *ConsoleOutput) Status(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "\r[*] %s", msg)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
