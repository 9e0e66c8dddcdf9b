// Package sink provides delivery sinks for captured chunks: raw and WAV files,
// fan-out and wrappers that observe the stream on its way through.
package sink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/emmett/deskcap/internal/audio"
)

const fileBufferSize = 64 * 1024

// RawFile appends raw interleaved samples to a file, exactly as delivered.
// The result can be converted with e.g.
//
//	ffmpeg -f f32le -ac 2 -ar 48000 -i output.bin output.wav
type RawFile struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	w     *bufio.Writer
	bytes uint64
}

// CreateRawFile creates (or truncates) path for raw output
func CreateRawFile(path string) (*RawFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &RawFile{path: path, file: f, w: bufio.NewWriterSize(f, fileBufferSize)}, nil
}

// Deliver implements audio.Sink
func (r *RawFile) Deliver(chunk audio.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return os.ErrClosed
	}
	n, err := r.w.Write(chunk.Data)
	r.bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", r.path, err)
	}
	return nil
}

// Bytes returns the number of sample bytes written so far
func (r *RawFile) Bytes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// Path returns the output file path
func (r *RawFile) Path() string {
	return r.path
}

// Close flushes buffered data and closes the file
func (r *RawFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	flushErr := r.w.Flush()
	closeErr := r.file.Close()
	r.file = nil
	if flushErr != nil {
		return fmt.Errorf("failed to flush %s: %w", r.path, flushErr)
	}
	return closeErr
}

// WAV header layout
const (
	wavHeaderSize      = 44
	wavFormatPCM       = 1
	wavFormatIEEEFloat = 3
)

// WriteWAVHeader writes a canonical 44-byte RIFF/WAVE header for dataBytes of
// samples in format. IEEE float formats get format tag 3, others PCM.
func WriteWAVHeader(w io.Writer, format audio.Format, dataBytes uint32) error {
	tag := uint16(wavFormatPCM)
	if format.Valid {
		tag = wavFormatIEEEFloat
	}

	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataBytes) // ChunkSize
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16) // Subchunk1Size
	binary.LittleEndian.PutUint16(hdr[20:22], tag)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], format.SampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(format.BytesPerSecond())) // ByteRate
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(format.FrameSize))        // BlockAlign
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(format.BitsPerSample))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataBytes) // Subchunk2Size

	_, err := w.Write(hdr[:])
	return err
}

// WAV writes chunks into a WAV container. The header is written with zero
// sizes on creation and patched on Close.
type WAV struct {
	*RawFile
	format audio.Format
}

// CreateWAV creates (or truncates) path and writes a provisional header
func CreateWAV(path string, format audio.Format) (*WAV, error) {
	raw, err := CreateRawFile(path)
	if err != nil {
		return nil, err
	}
	if err := WriteWAVHeader(raw.w, format, 0); err != nil {
		_ = raw.file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return &WAV{RawFile: raw, format: format}, nil
}

// Close patches the RIFF and data sizes and closes the file.
// Sizes saturate at 4 GiB, the limit of the container.
func (w *WAV) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	defer func() {
		_ = w.file.Close()
		w.file = nil
	}()

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", w.path, err)
	}

	dataBytes := uint32(min(w.bytes, math.MaxUint32-36))
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s: %w", w.path, err)
	}
	if err := WriteWAVHeader(w.file, w.format, dataBytes); err != nil {
		return fmt.Errorf("failed to patch WAV header: %w", err)
	}
	return nil
}
