package audio

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/emmett/deskcap/internal/logging"
)

// EngineConfig holds the parameters shared by the capture engines
type EngineConfig struct {
	SampleRate   uint32 // Requested sample rate (e.g., 48000)
	Channels     uint32 // Requested channel count (e.g., 2 for stereo)
	PeriodFrames uint32 // Device period in frames; zero means 10ms
	RingBufferMs int    // Capacity of the callback ring buffer in milliseconds
	Logger       *slog.Logger
}

// DefaultEngineConfig returns the configuration for the supported profile
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SampleRate:   SupportedFormat.SampleRate,
		Channels:     SupportedFormat.Channels,
		RingBufferMs: 2000,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.SampleRate == 0 {
		c.SampleRate = SupportedFormat.SampleRate
	}
	if c.Channels == 0 {
		c.Channels = SupportedFormat.Channels
	}
	if c.PeriodFrames == 0 {
		c.PeriodFrames = c.SampleRate / 100
	}
	if c.RingBufferMs <= 0 {
		c.RingBufferMs = 2000
	}
	if c.Logger == nil {
		c.Logger = logging.L("engine")
	}
	return c
}

// MalgoEngine captures the default output mix through miniaudio.
// On Windows it opens a WASAPI loopback device; elsewhere it opens the default
// capture device, which must be a monitor of the output (e.g. a PulseAudio
// ".monitor" source) to capture desktop audio.
type MalgoEngine struct {
	config EngineConfig
}

// NewMalgoEngine creates a malgo-backed engine
func NewMalgoEngine(config EngineConfig) *MalgoEngine {
	return &MalgoEngine{config: config.withDefaults()}
}

// NewSession implements Engine
func (e *MalgoEngine) NewSession() (EngineSession, error) {
	return &malgoSession{
		config: e.config,
		log:    e.config.Logger.With("backend", "malgo"),
	}, nil
}

// malgoSession adapts miniaudio's push callback to the pull model: the device
// callback appends whole frames to a ring buffer that Fill drains.
type malgoSession struct {
	config EngineConfig
	log    *slog.Logger

	malgoContext *malgo.AllocatedContext
	device       *malgo.Device
	ring         *RingBuffer
	frameSize    uint32

	dropped   atomic.Uint64
	closeOnce sync.Once
}

func (s *malgoSession) Initialize() error {
	var backends []malgo.Backend
	deviceType := malgo.Capture
	if runtime.GOOS == "windows" {
		backends = []malgo.Backend{malgo.BackendWasapi}
		deviceType = malgo.Loopback
	}

	malgoCtx, err := malgo.InitContext(backends, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	s.malgoContext = malgoCtx

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = s.config.Channels
	deviceConfig.SampleRate = s.config.SampleRate
	deviceConfig.PeriodSizeInFrames = s.config.PeriodFrames

	callbacks := malgo.DeviceCallbacks{
		Data: s.onData,
	}

	device, err := malgo.InitDevice(s.malgoContext.Context, deviceConfig, callbacks)
	if err != nil {
		s.releaseContext()
		return fmt.Errorf("failed to initialize device: %w", err)
	}
	s.device = device

	s.frameSize = uint32(malgo.SampleSizeInBytes(device.CaptureFormat())) * device.CaptureChannels()
	if s.frameSize == 0 {
		return fmt.Errorf("device reported an empty frame")
	}

	frames := int(device.SampleRate()) * s.config.RingBufferMs / 1000
	s.ring = NewRingBuffer(frames * int(s.frameSize))
	return nil
}

// onData runs on the miniaudio thread
func (s *malgoSession) onData(_, input []byte, framecount uint32) {
	want := int(framecount * s.frameSize)
	if want > len(input) {
		want = len(input) - len(input)%int(s.frameSize)
	}

	fit := s.ring.Free() / int(s.frameSize) * int(s.frameSize)
	n := s.ring.Write(input[:min(want, fit)])
	if n < want {
		if s.dropped.Add(uint64(want-n)) == uint64(want-n) {
			s.log.Warn("ring buffer overflow, dropping frames", "bytes", want-n)
		}
	}
}

func (s *malgoSession) Start() error {
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	return nil
}

func (s *malgoSession) Format() (Format, error) {
	if s.device == nil {
		return Format{}, fmt.Errorf("device not initialized")
	}
	sampleBytes := uint32(malgo.SampleSizeInBytes(s.device.CaptureFormat()))
	return Format{
		Valid:         s.device.CaptureFormat() == malgo.FormatF32,
		FrameSize:     s.frameSize,
		Channels:      s.device.CaptureChannels(),
		BitsPerSample: sampleBytes * 8,
		SampleRate:    s.device.SampleRate(),
	}, nil
}

// NextPacketSize reports buffered whole frames, at most one device period
func (s *malgoSession) NextPacketSize() (uint32, error) {
	frames := uint32(s.ring.Available()) / s.frameSize
	return min(frames, s.config.PeriodFrames), nil
}

func (s *malgoSession) Fill(_, capacity uint32, dst []byte) (uint32, error) {
	limit := uint64(capacity) * uint64(s.frameSize)
	if limit > uint64(len(dst)) {
		limit = uint64(len(dst))
	}
	limit -= limit % uint64(s.frameSize)
	n := s.ring.Read(dst[:limit])
	return uint32(n) / s.frameSize, nil
}

func (s *malgoSession) Close() error {
	s.closeOnce.Do(func() {
		if s.device != nil {
			s.device.Uninit()
		}
		s.releaseContext()
		if d := s.dropped.Load(); d > 0 {
			s.log.Warn("capture dropped data on overflow", "bytes", d)
		}
	})
	return nil
}

func (s *malgoSession) releaseContext() {
	if s.malgoContext != nil {
		_ = s.malgoContext.Uninit()
		s.malgoContext.Free()
		s.malgoContext = nil
	}
}
