//go:build windows

package audio

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"

	"github.com/emmett/deskcap/internal/logging"
)

// WASAPI COM GUIDs
var (
	clsidMMDeviceEnumerator = ole.NewGUID("{BCDE0395-E52F-467C-8E3D-C4579291692E}")
	iidIMMDeviceEnumerator  = ole.NewGUID("{A95664D2-9614-4F35-A746-DE8DB63617E6}")
	iidIAudioClient         = ole.NewGUID("{1CB9AD4C-DBFA-4C32-B178-C2F568A703B2}")
	iidIAudioCaptureClient  = ole.NewGUID("{C8ADBD64-E71E-48A0-A4DE-185C395CD317}")
	subtypeIEEEFloat        = ole.NewGUID("{00000003-0000-0010-8000-00AA00389B71}")
)

// WASAPI constants
const (
	eRender                = 0
	eConsole               = 0
	clsctxAll              = 0x1 | 0x2 | 0x4 | 0x10
	audclntShareModeShared = 0
	audclntStreamLoopback  = 0x00020000
	audclntBufferSilent    = 0x2
	waveFormatIEEEFloat    = 0x0003
	waveFormatExtensible   = 0xFFFE

	// offset of SubFormat inside WAVEFORMATEXTENSIBLE (packed WAVEFORMATEX + Samples + ChannelMask)
	extensibleSubFormatOffset = 18 + 2 + 4

	// loopback buffer duration in 100ns units
	loopbackBufferDuration = 10_000_000

	// COM vtable indices (IUnknown = 0,1,2; interface methods start at 3)
	mmdeGetDefaultAudioEndpoint = 4  // IMMDeviceEnumerator::GetDefaultAudioEndpoint
	mmDeviceActivate            = 3  // IMMDevice::Activate
	audioClientInitialize       = 3  // IAudioClient::Initialize
	audioClientGetMixFormat     = 8  // IAudioClient::GetMixFormat
	audioClientStart            = 10 // IAudioClient::Start
	audioClientStop             = 11 // IAudioClient::Stop
	audioClientGetService       = 14 // IAudioClient::GetService
	capClientGetBuffer          = 3  // IAudioCaptureClient::GetBuffer
	capClientReleaseBuffer      = 4  // IAudioCaptureClient::ReleaseBuffer
	capClientGetNextPacketSize  = 5  // IAudioCaptureClient::GetNextPacketSize
)

// WAVEFORMATEX layout
type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
}

// WASAPIEngine captures the default render endpoint in shared loopback mode
// through raw WASAPI COM calls.
type WASAPIEngine struct {
	log *slog.Logger
}

// NewWASAPIEngine creates a WASAPI loopback engine
func NewWASAPIEngine(config EngineConfig) *WASAPIEngine {
	log := config.Logger
	if log == nil {
		log = logging.L("engine")
	}
	return &WASAPIEngine{log: log.With("backend", "wasapi")}
}

// NewSession implements Engine
func (e *WASAPIEngine) NewSession() (EngineSession, error) {
	thread, err := newCOMThread()
	if err != nil {
		return nil, err
	}
	return &wasapiSession{thread: thread, log: e.log}, nil
}

// comThread serializes COM calls onto one locked OS thread in the MTA
type comThread struct {
	calls chan func()
	done  chan struct{}
}

func newCOMThread() (*comThread, error) {
	t := &comThread{calls: make(chan func()), done: make(chan struct{})}
	initErr := make(chan error, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(t.done)

		if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
			// S_FALSE means COM was already initialized on this thread
			if oleErr, ok := err.(*ole.OleError); !ok || oleErr.Code() != 1 {
				initErr <- fmt.Errorf("CoInitializeEx failed: %w", err)
				return
			}
		}
		defer ole.CoUninitialize()
		initErr <- nil

		for fn := range t.calls {
			fn()
		}
	}()

	if err := <-initErr; err != nil {
		return nil, err
	}
	return t, nil
}

func (t *comThread) do(fn func() error) error {
	errc := make(chan error, 1)
	t.calls <- func() { errc <- fn() }
	return <-errc
}

func (t *comThread) stop() {
	close(t.calls)
	<-t.done
}

type wasapiSession struct {
	thread *comThread
	log    *slog.Logger

	enumerator    *ole.IUnknown
	device        uintptr
	audioClient   uintptr
	captureClient uintptr

	mixFormat waveFormatEx
	isFloat   bool
	frameSize uint32
	started   bool

	closeOnce sync.Once
}

// comCall invokes a COM vtable method at the given index.
// obj is a pointer to a COM interface (pointer to pointer to vtable).
func comCall(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	fnPtr := *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(vtableIdx)*unsafe.Sizeof(uintptr(0))))
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(fnPtr, allArgs...)
	if int32(ret) < 0 {
		return ret, fmt.Errorf("COM vtable[%d]: %w", vtableIdx, ole.NewError(ret))
	}
	return ret, nil
}

// comRelease calls IUnknown::Release (vtable index 2)
func comRelease(obj uintptr) {
	if obj != 0 {
		vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
		fnPtr := *(*uintptr)(unsafe.Pointer(vtablePtr + 2*unsafe.Sizeof(uintptr(0))))
		syscall.SyscallN(fnPtr, obj)
	}
}

func (s *wasapiSession) Initialize() error {
	return s.thread.do(func() error {
		enumerator, err := ole.CreateInstance(clsidMMDeviceEnumerator, iidIMMDeviceEnumerator)
		if err != nil {
			return fmt.Errorf("CoCreateInstance MMDeviceEnumerator: %w", err)
		}
		s.enumerator = enumerator

		var device uintptr
		if _, err := comCall(uintptr(unsafe.Pointer(enumerator)), mmdeGetDefaultAudioEndpoint,
			eRender, eConsole, uintptr(unsafe.Pointer(&device))); err != nil {
			return fmt.Errorf("GetDefaultAudioEndpoint: %w", err)
		}
		s.device = device

		var audioClient uintptr
		if _, err := comCall(device, mmDeviceActivate,
			uintptr(unsafe.Pointer(iidIAudioClient)), clsctxAll, 0,
			uintptr(unsafe.Pointer(&audioClient))); err != nil {
			return fmt.Errorf("Activate IAudioClient: %w", err)
		}
		s.audioClient = audioClient

		var mixFormatPtr uintptr
		if _, err := comCall(audioClient, audioClientGetMixFormat, uintptr(unsafe.Pointer(&mixFormatPtr))); err != nil {
			return fmt.Errorf("GetMixFormat: %w", err)
		}
		defer ole.CoTaskMemFree(mixFormatPtr)

		s.mixFormat = *(*waveFormatEx)(unsafe.Pointer(mixFormatPtr))
		switch s.mixFormat.FormatTag {
		case waveFormatIEEEFloat:
			s.isFloat = true
		case waveFormatExtensible:
			sub := (*ole.GUID)(unsafe.Pointer(mixFormatPtr + extensibleSubFormatOffset))
			s.isFloat = ole.IsEqualGUID(sub, subtypeIEEEFloat)
		}
		s.frameSize = uint32(s.mixFormat.BlockAlign)

		s.log.Debug("WASAPI mix format",
			"channels", s.mixFormat.Channels,
			"sampleRate", s.mixFormat.SamplesPerSec,
			"bitsPerSample", s.mixFormat.BitsPerSample,
			"formatTag", s.mixFormat.FormatTag,
		)

		if _, err := comCall(audioClient, audioClientInitialize,
			audclntShareModeShared,
			audclntStreamLoopback,
			uintptr(loopbackBufferDuration),
			0,
			mixFormatPtr,
			0,
		); err != nil {
			return fmt.Errorf("Initialize: %w", err)
		}

		var captureClient uintptr
		if _, err := comCall(audioClient, audioClientGetService,
			uintptr(unsafe.Pointer(iidIAudioCaptureClient)),
			uintptr(unsafe.Pointer(&captureClient))); err != nil {
			return fmt.Errorf("GetService IAudioCaptureClient: %w", err)
		}
		s.captureClient = captureClient
		return nil
	})
}

func (s *wasapiSession) Start() error {
	return s.thread.do(func() error {
		if _, err := comCall(s.audioClient, audioClientStart); err != nil {
			return fmt.Errorf("Start: %w", err)
		}
		s.started = true
		return nil
	})
}

func (s *wasapiSession) Format() (Format, error) {
	return Format{
		Valid:         s.isFloat,
		FrameSize:     s.frameSize,
		Channels:      uint32(s.mixFormat.Channels),
		BitsPerSample: uint32(s.mixFormat.BitsPerSample),
		SampleRate:    s.mixFormat.SamplesPerSec,
	}, nil
}

func (s *wasapiSession) NextPacketSize() (uint32, error) {
	var frames uint32
	err := s.thread.do(func() error {
		_, err := comCall(s.captureClient, capClientGetNextPacketSize, uintptr(unsafe.Pointer(&frames)))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("GetNextPacketSize: %w", err)
	}
	return frames, nil
}

// Fill copies at most capacity frames of the next packet into dst.
// Frames beyond capacity are released with the packet and lost.
func (s *wasapiSession) Fill(_, capacity uint32, dst []byte) (uint32, error) {
	var written uint32
	err := s.thread.do(func() error {
		var dataPtr uintptr
		var numFrames, flags uint32
		if _, err := comCall(s.captureClient, capClientGetBuffer,
			uintptr(unsafe.Pointer(&dataPtr)),
			uintptr(unsafe.Pointer(&numFrames)),
			uintptr(unsafe.Pointer(&flags)),
			0, 0,
		); err != nil {
			return fmt.Errorf("GetBuffer: %w", err)
		}

		written = min(numFrames, capacity, uint32(len(dst))/s.frameSize)
		n := int(written * s.frameSize)
		if flags&audclntBufferSilent != 0 || dataPtr == 0 {
			clear(dst[:n])
		} else {
			copy(dst[:n], unsafe.Slice((*byte)(unsafe.Pointer(dataPtr)), n))
		}

		if _, err := comCall(s.captureClient, capClientReleaseBuffer, uintptr(numFrames)); err != nil {
			return fmt.Errorf("ReleaseBuffer: %w", err)
		}
		if numFrames > written {
			s.log.Debug("packet larger than fill capacity, discarding", "frames", numFrames-written)
		}
		return nil
	})
	return written, err
}

func (s *wasapiSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.thread.do(func() error {
			if s.started {
				_, _ = comCall(s.audioClient, audioClientStop)
			}
			comRelease(s.captureClient)
			comRelease(s.audioClient)
			comRelease(s.device)
			if s.enumerator != nil {
				s.enumerator.Release()
			}
			return nil
		})
		s.thread.stop()
	})
	return nil
}
