//go:build !windows

package audio

// WASAPIEngine is only functional on Windows
type WASAPIEngine struct{}

// NewWASAPIEngine returns an engine whose sessions fail with ErrBackendUnsupported
func NewWASAPIEngine(EngineConfig) *WASAPIEngine {
	return &WASAPIEngine{}
}

// NewSession implements Engine
func (e *WASAPIEngine) NewSession() (EngineSession, error) {
	return nil, ErrBackendUnsupported
}
