// Package input turns a global hotkey into a capture stop request.
package input

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.design/x/hotkey"
)

// StopHotkey fires onPress the first time its key combination is pressed
type StopHotkey struct {
	combo   string
	onPress func()

	mu     sync.Mutex
	hk     *hotkey.Hotkey
	cancel context.CancelFunc
	done   chan struct{}
	fired  bool
}

// NewStopHotkey parses combo (e.g. "ctrl+shift+s") without registering it
func NewStopHotkey(combo string, onPress func()) (*StopHotkey, error) {
	if _, _, err := parseHotkey(combo); err != nil {
		return nil, fmt.Errorf("invalid hotkey %q: %w", combo, err)
	}
	return &StopHotkey{combo: combo, onPress: onPress}, nil
}

// Start registers the hotkey and listens until ctx is done or Stop is called
func (h *StopHotkey) Start(ctx context.Context) error {
	mods, key, err := parseHotkey(h.combo)
	if err != nil {
		return fmt.Errorf("invalid hotkey: %w", err)
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey %q: %w", h.combo, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.mu.Lock()
	h.hk, h.cancel, h.done = hk, cancel, done
	h.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-hk.Keydown():
				if !ok {
					return
				}
				h.press()
			}
		}
	}()

	return nil
}

func (h *StopHotkey) press() {
	h.mu.Lock()
	first := !h.fired
	h.fired = true
	h.mu.Unlock()

	if first && h.onPress != nil {
		h.onPress()
	}
}

// Fired reports whether the hotkey has been pressed
func (h *StopHotkey) Fired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired
}

// Stop unregisters the hotkey
func (h *StopHotkey) Stop() {
	h.mu.Lock()
	hk, cancel, done := h.hk, h.cancel, h.done
	h.hk = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if hk != nil {
		hk.Unregister()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// parseHotkey parses a hotkey string like "ctrl+shift+s" into modifiers and key
func parseHotkey(s string) ([]hotkey.Modifier, hotkey.Key, error) {
	if strings.TrimSpace(s) == "" {
		return nil, 0, fmt.Errorf("empty hotkey string")
	}

	var mods []hotkey.Modifier
	var key hotkey.Key
	var keyFound bool

	for _, part := range strings.Split(strings.ToLower(s), "+") {
		part = strings.TrimSpace(part)
		switch part {
		case "ctrl", "control":
			mods = append(mods, hotkey.ModCtrl)
		case "shift":
			mods = append(mods, hotkey.ModShift)
		case "alt", "option":
			mods = append(mods, modAlt())
		case "cmd", "command", "super", "win":
			mods = append(mods, modSuper())
		default:
			if keyFound {
				return nil, 0, fmt.Errorf("multiple keys specified")
			}
			k, ok := keys[part]
			if !ok {
				return nil, 0, fmt.Errorf("unknown key: %s", part)
			}
			key = k
			keyFound = true
		}
	}

	if !keyFound {
		return nil, 0, fmt.Errorf("no key specified")
	}

	return mods, key, nil
}

var keys = map[string]hotkey.Key{
	"space": hotkey.KeySpace, "return": hotkey.KeyReturn, "enter": hotkey.KeyReturn,
	"tab": hotkey.KeyTab, "escape": hotkey.KeyEscape, "esc": hotkey.KeyEscape,

	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,

	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,

	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}
