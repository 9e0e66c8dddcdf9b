//go:build windows

package input

import "golang.design/x/hotkey"

// modAlt returns the Alt modifier for Windows
func modAlt() hotkey.Modifier {
	return hotkey.ModAlt
}

// modSuper returns the Windows-key modifier
func modSuper() hotkey.Modifier {
	return hotkey.ModWin
}
