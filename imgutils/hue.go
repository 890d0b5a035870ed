// Package imgutils has the small pixel helpers the marker detector is built from.
package imgutils

import (
	colorful "github.com/lucasb-eyer/go-colorful"
)

// NoHue is returned for achromatic pixels, whose hue is undefined.
const NoHue = -1

// Hue returns the hue of an 8-bit RGB pixel in degrees, [0, 360), or NoHue when r == g == b.
func Hue(r, g, b uint8) float64 {
	if r == g && g == b {
		return NoHue
	}
	h, _, _ := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}.Hsv()
	return h
}

// HueWindow is an open, non-wrapping interval of hues.
type HueWindow struct {
	Low, High float64
}

// NewHueWindow centers a window of +-tolerance on center. A window near 0 or 360 is not wrapped.
func NewHueWindow(center, tolerance float64) HueWindow {
	return HueWindow{Low: center - tolerance, High: center + tolerance}
}

// Contains is strict at both ends. NoHue is never contained, even by a window reaching below 0.
func (w HueWindow) Contains(hue float64) bool {
	if hue < 0 {
		return false
	}
	return w.Low < hue && hue < w.High
}
