package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	hueStart = 236.0 // p = 0
	hueEnd   = 0.0   // p = 1
)

var (
	backgroundColor = color.White
	axisColor       = color.RGBA{R: 0xb0, G: 0xb0, B: 0xb0, A: 0xff}
	noDataColor     = color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}
)

// probabilityColor maps an apnea probability to a trace color on the hue
// scale from blue to red.
func probabilityColor(prob float32) color.Color {
	p := float64(prob)
	if math.IsNaN(p) {
		return noDataColor
	}
	p = math.Max(0, math.Min(1, p))

	hue := hueStart - p*(hueStart-hueEnd)
	return colorful.Hsv(hue, 1, 0.85)
}
