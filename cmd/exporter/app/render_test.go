package app

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/roman-kulish/apnea-detection/internal/calibrate"
)

func TestDrawEnvelope(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 11))
	ink := color.RGBA{R: 0xff, A: 0xff}
	window := []float32{-1, 1, 0, 0, 1, 1, -1, float32(math.NaN())}

	drawEnvelope(img, img.Bounds(), window, 1, ink)

	tests := []struct {
		x, y int
		set  bool
	}{
		{0, 0, true},
		{0, 5, true},
		{0, 10, true},
		{1, 5, true},
		{1, 4, false},
		{2, 0, true},
		{2, 1, false},
		{3, 10, true},
		{3, 9, false},
	}
	for _, tt := range tests {
		got := img.RGBAAt(tt.x, tt.y) == ink
		if got != tt.set {
			t.Errorf("Pixel (%d, %d): expected set=%v, got %v", tt.x, tt.y, tt.set, got)
		}
	}
}

func TestPeak(t *testing.T) {
	nan := float32(math.NaN())
	if got := peak([]float32{0.5, -2, nan}, []float32{1.5}); got != 2 {
		t.Errorf("Expected peak 2, got %v", got)
	}
	if got := peak([]float32{0, nan}); got != 1 {
		t.Errorf("Expected fallback peak 1, got %v", got)
	}
}

func TestProbabilityColor(t *testing.T) {
	lr, _, lb, _ := probabilityColor(0).RGBA()
	hr, _, hb, _ := probabilityColor(1).RGBA()

	if lb <= lr {
		t.Errorf("Expected blue trace for p=0, got r=%d b=%d", lr, lb)
	}
	if hr <= hb {
		t.Errorf("Expected red trace for p=1, got r=%d b=%d", hr, hb)
	}
	if got := probabilityColor(float32(math.NaN())); got != color.Color(noDataColor) {
		t.Errorf("Expected neutral color for NaN, got %+v", got)
	}
}

func TestRender(t *testing.T) {
	window := make([]float32, 100)
	for i := range window {
		window[i] = float32(math.Sin(float64(i) / 5))
	}
	c := calibrate.Calibration{
		Apnea:  calibrate.Exemplar{Record: "a01", Minute: 3, Probability: 0.9, Window: window},
		Normal: calibrate.Exemplar{Record: "c01", Minute: 7, Probability: 0.1, Window: window},
	}

	r := NewExemplarRenderer(RenderConfig{Width: 200, PanelHeight: 50, SampleRate: 100})
	img, err := r.Render(c)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if size := img.Bounds().Size(); size.X != 240 || size.Y != 210 {
		t.Errorf("Expected 240x210 image, got %v", size)
	}

	if err = writeImage(filepath.Join(t.TempDir(), "plot.jpg"), img); err != nil {
		t.Errorf("writeImage failed: %v", err)
	}

	if _, err = r.Render(calibrate.Calibration{Apnea: c.Apnea}); err == nil {
		t.Error("Expected error for an empty exemplar")
	}
}
