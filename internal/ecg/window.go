// Package ecg turns single-lead ECG records into normalized one-minute
// windows labelled from per-minute apnea annotations.
package ecg

import (
	"errors"
	"math"
)

var (
	// ErrShortWindow is returned when fewer samples than a full window are
	// available.
	ErrShortWindow = errors.New("window is shorter than expected")

	// ErrNonFinite is returned when a window contains NaN or Inf samples.
	ErrNonFinite = errors.New("window contains non-finite samples")

	// ErrDegenerate is returned when the window statistics are non-finite or
	// the standard deviation is zero or below epsilon.
	ErrDegenerate = errors.New("window has degenerate statistics")
)

// Normalize returns the z-score normalized copy of window, which must hold
// exactly size samples. The standard deviation is the population one.
func Normalize(window []float32, size int, epsilon float64) ([]float32, error) {
	if len(window) != size {
		return nil, ErrShortWindow
	}

	var sum float64
	for _, v := range window {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrNonFinite
		}
		sum += f
	}
	mean := sum / float64(size)

	var sq float64
	for _, v := range window {
		d := float64(v) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(size))

	if math.IsNaN(mean) || math.IsInf(mean, 0) || math.IsNaN(std) || math.IsInf(std, 0) || std == 0 || std < epsilon {
		return nil, ErrDegenerate
	}

	out := make([]float32, size)
	for i, v := range window {
		out[i] = float32((float64(v) - mean) / std)
	}
	return out, nil
}
