package ecg

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// DominantFrequency returns the frequency in Hz of the strongest non-DC
// component of window. It returns 0 for windows shorter than two samples.
func DominantFrequency(window []float32, sampleRate float64) float64 {
	n := len(window)
	if n < 2 {
		return 0
	}

	frame := make([]float64, n)
	for i, v := range window {
		frame[i] = float64(v)
	}
	spectrum := fft.FFTReal(frame)

	best, bestMag := 0, 0.0
	for k := 1; k <= n/2; k++ {
		if mag := cmplx.Abs(spectrum[k]); mag > bestMag {
			best, bestMag = k, mag
		}
	}

	return float64(best) * sampleRate / float64(n)
}
