// Package calibrate picks exemplar windows from a trained classifier and
// derives a decision threshold from them.
package calibrate

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoExemplar is returned when a scan finds no usable minute.
var ErrNoExemplar = errors.New("no usable minute found")

// Predictor returns the apnea probability of a single window.
type Predictor interface {
	PredictOne(window []float32) (float32, error)
}

// WindowSource returns the normalized window of a minute, or an error when
// the minute cannot be used.
type WindowSource func(minute int) ([]float32, error)

// Direction selects which extreme a scan keeps.
type Direction int

const (
	// Highest keeps the window with the largest probability.
	Highest Direction = iota
	// Lowest keeps the window with the smallest probability.
	Lowest
)

// Exemplar is the selected window of a scan.
type Exemplar struct {
	Record      string
	Minute      int
	Probability float32
	Window      []float32
}

// ScanResult reports a scan and its accounting.
type ScanResult struct {
	Exemplar
	Scanned int
	Skipped int
}

// Scan evaluates minutes [0, minutes) of a record and keeps the extreme
// probability in the given direction. Only a strictly better probability
// replaces the current best, so the earliest minute wins ties. Minutes whose
// window or prediction fails are skipped.
func Scan(ctx context.Context, p Predictor, record string, source WindowSource, minutes int, dir Direction) (ScanResult, error) {
	res := ScanResult{Exemplar: Exemplar{Record: record, Minute: -1}}

	best := float32(-1)
	if dir == Lowest {
		best = 2
	}

	for m := 0; m < minutes; m++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		window, err := source(m)
		if err != nil {
			res.Skipped++
			continue
		}
		prob, err := p.PredictOne(window)
		if err != nil {
			res.Skipped++
			continue
		}

		if (dir == Highest && prob > best) || (dir == Lowest && prob < best) {
			best = prob
			res.Minute, res.Probability, res.Window = m, prob, window
		}
	}

	if res.Window == nil {
		return res, fmt.Errorf("%w in %d minutes of %s", ErrNoExemplar, minutes, record)
	}
	return res, nil
}

// Calibration pairs the apnea and normal exemplars.
type Calibration struct {
	Apnea  Exemplar
	Normal Exemplar
}

// Threshold returns the midpoint of the two exemplar probabilities.
func (c Calibration) Threshold() float32 {
	return (c.Apnea.Probability + c.Normal.Probability) / 2
}

// Distinct reports whether the apnea probability exceeds the normal one by
// at least margin.
func (c Calibration) Distinct(margin float32) bool {
	return !(c.Apnea.Probability < c.Normal.Probability+margin)
}
