// Package dataset assembles labelled windows into train and validation sets.
package dataset

import (
	"math/rand"

	"github.com/roman-kulish/apnea-detection/internal/ecg"
)

// Dataset is an ordered collection of labelled windows.
type Dataset struct {
	Examples []ecg.Example
}

// Append adds examples preserving order.
func (d *Dataset) Append(examples ...ecg.Example) {
	d.Examples = append(d.Examples, examples...)
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Examples)
}

// Shuffle permutes the examples in place with a seeded source.
func (d *Dataset) Shuffle(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(d.Examples), func(i, j int) {
		d.Examples[i], d.Examples[j] = d.Examples[j], d.Examples[i]
	})
}

// Split returns the first floor(fraction*N) examples as the training set and
// the rest as the validation set, without reordering.
func (d *Dataset) Split(fraction float64) (train, val *Dataset) {
	n := int(fraction * float64(len(d.Examples)))
	n = max(0, min(n, len(d.Examples)))

	return &Dataset{Examples: d.Examples[:n:n]}, &Dataset{Examples: d.Examples[n:]}
}

// Counts returns the number of examples per label.
func (d *Dataset) Counts() map[ecg.Label]int {
	counts := make(map[ecg.Label]int)
	for _, ex := range d.Examples {
		counts[ex.Label]++
	}
	return counts
}

// ClassWeights returns balanced weights n / (k * count) for each label
// present, where k is the number of labels present. An empty dataset yields
// an empty map.
func (d *Dataset) ClassWeights() map[ecg.Label]float64 {
	counts := d.Counts()
	weights := make(map[ecg.Label]float64, len(counts))
	n, k := float64(len(d.Examples)), float64(len(counts))
	for label, c := range counts {
		weights[label] = n / (k * float64(c))
	}
	return weights
}

// Inputs returns the windows and the labels as 0/1 targets.
func (d *Dataset) Inputs() ([][]float32, []float32) {
	x := make([][]float32, len(d.Examples))
	y := make([]float32, len(d.Examples))
	for i, ex := range d.Examples {
		x[i] = ex.Window
		y[i] = float32(ex.Label)
	}
	return x, y
}
