package cnn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
)

const probEpsilon = 1e-7

// FitConfig controls training.
type FitConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	ClipNorm     float64
	Seed         int64

	// ClassWeights scales the loss of samples with target 0 and 1. Missing
	// classes weigh 1.
	ClassWeights map[int]float64

	// OnEpoch is called after every epoch.
	OnEpoch func(EpochStats)
}

// Validate checks the training parameters.
func (c FitConfig) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	}
	return nil
}

// EpochStats are the metrics of one training epoch.
type EpochStats struct {
	Epoch       int // 1-based
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
	HasVal      bool
}

// History holds per-epoch statistics.
type History []EpochStats

// Last returns the statistics of the final epoch.
func (h History) Last() (EpochStats, bool) {
	if len(h) == 0 {
		return EpochStats{}, false
	}
	return h[len(h)-1], true
}

// bce is the binary cross-entropy of probability p clipped to
// [1e-7, 1-1e-7] against target y.
func bce(p, y float32) float64 {
	pp := math.Min(math.Max(float64(p), probEpsilon), 1-probEpsilon)
	return -(float64(y)*math.Log(pp) + (1-float64(y))*math.Log(1-pp))
}

func classWeight(weights map[int]float64, y float32) float64 {
	if w, ok := weights[int(y)]; ok {
		return w
	}
	return 1
}

// Fit trains the model on x/y for cfg.Epochs epochs of shuffled mini-batches
// and evaluates on xVal/yVal after every epoch when given. The batch loss is
// the weighted sum divided by the batch size.
func (m *Model) Fit(ctx context.Context, x [][]float32, y []float32, xVal [][]float32, yVal []float32, cfg FitConfig) (History, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(x) != len(y) || len(xVal) != len(yVal) {
		return nil, errors.New("inputs and targets differ in length")
	}
	if len(x) == 0 {
		return nil, errors.New("no training samples")
	}
	for i, w := range x {
		if len(w) != m.inputLen {
			return nil, fmt.Errorf("training window %d: %w", i, ErrInputShape)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	opt := NewAdam(cfg.LearningRate, cfg.ClipNorm)
	params := m.Params()

	var history History
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		order := rng.Perm(len(x))

		var lossSum float64
		correct := 0
		for start := 0; start < len(order); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return history, err
			}

			end := min(start+cfg.BatchSize, len(order))
			batch := float32(end - start)

			for _, p := range params {
				p.zeroGrad()
			}
			for _, idx := range order[start:end] {
				target := y[idx]
				w := classWeight(cfg.ClassWeights, target)

				p := m.forward(x[idx])
				lossSum += w * bce(p, target)
				if (p > 0.5) == (target > 0.5) {
					correct++
				}

				m.backward(float32(w) * (p - target) / batch)
			}
			opt.Step(params)
		}

		stats := EpochStats{
			Epoch:    epoch,
			Loss:     lossSum / float64(len(x)),
			Accuracy: float64(correct) / float64(len(x)),
		}
		if len(xVal) > 0 {
			var err error
			if stats.ValLoss, stats.ValAccuracy, err = m.Evaluate(xVal, yVal); err != nil {
				return history, fmt.Errorf("evaluating epoch %d: %w", epoch, err)
			}
			stats.HasVal = true
		}
		history = append(history, stats)

		m.logger.Debug("epoch finished",
			slog.Int("epoch", epoch),
			slog.Float64("loss", stats.Loss),
			slog.Float64("accuracy", stats.Accuracy),
		)
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(stats)
		}
	}

	return history, nil
}

// Evaluate returns the unweighted mean binary cross-entropy and the accuracy
// at a 0.5 decision threshold.
func (m *Model) Evaluate(x [][]float32, y []float32) (loss, accuracy float64, err error) {
	if len(x) != len(y) {
		return 0, 0, errors.New("inputs and targets differ in length")
	}
	if len(x) == 0 {
		return 0, 0, errors.New("no samples to evaluate")
	}

	probs, err := m.Predict(x)
	if err != nil {
		return 0, 0, err
	}

	correct := 0
	for i, p := range probs {
		loss += bce(p, y[i])
		if (p > 0.5) == (y[i] > 0.5) {
			correct++
		}
	}
	n := float64(len(x))
	return loss / n, float64(correct) / n, nil
}
