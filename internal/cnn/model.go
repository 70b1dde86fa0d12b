// Package cnn implements a small sequential 1-D convolutional binary
// classifier with training and persistence.
package cnn

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrInputShape is returned when a window does not match the model input.
var ErrInputShape = errors.New("input does not match model shape")

type shape struct {
	steps, channels int
}

// Model is a sequential stack of layers taking a single-channel window and
// producing one probability.
type Model struct {
	inputLen int
	layers   []Layer
	names    []string
	shapes   []shape // output shape of every layer

	logger *slog.Logger
}

// WithLogger sets the logger for the model
func WithLogger(logger *slog.Logger) func(m *Model) {
	return func(m *Model) {
		m.logger = logger
	}
}

// New builds a model over inputLen steps. Weights are initialized from rng;
// a nil rng leaves them zeroed for loading.
func New(inputLen int, layers []Layer, rng *rand.Rand, options ...func(m *Model)) (*Model, error) {
	if inputLen <= 0 {
		return nil, fmt.Errorf("invalid input length %d", inputLen)
	}
	if len(layers) == 0 {
		return nil, errors.New("model has no layers")
	}

	m := Model{
		inputLen: inputLen,
		layers:   layers,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&m)
	}

	steps, channels := inputLen, 1
	counts := make(map[string]int)
	for i, l := range layers {
		var err error
		if steps, channels, err = l.Build(steps, channels, rng); err != nil {
			return nil, fmt.Errorf("building layer %d: %w", i, err)
		}
		m.shapes = append(m.shapes, shape{steps, channels})

		name := l.Kind()
		if n := counts[name]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		counts[l.Kind()]++
		m.names = append(m.names, name)
	}

	if steps*channels != 1 {
		return nil, fmt.Errorf("model output shape (%d, %d), expected a single unit", steps, channels)
	}
	if a, ok := layers[len(layers)-1].(activated); !ok || a.activation() != Sigmoid {
		return nil, errors.New("last layer must have a sigmoid activation")
	}

	return &m, nil
}

// SmallLayers returns the fixed apnea classifier architecture.
func SmallLayers() []Layer {
	return []Layer{
		&Conv1D{Filters: 8, KernelSize: 7, Stride: 2, Act: ReLU},
		&MaxPool1D{Pool: 2},
		&Conv1D{Filters: 16, KernelSize: 5, Stride: 2, Act: ReLU},
		&MaxPool1D{Pool: 2},
		&Conv1D{Filters: 32, KernelSize: 3, Stride: 2, Act: ReLU},
		&GlobalAvgPool1D{},
		&Dense{Units: 32, Act: ReLU},
		&Dense{Units: 1, Act: Sigmoid},
	}
}

// NewSmall builds the fixed apnea classifier for windows of inputLen samples.
func NewSmall(inputLen int, rng *rand.Rand, options ...func(m *Model)) (*Model, error) {
	return New(inputLen, SmallLayers(), rng, options...)
}

// InputLen returns the expected window length.
func (m *Model) InputLen() int {
	return m.inputLen
}

// Params returns every trainable tensor in layer order.
func (m *Model) Params() []*Param {
	var ps []*Param
	for _, l := range m.layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// CountParams returns the number of trainable scalars.
func (m *Model) CountParams() int {
	n := 0
	for _, p := range m.Params() {
		n += len(p.Value)
	}
	return n
}

func (m *Model) forward(window []float32) float32 {
	x := FromWindow(window)
	for _, l := range m.layers {
		x = l.Forward(x)
	}
	return x.Data[0]
}

// backward propagates dz, the loss gradient with respect to the last
// layer's pre-activation.
func (m *Model) backward(dz float32) {
	last := m.layers[len(m.layers)-1].(activated)
	grad := last.backwardPre(&Tensor{Steps: 1, Channels: 1, Data: []float32{dz}})
	for i := len(m.layers) - 2; i >= 0; i-- {
		grad = m.layers[i].Backward(grad)
	}
}

// PredictOne returns the probability of the positive class for one window.
func (m *Model) PredictOne(window []float32) (float32, error) {
	if len(window) != m.inputLen {
		return 0, fmt.Errorf("%w: %d samples, expected %d", ErrInputShape, len(window), m.inputLen)
	}
	return m.forward(window), nil
}

// Predict returns the positive class probability for every window.
func (m *Model) Predict(windows [][]float32) ([]float32, error) {
	out := make([]float32, len(windows))
	for i, w := range windows {
		p, err := m.PredictOne(w)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// Summary renders a table of layers, output shapes and parameter counts.
func (m *Model) Summary() string {
	var sb strings.Builder
	line := strings.Repeat("-", 64) + "\n"

	fmt.Fprintf(&sb, "%-34s%-18s%12s\n", "Layer (type)", "Output Shape", "Param #")
	sb.WriteString(strings.Repeat("=", 64) + "\n")
	fmt.Fprintf(&sb, "%-34s%-18s%12s\n", "input (InputLayer)", fmt.Sprintf("(None, %d, 1)", m.inputLen), "0")
	for i, l := range m.layers {
		n := 0
		for _, p := range l.Params() {
			n += len(p.Value)
		}

		s := m.shapes[i]
		shape := fmt.Sprintf("(None, %d, %d)", s.steps, s.channels)
		if s.steps == 1 {
			shape = fmt.Sprintf("(None, %d)", s.channels)
		}

		sb.WriteString(line)
		fmt.Fprintf(&sb, "%-34s%-18s%12s\n", fmt.Sprintf("%s (%s)", m.names[i], l.Kind()), shape, humanize.Comma(int64(n)))
	}
	sb.WriteString(strings.Repeat("=", 64) + "\n")
	fmt.Fprintf(&sb, "Total params: %s\n", humanize.Comma(int64(m.CountParams())))

	return sb.String()
}
