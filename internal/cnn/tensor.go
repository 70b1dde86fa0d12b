package cnn

import (
	"math"
	"math/rand"
)

// Tensor is a channels-last sequence: Data[t*Channels+c].
type Tensor struct {
	Steps    int
	Channels int
	Data     []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(steps, channels int) *Tensor {
	return &Tensor{Steps: steps, Channels: channels, Data: make([]float32, steps*channels)}
}

// FromWindow wraps a single-channel window without copying.
func FromWindow(window []float32) *Tensor {
	return &Tensor{Steps: len(window), Channels: 1, Data: window}
}

// Param is a trainable weight tensor with its accumulated gradient.
type Param struct {
	Name  string
	Shape []int
	Value []float32
	Grad  []float32
}

func newParam(name string, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:  name,
		Shape: shape,
		Value: make([]float32, n),
		Grad:  make([]float32, n),
	}
}

func (p *Param) zeroGrad() {
	clear(p.Grad)
}

// glorotUniform fills p with U(-limit, limit), limit = sqrt(6/(fanIn+fanOut)).
func (p *Param) glorotUniform(rng *rand.Rand, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.Value {
		p.Value[i] = float32((rng.Float64()*2 - 1) * limit)
	}
}

// Activation is an element-wise non-linearity applied after a layer.
type Activation string

const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
)

func (a Activation) valid() bool {
	switch a {
	case Linear, ReLU, Sigmoid:
		return true
	}
	return false
}

func (a Activation) apply(z []float32) {
	switch a {
	case ReLU:
		for i, v := range z {
			if v < 0 {
				z[i] = 0
			}
		}
	case Sigmoid:
		for i, v := range z {
			z[i] = sigmoid(v)
		}
	}
}

// derive multiplies grad in place by the activation derivative expressed in
// terms of the activation output.
func (a Activation) derive(out, grad []float32) {
	switch a {
	case ReLU:
		for i, v := range out {
			if v <= 0 {
				grad[i] = 0
			}
		}
	case Sigmoid:
		for i, v := range out {
			grad[i] *= v * (1 - v)
		}
	}
}

func sigmoid(z float32) float32 {
	if z >= 0 {
		return float32(1 / (1 + math.Exp(-float64(z))))
	}
	e := math.Exp(float64(z))
	return float32(e / (1 + e))
}
