package cnn

import "math"

// Adam is the Adam optimizer with optional per-tensor gradient norm clipping.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	ClipNorm     float64 // 0 disables clipping

	step int
	m, v map[*Param][]float64
}

// NewAdam returns an Adam optimizer with the usual defaults.
func NewAdam(learningRate, clipNorm float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
		ClipNorm:     clipNorm,
		m:            make(map[*Param][]float64),
		v:            make(map[*Param][]float64),
	}
}

// Step applies one update to params from their accumulated gradients.
func (a *Adam) Step(params []*Param) {
	a.step++
	t := float64(a.step)
	lr := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			m = make([]float64, len(p.Value))
			a.m[p] = m
			a.v[p] = make([]float64, len(p.Value))
		}
		v := a.v[p]

		scale := clipScale(p.Grad, a.ClipNorm)
		for i, g32 := range p.Grad {
			g := float64(g32) * scale
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			p.Value[i] -= float32(lr * m[i] / (math.Sqrt(v[i]) + a.Epsilon))
		}
	}
}

// clipScale returns the factor bringing the L2 norm of grad down to clip.
func clipScale(grad []float32, clip float64) float64 {
	if clip <= 0 {
		return 1
	}
	var sq float64
	for _, g := range grad {
		sq += float64(g) * float64(g)
	}
	norm := math.Sqrt(sq)
	if norm <= clip {
		return 1
	}
	return clip / norm
}
