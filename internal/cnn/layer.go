package cnn

import (
	"fmt"
	"math/rand"
)

// Layer is a single stage of a sequential model. Forward caches whatever
// Backward needs, so a layer processes one sample at a time.
type Layer interface {
	// Kind returns the layer type, e.g. "conv1d".
	Kind() string

	// Build allocates the layer for the given input shape and returns the
	// output shape. Weights are initialized when rng is not nil.
	Build(steps, channels int, rng *rand.Rand) (int, int, error)

	Forward(x *Tensor) *Tensor

	// Backward accumulates parameter gradients and returns the gradient with
	// respect to the layer input.
	Backward(grad *Tensor) *Tensor

	Params() []*Param
}

// activated is implemented by layers ending in an activation, so that the
// loss can hand over the gradient with respect to the pre-activation.
type activated interface {
	activation() Activation
	backwardPre(dz *Tensor) *Tensor
}

// Conv1D is a 1-D convolution with "same" padding.
type Conv1D struct {
	Filters    int
	KernelSize int
	Stride     int
	Act        Activation

	inSteps, inCh int
	outSteps      int
	padLeft       int

	kernel *Param // (KernelSize, inCh, Filters)
	bias   *Param // (Filters)

	x   *Tensor
	out *Tensor
}

func (l *Conv1D) Kind() string { return "conv1d" }

func (l *Conv1D) Build(steps, channels int, rng *rand.Rand) (int, int, error) {
	if l.Filters <= 0 || l.KernelSize <= 0 || l.Stride <= 0 {
		return 0, 0, fmt.Errorf("conv1d: invalid filters=%d kernel=%d stride=%d", l.Filters, l.KernelSize, l.Stride)
	}
	if !l.Act.valid() {
		return 0, 0, fmt.Errorf("conv1d: unknown activation %q", l.Act)
	}
	if steps <= 0 || channels <= 0 {
		return 0, 0, fmt.Errorf("conv1d: invalid input shape (%d, %d)", steps, channels)
	}

	l.inSteps, l.inCh = steps, channels
	l.outSteps = (steps + l.Stride - 1) / l.Stride
	padTotal := max((l.outSteps-1)*l.Stride+l.KernelSize-steps, 0)
	l.padLeft = padTotal / 2

	l.kernel = newParam("kernel", l.KernelSize, channels, l.Filters)
	l.bias = newParam("bias", l.Filters)
	if rng != nil {
		l.kernel.glorotUniform(rng, l.KernelSize*channels, l.KernelSize*l.Filters)
	}

	return l.outSteps, l.Filters, nil
}

func (l *Conv1D) Params() []*Param { return []*Param{l.kernel, l.bias} }

func (l *Conv1D) activation() Activation { return l.Act }

func (l *Conv1D) Forward(x *Tensor) *Tensor {
	cin, cout := l.inCh, l.Filters
	w, b := l.kernel.Value, l.bias.Value

	out := NewTensor(l.outSteps, cout)
	for o := 0; o < l.outSteps; o++ {
		z := out.Data[o*cout : (o+1)*cout]
		copy(z, b)
		for j := 0; j < l.KernelSize; j++ {
			i := o*l.Stride + j - l.padLeft
			if i < 0 || i >= l.inSteps {
				continue
			}
			xrow := x.Data[i*cin : (i+1)*cin]
			for c, xv := range xrow {
				if xv == 0 {
					continue
				}
				wrow := w[(j*cin+c)*cout : (j*cin+c+1)*cout]
				for f, wv := range wrow {
					z[f] += xv * wv
				}
			}
		}
	}
	l.Act.apply(out.Data)

	l.x, l.out = x, out
	return out
}

func (l *Conv1D) Backward(grad *Tensor) *Tensor {
	dz := NewTensor(grad.Steps, grad.Channels)
	copy(dz.Data, grad.Data)
	l.Act.derive(l.out.Data, dz.Data)
	return l.backwardPre(dz)
}

func (l *Conv1D) backwardPre(dz *Tensor) *Tensor {
	cin, cout := l.inCh, l.Filters
	w, dw, db := l.kernel.Value, l.kernel.Grad, l.bias.Grad

	dx := NewTensor(l.inSteps, cin)
	for o := 0; o < l.outSteps; o++ {
		g := dz.Data[o*cout : (o+1)*cout]
		for f, gv := range g {
			db[f] += gv
		}
		for j := 0; j < l.KernelSize; j++ {
			i := o*l.Stride + j - l.padLeft
			if i < 0 || i >= l.inSteps {
				continue
			}
			xrow := l.x.Data[i*cin : (i+1)*cin]
			dxrow := dx.Data[i*cin : (i+1)*cin]
			for c, xv := range xrow {
				off := (j*cin + c) * cout
				wrow := w[off : off+cout]
				dwrow := dw[off : off+cout]
				var acc float32
				for f, gv := range g {
					acc += wrow[f] * gv
					dwrow[f] += xv * gv
				}
				dxrow[c] += acc
			}
		}
	}
	return dx
}

// MaxPool1D takes the maximum over non-overlapping windows of Pool steps;
// trailing steps that do not fill a window are dropped.
type MaxPool1D struct {
	Pool int

	inSteps, channels int
	outSteps          int
	argmax            []int
}

func (l *MaxPool1D) Kind() string { return "max_pooling1d" }

func (l *MaxPool1D) Build(steps, channels int, _ *rand.Rand) (int, int, error) {
	if l.Pool <= 0 {
		return 0, 0, fmt.Errorf("max_pooling1d: invalid pool size %d", l.Pool)
	}
	l.inSteps, l.channels = steps, channels
	l.outSteps = steps / l.Pool
	if l.outSteps == 0 {
		return 0, 0, fmt.Errorf("max_pooling1d: input of %d steps is shorter than pool %d", steps, l.Pool)
	}
	return l.outSteps, channels, nil
}

func (l *MaxPool1D) Params() []*Param { return nil }

func (l *MaxPool1D) Forward(x *Tensor) *Tensor {
	ch := l.channels
	out := NewTensor(l.outSteps, ch)
	if len(l.argmax) != len(out.Data) {
		l.argmax = make([]int, len(out.Data))
	}

	for o := 0; o < l.outSteps; o++ {
		for c := 0; c < ch; c++ {
			best := (o * l.Pool * ch) + c
			for p := 1; p < l.Pool; p++ {
				idx := (o*l.Pool+p)*ch + c
				if x.Data[idx] > x.Data[best] {
					best = idx
				}
			}
			out.Data[o*ch+c] = x.Data[best]
			l.argmax[o*ch+c] = best
		}
	}
	return out
}

func (l *MaxPool1D) Backward(grad *Tensor) *Tensor {
	dx := NewTensor(l.inSteps, l.channels)
	for i, g := range grad.Data {
		dx.Data[l.argmax[i]] += g
	}
	return dx
}

// GlobalAvgPool1D averages every channel over all steps.
type GlobalAvgPool1D struct {
	inSteps, channels int
}

func (l *GlobalAvgPool1D) Kind() string { return "global_average_pooling1d" }

func (l *GlobalAvgPool1D) Build(steps, channels int, _ *rand.Rand) (int, int, error) {
	if steps <= 0 {
		return 0, 0, fmt.Errorf("global_average_pooling1d: empty input")
	}
	l.inSteps, l.channels = steps, channels
	return 1, channels, nil
}

func (l *GlobalAvgPool1D) Params() []*Param { return nil }

func (l *GlobalAvgPool1D) Forward(x *Tensor) *Tensor {
	out := NewTensor(1, l.channels)
	for t := 0; t < l.inSteps; t++ {
		row := x.Data[t*l.channels : (t+1)*l.channels]
		for c, v := range row {
			out.Data[c] += v
		}
	}
	n := float32(l.inSteps)
	for c := range out.Data {
		out.Data[c] /= n
	}
	return out
}

func (l *GlobalAvgPool1D) Backward(grad *Tensor) *Tensor {
	dx := NewTensor(l.inSteps, l.channels)
	n := float32(l.inSteps)
	for t := 0; t < l.inSteps; t++ {
		row := dx.Data[t*l.channels : (t+1)*l.channels]
		for c := range row {
			row[c] = grad.Data[c] / n
		}
	}
	return dx
}

// Dense is a fully connected layer over the flattened input.
type Dense struct {
	Units int
	Act   Activation

	in int

	kernel *Param // (in, Units)
	bias   *Param // (Units)

	x   *Tensor
	out *Tensor
}

func (l *Dense) Kind() string { return "dense" }

func (l *Dense) Build(steps, channels int, rng *rand.Rand) (int, int, error) {
	if l.Units <= 0 {
		return 0, 0, fmt.Errorf("dense: invalid units %d", l.Units)
	}
	if !l.Act.valid() {
		return 0, 0, fmt.Errorf("dense: unknown activation %q", l.Act)
	}
	l.in = steps * channels
	if l.in <= 0 {
		return 0, 0, fmt.Errorf("dense: invalid input shape (%d, %d)", steps, channels)
	}

	l.kernel = newParam("kernel", l.in, l.Units)
	l.bias = newParam("bias", l.Units)
	if rng != nil {
		l.kernel.glorotUniform(rng, l.in, l.Units)
	}

	return 1, l.Units, nil
}

func (l *Dense) Params() []*Param { return []*Param{l.kernel, l.bias} }

func (l *Dense) activation() Activation { return l.Act }

func (l *Dense) Forward(x *Tensor) *Tensor {
	out := NewTensor(1, l.Units)
	copy(out.Data, l.bias.Value)
	w := l.kernel.Value
	for i, xv := range x.Data {
		if xv == 0 {
			continue
		}
		wrow := w[i*l.Units : (i+1)*l.Units]
		for o, wv := range wrow {
			out.Data[o] += xv * wv
		}
	}
	l.Act.apply(out.Data)

	l.x, l.out = x, out
	return out
}

func (l *Dense) Backward(grad *Tensor) *Tensor {
	dz := NewTensor(grad.Steps, grad.Channels)
	copy(dz.Data, grad.Data)
	l.Act.derive(l.out.Data, dz.Data)
	return l.backwardPre(dz)
}

func (l *Dense) backwardPre(dz *Tensor) *Tensor {
	w, dw, db := l.kernel.Value, l.kernel.Grad, l.bias.Grad
	for o, g := range dz.Data {
		db[o] += g
	}

	dx := &Tensor{Steps: l.x.Steps, Channels: l.x.Channels, Data: make([]float32, l.in)}
	for i, xv := range l.x.Data {
		off := i * l.Units
		wrow := w[off : off+l.Units]
		dwrow := dw[off : off+l.Units]
		var acc float32
		for o, g := range dz.Data {
			acc += wrow[o] * g
			dwrow[o] += xv * g
		}
		dx.Data[i] = acc
	}
	return dx
}
