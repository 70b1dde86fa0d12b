package cnn

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FormatTag identifies the model file layout.
const FormatTag = "apnea-cnn/v1"

// ErrFormat is returned when a model file has an unknown layout.
var ErrFormat = errors.New("unknown model format")

type layerFile struct {
	Kind       string               `json:"kind"`
	Filters    int                  `json:"filters,omitempty"`
	KernelSize int                  `json:"kernelSize,omitempty"`
	Stride     int                  `json:"stride,omitempty"`
	Pool       int                  `json:"pool,omitempty"`
	Units      int                  `json:"units,omitempty"`
	Activation Activation           `json:"activation,omitempty"`
	Weights    map[string][]float32 `json:"weights,omitempty"`
}

type modelFile struct {
	Format   string      `json:"format"`
	InputLen int         `json:"inputLen"`
	Layers   []layerFile `json:"layers"`
}

// Encode writes the model as gzip-compressed JSON.
func (m *Model) Encode(w io.Writer) error {
	mf := modelFile{Format: FormatTag, InputLen: m.inputLen}
	for _, l := range m.layers {
		lf := layerFile{Kind: l.Kind()}
		switch l := l.(type) {
		case *Conv1D:
			lf.Filters, lf.KernelSize, lf.Stride, lf.Activation = l.Filters, l.KernelSize, l.Stride, l.Act
		case *MaxPool1D:
			lf.Pool = l.Pool
		case *Dense:
			lf.Units, lf.Activation = l.Units, l.Act
		}
		if ps := l.Params(); len(ps) > 0 {
			lf.Weights = make(map[string][]float32, len(ps))
			for _, p := range ps {
				lf.Weights[p.Name] = p.Value
			}
		}
		mf.Layers = append(mf.Layers, lf)
	}

	zw := gzip.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(&mf); err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	return zw.Close()
}

// Decode reads a model written by Encode.
func Decode(r io.Reader, options ...func(m *Model)) (*Model, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening model stream: %w", err)
	}
	defer zr.Close()

	var mf modelFile
	if err = json.NewDecoder(zr).Decode(&mf); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	if mf.Format != FormatTag {
		return nil, fmt.Errorf("%w: %q", ErrFormat, mf.Format)
	}

	layers := make([]Layer, len(mf.Layers))
	for i, lf := range mf.Layers {
		switch lf.Kind {
		case "conv1d":
			layers[i] = &Conv1D{Filters: lf.Filters, KernelSize: lf.KernelSize, Stride: lf.Stride, Act: lf.Activation}
		case "max_pooling1d":
			layers[i] = &MaxPool1D{Pool: lf.Pool}
		case "global_average_pooling1d":
			layers[i] = &GlobalAvgPool1D{}
		case "dense":
			layers[i] = &Dense{Units: lf.Units, Act: lf.Activation}
		default:
			return nil, fmt.Errorf("%w: layer %d has kind %q", ErrFormat, i, lf.Kind)
		}
	}

	m, err := New(mf.InputLen, layers, nil, options...)
	if err != nil {
		return nil, err
	}

	for i, l := range layers {
		for _, p := range l.Params() {
			v, ok := mf.Layers[i].Weights[p.Name]
			if !ok || len(v) != len(p.Value) {
				return nil, fmt.Errorf("%w: layer %d %s has %d values, expected %d", ErrFormat, i, p.Name, len(v), len(p.Value))
			}
			copy(p.Value, v)
		}
	}

	return m, nil
}

// Save writes the model to path, creating parent directories. The file is
// written next to path and renamed into place.
func (m *Model) Save(path string) (err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating model file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err = m.Encode(f); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing model file: %w", err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("renaming model file: %w", err)
	}
	return nil
}

// Load reads a model saved with Save.
func Load(path string, options ...func(m *Model)) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening model: %w", err)
	}
	defer f.Close()

	return Decode(f, options...)
}
