package ecg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/roman-kulish/apnea-detection/internal/wfdb"
)

// ErrSampleRate is returned when a record is not sampled at the expected rate.
var ErrSampleRate = errors.New("unexpected sample rate")

// Label is the binary class of a one-minute window.
type Label int

const (
	Normal Label = iota
	Apnea
)

func (l Label) String() string {
	switch l {
	case Normal:
		return "normal"
	case Apnea:
		return "apnea"
	}
	return fmt.Sprintf("label(%d)", int(l))
}

// Example is a labelled, normalized window.
type Example struct {
	Record string
	Minute int
	Window []float32
	Label  Label
}

// Yield accounts for the minutes of a single record.
type Yield struct {
	Record             string
	Minutes            int // Full minutes considered
	Apnea              int
	Normal             int
	Unlabeled          int // No annotation within the minute
	Ambiguous          int // First annotation is neither A nor N
	Invalid            int // Window failed normalization
	AnnotationsMissing bool
}

// Labeled returns the number of minutes that produced an example.
func (y Yield) Labeled() int {
	return y.Apnea + y.Normal
}

// Config holds the windowing parameters.
type Config struct {
	SampleRate    float64 // Expected sampling frequency in Hz
	WindowSeconds int
	Epsilon       float64 // Minimum standard deviation of a window
	MaxMinutes    int     // Minutes at or beyond this index are not used
	Channel       int
	Annotator     string // Annotation file extension, e.g. "apn"
}

// WindowLen returns the number of samples in a window.
func (c Config) WindowLen() int {
	return int(c.SampleRate) * c.WindowSeconds
}

// WithLogger sets the logger for the extractor
func WithLogger(logger *slog.Logger) func(e *Extractor) {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// Extractor produces labelled windows from WFDB records.
type Extractor struct {
	cfg    Config
	logger *slog.Logger
}

// NewExtractor creates a new Extractor with a discard logger.
func NewExtractor(cfg Config, options ...func(e *Extractor)) *Extractor {
	e := Extractor{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&e)
	}

	return &e
}

// Config returns the windowing parameters.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Load reads record name and returns its ECG channel, checking the sample
// rate.
func (e *Extractor) Load(dir, name string) ([]float32, error) {
	rec, err := wfdb.ReadRecord(dir, name)
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", name, err)
	}
	if rec.Header.SampleRate != e.cfg.SampleRate {
		return nil, fmt.Errorf("%w: %v Hz for %s, expected %v Hz",
			ErrSampleRate, rec.Header.SampleRate, name, e.cfg.SampleRate)
	}

	sig, err := rec.Signal(e.cfg.Channel)
	if err != nil {
		return nil, err
	}

	out := make([]float32, len(sig))
	for i, v := range sig {
		out[i] = float32(v)
	}
	return out, nil
}

// Window returns the normalized window of the given minute of samples.
func (e *Extractor) Window(samples []float32, minute int) ([]float32, error) {
	size := e.cfg.WindowLen()
	start := minute * size
	if minute < 0 || start >= len(samples) {
		return nil, ErrShortWindow
	}
	end := min(start+size, len(samples))

	return Normalize(samples[start:end], size, e.cfg.Epsilon)
}

// Extract returns every labelled window of record name. A record without an
// annotation file yields no examples and no error.
func (e *Extractor) Extract(ctx context.Context, dir, name string) ([]Example, Yield, error) {
	y := Yield{Record: name}
	if err := ctx.Err(); err != nil {
		return nil, y, err
	}

	samples, err := e.Load(dir, name)
	if err != nil {
		return nil, y, err
	}

	anns, err := wfdb.ReadAnnotations(dir, name, e.cfg.Annotator)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("annotations missing, skipping record", slog.String("record", name))
		y.AnnotationsMissing = true
		return nil, y, nil
	}
	if err != nil {
		return nil, y, fmt.Errorf("reading annotations of %s: %w", name, err)
	}

	size := e.cfg.WindowLen()
	minutes := len(samples) / size
	if minutes > e.cfg.MaxMinutes {
		minutes = e.cfg.MaxMinutes
	}
	y.Minutes = minutes

	labels := minuteSymbols(anns, size, minutes)

	var examples []Example
	for m, sym := range labels {
		var label Label
		switch sym {
		case "A":
			label = Apnea
		case "N":
			label = Normal
		case "":
			y.Unlabeled++
			continue
		default:
			y.Ambiguous++
			continue
		}

		window, err := e.Window(samples, m)
		if err != nil {
			e.logger.Debug("window rejected",
				slog.String("record", name),
				slog.Int("minute", m),
				slog.String("reason", err.Error()),
			)
			y.Invalid++
			continue
		}

		examples = append(examples, Example{Record: name, Minute: m, Window: window, Label: label})
		if label == Apnea {
			y.Apnea++
		} else {
			y.Normal++
		}
	}

	return examples, y, nil
}

// minuteSymbols returns, per minute, the symbol of the first annotation in
// array order whose sample falls within that minute, or "" if none does.
func minuteSymbols(anns []wfdb.Annotation, size, minutes int) []string {
	out := make([]string, minutes)
	seen := make([]bool, minutes)
	for _, a := range anns {
		if a.Sample < 0 {
			continue
		}
		m := a.Sample / int64(size)
		if m >= int64(minutes) || seen[m] {
			continue
		}
		seen[m] = true
		out[m] = a.Symbol
	}
	return out
}
