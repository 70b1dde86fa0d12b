// Package config loads the YAML configuration shared by the trainer and the
// exporter.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/apnea-detection/internal/cnn"
	"github.com/roman-kulish/apnea-detection/internal/ecg"
)

// Config represents the main application configuration
type Config struct {
	Settings Settings      `yaml:"settings" json:"settings"`
	Data     DataConfig    `yaml:"data" json:"data"`
	Training TrainConfig   `yaml:"training" json:"training"`
	Model    ModelConfig   `yaml:"model" json:"model"`
	Export   ExportConfig  `yaml:"export" json:"export"`
	Storage  StorageConfig `yaml:"storage" json:"storage"`
	Metrics  MetricsConfig `yaml:"metrics" json:"metrics"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel LogLevel `yaml:"logLevel" json:"logLevel"`
}

// DataConfig describes the record database and the windowing.
type DataConfig struct {
	Directory           string   `yaml:"directory" json:"directory"`
	Annotator           string   `yaml:"annotator" json:"annotator"`                     // Annotation file extension
	Channel             int      `yaml:"channel" json:"channel"`                         // Signal index of the ECG lead
	SampleRate          float64  `yaml:"sampleRate" json:"sampleRate"`                   // Expected sampling frequency, Hz
	WindowSeconds       int      `yaml:"windowSeconds" json:"windowSeconds"`             // Window length, seconds
	Epsilon             float64  `yaml:"epsilon" json:"epsilon"`                         // Minimum window standard deviation
	RecordLimit         int      `yaml:"recordLimit" json:"recordLimit"`                 // Maximum number of records used
	MaxMinutesPerRecord int      `yaml:"maxMinutesPerRecord" json:"maxMinutesPerRecord"` // Minutes at or beyond are not used
	ExcludePrefixes     []string `yaml:"excludePrefixes" json:"excludePrefixes"`         // Records starting with any are skipped
}

// TrainConfig controls the split and the optimizer.
type TrainConfig struct {
	TrainFraction float64 `yaml:"trainFraction" json:"trainFraction"`
	Shuffle       bool    `yaml:"shuffle" json:"shuffle"` // Shuffle examples before splitting
	Epochs        int     `yaml:"epochs" json:"epochs"`
	BatchSize     int     `yaml:"batchSize" json:"batchSize"`
	LearningRate  float64 `yaml:"learningRate" json:"learningRate"`
	ClipNorm      float64 `yaml:"clipNorm" json:"clipNorm"`
	Seed          int64   `yaml:"seed" json:"seed"`
}

// ModelConfig locates the persisted model.
type ModelConfig struct {
	Path string `yaml:"path" json:"path"`
}

// ExportConfig controls the exemplar scan and the generated files.
type ExportConfig struct {
	ApneaRecord    string  `yaml:"apneaRecord" json:"apneaRecord"`
	NormalRecord   string  `yaml:"normalRecord" json:"normalRecord"`
	Minutes        int     `yaml:"minutes" json:"minutes"` // Minutes scanned from the start of each record
	HeaderPath     string  `yaml:"headerPath" json:"headerPath"`
	PlotPath       string  `yaml:"plotPath" json:"plotPath"` // Optional exemplar plot, PNG
	DistinctMargin float64 `yaml:"distinctMargin" json:"distinctMargin"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DBPath string `yaml:"dbPath" json:"dbPath"` // Run journal, disabled when empty
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Textfile string `yaml:"textfile" json:"textfile"` // Prometheus textfile, disabled when empty
	Listen   string `yaml:"listen" json:"listen"`     // Serve trainer metrics while training, e.g. ":9090"
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Settings: Settings{LogLevel: LogLevel(slog.LevelInfo)},
		Data: DataConfig{
			Directory:           "apnea-ecg-database-1.0.0",
			Annotator:           "apn",
			Channel:             0,
			SampleRate:          100,
			WindowSeconds:       60,
			Epsilon:             1e-6,
			RecordLimit:         69,
			MaxMinutesPerRecord: 1000,
			ExcludePrefixes:     []string{"x"},
		},
		Training: TrainConfig{
			TrainFraction: 0.8,
			Epochs:        5,
			BatchSize:     16,
			LearningRate:  1e-4,
			ClipNorm:      1.0,
			Seed:          1,
		},
		Model: ModelConfig{
			Path: "saved_models/apnea_cnn_small.json.gz",
		},
		Export: ExportConfig{
			ApneaRecord:    "a01",
			NormalRecord:   "c01",
			Minutes:        60,
			HeaderPath:     "one_window.h",
			DistinctMargin: 0.1,
		},
	}
}

// Load reads the configuration at path over the defaults and validates it.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, c.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	return errors.Join(
		c.Data.Validate(),
		c.Training.Validate(),
		c.Model.Validate(),
		c.Export.Validate(),
	)
}

func (c *DataConfig) Validate() error {
	switch {
	case c.Directory == "":
		return errors.New("config.Data: directory must be set")
	case c.Annotator == "":
		return errors.New("config.Data: annotator must be set")
	case c.Channel < 0:
		return fmt.Errorf("config.Data: channel must not be negative: %d given", c.Channel)
	case c.SampleRate <= 0 || c.SampleRate != float64(int(c.SampleRate)):
		return fmt.Errorf("config.Data: sample rate must be a positive whole number of Hz: %v given", c.SampleRate)
	case c.WindowSeconds <= 0:
		return fmt.Errorf("config.Data: window seconds must be positive: %d given", c.WindowSeconds)
	case c.Epsilon <= 0:
		return fmt.Errorf("config.Data: epsilon must be positive: %v given", c.Epsilon)
	case c.RecordLimit <= 0:
		return fmt.Errorf("config.Data: record limit must be positive: %d given", c.RecordLimit)
	case c.MaxMinutesPerRecord <= 0:
		return fmt.Errorf("config.Data: max minutes per record must be positive: %d given", c.MaxMinutesPerRecord)
	}
	return nil
}

// Windowing returns the extractor parameters.
func (c *DataConfig) Windowing() ecg.Config {
	return ecg.Config{
		SampleRate:    c.SampleRate,
		WindowSeconds: c.WindowSeconds,
		Epsilon:       c.Epsilon,
		MaxMinutes:    c.MaxMinutesPerRecord,
		Channel:       c.Channel,
		Annotator:     c.Annotator,
	}
}

// Excluded reports whether record name starts with an excluded prefix.
func (c *DataConfig) Excluded(name string) bool {
	for _, p := range c.ExcludePrefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (c *TrainConfig) Validate() error {
	if c.TrainFraction <= 0 || c.TrainFraction >= 1 {
		return fmt.Errorf("config.Training: train fraction must be in (0, 1): %v given", c.TrainFraction)
	}
	if c.ClipNorm < 0 {
		return fmt.Errorf("config.Training: clip norm must not be negative: %v given", c.ClipNorm)
	}
	if err := c.Fit().Validate(); err != nil {
		return fmt.Errorf("config.Training: %w", err)
	}
	return nil
}

// Fit returns the optimizer parameters. Class weights and callbacks are set
// by the caller.
func (c *TrainConfig) Fit() cnn.FitConfig {
	return cnn.FitConfig{
		Epochs:       c.Epochs,
		BatchSize:    c.BatchSize,
		LearningRate: c.LearningRate,
		ClipNorm:     c.ClipNorm,
		Seed:         c.Seed,
	}
}

func (c *ModelConfig) Validate() error {
	if c.Path == "" {
		return errors.New("config.Model: path must be set")
	}
	return nil
}

func (c *ExportConfig) Validate() error {
	switch {
	case c.ApneaRecord == "" || c.NormalRecord == "":
		return errors.New("config.Export: apnea and normal records must be set")
	case c.Minutes <= 0:
		return fmt.Errorf("config.Export: minutes must be positive: %d given", c.Minutes)
	case c.HeaderPath == "":
		return errors.New("config.Export: header path must be set")
	case c.DistinctMargin < 0:
		return fmt.Errorf("config.Export: distinct margin must not be negative: %v given", c.DistinctMargin)
	}
	return nil
}

// LogLevel is a slog level read from its textual form ("debug", "info", ...).
type LogLevel slog.Level

func (l *LogLevel) UnmarshalYAML(value *yaml.Node) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value.Value)); err != nil {
		return fmt.Errorf("config.LogLevel: failed to parse: %s", err)
	}

	*l = LogLevel(level)
	return nil
}

func (l LogLevel) MarshalYAML() (interface{}, error) {
	return slog.Level(l).String(), nil
}

func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(slog.Level(l).String()), nil
}

// Level returns the slog level.
func (l LogLevel) Level() slog.Level {
	return slog.Level(l)
}
