package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apnea.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := c.Data.Windowing().WindowLen(); got != 6000 {
		t.Errorf("Expected window of 6000 samples, got %d", got)
	}
	if c.Training.Epochs != 5 || c.Training.BatchSize != 16 || c.Training.LearningRate != 1e-4 {
		t.Errorf("Unexpected training defaults: %+v", c.Training)
	}
	if c.Training.Shuffle {
		t.Error("Expected sequential split by default")
	}
	if c.Export.ApneaRecord != "a01" || c.Export.NormalRecord != "c01" || c.Export.Minutes != 60 {
		t.Errorf("Unexpected export defaults: %+v", c.Export)
	}
	if c.Settings.LogLevel.Level() != slog.LevelInfo {
		t.Errorf("Expected info level, got %v", c.Settings.LogLevel.Level())
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
data:
  directory: /data/apnea
  excludePrefixes: [x, b]
training:
  epochs: 2
  shuffle: true
storage:
  dbPath: runs.db
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Settings.LogLevel.Level() != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", c.Settings.LogLevel.Level())
	}
	if c.Data.Directory != "/data/apnea" || c.Training.Epochs != 2 || !c.Training.Shuffle {
		t.Errorf("Overrides not applied: %+v %+v", c.Data, c.Training)
	}
	if c.Training.BatchSize != 16 || c.Data.SampleRate != 100 {
		t.Error("Defaults not kept for unset fields")
	}
	if c.Storage.DBPath != "runs.db" {
		t.Errorf("Expected dbPath runs.db, got %q", c.Storage.DBPath)
	}
	if !c.Data.Excluded("b05") || c.Data.Excluded("a01") {
		t.Errorf("Unexpected exclusion with prefixes %v", c.Data.ExcludePrefixes)
	}
}

func TestLoad_Empty(t *testing.T) {
	c, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Data.RecordLimit != 69 {
		t.Errorf("Expected default record limit, got %d", c.Data.RecordLimit)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "data:\n  dir: x\n", "field dir not found"},
		{"bad level", "settings:\n  logLevel: loud\n", "config.LogLevel"},
		{"fraction", "training:\n  trainFraction: 1.5\n", "train fraction"},
		{"epochs", "training:\n  epochs: 0\n", "epochs must be positive"},
		{"sample rate", "data:\n  sampleRate: 0\n", "sample rate"},
		{"epsilon", "data:\n  epsilon: 0\n", "epsilon must be positive"},
		{"export minutes", "export:\n  minutes: -1\n", "minutes must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "configs", "apnea.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Export.PlotPath != "one_window.png" || c.Storage.DBPath != "runs.sqlite" {
		t.Errorf("Unexpected shipped config: %+v %+v", c.Export, c.Storage)
	}
	if c.Data.Windowing().WindowLen() != 6000 {
		t.Errorf("Expected window of 6000 samples, got %d", c.Data.Windowing().WindowLen())
	}
}
