package app

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roman-kulish/apnea-detection/internal/calibrate"
	"github.com/roman-kulish/apnea-detection/internal/cnn"
	"github.com/roman-kulish/apnea-detection/internal/config"
	"github.com/roman-kulish/apnea-detection/internal/storage"
	"github.com/roman-kulish/apnea-detection/internal/wfdb/wfdbtest"
)

const (
	testRate    = 16
	testSeconds = 4
	testWindow  = testRate * testSeconds
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeRecord(t *testing.T, dir, name string, minutes int, amp float64) {
	t.Helper()

	adc := make([]int16, minutes*testWindow)
	for i := range adc {
		adc[i] = int16(amp*math.Sin(float64(i)*0.7) + float64(i%3))
	}
	wfdbtest.WriteRecord(t, dir, name, testRate, 200, 0, adc)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmp := t.TempDir()

	c := config.Default()
	c.Data.Directory = filepath.Join(tmp, "db")
	c.Data.SampleRate = testRate
	c.Data.WindowSeconds = testSeconds
	c.Model.Path = filepath.Join(tmp, "cnn.json.gz")
	c.Export.Minutes = 5
	c.Export.HeaderPath = filepath.Join(tmp, "out", "one_window.h")
	c.Export.PlotPath = filepath.Join(tmp, "out", "exemplars.png")
	c.Storage.DBPath = filepath.Join(tmp, "runs.db")
	c.Metrics.Textfile = filepath.Join(tmp, "exporter.prom")

	if err := os.MkdirAll(c.Data.Directory, 0o755); err != nil {
		t.Fatal(err)
	}

	model, err := cnn.NewSmall(testWindow, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}
	if err = model.Save(c.Model.Path); err != nil {
		t.Fatal(err)
	}

	writeRecord(t, c.Data.Directory, "a01", 3, 80)
	writeRecord(t, c.Data.Directory, "c01", 3, 300)
	return c
}

func TestRun(t *testing.T) {
	c := testConfig(t)

	if err := Run(context.Background(), c, discard); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	body, err := os.ReadFile(c.Export.HeaderPath)
	if err != nil {
		t.Fatalf("Header not written: %v", err)
	}
	for _, want := range []string{
		"#ifndef ONE_WINDOW_H\n",
		"#define ONE_WINDOW_LEN 64\n",
		"Record a01) */",
		"Record c01) */",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected %q in header", want)
		}
	}

	f, err := os.Open(c.Export.PlotPath)
	if err != nil {
		t.Fatalf("Plot not written: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode plot: %v", err)
	}
	if size := img.Bounds().Size(); size.X != 1240 || size.Y != 550 {
		t.Errorf("Expected 1240x550 plot, got %v", size)
	}

	prom, err := os.ReadFile(c.Metrics.Textfile)
	if err != nil {
		t.Fatalf("Metrics textfile missing: %v", err)
	}
	if !strings.Contains(string(prom), `apnea_exporter_skipped_minutes_total{record="a01"} 2`) {
		t.Errorf("Expected 2 skipped minutes for a01:\n%s", prom)
	}

	ctx := context.Background()
	store := storage.NewSqliteStore(c.Storage.DBPath)
	defer store.Close()

	runs, err := store.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Kind != storage.KindExport || runs[0].Status != storage.StatusSucceeded {
		t.Fatalf("Expected one succeeded export run, got %+v", runs)
	}

	stored, err := store.Calibration(ctx, runs[0].ID)
	if err != nil {
		t.Fatalf("Calibration failed: %v", err)
	}
	if len(stored.Exemplars) != 2 || stored.Exemplars[0].Record != "a01" || stored.Exemplars[1].Record != "c01" {
		t.Errorf("Unexpected exemplars: %+v", stored.Exemplars)
	}
	if stored.HeaderPath != c.Export.HeaderPath {
		t.Errorf("Expected header path %q, got %q", c.Export.HeaderPath, stored.HeaderPath)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *config.Config)
		want  string
	}{
		{
			name:  "missing model",
			setup: func(c *config.Config) { c.Model.Path += ".missing" },
			want:  "failed to load model",
		},
		{
			name:  "window mismatch",
			setup: func(c *config.Config) { c.Data.WindowSeconds = 2 },
			want:  "model expects 64 samples",
		},
		{
			name:  "missing record",
			setup: func(c *config.Config) { c.Export.ApneaRecord = "a99" },
			want:  "apnea exemplar",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig(t)
			c.Storage.DBPath = ""
			tt.setup(c)

			err := Run(context.Background(), c, discard)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
			if _, statErr := os.Stat(c.Export.HeaderPath); !os.IsNotExist(statErr) {
				t.Error("Expected no header to be written")
			}
		})
	}
}

func TestRun_NoExemplar(t *testing.T) {
	c := testConfig(t)
	c.Export.NormalRecord = "c99"

	err := Run(context.Background(), c, discard)
	if !errors.Is(err, calibrate.ErrNoExemplar) {
		t.Fatalf("Expected ErrNoExemplar, got %v", err)
	}

	store := storage.NewSqliteStore(c.Storage.DBPath)
	defer store.Close()

	runs, err := store.Runs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != storage.StatusFailed {
		t.Errorf("Expected one failed run, got %+v", runs)
	}
}

func TestRun_Repeatable(t *testing.T) {
	c := testConfig(t)

	if err := Run(context.Background(), c, discard); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	first, err := os.ReadFile(c.Export.HeaderPath)
	if err != nil {
		t.Fatal(err)
	}

	if err = Run(context.Background(), c, discard); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	second, err := os.ReadFile(c.Export.HeaderPath)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("Expected identical headers, got %d and %d bytes", len(first), len(second))
	}
}

func TestRun_PlotFailure(t *testing.T) {
	c := testConfig(t)

	// a regular file where the plot directory should be
	blocker := filepath.Join(filepath.Dir(c.Model.Path), "plots")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	c.Export.PlotPath = filepath.Join(blocker, "exemplars.png")

	err := Run(context.Background(), c, discard)
	if err == nil || !strings.Contains(err.Error(), "failed to write plot") {
		t.Fatalf("Expected plot write error, got %v", err)
	}
	if _, statErr := os.Stat(c.Export.HeaderPath); !os.IsNotExist(statErr) {
		t.Error("Expected no header to be written")
	}
}

func TestRun_JournalsEarlyFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *config.Config)
	}{
		{"missing model", func(c *config.Config) { c.Model.Path += ".missing" }},
		{"window mismatch", func(c *config.Config) { c.Data.WindowSeconds = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig(t)
			tt.setup(c)

			if err := Run(context.Background(), c, discard); err == nil {
				t.Fatal("Expected error")
			}

			store := storage.NewSqliteStore(c.Storage.DBPath)
			defer store.Close()

			runs, err := store.Runs(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(runs) != 1 || runs[0].Kind != storage.KindExport || runs[0].Status != storage.StatusFailed {
				t.Errorf("Expected one failed export run, got %+v", runs)
			}
		})
	}
}
