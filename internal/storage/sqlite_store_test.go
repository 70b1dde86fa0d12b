package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/roman-kulish/apnea-detection/internal/calibrate"
	"github.com/roman-kulish/apnea-detection/internal/cnn"
	"github.com/roman-kulish/apnea-detection/internal/ecg"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	s := NewSqliteStore(filepath.Join(t.TempDir(), "runs.db"))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s
}

func TestSqliteStore_Runs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateRun(ctx, KindTrain, map[string]int{"epochs": 5})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a run ID")
	}

	run, err := s.Run(ctx, id)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Kind != KindTrain || run.Status != StatusRunning || run.FinishTime != nil {
		t.Errorf("Unexpected run: %+v", run)
	}
	if run.Config == nil || *run.Config != `{"epochs":5}` {
		t.Errorf("Unexpected config: %v", run.Config)
	}

	if err = s.FinishRun(ctx, id, StatusSucceeded); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if run, err = s.Run(ctx, id); err != nil {
		t.Fatal(err)
	}
	if run.Status != StatusSucceeded || run.FinishTime == nil {
		t.Errorf("Expected finished run, got %+v", run)
	}

	if _, err = s.CreateRun(ctx, KindExport, nil); err != nil {
		t.Fatal(err)
	}
	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected 2 runs, got %d", len(runs))
	}
}

func TestSqliteStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Run(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.FinishRun(ctx, "missing", StatusFailed); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := s.Calibration(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSqliteStore_YieldsAndEpochs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateRun(ctx, KindTrain, "raw config")
	if err != nil {
		t.Fatal(err)
	}

	yields := []ecg.Yield{
		{Record: "a01", Minutes: 489, Apnea: 470, Normal: 19},
		{Record: "b01", AnnotationsMissing: true},
	}
	if err = s.StoreYields(ctx, id, yields); err != nil {
		t.Fatalf("StoreYields failed: %v", err)
	}
	got, err := s.Yields(ctx, id)
	if err != nil {
		t.Fatalf("Yields failed: %v", err)
	}
	if len(got) != 2 || got[0] != yields[0] || got[1] != yields[1] {
		t.Errorf("Expected %+v, got %+v", yields, got)
	}

	epochs := []cnn.EpochStats{
		{Epoch: 1, Loss: 0.69, Accuracy: 0.5, ValLoss: 0.68, ValAccuracy: 0.55, HasVal: true},
		{Epoch: 2, Loss: 0.6, Accuracy: 0.7},
	}
	for _, e := range epochs {
		if err = s.StoreEpoch(ctx, id, e); err != nil {
			t.Fatalf("StoreEpoch failed: %v", err)
		}
	}
	history, err := s.Epochs(ctx, id)
	if err != nil {
		t.Fatalf("Epochs failed: %v", err)
	}
	if len(history) != 2 || history[0] != epochs[0] || history[1] != epochs[1] {
		t.Errorf("Expected %+v, got %+v", epochs, history)
	}

	if err = s.StoreEvaluation(ctx, id, Evaluation{Split: "validation", Samples: 10, Loss: 0.5, Accuracy: 0.8}); err != nil {
		t.Errorf("StoreEvaluation failed: %v", err)
	}
}

func TestSqliteStore_Calibration(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateRun(ctx, KindExport, nil)
	if err != nil {
		t.Fatal(err)
	}

	c := calibrate.Calibration{
		Apnea:  calibrate.Exemplar{Record: "a01", Minute: 12, Probability: 0.75},
		Normal: calibrate.Exemplar{Record: "c01", Minute: 3, Probability: 0.25},
	}
	if err = s.StoreCalibration(ctx, id, c, true, "one_window.h"); err != nil {
		t.Fatalf("StoreCalibration failed: %v", err)
	}

	stored, err := s.Calibration(ctx, id)
	if err != nil {
		t.Fatalf("Calibration failed: %v", err)
	}
	if stored.Threshold != 0.5 || !stored.Distinct || stored.HeaderPath != "one_window.h" {
		t.Errorf("Unexpected calibration: %+v", stored)
	}
	expected := []StoredExemplar{
		{Class: "apnea", Record: "a01", Minute: 12, Probability: 0.75},
		{Class: "normal", Record: "c01", Minute: 3, Probability: 0.25},
	}
	if len(stored.Exemplars) != 2 || stored.Exemplars[0] != expected[0] || stored.Exemplars[1] != expected[1] {
		t.Errorf("Expected exemplars %+v, got %+v", expected, stored.Exemplars)
	}
}

func TestOpen(t *testing.T) {
	if _, ok := Open("").(NopStore); !ok {
		t.Error("Expected NopStore for empty path")
	}
	if _, ok := Open(filepath.Join(t.TempDir(), "x.db")).(*SqliteStore); !ok {
		t.Error("Expected SqliteStore for a path")
	}
}
