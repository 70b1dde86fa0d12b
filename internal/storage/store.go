package storage

import (
	"context"

	_ "github.com/mattn/go-sqlite3"
	"github.com/roman-kulish/apnea-detection/internal/calibrate"
	"github.com/roman-kulish/apnea-detection/internal/cnn"
	"github.com/roman-kulish/apnea-detection/internal/ecg"
)

// Store journals trainer and exporter runs: what data was used, how training
// progressed and which exemplars were exported.
type Store interface {
	// CreateRun starts a new run and returns its identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - kind: KindTrain or KindExport
	//   - config: Optional run configuration. Can be string, []byte, or JSON-serializable object
	CreateRun(ctx context.Context, kind string, config any) (runID string, err error)

	// FinishRun records the end time and final status of a run.
	FinishRun(ctx context.Context, runID, status string) error

	// Run retrieves a run by its ID.
	Run(ctx context.Context, runID string) (*Run, error)

	// Runs returns all runs ordered by start time.
	Runs(ctx context.Context) ([]*Run, error)

	// StoreYields saves per-record windowing accounting in a single transaction.
	StoreYields(ctx context.Context, runID string, yields []ecg.Yield) error

	// Yields returns the per-record accounting of a run in insertion order.
	Yields(ctx context.Context, runID string) ([]ecg.Yield, error)

	// StoreEpoch saves the statistics of one training epoch.
	StoreEpoch(ctx context.Context, runID string, stats cnn.EpochStats) error

	// Epochs returns the training history of a run.
	Epochs(ctx context.Context, runID string) (cnn.History, error)

	// StoreEvaluation saves the final evaluation of a model on one split.
	StoreEvaluation(ctx context.Context, runID string, e Evaluation) error

	// StoreCalibration saves both exemplars and the derived threshold
	// atomically.
	StoreCalibration(ctx context.Context, runID string, c calibrate.Calibration, distinct bool, headerPath string) error

	// Calibration returns the calibration stored for a run.
	Calibration(ctx context.Context, runID string) (*StoredCalibration, error)

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}

// Open returns a SqliteStore for dbPath, or a NopStore when dbPath is empty.
func Open(dbPath string) Store {
	if dbPath == "" {
		return NopStore{}
	}
	return NewSqliteStore(dbPath)
}

// NopStore discards everything written to it.
type NopStore struct{}

func (NopStore) CreateRun(context.Context, string, any) (string, error) { return "", nil }
func (NopStore) FinishRun(context.Context, string, string) error { return nil }
func (NopStore) Run(context.Context, string) (*Run, error) { return nil, ErrNotFound }
func (NopStore) Runs(context.Context) ([]*Run, error) { return nil, nil }
func (NopStore) StoreYields(context.Context, string, []ecg.Yield) error { return nil }
func (NopStore) Yields(context.Context, string) ([]ecg.Yield, error) { return nil, nil }
func (NopStore) StoreEpoch(context.Context, string, cnn.EpochStats) error { return nil }
func (NopStore) Epochs(context.Context, string) (cnn.History, error) { return nil, nil }
func (NopStore) StoreEvaluation(context.Context, string, Evaluation) error { return nil }
func (NopStore) Close() error { return nil }
func (NopStore) Calibration(context.Context, string) (*StoredCalibration, error) {
	return nil, ErrNotFound
}
func (NopStore) StoreCalibration(context.Context, string, calibrate.Calibration, bool, string) error {
	return nil
}
