package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/roman-kulish/apnea-detection/internal/calibrate"
	"github.com/roman-kulish/apnea-detection/internal/cnn"
	"github.com/roman-kulish/apnea-detection/internal/ecg"
)

// ErrNotFound is returned when a requested run or calibration does not exist.
var ErrNotFound = errors.New("not found")

// SqliteStore is a Store backed by a SQLite database file. Connections are
// opened on first use: a read-write one that also creates the schema, and a
// read-only one for queries.
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store for the database at dbPath. The file and
// schema are created on the first write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	// the schema must exist before a read-only connection can query it
	if _, err := s.getWriteDB(); err != nil {
		return nil, err
	}

	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) exec(ctx context.Context, query string, args ...any) (res sql.Result, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	return stmt.ExecContext(ctx, args...)
}

func (s *SqliteStore) CreateRun(ctx context.Context, kind string, config any) (runID string, err error) {
	configData, err := toConfigString(config)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if _, err = s.exec(ctx, insertRunSQL, id, kind, nowUTC(), configData); err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return id, nil
}

func (s *SqliteStore) FinishRun(ctx context.Context, runID, status string) error {
	res, err := s.exec(ctx, finishRunSQL, nowUTC(), status, runID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func (s *SqliteStore) Run(ctx context.Context, runID string) (run *Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, selectRunSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	run, err = scanRun(stmt.QueryRowContext(ctx, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return run, nil
}

func (s *SqliteStore) Runs(ctx context.Context) (runs []*Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectRunsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var run *Run
		if run, err = scanRun(rows); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SqliteStore) StoreYields(ctx context.Context, runID string, yields []ecg.Yield) (err error) {
	if len(yields) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	const valuesPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"

	values := make([]any, 0, len(yields)*9)
	var sb strings.Builder
	sb.WriteString(insertYieldSQL)
	for i, y := range yields {
		values = append(values,
			runID,
			y.Record,
			y.Minutes,
			y.Apnea,
			y.Normal,
			y.Unlabeled,
			y.Ambiguous,
			y.Invalid,
			y.AnnotationsMissing,
		)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(valuesPlaceholder)
	}

	if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting yields: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) Yields(ctx context.Context, runID string) (yields []ecg.Yield, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectYieldsSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("querying yields: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var y ecg.Yield
		if err = rows.Scan(&y.Record, &y.Minutes, &y.Apnea, &y.Normal, &y.Unlabeled, &y.Ambiguous, &y.Invalid, &y.AnnotationsMissing); err != nil {
			return nil, fmt.Errorf("scanning yield: %w", err)
		}
		yields = append(yields, y)
	}
	return yields, rows.Err()
}

func (s *SqliteStore) StoreEpoch(ctx context.Context, runID string, stats cnn.EpochStats) error {
	_, err := s.exec(ctx, insertEpochSQL,
		runID,
		stats.Epoch,
		stats.Loss,
		stats.Accuracy,
		toNullFloat64(stats.ValLoss, stats.HasVal),
		toNullFloat64(stats.ValAccuracy, stats.HasVal),
	)
	if err != nil {
		return fmt.Errorf("inserting epoch: %w", err)
	}
	return nil
}

func (s *SqliteStore) Epochs(ctx context.Context, runID string) (history cnn.History, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectEpochsSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("querying epochs: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			e           cnn.EpochStats
			vLoss, vAcc sql.NullFloat64
		)
		if err = rows.Scan(&e.Epoch, &e.Loss, &e.Accuracy, &vLoss, &vAcc); err != nil {
			return nil, fmt.Errorf("scanning epoch: %w", err)
		}
		e.ValLoss, e.ValAccuracy, e.HasVal = vLoss.Float64, vAcc.Float64, vLoss.Valid
		history = append(history, e)
	}
	return history, rows.Err()
}

func (s *SqliteStore) StoreEvaluation(ctx context.Context, runID string, e Evaluation) error {
	if _, err := s.exec(ctx, insertEvaluationSQL, runID, e.Split, e.Samples, e.Loss, e.Accuracy); err != nil {
		return fmt.Errorf("inserting evaluation: %w", err)
	}
	return nil
}

func (s *SqliteStore) StoreCalibration(ctx context.Context, runID string, c calibrate.Calibration, distinct bool, headerPath string) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	exemplars := []struct {
		class string
		e     calibrate.Exemplar
	}{
		{ecg.Apnea.String(), c.Apnea},
		{ecg.Normal.String(), c.Normal},
	}
	for _, ex := range exemplars {
		if _, err = tx.ExecContext(ctx, insertExemplarSQL, runID, ex.class, ex.e.Record, ex.e.Minute, float64(ex.e.Probability)); err != nil {
			return fmt.Errorf("inserting %s exemplar: %w", ex.class, err)
		}
	}

	if _, err = tx.ExecContext(ctx, insertCalibrationSQL, runID, float64(c.Threshold()), distinct, headerPath); err != nil {
		return fmt.Errorf("inserting calibration: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) Calibration(ctx context.Context, runID string) (c *StoredCalibration, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectCalibrationSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("querying calibration: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			cal StoredCalibration
			ex  StoredExemplar
		)
		if err = rows.Scan(&cal.Threshold, &cal.Distinct, &cal.HeaderPath, &ex.Class, &ex.Record, &ex.Minute, &ex.Probability); err != nil {
			return nil, fmt.Errorf("scanning calibration: %w", err)
		}
		if c == nil {
			c = &cal
		}
		c.Exemplars = append(c.Exemplars, ex)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("calibration of run %s: %w", runID, ErrNotFound)
	}
	return c, nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.readDB != nil {
			errs = append(errs, s.readDB.Close())
			s.readDB = nil
		}

		if s.writeDB != nil {
			errs = append(errs, s.writeDB.Close())
			s.writeDB = nil
		}

		s.closeErr = errors.Join(errs...)
	})

	return s.closeErr
}
