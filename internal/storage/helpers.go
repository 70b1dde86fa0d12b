package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && cErr != sql.ErrTxDone && *err == nil {
		*err = cErr
	}
}

// toConfigString converts a run configuration into its stored form: strings
// and byte slices are kept as is, anything else is encoded as JSON.
func toConfigString(config any) (sql.NullString, error) {
	switch c := config.(type) {
	case nil:
		return sql.NullString{}, nil
	case string:
		return sql.NullString{String: c, Valid: true}, nil
	case []byte:
		return sql.NullString{String: string(c), Valid: true}, nil
	}

	p, err := json.Marshal(config)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling config: %w", err)
	}
	return sql.NullString{String: string(p), Valid: true}, nil
}

func toNullFloat64(v float64, valid bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: valid}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run    Run
		finish sql.NullTime
		config sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Kind, &run.StartTime, &finish, &run.Status, &config); err != nil {
		return nil, err
	}
	if finish.Valid {
		t := finish.Time
		run.FinishTime = &t
	}
	if config.Valid {
		run.Config = &config.String
	}
	return &run, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
