package storage

import (
	"time"
)

// Run kinds.
const (
	KindTrain  = "train"
	KindExport = "export"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Run is a single invocation of the trainer or the exporter.
type Run struct {
	ID         string
	Kind       string
	StartTime  time.Time
	FinishTime *time.Time
	Status     string
	Config     *string
}

// Evaluation is the loss and accuracy of a model over one data split.
type Evaluation struct {
	Split    string
	Samples  int
	Loss     float64
	Accuracy float64
}

// StoredCalibration is a calibration as persisted by the exporter.
type StoredCalibration struct {
	Threshold  float64
	Distinct   bool
	HeaderPath string
	Exemplars  []StoredExemplar
}

// StoredExemplar is the selected minute of one class.
type StoredExemplar struct {
	Class       string
	Record      string
	Minute      int
	Probability float64
}
