package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/roman-kulish/apnea-detection/internal/cnn"
	"github.com/roman-kulish/apnea-detection/internal/config"
	"github.com/roman-kulish/apnea-detection/internal/dataset"
	"github.com/roman-kulish/apnea-detection/internal/ecg"
	"github.com/roman-kulish/apnea-detection/internal/metrics"
	"github.com/roman-kulish/apnea-detection/internal/storage"
	"github.com/roman-kulish/apnea-detection/internal/wfdb"
)

// ErrNoData is returned when no labelled window could be collected.
var ErrNoData = errors.New("no labeled data collected")

// Run trains the classifier described by config and saves it to the model
// path.
func Run(ctx context.Context, config *config.Config, logger *slog.Logger) (err error) {
	start := time.Now()

	store := storage.Open(config.Storage.DBPath)
	defer store.Close()

	runID, err := store.CreateRun(ctx, storage.KindTrain, config)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	m := metrics.NewTrainer()
	defer func() {
		finish(runID, err, start, config, store, m, logger)
	}()

	if config.Metrics.Listen != "" {
		serveCtx, stop := context.WithCancel(ctx)
		defer stop()

		addr, serveErr := metrics.Serve(serveCtx, config.Metrics.Listen, m.Handler(), logger)
		if serveErr != nil {
			return fmt.Errorf("failed to start metrics server: %w", serveErr)
		}
		logger.Info(fmt.Sprintf("serving metrics on http://%s/metrics", addr))
	}

	names, err := selectRecords(&config.Data)
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("using %d records", len(names)), slog.String("directory", config.Data.Directory))

	ds, yields, err := collect(ctx, config, names, logger)
	if len(yields) > 0 {
		for _, y := range yields {
			m.ObserveYield(y)
		}
		if storeErr := store.StoreYields(ctx, runID, yields); storeErr != nil {
			logger.Warn("failed to store record yields", slog.String("error", storeErr.Error()))
		}
	}
	if err != nil {
		return err
	}
	if ds.Len() == 0 {
		return ErrNoData
	}

	windowLen := config.Data.Windowing().WindowLen()
	logger.Info(fmt.Sprintf("total windows: %s", humanize.Comma(int64(ds.Len()))),
		slog.String("memory", humanize.Bytes(uint64(ds.Len()*windowLen*4))),
	)

	if config.Training.Shuffle {
		ds.Shuffle(config.Training.Seed)
	}
	train, val := ds.Split(config.Training.TrainFraction)
	logger.Info("split dataset", slog.Int("train", train.Len()), slog.Int("validation", val.Len()))

	weights := train.ClassWeights()
	m.ObserveClassWeights(weights)
	logger.Info("class weights",
		slog.Float64(ecg.Normal.String(), weights[ecg.Normal]),
		slog.Float64(ecg.Apnea.String(), weights[ecg.Apnea]),
	)

	model, err := cnn.NewSmall(windowLen, rand.New(rand.NewSource(config.Training.Seed)), cnn.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}
	m.ModelParams.Set(float64(model.CountParams()))
	fmt.Fprint(os.Stdout, model.Summary())

	fit := config.Training.Fit()
	fit.ClassWeights = make(map[int]float64, len(weights))
	for label, w := range weights {
		fit.ClassWeights[int(label)] = w
	}
	fit.OnEpoch = func(s cnn.EpochStats) {
		attrs := []any{
			slog.Int("epoch", s.Epoch),
			slog.String("loss", fmt.Sprintf("%.4f", s.Loss)),
			slog.String("accuracy", fmt.Sprintf("%.4f", s.Accuracy)),
		}
		if s.HasVal {
			attrs = append(attrs,
				slog.String("val_loss", fmt.Sprintf("%.4f", s.ValLoss)),
				slog.String("val_accuracy", fmt.Sprintf("%.4f", s.ValAccuracy)),
			)
		}
		logger.Info(fmt.Sprintf("epoch %d/%d", s.Epoch, fit.Epochs), attrs...)

		m.ObserveEpoch(s)
		if storeErr := store.StoreEpoch(ctx, runID, s); storeErr != nil {
			logger.Warn("failed to store epoch", slog.String("error", storeErr.Error()))
		}
	}

	xTrain, yTrain := train.Inputs()
	xVal, yVal := val.Inputs()
	if _, err = model.Fit(ctx, xTrain, yTrain, xVal, yVal, fit); err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	if val.Len() > 0 {
		loss, acc, evalErr := model.Evaluate(xVal, yVal)
		if evalErr != nil {
			return fmt.Errorf("failed to evaluate model: %w", evalErr)
		}
		logger.Info(fmt.Sprintf("validation accuracy: %.3f", acc), slog.String("loss", fmt.Sprintf("%.4f", loss)))

		e := storage.Evaluation{Split: "validation", Samples: val.Len(), Loss: loss, Accuracy: acc}
		if storeErr := store.StoreEvaluation(ctx, runID, e); storeErr != nil {
			logger.Warn("failed to store evaluation", slog.String("error", storeErr.Error()))
		}
	} else {
		logger.Warn("validation split is empty, skipping evaluation")
	}

	if err = model.Save(config.Model.Path); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}

	var size uint64
	if stat, statErr := os.Stat(config.Model.Path); statErr == nil {
		size = uint64(stat.Size())
	}
	logger.Info(fmt.Sprintf("model saved to %s", config.Model.Path), slog.String("size", humanize.Bytes(size)))

	return nil
}

// selectRecords lists the record names of the database directory, drops the
// excluded ones and applies the record limit.
func selectRecords(config *config.DataConfig) ([]string, error) {
	stat, err := os.Stat(config.Directory)
	if err != nil {
		return nil, fmt.Errorf("data directory '%s' is not accessible: %w", config.Directory, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid data directory '%s'", config.Directory)
	}

	all, err := wfdb.ListRecords(config.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	var names []string
	for _, name := range all {
		if config.Excluded(name) {
			continue
		}
		names = append(names, name)
		if len(names) == config.RecordLimit {
			break
		}
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("no records found in '%s'", config.Directory)
	}
	return names, nil
}

// collect extracts the labelled windows of every record in order. The yields
// of the records processed so far are returned alongside an error.
func collect(ctx context.Context, config *config.Config, names []string, logger *slog.Logger) (*dataset.Dataset, []ecg.Yield, error) {
	extractor := ecg.NewExtractor(config.Data.Windowing(), ecg.WithLogger(logger))

	var (
		ds     dataset.Dataset
		yields []ecg.Yield
	)
	for _, name := range names {
		examples, y, err := extractor.Extract(ctx, config.Data.Directory, name)
		if err != nil {
			return &ds, yields, fmt.Errorf("failed to process record %s: %w", name, err)
		}
		yields = append(yields, y)

		logger.Info(fmt.Sprintf("%s: got %s labeled minutes", name, humanize.Comma(int64(y.Labeled()))),
			slog.Int("apnea", y.Apnea),
			slog.Int("normal", y.Normal),
		)
		ds.Append(examples...)
	}

	return &ds, yields, nil
}

func finish(runID string, err error, start time.Time, config *config.Config, store storage.Store, m *metrics.Trainer, logger *slog.Logger) {
	status := storage.StatusSucceeded
	switch {
	case errors.Is(err, context.Canceled):
		status = storage.StatusCanceled
	case err != nil:
		status = storage.StatusFailed
	}

	// the run context may be canceled already
	if finishErr := store.FinishRun(context.Background(), runID, status); finishErr != nil {
		logger.Warn("failed to finish run", slog.String("error", finishErr.Error()))
	}

	m.Finish(start, err == nil)
	if config.Metrics.Textfile != "" {
		if writeErr := m.WriteTextfile(config.Metrics.Textfile); writeErr != nil {
			logger.Warn(writeErr.Error())
		}
	}
}
