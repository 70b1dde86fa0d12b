package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roman-kulish/apnea-detection/internal/calibrate"
	"github.com/roman-kulish/apnea-detection/internal/cnn"
	"github.com/roman-kulish/apnea-detection/internal/config"
	"github.com/roman-kulish/apnea-detection/internal/ecg"
	"github.com/roman-kulish/apnea-detection/internal/header"
	"github.com/roman-kulish/apnea-detection/internal/metrics"
	"github.com/roman-kulish/apnea-detection/internal/storage"
)

// Run loads the trained model, selects the apnea and normal exemplars and
// writes the firmware header.
func Run(ctx context.Context, config *config.Config, logger *slog.Logger) (err error) {
	start := time.Now()

	store := storage.Open(config.Storage.DBPath)
	defer store.Close()

	runID, err := store.CreateRun(ctx, storage.KindExport, config)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	m := metrics.NewExporter()
	defer func() {
		finish(runID, err, start, config, store, m, logger)
	}()

	model, err := cnn.Load(config.Model.Path, cnn.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	extractor := ecg.NewExtractor(config.Data.Windowing(), ecg.WithLogger(logger))
	if windowLen := extractor.Config().WindowLen(); model.InputLen() != windowLen {
		return fmt.Errorf("model expects %d samples per window, configuration gives %d", model.InputLen(), windowLen)
	}

	logger.Info("searching for best windows", slog.Int("minutes", config.Export.Minutes))

	apnea, err := scan(ctx, model, extractor, config, config.Export.ApneaRecord, ecg.Apnea, logger)
	if err != nil {
		return err
	}
	m.ObserveScan(ecg.Apnea, apnea)

	normal, err := scan(ctx, model, extractor, config, config.Export.NormalRecord, ecg.Normal, logger)
	if err != nil {
		return err
	}
	m.ObserveScan(ecg.Normal, normal)

	calib := calibrate.Calibration{Apnea: apnea.Exemplar, Normal: normal.Exemplar}
	distinct := calib.Distinct(float32(config.Export.DistinctMargin))
	m.ObserveCalibration(calib, distinct)

	logger.Info(fmt.Sprintf("suggested threshold: %.4f", calib.Threshold()))
	if distinct {
		logger.Info("clear distinction found")
	} else {
		logger.Warn("model cannot distinguish well between the exemplars",
			slog.String("apnea", fmt.Sprintf("%.4f", apnea.Probability)),
			slog.String("normal", fmt.Sprintf("%.4f", normal.Probability)),
		)
	}

	// the header is the last artifact replaced, so a failed plot leaves it untouched
	if config.Export.PlotPath != "" {
		renderer := NewExemplarRenderer(RenderConfig{SampleRate: config.Data.SampleRate})

		img, renderErr := renderer.Render(calib)
		if renderErr != nil {
			return fmt.Errorf("failed to render plot: %w", renderErr)
		}
		if err = writeImage(config.Export.PlotPath, img); err != nil {
			return fmt.Errorf("failed to write plot: %w", err)
		}
		logger.Info(fmt.Sprintf("plot written: %s", config.Export.PlotPath))
	}

	if err = header.WriteFile(config.Export.HeaderPath, calib); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	logger.Info(fmt.Sprintf("header file updated: %s", config.Export.HeaderPath))

	if storeErr := store.StoreCalibration(ctx, runID, calib, distinct, config.Export.HeaderPath); storeErr != nil {
		logger.Warn("failed to store calibration", slog.String("error", storeErr.Error()))
	}

	return nil
}

// scan loads a record once and scans its first minutes for the exemplar of
// class. A record that cannot be read leaves every minute unusable.
func scan(ctx context.Context, model *cnn.Model, extractor *ecg.Extractor, config *config.Config, record string, class ecg.Label, logger *slog.Logger) (calibrate.ScanResult, error) {
	dir := calibrate.Highest
	if class == ecg.Normal {
		dir = calibrate.Lowest
	}

	samples, loadErr := extractor.Load(config.Data.Directory, record)
	if loadErr != nil {
		logger.Warn("failed to load record", slog.String("record", record), slog.String("error", loadErr.Error()))
	}

	source := func(minute int) ([]float32, error) {
		if loadErr != nil {
			return nil, loadErr
		}
		return extractor.Window(samples, minute)
	}

	res, err := calibrate.Scan(ctx, model, record, source, config.Export.Minutes, dir)
	if err != nil {
		return res, fmt.Errorf("scanning for %s exemplar: %w", class, err)
	}

	logger.Info(fmt.Sprintf("found best %s candidate", class),
		slog.String("record", record),
		slog.Int("minute", res.Minute),
		slog.String("probability", fmt.Sprintf("%.4f", res.Probability)),
		slog.String("dominant", fmt.Sprintf("%.2fHz", ecg.DominantFrequency(res.Window, config.Data.SampleRate))),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

func finish(runID string, err error, start time.Time, config *config.Config, store storage.Store, m *metrics.Exporter, logger *slog.Logger) {
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

	m.Finish(start)
	if config.Metrics.Textfile != "" {
		if writeErr := m.WriteTextfile(config.Metrics.Textfile); writeErr != nil {
			logger.Warn(writeErr.Error())
		}
	}
}
