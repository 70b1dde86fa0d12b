// Package metrics collects batch job metrics for the trainer and the
// exporter and writes them in the Prometheus text format, suitable for the
// node exporter textfile collector.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/roman-kulish/apnea-detection/internal/calibrate"
	"github.com/roman-kulish/apnea-detection/internal/cnn"
	"github.com/roman-kulish/apnea-detection/internal/ecg"
)

const namespace = "apnea"

// Trainer holds the metrics of a training run.
type Trainer struct {
	registry *prometheus.Registry

	Records     *prometheus.CounterVec
	Minutes     *prometheus.CounterVec
	Windows     *prometheus.CounterVec
	ClassWeight *prometheus.GaugeVec
	Epochs      prometheus.Counter
	Loss        *prometheus.GaugeVec
	Accuracy    *prometheus.GaugeVec
	Duration    prometheus.Gauge
	LastSuccess prometheus.Gauge
	ModelParams prometheus.Gauge
}

// NewTrainer creates trainer metrics on a private registry.
func NewTrainer() *Trainer {
	m := Trainer{
		registry: prometheus.NewRegistry(),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "records_total",
			Help:      "Records processed by outcome",
		}, []string{"state"}),
		Minutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "minutes_total",
			Help:      "Record minutes considered by outcome",
		}, []string{"outcome"}),
		Windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "windows_total",
			Help:      "Labelled windows collected by class",
		}, []string{"class"}),
		ClassWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "class_weight",
			Help:      "Balanced class weight applied to the loss",
		}, []string{"class"}),
		Epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "epochs_total",
			Help:      "Completed training epochs",
		}),
		Loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "loss",
			Help:      "Binary cross-entropy of the last epoch",
		}, []string{"split"}),
		Accuracy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "accuracy",
			Help:      "Accuracy of the last epoch",
		}, []string{"split"}),
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "duration_seconds",
			Help:      "Duration of the training run",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful training run",
		}),
		ModelParams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "model_parameters",
			Help:      "Trainable parameters of the model",
		}),
	}

	m.registry.MustRegister(
		m.Records, m.Minutes, m.Windows, m.ClassWeight, m.Epochs,
		m.Loss, m.Accuracy, m.Duration, m.LastSuccess, m.ModelParams,
	)
	return &m
}

// ObserveYield accounts for one record.
func (m *Trainer) ObserveYield(y ecg.Yield) {
	switch {
	case y.AnnotationsMissing:
		m.Records.WithLabelValues("annotations_missing").Inc()
	case y.Labeled() == 0:
		m.Records.WithLabelValues("empty").Inc()
	default:
		m.Records.WithLabelValues("used").Inc()
	}

	m.Minutes.WithLabelValues("labeled").Add(float64(y.Labeled()))
	m.Minutes.WithLabelValues("unlabeled").Add(float64(y.Unlabeled))
	m.Minutes.WithLabelValues("ambiguous").Add(float64(y.Ambiguous))
	m.Minutes.WithLabelValues("invalid").Add(float64(y.Invalid))

	m.Windows.WithLabelValues(ecg.Apnea.String()).Add(float64(y.Apnea))
	m.Windows.WithLabelValues(ecg.Normal.String()).Add(float64(y.Normal))
}

// ObserveClassWeights records the weights applied to the loss.
func (m *Trainer) ObserveClassWeights(weights map[ecg.Label]float64) {
	for label, w := range weights {
		m.ClassWeight.WithLabelValues(label.String()).Set(w)
	}
}

// ObserveEpoch records the statistics of a finished epoch.
func (m *Trainer) ObserveEpoch(s cnn.EpochStats) {
	m.Epochs.Inc()
	m.Loss.WithLabelValues("train").Set(s.Loss)
	m.Accuracy.WithLabelValues("train").Set(s.Accuracy)
	if s.HasVal {
		m.Loss.WithLabelValues("validation").Set(s.ValLoss)
		m.Accuracy.WithLabelValues("validation").Set(s.ValAccuracy)
	}
}

// Finish records the run duration and, on success, the completion time.
func (m *Trainer) Finish(start time.Time, success bool) {
	m.Duration.Set(time.Since(start).Seconds())
	if success {
		m.LastSuccess.SetToCurrentTime()
	}
}

// WriteTextfile writes all trainer metrics to path.
func (m *Trainer) WriteTextfile(path string) error {
	return writeTextfile(path, m.registry)
}

// Handler serves the trainer metrics in the Prometheus exposition format.
func (m *Trainer) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Exporter holds the metrics of an export run.
type Exporter struct {
	registry *prometheus.Registry

	Scanned     *prometheus.CounterVec
	Skipped     *prometheus.CounterVec
	Probability *prometheus.GaugeVec
	Minute      *prometheus.GaugeVec
	Threshold   prometheus.Gauge
	Distinct    prometheus.Gauge
	Duration    prometheus.Gauge
}

// NewExporter creates exporter metrics on a private registry.
func NewExporter() *Exporter {
	m := Exporter{
		registry: prometheus.NewRegistry(),
		Scanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "scanned_minutes_total",
			Help:      "Minutes scanned per record",
		}, []string{"record"}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "skipped_minutes_total",
			Help:      "Minutes skipped per record",
		}, []string{"record"}),
		Probability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "exemplar_probability",
			Help:      "Predicted apnea probability of the selected exemplar",
		}, []string{"class"}),
		Minute: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "exemplar_minute",
			Help:      "Minute index of the selected exemplar",
		}, []string{"class"}),
		Threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "threshold",
			Help:      "Suggested decision threshold",
		}),
		Distinct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "distinct",
			Help:      "1 if the exemplars are separated by the configured margin",
		}),
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "duration_seconds",
			Help:      "Duration of the export run",
		}),
	}

	m.registry.MustRegister(m.Scanned, m.Skipped, m.Probability, m.Minute, m.Threshold, m.Distinct, m.Duration)
	return &m
}

// ObserveScan records a scan of one record for class.
func (m *Exporter) ObserveScan(class ecg.Label, res calibrate.ScanResult) {
	m.Scanned.WithLabelValues(res.Record).Add(float64(res.Scanned))
	m.Skipped.WithLabelValues(res.Record).Add(float64(res.Skipped))
	m.Probability.WithLabelValues(class.String()).Set(float64(res.Probability))
	m.Minute.WithLabelValues(class.String()).Set(float64(res.Minute))
}

// ObserveCalibration records the threshold and separation of a calibration.
func (m *Exporter) ObserveCalibration(c calibrate.Calibration, distinct bool) {
	m.Threshold.Set(float64(c.Threshold()))
	if distinct {
		m.Distinct.Set(1)
	} else {
		m.Distinct.Set(0)
	}
}

// Finish records the run duration.
func (m *Exporter) Finish(start time.Time) {
	m.Duration.Set(time.Since(start).Seconds())
}

// WriteTextfile writes all exporter metrics to path.
func (m *Exporter) WriteTextfile(path string) error {
	return writeTextfile(path, m.registry)
}

func writeTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// Serve exposes h under /metrics, plus a /health probe, on addr until ctx is
// done. It returns once the listener is bound.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) (net.Addr, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	return ln.Addr(), nil
}
