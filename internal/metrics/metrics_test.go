package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/roman-kulish/apnea-detection/internal/calibrate"
	"github.com/roman-kulish/apnea-detection/internal/cnn"
	"github.com/roman-kulish/apnea-detection/internal/ecg"
)

func TestTrainer(t *testing.T) {
	m := NewTrainer()
	m.ObserveYield(ecg.Yield{Record: "a01", Minutes: 10, Apnea: 6, Normal: 2, Unlabeled: 1, Invalid: 1})
	m.ObserveYield(ecg.Yield{Record: "b01", AnnotationsMissing: true})
	m.ObserveYield(ecg.Yield{Record: "c01", Minutes: 3, Ambiguous: 3})
	m.ObserveClassWeights(map[ecg.Label]float64{ecg.Apnea: 0.6, ecg.Normal: 3})
	m.ObserveEpoch(cnn.EpochStats{Epoch: 1, Loss: 0.7, Accuracy: 0.5, ValLoss: 0.65, ValAccuracy: 0.6, HasVal: true})
	m.ObserveEpoch(cnn.EpochStats{Epoch: 2, Loss: 0.6, Accuracy: 0.7})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"used records", testutil.ToFloat64(m.Records.WithLabelValues("used")), 1},
		{"missing records", testutil.ToFloat64(m.Records.WithLabelValues("annotations_missing")), 1},
		{"empty records", testutil.ToFloat64(m.Records.WithLabelValues("empty")), 1},
		{"apnea windows", testutil.ToFloat64(m.Windows.WithLabelValues("apnea")), 6},
		{"normal windows", testutil.ToFloat64(m.Windows.WithLabelValues("normal")), 2},
		{"ambiguous minutes", testutil.ToFloat64(m.Minutes.WithLabelValues("ambiguous")), 3},
		{"normal weight", testutil.ToFloat64(m.ClassWeight.WithLabelValues("normal")), 3},
		{"epochs", testutil.ToFloat64(m.Epochs), 2},
		{"train loss", testutil.ToFloat64(m.Loss.WithLabelValues("train")), 0.6},
		{"validation accuracy", testutil.ToFloat64(m.Accuracy.WithLabelValues("validation")), 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestExporter_WriteTextfile(t *testing.T) {
	m := NewExporter()
	c := calibrate.Calibration{
		Apnea:  calibrate.Exemplar{Record: "a01", Minute: 4, Probability: 0.75},
		Normal: calibrate.Exemplar{Record: "c01", Minute: 9, Probability: 0.25},
	}
	m.ObserveScan(ecg.Apnea, calibrate.ScanResult{Exemplar: c.Apnea, Scanned: 60, Skipped: 2})
	m.ObserveScan(ecg.Normal, calibrate.ScanResult{Exemplar: c.Normal, Scanned: 60})
	m.ObserveCalibration(c, true)
	m.Finish(time.Now())

	if got := testutil.ToFloat64(m.Threshold); got != 0.5 {
		t.Errorf("Expected threshold 0.5, got %v", got)
	}
	if got := testutil.ToFloat64(m.Skipped.WithLabelValues("a01")); got != 2 {
		t.Errorf("Expected 2 skipped minutes, got %v", got)
	}

	path := filepath.Join(t.TempDir(), "exporter.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`apnea_exporter_exemplar_minute{class="normal"} 9`,
		`apnea_exporter_scanned_minutes_total{record="a01"} 60`,
		"apnea_exporter_distinct 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected %q in textfile:\n%s", want, body)
		}
	}
}

func TestTrainer_Handler(t *testing.T) {
	m := NewTrainer()
	m.ObserveEpoch(cnn.EpochStats{Epoch: 1, Loss: 0.5, Accuracy: 0.75})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `apnea_trainer_accuracy{split="train"} 0.75`) {
		t.Errorf("Expected train accuracy in body:\n%s", body)
	}
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewTrainer()
	m.Epochs.Add(3)

	addr, err := Serve(ctx, "127.0.0.1:0", m.Handler(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	for path, want := range map[string]string{
		"/metrics": "apnea_trainer_epochs_total 3",
		"/health":  "",
	} {
		resp, err := http.Get("http://" + addr.String() + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected status 200, got %d", path, resp.StatusCode)
		}
		if !strings.Contains(string(body), want) {
			t.Errorf("GET %s: expected %q in body:\n%s", path, want, body)
		}
	}

	if _, err = Serve(ctx, addr.String(), m.Handler(), nil); err == nil {
		t.Error("Expected error for an address in use")
	}
}
