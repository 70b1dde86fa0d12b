package header

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/roman-kulish/apnea-detection/internal/calibrate"
)

func testCalibration(n int) calibrate.Calibration {
	apnea := make([]float32, n)
	normal := make([]float32, n)
	for i := range apnea {
		apnea[i] = float32(i)
		normal[i] = -float32(i+1) / 4
	}
	return calibrate.Calibration{
		Apnea:  calibrate.Exemplar{Record: "a01", Minute: 3, Probability: 0.9, Window: apnea},
		Normal: calibrate.Exemplar{Record: "c01", Minute: 0, Probability: 0.1, Window: normal},
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testCalibration(9)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	expected := "#ifndef ONE_WINDOW_H\n#define ONE_WINDOW_H\n\n" +
		"#include <stdint.h>\n\n" +
		"#define ONE_WINDOW_LEN 9\n\n" +
		"#define APNEA_THRESHOLD 0.5000f\n\n" +
		"/* Best Apnea Candidate (Minute 3, Prob 0.9000, Record a01) */\n" +
		"static const float apnea_window[ONE_WINDOW_LEN] = {\n" +
		"  0.0000000f,  1.0000000f,  2.0000000f,  3.0000000f,  4.0000000f,  5.0000000f,  6.0000000f,  7.0000000f,\n" +
		"  8.0000000f,\n};\n\n" +
		"/* Best Normal Candidate (Minute 0, Prob 0.1000, Record c01) */\n" +
		"static const float normal_window[ONE_WINDOW_LEN] = {\n" +
		"  -0.2500000f,  -0.5000000f,  -0.7500000f,  -1.0000000f,  -1.2500000f,  -1.5000000f,  -1.7500000f,  -2.0000000f,\n" +
		"  -2.2500000f,\n};\n\n" +
		"#endif // ONE_WINDOW_H\n"

	if got := buf.String(); got != expected {
		t.Errorf("Unexpected header.\nExpected:\n%s\nGot:\n%s", expected, got)
	}
}

func TestWrite_FullLines(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testCalibration(8)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("  7.0000000f,\n\n};\n\n")) {
		t.Errorf("Expected an empty line before the closing brace:\n%s", buf.String())
	}
}

func TestWrite_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	if err := Write(&a, testCalibration(20)); err != nil {
		t.Fatal(err)
	}
	if err := Write(&b, testCalibration(20)); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("Same calibration rendered different headers")
	}
}

func TestWrite_LengthMismatch(t *testing.T) {
	c := testCalibration(4)
	c.Normal.Window = c.Normal.Window[:3]

	if err := Write(&bytes.Buffer{}, c); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Expected ErrLengthMismatch, got %v", err)
	}
	if err := Write(&bytes.Buffer{}, calibrate.Calibration{}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Expected ErrLengthMismatch for empty windows, got %v", err)
	}
}

func TestWriteFile_Replaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inc", "one_window.h")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 1<<16), 0o644); err != nil {
		t.Fatal(err)
	}

	c := testCalibration(9)
	if err := WriteFile(path, c); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var want bytes.Buffer
	if err := Write(&want, c); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Error("Header file does not match rendered header")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the header in the directory, found %d entries", len(entries))
	}
}

func TestWriteFile_NoPartialOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one_window.h")

	if err := WriteFile(path, calibrate.Calibration{}); err == nil {
		t.Fatal("Expected error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no files after failed write, found %d", len(entries))
	}
}
