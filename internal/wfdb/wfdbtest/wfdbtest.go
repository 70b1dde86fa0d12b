// Package wfdbtest writes small WFDB records and annotation files for tests.
package wfdbtest

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Annotation is a sample index and annotation code pair.
type Annotation struct {
	Sample int64
	Code   int
}

// WriteRecord writes a single-signal format 16 record <name>.hea/<name>.dat
// into dir.
func WriteRecord(t testing.TB, dir, name string, fs float64, gain float64, baseline int, adc []int16) {
	t.Helper()

	hea := fmt.Sprintf("%s 1 %g %d\n%s.dat 16 %g(%d)/mV 12 0 0 0 0 ECG\n",
		name, fs, len(adc), name, gain, baseline)
	if err := os.WriteFile(filepath.Join(dir, name+".hea"), []byte(hea), 0o644); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}

	dat := make([]byte, 2*len(adc))
	for i, v := range adc {
		binary.LittleEndian.PutUint16(dat[2*i:], uint16(v))
	}
	if err := os.WriteFile(filepath.Join(dir, name+".dat"), dat, 0o644); err != nil {
		t.Fatalf("Failed to write signal file: %v", err)
	}
}

// WriteAnnotations writes anns as an MIT-format annotation file
// <name>.<ext> into dir.
func WriteAnnotations(t testing.TB, dir, name, ext string, anns []Annotation) {
	t.Helper()

	if err := os.WriteFile(filepath.Join(dir, name+"."+ext), EncodeAnnotations(anns), 0o644); err != nil {
		t.Fatalf("Failed to write annotations: %v", err)
	}
}

// EncodeAnnotations encodes anns in MIT format. Time deltas that do not fit
// into 10 bits are written with a SKIP pseudo annotation.
func EncodeAnnotations(anns []Annotation) []byte {
	var (
		out  []byte
		prev int64
	)
	word := func(w uint16) {
		out = binary.LittleEndian.AppendUint16(out, w)
	}

	for _, a := range anns {
		delta := a.Sample - prev
		prev = a.Sample
		if delta < 0 || delta > 0x3ff {
			word(59 << 10)
			v := uint32(int32(delta))
			word(uint16(v >> 16))
			word(uint16(v))
			delta = 0
		}
		word(uint16(a.Code)<<10 | uint16(delta))
	}
	word(0)

	return out
}
