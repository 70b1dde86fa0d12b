// Package header renders exemplar windows and the decision threshold as a C
// header for the embedded demo.
package header

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/roman-kulish/apnea-detection/internal/calibrate"
)

const valuesPerLine = 8

// ErrLengthMismatch is returned when the two exemplars differ in length.
var ErrLengthMismatch = errors.New("exemplar windows differ in length")

// Write renders c as a C header to w.
func Write(w io.Writer, c calibrate.Calibration) error {
	n := len(c.Apnea.Window)
	if n == 0 || len(c.Normal.Window) != n {
		return fmt.Errorf("%w: apnea %d, normal %d", ErrLengthMismatch, n, len(c.Normal.Window))
	}

	bw := bufio.NewWriter(w)
	bw.WriteString("#ifndef ONE_WINDOW_H\n#define ONE_WINDOW_H\n\n")
	bw.WriteString("#include <stdint.h>\n\n")
	fmt.Fprintf(bw, "#define ONE_WINDOW_LEN %d\n\n", n)
	fmt.Fprintf(bw, "#define APNEA_THRESHOLD %.4ff\n\n", c.Threshold())

	writeArray(bw, "Apnea", "apnea_window", c.Apnea)
	writeArray(bw, "Normal", "normal_window", c.Normal)

	bw.WriteString("#endif // ONE_WINDOW_H\n")
	return bw.Flush()
}

func writeArray(bw *bufio.Writer, title, name string, e calibrate.Exemplar) {
	fmt.Fprintf(bw, "/* Best %s Candidate (Minute %d, Prob %.4f, Record %s) */\n", title, e.Minute, e.Probability, e.Record)
	fmt.Fprintf(bw, "static const float %s[ONE_WINDOW_LEN] = {\n", name)

	buf := make([]byte, 0, 32)
	for i, v := range e.Window {
		buf = append(buf[:0], "  "...)
		buf = strconv.AppendFloat(buf, float64(v), 'f', 7, 32)
		buf = append(buf, "f,"...)
		if (i+1)%valuesPerLine == 0 {
			buf = append(buf, '\n')
		}
		bw.Write(buf)
	}
	bw.WriteString("\n};\n\n")
}

// WriteFile renders c to path, replacing any existing file. The header is
// written to a temporary file in the same directory and renamed into place.
func WriteFile(path string, c calibrate.Calibration) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating header directory: %w", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating header file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err = Write(f, c); err != nil {
		return err
	}
	if err = f.Chmod(0o644); err != nil {
		return fmt.Errorf("setting header permissions: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing header file: %w", err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("renaming header file: %w", err)
	}
	return nil
}
