// Package wfdb reads PhysioNet WFDB records: text headers, binary signal
// files and MIT-format annotation files.
package wfdb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// DefaultADCGain is used when a header omits the gain or sets it to zero.
	DefaultADCGain = 200.0

	headerExt = ".hea"
)

// SignalInfo describes one signal line of a record header.
type SignalInfo struct {
	FileName    string  // Signal file the samples are stored in
	Format      int     // Storage format (16, 61, 80, 212)
	ByteOffset  int64   // Offset of the first sample within the file
	Gain        float64 // ADC units per physical unit
	Baseline    int     // ADC value corresponding to 0 physical units
	Units       string  // Physical units, "mV" if not given
	Resolution  int     // ADC resolution in bits
	ADCZero     int     // ADC value at the middle of the input range
	InitValue   int     // Value of the first sample
	Checksum    int     // 16-bit checksum of all samples
	BlockSize   int     // Block size, 0 for ordinary files
	Description string  // Free-text signal description, e.g. "ECG"
}

// Header describes a WFDB record.
type Header struct {
	Name       string
	NumSignals int
	SampleRate float64 // Samples per second per signal
	NumSamples int     // Samples per signal, 0 if unknown
	Signals    []SignalInfo
}

// ReadHeader parses the header file of record name located in dir.
func ReadHeader(dir, name string) (*Header, error) {
	path := filepath.Join(dir, name+headerExt)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening header: %w", err)
	}
	defer f.Close()

	var h *Header
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		if h == nil {
			if h, err = parseRecordLine(path, lineNo, line); err != nil {
				return nil, err
			}
			continue
		}
		if len(h.Signals) == h.NumSignals {
			break // trailing info lines
		}

		sig, err := parseSignalLine(path, lineNo, line)
		if err != nil {
			return nil, err
		}
		h.Signals = append(h.Signals, sig)
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	if h == nil {
		return nil, newFormatError(path, 0, "missing record line")
	}
	if len(h.Signals) != h.NumSignals {
		return nil, newFormatError(path, 0, "expected %d signal lines, found %d", h.NumSignals, len(h.Signals))
	}
	return h, nil
}

// parseRecordLine parses "name[/segments] nsig [fs[/counter[(base)]] [nsamp [time [date]]]]".
func parseRecordLine(path string, lineNo int, line string) (*Header, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, newFormatError(path, lineNo, "record line needs at least name and number of signals")
	}

	h := Header{SampleRate: 250} // WFDB default frequency
	h.Name = fields[0]
	if i := strings.Index(h.Name, "/"); i >= 0 {
		return nil, newFormatError(path, lineNo, "multi-segment records are not supported: %s", h.Name)
	}

	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return nil, newFormatError(path, lineNo, "invalid number of signals %q", fields[1])
	}
	h.NumSignals = n

	if len(fields) > 2 {
		fs := fields[2]
		if i := strings.IndexAny(fs, "/("); i >= 0 {
			fs = fs[:i]
		}
		if h.SampleRate, err = strconv.ParseFloat(fs, 64); err != nil || h.SampleRate <= 0 {
			return nil, newFormatError(path, lineNo, "invalid sampling frequency %q", fields[2])
		}
	}
	if len(fields) > 3 {
		if h.NumSamples, err = strconv.Atoi(fields[3]); err != nil || h.NumSamples < 0 {
			return nil, newFormatError(path, lineNo, "invalid number of samples %q", fields[3])
		}
	}

	return &h, nil
}

// parseSignalLine parses
// "file format[xsamp][:skew][+offset] [gain[(baseline)][/units] [res [zero [init [checksum [block [desc]]]]]]]".
func parseSignalLine(path string, lineNo int, line string) (SignalInfo, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return SignalInfo{}, newFormatError(path, lineNo, "signal line needs at least file name and format")
	}

	sig := SignalInfo{
		FileName:   fields[0],
		Gain:       DefaultADCGain,
		Units:      "mV",
		Resolution: 12,
	}

	format := fields[1]
	if i := strings.Index(format, "+"); i >= 0 {
		off, err := strconv.ParseInt(format[i+1:], 10, 64)
		if err != nil || off < 0 {
			return sig, newFormatError(path, lineNo, "invalid byte offset in %q", format)
		}
		sig.ByteOffset = off
		format = format[:i]
	}
	if i := strings.IndexAny(format, "x:"); i >= 0 {
		format = format[:i]
	}
	var err error
	if sig.Format, err = strconv.Atoi(format); err != nil {
		return sig, newFormatError(path, lineNo, "invalid format %q", fields[1])
	}

	baselineSet := false
	if len(fields) > 2 {
		gain := fields[2]
		if i := strings.Index(gain, "/"); i >= 0 {
			sig.Units = gain[i+1:]
			gain = gain[:i]
		}
		if i := strings.Index(gain, "("); i >= 0 {
			j := strings.Index(gain, ")")
			if j < i {
				return sig, newFormatError(path, lineNo, "unterminated baseline in %q", fields[2])
			}
			if sig.Baseline, err = strconv.Atoi(gain[i+1 : j]); err != nil {
				return sig, newFormatError(path, lineNo, "invalid baseline in %q", fields[2])
			}
			baselineSet = true
			gain = gain[:i]
		}
		if sig.Gain, err = strconv.ParseFloat(gain, 64); err != nil {
			return sig, newFormatError(path, lineNo, "invalid gain %q", fields[2])
		}
		if sig.Gain == 0 {
			sig.Gain = DefaultADCGain
		}
	}

	ints := []*int{&sig.Resolution, &sig.ADCZero, &sig.InitValue, &sig.Checksum, &sig.BlockSize}
	for i, dst := range ints {
		idx := 3 + i
		if idx >= len(fields) {
			break
		}
		if *dst, err = strconv.Atoi(fields[idx]); err != nil {
			return sig, newFormatError(path, lineNo, "invalid integer field %d %q", idx+1, fields[idx])
		}
	}
	if len(fields) > 8 {
		sig.Description = strings.Join(fields[8:], " ")
	}
	if !baselineSet {
		sig.Baseline = sig.ADCZero
	}

	return sig, nil
}
