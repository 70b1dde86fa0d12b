package wfdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const signalExt = ".dat"

// Record is a decoded WFDB record. Signals[i] holds the physical values of
// header signal i.
type Record struct {
	Header  *Header
	Signals [][]float64
}

// Signal returns the physical samples of channel ch.
func (r *Record) Signal(ch int) ([]float64, error) {
	if ch < 0 || ch >= len(r.Signals) {
		return nil, fmt.Errorf("record %s has %d signals, channel %d requested", r.Header.Name, len(r.Signals), ch)
	}
	return r.Signals[ch], nil
}

// ReadRecord reads the header and all signal files of record name in dir.
func ReadRecord(dir, name string) (*Record, error) {
	h, err := ReadHeader(dir, name)
	if err != nil {
		return nil, err
	}

	rec := Record{
		Header:  h,
		Signals: make([][]float64, len(h.Signals)),
	}

	// group signals by file preserving header order
	var files []string
	groups := make(map[string][]int)
	for i, s := range h.Signals {
		if _, ok := groups[s.FileName]; !ok {
			files = append(files, s.FileName)
		}
		groups[s.FileName] = append(groups[s.FileName], i)
	}

	for _, file := range files {
		idx := groups[file]
		sigs := make([]SignalInfo, len(idx))
		for k, i := range idx {
			sigs[k] = h.Signals[i]
		}

		decoded, err := readSignalFile(dir, sigs, h.NumSamples)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", name, err)
		}
		for k, i := range idx {
			rec.Signals[i] = decoded[k]
		}
	}

	return &rec, nil
}

// ListRecords returns the sorted, unique base names of the signal files in
// dir.
func ListRecords(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	seen := make(map[string]struct{})
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != signalExt {
			continue
		}
		name := strings.TrimSuffix(e.Name(), signalExt)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}
