package wfdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Invalid-sample sentinels per storage format.
const (
	invalid16  = -32768
	invalid80  = -128
	invalid212 = -2048
)

// decodeADC converts the raw bytes of one signal file into frame-interleaved
// ADC values.
func decodeADC(format int, data []byte) ([]int, error) {
	switch format {
	case 16:
		out := make([]int, len(data)/2)
		for i := range out {
			out[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
		}
		return out, nil

	case 61:
		out := make([]int, len(data)/2)
		for i := range out {
			out[i] = int(int16(binary.BigEndian.Uint16(data[2*i:])))
		}
		return out, nil

	case 80:
		out := make([]int, len(data))
		for i, b := range data {
			out[i] = int(b) - 128
		}
		return out, nil

	case 212:
		// Two 12-bit samples packed into three bytes.
		out := make([]int, 0, len(data)/3*2+1)
		for i := 0; i+1 < len(data); i += 3 {
			s0 := int(data[i]) | int(data[i+1]&0x0f)<<8
			out = append(out, signExtend12(s0))
			if i+2 < len(data) {
				s1 := int(data[i+2]) | int(data[i+1]&0xf0)<<4
				out = append(out, signExtend12(s1))
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported signal format %d", format)
}

func signExtend12(v int) int {
	if v&0x800 != 0 {
		return v - 0x1000
	}
	return v
}

func isInvalid(format, v int) bool {
	switch format {
	case 16, 61:
		return v == invalid16
	case 80:
		return v == invalid80
	case 212:
		return v == invalid212
	}
	return false
}

// readSignalFile decodes every signal stored in one file. sigs are the
// header signal lines sharing the file, in header order.
func readSignalFile(dir string, sigs []SignalInfo, numSamples int) ([][]float64, error) {
	path := filepath.Join(dir, sigs[0].FileName)
	format := sigs[0].Format
	for _, s := range sigs[1:] {
		if s.Format != format {
			return nil, newFormatError(path, 0, "mixed formats %d and %d in one file", format, s.Format)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening signal file: %w", err)
	}
	defer f.Close()

	if off := sigs[0].ByteOffset; off > 0 {
		if _, err = f.Seek(off, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seeking signal file: %w", err)
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading signal file: %w", err)
	}

	adc, err := decodeADC(format, data)
	if err != nil {
		return nil, newFormatError(path, 0, "%v", err)
	}

	nsig := len(sigs)
	frames := len(adc) / nsig
	if numSamples > 0 && numSamples < frames {
		frames = numSamples
	}

	out := make([][]float64, nsig)
	for j, s := range sigs {
		phys := make([]float64, frames)
		for i := range phys {
			v := adc[i*nsig+j]
			if isInvalid(format, v) {
				phys[i] = math.NaN()
				continue
			}
			phys[i] = float64(v-s.Baseline) / s.Gain
		}
		out[j] = phys
	}
	return out, nil
}
