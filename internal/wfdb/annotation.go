package wfdb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// Annotation is a single entry of an annotation file.
type Annotation struct {
	Sample  int64  // Sample index the annotation refers to
	Code    int    // Annotation code
	Symbol  string // Mnemonic of Code
	Subtype int
	Chan    int
	Num     int
	Aux     string
}

// ReadAnnotations decodes the MIT-format annotation file <name>.<ext> in dir.
// A missing file surfaces an error satisfying errors.Is(err, fs.ErrNotExist).
func ReadAnnotations(dir, name, ext string) ([]Annotation, error) {
	path := filepath.Join(dir, name+"."+ext)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading annotations: %w", err)
	}
	return decodeAnnotations(path, data)
}

func decodeAnnotations(path string, data []byte) ([]Annotation, error) {
	var (
		anns     []Annotation
		t        int64
		chn, num int
		pos      int
	)
	cur := -1 // index of the annotation modifiers apply to

	for pos+1 < len(data) {
		word := binary.LittleEndian.Uint16(data[pos:])
		pos += 2
		code := int(word >> 10)
		delta := int(word & 0x03ff)

		switch {
		case code == 0 && delta == 0:
			return anns, nil

		case code == codeSkip:
			if pos+4 > len(data) {
				return nil, newFormatError(path, 0, "truncated SKIP at byte %d", pos-2)
			}
			// PDP-11 long: high word first, each word little-endian.
			hi := uint32(binary.LittleEndian.Uint16(data[pos:]))
			lo := uint32(binary.LittleEndian.Uint16(data[pos+2:]))
			pos += 4
			t += int64(int32(hi<<16 | lo))

		case code == codeNum:
			num = signExtend10(delta)
			if cur >= 0 {
				anns[cur].Num = num
			}

		case code == codeSub:
			if cur >= 0 {
				anns[cur].Subtype = signExtend10(delta)
			}

		case code == codeChn:
			chn = delta
			if cur >= 0 {
				anns[cur].Chan = chn
			}

		case code == codeAux:
			end := pos + delta
			if end > len(data) {
				return nil, newFormatError(path, 0, "truncated AUX at byte %d", pos-2)
			}
			if cur >= 0 {
				anns[cur].Aux = string(data[pos:end])
			}
			pos = end + delta%2

		default:
			t += int64(delta)
			anns = append(anns, Annotation{
				Sample: t,
				Code:   code,
				Symbol: Mnemonic(code),
				Chan:   chn,
				Num:    num,
			})
			cur = len(anns) - 1
		}
	}

	// files without the terminating zero word are accepted
	return anns, nil
}

func signExtend10(v int) int {
	if v&0x200 != 0 {
		return v - 0x400
	}
	return v
}
