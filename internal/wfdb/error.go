package wfdb

import "fmt"

// FormatError is returned when a WFDB file is present but cannot be parsed.
type FormatError struct {
	File string
	Line int // 1-based line number for text files, 0 for binary files
	msg  string
}

func newFormatError(file string, line int, format string, args ...any) *FormatError {
	return &FormatError{File: file, Line: line, msg: fmt.Sprintf(format, args...)}
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("wfdb: %s:%d: %s", e.File, e.Line, e.msg)
	}
	return fmt.Sprintf("wfdb: %s: %s", e.File, e.msg)
}
