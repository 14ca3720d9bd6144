package keylog

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by ParseError.
var (
	// ErrFieldCount indicates a line without exactly three fields.
	ErrFieldCount = errors.New("expected 3 fields: <timestamp> <key> <push>")

	// ErrTimestamp indicates a timestamp that is not a base-10 integer.
	ErrTimestamp = errors.New("timestamp is not an integer")

	// ErrPushFlag indicates a push flag other than 0 or 1.
	ErrPushFlag = errors.New("push flag must be 0 or 1")

	// ErrOutOfOrder indicates a timestamp earlier than the previous event's.
	ErrOutOfOrder = errors.New("timestamp is earlier than previous event")
)

// ParseError identifies the offending keylog line.
type ParseError struct {
	Path string
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s:%d: %v: %q", e.Path, e.Line, e.Err, e.Text)
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
	}
	return fmt.Sprintf("%v: %q", e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
