// Package keylog reads timestamped key press/release logs.
package keylog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Floozutter/stowjar/internal/keystate"
)

// Event is a single key press or release.
type Event struct {
	Timestamp int64
	Key       keystate.Key
	Push      bool
}

// ParseLine parses "<timestamp> <key> <push>" with push being 0 or 1.
func ParseLine(line string) (Event, error) {
	text := strings.TrimSpace(line)
	fields := strings.Fields(text)
	if len(fields) != 3 {
		return Event{}, &ParseError{Text: text, Err: ErrFieldCount}
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Event{}, &ParseError{Text: text, Err: ErrTimestamp}
	}
	var push bool
	switch fields[2] {
	case "1":
		push = true
	case "0":
		push = false
	default:
		return Event{}, &ParseError{Text: text, Err: ErrPushFlag}
	}
	return Event{Timestamp: ts, Key: fields[1], Push: push}, nil
}

// Read parses one event per line. Blank lines are skipped; the first malformed
// line stops reading.
func Read(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := ParseLine(line)
		if err != nil {
			var perr *ParseError
			if errors.As(err, &perr) {
				perr.Line = lineNo
			}
			return nil, err
		}
		if n := len(events); n > 0 && ev.Timestamp < events[n-1].Timestamp {
			return nil, &ParseError{Line: lineNo, Text: line, Err: ErrOutOfOrder}
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// LoadFile reads a keylog file and returns its events along with the raw
// bytes they were parsed from. Parse errors carry the path.
func LoadFile(path string) ([]Event, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read keylog: %w", err)
	}
	events, err := Read(bytes.NewReader(data))
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = path
		}
		return nil, nil, err
	}
	return events, data, nil
}
