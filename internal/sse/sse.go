// Package sse reads server-sent-event frames from a response body.
package sse

import (
	"bufio"
	"io"
	"strings"
)

const maxFrameSize = 1 << 20

// Scanner yields the data payload of each SSE event in order. Multi-line
// data fields are joined with newlines per the SSE convention; comment and
// non-data fields are skipped.
type Scanner struct {
	s    *bufio.Scanner
	data []string
}

// NewScanner wraps r. The caller keeps ownership of r and closes it.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Scanner{s: s}
}

// Next returns the next event's data payload. It returns io.EOF when the
// stream ends cleanly, or the underlying read error otherwise. A pending
// payload not yet terminated by a blank line is flushed at end of stream.
func (sc *Scanner) Next() ([]byte, error) {
	for sc.s.Scan() {
		line := sc.s.Text()
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			sc.data = append(sc.data, strings.TrimPrefix(rest, " "))
			continue
		}
		if line == "" && len(sc.data) > 0 {
			return sc.flush(), nil
		}
		// field names other than data, and ":" comments, are ignored
	}
	if err := sc.s.Err(); err != nil {
		return nil, err
	}
	if len(sc.data) > 0 {
		return sc.flush(), nil
	}
	return nil, io.EOF
}

func (sc *Scanner) flush() []byte {
	payload := strings.Join(sc.data, "\n")
	sc.data = sc.data[:0]
	return []byte(payload)
}
