package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Query filters trail events. Zero values match everything.
type Query struct {
	ResourceID string
	Type       EventType
	Since      time.Time
	Until      time.Time
	Limit      int
}

func (q Query) matches(event *Event) bool {
	if q.ResourceID != "" && event.ResourceID != q.ResourceID {
		return false
	}
	if q.Type != "" && event.Type != q.Type {
		return false
	}
	if !q.Since.IsZero() && event.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && event.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// Reader iterates the events of a single segment file
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a segment for reading
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit segment: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	return &Reader{
		scanner: scanner,
		file:    file,
	}, nil
}

// Next reads the next event, returning io.EOF at the end of the segment
func (r *Reader) Next() (*Event, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var event Event
	if err := json.Unmarshal(r.scanner.Bytes(), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit event: %w", err)
	}
	return &event, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay streams every matching event through the handler in chain
// order. A handler error stops the replay and is returned as is.
func Replay(dir string, query Query, handler func(*Event) error) error {
	segments, err := Segments(dir)
	if err != nil {
		return err
	}

	matched := 0
	for _, segment := range segments {
		done, n, err := replaySegment(segment, query, matched, handler)
		if err != nil {
			return err
		}
		matched = n
		if done {
			return nil
		}
	}
	return nil
}

func replaySegment(segment string, query Query, matched int, handler func(*Event) error) (bool, int, error) {
	reader, err := NewReader(segment)
	if err != nil {
		return false, matched, err
	}
	defer func() { _ = reader.Close() }()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return false, matched, nil
		}
		if err != nil {
			return false, matched, err
		}
		if !query.matches(event) {
			continue
		}

		if err := handler(event); err != nil {
			return false, matched, err
		}
		matched++
		if query.Limit > 0 && matched >= query.Limit {
			return true, matched, nil
		}
	}
}

// Events collects matching events in chain order
func Events(dir string, query Query) ([]Event, error) {
	var events []Event
	err := Replay(dir, query, func(event *Event) error {
		events = append(events, *event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
