// Package streamjson implements the streaming response envelope: a single
// JSON object whose results array is written incrementally, padded with
// comment heartbeats while results are pending, plus the parser that reads
// such a stream back.
package streamjson

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// heartbeatToken is emitted in the array gap to keep intermediaries from
// timing out an idle connection. JSON proper has no comments; consumers use
// the package Decoder, which skips them.
const heartbeatToken = "/* heartbeat */"

// Writer emits the streaming envelope. Safe for use by the result-producing
// goroutine concurrently with the heartbeat loop.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	started bool
	closed  bool
	count   int
	last    time.Time
}

// NewWriter wraps the response writer. flusher may be nil when the transport
// does not support flushing.
func NewWriter(w io.Writer, flusher http.Flusher) *Writer {
	return &Writer{w: w, flusher: flusher, last: time.Now()}
}

// Start opens the envelope. Must be called before any result.
func (s *Writer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	if _, err := io.WriteString(s.w, `{"success":true,"results":[`); err != nil {
		return err
	}
	s.flushLocked()
	return nil
}

// WriteResult serializes one result into the array and flushes it out.
func (s *Writer) WriteResult(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal stream result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream already closed")
	}
	if s.count > 0 {
		if _, err := io.WriteString(s.w, ","); err != nil {
			return err
		}
	}
	if _, err := s.w.Write(raw); err != nil {
		return err
	}
	s.count++
	s.last = time.Now()
	s.flushLocked()
	return nil
}

// Heartbeat writes a comment token when the stream has been idle for at least
// the given duration. Returns whether a heartbeat went out.
func (s *Writer) Heartbeat(idle time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started || time.Since(s.last) < idle {
		return false, nil
	}
	if _, err := io.WriteString(s.w, heartbeatToken); err != nil {
		return false, err
	}
	s.last = time.Now()
	s.flushLocked()
	return true, nil
}

// Close terminates the array and writes the trailer. totalProcessed is always
// present so parsers can detect a clean end of stream; extra fields are
// appended to the envelope after it.
func (s *Writer) Close(extra map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if !s.started {
		if _, err := io.WriteString(s.w, `{"success":true,"results":[`); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, `],"totalProcessed":%d`, s.count); err != nil {
		return err
	}
	for key, value := range extra {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal trailer field %s: %w", key, err)
		}
		if _, err := fmt.Fprintf(s.w, `,%q:%s`, key, raw); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(s.w, "}"); err != nil {
		return err
	}
	s.flushLocked()
	return nil
}

// Count returns the number of results written so far.
func (s *Writer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Writer) flushLocked() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
