package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// streamMessage is one line of the newline delimited JSON stream.
type streamMessage struct {
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Stream writes notifications as newline delimited JSON. The CLI uses it to print
// changes without a broker.
type Stream struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer
}

// NewStream creates a stream publisher on w.
func NewStream(w io.Writer) *Stream {
	s := &Stream{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		s.c = c
	}
	return s
}

// NewStdStream creates a stream publisher on stdout or stderr.
func NewStdStream(name string) (*Stream, error) {
	switch name {
	case "", "stdout":
		return NewStream(os.Stdout), nil
	case "stderr":
		return NewStream(os.Stderr), nil
	}
	return nil, fmt.Errorf("unknown stream %q", name)
}

func (s *Stream) Driver() string { return "stream" }

func (s *Stream) Publish(_ context.Context, subject string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("payload for %s is not valid JSON", subject)
	}
	msgBytes, err := json.Marshal(streamMessage{
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(msgBytes); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func (s *Stream) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

// DecodeStream reads a stream written by Stream and calls handler for each line.
func DecodeStream(r io.Reader, handler Handler) error {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 10 * 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg streamMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		handler(msg.Subject, msg.Data)
	}
	return scanner.Err()
}
