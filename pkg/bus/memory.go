package bus

import (
	"context"
	"sync"
)

// Message is one delivered notification.
type Message struct {
	Subject string `json:"subject"`
	Payload []byte `json:"payload"`
}

// Memory is an in-process publisher. It records every message and fans out to
// subscribers synchronously.
type Memory struct {
	mu       sync.RWMutex
	messages []Message
	subs     []memorySub
	closed   bool
}

type memorySub struct {
	pattern string
	handler Handler
}

// NewMemory creates an in-process publisher.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Driver() string { return "memory" }

func (m *Memory) Publish(_ context.Context, subject string, payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed
	}
	m.messages = append(m.messages, Message{Subject: subject, Payload: append([]byte(nil), payload...)})
	subs := append([]memorySub(nil), m.subs...)
	m.mu.Unlock()

	for _, s := range subs {
		if Match(s.pattern, subject) {
			s.handler(subject, payload)
		}
	}
	return nil
}

// Subscribe registers handler for the lifetime of the publisher.
func (m *Memory) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	m.mu.Lock()
	m.subs = append(m.subs, memorySub{pattern: pattern, handler: handler})
	m.mu.Unlock()
	return nil
}

// Messages returns a copy of everything published so far.
func (m *Memory) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Message(nil), m.messages...)
}

// Reset forgets recorded messages.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
