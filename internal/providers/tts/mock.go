package tts

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Mock synthesizes deterministic bytes so tests can assert ordering
// and content without a network call. Per-text delays let a test make
// an earlier fragment finish after a later one.
type Mock struct {
	mu     sync.Mutex
	Delays map[string]time.Duration
	Fail   map[string]bool
	Calls  []string
	closed bool
}

func NewMock() *Mock {
	return &Mock{
		Delays: make(map[string]time.Duration),
		Fail:   make(map[string]bool),
	}
}

func (m *Mock) Synthesize(ctx context.Context, text, voice string) (*Result, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("synthesizer closed")
	}
	m.Calls = append(m.Calls, text)
	delay := m.Delays[text]
	fail := m.Fail[text]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("synthesis failed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Audio:    []byte("audio:" + text),
		MimeType: "audio/mpeg",
	}, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
