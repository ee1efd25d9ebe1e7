package stt

import (
	"context"
	"sync"
)

// MockProvider is a scripted recognizer for local development and tests.
// Each opened stream pops one scripted result per Send call; results can
// also be injected asynchronously with Emit.
type MockProvider struct {
	// Script is consumed one result per Send across all streams.
	Script []Result
	// OpenErr, when set, fails Open.
	OpenErr error

	mu      sync.Mutex
	cursor  int
	streams []*MockStream
}

func (m *MockProvider) Open(_ context.Context, language string) (Stream, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := &MockStream{
		provider: m,
		Language: language,
		results:  make(chan Result, 64),
	}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

func (m *MockProvider) Close() error { return nil }

// Streams returns every stream opened so far.
func (m *MockProvider) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockStream, len(m.streams))
	copy(out, m.streams)
	return out
}

func (m *MockProvider) nextScripted() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor >= len(m.Script) {
		return Result{}, false
	}
	r := m.Script[m.cursor]
	m.cursor++
	return r, true
}

type MockStream struct {
	provider *MockProvider
	Language string

	mu        sync.Mutex
	closed    bool
	sent      [][]byte
	finishes  int
	cancels   int
	results   chan Result
	sendError error
}

func (s *MockStream) Send(_ context.Context, audio []byte) error {
	s.mu.Lock()
	if s.sendError != nil {
		err := s.sendError
		s.mu.Unlock()
		return err
	}
	buf := make([]byte, len(audio))
	copy(buf, audio)
	s.sent = append(s.sent, buf)
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil
	}
	if r, ok := s.provider.nextScripted(); ok {
		s.Emit(r)
	}
	return nil
}

func (s *MockStream) Results() <-chan Result { return s.results }

func (s *MockStream) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishes++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.results)
	return nil
}

func (s *MockStream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	if s.closed {
		return
	}
	s.closed = true
	close(s.results)
}

// Emit injects a result as if the recognizer produced it.
func (s *MockStream) Emit(r Result) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.results <- r
	}
}

// FailNextSend makes subsequent Send calls return err.
func (s *MockStream) FailNextSend(err error) {
	s.mu.Lock()
	s.sendError = err
	s.mu.Unlock()
}

func (s *MockStream) SentBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.sent {
		n += len(b)
	}
	return n
}

func (s *MockStream) SentChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *MockStream) Finishes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishes
}

func (s *MockStream) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}
