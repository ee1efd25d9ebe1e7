package realtime

import (
	"context"
	"sync"
	"time"
)

// ingest batches incoming audio. Chunks below minBytes are dropped as
// noise; accepted chunks accumulate and a short coalescing timer, reset on
// every arrival, flushes the accumulated bytes into the session queue as
// one unit.
type ingest struct {
	s *Session

	window   time.Duration
	minBytes int

	mu      sync.Mutex
	pending []byte
	timer   *time.Timer
	stopped bool
}

func newIngest(s *Session, window time.Duration, minBytes int) *ingest {
	return &ingest{s: s, window: window, minBytes: minBytes}
}

// Accept takes one raw chunk off the read loop. Never blocks.
func (in *ingest) Accept(chunk []byte) {
	if len(chunk) < in.minBytes {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stopped {
		return
	}
	in.pending = append(in.pending, chunk...)
	if in.timer != nil {
		in.timer.Stop()
	}
	in.timer = time.AfterFunc(in.window, in.flushExpired)
}

func (in *ingest) flushExpired() {
	in.enqueueFlush(in.take())
}

// Flush pushes whatever is pending into the queue right now. Used on an
// explicit end-of-speech so the finalize task runs after all audio.
func (in *ingest) Flush() {
	in.enqueueFlush(in.take())
}

func (in *ingest) take() []byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.timer != nil {
		in.timer.Stop()
		in.timer = nil
	}
	buf := in.pending
	in.pending = nil
	return buf
}

func (in *ingest) enqueueFlush(buf []byte) {
	if len(buf) == 0 {
		return
	}
	in.s.queue.Enqueue("ingest.flush", func(ctx context.Context) error {
		return in.s.handleAudio(ctx, buf)
	})
}

// Stop cancels the coalescing timer and discards pending bytes.
func (in *ingest) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.stopped = true
	if in.timer != nil {
		in.timer.Stop()
		in.timer = nil
	}
	in.pending = nil
}

func (in *ingest) pendingBytes() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}
