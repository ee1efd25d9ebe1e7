package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dostum-ai/dostum-backend/internal/providers/tts"
)

type deliverySlot struct {
	done  bool
	audio []byte
	mime  string
	err   error
}

// Delivery synthesizes reply fragments in parallel and hands the results
// to the client strictly in index order. Each synthesis goroutine writes
// only its own slot; the flush walk under the mutex is the single point
// that advances the delivery cursor, so out-of-order completions sit
// buffered until every earlier index has gone out.
type Delivery struct {
	synth tts.Synthesizer
	voice string
	send  func(v any) bool
	log   *logrus.Entry

	ctx context.Context
	wg  sync.WaitGroup

	mu      sync.Mutex
	slots   []*deliverySlot
	next    int
	firstAt time.Time
}

func NewDelivery(ctx context.Context, synth tts.Synthesizer, voice string, send func(v any) bool, log *logrus.Entry) *Delivery {
	return &Delivery{synth: synth, voice: voice, send: send, log: log, ctx: ctx}
}

// Submit starts synthesis for one fragment. Fragments must be submitted in
// index order; completion order is free.
func (d *Delivery) Submit(frag Fragment) {
	d.mu.Lock()
	for len(d.slots) <= frag.Index {
		d.slots = append(d.slots, nil)
	}
	d.slots[frag.Index] = &deliverySlot{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res, err := d.synth.Synthesize(d.ctx, frag.Text, d.voice)

		d.mu.Lock()
		slot := d.slots[frag.Index]
		slot.done = true
		if err != nil {
			slot.err = err
		} else {
			slot.audio = res.Audio
			slot.mime = res.MimeType
		}
		d.flushReadyLocked()
		d.mu.Unlock()
	}()
}

// flushReadyLocked delivers every contiguous completed slot starting at
// the cursor. A failed fragment is reported and skipped so completion is
// still reached.
func (d *Delivery) flushReadyLocked() {
	for d.next < len(d.slots) {
		slot := d.slots[d.next]
		if slot == nil || !slot.done {
			return
		}
		if slot.err != nil {
			// a cancelled turn fails its fragments on purpose, stay quiet
			if d.ctx.Err() == nil {
				d.log.WithError(slot.err).WithField("fragment_index", d.next).Warn("fragment synthesis failed")
				d.send(Error(fmt.Sprintf("synthesis failed for fragment %d", d.next)))
			}
		} else {
			if d.firstAt.IsZero() {
				d.firstAt = time.Now()
			}
			d.send(TTSChunk(d.next, slot.audio, slot.mime))
		}
		d.next++
	}
}

// Flush waits for every submitted fragment to finish and returns the
// concatenated audio in index order, for the single-payload transport
// path. The error is the first synthesis failure, if any.
func (d *Delivery) Flush() ([]byte, string, error) {
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushReadyLocked()

	var combined []byte
	var mime string
	var firstErr error
	for i, slot := range d.slots {
		if slot == nil {
			continue
		}
		if slot.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("fragment %d: %w", i, slot.err)
			}
			continue
		}
		combined = append(combined, slot.audio...)
		if mime == "" {
			mime = slot.mime
		}
	}
	return combined, mime, firstErr
}

// Submitted reports how many fragments have been handed in.
func (d *Delivery) Submitted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.slots)
}

// FirstAudioMS is the latency from start to the first delivered chunk, or
// zero when nothing was delivered.
func (d *Delivery) FirstAudioMS(start time.Time) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.firstAt.IsZero() {
		return 0
	}
	return d.firstAt.Sub(start).Milliseconds()
}
