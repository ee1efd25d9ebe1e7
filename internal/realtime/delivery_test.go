package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dostum-ai/dostum-backend/internal/providers/tts"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (r *frameRecorder) send(v any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	r.mu.Lock()
	r.frames = append(r.frames, m)
	r.mu.Unlock()
	return true
}

func (r *frameRecorder) ofType(typ string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, f := range r.frames {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestDeliveryOrdersReversedCompletions(t *testing.T) {
	mock := tts.NewMock()
	// fragment 0 finishes last, fragment 2 first
	mock.Delays["sıfır"] = 80 * time.Millisecond
	mock.Delays["bir"] = 40 * time.Millisecond

	rec := &frameRecorder{}
	d := NewDelivery(context.Background(), mock, "alloy", rec.send, testLogEntry())

	d.Submit(Fragment{Index: 0, Text: "sıfır"})
	d.Submit(Fragment{Index: 1, Text: "bir"})
	d.Submit(Fragment{Index: 2, Text: "iki"})

	combined, mime, err := d.Flush()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mime != "audio/mpeg" {
		t.Fatalf("mime %q", mime)
	}

	chunks := rec.ofType(EventTTSChunk)
	if len(chunks) != 3 {
		t.Fatalf("delivered %d chunks, want 3", len(chunks))
	}
	for i, f := range chunks {
		if int(f["index"].(float64)) != i {
			t.Fatalf("chunk %d delivered with index %v", i, f["index"])
		}
	}

	want := []byte("audio:sıfıraudio:biraudio:iki")
	if !bytes.Equal(combined, want) {
		t.Fatalf("combined audio %q, want %q", combined, want)
	}
}

func TestDeliverySkipsFailedFragmentAndStillCompletes(t *testing.T) {
	mock := tts.NewMock()
	mock.Fail["bir"] = true

	rec := &frameRecorder{}
	d := NewDelivery(context.Background(), mock, "alloy", rec.send, testLogEntry())

	d.Submit(Fragment{Index: 0, Text: "sıfır"})
	d.Submit(Fragment{Index: 1, Text: "bir"})
	d.Submit(Fragment{Index: 2, Text: "iki"})

	combined, _, err := d.Flush()
	if err == nil {
		t.Fatal("expected the failed fragment to surface from Flush")
	}

	chunks := rec.ofType(EventTTSChunk)
	if len(chunks) != 2 {
		t.Fatalf("delivered %d chunks, want 2", len(chunks))
	}
	if int(chunks[0]["index"].(float64)) != 0 || int(chunks[1]["index"].(float64)) != 2 {
		t.Fatalf("chunk indexes %v, %v", chunks[0]["index"], chunks[1]["index"])
	}
	if len(rec.ofType(EventError)) != 1 {
		t.Fatal("expected one error frame for the failed fragment")
	}

	want := []byte("audio:sıfıraudio:iki")
	if !bytes.Equal(combined, want) {
		t.Fatalf("combined audio %q, want %q", combined, want)
	}
}

func TestDeliveryFirstAudioLatency(t *testing.T) {
	mock := tts.NewMock()
	rec := &frameRecorder{}
	d := NewDelivery(context.Background(), mock, "alloy", rec.send, testLogEntry())

	start := time.Now()
	if got := d.FirstAudioMS(start); got != 0 {
		t.Fatalf("latency before any delivery: %d", got)
	}

	d.Submit(Fragment{Index: 0, Text: "merhaba"})
	if _, _, err := d.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.FirstAudioMS(start); got < 0 {
		t.Fatalf("negative latency %d", got)
	}
}
