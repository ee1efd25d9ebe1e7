package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dostum-ai/dostum-backend/internal/providers/llm"
	"github.com/dostum-ai/dostum-backend/internal/providers/stt"
	"github.com/dostum-ai/dostum-backend/internal/providers/tts"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []map[string]any
	closed int
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, m)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) ofType(typ string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, f := range c.frames {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f["type"].(string))
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CoalesceWindow = 10 * time.Millisecond
	cfg.SilenceThreshold = 60 * time.Millisecond
	return cfg
}

func newTestSession(t *testing.T, sttProv stt.Provider, llmProv llm.Provider, synth tts.Synthesizer, cfg Config) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s := newSession("sess-test", "", "alloy", "tr", sessionDeps{
		conn:      conn,
		registry:  NewRegistry(),
		sttProv:   sttProv,
		responder: NewResponder(llmProv, testLogEntry()),
		synth:     synth,
		log:       testLogEntry(),
		cfg:       cfg,
	})
	t.Cleanup(s.Close)
	return s, conn
}

func drainSession(t *testing.T, s *Session) {
	t.Helper()
	barrier(t, s.queue)
}

func waitForTurns(t *testing.T, s *Session) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.turnWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("response turn never finished")
	}
}

func audioChunk(n int) []byte {
	return bytes.Repeat([]byte{0x7F}, n)
}

func TestIngestDropsChunksBelowMinimumSize(t *testing.T) {
	prov := &stt.MockProvider{}
	s, _ := newTestSession(t, prov, &llm.Mock{}, tts.NewMock(), testConfig())

	s.AcceptAudio(audioChunk(10))
	time.Sleep(30 * time.Millisecond)
	drainSession(t, s)

	if got := len(prov.Streams()); got != 0 {
		t.Fatalf("a sub-minimum chunk opened %d recognition streams", got)
	}
}

func TestIngestCoalescesRapidChunksIntoOneWrite(t *testing.T) {
	prov := &stt.MockProvider{}
	s, _ := newTestSession(t, prov, &llm.Mock{}, tts.NewMock(), testConfig())

	s.AcceptAudio(audioChunk(500))
	s.AcceptAudio(audioChunk(500))
	s.AcceptAudio(audioChunk(500))
	time.Sleep(50 * time.Millisecond)
	drainSession(t, s)

	streams := prov.Streams()
	if len(streams) != 1 {
		t.Fatalf("opened %d streams, want 1", len(streams))
	}
	if got := streams[0].SentChunks(); got != 1 {
		t.Fatalf("recognizer received %d writes, want 1 coalesced write", got)
	}
	if got := streams[0].SentBytes(); got != 1500 {
		t.Fatalf("recognizer received %d bytes, want 1500", got)
	}
}

func TestSilenceFinalizesExactlyOnce(t *testing.T) {
	prov := &stt.MockProvider{
		Script: []stt.Result{{Text: "Merhaba dünya", Confidence: 0.9}},
	}
	s, conn := newTestSession(t, prov, &llm.Mock{Chunks: []string{"Selam!"}}, tts.NewMock(), testConfig())

	s.AcceptAudio(audioChunk(500))
	time.Sleep(30 * time.Millisecond)
	drainSession(t, s)

	// let the silence window expire well past the threshold
	time.Sleep(150 * time.Millisecond)
	drainSession(t, s)
	waitForTurns(t, s)

	if got := len(conn.ofType(EventTranscriptionComplete)); got != 1 {
		t.Fatalf("transcription_complete fired %d times, want 1", got)
	}

	// a speech_end after the silence finalize must not produce a second one
	s.SpeechEnd()
	drainSession(t, s)
	if got := len(conn.ofType(EventTranscriptionComplete)); got != 1 {
		t.Fatalf("late speech_end duplicated finalize (%d events)", got)
	}
}

func TestFillerTranscriptDoesNotStartRecording(t *testing.T) {
	prov := &stt.MockProvider{
		Script: []stt.Result{{Text: "hmm", Confidence: 0.8}},
	}
	s, conn := newTestSession(t, prov, &llm.Mock{}, tts.NewMock(), testConfig())

	s.AcceptAudio(audioChunk(500))
	time.Sleep(30 * time.Millisecond)
	drainSession(t, s)

	if len(conn.ofType(EventSpeechStarted)) != 0 {
		t.Fatal("a filler word started a recording")
	}
	if s.seg.recording {
		t.Fatal("segmenter left Idle on a filler word")
	}

	time.Sleep(150 * time.Millisecond)
	drainSession(t, s)
	if len(conn.ofType(EventTranscriptionComplete)) != 0 {
		t.Fatal("a filler word was finalized as an utterance")
	}
}

func TestTextMessageBypassesRecognition(t *testing.T) {
	prov := &stt.MockProvider{}
	s, conn := newTestSession(t, prov, &llm.Mock{Chunks: []string{"Ben de iyiyim!"}}, tts.NewMock(), testConfig())

	s.TextMessage("Nasılsın?")
	drainSession(t, s)
	waitForTurns(t, s)

	if got := len(prov.Streams()); got != 0 {
		t.Fatalf("text input opened %d recognition streams", got)
	}
	responses := conn.ofType(EventLLMResponse)
	if len(responses) != 1 || responses[0]["text"] != "Ben de iyiyim!" {
		t.Fatalf("llm_response frames: %v", responses)
	}
	if len(conn.ofType(EventTTSChunk)) == 0 {
		t.Fatal("no synthesized audio delivered for a text message")
	}
}

func TestRecoverableRecognitionErrorIsSilent(t *testing.T) {
	prov := &stt.MockProvider{}
	s, conn := newTestSession(t, prov, &llm.Mock{}, tts.NewMock(), testConfig())

	s.AcceptAudio(audioChunk(500))
	time.Sleep(30 * time.Millisecond)
	drainSession(t, s)

	streams := prov.Streams()
	if len(streams) != 1 {
		t.Fatalf("want one stream, got %d", len(streams))
	}
	streams[0].Emit(stt.Result{Err: context.Canceled})
	time.Sleep(20 * time.Millisecond)
	drainSession(t, s)

	if got := len(conn.ofType(EventError)); got != 0 {
		t.Fatalf("a recoverable stream fault surfaced %d error frames", got)
	}

	// next chunk transparently opens a fresh stream
	s.AcceptAudio(audioChunk(500))
	time.Sleep(30 * time.Millisecond)
	drainSession(t, s)
	if got := len(prov.Streams()); got != 2 {
		t.Fatalf("want a fresh stream after recovery, got %d total", got)
	}
}

func TestPingAnswersWithoutTouchingPipelineState(t *testing.T) {
	s, conn := newTestSession(t, &stt.MockProvider{}, &llm.Mock{}, tts.NewMock(), testConfig())

	s.Ping()
	if got := len(conn.ofType(EventPong)); got != 1 {
		t.Fatalf("pong frames: %d", got)
	}
}

func TestResetCancelsTurnAndAcknowledges(t *testing.T) {
	synth := tts.NewMock()
	synth.Delays["Geliyorum."] = 500 * time.Millisecond
	s, conn := newTestSession(t, &stt.MockProvider{}, &llm.Mock{Chunks: []string{"Geliyorum."}}, synth, testConfig())

	s.TextMessage("Neredesin?")
	drainSession(t, s)
	time.Sleep(20 * time.Millisecond)

	s.Reset()
	drainSession(t, s)
	waitForTurns(t, s)

	if got := len(conn.ofType(EventResetAck)); got != 1 {
		t.Fatalf("reset_ack frames: %d", got)
	}
	// the cancelled turn must not deliver its concatenated payload
	if got := len(conn.ofType(EventTTSAudio)); got != 0 {
		t.Fatalf("cancelled turn still delivered %d tts_audio frames", got)
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	prov := &stt.MockProvider{}
	s, conn := newTestSession(t, prov, &llm.Mock{}, tts.NewMock(), testConfig())

	s.AcceptAudio(audioChunk(500))
	time.Sleep(30 * time.Millisecond)
	drainSession(t, s)

	streams := prov.Streams()
	if len(streams) != 1 {
		t.Fatalf("want one open stream, got %d", len(streams))
	}

	s.Close()
	s.Close()

	if conn.closed != 1 {
		t.Fatalf("connection closed %d times, want 1", conn.closed)
	}
	if got := streams[0].Cancels(); got != 1 {
		t.Fatalf("stream cancelled %d times, want 1", got)
	}
}
