package realtime

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dostum-ai/dostum-backend/internal/providers/llm"
	"github.com/dostum-ai/dostum-backend/internal/providers/stt"
	"github.com/dostum-ai/dostum-backend/internal/providers/tts"
)

func newTestServer(t *testing.T, deps GatewayDeps) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/voice", NewGateway(deps).Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialVoice(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/voice" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrames collects frames until one of the given types arrives or the
// deadline passes.
func readFrames(t *testing.T, conn *websocket.Conn, until string, deadline time.Duration) []map[string]any {
	t.Helper()
	var frames []map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read (after %d frames %v): %v", len(frames), frameTypes(frames), err)
		}
		var m map[string]any
		if err := json.Unmarshal(payload, &m); err != nil {
			t.Fatalf("bad frame %q: %v", payload, err)
		}
		frames = append(frames, m)
		if m["type"] == until {
			return frames
		}
	}
}

func frameTypes(frames []map[string]any) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f["type"].(string))
	}
	return out
}

func firstIndexOf(frames []map[string]any, typ string) int {
	for i, f := range frames {
		if f["type"] == typ {
			return i
		}
	}
	return -1
}

func e2eDeps(sttProv stt.Provider, llmProv llm.Provider, synth tts.Synthesizer) GatewayDeps {
	l := logrus.New()
	l.SetOutput(io.Discard)
	cfg := DefaultConfig()
	cfg.CoalesceWindow = 10 * time.Millisecond
	cfg.SilenceThreshold = 5 * time.Second // punctuation ends the turn here
	return GatewayDeps{
		Config:   cfg,
		Log:      l,
		Registry: NewRegistry(),
		STT:      sttProv,
		LLM:      llmProv,
		TTS:      synth,
	}
}

func TestVoiceConversationEndToEnd(t *testing.T) {
	sttProv := &stt.MockProvider{
		Script: []stt.Result{
			{Text: "Merhaba", Confidence: 0.8},
			{Text: "Merhaba, nasılsın", Confidence: 0.85},
			{Text: "Merhaba, nasılsın?", Confidence: 0.95, Final: true},
		},
	}
	llmProv := &llm.Mock{Chunks: []string{"Çok iyiyim! ", "Sen nasılsın?"}}
	deps := e2eDeps(sttProv, llmProv, tts.NewMock())

	srv := newTestServer(t, deps)
	conn := dialVoice(t, srv, "?voice=alloy&language=tr")

	frames := readFrames(t, conn, EventConnected, 2*time.Second)
	if frames[0]["session_id"] == "" {
		t.Fatal("connected frame carries no session id")
	}

	chunk := bytes.Repeat([]byte{0x11}, 640)
	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}

	frames = readFrames(t, conn, EventTTSAudio, 5*time.Second)
	types := frameTypes(frames)

	// speech_started precedes the first interim
	started := firstIndexOf(frames, EventSpeechStarted)
	firstInterim := firstIndexOf(frames, EventSTTChunk)
	if started == -1 || firstInterim == -1 || started > firstInterim {
		t.Fatalf("speech_started/stt_chunk order wrong: %v", types)
	}

	// the final transcript is authoritative and complete
	completeIdx := firstIndexOf(frames, EventTranscriptionComplete)
	if completeIdx == -1 {
		t.Fatalf("no transcription_complete in %v", types)
	}
	if got := frames[completeIdx]["text"]; got != "Merhaba, nasılsın?" {
		t.Fatalf("final transcript %q", got)
	}

	// generation only starts after the transcript is finalized
	firstLLM := firstIndexOf(frames, EventLLMChunk)
	if firstLLM == -1 || firstLLM < completeIdx {
		t.Fatalf("llm_chunk before transcription_complete: %v", types)
	}

	// synthesized fragments arrive strictly in ascending index order
	lastIndex := -1
	ttsChunks := 0
	for _, f := range frames {
		if f["type"] != EventTTSChunk {
			continue
		}
		idx := int(f["index"].(float64))
		if idx != lastIndex+1 {
			t.Fatalf("tts_chunk index %d after %d: %v", idx, lastIndex, types)
		}
		lastIndex = idx
		ttsChunks++
	}
	if ttsChunks != 2 {
		t.Fatalf("delivered %d tts chunks, want 2", ttsChunks)
	}

	// the concatenated completion payload arrives last
	if types[len(types)-1] != EventTTSAudio {
		t.Fatalf("final frame %q, want tts_audio", types[len(types)-1])
	}
	if firstIndexOf(frames, EventLLMResponse) == -1 {
		t.Fatalf("no llm_response in %v", types)
	}

	// anonymous sessions are not metered
	if firstIndexOf(frames, EventTimerUpdate) != -1 {
		t.Fatalf("unexpected demo_timer_update for an anonymous session")
	}
}

func TestGatewayAnswersPingAndRejectsUnknownControls(t *testing.T) {
	deps := e2eDeps(&stt.MockProvider{}, &llm.Mock{}, tts.NewMock())
	srv := newTestServer(t, deps)
	conn := dialVoice(t, srv, "")

	readFrames(t, conn, EventConnected, 2*time.Second)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readFrames(t, conn, EventPong, 2*time.Second)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"fly_to_moon"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frames := readFrames(t, conn, EventError, 2*time.Second)
	if msg := frames[len(frames)-1]["message"].(string); !strings.Contains(msg, "unknown control type") {
		t.Fatalf("error message %q", msg)
	}
}

func TestGatewayTreatsJSONShapedBinaryFrameAsControl(t *testing.T) {
	deps := e2eDeps(&stt.MockProvider{}, &llm.Mock{}, tts.NewMock())
	srv := newTestServer(t, deps)
	conn := dialVoice(t, srv, "")

	readFrames(t, conn, EventConnected, 2*time.Second)

	// a ping sent on the binary channel still gets answered
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readFrames(t, conn, EventPong, 2*time.Second)
}

func TestGatewayContinuesAnonymouslyOnBadToken(t *testing.T) {
	deps := e2eDeps(&stt.MockProvider{}, &llm.Mock{}, tts.NewMock())
	deps.JWTSecret = []byte("secret")
	srv := newTestServer(t, deps)

	conn := dialVoice(t, srv, "?token=not-a-jwt")
	frames := readFrames(t, conn, EventConnected, 2*time.Second)
	if frames[0]["session_id"] == "" {
		t.Fatal("no session for a bad token")
	}
}
