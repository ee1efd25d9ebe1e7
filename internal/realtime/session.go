package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dostum-ai/dostum-backend/internal/models"
	"github.com/dostum-ai/dostum-backend/internal/providers/stt"
	"github.com/dostum-ai/dostum-backend/internal/providers/tts"
	"github.com/dostum-ai/dostum-backend/internal/services"
	"github.com/dostum-ai/dostum-backend/internal/utils"
)

// Config carries the pipeline tuning knobs.
type Config struct {
	CoalesceWindow    time.Duration
	MinChunkBytes     int
	SilenceThreshold  time.Duration
	MinUtteranceRunes int
	StreamMaxAge      time.Duration
	MeterTick         time.Duration
	MeterReconcile    time.Duration
	MeterTolerance    float64
	PresenceTTL       time.Duration
	HistoryTurns      int
	DefaultVoice      string
	DefaultLanguage   string
}

func DefaultConfig() Config {
	return Config{
		CoalesceWindow:    40 * time.Millisecond,
		MinChunkBytes:     64,
		SilenceThreshold:  1800 * time.Millisecond,
		MinUtteranceRunes: 2,
		StreamMaxAge:      4 * time.Minute,
		MeterTick:         time.Second,
		MeterReconcile:    10 * time.Second,
		MeterTolerance:    0.25,
		PresenceTTL:       30 * time.Second,
		HistoryTurns:      6,
		DefaultVoice:      "alloy",
		DefaultLanguage:   "tr",
	}
}

// Conn is the write side of the client connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// recognitionState is owned by queue tasks. The live stream receives
// audio; a retiring stream is one being rotated out whose final results
// are still accepted.
type recognitionState struct {
	stream   stt.Stream
	retiring stt.Stream
	openedAt time.Time

	finals   []string
	interim  string
	lastSent string
}

// Session owns everything for one live connection. All mutable pipeline
// state is touched only from the session queue; the write side of the
// connection is the one mutex-guarded shared point.
type Session struct {
	ID     string
	UserID string

	cfg Config
	log *logrus.Entry

	mu       sync.Mutex
	voice    string
	language string

	conn    Conn
	writeMu sync.Mutex

	queue  *Queue
	ingest *ingest
	seg    *segmenter
	rec    recognitionState

	meter  *Meter
	mirror *EventMirror

	sttProvider stt.Provider
	responder   *Responder
	delivery    func(ctx context.Context, voice string) *Delivery

	registry *Registry
	convos   services.ConversationService
	buffers  services.BufferService
	sessions services.SessionService

	ctx    context.Context
	cancel context.CancelFunc

	turnMu     sync.Mutex
	turnCancel context.CancelFunc
	turnWG     sync.WaitGroup

	utteranceSeq int64
	closeOnce    sync.Once
}

type sessionDeps struct {
	conn      Conn
	registry  *Registry
	sttProv   stt.Provider
	responder *Responder
	synth     tts.Synthesizer
	convos    services.ConversationService
	buffers   services.BufferService
	sessions  services.SessionService
	mirror    *EventMirror
	log       *logrus.Entry
	cfg       Config
}

func newSession(id, userID, voice, language string, d sessionDeps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:          id,
		UserID:      userID,
		cfg:         d.cfg,
		log:         d.log.WithField("session_id", id),
		voice:       voice,
		language:    language,
		conn:        d.conn,
		mirror:      d.mirror,
		sttProvider: d.sttProv,
		responder:   d.responder,
		registry:    d.registry,
		convos:      d.convos,
		buffers:     d.buffers,
		sessions:    d.sessions,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.queue = NewQueue(s.onTaskError)
	s.ingest = newIngest(s, d.cfg.CoalesceWindow, d.cfg.MinChunkBytes)
	s.seg = newSegmenter(s, d.cfg.SilenceThreshold, d.cfg.MinUtteranceRunes)
	s.delivery = func(ctx context.Context, voice string) *Delivery {
		return NewDelivery(ctx, d.synth, voice, s.send, s.log)
	}
	return s
}

func (s *Session) voiceNow() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

func (s *Session) languageNow() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// send marshals a frame, writes it to the client, and mirrors it.
func (s *Session) send(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("frame encode failed")
		return false
	}
	s.writeMu.Lock()
	werr := s.conn.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()
	if werr != nil {
		s.log.WithError(werr).Debug("frame write failed")
		return false
	}
	s.mirror.Publish(s.ID, payload)
	return true
}

// onTaskError is the queue error hook. Cancellations are silent; errors
// carrying a safe message surface it, everything else gets a generic
// error frame.
func (s *Session) onTaskError(name string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.log.WithError(err).WithField("task", name).Warn("session task failed")
	var ae *utils.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		s.send(Error(ae.Message))
		return
	}
	s.send(Error("something went wrong, please try again"))
}

// --- audio path (queue tasks) ---

func (s *Session) handleAudio(ctx context.Context, buf []byte) error {
	const op = "Session.handleAudio"

	if s.rec.stream != nil && s.cfg.StreamMaxAge > 0 && time.Since(s.rec.openedAt) > s.cfg.StreamMaxAge {
		s.rotateRecognition()
	}
	if s.rec.stream == nil {
		if err := s.openRecognition(); err != nil {
			return utils.E(utils.CodeUnavailable, op, "speech recognizer is unavailable", err)
		}
	}
	if err := s.rec.stream.Send(ctx, buf); err != nil {
		s.dropRecognition()
		if stt.IsRecoverable(err) {
			s.log.WithError(err).Debug("recognition stream replaced after recoverable write error")
			return nil
		}
		return utils.E(utils.CodeUnavailable, op, "speech recognition failed", err)
	}
	return nil
}

func (s *Session) openRecognition() error {
	stream, err := s.sttProvider.Open(s.ctx, s.languageNow())
	if err != nil {
		return err
	}
	s.rec.stream = stream
	s.rec.openedAt = time.Now()
	go s.drainRecognition(stream)
	return nil
}

// drainRecognition pumps one stream's results into the session queue,
// preserving arrival order relative to all other session work.
func (s *Session) drainRecognition(stream stt.Stream) {
	for res := range stream.Results() {
		r := res
		s.queue.Enqueue("stt.result", func(ctx context.Context) error {
			return s.onRecognition(ctx, stream, r)
		})
	}
}

// rotateRecognition swaps in a fresh stream before the provider's stream
// age limit. The old stream finishes in the background; its buffered final
// results are still accepted.
func (s *Session) rotateRecognition() {
	old := s.rec.stream
	s.rec.stream = nil
	if old != nil {
		s.rec.retiring = old
		go func() { _ = old.Finish() }()
	}
}

// dropRecognition cancels both streams and discards whatever was pending.
func (s *Session) dropRecognition() {
	if s.rec.stream != nil {
		s.rec.stream.Cancel()
		s.rec.stream = nil
	}
	if s.rec.retiring != nil {
		s.rec.retiring.Cancel()
		s.rec.retiring = nil
	}
}

// finishRecognition closes the audio side gracefully; late results are
// ignored because both pointers are cleared first.
func (s *Session) finishRecognition() {
	if s.rec.stream != nil {
		old := s.rec.stream
		s.rec.stream = nil
		go func() { _ = old.Finish() }()
	}
	s.rec.retiring = nil
}

func (s *Session) clearTranscript() {
	s.rec.finals = nil
	s.rec.interim = ""
	s.rec.lastSent = ""
}

func (s *Session) currentTranscript() string {
	parts := make([]string, 0, len(s.rec.finals)+1)
	parts = append(parts, s.rec.finals...)
	if s.rec.interim != "" {
		parts = append(parts, s.rec.interim)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (s *Session) onRecognition(_ context.Context, from stt.Stream, res stt.Result) error {
	const op = "Session.onRecognition"

	live := from == s.rec.stream
	retired := from == s.rec.retiring
	if !live && !retired {
		return nil
	}
	if res.Err != nil {
		if live {
			s.dropRecognition()
		}
		if stt.IsRecoverable(res.Err) {
			s.log.WithError(res.Err).Debug("recognition stream ended, next chunk reopens")
			return nil
		}
		return utils.E(utils.CodeUnavailable, op, "speech recognition failed", res.Err)
	}
	// a retiring stream only contributes its authoritative tail
	if retired && !res.Final {
		return nil
	}

	if res.Final {
		if strings.TrimSpace(res.Text) != "" {
			s.rec.finals = append(s.rec.finals, strings.TrimSpace(res.Text))
		}
		s.rec.interim = ""
	} else {
		s.rec.interim = strings.TrimSpace(res.Text)
	}

	if isNoise(res.Text, s.cfg.MinUtteranceRunes) {
		return nil
	}

	current := s.currentTranscript()
	s.seg.markSpeech()
	if current != "" && current != s.rec.lastSent {
		s.rec.lastSent = current
		s.send(STTChunk(current))
	}
	if res.Final && s.seg.shouldFinalizeOnPunctuation(current) {
		s.finalizeUtterance(finalizePunctuation)
	}
	return nil
}

// silenceExpired builds the queue task for a fired silence timer. The
// generation guard makes a stale timer a no-op, so finalize cannot fire
// twice for one utterance.
func (s *Session) silenceExpired(gen int64) func(context.Context) error {
	return func(context.Context) error {
		if !s.seg.matchesGeneration(gen) {
			return nil
		}
		s.finalizeUtterance(finalizeSilence)
		return nil
	}
}

// finalizeUtterance closes the current spoken turn. Runs only inside
// queue tasks; the recording guard plus the segmenter reset make it fire
// at most once per cycle.
func (s *Session) finalizeUtterance(reason string) {
	if !s.seg.recording {
		return
	}
	transcript := s.currentTranscript()
	s.seg.reset()
	s.finishRecognition()
	s.clearTranscript()

	if transcript == "" || isNoise(transcript, s.cfg.MinUtteranceRunes) {
		return
	}

	s.utteranceSeq++
	seq := s.utteranceSeq
	s.send(TranscriptionComplete(transcript))
	s.archiveUtterance(seq, transcript, reason)
	s.startTurn(seq, transcript, reason)
}

// handleText is the text_message path: skips recognition entirely and
// feeds the text straight into response generation.
func (s *Session) handleText(_ context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.seg.reset()
	s.finishRecognition()
	s.clearTranscript()

	s.utteranceSeq++
	seq := s.utteranceSeq
	s.archiveUtterance(seq, text, finalizeText)
	s.startTurn(seq, text, finalizeText)
	return nil
}

// --- response turn ---

func (s *Session) startTurn(seq int64, text, reason string) {
	s.turnMu.Lock()
	if s.turnCancel != nil {
		s.turnCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.turnCancel = cancel
	s.turnMu.Unlock()

	s.turnWG.Add(1)
	go s.runTurn(ctx, seq, text, reason)
}

func (s *Session) cancelTurn() {
	s.turnMu.Lock()
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	s.turnMu.Unlock()
}

func (s *Session) runTurn(ctx context.Context, seq int64, text, reason string) {
	defer s.turnWG.Done()

	started := time.Now()
	voice := s.voiceNow()
	language := s.languageNow()

	del := s.delivery(ctx, voice)
	emit := func(frag Fragment) error {
		s.send(LLMChunk(frag.Index, frag.Text))
		del.Submit(frag)
		return ctx.Err()
	}

	history := s.recentHistory(ctx)
	full, genErr := s.responder.Stream(ctx, BuildPrompt(language, history, text), emit)
	if errors.Is(genErr, ErrNoTokens) {
		s.log.WithError(genErr).Warn("reply generation produced nothing")
		s.send(Error("could not generate a reply, please try again"))
		s.archiveReply(seq, "", "failed", 0, 0, time.Since(started), reason, voice, language)
		return
	}

	combined, mime, synthErr := del.Flush()
	if ctx.Err() != nil {
		return
	}

	if full != "" {
		s.send(LLMResponse(full))
	}
	if len(combined) > 0 {
		s.send(TTSAudio(combined, mime))
	}
	if genErr != nil && !errors.Is(genErr, context.Canceled) {
		s.log.WithError(genErr).Warn("reply generation failed mid-stream")
		s.send(Error("the reply was cut short"))
	}
	if synthErr != nil {
		s.log.WithError(synthErr).Warn("reply synthesis incomplete")
	}

	status := "done"
	if genErr != nil || synthErr != nil {
		status = "partial"
	}
	s.archiveReply(seq, full, status, del.Submitted(), del.FirstAudioMS(started), time.Since(started), reason, voice, language)
}

// recentHistory renders the last few turns for the prompt, oldest first.
func (s *Session) recentHistory(ctx context.Context) string {
	if s.UserID == "" || s.convos == nil || s.cfg.HistoryTurns <= 0 {
		return ""
	}
	turns, err := s.convos.ListBySession(ctx, s.UserID, s.ID, s.cfg.HistoryTurns)
	if err != nil {
		s.log.WithError(err).Debug("history load failed")
		return ""
	}
	var b strings.Builder
	for i := len(turns) - 1; i >= 0; i-- {
		role := "User"
		if turns[i].Role == "assistant" {
			role = "Dostum"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(turns[i].Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// --- best-effort persistence ---

func (s *Session) archiveUtterance(seq int64, transcript, reason string) {
	voice := s.voiceNow()
	language := s.languageNow()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.buffers != nil {
			if _, err := s.buffers.StartUtterance(ctx, s.ID, seq); err != nil {
				s.log.WithError(err).Debug("buffer insert failed")
			}
			if err := s.buffers.MarkSTT(ctx, s.ID, seq, "", transcript, "done"); err != nil {
				s.log.WithError(err).Debug("buffer stt update failed")
			}
		}
		if s.convos != nil && s.UserID != "" {
			md := models.TurnMetadata{Voice: voice, Language: language, Finalize: reason}
			if _, err := s.convos.Append(ctx, s.UserID, s.ID, "user", transcript, md); err != nil {
				s.log.WithError(err).Debug("turn archive failed")
			}
		}
	}()
}

func (s *Session) archiveReply(seq int64, reply, status string, fragments int, firstAudioMS int64, took time.Duration, reason, voice, language string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.buffers != nil {
			if err := s.buffers.MarkReply(ctx, s.ID, seq, reply, status, fragments, took.Milliseconds()); err != nil {
				s.log.WithError(err).Debug("buffer reply update failed")
			}
		}
		if s.convos != nil && s.UserID != "" && reply != "" {
			md := models.TurnMetadata{
				Voice:         voice,
				Language:      language,
				FragmentCount: fragments,
				FirstAudioMS:  firstAudioMS,
				Finalize:      reason,
			}
			if _, err := s.convos.Append(ctx, s.UserID, s.ID, "assistant", reply, md); err != nil {
				s.log.WithError(err).Debug("turn archive failed")
			}
		}
	}()
}

// --- control operations, called from the gateway dispatch ---

func (s *Session) SetVoice(voice string) {
	s.queue.Enqueue("control.config", func(context.Context) error {
		s.mu.Lock()
		s.voice = voice
		s.mu.Unlock()
		s.log.WithField("voice", voice).Info("voice changed")
		return nil
	})
}

// SpeechEnd flushes pending audio first so the finalize task runs after
// every already-received chunk has been handled.
func (s *Session) SpeechEnd() {
	s.ingest.Flush()
	s.queue.Enqueue("control.speech_end", func(context.Context) error {
		s.finalizeUtterance(finalizeSpeechEnd)
		return nil
	})
}

func (s *Session) SpeechPause() {
	s.queue.Enqueue("control.speech_pause", func(context.Context) error {
		s.ingest.take()
		s.dropRecognition()
		s.seg.reset()
		s.clearTranscript()
		return nil
	})
}

func (s *Session) Reset() {
	s.cancelTurn()
	s.queue.Enqueue("control.reset", func(context.Context) error {
		s.ingest.take()
		s.dropRecognition()
		s.seg.reset()
		s.clearTranscript()
		s.send(ResetAck())
		return nil
	})
}

func (s *Session) Ping() {
	s.send(Pong())
}

func (s *Session) TextMessage(text string) {
	s.queue.Enqueue("control.text_message", func(ctx context.Context) error {
		return s.handleText(ctx, text)
	})
}

// AcceptAudio is the binary-frame entry point off the read loop.
func (s *Session) AcceptAudio(chunk []byte) {
	s.ingest.Accept(chunk)
}

// Close tears the session down exactly once: stop the meter with a final
// persist, cancel the running turn and the recognition stream, stop
// timers, deregister, and close the connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.cancelTurn()
		s.turnWG.Wait()

		if s.meter != nil {
			s.meter.Close()
		}

		s.ingest.Stop()
		s.queue.Close()

		// queue is drained, state is safe to touch directly
		s.dropRecognition()
		s.seg.reset()
		s.clearTranscript()

		s.registry.Unregister(s.ID)
		s.mirror.Drop(s.ID)

		if s.sessions != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := s.sessions.End(ctx, s.ID, s.utteranceSeq); err != nil {
				s.log.WithError(err).Debug("session record close failed")
			}
		}

		_ = s.conn.Close()
		s.log.Info("session closed")
	})
}
