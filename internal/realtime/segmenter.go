package realtime

import (
	"strings"
	"time"
	"unicode"
)

// Finalize triggers.
const (
	finalizeSpeechEnd   = "speech_end"
	finalizePunctuation = "punctuation"
	finalizeSilence     = "silence"
	finalizeText        = "text"
)

// fillerWords neither start nor extend a recording. Turkish first, plus the
// English set for mixed-language users.
var fillerWords = map[string]struct{}{
	"eee":    {},
	"ııı":    {},
	"hmm":    {},
	"hm":     {},
	"hı hı":  {},
	"hıhı":   {},
	"şey":    {},
	"yani":   {},
	"ıı":     {},
	"uh":     {},
	"um":     {},
	"mhm":    {},
	"uh huh": {},
	"er":     {},
}

// segmenter decides when a spoken turn has ended. Idle until a
// speech-bearing recognition result arrives, then Recording; a silence
// timer, reset on every speech-bearing result, finalizes the turn when the
// user stops talking. Terminal punctuation on a final result and the
// explicit end-of-speech control finalize earlier. State is only touched
// from queue tasks.
type segmenter struct {
	s *Session

	threshold time.Duration
	minRunes  int

	recording  bool
	generation int64
	silence    *time.Timer
	startedAt  time.Time
}

func newSegmenter(s *Session, threshold time.Duration, minRunes int) *segmenter {
	return &segmenter{s: s, threshold: threshold, minRunes: minRunes}
}

// markSpeech notes one speech-bearing recognition result: enters Recording
// on the first one and re-arms the silence timer on every one.
func (g *segmenter) markSpeech() {
	if !g.recording {
		g.recording = true
		g.startedAt = time.Now()
		g.s.send(SpeechStarted())
	}
	g.armSilence()
}

func (g *segmenter) shouldFinalizeOnPunctuation(current string) bool {
	trimmed := strings.TrimSpace(current)
	if len([]rune(trimmed)) < g.minRunes {
		return false
	}
	return endsWithTerminal(trimmed)
}

func (g *segmenter) armSilence() {
	if g.silence != nil {
		g.silence.Stop()
	}
	gen := g.generation
	g.silence = time.AfterFunc(g.threshold, func() {
		g.s.queue.Enqueue("segment.silence", g.s.silenceExpired(gen))
	})
}

// reset returns the machine to Idle. Called exactly once per finalize, and
// on pause/reset/teardown.
func (g *segmenter) reset() {
	g.recording = false
	g.generation++
	if g.silence != nil {
		g.silence.Stop()
		g.silence = nil
	}
	g.startedAt = time.Time{}
}

func (g *segmenter) matchesGeneration(gen int64) bool {
	return g.recording && gen == g.generation
}

func endsWithTerminal(s string) bool {
	runes := []rune(s)
	if len(runes) == 0 {
		return false
	}
	switch runes[len(runes)-1] {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// isNoise filters transcripts that must not drive the state machine: too
// short, pure punctuation, or a known filler word.
func isNoise(text string, minRunes int) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if len([]rune(trimmed)) < minRunes {
		return true
	}
	hasLetterOrDigit := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasLetterOrDigit = true
			break
		}
	}
	if !hasLetterOrDigit {
		return true
	}
	normalized := strings.ToLowerSpecial(unicode.TurkishCase, trimmed)
	normalized = strings.TrimFunc(normalized, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	_, filler := fillerWords[normalized]
	return filler
}
