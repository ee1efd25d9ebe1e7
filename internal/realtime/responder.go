package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dostum-ai/dostum-backend/internal/providers/llm"
)

// Fragment is one speakable slice of a generated reply.
type Fragment struct {
	Index int
	Text  string
}

// ErrNoTokens means the model produced nothing before failing; the whole
// utterance fails.
var ErrNoTokens = errors.New("model produced no tokens")

// Responder streams a reply for a finalized utterance and cuts it into
// fragments at sentence boundaries, so synthesis can start on early
// sentences while later ones are still generating.
type Responder struct {
	llm llm.Provider
	log *logrus.Entry
}

func NewResponder(provider llm.Provider, log *logrus.Entry) *Responder {
	return &Responder{llm: provider, log: log}
}

// Stream generates a reply for prompt, invoking emit once per fragment in
// strictly increasing index order. Returns the full reply text. A failure
// before the first token returns ErrNoTokens; a mid-stream failure returns
// the fragments emitted so far plus the error.
func (r *Responder) Stream(ctx context.Context, prompt string, emit func(Fragment) error) (string, error) {
	chunks, errs := r.llm.StreamAnswer(ctx, prompt)

	var full strings.Builder
	var buf strings.Builder
	index := 0
	gotToken := false

	flush := func() error {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			return nil
		}
		frag := Fragment{Index: index, Text: text}
		index++
		return emit(frag)
	}

	// the providers close the chunk channel when they finish or fail, with
	// any trailing error buffered on errs first
	for chunk := range chunks {
		gotToken = true
		full.WriteString(chunk)
		buf.WriteString(chunk)
		if endsWithTerminal(strings.TrimRight(buf.String(), " \t\n")) {
			if err := flush(); err != nil {
				return full.String(), err
			}
		}
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
	}

	var trailing error
	select {
	case err, ok := <-errs:
		if ok {
			trailing = err
		}
	default:
	}

	if !gotToken {
		if trailing != nil {
			return "", fmt.Errorf("%w: %v", ErrNoTokens, trailing)
		}
		return "", ErrNoTokens
	}
	if err := flush(); err != nil {
		return full.String(), err
	}
	return full.String(), trailing
}

// BuildPrompt wraps the user's text with the companion persona. The reply
// language follows the session language.
func BuildPrompt(language, history, text string) string {
	var b strings.Builder
	if strings.HasPrefix(strings.ToLower(language), "tr") {
		b.WriteString("Sen Dostum'sun: sıcak, samimi bir Türkçe sesli arkadaş. ")
		b.WriteString("Kısa, doğal, konuşma diliyle cevap ver; iki veya üç cümleyi geçme. ")
		b.WriteString("Cevabın sesli okunacak, madde işareti veya biçimlendirme kullanma.\n")
	} else {
		b.WriteString("You are Dostum, a warm and friendly voice companion. ")
		b.WriteString("Answer briefly and conversationally, two or three sentences at most. ")
		b.WriteString("Your answer is read aloud, so no lists or formatting.\n")
	}
	if history != "" {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(history)
		b.WriteString("\n")
	}
	b.WriteString("\nUser: ")
	b.WriteString(text)
	return b.String()
}
