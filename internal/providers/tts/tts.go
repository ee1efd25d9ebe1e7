package tts

import "context"

// Result holds one synthesized fragment.
type Result struct {
	Audio    []byte
	MimeType string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*Result, error)
	Close() error
}
