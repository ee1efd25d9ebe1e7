package stt

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Result is one recognition event. Interim results (Final=false) may be
// superseded; a final result is authoritative for the audio recognized so
// far. Err is set instead of text when the stream broke.
type Result struct {
	Text       string
	Confidence float64
	Final      bool
	Err        error
}

// Stream is one live recognition attempt. One stream per utterance; the
// caller opens a fresh stream after Finish/Cancel.
type Stream interface {
	// Send forwards raw audio to the recognizer.
	Send(ctx context.Context, audio []byte) error
	// Results yields interim and final results; closed when the attempt ends.
	Results() <-chan Result
	// Finish closes the audio side and lets buffered results drain. Safe to
	// call on an already-closed stream.
	Finish() error
	// Cancel aborts the attempt and discards pending results.
	Cancel()
}

type Provider interface {
	Open(ctx context.Context, language string) (Stream, error)
	Close() error
}

// IsRecoverable reports whether a stream error is an idle/protocol timeout
// that should be absorbed silently (next chunk opens a fresh stream) rather
// than surfaced to the client.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.OutOfRange, codes.DeadlineExceeded, codes.Canceled, codes.Aborted:
			return true
		}
	}
	return false
}
