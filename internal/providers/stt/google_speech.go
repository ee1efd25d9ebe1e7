package stt

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
}

func NewGoogleSpeech(ctx context.Context) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{
		c:            c,
		Encoding:     speechpb.RecognitionConfig_LINEAR16,
		SampleRateHz: 16000,
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// language example: "tr-TR", "en-US"
func NormalizeLanguage(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "", "tr", "tr-TR":
		return "tr-TR"
	case "en", "en-US":
		return "en-US"
	default:
		return v
	}
}

func (g *GoogleSpeech) Open(ctx context.Context, language string) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	grpcStream, err := g.c.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	cfg := &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   g.Encoding,
			SampleRateHertz:            g.SampleRateHz,
			AudioChannelCount:          1,
			LanguageCode:               NormalizeLanguage(language),
			EnableAutomaticPunctuation: true,
		},
		InterimResults: true,
	}
	if err := grpcStream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: cfg,
		},
	}); err != nil {
		cancel()
		return nil, err
	}

	s := &googleStream{
		stream:  grpcStream,
		cancel:  cancel,
		results: make(chan Result, 64),
	}
	go s.recvLoop()
	return s, nil
}

type googleStream struct {
	stream  speechpb.Speech_StreamingRecognizeClient
	cancel  context.CancelFunc
	results chan Result

	mu     sync.Mutex
	closed bool
}

func (s *googleStream) Send(_ context.Context, audio []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("recognition stream is closed")
	}
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

func (s *googleStream) Results() <-chan Result { return s.results }

func (s *googleStream) Finish() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.stream.CloseSend()
}

func (s *googleStream) Cancel() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if !already {
		_ = s.stream.CloseSend()
	}
	s.cancel()
}

func (s *googleStream) recvLoop() {
	defer close(s.results)
	defer s.cancel()

	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.results <- Result{Err: err}
			return
		}

		if rerr := resp.Error; rerr != nil {
			s.results <- Result{Err: errors.New(rerr.Message)}
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			s.results <- Result{
				Text:       alt.Transcript,
				Confidence: float64(alt.Confidence),
				Final:      result.IsFinal,
			}
		}
	}
}
