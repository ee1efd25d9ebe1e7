package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxAudioBytes = 25 << 20

type OpenAISpeechConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Format  string // "mp3", "wav", "opus"
}

// OpenAISpeech calls an OpenAI-compatible /v1/audio/speech endpoint.
type OpenAISpeech struct {
	cfg    OpenAISpeechConfig
	client *http.Client
}

func NewOpenAISpeech(cfg OpenAISpeechConfig) (*OpenAISpeech, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("tts api key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "tts-1"
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = "mp3"
	}
	return &OpenAISpeech{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (s *OpenAISpeech) Synthesize(ctx context.Context, text, voice string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is required")
	}
	if strings.TrimSpace(voice) == "" {
		voice = "alloy"
	}

	body, err := json.Marshal(speechRequest{
		Model:          s.cfg.Model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: s.cfg.Format,
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("tts request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, errors.New("tts returned empty audio")
	}

	return &Result{
		Audio:    audio,
		MimeType: mimeForFormat(s.cfg.Format),
	}, nil
}

func (s *OpenAISpeech) Close() error { return nil }

func mimeForFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	default:
		return "audio/mpeg"
	}
}
