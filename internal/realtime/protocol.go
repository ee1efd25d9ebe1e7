package realtime

import (
	"encoding/json"
	"fmt"
	"unicode"
)

// Outbound frame type discriminators.
const (
	EventConnected             = "connected"
	EventSpeechStarted         = "speech_started"
	EventSTTChunk              = "stt_chunk"
	EventTranscriptionComplete = "transcription_complete"
	EventLLMChunk              = "llm_chunk"
	EventLLMResponse           = "llm_response"
	EventTTSChunk              = "tts_chunk"
	EventTTSAudio              = "tts_audio"
	EventTimerUpdate           = "demo_timer_update"
	EventResetAck              = "reset_ack"
	EventPong                  = "pong"
	EventError                 = "error"
)

type ConnectedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type SpeechStartedFrame struct {
	Type string `json:"type"`
}

type STTChunkFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type TranscriptionCompleteFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type LLMChunkFrame struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type LLMResponseFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Audio is base64-encoded on the wire (encoding/json does this for []byte).
type TTSChunkFrame struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Audio []byte `json:"audio"`
	Mime  string `json:"mime"`
}

type TTSAudioFrame struct {
	Type  string `json:"type"`
	Audio []byte `json:"audio"`
	Mime  string `json:"mime"`
}

type TimerUpdateFrame struct {
	Type             string  `json:"type"`
	RemainingMinutes float64 `json:"remaining_minutes"`
}

type ResetAckFrame struct {
	Type string `json:"type"`
}

type PongFrame struct {
	Type string `json:"type"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Connected(sessionID string) ConnectedFrame {
	return ConnectedFrame{Type: EventConnected, SessionID: sessionID}
}

func SpeechStarted() SpeechStartedFrame {
	return SpeechStartedFrame{Type: EventSpeechStarted}
}

func STTChunk(text string) STTChunkFrame {
	return STTChunkFrame{Type: EventSTTChunk, Text: text}
}

func TranscriptionComplete(text string) TranscriptionCompleteFrame {
	return TranscriptionCompleteFrame{Type: EventTranscriptionComplete, Text: text}
}

func LLMChunk(index int, text string) LLMChunkFrame {
	return LLMChunkFrame{Type: EventLLMChunk, Index: index, Text: text}
}

func LLMResponse(text string) LLMResponseFrame {
	return LLMResponseFrame{Type: EventLLMResponse, Text: text}
}

func TTSChunk(index int, audio []byte, mime string) TTSChunkFrame {
	return TTSChunkFrame{Type: EventTTSChunk, Index: index, Audio: audio, Mime: mime}
}

func TTSAudio(audio []byte, mime string) TTSAudioFrame {
	return TTSAudioFrame{Type: EventTTSAudio, Audio: audio, Mime: mime}
}

func TimerUpdate(remaining float64) TimerUpdateFrame {
	return TimerUpdateFrame{Type: EventTimerUpdate, RemainingMinutes: remaining}
}

func ResetAck() ResetAckFrame { return ResetAckFrame{Type: EventResetAck} }

func Pong() PongFrame { return PongFrame{Type: EventPong} }

func Error(message string) ErrorFrame {
	return ErrorFrame{Type: EventError, Message: message}
}

// ControlType discriminates inbound control messages.
type ControlType string

const (
	ControlConfig      ControlType = "config"
	ControlSpeechEnd   ControlType = "speech_end"
	ControlSpeechPause ControlType = "speech_pause"
	ControlReset       ControlType = "reset"
	ControlPing        ControlType = "ping"
	ControlTextMessage ControlType = "text_message"
)

// Control is a parsed inbound control message. Only the fields relevant to
// its type are set.
type Control struct {
	Type  ControlType
	Voice string // config
	Text  string // text_message
}

type controlEnvelope struct {
	Type  string `json:"type"`
	Voice string `json:"voice"`
	Text  string `json:"text"`
}

// ParseControl decodes a control message and rejects unknown types.
func ParseControl(raw []byte) (Control, error) {
	var env controlEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Control{}, fmt.Errorf("malformed control message: %w", err)
	}
	switch ControlType(env.Type) {
	case ControlConfig:
		if env.Voice == "" {
			return Control{}, fmt.Errorf("config message missing voice")
		}
		return Control{Type: ControlConfig, Voice: env.Voice}, nil
	case ControlSpeechEnd:
		return Control{Type: ControlSpeechEnd}, nil
	case ControlSpeechPause:
		return Control{Type: ControlSpeechPause}, nil
	case ControlReset:
		return Control{Type: ControlReset}, nil
	case ControlPing:
		return Control{Type: ControlPing}, nil
	case ControlTextMessage:
		if env.Text == "" {
			return Control{}, fmt.Errorf("text_message missing text")
		}
		return Control{Type: ControlTextMessage, Text: env.Text}, nil
	default:
		return Control{}, fmt.Errorf("unknown control type %q", env.Type)
	}
}

// controlSizeHint: audio chunks are always larger than a control message
// this small.
const controlSizeHint = 64

// LooksLikeControl guesses whether a binary frame is really a control
// message, for clients that cannot reliably pick the frame kind. Short
// payloads and payloads opening with '{' are treated as control.
func LooksLikeControl(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	if len(payload) < controlSizeHint {
		return true
	}
	for _, b := range payload {
		if unicode.IsSpace(rune(b)) {
			continue
		}
		return b == '{'
	}
	return false
}
