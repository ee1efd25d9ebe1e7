package models

import (
	"time"

	"gorm.io/datatypes"
)

type ConversationTurn struct {
	ID        string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	SessionID string         `gorm:"column:session_id;type:uuid;index" json:"session_id"`
	Role      string         `gorm:"column:role;type:text" json:"role"` // "user" | "assistant"
	Content   string         `gorm:"column:content;type:text" json:"content"`
	Timestamp time.Time      `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
}

func (ConversationTurn) TableName() string { return "conversation_turns" }

// TurnMetadata is marshalled into ConversationTurn.Metadata.
type TurnMetadata struct {
	Voice         string `json:"voice,omitempty"`
	Language      string `json:"language,omitempty"`
	FragmentCount int    `json:"fragment_count,omitempty"`
	FirstAudioMS  int64  `json:"first_audio_ms,omitempty"`
	Finalize      string `json:"finalize,omitempty"` // speech_end|punctuation|silence|text
}
