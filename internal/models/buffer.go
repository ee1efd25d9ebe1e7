package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RealtimeBuffer tracks one utterance cycle as it moves through the pipeline.
// Documents are short-lived operational state (TTL-indexed), not the durable
// conversation archive.
type RealtimeBuffer struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID    string             `bson:"session_id" json:"session_id"`
	UtteranceSeq int64              `bson:"utterance_seq" json:"utterance_seq"`

	InterimText string `bson:"interim_text,omitempty" json:"interim_text,omitempty"`
	FinalText   string `bson:"final_text,omitempty" json:"final_text,omitempty"`
	STTStatus   string `bson:"stt_status" json:"stt_status"` // pending|recording|done|failed

	ReplyText     string `bson:"reply_text,omitempty" json:"reply_text,omitempty"`
	ReplyStatus   string `bson:"reply_status" json:"reply_status"` // pending|processing|done|failed
	FragmentCount int    `bson:"fragment_count,omitempty" json:"fragment_count,omitempty"`

	ProcessingTimeMS int64     `bson:"processing_time_ms,omitempty" json:"processing_time_ms,omitempty"`
	Timestamp        time.Time `bson:"timestamp" json:"timestamp"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
