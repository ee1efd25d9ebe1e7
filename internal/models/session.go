package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VoiceSession is the persisted record of one websocket voice session.
// The live in-memory session is owned by internal/realtime; this document
// only exists so conversation history can be grouped after the fact.
type VoiceSession struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"` // uuid v4
	UserID    string             `bson:"user_id,omitempty" json:"user_id,omitempty"`

	Voice    string `bson:"voice" json:"voice"`
	Language string `bson:"language" json:"language"`
	Status   string `bson:"status" json:"status"` // active|ended

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`

	DurationSeconds int64 `bson:"duration_seconds" json:"duration_seconds"`
	UtteranceCount  int64 `bson:"utterance_count" json:"utterance_count"`
}
