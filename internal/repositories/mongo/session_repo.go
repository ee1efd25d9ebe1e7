package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/dostum-ai/dostum-backend/internal/models"
	"github.com/dostum-ai/dostum-backend/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type SessionRepository interface {
	Create(ctx context.Context, s *models.VoiceSession) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.VoiceSession, error)
	End(ctx context.Context, sessionID string, endedAt time.Time, durationSeconds, utteranceCount int64) error
}

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepository {
	return &sessionRepo{col: db.Collection("voice_sessions")}
}

func (r *sessionRepo) Create(ctx context.Context, s *models.VoiceSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.VoiceSession, error) {
	var s models.VoiceSession
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *sessionRepo) End(ctx context.Context, sessionID string, endedAt time.Time, durationSeconds, utteranceCount int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{
			"status":           "ended",
			"ended_at":         endedAt.UTC(),
			"duration_seconds": durationSeconds,
			"utterance_count":  utteranceCount,
		}},
	)
	return err
}
