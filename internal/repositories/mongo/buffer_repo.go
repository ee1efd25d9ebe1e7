package mongo

import (
	"context"
	"time"

	"github.com/dostum-ai/dostum-backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type BufferRepository interface {
	InsertUtterance(ctx context.Context, b *models.RealtimeBuffer) error
	UpdateSTT(ctx context.Context, sessionID string, utteranceSeq int64, interim, final, status string) error
	UpdateReply(ctx context.Context, sessionID string, utteranceSeq int64, reply, status string, fragments int, processingMS int64) error
	ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.RealtimeBuffer, error)
}

type bufferRepo struct {
	col *mongo.Collection
}

func NewBufferRepo(db *mongo.Database) BufferRepository {
	return &bufferRepo{col: db.Collection("realtime_buffer")}
}

func (r *bufferRepo) InsertUtterance(ctx context.Context, b *models.RealtimeBuffer) error {
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, b)
	return err
}

func (r *bufferRepo) UpdateSTT(ctx context.Context, sessionID string, utteranceSeq int64, interim, final, status string) error {
	set := bson.M{"stt_status": status}
	if interim != "" {
		set["interim_text"] = interim
	}
	if final != "" {
		set["final_text"] = final
	}
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "utterance_seq": utteranceSeq},
		bson.M{"$set": set},
	)
	return err
}

func (r *bufferRepo) UpdateReply(ctx context.Context, sessionID string, utteranceSeq int64, reply, status string, fragments int, processingMS int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "utterance_seq": utteranceSeq},
		bson.M{"$set": bson.M{
			"reply_text":         reply,
			"reply_status":       status,
			"fragment_count":     fragments,
			"processing_time_ms": processingMS,
		}},
	)
	return err
}

func (r *bufferRepo) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.RealtimeBuffer, error) {
	if limit <= 0 {
		limit = 200
	}

	cur, err := r.col.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().
			SetSort(bson.D{{Key: "utterance_seq", Value: 1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.RealtimeBuffer
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
