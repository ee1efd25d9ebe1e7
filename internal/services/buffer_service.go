package services

import (
	"context"
	"time"

	"github.com/dostum-ai/dostum-backend/internal/models"
	mongorepo "github.com/dostum-ai/dostum-backend/internal/repositories/mongo"
	"github.com/dostum-ai/dostum-backend/internal/utils"
)

type BufferService interface {
	StartUtterance(ctx context.Context, sessionID string, utteranceSeq int64) (*models.RealtimeBuffer, error)
	MarkSTT(ctx context.Context, sessionID string, utteranceSeq int64, interim, final, status string) error
	MarkReply(ctx context.Context, sessionID string, utteranceSeq int64, reply, status string, fragments int, processingMS int64) error
	ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.RealtimeBuffer, error)
}

type bufferService struct {
	buffers mongorepo.BufferRepository
	ttl     time.Duration
}

func NewBufferService(buffers mongorepo.BufferRepository, ttl time.Duration) BufferService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &bufferService{buffers: buffers, ttl: ttl}
}

func (s *bufferService) StartUtterance(ctx context.Context, sessionID string, utteranceSeq int64) (*models.RealtimeBuffer, error) {
	const op = "BufferService.StartUtterance"

	if sessionID == "" || utteranceSeq <= 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required and utterance_seq must be > 0", nil)
	}

	now := time.Now().UTC()
	doc := &models.RealtimeBuffer{
		SessionID:    sessionID,
		UtteranceSeq: utteranceSeq,

		STTStatus:   "recording",
		ReplyStatus: "pending",

		Timestamp: now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.buffers.InsertUtterance(ctx, doc); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to insert utterance buffer", err)
	}
	return doc, nil
}

func (s *bufferService) MarkSTT(ctx context.Context, sessionID string, utteranceSeq int64, interim, final, status string) error {
	const op = "BufferService.MarkSTT"

	if sessionID == "" || utteranceSeq <= 0 || status == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id, utterance_seq (>0), and status are required", nil)
	}
	if err := s.buffers.UpdateSTT(ctx, sessionID, utteranceSeq, interim, final, status); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update stt fields", err)
	}
	return nil
}

func (s *bufferService) MarkReply(ctx context.Context, sessionID string, utteranceSeq int64, reply, status string, fragments int, processingMS int64) error {
	const op = "BufferService.MarkReply"

	if sessionID == "" || utteranceSeq <= 0 || status == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id, utterance_seq (>0), and status are required", nil)
	}
	if err := s.buffers.UpdateReply(ctx, sessionID, utteranceSeq, reply, status, fragments, processingMS); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update reply fields", err)
	}
	return nil
}

func (s *bufferService) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.RealtimeBuffer, error) {
	const op = "BufferService.ListBySession"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	out, err := s.buffers.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list realtime buffer", err)
	}
	return out, nil
}
