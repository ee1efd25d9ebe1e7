package services

import (
	"context"
	"errors"
	"time"

	"github.com/dostum-ai/dostum-backend/internal/models"
	mongorepo "github.com/dostum-ai/dostum-backend/internal/repositories/mongo"
	"github.com/dostum-ai/dostum-backend/internal/utils"
)

type SessionService interface {
	Start(ctx context.Context, sessionID, userID, voice, language string) (*models.VoiceSession, error)
	Get(ctx context.Context, sessionID string) (*models.VoiceSession, error)
	End(ctx context.Context, sessionID string, utteranceCount int64) (*models.VoiceSession, error)
}

type sessionService struct {
	sessions mongorepo.SessionRepository
}

func NewSessionService(sessions mongorepo.SessionRepository) SessionService {
	return &sessionService{sessions: sessions}
}

func (s *sessionService) Start(ctx context.Context, sessionID, userID, voice, language string) (*models.VoiceSession, error) {
	const op = "SessionService.Start"

	if sessionID == "" || voice == "" || language == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id, voice, and language are required", nil)
	}

	session := &models.VoiceSession{
		SessionID: sessionID,
		UserID:    userID,
		Voice:     voice,
		Language:  language,
		Status:    "active",
		CreatedAt: time.Now().UTC(),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create session record", err)
	}
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*models.VoiceSession, error) {
	const op = "SessionService.Get"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	out, err := s.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get session", err)
	}
	return out, nil
}

func (s *sessionService) End(ctx context.Context, sessionID string, utteranceCount int64) (*models.VoiceSession, error) {
	const op = "SessionService.End"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	ss, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dur := int64(now.Sub(ss.CreatedAt).Seconds())
	if dur < 0 {
		dur = 0
	}

	if err := s.sessions.End(ctx, sessionID, now, dur, utteranceCount); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to end session", err)
	}

	ss.Status = "ended"
	ss.EndedAt = &now
	ss.DurationSeconds = dur
	ss.UtteranceCount = utteranceCount
	return ss, nil
}
