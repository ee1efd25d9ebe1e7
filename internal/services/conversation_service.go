package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dostum-ai/dostum-backend/internal/models"
	pgrepo "github.com/dostum-ai/dostum-backend/internal/repositories/postgres"
	"github.com/dostum-ai/dostum-backend/internal/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ConversationService interface {
	Append(ctx context.Context, userID, sessionID, role, content string, md models.TurnMetadata) (*models.ConversationTurn, error)
	ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationTurn, error)
	Recent(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error)
}

type conversationService struct {
	convos pgrepo.ConversationRepo
}

func NewConversationService(convos pgrepo.ConversationRepo) ConversationService {
	return &conversationService{convos: convos}
}

func (s *conversationService) Append(ctx context.Context, userID, sessionID, role, content string, md models.TurnMetadata) (*models.ConversationTurn, error) {
	const op = "ConversationService.Append"

	if userID == "" || sessionID == "" || role == "" || content == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id, session_id, role, and content are required", nil)
	}

	metaJSON, err := json.Marshal(md)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to encode turn metadata", err)
	}

	row := &models.ConversationTurn{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  datatypes.JSON(metaJSON),
	}

	if err := s.convos.Insert(ctx, row); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to insert conversation turn", err)
	}
	return row, nil
}

func (s *conversationService) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationTurn, error) {
	const op = "ConversationService.ListBySession"

	if userID == "" || sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and session_id are required", nil)
	}

	rows, err := s.convos.ListBySession(ctx, userID, sessionID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversation turns", err)
	}
	return rows, nil
}

// Recent returns the user's latest turns across all sessions, newest first.
func (s *conversationService) Recent(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	const op = "ConversationService.Recent"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	rows, err := s.convos.LatestN(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load recent turns", err)
	}
	return rows, nil
}
