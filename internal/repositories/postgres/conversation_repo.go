package postgres

import (
	"context"

	"github.com/dostum-ai/dostum-backend/internal/models"
	"gorm.io/gorm"
)

type ConversationRepo interface {
	Insert(ctx context.Context, turn *models.ConversationTurn) error
	ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationTurn, error)
	LatestN(ctx context.Context, userID string, n int) ([]models.ConversationTurn, error)
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Insert(ctx context.Context, turn *models.ConversationTurn) error {
	return r.db.WithContext(ctx).Create(turn).Error
}

func (r *conversationRepo) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []models.ConversationTurn
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *conversationRepo) LatestN(ctx context.Context, userID string, n int) ([]models.ConversationTurn, error) {
	if n <= 0 {
		n = 5
	}
	var rows []models.ConversationTurn
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(n).
		Find(&rows).Error
	return rows, err
}
