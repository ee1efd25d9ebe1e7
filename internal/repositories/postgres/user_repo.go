package postgres

import (
	"context"
	"errors"

	"github.com/dostum-ai/dostum-backend/internal/models"
	"github.com/dostum-ai/dostum-backend/internal/utils"
	"gorm.io/gorm"
)

type UserRepository interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
	GetTrialBudget(ctx context.Context, userID string) (models.TrialBudget, error)
	// UpdateTrialBudgetCAS persists a new budget only if the stored
	// trial_version still matches; returns utils.ErrVersionConflict otherwise.
	UpdateTrialBudgetCAS(ctx context.Context, userID string, expectVersion int64, minutes float64, active bool) error
}

type userRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) GetByID(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).
		Where("id = ?", userID).
		Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &u, err
}

func (r *userRepo) GetTrialBudget(ctx context.Context, userID string) (models.TrialBudget, error) {
	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return models.TrialBudget{}, err
	}
	return models.TrialBudget{
		Minutes: u.TrialMinutesRemaining,
		Active:  u.TrialActive,
		Version: u.TrialVersion,
	}, nil
}

func (r *userRepo) UpdateTrialBudgetCAS(ctx context.Context, userID string, expectVersion int64, minutes float64, active bool) error {
	if minutes < 0 {
		minutes = 0
	}
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND trial_version = ?", userID, expectVersion).
		Updates(map[string]any{
			"trial_minutes_remaining": minutes,
			"trial_active":            active,
			"trial_version":           expectVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrVersionConflict
	}
	return nil
}
