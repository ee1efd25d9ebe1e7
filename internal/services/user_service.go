package services

import (
	"context"
	"errors"
	"time"

	"github.com/dostum-ai/dostum-backend/internal/cache"
	"github.com/dostum-ai/dostum-backend/internal/models"
	pgrepo "github.com/dostum-ai/dostum-backend/internal/repositories/postgres"
	"github.com/dostum-ai/dostum-backend/internal/utils"
)

const userCacheTTL = 5 * time.Minute

func userCacheKey(userID string) string { return "user:" + userID + ":profile" }

type UserService interface {
	Get(ctx context.Context, userID string) (*models.User, error)
	// TrialBudget reads the persisted trial state for the meter.
	TrialBudget(ctx context.Context, userID string) (models.TrialBudget, error)
	// PersistTrialBudget writes the meter's computed value guarded by the
	// record version. utils.ErrVersionConflict means another writer won; the
	// meter re-reads and reconciles.
	PersistTrialBudget(ctx context.Context, userID string, expectVersion int64, minutes float64, active bool) error
}

type userService struct {
	users pgrepo.UserRepository
	cache cache.Cache // optional, profile reads only
}

func NewUserService(users pgrepo.UserRepository, c cache.Cache) UserService {
	return &userService{users: users, cache: c}
}

func (s *userService) Get(ctx context.Context, userID string) (*models.User, error) {
	const op = "UserService.Get"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	if s.cache != nil {
		var cached models.User
		if hit, err := s.cache.GetJSON(ctx, userCacheKey(userID), &cached); err == nil && hit {
			return &cached, nil
		}
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "user not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load user", err)
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, userCacheKey(userID), u, userCacheTTL)
	}
	return u, nil
}

func (s *userService) TrialBudget(ctx context.Context, userID string) (models.TrialBudget, error) {
	const op = "UserService.TrialBudget"

	if userID == "" {
		return models.TrialBudget{}, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	b, err := s.users.GetTrialBudget(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return models.TrialBudget{}, utils.E(utils.CodeNotFound, op, "user not found", err)
		}
		return models.TrialBudget{}, utils.E(utils.CodeInternal, op, "failed to read trial budget", err)
	}
	return b, nil
}

func (s *userService) PersistTrialBudget(ctx context.Context, userID string, expectVersion int64, minutes float64, active bool) error {
	const op = "UserService.PersistTrialBudget"

	if userID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	err := s.users.UpdateTrialBudgetCAS(ctx, userID, expectVersion, minutes, active)
	if err != nil {
		if errors.Is(err, utils.ErrVersionConflict) {
			return err
		}
		return utils.E(utils.CodeInternal, op, "failed to persist trial budget", err)
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, userCacheKey(userID))
	}
	return nil
}
