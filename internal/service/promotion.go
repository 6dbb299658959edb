package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"affiliate-engine/internal/model"
	"affiliate-engine/internal/pkg/lock"
	"affiliate-engine/internal/repository"
)

// PromotionService drives the level state machine. Transitions move strictly
// forward by exactly one level per call; a user qualifying for several
// levels must be promoted repeatedly, re-evaluated each time.
type PromotionService struct {
	users      UserStore
	levels     LevelStore
	promotions PromotionStore
	evaluator  *EvaluationService
	locks      *lock.UserLock
}

// NewPromotionService creates a new PromotionService instance.
func NewPromotionService(
	users UserStore,
	levels LevelStore,
	promotions PromotionStore,
	evaluator *EvaluationService,
	locks *lock.UserLock,
) *PromotionService {
	return &PromotionService{
		users:      users,
		levels:     levels,
		promotions: promotions,
		evaluator:  evaluator,
		locks:      locks,
	}
}

// Promote evaluates the user's structure and, if it qualifies, moves the
// user one level forward, appending the history record atomically with the
// level update. Concurrent calls for the same user serialize on the
// per-user lock and on the user row; a call that loses the race re-evaluates
// against fresh state.
func (s *PromotionService) Promote(ctx context.Context, userID uuid.UUID) (*model.PromotionRecord, *model.Level, error) {
	var (
		record   *model.PromotionRecord
		newLevel *model.Level
	)

	err := s.locks.WithLock(userID, func() error {
		// Two attempts: the second runs only if a concurrent promotion in
		// another process moved the user between evaluation and commit.
		for attempt := 0; attempt < 2; attempt++ {
			eval, err := s.evaluator.Evaluate(ctx, userID)
			if err != nil {
				return err
			}
			if !eval.CanPromote {
				return &InsufficientRequirementsError{MissingRequirements: eval.MissingRequirements}
			}

			rec, lvl, err := s.apply(ctx, userID, model.PromotionReasonStructure, eval)
			if err != nil {
				if errors.Is(err, repository.ErrStaleLevel) {
					continue
				}
				return err
			}
			record, newLevel = rec, lvl
			return nil
		}
		return repository.ErrStaleLevel
	})
	if err != nil {
		return nil, nil, err
	}
	return record, newLevel, nil
}

// ForcePromote moves the user one level forward without the structure
// check. The transition is otherwise identical to a normal promotion: it
// never skips levels and always appends a history record, with the
// override reason.
func (s *PromotionService) ForcePromote(ctx context.Context, userID uuid.UUID) (*model.PromotionRecord, *model.Level, error) {
	var (
		record   *model.PromotionRecord
		newLevel *model.Level
	)

	err := s.locks.WithLock(userID, func() error {
		// Best-effort snapshot; the override does not depend on it.
		eval, err := s.evaluator.Evaluate(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return err
			}
			eval = &model.PromotionEvaluation{}
		}

		rec, lvl, err := s.apply(ctx, userID, model.PromotionReasonOverride, eval)
		if err != nil {
			return err
		}
		record, newLevel = rec, lvl
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return record, newLevel, nil
}

// apply resolves the next level and commits the transition.
func (s *PromotionService) apply(ctx context.Context, userID uuid.UUID, reason string, eval *model.PromotionEvaluation) (*model.PromotionRecord, *model.Level, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	currentOrder := 0
	if user.LevelID != nil {
		current, err := s.levels.GetByID(ctx, *user.LevelID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve current level: %w", err)
		}
		currentOrder = current.Order
	}

	nextLevel, err := s.levels.GetNext(ctx, currentOrder)
	if err != nil {
		if errors.Is(err, repository.ErrLevelNotFound) {
			return nil, nil, ErrNoNextLevel
		}
		return nil, nil, fmt.Errorf("failed to resolve next level: %w", err)
	}

	snapshot := model.EvaluationSnapshot{
		DirectReferrals:     eval.DirectReferrals,
		ValidStructureCount: eval.ValidSecondLevelReferrals,
		EvaluatedAt:         time.Now().UTC(),
	}

	record, err := s.promotions.ApplyPromotion(ctx, userID, user.LevelID, nextLevel.ID, reason, snapshot)
	if err != nil {
		return nil, nil, err
	}

	return record, nextLevel, nil
}

// History returns a user's promotion records, oldest first.
func (s *PromotionService) History(ctx context.Context, userID uuid.UUID) ([]*model.PromotionRecord, error) {
	return s.promotions.ListByUser(ctx, userID)
}
