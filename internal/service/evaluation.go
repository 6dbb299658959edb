package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"affiliate-engine/internal/model"
	"affiliate-engine/internal/repository"
)

// 3x3 structure rule: the first three direct referrals must each have at
// least three active direct referrals of their own.
const (
	requiredDirectReferrals = 3
	requiredPerBranch       = 3
)

// EvaluationService computes whether a user's referral subtree satisfies
// the 3x3 promotion structure. Read-only; no side effects.
type EvaluationService struct {
	users     UserStore
	levels    LevelStore
	referrals ReferralStore
}

// NewEvaluationService creates a new EvaluationService instance.
func NewEvaluationService(users UserStore, levels LevelStore, referrals ReferralStore) *EvaluationService {
	return &EvaluationService{
		users:     users,
		levels:    levels,
		referrals: referrals,
	}
}

// Evaluate inspects a user's direct referrals and reports promotion
// eligibility. Only the first three direct referrals, earliest-referred
// first, are ever examined; growth under a fourth or later branch never
// changes the outcome.
func (s *EvaluationService) Evaluate(ctx context.Context, userID uuid.UUID) (*model.PromotionEvaluation, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	currentOrder := 0
	if user.LevelID != nil {
		level, err := s.levels.GetByID(ctx, *user.LevelID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve current level: %w", err)
		}
		currentOrder = level.Order
	}

	eval := &model.PromotionEvaluation{
		CurrentLevelOrder: currentOrder,
	}

	nextLevel, err := s.levels.GetNext(ctx, currentOrder)
	if err != nil {
		if errors.Is(err, repository.ErrLevelNotFound) {
			// Terminal level: nothing to promote into.
			eval.MissingRequirements = []string{"highest level reached"}
			return eval, nil
		}
		return nil, fmt.Errorf("failed to resolve next level: %w", err)
	}
	eval.NextLevelOrder = nextLevel.Order

	children, err := s.referrals.GetDirectChildren(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load direct referrals: %w", err)
	}
	eval.DirectReferrals = len(children)

	if len(children) < requiredDirectReferrals {
		eval.MissingRequirements = []string{
			fmt.Sprintf("need %d more direct referrals", requiredDirectReferrals-len(children)),
		}
		return eval, nil
	}

	// Only the first three branches count, in creation order. Later direct
	// referrals are never examined.
	firstThree := children[:requiredDirectReferrals]

	validCount := 0
	var missing []string
	for _, child := range firstThree {
		branchCount, err := s.referrals.CountActiveDirect(ctx, child.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count branch referrals: %w", err)
		}
		if branchCount >= requiredPerBranch {
			validCount++
		} else {
			missing = append(missing,
				fmt.Sprintf("%s needs %d more referrals", child.Name, requiredPerBranch-branchCount))
		}
	}

	eval.ValidSecondLevelReferrals = validCount
	eval.MissingRequirements = missing
	eval.CanPromote = validCount == requiredDirectReferrals

	return eval, nil
}
