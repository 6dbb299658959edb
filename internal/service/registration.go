package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"affiliate-engine/internal/model"
)

// RegistrationService orchestrates referral registration: record the edge,
// evaluate the referrer, and promote when the structure qualifies. It is the
// only entry point external callers use to add a referral.
type RegistrationService struct {
	referrals ReferralStore
	evaluator *EvaluationService
	promoter  *PromotionService
}

// NewRegistrationService creates a new RegistrationService instance.
func NewRegistrationService(
	referrals ReferralStore,
	evaluator *EvaluationService,
	promoter *PromotionService,
) *RegistrationService {
	return &RegistrationService{
		referrals: referrals,
		evaluator: evaluator,
		promoter:  promoter,
	}
}

// RegisterAndEvaluate records the referral edge and then attempts the
// referrer's promotion. The promotion sub-step failing never rolls back or
// fails the referral itself; its failure is reported as Promoted=false.
func (s *RegistrationService) RegisterAndEvaluate(ctx context.Context, referrerID, referredID uuid.UUID) (*model.RegistrationResult, error) {
	created, err := s.referrals.RecordReferral(ctx, referrerID, referredID)
	if err != nil {
		return nil, err
	}

	result := &model.RegistrationResult{ReferralCreated: created}

	eval, err := s.evaluator.Evaluate(ctx, referrerID)
	if err != nil {
		log.Warn().Err(err).
			Str("referrer_id", referrerID.String()).
			Msg("Promotion evaluation failed after referral registration")
		return result, nil
	}

	if !eval.CanPromote {
		return result, nil
	}

	_, newLevel, err := s.promoter.Promote(ctx, referrerID)
	if err != nil {
		log.Warn().Err(err).
			Str("referrer_id", referrerID.String()).
			Msg("Promotion failed after referral registration")
		return result, nil
	}

	result.Promoted = true
	result.NewLevel = newLevel
	return result, nil
}
