package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"affiliate-engine/internal/model"
)

// DefaultCommissionLevels is how many ancestors above a buyer share in a
// purchase when the caller does not say otherwise.
const DefaultCommissionLevels = 3

// CommissionService distributes a purchase amount through the buyer's
// ancestor chain. Each ancestor's share is the base amount times the rate
// of the ancestor's level at the moment of calculation; depth only bounds
// how many ancestors participate, it never scales the payout.
type CommissionService struct {
	users     UserStore
	levels    LevelStore
	referrals ReferralStore
	payouts   PayoutStore
	maxLevels int
}

// NewCommissionService creates a new CommissionService instance.
func NewCommissionService(
	users UserStore,
	levels LevelStore,
	referrals ReferralStore,
	payouts PayoutStore,
	maxLevels int,
) *CommissionService {
	if maxLevels <= 0 {
		maxLevels = DefaultCommissionLevels
	}
	return &CommissionService{
		users:     users,
		levels:    levels,
		referrals: referrals,
		payouts:   payouts,
		maxLevels: maxLevels,
	}
}

// Distribute walks up from the buyer's referrer and records one payout per
// participating ancestor, keyed by (paymentID, ancestor) so retried
// purchase events are idempotent. A buyer with no referrer yields an empty
// distribution, not an error.
func (s *CommissionService) Distribute(ctx context.Context, buyerID uuid.UUID, baseAmount decimal.Decimal, paymentID string) (*model.CommissionDistribution, error) {
	dist := &model.CommissionDistribution{
		PaymentID:        paymentID,
		TotalCommissions: decimal.Zero,
	}

	buyer, err := s.users.GetByID(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if buyer.ReferredBy == nil {
		return dist, nil
	}

	ancestors, err := s.referrals.WalkAncestors(ctx, buyerID, s.maxLevels)
	if err != nil {
		return nil, fmt.Errorf("failed to walk ancestor chain: %w", err)
	}

	for i, ancestor := range ancestors {
		depth := i + 1

		// An ancestor without an assigned level earns nothing, but the hop
		// still counts toward maxLevels.
		if ancestor.LevelID == nil {
			continue
		}
		level, err := s.levels.GetByID(ctx, *ancestor.LevelID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve ancestor level: %w", err)
		}

		amount := baseAmount.Mul(level.CommissionRate)
		payout := model.CommissionPayout{
			ID:            uuid.New(),
			PaymentID:     paymentID,
			BeneficiaryID: ancestor.ID,
			BaseAmount:    baseAmount,
			RateApplied:   level.CommissionRate,
			Amount:        amount,
			Depth:         depth,
		}

		if _, err := s.payouts.Upsert(ctx, &payout); err != nil {
			return nil, fmt.Errorf("failed to record payout: %w", err)
		}

		dist.Payouts = append(dist.Payouts, payout)
		dist.TotalCommissions = dist.TotalCommissions.Add(amount)
	}

	return dist, nil
}
