// Package service implements the referral engine's business logic:
// structure evaluation, the promotion state machine, commission
// distribution, and referral registration.
package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"affiliate-engine/internal/model"
)

// The services depend on narrow store interfaces rather than concrete
// repositories so tests can substitute in-memory implementations.

// ReferralStore persists the referral forest.
type ReferralStore interface {
	RecordReferral(ctx context.Context, referrerID, referredID uuid.UUID) (bool, error)
	GetDirectChildren(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*model.User, error)
	CountActiveDirect(ctx context.Context, userID uuid.UUID) (int, error)
	GetSubtree(ctx context.Context, userID uuid.UUID, maxDepth int) ([]model.SubtreeEntry, error)
	WalkAncestors(ctx context.Context, userID uuid.UUID, maxHops int) ([]*model.User, error)
}

// UserStore reads affiliate accounts.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	ListActive(ctx context.Context) ([]*model.User, error)
}

// LevelStore reads the ordered level catalog.
type LevelStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Level, error)
	GetByOrder(ctx context.Context, order int) (*model.Level, error)
	GetNext(ctx context.Context, currentOrder int) (*model.Level, error)
	List(ctx context.Context) ([]*model.Level, error)
}

// PromotionStore applies level transitions and reads promotion history.
type PromotionStore interface {
	ApplyPromotion(ctx context.Context, userID uuid.UUID, fromLevelID *uuid.UUID, toLevelID uuid.UUID, reason string, snapshot model.EvaluationSnapshot) (*model.PromotionRecord, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.PromotionRecord, error)
}

// PayoutStore persists commission payouts.
type PayoutStore interface {
	Upsert(ctx context.Context, payout *model.CommissionPayout) (bool, error)
	ListByPayment(ctx context.Context, paymentID string) ([]model.CommissionPayout, error)
	SumByPayment(ctx context.Context, paymentID string) (decimal.Decimal, error)
}
