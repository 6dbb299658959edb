// Package model defines the data models for the affiliate referral engine.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents an affiliate account in the referral network.
// ReferredBy is a single parent pointer; it is set at most once and the
// resulting edges form a forest, never a cycle.
type User struct {
	ID                     uuid.UUID       `db:"id"`
	Name                   string          `db:"name"`
	Email                  string          `db:"email"`
	LevelID                *uuid.UUID      `db:"level_id"`
	ReferredBy             *uuid.UUID      `db:"referred_by"`
	IsActive               bool            `db:"is_active"`
	DirectReferralsCount   int             `db:"direct_count"`
	IndirectReferralsCount int             `db:"indirect_count"`
	TotalEarnings          decimal.Decimal `db:"total_earnings"`
	CreatedAt              time.Time       `db:"created_at"`
	UpdatedAt              time.Time       `db:"updated_at"`
}

// Level is one rung of the promotion ladder. Order is unique and strictly
// increasing starting at 1; CommissionRate is a fraction in [0, 1].
type Level struct {
	ID                   uuid.UUID       `db:"id"`
	Name                 string          `db:"name"`
	Order                int             `db:"level_order"`
	CommissionRate       decimal.Decimal `db:"commission_rate"`
	MinDirectReferrals   int             `db:"min_direct"`
	MinIndirectReferrals int             `db:"min_indirect"`
	Color                string          `db:"color"`
	Icon                 string          `db:"icon"`
	CreatedAt            time.Time       `db:"created_at"`
}

// ReferralEdge records that ReferrerID referred ReferredID. At most one edge
// exists per referred user; edges are never deleted.
type ReferralEdge struct {
	ID           uuid.UUID       `db:"id"`
	ReferrerID   uuid.UUID       `db:"referrer_id"`
	ReferredID   uuid.UUID       `db:"referred_id"`
	LevelInChain int             `db:"level_in_chain"`
	Commission   decimal.Decimal `db:"commission"`
	Status       string          `db:"status"`
	CreatedAt    time.Time       `db:"created_at"`
}

// Referral edge statuses.
const (
	ReferralStatusApproved = "approved"
	ReferralStatusPaid     = "paid"
)

// PromotionRecord is an append-only history entry for a level transition.
// FromLevelID is nil only for the initial level assignment.
type PromotionRecord struct {
	ID          uuid.UUID          `db:"id"`
	UserID      uuid.UUID          `db:"user_id"`
	FromLevelID *uuid.UUID         `db:"from_level_id"`
	ToLevelID   uuid.UUID          `db:"to_level_id"`
	Reason      string             `db:"reason"`
	Snapshot    EvaluationSnapshot `db:"snapshot"`
	CreatedAt   time.Time          `db:"created_at"`
}

// Promotion reasons.
const (
	PromotionReasonStructure = "structure requirements met"
	PromotionReasonOverride  = "administrative override"
	PromotionReasonInitial   = "initial level assignment"
)

// EvaluationSnapshot captures the referral counts observed at promotion
// time. Stored as JSONB alongside the promotion record.
type EvaluationSnapshot struct {
	DirectReferrals     int       `json:"directReferrals"`
	ValidStructureCount int       `json:"validStructureCount"`
	EvaluatedAt         time.Time `json:"evaluatedAt"`
}

// CommissionPayout is one ancestor's share of a completed purchase.
// The (PaymentID, BeneficiaryID) pair is unique so retried purchase events
// never produce duplicate rows.
type CommissionPayout struct {
	ID            uuid.UUID       `db:"id"`
	PaymentID     string          `db:"payment_id"`
	BeneficiaryID uuid.UUID       `db:"beneficiary_id"`
	BaseAmount    decimal.Decimal `db:"base_amount"`
	RateApplied   decimal.Decimal `db:"rate_applied"`
	Amount        decimal.Decimal `db:"amount"`
	Depth         int             `db:"depth"`
	CreatedAt     time.Time       `db:"created_at"`
}

// CommissionDistribution is the result of distributing one purchase through
// the buyer's ancestor chain.
type CommissionDistribution struct {
	PaymentID        string
	Payouts          []CommissionPayout
	TotalCommissions decimal.Decimal
}

// PromotionEvaluation reports whether a user's referral subtree satisfies
// the 3x3 structure required for the next level.
type PromotionEvaluation struct {
	CanPromote                bool
	CurrentLevelOrder         int
	NextLevelOrder            int
	DirectReferrals           int
	ValidSecondLevelReferrals int
	MissingRequirements       []string
}

// RegistrationResult is the outcome of registering a referral and evaluating
// the referrer for promotion in one unit of work.
type RegistrationResult struct {
	ReferralCreated bool
	Promoted        bool
	NewLevel        *Level
}

// TreeNode is one node of the rendered referral structure.
type TreeNode struct {
	ID              uuid.UUID
	Name            string
	LevelName       string
	LevelOrder      int
	IsActive        bool
	JoinDate        time.Time
	ReferralCount   int
	DirectReferrals []*TreeNode
}

// SubtreeEntry pairs a user with its depth below the traversal root.
type SubtreeEntry struct {
	User  *User
	Depth int
}
