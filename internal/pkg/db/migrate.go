package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// migrations is the engine schema, applied in order. Statements are
// idempotent so re-running on startup is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS levels (
		id UUID PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		level_order INT NOT NULL UNIQUE CHECK (level_order >= 1),
		commission_rate NUMERIC(6,4) NOT NULL CHECK (commission_rate >= 0 AND commission_rate <= 1),
		min_direct INT NOT NULL DEFAULT 0,
		min_indirect INT NOT NULL DEFAULT 0,
		color VARCHAR(16) NOT NULL DEFAULT '',
		icon VARCHAR(16) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		level_id UUID REFERENCES levels(id),
		referred_by UUID REFERENCES users(id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		direct_count INT NOT NULL DEFAULT 0,
		indirect_count INT NOT NULL DEFAULT 0,
		total_earnings NUMERIC(18,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (referred_by IS NULL OR referred_by <> id)
	)`,

	// Adjacency index: subtree traversal issues one query per level keyed
	// by referrer id instead of recursive single-row lookups.
	`CREATE INDEX IF NOT EXISTS idx_users_referred_by ON users(referred_by)`,

	`CREATE TABLE IF NOT EXISTS referrals (
		id UUID PRIMARY KEY,
		referrer_id UUID NOT NULL REFERENCES users(id),
		referred_id UUID NOT NULL UNIQUE REFERENCES users(id),
		level_in_chain INT NOT NULL DEFAULT 1,
		commission NUMERIC(18,2) NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'approved',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (referrer_id, referred_id),
		CHECK (referrer_id <> referred_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS promotions (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		from_level_id UUID REFERENCES levels(id),
		to_level_id UUID NOT NULL REFERENCES levels(id),
		reason TEXT NOT NULL,
		snapshot JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_promotions_user ON promotions(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS commission_payouts (
		id UUID PRIMARY KEY,
		payment_id VARCHAR(128) NOT NULL,
		beneficiary_id UUID NOT NULL REFERENCES users(id),
		base_amount NUMERIC(18,2) NOT NULL,
		rate_applied NUMERIC(6,4) NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		depth INT NOT NULL CHECK (depth >= 1),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (payment_id, beneficiary_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_payouts_payment ON commission_payouts(payment_id)`,
}

// Migrate applies the engine schema using the given pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	log.Info().Int("statements", len(migrations)).Msg("Database schema up to date")
	return nil
}

// Migrate applies the engine schema.
func (p *Pool) Migrate(ctx context.Context) error {
	return Migrate(ctx, p.Pool)
}
