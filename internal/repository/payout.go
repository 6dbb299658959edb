package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"affiliate-engine/internal/model"
)

// PayoutRepository handles commission payout persistence. Rows are keyed by
// (payment_id, beneficiary_id) so a retried purchase-completion event never
// produces duplicates.
type PayoutRepository struct {
	pool *pgxpool.Pool
}

// NewPayoutRepository creates a new PayoutRepository instance.
func NewPayoutRepository(pool *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{pool: pool}
}

// Upsert inserts a payout row and accrues the beneficiary's total earnings
// in one transaction. If the (payment, beneficiary) pair already exists the
// insert is skipped and no earnings accrue, making retried distributions
// idempotent.
func (r *PayoutRepository) Upsert(ctx context.Context, payout *model.CommissionPayout) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	id := payout.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	result, err := tx.Exec(ctx, `
		INSERT INTO commission_payouts (id, payment_id, beneficiary_id, base_amount, rate_applied, amount, depth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (payment_id, beneficiary_id) DO NOTHING
	`, id, payout.PaymentID, payout.BeneficiaryID, payout.BaseAmount, payout.RateApplied, payout.Amount, payout.Depth)
	if err != nil {
		return false, fmt.Errorf("failed to insert payout: %w", err)
	}

	inserted := result.RowsAffected() > 0
	if inserted {
		_, err = tx.Exec(ctx, `
			UPDATE users SET total_earnings = total_earnings + $2, updated_at = NOW() WHERE id = $1
		`, payout.BeneficiaryID, payout.Amount)
		if err != nil {
			return false, fmt.Errorf("failed to accrue earnings: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit payout: %w", err)
	}

	return inserted, nil
}

// ListByPayment retrieves all payouts recorded for a payment, shallowest
// ancestor first.
func (r *PayoutRepository) ListByPayment(ctx context.Context, paymentID string) ([]model.CommissionPayout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, payment_id, beneficiary_id, base_amount, rate_applied, amount, depth, created_at
		FROM commission_payouts
		WHERE payment_id = $1
		ORDER BY depth ASC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []model.CommissionPayout
	for rows.Next() {
		var p model.CommissionPayout
		err := rows.Scan(
			&p.ID,
			&p.PaymentID,
			&p.BeneficiaryID,
			&p.BaseAmount,
			&p.RateApplied,
			&p.Amount,
			&p.Depth,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payouts: %w", err)
	}

	return payouts, nil
}

// SumByPayment returns the total commission recorded for a payment.
func (r *PayoutRepository) SumByPayment(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM commission_payouts WHERE payment_id = $1`,
		paymentID,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payouts: %w", err)
	}
	return total, nil
}
