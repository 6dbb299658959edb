// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"affiliate-engine/internal/model"
)

// UserRepository handles affiliate account persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create creates a new user at the given initial level and records the
// initial level assignment in the promotion history. Both writes commit
// together.
func (r *UserRepository) Create(ctx context.Context, name, email string, initialLevel *model.Level) (*model.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var levelID *uuid.UUID
	if initialLevel != nil {
		levelID = &initialLevel.ID
	}

	id := uuid.New()
	u, err := scanUser(tx.QueryRow(ctx, `
		INSERT INTO users (id, name, email, level_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		RETURNING `+userColumns+`
	`, id, name, email, levelID))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if initialLevel != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO promotions (id, user_id, from_level_id, to_level_id, reason, snapshot, created_at)
			VALUES ($1, $2, NULL, $3, $4, '{}', NOW())
		`, uuid.New(), id, initialLevel.ID, model.PromotionReasonInitial)
		if err != nil {
			return nil, fmt.Errorf("failed to record initial level assignment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit user creation: %w", err)
	}

	return u, nil
}

// GetByID retrieves a user by id.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListActive retrieves all active users, oldest first. Used by the batch
// promotion sweep.
func (r *UserRepository) ListActive(ctx context.Context) ([]*model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_active ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// AddEarnings accrues commission earnings onto a user's running total.
func (r *UserRepository) AddEarnings(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET total_earnings = total_earnings + $2, updated_at = NOW() WHERE id = $1
	`, id, amount)
	if err != nil {
		return fmt.Errorf("failed to add earnings: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetActive toggles a user's active flag.
func (r *UserRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("failed to set active flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
