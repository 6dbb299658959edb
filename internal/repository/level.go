package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"affiliate-engine/internal/model"
)

// LevelRepository handles the ordered level catalog.
type LevelRepository struct {
	pool *pgxpool.Pool
}

// NewLevelRepository creates a new LevelRepository instance.
func NewLevelRepository(pool *pgxpool.Pool) *LevelRepository {
	return &LevelRepository{pool: pool}
}

const levelColumns = `id, name, level_order, commission_rate, min_direct, min_indirect, color, icon, created_at`

func scanLevel(row pgx.Row) (*model.Level, error) {
	var l model.Level
	err := row.Scan(
		&l.ID,
		&l.Name,
		&l.Order,
		&l.CommissionRate,
		&l.MinDirectReferrals,
		&l.MinIndirectReferrals,
		&l.Color,
		&l.Icon,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetByID retrieves a level by id.
// Returns ErrLevelNotFound if no such level exists.
func (r *LevelRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Level, error) {
	l, err := scanLevel(r.pool.QueryRow(ctx,
		`SELECT `+levelColumns+` FROM levels WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLevelNotFound
		}
		return nil, fmt.Errorf("failed to get level: %w", err)
	}
	return l, nil
}

// GetByOrder retrieves the level with the given order.
// Returns ErrLevelNotFound if no such level exists.
func (r *LevelRepository) GetByOrder(ctx context.Context, order int) (*model.Level, error) {
	l, err := scanLevel(r.pool.QueryRow(ctx,
		`SELECT `+levelColumns+` FROM levels WHERE level_order = $1`, order))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLevelNotFound
		}
		return nil, fmt.Errorf("failed to get level by order: %w", err)
	}
	return l, nil
}

// GetNext retrieves the level ordered immediately after currentOrder.
// Returns ErrLevelNotFound when currentOrder is the terminal level.
func (r *LevelRepository) GetNext(ctx context.Context, currentOrder int) (*model.Level, error) {
	return r.GetByOrder(ctx, currentOrder+1)
}

// List retrieves all levels ordered ascending.
func (r *LevelRepository) List(ctx context.Context) ([]*model.Level, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+levelColumns+` FROM levels ORDER BY level_order ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list levels: %w", err)
	}
	defer rows.Close()

	var levels []*model.Level
	for rows.Next() {
		l, err := scanLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating levels: %w", err)
	}

	return levels, nil
}

// Seed inserts the given level ladder, skipping orders that already exist.
// Safe to run on every startup.
func (r *LevelRepository) Seed(ctx context.Context, levels []*model.Level) error {
	for _, l := range levels {
		id := l.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := r.pool.Exec(ctx, `
			INSERT INTO levels (id, name, level_order, commission_rate, min_direct, min_indirect, color, icon, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (level_order) DO NOTHING
		`, id, l.Name, l.Order, l.CommissionRate, l.MinDirectReferrals, l.MinIndirectReferrals, l.Color, l.Icon)
		if err != nil {
			return fmt.Errorf("failed to seed level %q: %w", l.Name, err)
		}
	}
	return nil
}
