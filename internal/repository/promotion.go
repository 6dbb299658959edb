package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"affiliate-engine/internal/model"
)

// PromotionRepository handles the append-only promotion history and the
// atomic level transition itself.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository creates a new PromotionRepository instance.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// ApplyPromotion moves a user from fromLevelID to toLevelID and appends the
// history record in a single transaction. The user row is locked FOR UPDATE
// and the current level compared against fromLevelID; a concurrent promotion
// that already moved the user fails the check with ErrStaleLevel so the
// caller can re-evaluate against fresh state.
func (r *PromotionRepository) ApplyPromotion(ctx context.Context, userID uuid.UUID, fromLevelID *uuid.UUID, toLevelID uuid.UUID, reason string, snapshot model.EvaluationSnapshot) (*model.PromotionRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentLevelID *uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT level_id FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&currentLevelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user row: %w", err)
	}

	if !uuidPtrEqual(currentLevelID, fromLevelID) {
		return nil, ErrStaleLevel
	}

	_, err = tx.Exec(ctx, `
		UPDATE users SET level_id = $2, updated_at = NOW() WHERE id = $1
	`, userID, toLevelID)
	if err != nil {
		return nil, fmt.Errorf("failed to update user level: %w", err)
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evaluation snapshot: %w", err)
	}

	record := &model.PromotionRecord{
		ID:          uuid.New(),
		UserID:      userID,
		FromLevelID: fromLevelID,
		ToLevelID:   toLevelID,
		Reason:      reason,
		Snapshot:    snapshot,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO promotions (id, user_id, from_level_id, to_level_id, reason, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`, record.ID, userID, fromLevelID, toLevelID, reason, snapshotJSON).Scan(&record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert promotion record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit promotion: %w", err)
	}

	return record, nil
}

// ListByUser retrieves a user's promotion history, oldest first.
func (r *PromotionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.PromotionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, from_level_id, to_level_id, reason, snapshot, created_at
		FROM promotions
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list promotions: %w", err)
	}
	defer rows.Close()

	var records []*model.PromotionRecord
	for rows.Next() {
		var rec model.PromotionRecord
		var snapshotJSON []byte
		err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.FromLevelID,
			&rec.ToLevelID,
			&rec.Reason,
			&snapshotJSON,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan promotion record: %w", err)
		}
		if len(snapshotJSON) > 0 {
			if err := json.Unmarshal(snapshotJSON, &rec.Snapshot); err != nil {
				return nil, fmt.Errorf("failed to decode evaluation snapshot: %w", err)
			}
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating promotions: %w", err)
	}

	return records, nil
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
