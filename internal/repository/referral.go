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

// maxTreeDepth is the defensive cap on subtree traversal, applied regardless
// of caller input so a cycle that slipped past the guard cannot cause
// unbounded work.
const maxTreeDepth = 10

// ReferralRepository persists the referral forest: one edge per referred
// user, parent pointers on the users table, and cached direct/indirect
// counts maintained on every insert.
type ReferralRepository struct {
	pool *pgxpool.Pool
	// maxChainHops bounds ancestor walks (cycle guard and commission chain).
	maxChainHops int
}

// NewReferralRepository creates a new ReferralRepository instance.
func NewReferralRepository(pool *pgxpool.Pool, maxChainHops int) *ReferralRepository {
	if maxChainHops <= 0 {
		maxChainHops = 50
	}
	return &ReferralRepository{pool: pool, maxChainHops: maxChainHops}
}

const userColumns = `id, name, email, level_id, referred_by, is_active, direct_count, indirect_count, total_earnings, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.LevelID,
		&u.ReferredBy,
		&u.IsActive,
		&u.DirectReferralsCount,
		&u.IndirectReferralsCount,
		&u.TotalEarnings,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// RecordReferral creates the edge referrer -> referred, sets the referred
// user's parent pointer, and updates the cached counts, all in one
// transaction. Calling it again with the same pair is a no-op success so
// at-least-once delivery of registration events is tolerated.
func (r *ReferralRepository) RecordReferral(ctx context.Context, referrerID, referredID uuid.UUID) (bool, error) {
	if referrerID == referredID {
		return false, ErrSelfReferral
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the referred row so the single-parent rule holds under
	// concurrent registrations naming the same referred user.
	var existingParent *uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT referred_by FROM users WHERE id = $1 FOR UPDATE`,
		referredID,
	).Scan(&existingParent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("failed to load referred user: %w", err)
	}

	if existingParent != nil {
		if *existingParent == referrerID {
			// Duplicate delivery of the same registration event.
			return false, nil
		}
		return false, ErrAlreadyReferred
	}

	// Cycle guard: the referrer must not sit below the referred user.
	// Walking up from the referrer finds the referred id iff the new edge
	// would close a cycle; the walk also yields the referrer's ancestors
	// for the indirect-count updates below.
	ancestors, err := r.walkAncestorIDs(ctx, tx, referrerID)
	if err != nil {
		return false, err
	}
	for _, a := range ancestors {
		if a == referredID {
			return false, ErrCyclicReferral
		}
	}

	var referrerExists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`,
		referrerID,
	).Scan(&referrerExists)
	if err != nil {
		return false, fmt.Errorf("failed to check referrer existence: %w", err)
	}
	if !referrerExists {
		return false, ErrUserNotFound
	}

	// Depth of the referred user in its tree, informational.
	levelInChain := len(ancestors) + 1

	_, err = tx.Exec(ctx, `
		INSERT INTO referrals (id, referrer_id, referred_id, level_in_chain, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New(), referrerID, referredID, levelInChain, model.ReferralStatusApproved)
	if err != nil {
		return false, fmt.Errorf("failed to insert referral edge: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE users SET referred_by = $2, updated_at = NOW() WHERE id = $1
	`, referredID, referrerID)
	if err != nil {
		return false, fmt.Errorf("failed to set parent pointer: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE users SET direct_count = direct_count + 1, updated_at = NOW() WHERE id = $1
	`, referrerID)
	if err != nil {
		return false, fmt.Errorf("failed to increment direct count: %w", err)
	}

	// The new user is an indirect referral of every ancestor above the
	// referrer.
	if len(ancestors) > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE users SET indirect_count = indirect_count + 1, updated_at = NOW() WHERE id = ANY($1)
		`, ancestors)
		if err != nil {
			return false, fmt.Errorf("failed to increment indirect counts: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit referral: %w", err)
	}

	return true, nil
}

// GetDirectChildren retrieves a user's direct referrals ordered by creation
// time ascending. The earliest-referred-first ordering decides which three
// children count toward the 3x3 structure.
func (r *ReferralRepository) GetDirectChildren(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*model.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE referred_by = $1
		ORDER BY created_at ASC
	`
	if activeOnly {
		query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE referred_by = $1 AND is_active
		ORDER BY created_at ASC
	`
	}

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get direct children: %w", err)
	}
	defer rows.Close()

	var children []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child: %w", err)
		}
		children = append(children, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating children: %w", err)
	}

	return children, nil
}

// CountActiveDirect counts a user's active direct referrals.
func (r *ReferralRepository) CountActiveDirect(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE referred_by = $1 AND is_active`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count direct referrals: %w", err)
	}
	return count, nil
}

// GetSubtree walks the referral subtree breadth-first, one indexed query per
// level, and returns (user, depth) pairs in visit order. Depth is capped at
// maxTreeDepth regardless of the caller's maxDepth.
func (r *ReferralRepository) GetSubtree(ctx context.Context, userID uuid.UUID, maxDepth int) ([]model.SubtreeEntry, error) {
	if maxDepth <= 0 || maxDepth > maxTreeDepth {
		maxDepth = maxTreeDepth
	}

	var entries []model.SubtreeEntry
	frontier := []uuid.UUID{userID}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		rows, err := r.pool.Query(ctx, `
			SELECT `+userColumns+`
			FROM users
			WHERE referred_by = ANY($1) AND is_active
			ORDER BY created_at ASC
		`, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to query subtree level %d: %w", depth, err)
		}

		var next []uuid.UUID
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan subtree user: %w", err)
			}
			entries = append(entries, model.SubtreeEntry{User: u, Depth: depth})
			next = append(next, u.ID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating subtree level %d: %w", depth, err)
		}

		frontier = next
	}

	return entries, nil
}

// WalkAncestors returns the chain of users above userID, nearest parent
// first, at most maxHops entries. It fails with ErrGraphIntegrity if the
// chain exceeds the repository's hard safety bound.
func (r *ReferralRepository) WalkAncestors(ctx context.Context, userID uuid.UUID, maxHops int) ([]*model.User, error) {
	if maxHops <= 0 || maxHops > r.maxChainHops {
		maxHops = r.maxChainHops
	}

	var chain []*model.User
	current := userID

	for hop := 0; ; hop++ {
		if hop >= r.maxChainHops {
			return nil, ErrGraphIntegrity
		}

		var parent *uuid.UUID
		err := r.pool.QueryRow(ctx,
			`SELECT referred_by FROM users WHERE id = $1`,
			current,
		).Scan(&parent)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				if hop == 0 {
					return nil, ErrUserNotFound
				}
				return chain, nil
			}
			return nil, fmt.Errorf("failed to walk ancestor chain: %w", err)
		}
		if parent == nil {
			return chain, nil
		}

		u, err := scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, *parent))
		if err != nil {
			return nil, fmt.Errorf("failed to load ancestor: %w", err)
		}
		chain = append(chain, u)
		if len(chain) >= maxHops {
			return chain, nil
		}
		current = *parent
	}
}

// walkAncestorIDs walks parent pointers inside a transaction and returns
// ancestor ids, nearest first. Exceeding the hard bound trips
// ErrGraphIntegrity instead of looping.
func (r *ReferralRepository) walkAncestorIDs(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]uuid.UUID, error) {
	var chain []uuid.UUID
	current := userID

	for hop := 0; ; hop++ {
		if hop >= r.maxChainHops {
			return nil, ErrGraphIntegrity
		}

		var parent *uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT referred_by FROM users WHERE id = $1`,
			current,
		).Scan(&parent)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return chain, nil
			}
			return nil, fmt.Errorf("failed to walk ancestor chain: %w", err)
		}
		if parent == nil {
			return chain, nil
		}
		chain = append(chain, *parent)
		current = *parent
	}
}

// GetEdge retrieves the referral edge for a referred user, if any.
func (r *ReferralRepository) GetEdge(ctx context.Context, referredID uuid.UUID) (*model.ReferralEdge, error) {
	var e model.ReferralEdge
	err := r.pool.QueryRow(ctx, `
		SELECT id, referrer_id, referred_id, level_in_chain, commission, status, created_at
		FROM referrals
		WHERE referred_id = $1
	`, referredID).Scan(
		&e.ID,
		&e.ReferrerID,
		&e.ReferredID,
		&e.LevelInChain,
		&e.Commission,
		&e.Status,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get referral edge: %w", err)
	}
	return &e, nil
}

// CountEdgesByReferrer counts approved edges where the user is the referrer.
// Used to reconcile the cached direct count.
func (r *ReferralRepository) CountEdgesByReferrer(ctx context.Context, referrerID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM referrals WHERE referrer_id = $1 AND status = $2`,
		referrerID, model.ReferralStatusApproved,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count referral edges: %w", err)
	}
	return count, nil
}
