// Package memory provides an in-memory implementation of the service store
// interfaces. It mirrors the PostgreSQL repositories' semantics closely
// enough for tests and local experimentation; it is not meant for
// production data.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"affiliate-engine/internal/model"
	"affiliate-engine/internal/repository"
)

const (
	maxTreeDepth = 10
	maxChainHops = 50
)

// Store holds the whole engine state in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	users         map[uuid.UUID]*model.User
	levels        map[uuid.UUID]*model.Level
	levelsByOrder map[int]*model.Level
	edges         map[uuid.UUID]*model.ReferralEdge // keyed by referred id
	promotions    []*model.PromotionRecord
	payouts       map[string]map[uuid.UUID]model.CommissionPayout

	clock time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		users:         make(map[uuid.UUID]*model.User),
		levels:        make(map[uuid.UUID]*model.Level),
		levelsByOrder: make(map[int]*model.Level),
		edges:         make(map[uuid.UUID]*model.ReferralEdge),
		payouts:       make(map[string]map[uuid.UUID]model.CommissionPayout),
		clock:         time.Unix(1_700_000_000, 0).UTC(),
	}
}

// tick advances the internal clock so creation timestamps are strictly
// increasing, which the earliest-referred-first ordering relies on.
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// AddLevel registers a level in the catalog.
func (s *Store) AddLevel(l *model.Level) *model.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = s.tick()
	s.levels[cp.ID] = &cp
	s.levelsByOrder[cp.Order] = &cp
	return &cp
}

// AddUser creates a user at the given level (nil for unassigned).
func (s *Store) AddUser(name string, level *model.Level) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &model.User{
		ID:            uuid.New(),
		Name:          name,
		Email:         name + "@example.com",
		IsActive:      true,
		TotalEarnings: decimal.Zero,
		CreatedAt:     s.tick(),
	}
	if level != nil {
		id := level.ID
		u.LevelID = &id
	}
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = u
	return u
}

// SetActive toggles a user's active flag.
func (s *Store) SetActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.IsActive = active
	}
}

// GetByID implements service.UserStore.
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// ListActive implements service.UserStore.
func (s *Store) ListActive(_ context.Context) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []*model.User
	for _, u := range s.users {
		if u.IsActive {
			cp := *u
			users = append(users, &cp)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

// GetLevelByID implements service.LevelStore.GetByID under a distinct name
// so Store can satisfy both user and level lookups.
func (s *Store) GetLevelByID(_ context.Context, id uuid.UUID) (*model.Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.levels[id]
	if !ok {
		return nil, repository.ErrLevelNotFound
	}
	cp := *l
	return &cp, nil
}

// GetByOrder implements service.LevelStore.
func (s *Store) GetByOrder(_ context.Context, order int) (*model.Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.levelsByOrder[order]
	if !ok {
		return nil, repository.ErrLevelNotFound
	}
	cp := *l
	return &cp, nil
}

// GetNext implements service.LevelStore.
func (s *Store) GetNext(ctx context.Context, currentOrder int) (*model.Level, error) {
	return s.GetByOrder(ctx, currentOrder+1)
}

// List implements service.LevelStore.
func (s *Store) List(_ context.Context) ([]*model.Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var levels []*model.Level
	for _, l := range s.levels {
		cp := *l
		levels = append(levels, &cp)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Order < levels[j].Order })
	return levels, nil
}

// RecordReferral implements service.ReferralStore with the same validation
// and counter semantics as the PostgreSQL repository.
func (s *Store) RecordReferral(_ context.Context, referrerID, referredID uuid.UUID) (bool, error) {
	if referrerID == referredID {
		return false, repository.ErrSelfReferral
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	referred, ok := s.users[referredID]
	if !ok {
		return false, repository.ErrUserNotFound
	}
	referrer, ok := s.users[referrerID]
	if !ok {
		return false, repository.ErrUserNotFound
	}

	if referred.ReferredBy != nil {
		if *referred.ReferredBy == referrerID {
			return false, nil
		}
		return false, repository.ErrAlreadyReferred
	}

	ancestors, err := s.ancestorIDs(referrerID)
	if err != nil {
		return false, err
	}
	for _, a := range ancestors {
		if a == referredID {
			return false, repository.ErrCyclicReferral
		}
	}

	now := s.tick()
	s.edges[referredID] = &model.ReferralEdge{
		ID:           uuid.New(),
		ReferrerID:   referrerID,
		ReferredID:   referredID,
		LevelInChain: len(ancestors) + 1,
		Status:       model.ReferralStatusApproved,
		CreatedAt:    now,
	}

	parent := referrerID
	referred.ReferredBy = &parent
	referrer.DirectReferralsCount++
	for _, a := range ancestors {
		s.users[a].IndirectReferralsCount++
	}

	return true, nil
}

// GetDirectChildren implements service.ReferralStore.
func (s *Store) GetDirectChildren(_ context.Context, userID uuid.UUID, activeOnly bool) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.directChildren(userID, activeOnly), nil
}

func (s *Store) directChildren(userID uuid.UUID, activeOnly bool) []*model.User {
	var children []*model.User
	for _, u := range s.users {
		if u.ReferredBy != nil && *u.ReferredBy == userID && (!activeOnly || u.IsActive) {
			cp := *u
			children = append(children, &cp)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].CreatedAt.Before(children[j].CreatedAt) })
	return children
}

// CountActiveDirect implements service.ReferralStore.
func (s *Store) CountActiveDirect(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.directChildren(userID, true)), nil
}

// GetSubtree implements service.ReferralStore: breadth-first, depth capped.
func (s *Store) GetSubtree(_ context.Context, userID uuid.UUID, maxDepth int) ([]model.SubtreeEntry, error) {
	if maxDepth <= 0 || maxDepth > maxTreeDepth {
		maxDepth = maxTreeDepth
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.SubtreeEntry
	frontier := []uuid.UUID{userID}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []uuid.UUID
		var levelUsers []*model.User
		for _, id := range frontier {
			levelUsers = append(levelUsers, s.directChildren(id, true)...)
		}
		sort.Slice(levelUsers, func(i, j int) bool { return levelUsers[i].CreatedAt.Before(levelUsers[j].CreatedAt) })
		for _, u := range levelUsers {
			entries = append(entries, model.SubtreeEntry{User: u, Depth: depth})
			next = append(next, u.ID)
		}
		frontier = next
	}
	return entries, nil
}

// WalkAncestors implements service.ReferralStore.
func (s *Store) WalkAncestors(_ context.Context, userID uuid.UUID, maxHops int) ([]*model.User, error) {
	if maxHops <= 0 || maxHops > maxChainHops {
		maxHops = maxChainHops
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}

	var chain []*model.User
	current := u
	for hop := 0; current.ReferredBy != nil; hop++ {
		if hop >= maxChainHops {
			return nil, repository.ErrGraphIntegrity
		}
		parent, ok := s.users[*current.ReferredBy]
		if !ok {
			break
		}
		cp := *parent
		chain = append(chain, &cp)
		if len(chain) >= maxHops {
			break
		}
		current = parent
	}
	return chain, nil
}

func (s *Store) ancestorIDs(userID uuid.UUID) ([]uuid.UUID, error) {
	var chain []uuid.UUID
	current := s.users[userID]
	for hop := 0; current != nil && current.ReferredBy != nil; hop++ {
		if hop >= maxChainHops {
			return nil, repository.ErrGraphIntegrity
		}
		chain = append(chain, *current.ReferredBy)
		current = s.users[*current.ReferredBy]
	}
	return chain, nil
}

// ApplyPromotion implements service.PromotionStore with the repository's
// optimistic level check.
func (s *Store) ApplyPromotion(_ context.Context, userID uuid.UUID, fromLevelID *uuid.UUID, toLevelID uuid.UUID, reason string, snapshot model.EvaluationSnapshot) (*model.PromotionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if !uuidPtrEqual(u.LevelID, fromLevelID) {
		return nil, repository.ErrStaleLevel
	}

	to := toLevelID
	u.LevelID = &to

	record := &model.PromotionRecord{
		ID:          uuid.New(),
		UserID:      userID,
		FromLevelID: fromLevelID,
		ToLevelID:   toLevelID,
		Reason:      reason,
		Snapshot:    snapshot,
		CreatedAt:   s.tick(),
	}
	s.promotions = append(s.promotions, record)
	return record, nil
}

// ListByUser implements service.PromotionStore.
func (s *Store) ListByUser(_ context.Context, userID uuid.UUID) ([]*model.PromotionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*model.PromotionRecord
	for _, r := range s.promotions {
		if r.UserID == userID {
			cp := *r
			records = append(records, &cp)
		}
	}
	return records, nil
}

// Upsert implements service.PayoutStore: inserts are idempotent per
// (payment, beneficiary) pair and earnings accrue only on first insert.
func (s *Store) Upsert(_ context.Context, payout *model.CommissionPayout) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byBeneficiary, ok := s.payouts[payout.PaymentID]
	if !ok {
		byBeneficiary = make(map[uuid.UUID]model.CommissionPayout)
		s.payouts[payout.PaymentID] = byBeneficiary
	}
	if _, exists := byBeneficiary[payout.BeneficiaryID]; exists {
		return false, nil
	}

	cp := *payout
	cp.CreatedAt = s.tick()
	byBeneficiary[payout.BeneficiaryID] = cp

	if u, ok := s.users[payout.BeneficiaryID]; ok {
		u.TotalEarnings = u.TotalEarnings.Add(payout.Amount)
	}
	return true, nil
}

// ListByPayment implements service.PayoutStore.
func (s *Store) ListByPayment(_ context.Context, paymentID string) ([]model.CommissionPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var payouts []model.CommissionPayout
	for _, p := range s.payouts[paymentID] {
		payouts = append(payouts, p)
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].Depth < payouts[j].Depth })
	return payouts, nil
}

// SumByPayment implements service.PayoutStore.
func (s *Store) SumByPayment(_ context.Context, paymentID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, p := range s.payouts[paymentID] {
		total = total.Add(p.Amount)
	}
	return total, nil
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
