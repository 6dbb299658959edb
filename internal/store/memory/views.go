package memory

import (
	"context"

	"github.com/google/uuid"

	"affiliate-engine/internal/model"
	"affiliate-engine/internal/service"
)

// Store satisfies the user, referral, promotion, and payout store
// interfaces directly. The level interface clashes with the user one on
// GetByID, so it is exposed as a view.
var (
	_ service.UserStore      = (*Store)(nil)
	_ service.ReferralStore  = (*Store)(nil)
	_ service.PromotionStore = (*Store)(nil)
	_ service.PayoutStore    = (*Store)(nil)
	_ service.LevelStore     = levelView{}
)

type levelView struct {
	s *Store
}

// Levels returns the store's LevelStore view.
func (s *Store) Levels() service.LevelStore {
	return levelView{s: s}
}

func (v levelView) GetByID(ctx context.Context, id uuid.UUID) (*model.Level, error) {
	return v.s.GetLevelByID(ctx, id)
}

func (v levelView) GetByOrder(ctx context.Context, order int) (*model.Level, error) {
	return v.s.GetByOrder(ctx, order)
}

func (v levelView) GetNext(ctx context.Context, currentOrder int) (*model.Level, error) {
	return v.s.GetNext(ctx, currentOrder)
}

func (v levelView) List(ctx context.Context) ([]*model.Level, error) {
	return v.s.List(ctx)
}
