// Package engine exposes the referral engine's external entry points,
// consumed by the web/API layer that sits outside this module.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"affiliate-engine/internal/model"
	"affiliate-engine/internal/service"
)

// Engine wires the engine services behind the external interface.
type Engine struct {
	users        service.UserStore
	levels       service.LevelStore
	referrals    service.ReferralStore
	registration *service.RegistrationService
	evaluator    *service.EvaluationService
	promoter     *service.PromotionService
	commissions  *service.CommissionService
}

// New creates an Engine from its collaborating services and stores.
func New(
	users service.UserStore,
	levels service.LevelStore,
	referrals service.ReferralStore,
	registration *service.RegistrationService,
	evaluator *service.EvaluationService,
	promoter *service.PromotionService,
	commissions *service.CommissionService,
) *Engine {
	return &Engine{
		users:        users,
		levels:       levels,
		referrals:    referrals,
		registration: registration,
		evaluator:    evaluator,
		promoter:     promoter,
		commissions:  commissions,
	}
}

// RegisterReferral records a referral edge and evaluates the referrer for
// promotion as one unit of work. Validation errors surface to the caller;
// a failed promotion sub-step does not.
func (e *Engine) RegisterReferral(ctx context.Context, referrerID, referredID uuid.UUID) (*model.RegistrationResult, error) {
	result, err := e.registration.RegisterAndEvaluate(ctx, referrerID, referredID)
	if err != nil {
		return nil, err
	}
	if result.Promoted {
		log.Info().
			Str("referrer_id", referrerID.String()).
			Str("new_level", result.NewLevel.Name).
			Msg("Referrer promoted after registration")
	}
	return result, nil
}

// EvaluatePromotion reports whether a user's referral structure qualifies
// for the next level. Read-only.
func (e *Engine) EvaluatePromotion(ctx context.Context, userID uuid.UUID) (*model.PromotionEvaluation, error) {
	return e.evaluator.Evaluate(ctx, userID)
}

// ForcePromote moves a user one level forward without the structure check.
// Role enforcement belongs to the caller; the explicit forced flag is still
// required so the history record carries the override reason deliberately.
func (e *Engine) ForcePromote(ctx context.Context, userID uuid.UUID, forced bool) (*model.Level, error) {
	if !forced {
		return nil, service.ErrForcedFlagRequired
	}
	_, newLevel, err := e.promoter.ForcePromote(ctx, userID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("user_id", userID.String()).
		Str("new_level", newLevel.Name).
		Msg("Administrative promotion applied")
	return newLevel, nil
}

// OnPurchaseCompleted distributes commissions for a completed purchase
// through the buyer's ancestor chain. Idempotent per paymentID.
func (e *Engine) OnPurchaseCompleted(ctx context.Context, buyerID uuid.UUID, baseAmount decimal.Decimal, paymentID string) (*model.CommissionDistribution, error) {
	dist, err := e.commissions.Distribute(ctx, buyerID, baseAmount, paymentID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("payment_id", paymentID).
		Str("buyer_id", buyerID.String()).
		Int("payouts", len(dist.Payouts)).
		Str("total", dist.TotalCommissions.String()).
		Msg("Commission distribution completed")
	return dist, nil
}

// GetReferralStructure renders a user's referral subtree as a tree, bounded
// by maxDepth (itself capped by the store's traversal limit).
func (e *Engine) GetReferralStructure(ctx context.Context, userID uuid.UUID, maxDepth int) (*model.TreeNode, error) {
	root, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	levelNames, levelOrders, err := e.levelLookup(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := e.referrals.GetSubtree(ctx, userID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to traverse subtree: %w", err)
	}

	nodes := map[uuid.UUID]*model.TreeNode{}
	rootNode := toTreeNode(root, levelNames, levelOrders)
	nodes[root.ID] = rootNode

	// Entries arrive in breadth-first order, so a parent's node always
	// exists before its children are attached.
	for _, entry := range entries {
		node := toTreeNode(entry.User, levelNames, levelOrders)
		nodes[entry.User.ID] = node
		if entry.User.ReferredBy != nil {
			if parent, ok := nodes[*entry.User.ReferredBy]; ok {
				parent.DirectReferrals = append(parent.DirectReferrals, node)
				parent.ReferralCount = len(parent.DirectReferrals)
			}
		}
	}

	return rootNode, nil
}

// EvaluateAllPromotions evaluates every active user and promotes those who
// qualify. Scheduling (cron or otherwise) is the caller's concern.
func (e *Engine) EvaluateAllPromotions(ctx context.Context) (evaluated, promoted int, err error) {
	users, err := e.users.ListActive(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, u := range users {
		evaluated++
		eval, err := e.evaluator.Evaluate(ctx, u.ID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("Sweep evaluation failed")
			continue
		}
		if !eval.CanPromote {
			continue
		}
		if _, newLevel, err := e.promoter.Promote(ctx, u.ID); err != nil {
			log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("Sweep promotion failed")
		} else {
			promoted++
			log.Info().
				Str("user_id", u.ID.String()).
				Str("new_level", newLevel.Name).
				Msg("User promoted by sweep")
		}
	}

	return evaluated, promoted, nil
}

// GetLevels returns the level catalog ordered ascending.
func (e *Engine) GetLevels(ctx context.Context) ([]*model.Level, error) {
	return e.levels.List(ctx)
}

func (e *Engine) levelLookup(ctx context.Context) (map[uuid.UUID]string, map[uuid.UUID]int, error) {
	levels, err := e.levels.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load level catalog: %w", err)
	}
	names := make(map[uuid.UUID]string, len(levels))
	orders := make(map[uuid.UUID]int, len(levels))
	for _, l := range levels {
		names[l.ID] = l.Name
		orders[l.ID] = l.Order
	}
	return names, orders, nil
}

func toTreeNode(u *model.User, names map[uuid.UUID]string, orders map[uuid.UUID]int) *model.TreeNode {
	node := &model.TreeNode{
		ID:       u.ID,
		Name:     u.Name,
		IsActive: u.IsActive,
		JoinDate: u.CreatedAt,
	}
	if u.LevelID != nil {
		node.LevelName = names[*u.LevelID]
		node.LevelOrder = orders[*u.LevelID]
	}
	return node
}
