package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affiliate-engine/internal/model"
	"affiliate-engine/internal/repository"
	"affiliate-engine/internal/service"
)

func TestPromote_AdvancesExactlyOneLevel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])
	for _, c := range h.addChildren(t, root, 3, "C") {
		h.addChildren(t, c, 3, c.Name+"-G")
	}

	record, newLevel, err := h.promoter.Promote(ctx, root.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.NotNil(t, newLevel)

	assert.Equal(t, 2, newLevel.Order)
	assert.Equal(t, h.levels[0].ID, *record.FromLevelID)
	assert.Equal(t, h.levels[1].ID, record.ToLevelID)
	assert.Equal(t, model.PromotionReasonStructure, record.Reason)
	assert.Equal(t, 3, record.Snapshot.DirectReferrals)
	assert.Equal(t, 3, record.Snapshot.ValidStructureCount)
	assert.False(t, record.Snapshot.EvaluatedAt.IsZero())

	updated, err := h.store.GetByID(ctx, root.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LevelID)
	assert.Equal(t, h.levels[1].ID, *updated.LevelID)
}

// A user whose structure would justify several promotions still climbs one
// level per call.
func TestPromote_OneStepPerCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])
	for _, c := range h.addChildren(t, root, 3, "C") {
		h.addChildren(t, c, 3, c.Name+"-G")
	}

	_, first, err := h.promoter.Promote(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Order)

	// Structure unchanged and still qualifying: a second call climbs to
	// exactly order 3, never further.
	_, second, err := h.promoter.Promote(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Order)

	history, err := h.promoter.History(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPromote_InsufficientStructure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])
	children := h.addChildren(t, root, 3, "C")
	h.addChildren(t, children[0], 3, "C1-G")
	h.addChildren(t, children[1], 1, "C2-G")
	h.addChildren(t, children[2], 3, "C3-G")

	record, newLevel, err := h.promoter.Promote(ctx, root.ID)
	require.Error(t, err)
	assert.True(t, service.IsInsufficientRequirements(err))
	assert.Nil(t, record)
	assert.Nil(t, newLevel)

	var ire *service.InsufficientRequirementsError
	require.ErrorAs(t, err, &ire)
	assert.Equal(t, []string{children[1].Name + " needs 2 more referrals"}, ire.MissingRequirements)

	// No level change and no history record from the rejected attempt.
	updated, err := h.store.GetByID(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, h.levels[0].ID, *updated.LevelID)

	history, err := h.promoter.History(ctx, root.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestForcePromote_BypassesStructureCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])

	record, newLevel, err := h.promoter.ForcePromote(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, newLevel.Order)
	assert.Equal(t, model.PromotionReasonOverride, record.Reason)
	assert.Equal(t, 0, record.Snapshot.DirectReferrals)
}

func TestForcePromote_TerminalLevel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[len(h.levels)-1])

	_, _, err := h.promoter.ForcePromote(ctx, root.ID)
	require.ErrorIs(t, err, service.ErrNoNextLevel)
}

func TestForcePromote_UnassignedUserEntersFirstLevel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.store.AddUser("newcomer", nil)
	record, newLevel, err := h.promoter.ForcePromote(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, newLevel.Order)
	assert.Nil(t, record.FromLevelID)
}

func TestPromote_AfterConcurrentPromotionUsesFreshLevel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])
	for _, c := range h.addChildren(t, root, 3, "C") {
		h.addChildren(t, c, 3, c.Name+"-G")
	}

	// Simulate a concurrent promotion committed by another process: the
	// stored level no longer matches what the first evaluation saw.
	_, err := h.store.ApplyPromotion(ctx, root.ID, &h.levels[0].ID, h.levels[1].ID, model.PromotionReasonOverride, model.EvaluationSnapshot{})
	require.NoError(t, err)

	_, newLevel, err := h.promoter.Promote(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, newLevel.Order)
}

func TestApplyPromotion_StaleLevelRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])

	stale := h.levels[2].ID
	_, err := h.store.ApplyPromotion(ctx, root.ID, &stale, h.levels[3].ID, model.PromotionReasonOverride, model.EvaluationSnapshot{})
	require.ErrorIs(t, err, repository.ErrStaleLevel)
}
