package service_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affiliate-engine/internal/model"
	"affiliate-engine/internal/pkg/lock"
	"affiliate-engine/internal/service"
	"affiliate-engine/internal/store/memory"
)

// harness bundles the memory store with services wired the way cmd/engine
// wires the real repositories.
type harness struct {
	store      *memory.Store
	levels     []*model.Level
	evaluator  *service.EvaluationService
	promoter   *service.PromotionService
	registrar  *service.RegistrationService
	commission *service.CommissionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := memory.NewStore()

	rates := []string{"0.15", "0.20", "0.25", "0.30"}
	var levels []*model.Level
	for i, rate := range rates {
		levels = append(levels, s.AddLevel(&model.Level{
			Name:               []string{"Visionario", "Mentor", "Guia", "Master"}[i],
			Order:              i + 1,
			CommissionRate:     decimal.RequireFromString(rate),
			MinDirectReferrals: 3,
		}))
	}

	evaluator := service.NewEvaluationService(s, s.Levels(), s)
	promoter := service.NewPromotionService(s, s.Levels(), s, evaluator, lock.NewUserLock())
	registrar := service.NewRegistrationService(s, evaluator, promoter)
	commission := service.NewCommissionService(s, s.Levels(), s, s, 3)

	return &harness{
		store:      s,
		levels:     levels,
		evaluator:  evaluator,
		promoter:   promoter,
		registrar:  registrar,
		commission: commission,
	}
}

// addChildren creates n users referred by parent and returns them.
func (h *harness) addChildren(t *testing.T, parent *model.User, n int, namePrefix string) []*model.User {
	t.Helper()
	ctx := context.Background()
	var children []*model.User
	for i := 0; i < n; i++ {
		child := h.store.AddUser(namePrefix+string(rune('1'+i)), h.levels[0])
		_, err := h.store.RecordReferral(ctx, parent.ID, child.ID)
		require.NoError(t, err)
		children = append(children, child)
	}
	return children
}

func TestEvaluate_FullStructureQualifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])
	for _, c := range h.addChildren(t, root, 3, "C") {
		h.addChildren(t, c, 3, c.Name+"-G")
	}

	eval, err := h.evaluator.Evaluate(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, eval.CanPromote)
	assert.Equal(t, 3, eval.DirectReferrals)
	assert.Equal(t, 3, eval.ValidSecondLevelReferrals)
	assert.Empty(t, eval.MissingRequirements)
	assert.Equal(t, 1, eval.CurrentLevelOrder)
	assert.Equal(t, 2, eval.NextLevelOrder)
}

func TestEvaluate_BranchDeficitReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])
	children := h.addChildren(t, root, 3, "C")
	h.addChildren(t, children[0], 3, "C1-G")
	h.addChildren(t, children[1], 2, "C2-G") // one short
	h.addChildren(t, children[2], 3, "C3-G")

	eval, err := h.evaluator.Evaluate(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, eval.CanPromote)
	assert.Equal(t, 2, eval.ValidSecondLevelReferrals)
	require.Len(t, eval.MissingRequirements, 1)
	assert.Equal(t, children[1].Name+" needs 1 more referrals", eval.MissingRequirements[0])
}

func TestEvaluate_NotEnoughDirectReferrals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])
	h.addChildren(t, root, 2, "C")

	eval, err := h.evaluator.Evaluate(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, eval.CanPromote)
	assert.Equal(t, 2, eval.DirectReferrals)
	assert.Equal(t, 0, eval.ValidSecondLevelReferrals)
	require.Len(t, eval.MissingRequirements, 1)
	assert.Equal(t, "need 1 more direct referrals", eval.MissingRequirements[0])
}

// A fourth direct referral is never examined, no matter how deep its own
// subtree grows.
func TestEvaluate_FourthBranchNeverCounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])
	children := h.addChildren(t, root, 3, "C")
	h.addChildren(t, children[0], 3, "C1-G")
	h.addChildren(t, children[1], 2, "C2-G")
	h.addChildren(t, children[2], 3, "C3-G")

	before, err := h.evaluator.Evaluate(ctx, root.ID)
	require.NoError(t, err)

	// Fully developed fourth branch.
	fourth := h.addChildren(t, root, 1, "C4")[0]
	h.addChildren(t, fourth, 3, "C4-G")

	after, err := h.evaluator.Evaluate(ctx, root.ID)
	require.NoError(t, err)

	assert.Equal(t, before.CanPromote, after.CanPromote)
	assert.Equal(t, before.ValidSecondLevelReferrals, after.ValidSecondLevelReferrals)
	assert.Equal(t, before.MissingRequirements, after.MissingRequirements)
	assert.Equal(t, 4, after.DirectReferrals)
}

func TestEvaluate_InactiveChildrenIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[0])
	children := h.addChildren(t, root, 3, "C")
	for _, c := range children {
		h.addChildren(t, c, 3, c.Name+"-G")
	}
	h.store.SetActive(children[0].ID, false)

	eval, err := h.evaluator.Evaluate(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, eval.CanPromote)
	assert.Equal(t, 2, eval.DirectReferrals)
}

func TestEvaluate_TerminalLevel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root := h.store.AddUser("R", h.levels[len(h.levels)-1])
	for _, c := range h.addChildren(t, root, 3, "C") {
		h.addChildren(t, c, 3, c.Name+"-G")
	}

	eval, err := h.evaluator.Evaluate(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, eval.CanPromote)
	assert.Equal(t, []string{"highest level reached"}, eval.MissingRequirements)
}
