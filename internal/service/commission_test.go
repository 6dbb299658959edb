package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affiliate-engine/internal/model"
	"affiliate-engine/internal/repository"
)

func TestDistribute_TwoLevelChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// grandparent (rate 0.15) <- parent (rate 0.20) <- buyer
	grandparent := h.store.AddUser("P2", h.levels[0])
	parent := h.store.AddUser("P1", h.levels[1])
	buyer := h.store.AddUser("B", h.levels[0])

	_, err := h.store.RecordReferral(ctx, grandparent.ID, parent.ID)
	require.NoError(t, err)
	_, err = h.store.RecordReferral(ctx, parent.ID, buyer.ID)
	require.NoError(t, err)

	base := decimal.NewFromInt(100000)
	dist, err := h.commission.Distribute(ctx, buyer.ID, base, "pay-1")
	require.NoError(t, err)

	require.Len(t, dist.Payouts, 2)

	first := dist.Payouts[0]
	assert.Equal(t, parent.ID, first.BeneficiaryID)
	assert.Equal(t, 1, first.Depth)
	assert.True(t, first.Amount.Equal(decimal.NewFromInt(20000)), "got %s", first.Amount)
	assert.True(t, first.RateApplied.Equal(decimal.RequireFromString("0.20")))

	second := dist.Payouts[1]
	assert.Equal(t, grandparent.ID, second.BeneficiaryID)
	assert.Equal(t, 2, second.Depth)
	assert.True(t, second.Amount.Equal(decimal.NewFromInt(15000)), "got %s", second.Amount)

	assert.True(t, dist.TotalCommissions.Equal(decimal.NewFromInt(35000)), "got %s", dist.TotalCommissions)

	sum, err := h.store.SumByPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(35000)))
}

func TestDistribute_RepeatedPaymentAccruesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	parent := h.store.AddUser("P1", h.levels[1])
	buyer := h.store.AddUser("B", h.levels[0])
	_, err := h.store.RecordReferral(ctx, parent.ID, buyer.ID)
	require.NoError(t, err)

	base := decimal.NewFromInt(50000)
	_, err = h.commission.Distribute(ctx, buyer.ID, base, "pay-dup")
	require.NoError(t, err)
	_, err = h.commission.Distribute(ctx, buyer.ID, base, "pay-dup")
	require.NoError(t, err)

	payouts, err := h.store.ListByPayment(ctx, "pay-dup")
	require.NoError(t, err)
	assert.Len(t, payouts, 1)

	earner, err := h.store.GetByID(ctx, parent.ID)
	require.NoError(t, err)
	assert.True(t, earner.TotalEarnings.Equal(decimal.NewFromInt(10000)), "got %s", earner.TotalEarnings)
}

func TestDistribute_NoReferrer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	buyer := h.store.AddUser("lone", h.levels[0])
	dist, err := h.commission.Distribute(ctx, buyer.ID, decimal.NewFromInt(100000), "pay-2")
	require.NoError(t, err)
	assert.Empty(t, dist.Payouts)
	assert.True(t, dist.TotalCommissions.IsZero())
}

func TestDistribute_DepthBound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Chain of five ancestors; only the nearest three participate.
	chain := make([]*model.User, 6)
	for i := range chain {
		chain[i] = h.store.AddUser("U"+string(rune('0'+i)), h.levels[0])
		if i > 0 {
			_, err := h.store.RecordReferral(ctx, chain[i-1].ID, chain[i].ID)
			require.NoError(t, err)
		}
	}

	dist, err := h.commission.Distribute(ctx, chain[5].ID, decimal.NewFromInt(10000), "pay-3")
	require.NoError(t, err)
	require.Len(t, dist.Payouts, 3)
	assert.Equal(t, chain[4].ID, dist.Payouts[0].BeneficiaryID)
	assert.Equal(t, chain[2].ID, dist.Payouts[2].BeneficiaryID)
}

func TestDistribute_AncestorWithoutLevelEarnsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// The unassigned ancestor consumes a hop but gets no payout.
	top := h.store.AddUser("top", h.levels[0])
	mid := h.store.AddUser("mid", nil)
	buyer := h.store.AddUser("B", h.levels[0])
	_, err := h.store.RecordReferral(ctx, top.ID, mid.ID)
	require.NoError(t, err)
	_, err = h.store.RecordReferral(ctx, mid.ID, buyer.ID)
	require.NoError(t, err)

	dist, err := h.commission.Distribute(ctx, buyer.ID, decimal.NewFromInt(10000), "pay-4")
	require.NoError(t, err)
	require.Len(t, dist.Payouts, 1)
	assert.Equal(t, top.ID, dist.Payouts[0].BeneficiaryID)
	assert.Equal(t, 2, dist.Payouts[0].Depth)
}

func TestDistribute_UnknownBuyer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ghost := h.store.AddUser("ghost", nil)
	_, err := h.commission.Distribute(ctx, ghost.ID, decimal.NewFromInt(1), "pay-5")
	require.NoError(t, err)

	_, err = h.commission.Distribute(ctx, uuid.New(), decimal.NewFromInt(1), "pay-6")
	require.ErrorIs(t, err, repository.ErrUserNotFound)
}
