package service

import (
	"context"
	"testing"

	"github.com/alanyoungcy/agentmarket/internal/amm"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayMatchesExecutedPrices(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LedgerOptions{})
	alice := h.agent(t, "alice")
	bob := h.agent(t, "bob")
	m := h.market(t, alice)

	outs := []TradeOutcome{
		h.buy(t, bob, m, domain.SideYes, 50),
		h.buy(t, alice, m, domain.SideNo, 20),
		h.buy(t, bob, m, domain.SideNo, 5),
	}

	points, err := h.prices.Replay(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, points, len(outs)+1)

	assert.True(t, points[0].YesPrice.Equal(dec("0.5")))
	assert.Equal(t, m.CreatedAt, points[0].Timestamp)
	assert.Equal(t, "0.3077", points[1].YesPrice.String())
	for i, out := range outs {
		assert.True(t, points[i+1].YesPrice.Equal(out.NewYesPrice.Round(4)), "point %d", i+1)
		assert.Equal(t, out.Trade.CreatedAt, points[i+1].Timestamp)
	}

	require.NoError(t, h.prices.VerifyMarket(ctx, m.ID))
}

func TestReplayWithoutTrades(t *testing.T) {
	h := newHarness(t, LedgerOptions{})
	alice := h.agent(t, "alice")
	m := h.market(t, alice)

	points, err := h.prices.Replay(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].YesPrice.Equal(dec("0.5")))
}

func TestReplayStartsFromSeedPrice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LedgerOptions{})
	alice := h.agent(t, "alice")
	seed := dec("0.3")
	m, err := h.markets.Create(ctx, CreateMarketRequest{
		CreatorID:      alice.ID,
		Question:       "Will the launch slip?",
		ResolutionDate: h.clock.Now().AddDate(1, 0, 0),
		SeedYesPrice:   &seed,
	})
	require.NoError(t, err)
	out := h.buy(t, alice, m, domain.SideNo, 15)

	points, err := h.prices.Replay(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].YesPrice.Equal(dec("0.3")))
	assert.True(t, points[1].YesPrice.Equal(out.NewYesPrice.Round(4)))
	require.NoError(t, h.prices.VerifyMarket(ctx, m.ID))
}

func TestReplayUnknownMarket(t *testing.T) {
	h := newHarness(t, LedgerOptions{})
	_, err := h.prices.Replay(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestVerifyMarketDetectsDrift(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LedgerOptions{})
	alice := h.agent(t, "alice")
	m := h.market(t, alice)
	h.buy(t, alice, m, domain.SideYes, 10)

	// Write reserves that no sequence of logged trades produces.
	stored := h.getMarket(t, m.ID)
	_, err := h.mem.Stores().Markets.UpdatePool(ctx, m.ID, stored.Version, stored.YesPool.Add(dec("7")), stored.NoPool)
	require.NoError(t, err)

	err = h.prices.VerifyMarket(ctx, m.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPoolInvariant)
	assert.ErrorIs(t, err, domain.ErrConsistency)
	assert.True(t, h.alerts.seen("consistency_error"))
}

func TestReplayHelperFallsBackToDefaultSeed(t *testing.T) {
	m := domain.Market{ID: "legacy"}
	points, final, err := replay(m, []domain.Trade{{ID: "t1", Side: domain.SideYes, Amount: dec("50")}})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].YesPrice.Equal(dec("0.5")))
	assert.True(t, final.Yes.Equal(dec("150")))
	assert.True(t, amm.WithinTolerance(amm.DefaultSeed().K(), final.K()))
}
