package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/amm"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/alanyoungcy/agentmarket/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteTradeFromDefaultPool(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LedgerOptions{})
	alice := h.agent(t, "alice")
	m := h.market(t, alice)

	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	feed, err := h.bus.Subscribe(sub, domain.ChannelTrades)
	require.NoError(t, err)

	out := h.buy(t, alice, m, domain.SideYes, 50)

	assert.True(t, amm.WithinTolerance(dec("33.3333333333"), out.SharesReceived), out.SharesReceived.String())
	assert.True(t, out.NewBalance.Equal(dec("950")))
	assert.Equal(t, "0.3077", out.NewYesPrice.Round(4).String())
	assert.Equal(t, domain.SideYes, out.Trade.Side)
	assert.True(t, amm.WithinTolerance(dec("1.5"), out.Trade.PriceAtTrade))

	stored := h.getMarket(t, m.ID)
	assert.True(t, stored.YesPool.Equal(dec("150")))
	assert.True(t, amm.WithinTolerance(dec("66.6666666667"), stored.NoPool))
	assert.EqualValues(t, 1, stored.Version)

	positions, err := h.ledger.Stores().Positions.ListByAgent(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].YesShares.Equal(out.SharesReceived))
	assert.True(t, positions[0].NoShares.IsZero())

	assert.Contains(t, string(<-feed), "trade_executed")
}

func TestExecuteTradeAccumulatesPosition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LedgerOptions{})
	alice := h.agent(t, "alice")
	m := h.market(t, alice)

	first := h.buy(t, alice, m, domain.SideNo, 10)
	second := h.buy(t, alice, m, domain.SideNo, 10)
	yes := h.buy(t, alice, m, domain.SideYes, 5)

	positions, err := h.ledger.Stores().Positions.ListByAgent(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].NoShares.Equal(first.SharesReceived.Add(second.SharesReceived)))
	assert.True(t, positions[0].YesShares.Equal(yes.SharesReceived))
	assert.True(t, h.balance(t, alice.ID).Equal(dec("975")))
}

func TestExecuteTradeRejectionsHaveNoSideEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LedgerOptions{})
	alice := h.agent(t, "alice")
	bob := h.agent(t, "bob")
	open := h.market(t, alice)
	closed := h.market(t, alice)
	h.buy(t, bob, closed, domain.SideYes, 10)
	_, err := h.resolver.ResolveMarket(ctx, alice.ID, closed.ID, domain.OutcomeNo)
	require.NoError(t, err)

	before := h.getMarket(t, open.ID)
	tradesBefore, err := h.ledger.Stores().Trades.ListAll(ctx)
	require.NoError(t, err)
	bobBefore := h.balance(t, bob.ID)

	cases := []struct {
		name    string
		agentID string
		market  string
		side    domain.Side
		amount  decimal.Decimal
		want    error
		cat     error
	}{
		{"zero amount", bob.ID, open.ID, domain.SideYes, decimal.Zero, domain.ErrInvalidAmount, domain.ErrValidation},
		{"negative amount", bob.ID, open.ID, domain.SideYes, dec("-5"), domain.ErrInvalidAmount, domain.ErrValidation},
		{"bad side", bob.ID, open.ID, domain.Side("UP"), dec("5"), domain.ErrInvalidSide, domain.ErrValidation},
		{"unknown agent", "ghost", open.ID, domain.SideYes, dec("5"), domain.ErrUnauthorized, domain.ErrUnauthorized},
		{"unknown market", bob.ID, "nope", domain.SideYes, dec("5"), domain.ErrMarketNotFound, domain.ErrNotFound},
		{"resolved market", bob.ID, closed.ID, domain.SideYes, dec("5"), domain.ErrMarketResolved, domain.ErrState},
		{"insufficient balance", bob.ID, open.ID, domain.SideNo, dec("5000"), domain.ErrInsufficientBalance, domain.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.trades.ExecuteTrade(ctx, tc.agentID, tc.market, tc.side, tc.amount)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, tc.cat)
		})
	}

	after := h.getMarket(t, open.ID)
	assert.True(t, before.YesPool.Equal(after.YesPool))
	assert.True(t, before.NoPool.Equal(after.NoPool))
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, bobBefore.Equal(h.balance(t, bob.ID)))

	tradesAfter, err := h.ledger.Stores().Trades.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, tradesAfter, len(tradesBefore))
}

func TestExecuteTradeSpendsEntireBalance(t *testing.T) {
	h := newHarness(t, LedgerOptions{})
	alice := h.agent(t, "alice")
	m := h.market(t, alice)

	out := h.buy(t, alice, m, domain.SideYes, 1000)
	assert.True(t, out.NewBalance.IsZero())

	_, err := h.trades.ExecuteTrade(context.Background(), alice.ID, m.ID, domain.SideYes, dec("0.01"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestConcurrentTradesOnOneMarketSerialize(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LedgerOptions{})
	creator := h.agent(t, "creator")
	m := h.market(t, creator)

	const traders = 16
	agents := make([]domain.Agent, traders)
	for i := range agents {
		agents[i] = h.agent(t, "trader-"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	for i, a := range agents {
		side := domain.SideYes
		if i%2 == 1 {
			side = domain.SideNo
		}
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.trades.ExecuteTrade(ctx, a.ID, m.ID, side, decimal.NewFromInt(int64(5+j)))
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	trades, err := h.ledger.Stores().Trades.ListByMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, trades, traders*3)

	// The stored pool equals the sequential application of the log, so no
	// trade computed against a stale snapshot.
	require.NoError(t, h.prices.VerifyMarket(ctx, m.ID))

	stored := h.getMarket(t, m.ID)
	assert.EqualValues(t, traders*3, stored.Version)
	assert.True(t, amm.WithinTolerance(amm.DefaultSeed().K(), amm.MarketPool(stored).K()))

	spent := decimal.Zero
	for _, tr := range trades {
		spent = spent.Add(tr.Amount)
	}
	held := decimal.Zero
	for _, a := range agents {
		held = held.Add(h.balance(t, a.ID))
	}
	assert.True(t, held.Add(spent).Equal(decimal.NewFromInt(traders*1000)))
}

func TestConcurrentTradesAcrossMarkets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LedgerOptions{})
	alice := h.agent(t, "alice")
	m1 := h.market(t, alice)
	m2 := h.market(t, alice)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, m := range []domain.Market{m1, m2} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.trades.ExecuteTrade(ctx, alice.ID, m.ID, domain.SideYes, dec("1"))
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	require.NoError(t, h.prices.VerifyMarket(ctx, m1.ID))
	require.NoError(t, h.prices.VerifyMarket(ctx, m2.ID))
	assert.True(t, h.balance(t, alice.ID).Equal(dec("980")))
}

func TestReplayFollowsExecutionOrderWhenClockStepsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LedgerOptions{})
	alice := h.agent(t, "alice")
	m := h.market(t, alice)

	// Each trade is stamped 50ms earlier than the one before, as when two
	// instances with skewed clocks share the market lock.
	var mu sync.Mutex
	stamp := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	h.trades.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		stamp = stamp.Add(-50 * time.Millisecond)
		return stamp
	}

	yes := h.buy(t, alice, m, domain.SideYes, 50)
	no := h.buy(t, alice, m, domain.SideNo, 80)
	require.True(t, no.Trade.CreatedAt.Before(yes.Trade.CreatedAt))

	require.NoError(t, h.prices.VerifyMarket(ctx, m.ID))

	points, err := h.prices.Replay(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.True(t, points[1].YesPrice.Equal(yes.NewYesPrice.Round(4)), points[1].YesPrice.String())
	assert.True(t, points[2].YesPrice.Equal(no.NewYesPrice.Round(4)), points[2].YesPrice.String())

	trades, err := h.ledger.Stores().Trades.ListByMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, yes.Trade.ID, trades[0].ID)
	assert.Equal(t, no.Trade.ID, trades[1].ID)
}

var errPositionWrite = errors.New("position write failed")

// positionFaultLedger fails every position update inside a transaction.
type positionFaultLedger struct {
	*memory.Ledger
}

func (l positionFaultLedger) InTx(ctx context.Context, fn func(domain.Stores) error) error {
	return l.Ledger.InTx(ctx, func(st domain.Stores) error {
		st.Positions = faultyPositions{st.Positions}
		return fn(st)
	})
}

type faultyPositions struct {
	domain.PositionStore
}

func (faultyPositions) AddShares(context.Context, string, string, domain.Side, decimal.Decimal, time.Time) (domain.Position, error) {
	return domain.Position{}, errPositionWrite
}

func TestExecuteTradeRollsBackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewLedger()
	h := newHarnessWith(t, positionFaultLedger{mem}, mem, LedgerOptions{})
	alice := h.agent(t, "alice")
	m := h.market(t, alice)

	_, err := h.trades.ExecuteTrade(ctx, alice.ID, m.ID, domain.SideYes, dec("50"))
	require.ErrorIs(t, err, errPositionWrite)

	after := h.getMarket(t, m.ID)
	assert.True(t, after.YesPool.Equal(m.YesPool), after.YesPool.String())
	assert.True(t, after.NoPool.Equal(m.NoPool), after.NoPool.String())
	assert.Equal(t, m.Version, after.Version)
	assert.True(t, h.balance(t, alice.ID).Equal(domain.StartingBalance))

	trades, err := h.ledger.Stores().Trades.ListByMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, trades)
	positions, err := h.ledger.Stores().Positions.ListByAgent(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, positions)
	require.NoError(t, h.prices.VerifyMarket(ctx, m.ID))
}

var errLockBackend = errors.New("lock backend unreachable")

type unreachableLocks struct{}

func (unreachableLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, errLockBackend
}

func TestExecuteTradeLockErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LedgerOptions{LockWait: 20 * time.Millisecond})
	alice := h.agent(t, "alice")
	m := h.market(t, alice)

	t.Run("held lock times out", func(t *testing.T) {
		unlock, err := h.trades.locks.Acquire(ctx, marketLockKey(m.ID), time.Second)
		require.NoError(t, err)
		defer unlock()

		_, err = h.trades.ExecuteTrade(ctx, alice.ID, m.ID, domain.SideYes, dec("5"))
		assert.ErrorIs(t, err, domain.ErrLockHeld)
	})

	t.Run("cancelled caller", func(t *testing.T) {
		unlock, err := h.trades.locks.Acquire(ctx, marketLockKey(m.ID), time.Second)
		require.NoError(t, err)
		defer unlock()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = h.trades.ExecuteTrade(cctx, alice.ID, m.ID, domain.SideYes, dec("5"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrLockHeld)
	})

	t.Run("backend failure", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		svc := NewTradeService(h.ledger, unreachableLocks{}, nil, nil, nil, LedgerOptions{}, logger)

		_, err := svc.ExecuteTrade(ctx, alice.ID, m.ID, domain.SideYes, dec("5"))
		require.ErrorIs(t, err, errLockBackend)
		assert.NotErrorIs(t, err, domain.ErrLockHeld)
	})

	assert.True(t, h.balance(t, alice.ID).Equal(domain.StartingBalance))
}
