package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

// setupTestDB starts a PostgreSQL container and applies the embedded
// migrations.
func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("agentmarket"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	client, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 8})
	require.NoError(t, err, "failed to connect")
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	// Applying twice is a no-op.
	require.NoError(t, client.RunMigrations(ctx))
	return client
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedAgent(t *testing.T, st domain.Stores, name string) domain.Agent {
	t.Helper()
	a := domain.Agent{
		ID:           uuid.NewString(),
		Name:         name,
		Balance:      domain.StartingBalance,
		APIKeyDigest: "digest-" + name,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, st.Agents.Create(context.Background(), a))
	return a
}

func seedMarket(t *testing.T, st domain.Stores, creator domain.Agent) domain.Market {
	t.Helper()
	m := domain.Market{
		ID:             uuid.NewString(),
		Question:       "Will it rain?",
		CreatorID:      creator.ID,
		YesPool:        dec("100"),
		NoPool:         dec("100"),
		SeedYesPool:    dec("100"),
		SeedNoPool:     dec("100"),
		ResolutionDate: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, st.Markets.Create(context.Background(), m))
	return m
}

func TestLedger(t *testing.T) {
	client := setupTestDB(t)
	ledger := client.Ledger()
	st := ledger.Stores()
	ctx := context.Background()

	t.Run("agents", func(t *testing.T) {
		a := seedAgent(t, st, "alice")

		got, err := st.Agents.GetByKeyDigest(ctx, "digest-alice")
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.True(t, got.Balance.Equal(dec("1000")))

		dup := a
		dup.ID = uuid.NewString()
		dup.APIKeyDigest = "other"
		assert.ErrorIs(t, st.Agents.Create(ctx, dup), domain.ErrAlreadyExists)

		_, err = st.Agents.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("balance never negative", func(t *testing.T) {
		a := seedAgent(t, st, "bob")

		bal, err := st.Agents.AdjustBalance(ctx, a.ID, dec("-999.99"))
		require.NoError(t, err)
		assert.True(t, bal.Equal(dec("0.01")))

		_, err = st.Agents.AdjustBalance(ctx, a.ID, dec("-0.02"))
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

		_, err = st.Agents.AdjustBalance(ctx, "missing", dec("1"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("markets keep full precision", func(t *testing.T) {
		a := seedAgent(t, st, "carol")
		m := seedMarket(t, st, a)

		no := dec("10000").Div(dec("150"))
		v, err := st.Markets.UpdatePool(ctx, m.ID, 0, dec("150"), no)
		require.NoError(t, err)
		assert.EqualValues(t, 1, v)

		got, err := st.Markets.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, got.NoPool.Equal(no), got.NoPool.String())
		assert.True(t, got.SeedYesPool.Equal(dec("100")))
		assert.Nil(t, got.Outcome)

		_, err = st.Markets.UpdatePool(ctx, m.ID, 0, dec("1"), dec("1"))
		assert.ErrorIs(t, err, domain.ErrStalePool)
		assert.ErrorIs(t, err, domain.ErrConsistency)

		open, err := st.Markets.ListUnresolved(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, open)
	})

	t.Run("transactions roll back", func(t *testing.T) {
		a := seedAgent(t, st, "dave")
		m := seedMarket(t, st, a)
		boom := errors.New("boom")

		err := ledger.InTx(ctx, func(tx domain.Stores) error {
			if _, err := tx.Markets.UpdatePool(ctx, m.ID, 0, dec("150"), dec("66")); err != nil {
				return err
			}
			if _, err := tx.Agents.AdjustBalance(ctx, a.ID, dec("-50")); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := st.Markets.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Zero(t, got.Version)
		agent, err := st.Agents.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, agent.Balance.Equal(dec("1000")))
	})

	t.Run("positions upsert", func(t *testing.T) {
		a := seedAgent(t, st, "erin")
		m := seedMarket(t, st, a)
		at := time.Now().UTC()

		p1, err := st.Positions.AddShares(ctx, a.ID, m.ID, domain.SideYes, dec("10.5"), at)
		require.NoError(t, err)
		p2, err := st.Positions.AddShares(ctx, a.ID, m.ID, domain.SideNo, dec("2"), at.Add(time.Second))
		require.NoError(t, err)
		p3, err := st.Positions.AddShares(ctx, a.ID, m.ID, domain.SideYes, dec("0.5"), at.Add(2*time.Second))
		require.NoError(t, err)

		assert.Equal(t, p1.ID, p3.ID)
		assert.Equal(t, p1.ID, p2.ID)
		assert.True(t, p3.YesShares.Equal(dec("11")))
		assert.True(t, p3.NoShares.Equal(dec("2")))
	})

	t.Run("trades keep execution order", func(t *testing.T) {
		a := seedAgent(t, st, "frank")
		m := seedMarket(t, st, a)
		at := time.Now().UTC().Truncate(time.Microsecond)

		// Each insert carries an earlier timestamp than the one before.
		var seqs []int64
		for i := range 3 {
			tr := &domain.Trade{
				ID: uuid.NewString(), AgentID: a.ID, MarketID: m.ID, Side: domain.SideNo,
				Amount: dec("1"), SharesReceived: dec("0.99"), PriceAtTrade: dec("1.0101"),
				CreatedAt: at.Add(-time.Duration(i) * time.Millisecond),
			}
			require.NoError(t, st.Trades.Insert(ctx, tr))
			seqs = append(seqs, tr.Seq)
		}

		trades, err := st.Trades.ListByMarket(ctx, m.ID)
		require.NoError(t, err)
		require.Len(t, trades, 3)
		for i, tr := range trades {
			assert.Equal(t, seqs[i], tr.Seq)
			assert.Equal(t, domain.SideNo, tr.Side)
		}

		between, err := st.Trades.ListBetween(ctx, at.Add(-time.Second), at.Add(time.Microsecond))
		require.NoError(t, err)
		assert.Len(t, between, 3)
	})

	t.Run("resolution and payouts", func(t *testing.T) {
		a := seedAgent(t, st, "grace")
		b := seedAgent(t, st, "heidi")
		m := seedMarket(t, st, a)
		at := time.Now().UTC()

		pa, err := st.Positions.AddShares(ctx, a.ID, m.ID, domain.SideYes, dec("5"), at)
		require.NoError(t, err)
		_, err = st.Positions.AddShares(ctx, b.ID, m.ID, domain.SideNo, dec("7"), at)
		require.NoError(t, err)

		require.NoError(t, st.Markets.MarkResolved(ctx, m.ID, domain.OutcomeYes, at))
		assert.ErrorIs(t, st.Markets.MarkResolved(ctx, m.ID, domain.OutcomeNo, at), domain.ErrAlreadyResolved)
		require.NoError(t, st.Resolutions.Insert(ctx, domain.ResolutionEvent{MarketID: m.ID, Outcome: domain.OutcomeYes, ResolvedAt: at}))
		assert.ErrorIs(t, st.Resolutions.Insert(ctx, domain.ResolutionEvent{MarketID: m.ID, Outcome: domain.OutcomeYes, ResolvedAt: at}), domain.ErrAlreadyResolved)

		got, err := st.Markets.Get(ctx, m.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Outcome)
		assert.Equal(t, domain.OutcomeYes, *got.Outcome)

		pending, err := st.Payouts.ListPendingMarkets(ctx)
		require.NoError(t, err)
		assert.Contains(t, pending, m.ID)

		unpaid, err := st.Positions.ListUnpaid(ctx, m.ID, 1)
		require.NoError(t, err)
		require.Len(t, unpaid, 1)

		first, err := st.Payouts.Record(ctx, domain.Payout{MarketID: m.ID, PositionID: pa.ID, AgentID: a.ID, Amount: dec("5"), PaidAt: at})
		require.NoError(t, err)
		assert.True(t, first)
		again, err := st.Payouts.Record(ctx, domain.Payout{MarketID: m.ID, PositionID: pa.ID, AgentID: a.ID, Amount: dec("5"), PaidAt: at})
		require.NoError(t, err)
		assert.False(t, again)

		unpaid, err = st.Positions.ListUnpaid(ctx, m.ID, 10)
		require.NoError(t, err)
		require.Len(t, unpaid, 1)
		assert.Equal(t, b.ID, unpaid[0].AgentID)

		total, err := st.Payouts.SumByMarket(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, total.Equal(dec("5")))
	})

	t.Run("row lock serializes pool writers", func(t *testing.T) {
		a := seedAgent(t, st, "ivan")
		m := seedMarket(t, st, a)

		const writers = 8
		var wg sync.WaitGroup
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := ledger.InTx(ctx, func(tx domain.Stores) error {
					cur, err := tx.Markets.GetForUpdate(ctx, m.ID)
					if err != nil {
						return err
					}
					_, err = tx.Markets.UpdatePool(ctx, m.ID, cur.Version, cur.YesPool.Add(dec("1")), cur.NoPool)
					return err
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := st.Markets.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.EqualValues(t, writers, got.Version)
		assert.True(t, got.YesPool.Equal(dec("108")))
	})

	t.Run("audit log", func(t *testing.T) {
		audit := client.AuditStore()
		require.NoError(t, audit.Log(ctx, "trade_executed", map[string]any{"amount": "5"}))
		entries, err := audit.List(ctx, domain.ListOpts{Limit: 1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "trade_executed", entries[0].Event)
		assert.Equal(t, "5", entries[0].Detail["amount"])
	})
}
