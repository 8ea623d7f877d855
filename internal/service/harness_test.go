package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/cache/local"
	"github.com/alanyoungcy/agentmarket/internal/crypto"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/alanyoungcy/agentmarket/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeClock hands out strictly increasing timestamps one second apart.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAlerter) seen(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	ledger   domain.Ledger
	mem      *memory.Ledger
	audit    *memory.AuditStore
	bus      *local.SignalBus
	alerts   *recordingAlerter
	clock    *fakeClock
	trades   *TradeService
	resolver *ResolutionService
	prices   *PriceHistoryService
	perf     *PerformanceService
	agents   *AgentService
	markets  *MarketService
}

var (
	testKeysOnce sync.Once
	testKeys     *crypto.KeyHasher
)

func keyHasher(t *testing.T) *crypto.KeyHasher {
	t.Helper()
	testKeysOnce.Do(func() {
		var err error
		testKeys, err = crypto.NewKeyHasher("test-pepper")
		require.NoError(t, err)
	})
	return testKeys
}

func newHarness(t *testing.T, opts LedgerOptions) *harness {
	return newHarnessWith(t, memory.NewLedger(), nil, opts)
}

// newHarnessWith builds the services over ledger. mem must be the memory
// ledger behind ledger when ledger wraps it; nil means ledger is one.
func newHarnessWith(t *testing.T, ledger domain.Ledger, mem *memory.Ledger, opts LedgerOptions) *harness {
	t.Helper()
	if mem == nil {
		mem = ledger.(*memory.Ledger)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		ledger: ledger,
		mem:    mem,
		audit:  memory.NewAuditStore(),
		bus:    local.NewSignalBus(),
		alerts: &recordingAlerter{},
		clock:  newFakeClock(),
	}
	locks := local.NewLockManager()

	h.trades = NewTradeService(ledger, locks, h.bus, h.audit, h.alerts, opts, logger)
	h.trades.now = h.clock.Now
	h.resolver = NewResolutionService(ledger, locks, h.bus, h.audit, h.alerts, opts, logger)
	h.resolver.now = h.clock.Now
	h.prices = NewPriceHistoryService(ledger, h.alerts, logger)
	h.perf = NewPerformanceService(ledger, logger)
	h.perf.now = h.clock.Now
	h.agents = NewAgentService(ledger, keyHasher(t), h.audit, logger)
	h.agents.now = h.clock.Now
	h.markets = NewMarketService(ledger, decimal.Zero, h.bus, h.audit, logger)
	h.markets.now = h.clock.Now
	return h
}

func (h *harness) agent(t *testing.T, name string) domain.Agent {
	t.Helper()
	reg, err := h.agents.Register(context.Background(), name)
	require.NoError(t, err)
	return reg.Agent
}

func (h *harness) market(t *testing.T, creator domain.Agent) domain.Market {
	t.Helper()
	m, err := h.markets.Create(context.Background(), CreateMarketRequest{
		CreatorID:      creator.ID,
		Question:       "Will it rain?",
		ResolutionDate: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return m
}

func (h *harness) buy(t *testing.T, agent domain.Agent, m domain.Market, side domain.Side, amount int64) TradeOutcome {
	t.Helper()
	out, err := h.trades.ExecuteTrade(context.Background(), agent.ID, m.ID, side, decimal.NewFromInt(amount))
	require.NoError(t, err)
	return out
}

func (h *harness) balance(t *testing.T, agentID string) decimal.Decimal {
	t.Helper()
	a, err := h.ledger.Stores().Agents.Get(context.Background(), agentID)
	require.NoError(t, err)
	return a.Balance
}

func (h *harness) getMarket(t *testing.T, id string) domain.Market {
	t.Helper()
	m, err := h.ledger.Stores().Markets.Get(context.Background(), id)
	require.NoError(t, err)
	return m
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
