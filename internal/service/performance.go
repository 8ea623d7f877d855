package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/amm"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// BalancePoint is an agent's balance at one moment, rounded to cents.
type BalancePoint struct {
	Timestamp time.Time
	Balance   decimal.Decimal
}

// AgentPerformance is an agent's reconstructed balance history.
type AgentPerformance struct {
	AgentID        string
	AgentName      string
	CurrentBalance decimal.Decimal
	Points         []BalancePoint
}

// PerformanceService rebuilds balance histories from the trade log,
// resolution events and current pools.
type PerformanceService struct {
	stores domain.Stores
	logger *slog.Logger
	now    func() time.Time
}

// NewPerformanceService creates a PerformanceService.
func NewPerformanceService(ledger domain.Ledger, logger *slog.Logger) *PerformanceService {
	return &PerformanceService{
		stores: ledger.Stores(),
		logger: logger.With(slog.String("component", "performance_service")),
		now:    nowUTC,
	}
}

// ledgerSnapshot is the shared input of every reconstruction.
type ledgerSnapshot struct {
	resolutions map[string]domain.ResolutionEvent
	open        map[string]domain.Market
}

// Reconstruct returns the balance history of one agent.
func (s *PerformanceService) Reconstruct(ctx context.Context, agentID string) (AgentPerformance, error) {
	agent, err := s.stores.Agents.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return AgentPerformance{}, fmt.Errorf("performance_service: %s: %w", agentID, domain.ErrAgentNotFound)
		}
		return AgentPerformance{}, fmt.Errorf("performance_service: load agent: %w", err)
	}

	var (
		trades    []domain.Trade
		positions []domain.Position
		snap      ledgerSnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		trades, err = s.stores.Trades.ListByAgent(gctx, agentID)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = s.stores.Positions.ListByAgent(gctx, agentID)
		return err
	})
	g.Go(func() error {
		var err error
		snap, err = s.snapshot(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return AgentPerformance{}, fmt.Errorf("performance_service: reconstruct %s: %w", agentID, err)
	}

	return buildPerformance(agent, trades, positions, snap, s.now()), nil
}

// ReconstructAll returns every agent's history in registration order. The
// ledger is read with a fixed number of bulk queries regardless of how many
// agents exist.
func (s *PerformanceService) ReconstructAll(ctx context.Context) ([]AgentPerformance, error) {
	var (
		agents    []domain.Agent
		trades    []domain.Trade
		positions []domain.Position
		snap      ledgerSnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agents, err = s.stores.Agents.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		trades, err = s.stores.Trades.ListAll(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = s.stores.Positions.ListAll(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap, err = s.snapshot(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("performance_service: reconstruct all: %w", err)
	}

	tradesByAgent := make(map[string][]domain.Trade)
	for _, t := range trades {
		tradesByAgent[t.AgentID] = append(tradesByAgent[t.AgentID], t)
	}
	positionsByAgent := make(map[string][]domain.Position)
	for _, p := range positions {
		positionsByAgent[p.AgentID] = append(positionsByAgent[p.AgentID], p)
	}

	now := s.now()
	out := make([]AgentPerformance, 0, len(agents))
	for _, a := range agents {
		out = append(out, buildPerformance(a, tradesByAgent[a.ID], positionsByAgent[a.ID], snap, now))
	}
	return out, nil
}

func (s *PerformanceService) snapshot(ctx context.Context) (ledgerSnapshot, error) {
	resolutions, err := s.stores.Resolutions.List(ctx)
	if err != nil {
		return ledgerSnapshot{}, fmt.Errorf("list resolutions: %w", err)
	}
	open, err := s.stores.Markets.ListUnresolved(ctx)
	if err != nil {
		return ledgerSnapshot{}, fmt.Errorf("list open markets: %w", err)
	}

	snap := ledgerSnapshot{
		resolutions: make(map[string]domain.ResolutionEvent, len(resolutions)),
		open:        make(map[string]domain.Market, len(open)),
	}
	for _, r := range resolutions {
		snap.resolutions[r.MarketID] = r
	}
	for _, m := range open {
		snap.open[m.ID] = m
	}
	return snap, nil
}

type balanceDelta struct {
	at    time.Time
	delta decimal.Decimal
}

// buildPerformance folds trades and payouts into a balance series starting at
// the registration balance. Trades are listed before payouts so a stable sort
// keeps a trade ahead of a payout that shares its timestamp.
func buildPerformance(agent domain.Agent, trades []domain.Trade, positions []domain.Position, snap ledgerSnapshot, now time.Time) AgentPerformance {
	timeline := make([]balanceDelta, 0, len(trades)+len(positions))
	for _, t := range trades {
		timeline = append(timeline, balanceDelta{at: t.CreatedAt, delta: t.Amount.Neg()})
	}
	for _, p := range positions {
		res, ok := snap.resolutions[p.MarketID]
		if !ok {
			continue
		}
		timeline = append(timeline, balanceDelta{at: res.ResolvedAt, delta: p.WinningShares(res.Outcome)})
	}
	slices.SortStableFunc(timeline, func(a, b balanceDelta) int {
		return a.at.Compare(b.at)
	})

	balance := domain.StartingBalance
	points := make([]BalancePoint, 0, len(timeline)+2)
	points = append(points, BalancePoint{Timestamp: agent.CreatedAt, Balance: balance.Round(2)})
	for _, ev := range timeline {
		balance = balance.Add(ev.delta)
		points = append(points, BalancePoint{Timestamp: ev.at, Balance: balance.Round(2)})
	}

	unrealized := decimal.Zero
	for _, p := range positions {
		m, ok := snap.open[p.MarketID]
		if !ok {
			continue
		}
		pool := amm.MarketPool(m)
		if pool.Validate() != nil {
			continue
		}
		unrealized = unrealized.
			Add(p.YesShares.Mul(amm.YesPrice(pool))).
			Add(p.NoShares.Mul(amm.NoPrice(pool)))
	}
	if unrealized.IsPositive() {
		points = append(points, BalancePoint{Timestamp: now, Balance: balance.Add(unrealized).Round(2)})
	}

	return AgentPerformance{
		AgentID:        agent.ID,
		AgentName:      agent.Name,
		CurrentBalance: agent.Balance,
		Points:         points,
	}
}
