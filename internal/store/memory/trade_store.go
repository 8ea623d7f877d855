package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/shopspring/decimal"
)

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	t *txn
}

// Insert appends a trade and assigns its sequence number.
func (s *TradeStore) Insert(_ context.Context, t *domain.Trade) error {
	st, done := s.t.write()
	defer done()

	for _, existing := range st.trades {
		if existing.ID == t.ID {
			return fmt.Errorf("memory: insert trade %s: %w", t.ID, domain.ErrAlreadyExists)
		}
	}
	st.seq++
	t.Seq = st.seq
	st.trades = append(st.trades, *t)
	return nil
}

// ListByMarket returns the market's trades in execution order.
func (s *TradeStore) ListByMarket(_ context.Context, marketID string) ([]domain.Trade, error) {
	return s.filter(func(t domain.Trade) bool { return t.MarketID == marketID }), nil
}

// ListByAgent returns the agent's trades in execution order.
func (s *TradeStore) ListByAgent(_ context.Context, agentID string) ([]domain.Trade, error) {
	return s.filter(func(t domain.Trade) bool { return t.AgentID == agentID }), nil
}

// ListAll returns the whole trade log.
func (s *TradeStore) ListAll(_ context.Context) ([]domain.Trade, error) {
	return s.filter(func(domain.Trade) bool { return true }), nil
}

// ListBetween returns trades with from <= created_at < to.
func (s *TradeStore) ListBetween(_ context.Context, from, to time.Time) ([]domain.Trade, error) {
	return s.filter(func(t domain.Trade) bool {
		return !t.CreatedAt.Before(from) && t.CreatedAt.Before(to)
	}), nil
}

func (s *TradeStore) filter(keep func(domain.Trade) bool) []domain.Trade {
	st, done := s.t.read()
	defer done()

	var out []domain.Trade
	for _, t := range st.trades {
		if keep(t) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, compareTrades)
	return out
}

// compareTrades orders by seq. Timestamps come from the writer's clock and
// may step backwards.
func compareTrades(a, b domain.Trade) int {
	return cmp.Compare(a.Seq, b.Seq)
}

// ResolutionStore implements domain.ResolutionStore.
type ResolutionStore struct {
	t *txn
}

// Insert records the resolution of a market; a market resolves once.
func (s *ResolutionStore) Insert(_ context.Context, ev domain.ResolutionEvent) error {
	st, done := s.t.write()
	defer done()

	if _, ok := st.resolutions[ev.MarketID]; ok {
		return fmt.Errorf("memory: insert resolution %s: %w", ev.MarketID, domain.ErrAlreadyResolved)
	}
	st.resolutions[ev.MarketID] = ev
	return nil
}

// Get returns the resolution of a market.
func (s *ResolutionStore) Get(_ context.Context, marketID string) (domain.ResolutionEvent, error) {
	st, done := s.t.read()
	defer done()

	ev, ok := st.resolutions[marketID]
	if !ok {
		return domain.ResolutionEvent{}, fmt.Errorf("memory: get resolution %s: %w", marketID, domain.ErrNotFound)
	}
	return ev, nil
}

// List returns every resolution oldest first.
func (s *ResolutionStore) List(ctx context.Context) ([]domain.ResolutionEvent, error) {
	return s.filter(func(domain.ResolutionEvent) bool { return true }), nil
}

// ListBetween returns resolutions with from <= resolved_at < to.
func (s *ResolutionStore) ListBetween(_ context.Context, from, to time.Time) ([]domain.ResolutionEvent, error) {
	return s.filter(func(ev domain.ResolutionEvent) bool {
		return !ev.ResolvedAt.Before(from) && ev.ResolvedAt.Before(to)
	}), nil
}

func (s *ResolutionStore) filter(keep func(domain.ResolutionEvent) bool) []domain.ResolutionEvent {
	st, done := s.t.read()
	defer done()

	var out []domain.ResolutionEvent
	for _, ev := range st.resolutions {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	slices.SortFunc(out, func(a, b domain.ResolutionEvent) int {
		if c := a.ResolvedAt.Compare(b.ResolvedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.MarketID, b.MarketID)
	})
	return out
}

// PayoutStore implements domain.PayoutStore.
type PayoutStore struct {
	t *txn
}

// Record writes the marker unless one exists.
func (s *PayoutStore) Record(_ context.Context, p domain.Payout) (bool, error) {
	st, done := s.t.write()
	defer done()

	key := payoutKey{marketID: p.MarketID, positionID: p.PositionID}
	if _, ok := st.payouts[key]; ok {
		return false, nil
	}
	st.payouts[key] = p
	return true, nil
}

// SumByMarket totals the payouts of a market.
func (s *PayoutStore) SumByMarket(_ context.Context, marketID string) (decimal.Decimal, error) {
	st, done := s.t.read()
	defer done()

	total := decimal.Zero
	for key, p := range st.payouts {
		if key.marketID == marketID {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

// ListPendingMarkets returns resolved markets with unpaid positions.
func (s *PayoutStore) ListPendingMarkets(_ context.Context) ([]string, error) {
	st, done := s.t.read()
	defer done()

	pending := make(map[string]struct{})
	for _, p := range st.positions {
		m, ok := st.markets[p.MarketID]
		if !ok || !m.Resolved {
			continue
		}
		if _, paid := st.payouts[payoutKey{marketID: p.MarketID, positionID: p.ID}]; !paid {
			pending[p.MarketID] = struct{}{}
		}
	}
	out := make([]string, 0, len(pending))
	for id := range pending {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

var (
	_ domain.TradeStore      = (*TradeStore)(nil)
	_ domain.ResolutionStore = (*ResolutionStore)(nil)
	_ domain.PayoutStore     = (*PayoutStore)(nil)
)
