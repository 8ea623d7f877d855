package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	t *txn
}

// AddShares upserts the (agent, market) position.
func (s *PositionStore) AddShares(_ context.Context, agentID, marketID string, side domain.Side, shares decimal.Decimal, at time.Time) (domain.Position, error) {
	if !side.Valid() {
		return domain.Position{}, fmt.Errorf("memory: add shares: %w", domain.ErrInvalidSide)
	}

	st, done := s.t.write()
	defer done()

	key := positionKey{agentID: agentID, marketID: marketID}
	var p domain.Position
	if id, ok := st.positionIdx[key]; ok {
		p = st.positions[id]
	} else {
		p = domain.Position{
			ID:        uuid.NewString(),
			AgentID:   agentID,
			MarketID:  marketID,
			YesShares: decimal.Zero,
			NoShares:  decimal.Zero,
			CreatedAt: at,
		}
		st.positionIdx[key] = p.ID
	}

	if side == domain.SideYes {
		p.YesShares = p.YesShares.Add(shares)
	} else {
		p.NoShares = p.NoShares.Add(shares)
	}
	p.UpdatedAt = at
	st.positions[p.ID] = p
	return p, nil
}

// ListByAgent returns the agent's positions oldest first.
func (s *PositionStore) ListByAgent(_ context.Context, agentID string) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool { return p.AgentID == agentID }), nil
}

// ListByMarket returns the market's positions oldest first.
func (s *PositionStore) ListByMarket(_ context.Context, marketID string) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool { return p.MarketID == marketID }), nil
}

// ListAll returns every position.
func (s *PositionStore) ListAll(_ context.Context) ([]domain.Position, error) {
	return s.filter(func(domain.Position) bool { return true }), nil
}

// ListUnpaid returns positions of the market that have no payout marker.
func (s *PositionStore) ListUnpaid(_ context.Context, marketID string, limit int) ([]domain.Position, error) {
	st, done := s.t.read()
	defer done()

	var out []domain.Position
	for _, p := range st.positions {
		if p.MarketID != marketID {
			continue
		}
		if _, paid := st.payouts[payoutKey{marketID: marketID, positionID: p.ID}]; paid {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Position) int {
		if c := cmp.Compare(a.AgentID, b.AgentID); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PositionStore) filter(keep func(domain.Position) bool) []domain.Position {
	st, done := s.t.read()
	defer done()

	var out []domain.Position
	for _, p := range st.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Position) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

var _ domain.PositionStore = (*PositionStore)(nil)
