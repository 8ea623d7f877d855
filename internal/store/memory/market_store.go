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

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	t *txn
}

// Create inserts a new market.
func (s *MarketStore) Create(_ context.Context, m domain.Market) error {
	st, done := s.t.write()
	defer done()

	if _, ok := st.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	st.markets[m.ID] = m
	return nil
}

// Get returns a market by id.
func (s *MarketStore) Get(_ context.Context, id string) (domain.Market, error) {
	st, done := s.t.read()
	defer done()

	m, ok := st.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// GetForUpdate is Get; the transaction already owns the state copy.
func (s *MarketStore) GetForUpdate(ctx context.Context, id string) (domain.Market, error) {
	return s.Get(ctx, id)
}

// List returns markets newest first.
func (s *MarketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	st, done := s.t.read()
	defer done()

	out := make([]domain.Market, 0, len(st.markets))
	for _, m := range st.markets {
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && m.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.Market) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return paginate(out, opts), nil
}

// ListUnresolved returns every open market.
func (s *MarketStore) ListUnresolved(ctx context.Context) ([]domain.Market, error) {
	all, err := s.List(ctx, domain.ListOpts{})
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(m domain.Market) bool { return m.Resolved }), nil
}

// UpdatePool writes new reserves when the version matches.
func (s *MarketStore) UpdatePool(_ context.Context, id string, expectedVersion int64, yes, no decimal.Decimal) (int64, error) {
	st, done := s.t.write()
	defer done()

	m, ok := st.markets[id]
	if !ok {
		return 0, fmt.Errorf("memory: update pool %s: %w", id, domain.ErrNotFound)
	}
	if m.Version != expectedVersion {
		return 0, fmt.Errorf("memory: update pool %s: version %d, expected %d: %w",
			id, m.Version, expectedVersion, domain.ErrStalePool)
	}
	m.YesPool = yes
	m.NoPool = no
	m.Version++
	st.markets[id] = m
	return m.Version, nil
}

// MarkResolved flips an open market to resolved.
func (s *MarketStore) MarkResolved(_ context.Context, id string, outcome domain.Outcome, at time.Time) error {
	st, done := s.t.write()
	defer done()

	m, ok := st.markets[id]
	if !ok {
		return fmt.Errorf("memory: resolve market %s: %w", id, domain.ErrNotFound)
	}
	if m.Resolved {
		return fmt.Errorf("memory: resolve market %s: %w", id, domain.ErrAlreadyResolved)
	}
	o := outcome
	ts := at
	m.Resolved = true
	m.Outcome = &o
	m.ResolvedAt = &ts
	m.Version++
	st.markets[id] = m
	return nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.MarketStore = (*MarketStore)(nil)
