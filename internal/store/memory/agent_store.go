package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/shopspring/decimal"
)

// AgentStore implements domain.AgentStore.
type AgentStore struct {
	t *txn
}

// Create inserts an agent; names and key digests are unique.
func (s *AgentStore) Create(_ context.Context, a domain.Agent) error {
	st, done := s.t.write()
	defer done()

	for _, existing := range st.agents {
		if existing.ID == a.ID || existing.Name == a.Name {
			return fmt.Errorf("memory: create agent %q: %w", a.Name, domain.ErrAlreadyExists)
		}
		if a.APIKeyDigest != "" && existing.APIKeyDigest == a.APIKeyDigest {
			return fmt.Errorf("memory: create agent %q: key digest: %w", a.Name, domain.ErrAlreadyExists)
		}
	}
	st.agents[a.ID] = a
	return nil
}

// Get returns an agent by id.
func (s *AgentStore) Get(_ context.Context, id string) (domain.Agent, error) {
	st, done := s.t.read()
	defer done()

	a, ok := st.agents[id]
	if !ok {
		return domain.Agent{}, fmt.Errorf("memory: get agent %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

// GetForUpdate is Get; the transaction already owns the state copy.
func (s *AgentStore) GetForUpdate(ctx context.Context, id string) (domain.Agent, error) {
	return s.Get(ctx, id)
}

// GetByKeyDigest finds the agent holding the given credential digest.
func (s *AgentStore) GetByKeyDigest(_ context.Context, digest string) (domain.Agent, error) {
	st, done := s.t.read()
	defer done()

	for _, a := range st.agents {
		if digest != "" && a.APIKeyDigest == digest {
			return a, nil
		}
	}
	return domain.Agent{}, fmt.Errorf("memory: get agent by key: %w", domain.ErrNotFound)
}

// List returns agents in registration order.
func (s *AgentStore) List(_ context.Context) ([]domain.Agent, error) {
	st, done := s.t.read()
	defer done()

	out := make([]domain.Agent, 0, len(st.agents))
	for _, a := range st.agents {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b domain.Agent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// AdjustBalance adds delta and refuses to go negative.
func (s *AgentStore) AdjustBalance(_ context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	st, done := s.t.write()
	defer done()

	a, ok := st.agents[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("memory: adjust balance %s: %w", id, domain.ErrNotFound)
	}
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("memory: adjust balance %s: %w", id, domain.ErrInsufficientBalance)
	}
	a.Balance = next
	st.agents[id] = a
	return next, nil
}

var _ domain.AgentStore = (*AgentStore)(nil)
