// Package memory implements the domain ledger in process memory. Transactions
// run against a private copy of the state and swap it in on commit, so a
// failed transaction leaves nothing behind.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

type positionKey struct {
	agentID  string
	marketID string
}

type payoutKey struct {
	marketID   string
	positionID string
}

type state struct {
	agents      map[string]domain.Agent
	markets     map[string]domain.Market
	positions   map[string]domain.Position
	positionIdx map[positionKey]string
	trades      []domain.Trade
	resolutions map[string]domain.ResolutionEvent
	payouts     map[payoutKey]domain.Payout
	seq         int64
}

func newState() *state {
	return &state{
		agents:      make(map[string]domain.Agent),
		markets:     make(map[string]domain.Market),
		positions:   make(map[string]domain.Position),
		positionIdx: make(map[positionKey]string),
		resolutions: make(map[string]domain.ResolutionEvent),
		payouts:     make(map[payoutKey]domain.Payout),
	}
}

// clone copies every collection. Entities are values whose pointer fields are
// never mutated in place, so a shallow copy of each map is enough.
func (s *state) clone() *state {
	return &state{
		agents:      maps.Clone(s.agents),
		markets:     maps.Clone(s.markets),
		positions:   maps.Clone(s.positions),
		positionIdx: maps.Clone(s.positionIdx),
		trades:      slices.Clone(s.trades),
		resolutions: maps.Clone(s.resolutions),
		payouts:     maps.Clone(s.payouts),
		seq:         s.seq,
	}
}

// Ledger implements domain.Ledger. Writers are serialized by writeMu;
// readers only contend with the pointer swap at commit.
type Ledger struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	st      *state
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{st: newState()}
}

// Stores returns stores that lock per call.
func (l *Ledger) Stores() domain.Stores {
	return storesFor(&txn{l: l})
}

// InTx runs fn against a copy of the ledger and publishes the copy only if
// fn returns nil.
func (l *Ledger) InTx(ctx context.Context, fn func(domain.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	work := l.st.clone()
	l.mu.RUnlock()

	if err := fn(storesFor(&txn{l: l, st: work, inTx: true})); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.st = work
	l.mu.Unlock()
	return nil
}

// txn is the state a store call runs against: either a transaction's private
// copy or, outside a transaction, the live state under the ledger locks.
type txn struct {
	l    *Ledger
	st   *state
	inTx bool
}

func (t *txn) read() (*state, func()) {
	if t.inTx {
		return t.st, func() {}
	}
	t.l.mu.RLock()
	return t.l.st, t.l.mu.RUnlock
}

func (t *txn) write() (*state, func()) {
	if t.inTx {
		return t.st, func() {}
	}
	t.l.writeMu.Lock()
	t.l.mu.Lock()
	return t.l.st, func() {
		t.l.mu.Unlock()
		t.l.writeMu.Unlock()
	}
}

func storesFor(t *txn) domain.Stores {
	return domain.Stores{
		Markets:     &MarketStore{t: t},
		Agents:      &AgentStore{t: t},
		Positions:   &PositionStore{t: t},
		Trades:      &TradeStore{t: t},
		Resolutions: &ResolutionStore{t: t},
		Payouts:     &PayoutStore{t: t},
	}
}

var _ domain.Ledger = (*Ledger)(nil)
