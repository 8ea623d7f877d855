package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStore persists markets and their pool reserves.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	Get(ctx context.Context, id string) (Market, error)
	// GetForUpdate reads the market and, inside a transaction, holds its row
	// lock until commit.
	GetForUpdate(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListUnresolved(ctx context.Context) ([]Market, error)
	// UpdatePool writes new reserves if the stored version still equals
	// expectedVersion and returns the bumped version. A mismatch returns
	// ErrStalePool.
	UpdatePool(ctx context.Context, id string, expectedVersion int64, yes, no decimal.Decimal) (int64, error)
	// MarkResolved flips an open market to resolved. It returns
	// ErrAlreadyResolved when the market was resolved first by someone else.
	MarkResolved(ctx context.Context, id string, outcome Outcome, at time.Time) error
}

// AgentStore persists agents and their balances.
type AgentStore interface {
	// Create returns ErrAlreadyExists when the name is taken.
	Create(ctx context.Context, a Agent) error
	Get(ctx context.Context, id string) (Agent, error)
	GetForUpdate(ctx context.Context, id string) (Agent, error)
	GetByKeyDigest(ctx context.Context, digest string) (Agent, error)
	List(ctx context.Context) ([]Agent, error)
	// AdjustBalance adds delta to the balance and returns the new value. A
	// change that would leave the balance negative returns
	// ErrInsufficientBalance and writes nothing.
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error)
}

// PositionStore persists per-(agent, market) share holdings.
type PositionStore interface {
	// AddShares creates the position on first purchase and increments the
	// given side afterwards.
	AddShares(ctx context.Context, agentID, marketID string, side Side, shares decimal.Decimal, at time.Time) (Position, error)
	ListByAgent(ctx context.Context, agentID string) ([]Position, error)
	ListByMarket(ctx context.Context, marketID string) ([]Position, error)
	ListAll(ctx context.Context) ([]Position, error)
	// ListUnpaid returns up to limit positions of the market with no payout
	// marker, ordered by agent id.
	ListUnpaid(ctx context.Context, marketID string, limit int) ([]Position, error)
}

// TradeStore persists the append-only trade log.
type TradeStore interface {
	// Insert assigns t.Seq.
	Insert(ctx context.Context, t *Trade) error
	// ListByMarket returns trades in execution order.
	ListByMarket(ctx context.Context, marketID string) ([]Trade, error)
	ListByAgent(ctx context.Context, agentID string) ([]Trade, error)
	ListAll(ctx context.Context) ([]Trade, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]Trade, error)
}

// ResolutionStore persists resolution events.
type ResolutionStore interface {
	Insert(ctx context.Context, ev ResolutionEvent) error
	Get(ctx context.Context, marketID string) (ResolutionEvent, error)
	List(ctx context.Context) ([]ResolutionEvent, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]ResolutionEvent, error)
}

// PayoutStore persists settlement markers.
type PayoutStore interface {
	// Record inserts the marker for (p.MarketID, p.PositionID) and reports
	// whether it was newly written. An existing marker is left untouched.
	Record(ctx context.Context, p Payout) (bool, error)
	SumByMarket(ctx context.Context, marketID string) (decimal.Decimal, error)
	// ListPendingMarkets returns resolved markets that still have positions
	// without a payout marker.
	ListPendingMarkets(ctx context.Context) ([]string, error)
}

// Stores bundles the ledger stores. Inside Ledger.InTx every store shares the
// same transaction.
type Stores struct {
	Markets     MarketStore
	Agents      AgentStore
	Positions   PositionStore
	Trades      TradeStore
	Resolutions ResolutionStore
	Payouts     PayoutStore
}

// Ledger is the transactional store behind trading and settlement.
type Ledger interface {
	// Stores returns stores that run each call on its own.
	Stores() Stores
	// InTx runs fn in a single transaction. Every write made through the
	// stores passed to fn commits together when fn returns nil and is
	// discarded otherwise.
	InTx(ctx context.Context, fn func(Stores) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
