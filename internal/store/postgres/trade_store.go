package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	q querier
}

const tradeSelectCols = `id, seq, agent_id, market_id, side, amount,
	shares_received, price_at_trade, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(
			&t.ID, &t.Seq, &t.AgentID, &t.MarketID, &side, &t.Amount,
			&t.SharesReceived, &t.PriceAtTrade, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends a trade and stores the assigned sequence number in t.Seq.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, agent_id, market_id, side, amount,
			shares_received, price_at_trade, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`

	err := s.q.QueryRow(ctx, query,
		t.ID, t.AgentID, t.MarketID, string(t.Side), t.Amount,
		t.SharesReceived, t.PriceAtTrade, t.CreatedAt,
	).Scan(&t.Seq)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("postgres: insert trade %s: %w", t.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByMarket returns the market's trades in execution order.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Trade, error) {
	return s.list(ctx, "list trades by market", `WHERE market_id = $1`, marketID)
}

// ListByAgent returns the agent's trades in execution order.
func (s *TradeStore) ListByAgent(ctx context.Context, agentID string) ([]domain.Trade, error) {
	return s.list(ctx, "list trades by agent", `WHERE agent_id = $1`, agentID)
}

// ListAll returns the whole trade log.
func (s *TradeStore) ListAll(ctx context.Context) ([]domain.Trade, error) {
	return s.list(ctx, "list trades", ``)
}

// ListBetween returns trades with from <= created_at < to.
func (s *TradeStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	return s.list(ctx, "list trades between", `WHERE created_at >= $1 AND created_at < $2`, from, to)
}

func (s *TradeStore) list(ctx context.Context, op, where string, args ...any) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades ` + where + ` ORDER BY seq`
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
	}
	return trades, nil
}

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
type ResolutionStore struct {
	q querier
}

// Insert records the resolution of a market; a market resolves once.
func (s *ResolutionStore) Insert(ctx context.Context, ev domain.ResolutionEvent) error {
	const query = `INSERT INTO resolution_events (market_id, outcome, resolved_at) VALUES ($1, $2, $3)`
	if _, err := s.q.Exec(ctx, query, ev.MarketID, string(ev.Outcome), ev.ResolvedAt); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("postgres: insert resolution %s: %w", ev.MarketID, domain.ErrAlreadyResolved)
		}
		return fmt.Errorf("postgres: insert resolution %s: %w", ev.MarketID, err)
	}
	return nil
}

// Get returns the resolution of a market.
func (s *ResolutionStore) Get(ctx context.Context, marketID string) (domain.ResolutionEvent, error) {
	const query = `SELECT market_id, outcome, resolved_at FROM resolution_events WHERE market_id = $1`

	var ev domain.ResolutionEvent
	var outcome string
	if err := s.q.QueryRow(ctx, query, marketID).Scan(&ev.MarketID, &outcome, &ev.ResolvedAt); err != nil {
		if isNotFoundError(err) {
			return domain.ResolutionEvent{}, fmt.Errorf("postgres: get resolution %s: %w", marketID, domain.ErrNotFound)
		}
		return domain.ResolutionEvent{}, fmt.Errorf("postgres: get resolution %s: %w", marketID, err)
	}
	ev.Outcome = domain.Outcome(outcome)
	return ev, nil
}

// List returns every resolution oldest first.
func (s *ResolutionStore) List(ctx context.Context) ([]domain.ResolutionEvent, error) {
	return s.list(ctx, "list resolutions", ``)
}

// ListBetween returns resolutions with from <= resolved_at < to.
func (s *ResolutionStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ResolutionEvent, error) {
	return s.list(ctx, "list resolutions between", `WHERE resolved_at >= $1 AND resolved_at < $2`, from, to)
}

func (s *ResolutionStore) list(ctx context.Context, op, where string, args ...any) ([]domain.ResolutionEvent, error) {
	query := `SELECT market_id, outcome, resolved_at FROM resolution_events ` + where + ` ORDER BY resolved_at, market_id`
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var events []domain.ResolutionEvent
	for rows.Next() {
		var ev domain.ResolutionEvent
		var outcome string
		if err := rows.Scan(&ev.MarketID, &outcome, &ev.ResolvedAt); err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		ev.Outcome = domain.Outcome(outcome)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return events, nil
}

// PayoutStore implements domain.PayoutStore using PostgreSQL.
type PayoutStore struct {
	q querier
}

// Record inserts the payout marker; an existing marker wins and false is
// returned.
func (s *PayoutStore) Record(ctx context.Context, p domain.Payout) (bool, error) {
	const query = `
		INSERT INTO payouts (market_id, position_id, agent_id, amount, paid_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, position_id) DO NOTHING`

	tag, err := s.q.Exec(ctx, query, p.MarketID, p.PositionID, p.AgentID, p.Amount, p.PaidAt)
	if err != nil {
		return false, fmt.Errorf("postgres: record payout %s/%s: %w", p.MarketID, p.PositionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SumByMarket totals the payouts of a market.
func (s *PayoutStore) SumByMarket(ctx context.Context, marketID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payouts WHERE market_id = $1`, marketID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum payouts %s: %w", marketID, err)
	}
	return total, nil
}

// ListPendingMarkets returns resolved markets with unpaid positions.
func (s *PayoutStore) ListPendingMarkets(ctx context.Context) ([]string, error) {
	const query = `
		SELECT DISTINCT p.market_id
		FROM positions p
		JOIN markets m ON m.id = p.market_id
		WHERE m.resolved
		  AND NOT EXISTS (
			SELECT 1 FROM payouts po
			WHERE po.market_id = p.market_id AND po.position_id = p.id
		  )
		ORDER BY p.market_id`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending markets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan pending market: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending markets rows: %w", err)
	}
	return ids, nil
}

var (
	_ domain.TradeStore      = (*TradeStore)(nil)
	_ domain.ResolutionStore = (*ResolutionStore)(nil)
	_ domain.PayoutStore     = (*PayoutStore)(nil)
)
