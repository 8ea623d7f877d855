package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	q querier
}

const positionSelectCols = `id, agent_id, market_id, yes_shares, no_shares, created_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(&p.ID, &p.AgentID, &p.MarketID, &p.YesShares, &p.NoShares, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// AddShares upserts the (agent, market) position and increments one side.
func (s *PositionStore) AddShares(ctx context.Context, agentID, marketID string, side domain.Side, shares decimal.Decimal, at time.Time) (domain.Position, error) {
	var yes, no decimal.Decimal
	switch side {
	case domain.SideYes:
		yes, no = shares, decimal.Zero
	case domain.SideNo:
		yes, no = decimal.Zero, shares
	default:
		return domain.Position{}, fmt.Errorf("postgres: add shares: %w", domain.ErrInvalidSide)
	}

	const query = `
		INSERT INTO positions (id, agent_id, market_id, yes_shares, no_shares, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (agent_id, market_id) DO UPDATE SET
			yes_shares = positions.yes_shares + EXCLUDED.yes_shares,
			no_shares  = positions.no_shares + EXCLUDED.no_shares,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + positionSelectCols

	p, err := scanPositionRow(s.q.QueryRow(ctx, query, uuid.NewString(), agentID, marketID, yes, no, at))
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: add shares %s/%s: %w", agentID, marketID, err)
	}
	return p, nil
}

// ListByAgent returns the agent's positions oldest first.
func (s *PositionStore) ListByAgent(ctx context.Context, agentID string) ([]domain.Position, error) {
	return s.list(ctx, "list positions by agent", `WHERE agent_id = $1 ORDER BY created_at, id`, agentID)
}

// ListByMarket returns the market's positions oldest first.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	return s.list(ctx, "list positions by market", `WHERE market_id = $1 ORDER BY created_at, id`, marketID)
}

// ListAll returns every position.
func (s *PositionStore) ListAll(ctx context.Context) ([]domain.Position, error) {
	return s.list(ctx, "list positions", `ORDER BY created_at, id`)
}

// ListUnpaid returns up to limit positions of the market without a payout
// marker, ordered by agent so batches lock agent rows in a fixed order.
func (s *PositionStore) ListUnpaid(ctx context.Context, marketID string, limit int) ([]domain.Position, error) {
	query := `
		WHERE market_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM payouts
			WHERE payouts.market_id = positions.market_id
			  AND payouts.position_id = positions.id
		  )
		ORDER BY agent_id, id`
	args := []any{marketID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.list(ctx, "list unpaid positions", query, args...)
}

func (s *PositionStore) list(ctx context.Context, op, tail string, args ...any) ([]domain.Position, error) {
	rows, err := s.q.Query(ctx, `SELECT `+positionSelectCols+` FROM positions `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
