package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	q querier
}

const marketSelectCols = `id, question, description, creator_id,
	yes_pool, no_pool, seed_yes_pool, seed_no_pool, version,
	resolved, outcome, resolution_date, resolved_at, created_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var outcome *string

	err := row.Scan(
		&m.ID, &m.Question, &m.Description, &m.CreatorID,
		&m.YesPool, &m.NoPool, &m.SeedYesPool, &m.SeedNoPool, &m.Version,
		&m.Resolved, &outcome, &m.ResolutionDate, &m.ResolvedAt, &m.CreatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if outcome != nil {
		o := domain.Outcome(*outcome)
		m.Outcome = &o
	}
	return m, nil
}

func scanMarkets(rows pgx.Rows) ([]domain.Market, error) {
	defer rows.Close()
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, description, creator_id,
			yes_pool, no_pool, seed_yes_pool, seed_no_pool, version,
			resolved, resolution_date, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11)`

	_, err := s.q.Exec(ctx, query,
		m.ID, m.Question, m.Description, m.CreatorID,
		m.YesPool, m.NoPool, m.SeedYesPool, m.SeedNoPool, m.Version,
		m.ResolutionDate, m.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// Get returns a market by id.
func (s *MarketStore) Get(ctx context.Context, id string) (domain.Market, error) {
	return s.get(ctx, id, "")
}

// GetForUpdate reads the market with FOR UPDATE so concurrent writers of the
// same market queue behind this transaction.
func (s *MarketStore) GetForUpdate(ctx context.Context, id string) (domain.Market, error) {
	return s.get(ctx, id, " FOR UPDATE")
}

func (s *MarketStore) get(ctx context.Context, id, suffix string) (domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE id = $1` + suffix
	m, err := scanMarket(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets newest first with pagination and optional time
// filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	markets, err := scanMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return markets, nil
}

// ListUnresolved returns open markets oldest first.
func (s *MarketStore) ListUnresolved(ctx context.Context) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE NOT resolved ORDER BY created_at, id`
	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open markets: %w", err)
	}
	markets, err := scanMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open markets: %w", err)
	}
	return markets, nil
}

// UpdatePool writes new reserves when the stored version still matches and
// returns the bumped version.
func (s *MarketStore) UpdatePool(ctx context.Context, id string, expectedVersion int64, yes, no decimal.Decimal) (int64, error) {
	const query = `
		UPDATE markets SET
			yes_pool = $3,
			no_pool  = $4,
			version  = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`

	var version int64
	err := s.q.QueryRow(ctx, query, id, expectedVersion, yes, no).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !isNotFoundError(err) {
		return 0, fmt.Errorf("postgres: update pool %s: %w", id, err)
	}

	// No row matched: either the market is gone or another writer got there
	// first.
	var current int64
	if err := s.q.QueryRow(ctx, `SELECT version FROM markets WHERE id = $1`, id).Scan(&current); err != nil {
		if isNotFoundError(err) {
			return 0, fmt.Errorf("postgres: update pool %s: %w", id, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("postgres: update pool %s: %w", id, err)
	}
	return 0, fmt.Errorf("postgres: update pool %s: version %d, expected %d: %w",
		id, current, expectedVersion, domain.ErrStalePool)
}

// MarkResolved flips an open market to resolved.
func (s *MarketStore) MarkResolved(ctx context.Context, id string, outcome domain.Outcome, at time.Time) error {
	const query = `
		UPDATE markets SET
			resolved    = TRUE,
			outcome     = $2,
			resolved_at = $3,
			version     = version + 1
		WHERE id = $1 AND NOT resolved`

	tag, err := s.q.Exec(ctx, query, id, string(outcome), at)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var resolved bool
	if err := s.q.QueryRow(ctx, `SELECT resolved FROM markets WHERE id = $1`, id).Scan(&resolved); err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("postgres: resolve market %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	return fmt.Errorf("postgres: resolve market %s: %w", id, domain.ErrAlreadyResolved)
}

var _ domain.MarketStore = (*MarketStore)(nil)
