package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
	pgErrCheckViolation  = "23514" // check_violation
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every store runs
// unchanged inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger implements domain.Ledger on a connection pool.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Stores returns stores that run each call in its own implicit transaction.
func (l *Ledger) Stores() domain.Stores {
	return storesFor(l.pool)
}

// InTx runs fn in a READ COMMITTED transaction and commits if fn returns
// nil. Row locks taken with GetForUpdate are held until then.
func (l *Ledger) InTx(ctx context.Context, fn func(domain.Stores) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(storesFor(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func storesFor(q querier) domain.Stores {
	return domain.Stores{
		Markets:     &MarketStore{q: q},
		Agents:      &AgentStore{q: q},
		Positions:   &PositionStore{q: q},
		Trades:      &TradeStore{q: q},
		Resolutions: &ResolutionStore{q: q},
		Payouts:     &PayoutStore{q: q},
	}
}

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrCheckViolation
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ domain.Ledger = (*Ledger)(nil)
