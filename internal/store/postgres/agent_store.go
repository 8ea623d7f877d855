package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

// AgentStore implements domain.AgentStore using PostgreSQL.
type AgentStore struct {
	q querier
}

const agentSelectCols = `id, name, balance, api_key_digest, created_at`

func scanAgent(row pgx.Row) (domain.Agent, error) {
	var a domain.Agent
	err := row.Scan(&a.ID, &a.Name, &a.Balance, &a.APIKeyDigest, &a.CreatedAt)
	return a, err
}

// Create inserts an agent. A taken name or key digest is ErrAlreadyExists.
func (s *AgentStore) Create(ctx context.Context, a domain.Agent) error {
	const query = `
		INSERT INTO agents (id, name, api_key_digest, balance, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.q.Exec(ctx, query, a.ID, a.Name, a.APIKeyDigest, a.Balance, a.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("postgres: create agent %q: %w", a.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create agent %q: %w", a.Name, err)
	}
	return nil
}

// Get returns an agent by id.
func (s *AgentStore) Get(ctx context.Context, id string) (domain.Agent, error) {
	return s.getBy(ctx, "id = $1", id, "get agent "+id)
}

// GetForUpdate reads the agent row with FOR UPDATE.
func (s *AgentStore) GetForUpdate(ctx context.Context, id string) (domain.Agent, error) {
	return s.getBy(ctx, "id = $1 FOR UPDATE", id, "get agent "+id)
}

// GetByKeyDigest finds the agent holding the given credential digest.
func (s *AgentStore) GetByKeyDigest(ctx context.Context, digest string) (domain.Agent, error) {
	return s.getBy(ctx, "api_key_digest = $1", digest, "get agent by key")
}

func (s *AgentStore) getBy(ctx context.Context, where, arg, op string) (domain.Agent, error) {
	query := `SELECT ` + agentSelectCols + ` FROM agents WHERE ` + where
	a, err := scanAgent(s.q.QueryRow(ctx, query, arg))
	if err != nil {
		if isNotFoundError(err) {
			return domain.Agent{}, fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
		}
		return domain.Agent{}, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return a, nil
}

// List returns agents in registration order.
func (s *AgentStore) List(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.q.Query(ctx, `SELECT `+agentSelectCols+` FROM agents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list agents rows: %w", err)
	}
	return agents, nil
}

// AdjustBalance adds delta in a single conditional update so the balance can
// never be observed negative.
func (s *AgentStore) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	const query = `
		UPDATE agents SET balance = balance + $2
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance`

	var balance decimal.Decimal
	err := s.q.QueryRow(ctx, query, id, delta).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if isCheckViolation(err) {
		return decimal.Zero, fmt.Errorf("postgres: adjust balance %s: %w", id, domain.ErrInsufficientBalance)
	}
	if !isNotFoundError(err) {
		return decimal.Zero, fmt.Errorf("postgres: adjust balance %s: %w", id, err)
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM agents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: adjust balance %s: %w", id, err)
	}
	if !exists {
		return decimal.Zero, fmt.Errorf("postgres: adjust balance %s: %w", id, domain.ErrNotFound)
	}
	return decimal.Zero, fmt.Errorf("postgres: adjust balance %s: %w", id, domain.ErrInsufficientBalance)
}

var _ domain.AgentStore = (*AgentStore)(nil)
