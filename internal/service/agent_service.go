package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/agentmarket/internal/amm"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const maxAgentNameLen = 64

// KeyIssuer generates API keys and the digests they are stored under.
// *crypto.KeyHasher satisfies it.
type KeyIssuer interface {
	NewKey() (string, error)
	Digest(apiKey string) string
}

// RegisteredAgent is returned once at registration. APIKey is not stored
// anywhere and cannot be recovered later.
type RegisteredAgent struct {
	Agent  domain.Agent
	APIKey string
}

// LeaderboardEntry ranks an agent by balance.
type LeaderboardEntry struct {
	Rank           int
	AgentID        string
	Name           string
	Balance        decimal.Decimal
	PnL            decimal.Decimal
	TradeCount     int
	MarketsCreated int
	CreatedAt      time.Time
}

// PositionView is a position joined with its market.
type PositionView struct {
	Position       domain.Position
	Question       string
	YesPrice       decimal.Decimal
	Resolved       bool
	Outcome        *domain.Outcome
	MarketCreated  time.Time
	ResolutionDate time.Time
}

// AgentService registers, authenticates and ranks agents.
type AgentService struct {
	ledger domain.Ledger
	keys   KeyIssuer
	events events
	logger *slog.Logger
	now    func() time.Time
}

// NewAgentService creates an AgentService.
func NewAgentService(ledger domain.Ledger, keys KeyIssuer, audit domain.AuditStore, logger *slog.Logger) *AgentService {
	logger = logger.With(slog.String("component", "agent_service"))
	return &AgentService{
		ledger: ledger,
		keys:   keys,
		events: events{audit: audit, logger: logger},
		logger: logger,
		now:    nowUTC,
	}
}

// Register creates an agent with the starting balance and a fresh API key.
func (s *AgentService) Register(ctx context.Context, name string) (RegisteredAgent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return RegisteredAgent{}, fmt.Errorf("agent_service: %w: name is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxAgentNameLen {
		return RegisteredAgent{}, fmt.Errorf("agent_service: %w: name longer than %d characters", domain.ErrValidation, maxAgentNameLen)
	}

	key, err := s.keys.NewKey()
	if err != nil {
		return RegisteredAgent{}, fmt.Errorf("agent_service: %w", err)
	}
	agent := domain.Agent{
		ID:           uuid.NewString(),
		Name:         name,
		Balance:      domain.StartingBalance,
		APIKeyDigest: s.keys.Digest(key),
		CreatedAt:    s.now(),
	}
	if err := s.ledger.Stores().Agents.Create(ctx, agent); err != nil {
		return RegisteredAgent{}, fmt.Errorf("agent_service: register %q: %w", name, err)
	}

	s.events.record(ctx, "agent_registered", map[string]any{
		"agent_id": agent.ID,
		"name":     agent.Name,
	})
	s.logger.InfoContext(ctx, "agent registered",
		slog.String("agent_id", agent.ID),
		slog.String("name", agent.Name),
	)
	return RegisteredAgent{Agent: agent, APIKey: key}, nil
}

// Authenticate resolves an API key to its agent.
func (s *AgentService) Authenticate(ctx context.Context, apiKey string) (domain.Agent, error) {
	if apiKey == "" {
		return domain.Agent{}, fmt.Errorf("agent_service: %w: missing api key", domain.ErrUnauthorized)
	}
	agent, err := s.ledger.Stores().Agents.GetByKeyDigest(ctx, s.keys.Digest(apiKey))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Agent{}, fmt.Errorf("agent_service: %w: invalid api key", domain.ErrUnauthorized)
		}
		return domain.Agent{}, fmt.Errorf("agent_service: authenticate: %w", err)
	}
	return agent, nil
}

// Get returns one agent.
func (s *AgentService) Get(ctx context.Context, agentID string) (domain.Agent, error) {
	agent, err := s.ledger.Stores().Agents.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Agent{}, fmt.Errorf("agent_service: %s: %w", agentID, domain.ErrAgentNotFound)
		}
		return domain.Agent{}, fmt.Errorf("agent_service: get %s: %w", agentID, err)
	}
	return agent, nil
}

// List returns agents by balance, highest first.
func (s *AgentService) List(ctx context.Context) ([]domain.Agent, error) {
	agents, err := s.ledger.Stores().Agents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent_service: list: %w", err)
	}
	sortByBalance(agents)
	return agents, nil
}

// Leaderboard ranks every agent by balance with activity counts.
func (s *AgentService) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	st := s.ledger.Stores()
	var (
		agents  []domain.Agent
		trades  []domain.Trade
		markets []domain.Market
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agents, err = st.Agents.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		trades, err = st.Trades.ListAll(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		markets, err = st.Markets.List(gctx, domain.ListOpts{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("agent_service: leaderboard: %w", err)
	}

	tradeCounts := make(map[string]int)
	for _, t := range trades {
		tradeCounts[t.AgentID]++
	}
	created := make(map[string]int)
	for _, m := range markets {
		created[m.CreatorID]++
	}

	sortByBalance(agents)
	out := make([]LeaderboardEntry, 0, len(agents))
	for i, a := range agents {
		out = append(out, LeaderboardEntry{
			Rank:           i + 1,
			AgentID:        a.ID,
			Name:           a.Name,
			Balance:        a.Balance,
			PnL:            a.Balance.Sub(domain.StartingBalance),
			TradeCount:     tradeCounts[a.ID],
			MarketsCreated: created[a.ID],
			CreatedAt:      a.CreatedAt,
		})
	}
	return out, nil
}

// Positions returns the agent's positions with current market state.
func (s *AgentService) Positions(ctx context.Context, agentID string) ([]PositionView, error) {
	st := s.ledger.Stores()
	positions, err := st.Positions.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("agent_service: positions %s: %w", agentID, err)
	}

	out := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		m, err := st.Markets.Get(ctx, p.MarketID)
		if err != nil {
			return nil, fmt.Errorf("agent_service: positions %s: market %s: %w", agentID, p.MarketID, err)
		}
		out = append(out, PositionView{
			Position:       p,
			Question:       m.Question,
			YesPrice:       amm.YesPrice(amm.MarketPool(m)),
			Resolved:       m.Resolved,
			Outcome:        m.Outcome,
			MarketCreated:  m.CreatedAt,
			ResolutionDate: m.ResolutionDate,
		})
	}
	return out, nil
}

func sortByBalance(agents []domain.Agent) {
	slices.SortStableFunc(agents, func(a, b domain.Agent) int {
		return b.Balance.Cmp(a.Balance)
	})
}
