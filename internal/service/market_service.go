package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/amm"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateMarketRequest describes a new market.
type CreateMarketRequest struct {
	CreatorID      string
	Question       string
	Description    string
	ResolutionDate time.Time
	// SeedYesPrice opens the market at a price other than 0.5.
	SeedYesPrice *decimal.Decimal
}

// MarketService creates and lists markets.
type MarketService struct {
	ledger    domain.Ledger
	liquidity decimal.Decimal
	events    events
	logger    *slog.Logger
	now       func() time.Time
}

// NewMarketService creates a MarketService. liquidity is the combined seed
// reserve used when a market opens at a custom price; zero selects the
// default.
func NewMarketService(ledger domain.Ledger, liquidity decimal.Decimal, bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *MarketService {
	if !liquidity.IsPositive() {
		liquidity = amm.DefaultLiquidity
	}
	logger = logger.With(slog.String("component", "market_service"))
	return &MarketService{
		ledger:    ledger,
		liquidity: liquidity,
		events:    events{bus: bus, audit: audit, logger: logger},
		logger:    logger,
		now:       nowUTC,
	}
}

// Create opens a market owned by req.CreatorID.
func (s *MarketService) Create(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return domain.Market{}, fmt.Errorf("market_service: %w: question is required", domain.ErrValidation)
	}
	now := s.now()
	if !req.ResolutionDate.After(now) {
		return domain.Market{}, fmt.Errorf("market_service: %w: resolution date must be in the future", domain.ErrValidation)
	}
	if _, err := s.ledger.Stores().Agents.Get(ctx, req.CreatorID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, fmt.Errorf("market_service: creator %s: %w", req.CreatorID, domain.ErrUnauthorized)
		}
		return domain.Market{}, fmt.Errorf("market_service: load creator: %w", err)
	}

	seed := amm.DefaultSeed()
	if req.SeedYesPrice != nil {
		if !req.SeedYesPrice.IsPositive() {
			return domain.Market{}, fmt.Errorf("market_service: %w: seed price must be positive", domain.ErrValidation)
		}
		seed = amm.PoolFromPrice(*req.SeedYesPrice, s.liquidity)
	}

	m := domain.Market{
		ID:             uuid.NewString(),
		Question:       question,
		Description:    strings.TrimSpace(req.Description),
		CreatorID:      req.CreatorID,
		YesPool:        seed.Yes,
		NoPool:         seed.No,
		SeedYesPool:    seed.Yes,
		SeedNoPool:     seed.No,
		ResolutionDate: req.ResolutionDate.UTC(),
		CreatedAt:      now,
	}
	if err := s.ledger.Stores().Markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	s.events.record(ctx, "market_created", map[string]any{
		"market_id":  m.ID,
		"creator_id": m.CreatorID,
		"question":   m.Question,
		"yes_price":  amm.YesPrice(seed).Round(4).String(),
	})
	s.events.publish(ctx, domain.ChannelMarkets, map[string]any{
		"event":     "market_created",
		"market_id": m.ID,
		"question":  m.Question,
	})
	s.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.String("creator_id", m.CreatorID),
	)
	return m, nil
}

// Get returns one market.
func (s *MarketService) Get(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.ledger.Stores().Markets.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, fmt.Errorf("market_service: %s: %w", id, domain.ErrMarketNotFound)
		}
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", id, err)
	}
	return m, nil
}

// List returns markets newest first.
func (s *MarketService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.ledger.Stores().Markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}
