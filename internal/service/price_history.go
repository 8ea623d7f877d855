package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/amm"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/shopspring/decimal"
)

// PricePoint is the YES price of a market at one moment, rounded to 4 places.
type PricePoint struct {
	Timestamp time.Time
	YesPrice  decimal.Decimal
}

// PriceHistoryService rebuilds price series from the trade log.
type PriceHistoryService struct {
	markets domain.MarketStore
	trades  domain.TradeStore
	alerts  Alerter
	logger  *slog.Logger
}

// NewPriceHistoryService creates a PriceHistoryService.
func NewPriceHistoryService(ledger domain.Ledger, alerts Alerter, logger *slog.Logger) *PriceHistoryService {
	st := ledger.Stores()
	return &PriceHistoryService{
		markets: st.Markets,
		trades:  st.Trades,
		alerts:  alerts,
		logger:  logger.With(slog.String("component", "price_history")),
	}
}

// Replay returns one point for the market's opening pool followed by one
// point per trade in execution order.
func (s *PriceHistoryService) Replay(ctx context.Context, marketID string) ([]PricePoint, error) {
	market, trades, err := s.load(ctx, marketID)
	if err != nil {
		return nil, err
	}
	points, _, err := replay(market, trades)
	if err != nil {
		return nil, fmt.Errorf("price_history: replay %s: %w", marketID, err)
	}
	return points, nil
}

// VerifyMarket replays the trade log and checks that it reproduces the
// persisted pool. A mismatch is a consistency error and is alerted.
func (s *PriceHistoryService) VerifyMarket(ctx context.Context, marketID string) error {
	market, trades, err := s.load(ctx, marketID)
	if err != nil {
		return err
	}
	_, final, err := replay(market, trades)
	if err != nil {
		return fmt.Errorf("price_history: verify %s: %w", marketID, err)
	}

	live := amm.MarketPool(market)
	if amm.WithinTolerance(live.Yes, final.Yes) && amm.WithinTolerance(live.No, final.No) {
		return nil
	}

	err = fmt.Errorf("%w: replay of %d trades gives yes=%s no=%s, stored yes=%s no=%s",
		domain.ErrPoolInvariant, len(trades), final.Yes, final.No, live.Yes, live.No)
	s.logger.ErrorContext(ctx, "replay mismatch",
		slog.String("market_id", marketID),
		slog.String("error", err.Error()),
	)
	if s.alerts != nil {
		if nerr := s.alerts.Notify(ctx, "consistency_error", "Replay mismatch", fmt.Sprintf("market %s: %v", marketID, err)); nerr != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", nerr.Error()))
		}
	}
	return fmt.Errorf("price_history: verify %s: %w", marketID, err)
}

func (s *PriceHistoryService) load(ctx context.Context, marketID string) (domain.Market, []domain.Trade, error) {
	market, err := s.markets.Get(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, nil, fmt.Errorf("price_history: %s: %w", marketID, domain.ErrMarketNotFound)
		}
		return domain.Market{}, nil, fmt.Errorf("price_history: load market %s: %w", marketID, err)
	}
	trades, err := s.trades.ListByMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, nil, fmt.Errorf("price_history: list trades %s: %w", marketID, err)
	}
	return market, trades, nil
}

// replay applies trades to the market's seed pool with the same update the
// trade engine uses.
func replay(market domain.Market, trades []domain.Trade) ([]PricePoint, amm.Pool, error) {
	pool := amm.SeedPool(market)
	if err := pool.Validate(); err != nil {
		pool = amm.DefaultSeed()
	}

	points := make([]PricePoint, 0, len(trades)+1)
	points = append(points, PricePoint{Timestamp: market.CreatedAt, YesPrice: amm.YesPrice(pool).Round(4)})
	for _, t := range trades {
		next, err := amm.Apply(pool, t.Side, t.Amount)
		if err != nil {
			return nil, amm.Pool{}, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		pool = next
		points = append(points, PricePoint{Timestamp: t.CreatedAt, YesPrice: amm.YesPrice(pool).Round(4)})
	}
	return points, pool, nil
}
