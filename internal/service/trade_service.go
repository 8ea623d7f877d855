package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/amm"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeOutcome is the result of a committed trade.
type TradeOutcome struct {
	Trade          domain.Trade
	SharesReceived decimal.Decimal
	NewBalance     decimal.Decimal
	NewYesPrice    decimal.Decimal
}

// TradeService executes purchases against market pools.
type TradeService struct {
	ledger domain.Ledger
	locks  domain.LockManager
	opts   LedgerOptions
	events events
	logger *slog.Logger
	now    func() time.Time
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	ledger domain.Ledger,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	alerts Alerter,
	opts LedgerOptions,
	logger *slog.Logger,
) *TradeService {
	logger = logger.With(slog.String("component", "trade_service"))
	return &TradeService{
		ledger: ledger,
		locks:  locks,
		opts:   opts.withDefaults(),
		events: events{bus: bus, audit: audit, alerts: alerts, logger: logger},
		logger: logger,
		now:    nowUTC,
	}
}

// ExecuteTrade spends amount of agentID's balance on side of marketID.
//
// The pool update, balance debit, trade record and position update commit in
// one transaction. Trades on the same market are serialized by the market
// lock, the row lock taken by GetForUpdate, and the version check on the pool
// write.
func (s *TradeService) ExecuteTrade(ctx context.Context, agentID, marketID string, side domain.Side, amount decimal.Decimal) (TradeOutcome, error) {
	if !side.Valid() {
		return TradeOutcome{}, fmt.Errorf("trade_service: %w", domain.ErrInvalidSide)
	}
	if !amount.IsPositive() {
		return TradeOutcome{}, fmt.Errorf("trade_service: %w", domain.ErrInvalidAmount)
	}
	if _, err := s.ledger.Stores().Agents.Get(ctx, agentID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return TradeOutcome{}, fmt.Errorf("trade_service: agent %s: %w", agentID, domain.ErrUnauthorized)
		}
		return TradeOutcome{}, fmt.Errorf("trade_service: load agent: %w", err)
	}

	unlock, err := lockMarket(ctx, s.locks, marketID, s.opts)
	if err != nil {
		return TradeOutcome{}, fmt.Errorf("trade_service: %w", err)
	}
	defer unlock()

	var out TradeOutcome
	err = s.ledger.InTx(ctx, func(st domain.Stores) error {
		market, err := st.Markets.GetForUpdate(ctx, marketID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrMarketNotFound
			}
			return fmt.Errorf("load market: %w", err)
		}
		if market.Resolved {
			return domain.ErrMarketResolved
		}

		agent, err := st.Agents.GetForUpdate(ctx, agentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("agent %s: %w", agentID, domain.ErrUnauthorized)
			}
			return fmt.Errorf("load agent: %w", err)
		}
		if amount.GreaterThan(agent.Balance) {
			return fmt.Errorf("%w: balance %s, amount %s", domain.ErrInsufficientBalance, agent.Balance, amount)
		}

		quote, err := amm.QuoteBuy(side, amm.MarketPool(market), amount)
		if err != nil {
			return err
		}
		if err := amm.CheckInvariant(quote.Before, quote.After); err != nil {
			return err
		}

		if _, err := st.Markets.UpdatePool(ctx, market.ID, market.Version, quote.After.Yes, quote.After.No); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}
		balance, err := st.Agents.AdjustBalance(ctx, agent.ID, amount.Neg())
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		trade := domain.Trade{
			ID:             uuid.NewString(),
			AgentID:        agent.ID,
			MarketID:       market.ID,
			Side:           side,
			Amount:         amount,
			SharesReceived: quote.SharesReceived,
			PriceAtTrade:   quote.Price,
			CreatedAt:      s.now(),
		}
		if err := st.Trades.Insert(ctx, &trade); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		if _, err := st.Positions.AddShares(ctx, agent.ID, market.ID, side, quote.SharesReceived, trade.CreatedAt); err != nil {
			return fmt.Errorf("update position: %w", err)
		}

		out = TradeOutcome{
			Trade:          trade,
			SharesReceived: quote.SharesReceived,
			NewBalance:     balance,
			NewYesPrice:    amm.YesPrice(quote.After),
		}
		return nil
	})
	if err != nil {
		s.events.consistency(ctx, "execute_trade", marketID, err)
		return TradeOutcome{}, fmt.Errorf("trade_service: execute: %w", err)
	}

	s.events.publish(ctx, domain.ChannelTrades, map[string]any{
		"event":           "trade_executed",
		"trade_id":        out.Trade.ID,
		"agent_id":        out.Trade.AgentID,
		"market_id":       out.Trade.MarketID,
		"side":            out.Trade.Side,
		"amount":          out.Trade.Amount.String(),
		"shares_received": out.SharesReceived.Round(4).String(),
		"yes_price":       out.NewYesPrice.Round(4).String(),
		"timestamp":       out.Trade.CreatedAt.Format(time.RFC3339Nano),
	})
	s.events.record(ctx, "trade_executed", map[string]any{
		"trade_id":  out.Trade.ID,
		"agent_id":  out.Trade.AgentID,
		"market_id": out.Trade.MarketID,
		"side":      string(out.Trade.Side),
		"amount":    out.Trade.Amount.String(),
		"shares":    out.SharesReceived.String(),
	})

	s.logger.InfoContext(ctx, "trade executed",
		slog.String("trade_id", out.Trade.ID),
		slog.String("market_id", marketID),
		slog.String("side", string(side)),
		slog.String("amount", amount.String()),
	)
	return out, nil
}
