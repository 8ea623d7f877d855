package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/shopspring/decimal"
)

// ResolutionResult is the result of resolving a market.
type ResolutionResult struct {
	MarketID     string
	Outcome      domain.Outcome
	TotalPaidOut decimal.Decimal
}

// ResolutionService resolves markets and settles their positions.
//
// Resolution is two-phase. The market is marked resolved and its resolution
// event written in one transaction; positions are then paid in batches, each
// guarded by a per-position payout marker. An interrupted settlement is
// finished by SettleMarket or SettlePending without paying anyone twice.
type ResolutionService struct {
	ledger domain.Ledger
	locks  domain.LockManager
	opts   LedgerOptions
	events events
	logger *slog.Logger
	now    func() time.Time
}

// NewResolutionService creates a ResolutionService with all required
// dependencies.
func NewResolutionService(
	ledger domain.Ledger,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	alerts Alerter,
	opts LedgerOptions,
	logger *slog.Logger,
) *ResolutionService {
	logger = logger.With(slog.String("component", "resolution_service"))
	return &ResolutionService{
		ledger: ledger,
		locks:  locks,
		opts:   opts.withDefaults(),
		events: events{bus: bus, audit: audit, alerts: alerts, logger: logger},
		logger: logger,
		now:    nowUTC,
	}
}

// ResolveMarket settles marketID with outcome. Only the market's creator may
// resolve it, and only once.
func (s *ResolutionService) ResolveMarket(ctx context.Context, agentID, marketID string, outcome domain.Outcome) (ResolutionResult, error) {
	if !outcome.Valid() {
		return ResolutionResult{}, fmt.Errorf("resolution_service: %w", domain.ErrInvalidOutcome)
	}

	unlock, err := lockMarket(ctx, s.locks, marketID, s.opts)
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("resolution_service: %w", err)
	}
	defer unlock()

	resolvedAt := s.now()
	err = s.ledger.InTx(ctx, func(st domain.Stores) error {
		market, err := st.Markets.GetForUpdate(ctx, marketID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrMarketNotFound
			}
			return fmt.Errorf("load market: %w", err)
		}
		if market.CreatorID != agentID {
			return domain.ErrNotCreator
		}
		if market.Resolved {
			return domain.ErrAlreadyResolved
		}
		if err := st.Markets.MarkResolved(ctx, marketID, outcome, resolvedAt); err != nil {
			return fmt.Errorf("mark resolved: %w", err)
		}
		if err := st.Resolutions.Insert(ctx, domain.ResolutionEvent{
			MarketID:   marketID,
			Outcome:    outcome,
			ResolvedAt: resolvedAt,
		}); err != nil {
			return fmt.Errorf("insert resolution: %w", err)
		}
		return nil
	})
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("resolution_service: resolve %s: %w", marketID, err)
	}

	s.events.record(ctx, "market_resolved", map[string]any{
		"market_id": marketID,
		"outcome":   string(outcome),
		"agent_id":  agentID,
	})

	total, err := s.settle(ctx, marketID, outcome)
	if err != nil {
		s.logger.ErrorContext(ctx, "settlement interrupted",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		s.events.notify(ctx, "settlement_failed", "Settlement interrupted",
			fmt.Sprintf("market %s resolved %s but settlement stopped: %v", marketID, outcome, err))
		return ResolutionResult{}, fmt.Errorf("resolution_service: settle %s: %w", marketID, err)
	}

	s.events.publish(ctx, domain.ChannelResolutions, map[string]any{
		"event":          "market_resolved",
		"market_id":      marketID,
		"outcome":        outcome,
		"total_paid_out": total.Round(2).String(),
		"timestamp":      resolvedAt.Format(time.RFC3339Nano),
	})
	s.events.notify(ctx, "market_resolved", "Market resolved",
		fmt.Sprintf("market %s resolved %s, paid out %s", marketID, outcome, total.Round(2)))

	s.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID),
		slog.String("outcome", string(outcome)),
		slog.String("total_paid_out", total.String()),
	)
	return ResolutionResult{MarketID: marketID, Outcome: outcome, TotalPaidOut: total}, nil
}

// SettleMarket pays any positions of a resolved market that have not been
// paid yet and returns the market's total payout. It is safe to repeat.
func (s *ResolutionService) SettleMarket(ctx context.Context, marketID string) (decimal.Decimal, error) {
	unlock, err := lockMarket(ctx, s.locks, marketID, s.opts)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolution_service: %w", err)
	}
	defer unlock()

	market, err := s.ledger.Stores().Markets.Get(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("resolution_service: settle %s: %w", marketID, domain.ErrMarketNotFound)
		}
		return decimal.Zero, fmt.Errorf("resolution_service: settle %s: %w", marketID, err)
	}
	if !market.Resolved || market.Outcome == nil {
		return decimal.Zero, fmt.Errorf("resolution_service: settle %s: %w", marketID, domain.ErrMarketUnresolved)
	}

	total, err := s.settle(ctx, marketID, *market.Outcome)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolution_service: settle %s: %w", marketID, err)
	}
	return total, nil
}

// SettlePending finishes settlement of every resolved market that still has
// unpaid positions and returns how many markets it settled. A market that
// fails is logged and skipped; the failures are joined into the returned
// error.
func (s *ResolutionService) SettlePending(ctx context.Context) (int, error) {
	ids, err := s.ledger.Stores().Payouts.ListPendingMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolution_service: list pending: %w", err)
	}

	settled := 0
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		total, err := s.SettleMarket(ctx, id)
		if err != nil {
			s.logger.ErrorContext(ctx, "pending settlement failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		settled++
		s.logger.InfoContext(ctx, "pending settlement completed",
			slog.String("market_id", id),
			slog.String("total_paid_out", total.String()),
		)
	}
	return settled, errors.Join(errs...)
}

// settle pays unpaid positions in batches until none remain. Each batch is a
// transaction: a payout marker is written per position and the balance is
// credited only when the marker is new.
func (s *ResolutionService) settle(ctx context.Context, marketID string, outcome domain.Outcome) (decimal.Decimal, error) {
	for {
		var batch int
		err := s.ledger.InTx(ctx, func(st domain.Stores) error {
			positions, err := st.Positions.ListUnpaid(ctx, marketID, s.opts.PayoutBatchSize)
			if err != nil {
				return fmt.Errorf("list unpaid: %w", err)
			}
			batch = len(positions)

			paidAt := s.now()
			for _, p := range positions {
				amount := p.WinningShares(outcome)
				inserted, err := st.Payouts.Record(ctx, domain.Payout{
					MarketID:   marketID,
					PositionID: p.ID,
					AgentID:    p.AgentID,
					Amount:     amount,
					PaidAt:     paidAt,
				})
				if err != nil {
					return fmt.Errorf("record payout %s: %w", p.ID, err)
				}
				if !inserted || !amount.IsPositive() {
					continue
				}
				if _, err := st.Agents.AdjustBalance(ctx, p.AgentID, amount); err != nil {
					return fmt.Errorf("credit %s: %w", p.AgentID, err)
				}
			}
			return nil
		})
		if err != nil {
			return decimal.Zero, err
		}
		if batch < s.opts.PayoutBatchSize {
			break
		}
	}

	total, err := s.ledger.Stores().Payouts.SumByMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum payouts: %w", err)
	}
	return total, nil
}
