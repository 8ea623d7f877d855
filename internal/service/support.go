// Package service implements the market operations on top of the domain
// stores: trading, resolution and settlement, and the read-side
// reconstructions (price history, agent performance, leaderboard).
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

// Alerter delivers operator notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// LedgerOptions tunes locking and settlement.
type LedgerOptions struct {
	// LockTTL bounds how long a crashed holder can keep a distributed market
	// lock.
	LockTTL time.Duration
	// LockWait bounds how long an operation queues behind another writer of
	// the same market.
	LockWait time.Duration
	// PayoutBatchSize is the number of positions settled per transaction.
	PayoutBatchSize int
}

// DefaultLedgerOptions returns the options used when config leaves them unset.
func DefaultLedgerOptions() LedgerOptions {
	return LedgerOptions{
		LockTTL:         30 * time.Second,
		LockWait:        10 * time.Second,
		PayoutBatchSize: 200,
	}
}

func (o LedgerOptions) withDefaults() LedgerOptions {
	def := DefaultLedgerOptions()
	if o.LockTTL <= 0 {
		o.LockTTL = def.LockTTL
	}
	if o.LockWait <= 0 {
		o.LockWait = def.LockWait
	}
	if o.PayoutBatchSize <= 0 {
		o.PayoutBatchSize = def.PayoutBatchSize
	}
	return o
}

func marketLockKey(marketID string) string {
	return "market:" + marketID
}

// lockMarket takes the per-market writer lock shared by trades and
// resolution.
func lockMarket(ctx context.Context, locks domain.LockManager, marketID string, opts LedgerOptions) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, opts.LockWait)
	defer cancel()

	unlock, err := locks.Acquire(waitCtx, marketLockKey(marketID), opts.LockTTL)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrLockHeld):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %w", domain.ErrLockHeld, err)
	default:
		// Lock backend failures and cancelled callers are not contention.
		return nil, fmt.Errorf("acquire market lock: %w", err)
	}
	return unlock, nil
}

// events bundles the best-effort side effects every writer performs after a
// commit: a bus event, an audit entry, and an operator alert for consistency
// failures.
type events struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	alerts Alerter
	logger *slog.Logger
}

func (e events) publish(ctx context.Context, channel string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	evt, _ := json.Marshal(payload)
	if err := e.bus.Publish(ctx, channel, evt); err != nil {
		e.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (e events) record(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e events) notify(ctx context.Context, event, title, message string) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// consistency logs and alerts err when it is a consistency violation. The
// error is always returned to the caller unchanged.
func (e events) consistency(ctx context.Context, op, marketID string, err error) {
	if !errors.Is(err, domain.ErrConsistency) {
		return
	}
	e.logger.ErrorContext(ctx, "consistency violation",
		slog.String("op", op),
		slog.String("market_id", marketID),
		slog.String("error", err.Error()),
	)
	e.notify(ctx, "consistency_error", "Ledger consistency violation",
		fmt.Sprintf("%s on market %s: %v", op, marketID, err))
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
