// Package notify delivers operator alerts about the ledger (consistency
// violations, interrupted settlements, resolved markets) to chat channels.
// Alerts can be filtered by event type, and repeats of the same alert are
// suppressed for a cooldown so a flapping check does not flood the channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event types raised by the market services.
const (
	EventConsistencyError = "consistency_error"
	EventSettlementFailed = "settlement_failed"
	EventMarketResolved   = "market_resolved"
)

// DefaultCooldown is how long an identical alert is suppressed after it was
// sent.
const DefaultCooldown = 5 * time.Minute

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. Only event types in the
// allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders  []Sender
	events   map[string]bool // allowed event types
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed. A cooldown of zero
// disables repeat suppression.
func NewNotifier(senders []Sender, events []string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "notifier")),
		now:      time.Now,
		sent:     make(map[string]time.Time),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends an alert to all senders if its event type is allowed and the
// same alert was not sent within the cooldown.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	if n.suppressed(event, title, message) {
		n.logger.DebugContext(ctx, "repeat alert suppressed",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, fmt.Sprintf("[%s] %s", event, title), message)
}

func (n *Notifier) suppressed(event, title, message string) bool {
	if n.cooldown <= 0 {
		return false
	}
	key := event + "\x00" + title + "\x00" + message
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()
	for k, at := range n.sent {
		if now.Sub(at) >= n.cooldown {
			delete(n.sent, k)
		}
	}
	if _, ok := n.sent[key]; ok {
		return true
	}
	n.sent[key] = now
	return false
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the remaining senders; all failures are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), err)
	}
	return nil
}
