package domain

import (
	"context"
	"time"
)

// RateLimiter provides keyed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides keyed mutual exclusion.
type LockManager interface {
	// Acquire blocks until the lock for key is held or ctx is done, in which
	// case it returns an error wrapping ErrLockHeld. The returned unlock
	// function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides fire-and-forget pub/sub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// EventHistory is implemented by buses that retain recent payloads so a new
// subscriber can catch up.
type EventHistory interface {
	// Recent returns up to count payloads of channel, oldest first.
	Recent(ctx context.Context, channel string, count int) ([][]byte, error)
}
