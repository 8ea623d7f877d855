package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"golang.org/x/time/rate"
)

type limiterKey struct {
	key    string
	limit  int
	window time.Duration
}

// RateLimiter implements domain.RateLimiter with a token bucket per key. A
// bucket holds limit tokens and refills one every window/limit.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[limiterKey]*rate.Limiter
}

// NewRateLimiter returns an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[limiterKey]*rate.Limiter)}
}

// Allow reports whether one more request for key fits the budget.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	k := limiterKey{key: key, limit: limit, window: window}

	rl.mu.Lock()
	lim, ok := rl.limiters[k]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		rl.limiters[k] = lim
	}
	rl.mu.Unlock()

	return lim.Allow(), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
