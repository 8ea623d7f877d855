package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so a holder whose TTL expired cannot release the next holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	lockRetryMin = 5 * time.Millisecond
	lockRetryMax = 100 * time.Millisecond
)

// LockManager implements domain.LockManager using Redis SET NX with a TTL and
// a Lua-based conditional unlock.
type LockManager struct {
	rdb      *redis.Client
	keys     *Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		keys:     c,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.keys.Key("lock", key)
}

// Acquire waits for the distributed lock on key, polling with backoff until
// it is free or ctx is done. The TTL bounds how long a crashed holder keeps
// the lock. The returned unlock function is safe to call multiple times.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lm.lockKey(key)

	backoff := lockRetryMin
	for {
		ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, waitError(ctx, key)
			}
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, waitError(ctx, key)
		case <-timer.C:
		}
		backoff = min(backoff*2, lockRetryMax)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Use a background context so unlock succeeds even if the
			// caller's context is already cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)

// waitError reports a wait that ended with ctx. Only a deadline means the
// lock stayed held; a cancelled caller is not contention.
func waitError(ctx context.Context, key string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("redis: acquire lock %s: %w: %w", key, domain.ErrLockHeld, ctx.Err())
	}
	return fmt.Errorf("redis: acquire lock %s: %w", key, ctx.Err())
}
