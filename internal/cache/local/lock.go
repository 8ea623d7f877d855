// Package local implements the domain cache interfaces in process memory for
// single-instance deployments and tests.
package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// LockManager implements domain.LockManager with one semaphore per key.
// Entries are reference counted and dropped once nobody holds or waits on
// them.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until key is free or ctx is done. The ttl is ignored: an
// in-process holder cannot disappear without running its unlock.
func (lm *LockManager) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	lm.mu.Lock()
	e, ok := lm.locks[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		lm.locks[key] = e
	}
	e.refs++
	lm.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		lm.release(key, e)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("local: acquire lock %s: %w", key, domain.ErrLockHeld)
		}
		return nil, fmt.Errorf("local: acquire lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			lm.release(key, e)
		})
	}, nil
}

func (lm *LockManager) release(key string, e *lockEntry) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(lm.locks, key)
	}
}

var _ domain.LockManager = (*LockManager)(nil)
