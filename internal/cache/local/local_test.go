package local

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManagerExcludesSameKey(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lm.Acquire(ctx, "market:1", time.Second)
			require.NoError(t, err)
			defer unlock()

			mu.Lock()
			inside++
			maxInside = max(maxInside, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Empty(t, lm.locks)
}

func TestLockManagerIndependentKeys(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	u1, err := lm.Acquire(ctx, "market:1", time.Second)
	require.NoError(t, err)
	defer u1()

	u2, err := lm.Acquire(ctx, "market:2", time.Second)
	require.NoError(t, err)
	u2()
}

func TestLockManagerTimesOut(t *testing.T) {
	lm := NewLockManager()

	unlock, err := lm.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lm.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	again()
}

func TestLockManagerCancelIsNotContention(t *testing.T) {
	lm := NewLockManager()

	unlock, err := lm.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = lm.Acquire(ctx, "k", time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrLockHeld)
}

func TestRateLimiterBudget(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "ip", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBusPatternFanOut(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trades, err := bus.Subscribe(ctx, "trades")
	require.NoError(t, err)
	all, err := bus.Subscribe(ctx, "*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "trades", []byte("t")))
	require.NoError(t, bus.Publish(ctx, "resolutions", []byte("r")))

	assert.Equal(t, []byte("t"), <-trades)
	assert.Equal(t, []byte("t"), <-all)
	assert.Equal(t, []byte("r"), <-all)

	select {
	case msg := <-trades:
		t.Fatalf("unexpected message %q", msg)
	default:
	}

	cancel()
	_, open := <-trades
	for open {
		_, open = <-trades
	}
}

func TestSignalBusRecent(t *testing.T) {
	bus := NewSignalBus()
	ctx := context.Background()

	for i := 0; i < historyLimit+5; i++ {
		require.NoError(t, bus.Publish(ctx, "trades", []byte(strconv.Itoa(i))))
	}

	last, err := bus.Recent(ctx, "trades", 2)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte(strconv.Itoa(historyLimit + 3)), []byte(strconv.Itoa(historyLimit + 4))}, last)

	all, err := bus.Recent(ctx, "trades", 0)
	require.NoError(t, err)
	assert.Len(t, all, historyLimit)

	none, err := bus.Recent(ctx, "resolutions", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
