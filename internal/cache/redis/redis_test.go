package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

func setupTestRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis integration test skipped in -short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedis(t *testing.T) {
	c := setupTestRedis(t)
	ctx := context.Background()

	t.Run("lock excludes and times out", func(t *testing.T) {
		lm := NewLockManager(c)
		unlock, err := lm.Acquire(ctx, "market:m1", 5*time.Second)
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err = lm.Acquire(waitCtx, "market:m1", 5*time.Second)
		assert.True(t, errors.Is(err, domain.ErrLockHeld), "got %v", err)

		unlock()
		unlock()
		again, err := lm.Acquire(ctx, "market:m1", 5*time.Second)
		require.NoError(t, err)
		again()
	})

	t.Run("lock serializes holders", func(t *testing.T) {
		lm := NewLockManager(c)
		var (
			mu      sync.Mutex
			holders int
			maxSeen int
			wg      sync.WaitGroup
		)
		for range 6 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := lm.Acquire(ctx, "market:m2", 5*time.Second)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				holders++
				maxSeen = max(maxSeen, holders)
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxSeen)
	})

	t.Run("rate limiter window", func(t *testing.T) {
		rl := NewRateLimiter(c)
		for i := range 3 {
			ok, err := rl.Allow(ctx, "agent:a", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "request %d", i)
		}
		ok, err := rl.Allow(ctx, "agent:a", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = rl.Allow(ctx, "agent:b", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("bus delivers and retains", func(t *testing.T) {
		bus := NewSignalBus(c)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch, err := bus.Subscribe(subCtx, domain.ChannelTrades)
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte(`{"n":1}`)))
		require.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte(`{"n":2}`)))

		select {
		case msg := <-ch:
			assert.JSONEq(t, `{"n":1}`, string(msg))
		case <-time.After(5 * time.Second):
			t.Fatal("no message delivered")
		}

		recent, err := bus.Recent(ctx, domain.ChannelTrades, 10)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.JSONEq(t, `{"n":2}`, string(recent[1]))

		none, err := bus.Recent(ctx, "unused", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestClientKeyNamespace(t *testing.T) {
	c := &Client{prefix: DefaultKeyPrefix}
	assert.Equal(t, "agentmarket:lock:market:m1", c.Key("lock", "market:m1"))
	assert.Equal(t, "agentmarket:events:trades", c.Key("events", "trades"))
}
