package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen is the approximate maximum length for the event history
// streams, enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live fan-out
// and a capped Redis Stream per channel so late subscribers can catch up.
type SignalBus struct {
	rdb  *redis.Client
	keys *Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying(), keys: c}
}

func (sb *SignalBus) streamKey(channel string) string {
	return sb.keys.Key("events", channel)
}

func (sb *SignalBus) pubsubChannel(channel string) string {
	return sb.keys.Key("bus", channel)
}

// Publish appends payload to the channel's stream and broadcasts it on the
// Pub/Sub channel in one round trip.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := sb.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: sb.streamKey(channel),
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"payload": payload},
		})
		p.Publish(ctx, sb.pubsubChannel(channel), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Redis Pub/Sub subscription and returns a read-only
// channel that emits raw byte payloads. The subscription is automatically
// closed when the context is cancelled; the returned channel is closed at
// that point as well.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, sb.pubsubChannel(channel))
	} else {
		pubsub = sb.rdb.Subscribe(ctx, sb.pubsubChannel(channel))
	}

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern returns true when the Redis channel includes glob-style
// wildcards, in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// Recent returns up to count payloads from the channel's stream, oldest
// first. A channel that never published returns no payloads.
func (sb *SignalBus) Recent(ctx context.Context, channel string, count int) ([][]byte, error) {
	msgs, err := sb.rdb.XRevRangeN(ctx, sb.streamKey(channel), "+", "-", int64(count)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", channel, err)
	}

	out := make([][]byte, 0, len(msgs))
	for _, msg := range slices.Backward(msgs) {
		switch v := msg.Values["payload"].(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		}
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.SignalBus    = (*SignalBus)(nil)
	_ domain.EventHistory = (*SignalBus)(nil)
)
