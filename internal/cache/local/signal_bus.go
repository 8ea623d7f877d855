package local

import (
	"context"
	"path"
	"slices"
	"sync"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

const (
	subscriberBuffer = 128
	historyLimit     = 256
)

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus implements domain.SignalBus by fanning out to in-process
// subscribers. Slow subscribers drop messages rather than stall publishers.
// The last few payloads of each channel are kept for Recent.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	history map[string][][]byte
}

// NewSignalBus returns a bus with no subscribers.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[*subscriber]struct{}),
		history: make(map[string][][]byte),
	}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := append(b.history[channel], payload)
	if len(h) > historyLimit {
		h = slices.Clone(h[len(h)-historyLimit:])
	}
	b.history[channel] = h

	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel, which may be a
// glob pattern. The channel closes when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()

	return s.ch, nil
}

// Recent returns up to count payloads of channel, oldest first.
func (b *SignalBus) Recent(_ context.Context, channel string, count int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.history[channel]
	if count > 0 && len(h) > count {
		h = h[len(h)-count:]
	}
	return slices.Clone(h), nil
}

var (
	_ domain.SignalBus    = (*SignalBus)(nil)
	_ domain.EventHistory = (*SignalBus)(nil)
)
