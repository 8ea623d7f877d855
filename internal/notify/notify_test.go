package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventConsistencyError, " "}, 0, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventMarketResolved, "resolved", "m1"))
	require.NoError(t, n.Notify(context.Background(), EventConsistencyError, "drift", "m1"))

	assert.Equal(t, []string{"[consistency_error] drift"}, s.titles)
}

func TestNotifierSuppressesRepeats(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, time.Minute, discardLogger())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventSettlementFailed, "stuck", "m1"))
	require.NoError(t, n.Notify(ctx, EventSettlementFailed, "stuck", "m1"))
	require.NoError(t, n.Notify(ctx, EventSettlementFailed, "stuck", "m2"))
	assert.Len(t, s.titles, 2)

	now = now.Add(2 * time.Minute)
	require.NoError(t, n.Notify(ctx, EventSettlementFailed, "stuck", "m1"))
	assert.Len(t, s.titles, 3)
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 0, discardLogger())

	err := n.Notify(context.Background(), EventMarketResolved, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, good.titles, 1)
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, 0, discardLogger()).Enabled())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Replay mismatch", "market_1 drift"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Replay mismatch*\nmarket\\_1 drift", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "fail") {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "ok", "fine"))

	err := s.Send(context.Background(), "fail", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
