package middleware

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/cache/local"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestCORSRestrictsOrigins(t *testing.T) {
	h := CORS([]string{"https://agents.example"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://AGENTS.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://AGENTS.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(nil)(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/api/trade", nil)
	req.Header.Set("Origin", "https://any.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestLoggingSetsRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Logging(logger)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "client-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-123", rec.Header().Get(RequestIDHeader))
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, extractToken(req))

	req.Header.Set("Authorization", "Bearer am_abc")
	assert.Equal(t, "am_abc", extractToken(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "am_def")
	assert.Equal(t, "am_def", extractToken(req))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", clientIP(req, false))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "10.0.0.7", clientIP(req, false), "forwarding headers ignored without a trusted proxy")
	assert.Equal(t, "203.0.113.9", clientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", clientIP(req, true))
}

func TestRateLimitIgnoresPresentedKeys(t *testing.T) {
	limiter := local.NewRateLimiter()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(limiter, 2, time.Minute, false, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 5)
	for i := range 5 {
		req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
		req.RemoteAddr = "10.0.0.7:5555"
		req.Header.Set("Authorization", fmt.Sprintf("Bearer am_bogus_%d", i))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{204, 204, 429, 429, 429}, codes)
}

func TestAgentRateLimit(t *testing.T) {
	limiter := local.NewRateLimiter()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := AgentRateLimit(limiter, 1, time.Minute, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(agentID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/trade", nil)
		if agentID != "" {
			req = req.WithContext(WithAgent(req.Context(), domain.Agent{ID: agentID}))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("a1"))
	assert.Equal(t, http.StatusTooManyRequests, call("a1"))
	assert.Equal(t, http.StatusNoContent, call("a2"))
	assert.Equal(t, http.StatusNoContent, call(""))
	assert.Equal(t, http.StatusNoContent, call(""))
}
