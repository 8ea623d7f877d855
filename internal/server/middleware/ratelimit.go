package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

// RateLimit returns middleware that applies per-IP rate limiting using the
// provided domain.RateLimiter, before any authentication. Each client gets
// `limit` requests per `window`. Forwarding headers are only trusted when
// trustProxy is set.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return limitBy(limiter, limit, window, logger, func(r *http.Request) string {
		return "ip:" + clientIP(r, trustProxy)
	})
}

// AgentRateLimit limits each authenticated agent to `limit` requests per
// `window`. It must run after RequireAgent; unauthenticated requests pass
// through.
func AgentRateLimit(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return limitBy(limiter, limit, window, logger, func(r *http.Request) string {
		if a, ok := AgentFromContext(r.Context()); ok {
			return "agent:" + a.ID
		}
		return ""
	})
}

// limitBy charges each request to the bucket named by key. An empty key is
// not limited.
func limitBy(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), k, limit, window)
			if err != nil {
				// Fail open.
				logger.WarnContext(r.Context(), "rate limiter unavailable",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(window.Seconds()))))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the remote address. Behind a trusted proxy it takes the
// first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.SplitN(xff, ",", 2)
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
