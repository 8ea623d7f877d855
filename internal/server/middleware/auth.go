package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

// Authenticator resolves an API key to the agent that owns it.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (domain.Agent, error)
}

type agentKey struct{}

// WithAgent returns a copy of ctx carrying the authenticated agent.
func WithAgent(ctx context.Context, a domain.Agent) context.Context {
	return context.WithValue(ctx, agentKey{}, a)
}

// AgentFromContext returns the agent stored by RequireAgent.
func AgentFromContext(ctx context.Context) (domain.Agent, bool) {
	a, ok := ctx.Value(agentKey{}).(domain.Agent)
	return a, ok
}

// RequireAgent returns middleware that authenticates the request with a
// Bearer token in the Authorization header or a key in the X-API-Key header
// and stores the agent in the request context. Requests without a valid key
// are rejected with 401.
func RequireAgent(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			agent, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrNotFound) {
					writeUnauthorized(w, "invalid authentication token")
					return
				}
				writeJSONError(w, http.StatusInternalServerError, "authentication unavailable")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), agent)))
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	// Check Authorization: Bearer <token>
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Check X-API-Key header.
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="agentmarket"`)
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
