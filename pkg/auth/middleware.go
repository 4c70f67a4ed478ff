package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jkoenig/runbox/pkg/debug"
)

// DefaultBypassEndpoints are reachable without credentials.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// MiddlewareConfig configures the auth middleware.
type MiddlewareConfig struct {
	// Chain performs the actual authentication.
	Chain *AuthChain

	// BypassEndpoints skip auth entirely (exact path match).
	// Nil means DefaultBypassEndpoints.
	BypassEndpoints []string
}

// Middleware wraps next with authentication. Requests that fail the chain
// receive a JSON error body; successful ones carry the identity in their
// context.
func Middleware(cfg MiddlewareConfig, next http.Handler) http.Handler {
	bypass := make(map[string]struct{})
	endpoints := cfg.BypassEndpoints
	if endpoints == nil {
		endpoints = DefaultBypassEndpoints
	}
	for _, ep := range endpoints {
		bypass[ep] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := bypass[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		res := cfg.Chain.Authenticate(r)
		if res.Decision != Yes {
			status := http.StatusUnauthorized
			msg := "authentication required"
			if res.Err != nil && !errors.Is(res.Err, ErrUnauthenticated) {
				if errors.Is(res.Err, ErrForbidden) {
					status = http.StatusForbidden
					msg = "forbidden"
				} else {
					msg = "invalid credentials"
				}
			}
			debug.Log("auth", "request denied",
				slog.String("path", r.URL.Path),
				slog.String("reason", msg))
			writeAuthError(w, status, msg)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), res.Identity)))
	})
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"kind": "auth", "message": msg},
	})
}
