package middleware

import (
	"context"
	"net/http"

	"github.com/signalix/identity/internal/http/respond"
	"github.com/signalix/identity/internal/ratelimit"
)

// Throttler counts one request for a client address.
type Throttler interface {
	Throttle(ctx context.Context, ip string) error
}

// ThrottleByIP rejects clients over the per-IP limit with 429.
func ThrottleByIP(t Throttler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := t.Throttle(r.Context(), ratelimit.ClientIP(r)); err != nil {
				respond.Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
