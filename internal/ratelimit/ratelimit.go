// Package ratelimit implements fixed-window counters keyed by arbitrary
// strings. Counters are advisory: losing one (eviction, restart, Redis
// flush) under-enforces the limit but never blocks a caller wrongly.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Limiter counts requests per key inside a fixed window.
type Limiter interface {
	// Check counts one request against key. It reports limited=true, without
	// counting, once limit requests were already seen in the current window.
	Check(ctx context.Context, key string, limit int, window time.Duration) (limited bool, err error)
	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error
}

// Rule is a limit applied to one family of keys.
type Rule struct {
	Limit  int
	Window time.Duration
}

var (
	RequestLink = Rule{Limit: 3, Window: time.Hour}
	Verify      = Rule{Limit: 5, Window: 15 * time.Minute}
	Refresh     = Rule{Limit: 10, Window: time.Hour}
	PerIP       = Rule{Limit: 30, Window: 10 * time.Minute}
)

// Apply checks key against rule.
func Apply(ctx context.Context, l Limiter, key string, rule Rule) (bool, error) {
	return l.Check(ctx, key, rule.Limit, rule.Window)
}

func EmailKey(email string) string { return "magic-link:" + email }
func TokenKey(token string) string { return "verify:" + token }
func UserKey(userID string) string { return "refresh:" + userID }
func IPKey(addr string) string { return "ip:" + addr }

// ClientIP returns the host of RemoteAddr. Forwarded headers are honoured
// only when the router runs chi's RealIP, which rewrites RemoteAddr behind a
// trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
