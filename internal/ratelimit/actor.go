package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/signalix/identity/internal/actor"
	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/clock"
)

const NamespaceName = "ratelimit"

// NewNamespace returns the volatile namespace holding one counter per key.
func NewNamespace(idle time.Duration, logger *slog.Logger, clk clock.Clock) *actor.Namespace {
	return actor.NewNamespace(actor.Options{
		Name:        NamespaceName,
		IdleTimeout: idle,
		Logger:      logger,
	}, func(string, *sqlx.DB) http.Handler {
		c := &counter{clock: clk}
		c.router = c.routes()
		return c
	})
}

// counter is the in-memory state of one key. It lives as long as its actor
// instance, and the instance is not retired for idleness while a window is
// open.
type counter struct {
	clock   clock.Clock
	router  http.Handler
	count   int
	resetAt time.Time
	active  bool
}

func (c *counter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.router.ServeHTTP(w, r)
}

var _ actor.Keeper = (*counter)(nil)

// KeepAlive implements actor.Keeper.
func (c *counter) KeepAlive() bool {
	return c.active && !c.clock.Now().After(c.resetAt)
}

func (c *counter) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/check", c.handleCheck)
	r.Post("/reset", c.handleReset)
	return r
}

type checkRequest struct {
	Limit    int   `json:"limit"`
	WindowMs int64 `json:"windowMs"`
}

type checkResponse struct {
	Limited bool      `json:"limited"`
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

func (c *counter) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := actor.Decode(r, &req); err != nil {
		actor.WriteError(w, err)
		return
	}
	if req.Limit <= 0 || req.WindowMs <= 0 {
		actor.WriteError(w, apperr.Validation(apperr.CodeValidation, "limit and window must be positive"))
		return
	}

	now := c.clock.Now()
	limited := false
	switch {
	case !c.active || now.After(c.resetAt):
		c.active = true
		c.count = 1
		c.resetAt = now.Add(time.Duration(req.WindowMs) * time.Millisecond)
	case c.count >= req.Limit:
		limited = true
	default:
		c.count++
	}
	actor.WriteJSON(w, http.StatusOK, checkResponse{Limited: limited, Count: c.count, ResetAt: c.resetAt})
}

func (c *counter) handleReset(w http.ResponseWriter, _ *http.Request) {
	c.active = false
	c.count = 0
	c.resetAt = time.Time{}
	actor.WriteJSON(w, http.StatusOK, checkResponse{})
}

// ActorLimiter backs Limiter with volatile per-key actors.
type ActorLimiter struct {
	ns *actor.Namespace
}

// NewActorLimiter wraps a namespace built by NewNamespace.
func NewActorLimiter(ns *actor.Namespace) *ActorLimiter {
	return &ActorLimiter{ns: ns}
}

func (l *ActorLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	var out checkResponse
	req := checkRequest{Limit: limit, WindowMs: window.Milliseconds()}
	if err := l.ns.Get(key).Call(ctx, http.MethodPost, "/check", req, &out); err != nil {
		return false, err
	}
	return out.Limited, nil
}

func (l *ActorLimiter) Reset(ctx context.Context, key string) error {
	return l.ns.Get(key).Call(ctx, http.MethodPost, "/reset", nil, nil)
}
