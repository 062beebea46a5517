package tests

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/signalix/identity/internal/actor"
	"github.com/signalix/identity/internal/auth"
	"github.com/signalix/identity/internal/clock"
	httphandler "github.com/signalix/identity/internal/http"
	"github.com/signalix/identity/internal/http/handlers"
	"github.com/signalix/identity/internal/identity"
	"github.com/signalix/identity/internal/magiclink"
	"github.com/signalix/identity/internal/mail"
	"github.com/signalix/identity/internal/ratelimit"
	"github.com/signalix/identity/internal/token"
)

// CleanupToken is the bearer accepted by /internal/cleanup in test stacks.
const CleanupToken = "test-cleanup-token"

// Stack is the full service wired the way cmd/api wires it, with a fake clock
// and an in-memory outbox in place of real time and email.
type Stack struct {
	Handler    http.Handler
	Service    *auth.Service
	Outbox     *mail.Outbox
	Clock      *clock.Fake
	namespaces []*actor.Namespace
}

// StackOptions tunes a Stack.
type StackOptions struct {
	AppRedirectURLs map[string]string
	AllowedOrigins  []string
	TrustProxy      bool
}

// NewStack builds a service over opener.
func NewStack(opener actor.Opener, clk *clock.Fake, key *rsa.PrivateKey, opts StackOptions) *Stack {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	linkNS := magiclink.NewNamespace(opener, 0, logger, clk)
	idNS := identity.NewNamespace(opener, 0, logger, clk)
	rlNS := ratelimit.NewNamespace(0, logger, clk)
	outbox := &mail.Outbox{}

	svc := auth.NewService(auth.Deps{
		Links:      magiclink.NewClient(linkNS),
		Identities: identity.NewClient(idNS),
		Limiter:    ratelimit.NewActorLimiter(rlNS),
		Codec:      token.NewCodec(key, &key.PublicKey, clk),
		Mailer:     outbox,
		Clock:      clk,
		Logger:     logger,
	}, auth.Options{
		PublicBaseURL:   "https://auth.example.com",
		AppRedirectURLs: opts.AppRedirectURLs,
		AllowedOrigins:  opts.AllowedOrigins,
	})

	router := httphandler.NewRouter(svc, httphandler.RouterConfig{
		AllowedOrigins: opts.AllowedOrigins,
		Cookies:        handlers.CookieOptions{Secure: true},
		CleanupToken:   CleanupToken,
		TrustProxy:     opts.TrustProxy,
		Logger:         logger,
	})

	return &Stack{
		Handler:    router,
		Service:    svc,
		Outbox:     outbox,
		Clock:      clk,
		namespaces: []*actor.Namespace{linkNS, idNS, rlNS},
	}
}

// Close drains every actor namespace of the stack.
func (s *Stack) Close() {
	for _, ns := range s.namespaces {
		_ = ns.Close()
	}
}

// DropActorSchemas removes every per-actor schema and the catalog so a
// Postgres-backed run starts empty.
func DropActorSchemas(ctx context.Context, root *sqlx.DB) error {
	var exists bool
	if err := root.GetContext(ctx, &exists, `SELECT to_regclass('public.actor_catalog') IS NOT NULL`); err != nil {
		return fmt.Errorf("check actor catalog: %w", err)
	}
	if !exists {
		return nil
	}
	var schemas []string
	if err := root.SelectContext(ctx, &schemas, `SELECT schema_name FROM public.actor_catalog`); err != nil {
		return fmt.Errorf("list actor schemas: %w", err)
	}
	for _, s := range schemas {
		if _, err := root.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+pq.QuoteIdentifier(s)+" CASCADE"); err != nil {
			return fmt.Errorf("drop schema %s: %w", s, err)
		}
	}
	if _, err := root.ExecContext(ctx, `TRUNCATE TABLE public.actor_catalog`); err != nil {
		return fmt.Errorf("truncate actor catalog: %w", err)
	}
	return nil
}
