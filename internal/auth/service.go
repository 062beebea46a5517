// Package auth orchestrates the passwordless flows. Each operation is a short
// sequence of calls to the magic-link, identity and rate-limit actors; there
// is no cross-actor transaction, so a failure part way surfaces to the caller
// and nothing is retried here.
package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/clock"
	"github.com/signalix/identity/internal/identity"
	"github.com/signalix/identity/internal/magiclink"
	"github.com/signalix/identity/internal/mail"
	"github.com/signalix/identity/internal/ratelimit"
	"github.com/signalix/identity/internal/token"
)

// Options configures redirects and link construction.
type Options struct {
	// PublicBaseURL prefixes the verify link sent by email.
	PublicBaseURL string
	// SiteName appears in the email body.
	SiteName string
	// DefaultRedirectURL is used when neither the link nor its app names one.
	DefaultRedirectURL string
	// AppRedirectURLs maps appId to its landing URL.
	AppRedirectURLs map[string]string
	// AllowedOrigins restricts redirectUri when non-empty.
	AllowedOrigins []string
}

// Service orchestrates authentication operations
type Service struct {
	links      *magiclink.Client
	identities *identity.Client
	limiter    ratelimit.Limiter
	codec      *token.Codec
	mailer     mail.Sender
	clock      clock.Clock
	opts       Options
	logger     *slog.Logger
}

// Deps are the components the service calls.
type Deps struct {
	Links      *magiclink.Client
	Identities *identity.Client
	Limiter    ratelimit.Limiter
	Codec      *token.Codec
	Mailer     mail.Sender
	Clock      clock.Clock
	Logger     *slog.Logger
}

// NewService creates a new auth service
func NewService(deps Deps, opts Options) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.DefaultRedirectURL == "" {
		opts.DefaultRedirectURL = "/"
	}
	if opts.SiteName == "" {
		opts.SiteName = "Signalix"
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Service{
		links:      deps.Links,
		identities: deps.Identities,
		limiter:    deps.Limiter,
		codec:      deps.Codec,
		mailer:     deps.Mailer,
		clock:      deps.Clock,
		opts:       opts,
		logger:     deps.Logger,
	}
}

// limited applies rule to key. Counters are advisory, so a limiter failure
// is logged and the request goes through.
func (s *Service) limited(ctx context.Context, key string, rule ratelimit.Rule) bool {
	limited, err := ratelimit.Apply(ctx, s.limiter, key, rule)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WarnContext(ctx, "rate limiter unavailable", "err", err)
		}
		return false
	}
	return limited
}

// Throttle applies the per-IP limit of the public auth routes.
func (s *Service) Throttle(ctx context.Context, ip string) error {
	if s.limited(ctx, ratelimit.IPKey(ip), ratelimit.PerIP) {
		return apperr.RateLimited()
	}
	return nil
}

var errUnauthorized = apperr.Unauthenticated(apperr.CodeUnauthorized, "unauthorized")
