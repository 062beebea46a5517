// Package magiclink owns one-time sign-in tokens and the refresh-token
// revocation list. Both live in a single durable actor addressed by
// GlobalKey, so every issue, verify and revocation check is ordered against
// the same total order.
package magiclink

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/signalix/identity/internal/actor"
	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/clock"
	"github.com/signalix/identity/internal/db"
	"github.com/signalix/identity/internal/model"
	"github.com/signalix/identity/internal/repo"
)

const (
	// NamespaceName names the actor namespace and its storage.
	NamespaceName = "magiclink"
	// GlobalKey is the only key of the namespace.
	GlobalKey = "global"

	TokenTTL    = 15 * time.Minute
	MaxAttempts = 5
	tokenBytes  = 32
)

// NewNamespace returns the durable namespace hosting the magic-link actor.
func NewNamespace(opener actor.Opener, idle time.Duration, logger *slog.Logger, clk clock.Clock) *actor.Namespace {
	return actor.NewNamespace(actor.Options{
		Name:        NamespaceName,
		Opener:      opener,
		Migrations:  db.MustMigrations("magiclink"),
		IdleTimeout: idle,
		Logger:      logger,
	}, NewFactory(clk))
}

// NewFactory builds magic-link actor instances over their private store.
func NewFactory(clk clock.Clock) actor.Factory {
	return func(_ string, store *sqlx.DB) http.Handler {
		a := &linkActor{
			tokens:      repo.NewTokenRepo(store),
			revocations: repo.NewRevocationRepo(store),
			clock:       clk,
		}
		return a.routes()
	}
}

type linkActor struct {
	tokens      repo.TokenRepo
	revocations repo.RevocationRepo
	clock       clock.Clock
}

func (a *linkActor) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/tokens", a.handleIssue)
	r.Post("/tokens/verify", a.handleVerify)
	r.Post("/revocations", a.handleRevoke)
	r.Get("/revocations/{jti}", a.handleIsRevoked)
	r.Post("/cleanup", a.handleCleanup)
	return r
}

type issueRequest struct {
	Email       string  `json:"email"`
	AppID       *string `json:"appId,omitempty"`
	RedirectURI *string `json:"redirectUri,omitempty"`
}

type issueResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (a *linkActor) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := actor.Decode(r, &req); err != nil {
		actor.WriteError(w, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		actor.WriteError(w, apperr.Validation(apperr.CodeValidation, "email is required"))
		return
	}

	token, err := generateToken()
	if err != nil {
		actor.WriteError(w, fmt.Errorf("generate token: %w", err))
		return
	}
	now := a.clock.Now()
	t := model.MagicLinkToken{
		Token:       token,
		Email:       email,
		AppID:       req.AppID,
		RedirectURI: req.RedirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(TokenTTL),
	}
	if err := a.tokens.Create(r.Context(), t); err != nil {
		actor.WriteError(w, err)
		return
	}
	actor.WriteJSON(w, http.StatusCreated, issueResponse{Token: token, ExpiresAt: t.ExpiresAt})
}

type verifyRequest struct {
	Token string `json:"token"`
}

// handleVerify checks the token and consumes it. The attempt is recorded
// before the token is marked used, so a consumption that fails half way
// still counts against MaxAttempts.
func (a *linkActor) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := actor.Decode(r, &req); err != nil {
		actor.WriteError(w, err)
		return
	}
	ctx := r.Context()

	tok, err := a.tokens.Get(ctx, req.Token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			actor.WriteError(w, apperr.Validation(apperr.CodeInvalidToken, "invalid magic link"))
			return
		}
		actor.WriteError(w, err)
		return
	}

	now := a.clock.Now()
	switch {
	case tok.UsedAt != nil:
		actor.WriteError(w, apperr.Validation(apperr.CodeTokenAlreadyUsed, "magic link has already been used"))
		return
	case now.After(tok.ExpiresAt):
		actor.WriteError(w, apperr.Validation(apperr.CodeTokenExpired, "magic link has expired"))
		return
	case tok.Attempts >= MaxAttempts:
		actor.WriteError(w, apperr.Validation(apperr.CodeTooManyAttempts, "too many attempts for this magic link"))
		return
	}

	if _, err := a.tokens.IncrementAttempts(ctx, tok.Token); err != nil {
		actor.WriteError(w, err)
		return
	}
	if err := a.tokens.MarkUsed(ctx, tok.Token, now); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			actor.WriteError(w, apperr.Validation(apperr.CodeTokenAlreadyUsed, "magic link has already been used"))
			return
		}
		actor.WriteError(w, err)
		return
	}

	actor.WriteJSON(w, http.StatusOK, model.LinkClaims{
		Email:       tok.Email,
		AppID:       tok.AppID,
		RedirectURI: tok.RedirectURI,
	})
}

type revokeRequest struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (a *linkActor) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := actor.Decode(r, &req); err != nil {
		actor.WriteError(w, err)
		return
	}
	if req.JTI == "" {
		actor.WriteError(w, apperr.Validation(apperr.CodeValidation, "jti is required"))
		return
	}
	entry := model.RevocationEntry{JTI: req.JTI, RevokedAt: a.clock.Now(), ExpiresAt: req.ExpiresAt}
	if err := a.revocations.Upsert(r.Context(), entry); err != nil {
		actor.WriteError(w, err)
		return
	}
	actor.WriteJSON(w, http.StatusOK, entry)
}

type revokedResponse struct {
	Revoked bool `json:"revoked"`
}

func (a *linkActor) handleIsRevoked(w http.ResponseWriter, r *http.Request) {
	revoked, err := a.revocations.IsRevoked(r.Context(), chi.URLParam(r, "jti"))
	if err != nil {
		actor.WriteError(w, err)
		return
	}
	actor.WriteJSON(w, http.StatusOK, revokedResponse{Revoked: revoked})
}

// CleanupResult counts rows purged by a cleanup run.
type CleanupResult struct {
	Tokens      int64 `json:"tokens"`
	Revocations int64 `json:"revocations"`
}

func (a *linkActor) handleCleanup(w http.ResponseWriter, r *http.Request) {
	now := a.clock.Now()
	var res CleanupResult
	var err error
	if res.Tokens, err = a.tokens.DeleteExpired(r.Context(), now); err != nil {
		actor.WriteError(w, err)
		return
	}
	if res.Revocations, err = a.revocations.DeleteExpired(r.Context(), now); err != nil {
		actor.WriteError(w, err)
		return
	}
	actor.WriteJSON(w, http.StatusOK, res)
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
