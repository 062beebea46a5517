package auth

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/identity"
	"github.com/signalix/identity/internal/magiclink"
	mailer "github.com/signalix/identity/internal/mail"
	"github.com/signalix/identity/internal/model"
	"github.com/signalix/identity/internal/ratelimit"
	"github.com/signalix/identity/internal/token"
)

// LinkRequest asks for a magic link.
type LinkRequest struct {
	Email       string
	AppID       *string
	RedirectURI *string
}

// ClientInfo describes the caller of verify; it is stored on the session.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// VerifyResult is what a redeemed magic link yields.
type VerifyResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	RedirectURL  string
	User         model.User
	Session      model.Session
}

// RequestLink creates the user on first contact, issues a token and mails the
// link. Input is validated and the per-email limit applied before anything is
// written.
func (s *Service) RequestLink(ctx context.Context, req LinkRequest) error {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return err
	}
	if req.RedirectURI != nil {
		if err := s.checkRedirect(*req.RedirectURI); err != nil {
			return err
		}
	}
	if req.AppID != nil && strings.TrimSpace(*req.AppID) == "" {
		req.AppID = nil
	}

	if s.limited(ctx, ratelimit.EmailKey(email), ratelimit.RequestLink) {
		s.logger.InfoContext(ctx, "magic link rate limited", "email", mailer.MaskEmail(email))
		return apperr.RateLimited()
	}

	if err := s.ensureUser(ctx, email); err != nil {
		return err
	}

	tok, err := s.links.Issue(ctx, email, req.AppID, req.RedirectURI)
	if err != nil {
		return fmt.Errorf("issue magic link: %w", err)
	}

	msg := mailer.Message{
		To:       email,
		Link:     s.opts.PublicBaseURL + "/api/auth/verify?token=" + url.QueryEscape(tok),
		SiteName: s.opts.SiteName,
		Expiry:   magiclink.TokenTTL,
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}
	s.logger.InfoContext(ctx, "magic link sent", "email", mailer.MaskEmail(email))
	return nil
}

// ensureUser creates the user for email unless it exists. A concurrent
// creation losing the race is not an error.
func (s *Service) ensureUser(ctx context.Context, email string) error {
	_, err := s.identities.GetUser(ctx, identity.UserID(email))
	if err == nil {
		return nil
	}
	if !apperr.HasCode(err, apperr.CodeUserNotFound) {
		return fmt.Errorf("load user: %w", err)
	}
	local, _, _ := strings.Cut(email, "@")
	if _, err := s.identities.CreateUser(ctx, email, local); err != nil && !apperr.HasCode(err, apperr.CodeUserExists) {
		return fmt.Errorf("create user: %w", err)
	}
	s.logger.InfoContext(ctx, "user created", "email", mailer.MaskEmail(email))
	return nil
}

// Verify redeems a magic link and opens a session.
func (s *Service) Verify(ctx context.Context, raw string, client ClientInfo) (*VerifyResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperr.Validation(apperr.CodeInvalidToken, "token is required")
	}
	if s.limited(ctx, ratelimit.TokenKey(raw), ratelimit.Verify) {
		return nil, apperr.RateLimited()
	}

	claims, err := s.links.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}

	user, err := s.identities.GetUser(ctx, identity.UserID(claims.Email))
	if err != nil {
		return nil, err
	}

	jti := uuid.NewString()
	session, err := s.identities.CreateSession(ctx, user.ID, jti, identity.SessionInfo{
		AppID:     claims.AppID,
		IPAddress: optional(client.IPAddress),
		UserAgent: optional(client.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	access, err := s.codec.IssueAccess(user, claims.AppID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.IssueRefresh(user, jti, claims.AppID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "magic link verified", "email", mailer.MaskEmail(user.Email), "session_id", session.ID)
	return &VerifyResult{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(token.AccessTTL.Seconds()),
		RedirectURL:  s.redirectFor(claims),
		User:         user,
		Session:      session,
	}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := identity.NormalizeEmail(raw)
	if email == "" {
		return "", apperr.Validation(apperr.CodeValidation, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", apperr.Validation(apperr.CodeValidation, "email is invalid")
	}
	return email, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
