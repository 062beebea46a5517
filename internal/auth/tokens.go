package auth

import (
	"context"
	"fmt"

	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/model"
	"github.com/signalix/identity/internal/ratelimit"
	"github.com/signalix/identity/internal/token"
)

// AccessResult is a freshly issued access token.
type AccessResult struct {
	AccessToken string
	ExpiresIn   int
}

var (
	errRevoked        = apperr.Unauthenticated(apperr.CodeUnauthorized, "token has been revoked")
	errExpired        = apperr.Unauthenticated(apperr.CodeUnauthorized, "token has expired")
	errInvalidSession = apperr.Unauthenticated(apperr.CodeInvalidSession, "session is no longer valid")
	errMissingTokens  = apperr.Unauthenticated(apperr.CodeMissingTokens, "access and refresh tokens are required")
)

// Refresh exchanges a refresh token for a new access token. The refresh token
// itself is not rotated.
func (s *Service) Refresh(ctx context.Context, raw string) (*AccessResult, error) {
	if raw == "" {
		return nil, errUnauthorized
	}
	claims, err := s.codec.VerifyRefresh(raw)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if claims.Expired(now) {
		return nil, errExpired
	}
	revoked, err := s.links.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, errRevoked
	}
	if s.limited(ctx, ratelimit.UserKey(claims.Subject), ratelimit.Refresh) {
		return nil, apperr.RateLimited()
	}

	user, err := s.identities.GetUser(ctx, claims.Subject)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeUserNotFound) {
			return nil, errUnauthorized
		}
		return nil, err
	}
	session, err := s.identities.GetSession(ctx, user.ID, claims.ID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeSessionNotFound) {
			return nil, errInvalidSession
		}
		return nil, err
	}
	if now.After(session.ExpiresAt) {
		return nil, errInvalidSession
	}
	if _, err := s.identities.UpdateSession(ctx, user.ID, session.ID, now); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	access, err := s.codec.IssueAccess(user, claims.AppID)
	if err != nil {
		return nil, err
	}
	return &AccessResult{AccessToken: access, ExpiresIn: int(token.AccessTTL.Seconds())}, nil
}

// Logout revokes the refresh token and deletes its session. Both tokens must
// carry valid signatures and belong to the same user.
func (s *Service) Logout(ctx context.Context, accessRaw, refreshRaw string) error {
	if accessRaw == "" || refreshRaw == "" {
		return errMissingTokens
	}
	access, err := s.codec.VerifyAccess(accessRaw)
	if err != nil {
		return err
	}
	refresh, err := s.codec.VerifyRefresh(refreshRaw)
	if err != nil {
		return err
	}
	if access.Subject != refresh.Subject {
		return errUnauthorized
	}
	revoked, err := s.links.IsRevoked(ctx, refresh.ID)
	if err != nil {
		return fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return errRevoked
	}

	if err := s.links.Revoke(ctx, refresh.ID, refresh.ExpiresAt.Time); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	session, err := s.identities.GetSession(ctx, refresh.Subject, refresh.ID)
	switch {
	case err == nil:
		if _, err := s.identities.RevokeSession(ctx, refresh.Subject, session.ID); err != nil && !apperr.HasCode(err, apperr.CodeSessionNotFound) {
			return fmt.Errorf("delete session: %w", err)
		}
	case apperr.HasCode(err, apperr.CodeSessionNotFound), apperr.HasCode(err, apperr.CodeUserNotFound):
	default:
		return fmt.Errorf("load session: %w", err)
	}
	s.logger.InfoContext(ctx, "logged out", "user_id", refresh.Subject)
	return nil
}

// Authenticate resolves a bearer access token to its user.
func (s *Service) Authenticate(ctx context.Context, raw string) (model.User, *token.Claims, error) {
	if raw == "" {
		return model.User{}, nil, errUnauthorized
	}
	claims, err := s.codec.VerifyAccess(raw)
	if err != nil {
		return model.User{}, nil, err
	}
	if claims.Expired(s.clock.Now()) {
		return model.User{}, nil, errExpired
	}
	user, err := s.identities.GetUser(ctx, claims.Subject)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeUserNotFound) {
			return model.User{}, nil, errUnauthorized
		}
		return model.User{}, nil, err
	}
	return user, claims, nil
}
