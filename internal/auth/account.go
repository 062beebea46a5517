package auth

import (
	"context"
	"fmt"

	"github.com/signalix/identity/internal/identity"
	"github.com/signalix/identity/internal/model"
)

func (s *Service) GetUser(ctx context.Context, userID string) (model.User, error) {
	return s.identities.GetUser(ctx, userID)
}

func (s *Service) UpdateUser(ctx context.Context, userID string, patch identity.UserPatch) (model.User, error) {
	return s.identities.UpdateUser(ctx, userID, patch)
}

func (s *Service) UpdatePreferences(ctx context.Context, userID string, patch identity.PreferencesPatch) (model.User, error) {
	return s.identities.UpdatePreferences(ctx, userID, patch)
}

func (s *Service) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	return s.identities.ListSessions(ctx, userID)
}

// RevokeSession deletes one session and puts its refresh token on the
// revocation list.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	session, err := s.identities.RevokeSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	return s.revokeSessions(ctx, session)
}

// RevokeAllSessions signs the user out everywhere and returns how many
// sessions were closed.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	sessions, err := s.identities.RevokeAllSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.revokeSessions(ctx, sessions...); err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (s *Service) revokeSessions(ctx context.Context, sessions ...model.Session) error {
	for _, sess := range sessions {
		if err := s.links.Revoke(ctx, sess.RefreshTokenID, sess.ExpiresAt); err != nil {
			return fmt.Errorf("revoke session %s: %w", sess.ID, err)
		}
	}
	return nil
}
