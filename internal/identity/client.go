package identity

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/signalix/identity/internal/actor"
	"github.com/signalix/identity/internal/model"
)

// Client is the typed caller side of the identity actors.
type Client struct {
	ns *actor.Namespace
}

// NewClient wraps ns.
func NewClient(ns *actor.Namespace) *Client {
	return &Client{ns: ns}
}

func (c *Client) user(userID string) *actor.Stub {
	return c.ns.Get(userID)
}

// Keys lists every user id with persisted state.
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	return c.ns.Keys(ctx)
}

// GetUser loads the user.
func (c *Client) GetUser(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	err := c.user(userID).Call(ctx, http.MethodGet, "/user", nil, &u)
	return u, err
}

// CreateUser creates the user owning email. It fails with USER_EXISTS if the
// user was already created.
func (c *Client) CreateUser(ctx context.Context, email, displayName string) (model.User, error) {
	var u model.User
	err := c.user(UserID(email)).Call(ctx, http.MethodPost, "/user", createUserRequest{Email: email, DisplayName: displayName}, &u)
	return u, err
}

// UpdateUser applies patch to the profile.
func (c *Client) UpdateUser(ctx context.Context, userID string, patch UserPatch) (model.User, error) {
	var u model.User
	err := c.user(userID).Call(ctx, http.MethodPatch, "/user", patch, &u)
	return u, err
}

// UpdatePreferences applies patch to the preferences.
func (c *Client) UpdatePreferences(ctx context.Context, userID string, patch PreferencesPatch) (model.User, error) {
	var u model.User
	err := c.user(userID).Call(ctx, http.MethodPatch, "/user/preferences", patch, &u)
	return u, err
}

// SessionInfo describes the client a session is created for.
type SessionInfo struct {
	AppID     *string
	IPAddress *string
	UserAgent *string
}

// CreateSession links a new session to the refresh token id.
func (c *Client) CreateSession(ctx context.Context, userID, refreshTokenID string, info SessionInfo) (model.Session, error) {
	var s model.Session
	req := createSessionRequest{
		RefreshTokenID: refreshTokenID,
		AppID:          info.AppID,
		IPAddress:      info.IPAddress,
		UserAgent:      info.UserAgent,
	}
	err := c.user(userID).Call(ctx, http.MethodPost, "/sessions", req, &s)
	return s, err
}

// GetSession finds the session linked to refreshTokenID.
func (c *Client) GetSession(ctx context.Context, userID, refreshTokenID string) (model.Session, error) {
	var s model.Session
	err := c.user(userID).Call(ctx, http.MethodGet, "/sessions/by-token/"+url.PathEscape(refreshTokenID), nil, &s)
	return s, err
}

// UpdateSession sets the session's lastAccessedAt.
func (c *Client) UpdateSession(ctx context.Context, userID, sessionID string, lastAccessedAt time.Time) (model.Session, error) {
	var s model.Session
	err := c.user(userID).Call(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(sessionID), SessionUpdate{LastAccessedAt: &lastAccessedAt}, &s)
	return s, err
}

// ListSessions returns the sessions, most recently used first.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	var list []model.Session
	err := c.user(userID).Call(ctx, http.MethodGet, "/sessions", nil, &list)
	return list, err
}

// RevokeSession deletes one session and returns it.
func (c *Client) RevokeSession(ctx context.Context, userID, sessionID string) (model.Session, error) {
	var s model.Session
	err := c.user(userID).Call(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, &s)
	return s, err
}

// RevokeAllSessions deletes every session and returns them.
func (c *Client) RevokeAllSessions(ctx context.Context, userID string) ([]model.Session, error) {
	var list []model.Session
	err := c.user(userID).Call(ctx, http.MethodDelete, "/sessions", nil, &list)
	return list, err
}

// CleanupExpiredSessions deletes expired sessions and returns how many went.
func (c *Client) CleanupExpiredSessions(ctx context.Context, userID string) (int64, error) {
	var out cleanupResponse
	err := c.user(userID).Call(ctx, http.MethodPost, "/sessions/cleanup", nil, &out)
	return out.Sessions, err
}
