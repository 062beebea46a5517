package magiclink

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/signalix/identity/internal/actor"
	"github.com/signalix/identity/internal/model"
)

// Client is the typed caller side of the magic-link actor.
type Client struct {
	stub *actor.Stub
}

// NewClient addresses the global magic-link actor of ns.
func NewClient(ns *actor.Namespace) *Client {
	return &Client{stub: ns.Get(GlobalKey)}
}

// Issue mints a new one-time token for email.
func (c *Client) Issue(ctx context.Context, email string, appID, redirectURI *string) (string, error) {
	var out issueResponse
	err := c.stub.Call(ctx, http.MethodPost, "/tokens", issueRequest{Email: email, AppID: appID, RedirectURI: redirectURI}, &out)
	if err != nil {
		return "", err
	}
	return out.Token, nil
}

// Verify consumes token and returns what it was issued for.
func (c *Client) Verify(ctx context.Context, token string) (model.LinkClaims, error) {
	var out model.LinkClaims
	if err := c.stub.Call(ctx, http.MethodPost, "/tokens/verify", verifyRequest{Token: token}, &out); err != nil {
		return model.LinkClaims{}, err
	}
	return out, nil
}

// Revoke adds jti to the revocation list until expiresAt.
func (c *Client) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	return c.stub.Call(ctx, http.MethodPost, "/revocations", revokeRequest{JTI: jti, ExpiresAt: expiresAt}, nil)
}

// IsRevoked reports whether jti is on the revocation list.
func (c *Client) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var out revokedResponse
	if err := c.stub.Call(ctx, http.MethodGet, "/revocations/"+url.PathEscape(jti), nil, &out); err != nil {
		return false, err
	}
	return out.Revoked, nil
}

// CleanupExpired purges expired tokens and revocation entries.
func (c *Client) CleanupExpired(ctx context.Context) (CleanupResult, error) {
	var out CleanupResult
	if err := c.stub.Call(ctx, http.MethodPost, "/cleanup", nil, &out); err != nil {
		return CleanupResult{}, err
	}
	return out, nil
}
