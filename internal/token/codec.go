// Package token signs and verifies the service's bearer tokens with RS256.
//
// The codec checks signature and shape only. Expiry, revocation and session
// linkage are the caller's business.
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/clock"
	"github.com/signalix/identity/internal/model"
)

const (
	AccessTTL  = time.Hour
	RefreshTTL = 30 * 24 * time.Hour
)

// Type distinguishes access from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the payload of either token type. Email is set on access tokens
// only, ID (jti) on refresh tokens only.
type Claims struct {
	Email string  `json:"email,omitempty"`
	Type  Type    `json:"type"`
	AppID *string `json:"appId,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the sub claim.
func (c *Claims) UserID() string { return c.Subject }

// Expired reports whether the token is past its exp at now.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt == nil || now.After(c.ExpiresAt.Time)
}

// Codec issues and verifies tokens.
type Codec struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	clock   clock.Clock
	parser  *jwt.Parser
}

// NewCodec signs with private and verifies with public.
func NewCodec(private *rsa.PrivateKey, public *rsa.PublicKey, clk clock.Clock) *Codec {
	if public == nil && private != nil {
		public = &private.PublicKey
	}
	return &Codec{
		private: private,
		public:  public,
		clock:   clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// IssueAccess signs a one-hour access token for u.
func (c *Codec) IssueAccess(u model.User, appID *string) (string, error) {
	now := c.clock.Now()
	return c.sign(&Claims{
		Email: u.Email,
		Type:  TypeAccess,
		AppID: appID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTTL)),
		},
	})
}

// IssueRefresh signs a thirty-day refresh token carrying jti.
func (c *Codec) IssueRefresh(u model.User, jti string, appID *string) (string, error) {
	now := c.clock.Now()
	return c.sign(&Claims{
		Type:  TypeRefresh,
		AppID: appID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RefreshTTL)),
		},
	})
}

func (c *Codec) sign(claims *Claims) (string, error) {
	if c.private == nil {
		return "", errors.New("token codec has no signing key")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.private)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

var errInvalidToken = apperr.Unauthenticated(apperr.CodeInvalidToken, "invalid token")

// Verify checks the signature and that the payload is a well-formed access
// or refresh token. It does not check exp.
func (c *Codec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return c.public, nil
	})
	if err != nil {
		return nil, errInvalidToken
	}
	if !wellFormed(claims) {
		return nil, errInvalidToken
	}
	return claims, nil
}

// VerifyAccess is Verify restricted to access tokens.
func (c *Codec) VerifyAccess(raw string) (*Claims, error) {
	return c.verifyType(raw, TypeAccess)
}

// VerifyRefresh is Verify restricted to refresh tokens.
func (c *Codec) VerifyRefresh(raw string) (*Claims, error) {
	return c.verifyType(raw, TypeRefresh)
}

func (c *Codec) verifyType(raw string, want Type) (*Claims, error) {
	claims, err := c.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, errInvalidToken
	}
	return claims, nil
}

func wellFormed(c *Claims) bool {
	if c.Subject == "" || c.IssuedAt == nil || c.ExpiresAt == nil {
		return false
	}
	switch c.Type {
	case TypeAccess:
		return c.Email != ""
	case TypeRefresh:
		return c.ID != ""
	}
	return false
}
