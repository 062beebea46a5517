package handlers

import (
	"net/http"

	"github.com/signalix/identity/internal/token"
)

const (
	refreshCookie = "refresh_token"
	accessCookie  = "access_token"
	cookiePath    = "/api/auth"
)

// CookieOptions controls the attributes of the token cookies.
type CookieOptions struct {
	Domain string
	Secure bool
}

func (o CookieOptions) refresh(value string) *http.Cookie {
	return &http.Cookie{
		Name:     refreshCookie,
		Value:    value,
		Path:     cookiePath,
		Domain:   o.Domain,
		MaxAge:   int(token.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// clear returns an expired cookie for name. Max-Age=0 on the wire.
func (o CookieOptions) clear(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   o.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
