package auth

import (
	"net/url"
	"strings"

	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/model"
)

// redirectFor picks the landing URL: the link's own redirectUri, else the
// app's configured URL, else the default.
func (s *Service) redirectFor(c model.LinkClaims) string {
	if c.RedirectURI != nil && *c.RedirectURI != "" {
		return *c.RedirectURI
	}
	if c.AppID != nil {
		if u, ok := s.opts.AppRedirectURLs[*c.AppID]; ok {
			return u
		}
	}
	return s.opts.DefaultRedirectURL
}

// checkRedirect accepts absolute http(s) URLs whose origin is allowed.
func (s *Service) checkRedirect(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return apperr.Validation(apperr.CodeValidation, "redirectUri must be an absolute http(s) URL")
	}
	if len(s.opts.AllowedOrigins) == 0 {
		return nil
	}
	origin := u.Scheme + "://" + u.Host
	for _, allowed := range s.opts.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return nil
		}
	}
	return apperr.Validation(apperr.CodeValidation, "redirectUri origin is not allowed")
}
