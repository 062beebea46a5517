package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/auth"
	"github.com/signalix/identity/internal/http/respond"
	"github.com/signalix/identity/internal/middleware"
	"github.com/signalix/identity/internal/model"
	"github.com/signalix/identity/internal/ratelimit"
)

// AuthHandler handles the magic-link and token endpoints
type AuthHandler struct {
	svc     *auth.Service
	cookies CookieOptions
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc *auth.Service, cookies CookieOptions, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{svc: svc, cookies: cookies, logger: logger}
}

// requestLinkRequest is the request body for POST /api/auth/request-magic-link
type requestLinkRequest struct {
	Email       string  `json:"email"`
	AppID       *string `json:"appId,omitempty"`
	RedirectURI *string `json:"redirectUri,omitempty"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// verifyResponse is the JSON response for GET /api/auth/verify
type verifyResponse struct {
	Success      bool       `json:"success"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	RedirectURL  string     `json:"redirect_url"`
	User         model.User `json:"user"`
}

// refreshRequest is the optional body of POST /api/auth/refresh
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// HandleRequestMagicLink handles POST /api/auth/request-magic-link
func (h *AuthHandler) HandleRequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req requestLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	err := h.svc.RequestLink(r.Context(), auth.LinkRequest{
		Email:       req.Email,
		AppID:       req.AppID,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, messageResponse{Success: true, Message: "Magic link sent"})
}

// HandleVerify handles GET /api/auth/verify?token=
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Verify(r.Context(), r.URL.Query().Get("token"), auth.ClientInfo{
		IPAddress: ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	http.SetCookie(w, h.cookies.refresh(res.RefreshToken))
	respond.JSON(w, http.StatusOK, verifyResponse{
		Success:      true,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    res.ExpiresIn,
		RedirectURL:  res.RedirectURL,
		User:         res.User,
	})
}

// HandleRefresh handles POST /api/auth/refresh. The refresh token comes from
// the cookie, or from a JSON body for clients without cookies. Every failure
// other than rate limiting and internal errors is reported as UNAUTHORIZED.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := cookieValue(r, refreshCookie)
	if raw == "" {
		var req refreshRequest
		if err := decodeJSON(r, &req); err == nil {
			raw = strings.TrimSpace(req.RefreshToken)
		}
	}

	res, err := h.svc.Refresh(r.Context(), raw)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind != apperr.KindRateLimit && e.Kind != apperr.KindInternal {
			h.logger.DebugContext(r.Context(), "refresh rejected", "code", e.Code)
			respond.Status(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "invalid or expired refresh token")
			return
		}
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, refreshResponse{AccessToken: res.AccessToken, ExpiresIn: res.ExpiresIn})
}

// HandleLogout handles POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	access, _ := middleware.BearerToken(r)
	if access == "" {
		access = cookieValue(r, accessCookie)
	}
	refresh := cookieValue(r, refreshCookie)
	if refresh == "" {
		var req refreshRequest
		if err := decodeJSON(r, &req); err == nil {
			refresh = strings.TrimSpace(req.RefreshToken)
		}
	}

	if err := h.svc.Logout(r.Context(), access, refresh); err != nil {
		respond.Error(w, r, err)
		return
	}
	http.SetCookie(w, h.cookies.clear(refreshCookie, cookiePath))
	http.SetCookie(w, h.cookies.clear(accessCookie, "/"))
	respond.JSON(w, http.StatusOK, messageResponse{Success: true})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation(apperr.CodeValidation, "invalid request body")
	}
	return nil
}
