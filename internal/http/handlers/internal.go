package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/auth"
	"github.com/signalix/identity/internal/http/respond"
	"github.com/signalix/identity/internal/middleware"
)

// CleanupHandler runs the expiry sweep on demand. It is meant for a cron job
// or scheduler holding the shared cleanup token.
type CleanupHandler struct {
	svc   *auth.Service
	token string
}

func NewCleanupHandler(svc *auth.Service, token string) *CleanupHandler {
	return &CleanupHandler{svc: svc, token: token}
}

// Enabled reports whether a cleanup token was configured.
func (h *CleanupHandler) Enabled() bool { return h.token != "" }

// HandleCleanup handles POST /internal/cleanup
func (h *CleanupHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	raw, ok := middleware.BearerToken(r)
	if !ok || subtle.ConstantTimeCompare([]byte(raw), []byte(h.token)) != 1 {
		respond.Status(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "unauthorized")
		return
	}
	report, err := h.svc.Cleanup(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}
