package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/auth"
	"github.com/signalix/identity/internal/http/respond"
	"github.com/signalix/identity/internal/identity"
	"github.com/signalix/identity/internal/middleware"
	"github.com/signalix/identity/internal/model"
)

// UserHandler serves the signed-in user's profile, preferences and sessions.
// Every route sits behind middleware.RequireUser.
type UserHandler struct {
	svc *auth.Service
}

func NewUserHandler(svc *auth.Service) *UserHandler {
	return &UserHandler{svc: svc}
}

type sessionsResponse struct {
	Sessions []model.Session `json:"sessions"`
}

type revokedResponse struct {
	Success bool `json:"success"`
	Revoked int  `json:"revoked"`
}

func currentUserID(r *http.Request) (string, bool) {
	u, ok := middleware.GetUser(r.Context())
	if !ok || u == nil {
		return "", false
	}
	return u.ID, true
}

func (h *UserHandler) withUser(fn func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := currentUserID(r)
		if !ok {
			respond.Status(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "unauthorized")
			return
		}
		fn(w, r, id)
	}
}

// HandleGetUser handles GET /api/auth/user
func (h *UserHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	h.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		u, err := h.svc.GetUser(r.Context(), userID)
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, u)
	})(w, r)
}

// HandleUpdateUser handles PATCH /api/auth/user
func (h *UserHandler) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	h.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		var patch identity.UserPatch
		if err := decodeJSON(r, &patch); err != nil {
			respond.Error(w, r, apperr.Validation(apperr.CodeInvalidRequest, "invalid request body"))
			return
		}
		u, err := h.svc.UpdateUser(r.Context(), userID, patch)
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, u)
	})(w, r)
}

// HandleGetPreferences handles GET /api/auth/user/preferences
func (h *UserHandler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	h.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		u, err := h.svc.GetUser(r.Context(), userID)
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, u.Preferences)
	})(w, r)
}

// HandleUpdatePreferences handles PATCH /api/auth/user/preferences
func (h *UserHandler) HandleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	h.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		var patch identity.PreferencesPatch
		if err := decodeJSON(r, &patch); err != nil {
			respond.Error(w, r, apperr.Validation(apperr.CodeInvalidRequest, "invalid request body"))
			return
		}
		u, err := h.svc.UpdatePreferences(r.Context(), userID, patch)
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, u)
	})(w, r)
}

// HandleListSessions handles GET /api/auth/user/sessions
func (h *UserHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	h.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		list, err := h.svc.ListSessions(r.Context(), userID)
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, sessionsResponse{Sessions: list})
	})(w, r)
}

// HandleRevokeSession handles DELETE /api/auth/user/sessions/{id}
func (h *UserHandler) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	h.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		if err := h.svc.RevokeSession(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
			respond.Error(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, revokedResponse{Success: true, Revoked: 1})
	})(w, r)
}

// HandleRevokeAllSessions handles DELETE /api/auth/user/sessions
func (h *UserHandler) HandleRevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	h.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		n, err := h.svc.RevokeAllSessions(r.Context(), userID)
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, revokedResponse{Success: true, Revoked: n})
	})(w, r)
}
