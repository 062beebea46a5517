// Package identity hosts one durable actor per user holding the profile,
// preferences and sessions of that user.
//
// The actor key is the user id. User ids are derived from the normalized
// email (UUIDv5), so a caller that only knows the email reaches the same
// instance as one holding the id.
package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/signalix/identity/internal/actor"
	"github.com/signalix/identity/internal/apperr"
	"github.com/signalix/identity/internal/clock"
	"github.com/signalix/identity/internal/db"
	"github.com/signalix/identity/internal/model"
	"github.com/signalix/identity/internal/repo"
)

const (
	NamespaceName = "identity"
	SessionTTL    = 30 * 24 * time.Hour

	maxDisplayNameLen = 100
)

var userIDSpace = uuid.MustParse("6f1c5a0e-3b7d-5e43-9a55-2c8e1f0d4b17")

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserID returns the stable user id, and actor key, for email.
func UserID(email string) string {
	return uuid.NewSHA1(userIDSpace, []byte(NormalizeEmail(email))).String()
}

// NewNamespace returns the durable namespace hosting identity actors.
func NewNamespace(opener actor.Opener, idle time.Duration, logger *slog.Logger, clk clock.Clock) *actor.Namespace {
	return actor.NewNamespace(actor.Options{
		Name:        NamespaceName,
		Opener:      opener,
		Migrations:  db.MustMigrations("identity"),
		IdleTimeout: idle,
		Logger:      logger,
	}, NewFactory(clk))
}

// NewFactory builds identity actor instances over their private store.
func NewFactory(clk clock.Clock) actor.Factory {
	return func(key string, store *sqlx.DB) http.Handler {
		a := &userActor{
			userID:   key,
			users:    repo.NewUserRepo(store),
			sessions: repo.NewSessionRepo(store),
			clock:    clk,
		}
		return a.routes()
	}
}

type userActor struct {
	userID   string
	users    repo.UserRepo
	sessions repo.SessionRepo
	clock    clock.Clock
}

func (a *userActor) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/user", func(r chi.Router) {
		r.Get("/", a.handleGetUser)
		r.Post("/", a.handleCreateUser)
		r.Patch("/", a.handleUpdateUser)
		r.Patch("/preferences", a.handleUpdatePreferences)
	})
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", a.handleListSessions)
		r.Post("/", a.handleCreateSession)
		r.Delete("/", a.handleRevokeAllSessions)
		r.Post("/cleanup", a.handleCleanupSessions)
		r.Get("/by-token/{jti}", a.handleGetSession)
		r.Patch("/{id}", a.handleUpdateSession)
		r.Delete("/{id}", a.handleRevokeSession)
	})
	return r
}

var errUserNotFound = apperr.NotFound(apperr.CodeUserNotFound, "user not found")

func (a *userActor) loadUser(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	u, err := a.users.Get(r.Context())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			actor.WriteError(w, errUserNotFound)
		} else {
			actor.WriteError(w, err)
		}
		return model.User{}, false
	}
	return u, true
}

func (a *userActor) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, ok := a.loadUser(w, r)
	if !ok {
		return
	}
	actor.WriteJSON(w, http.StatusOK, u)
}

type createUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (a *userActor) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := actor.Decode(r, &req); err != nil {
		actor.WriteError(w, err)
		return
	}
	email := NormalizeEmail(req.Email)
	if email == "" {
		actor.WriteError(w, apperr.Validation(apperr.CodeValidation, "email is required"))
		return
	}
	if UserID(email) != a.userID {
		actor.WriteError(w, apperr.Validation(apperr.CodeValidation, "email does not belong to this user"))
		return
	}
	displayName, err := cleanDisplayName(req.DisplayName)
	if err != nil {
		actor.WriteError(w, err)
		return
	}

	now := a.clock.Now()
	u := model.User{
		ID:          a.userID,
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
		Preferences: model.DefaultPreferences(),
	}
	if err := a.users.Create(r.Context(), u); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			actor.WriteError(w, apperr.Conflict(apperr.CodeUserExists, "user already exists"))
			return
		}
		actor.WriteError(w, err)
		return
	}
	actor.WriteJSON(w, http.StatusCreated, u)
}

// UserPatch changes profile fields. Email is immutable: it is the user's key.
type UserPatch struct {
	DisplayName *string `json:"displayName,omitempty"`
}

func (a *userActor) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch UserPatch
	if err := actor.Decode(r, &patch); err != nil {
		actor.WriteError(w, err)
		return
	}
	u, ok := a.loadUser(w, r)
	if !ok {
		return
	}
	if patch.DisplayName != nil {
		name, err := cleanDisplayName(*patch.DisplayName)
		if err != nil {
			actor.WriteError(w, err)
			return
		}
		now := a.clock.Now()
		if err := a.users.UpdateDisplayName(r.Context(), name, now); err != nil {
			actor.WriteError(w, err)
			return
		}
		u.DisplayName = name
		u.UpdatedAt = now
	}
	actor.WriteJSON(w, http.StatusOK, u)
}

// PreferencesPatch changes any subset of the preferences.
type PreferencesPatch struct {
	Theme              *model.Theme `json:"theme,omitempty"`
	EmailNotifications *bool        `json:"emailNotifications,omitempty"`
}

func (a *userActor) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch PreferencesPatch
	if err := actor.Decode(r, &patch); err != nil {
		actor.WriteError(w, err)
		return
	}
	u, ok := a.loadUser(w, r)
	if !ok {
		return
	}
	prefs := u.Preferences
	if patch.Theme != nil {
		if !patch.Theme.Valid() {
			actor.WriteError(w, apperr.Validation(apperr.CodeInvalidRequest, "theme must be light, dark or system"))
			return
		}
		prefs.Theme = *patch.Theme
	}
	if patch.EmailNotifications != nil {
		prefs.EmailNotifications = *patch.EmailNotifications
	}
	now := a.clock.Now()
	if err := a.users.UpdatePreferences(r.Context(), prefs, now); err != nil {
		actor.WriteError(w, err)
		return
	}
	u.Preferences = prefs
	u.UpdatedAt = now
	actor.WriteJSON(w, http.StatusOK, u)
}

type createSessionRequest struct {
	RefreshTokenID string  `json:"refreshTokenId"`
	AppID          *string `json:"appId,omitempty"`
	IPAddress      *string `json:"ipAddress,omitempty"`
	UserAgent      *string `json:"userAgent,omitempty"`
}

func (a *userActor) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := actor.Decode(r, &req); err != nil {
		actor.WriteError(w, err)
		return
	}
	if req.RefreshTokenID == "" {
		actor.WriteError(w, apperr.Validation(apperr.CodeValidation, "refreshTokenId is required"))
		return
	}
	u, ok := a.loadUser(w, r)
	if !ok {
		return
	}
	now := a.clock.Now()
	s := model.Session{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		RefreshTokenID: req.RefreshTokenID,
		AppID:          req.AppID,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(SessionTTL),
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
	}
	if err := a.sessions.Create(r.Context(), s); err != nil {
		actor.WriteError(w, err)
		return
	}
	actor.WriteJSON(w, http.StatusCreated, s)
}

var errSessionNotFound = apperr.NotFound(apperr.CodeSessionNotFound, "session not found")

func (a *userActor) writeSession(w http.ResponseWriter, s model.Session, err error) {
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			actor.WriteError(w, errSessionNotFound)
			return
		}
		actor.WriteError(w, err)
		return
	}
	actor.WriteJSON(w, http.StatusOK, s)
}

func (a *userActor) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessions.GetByRefreshTokenID(r.Context(), chi.URLParam(r, "jti"))
	a.writeSession(w, s, err)
}

// SessionUpdate carries the fields updateSession may change.
type SessionUpdate struct {
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
}

func (a *userActor) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionUpdate
	if err := actor.Decode(r, &req); err != nil {
		actor.WriteError(w, err)
		return
	}
	at := a.clock.Now()
	if req.LastAccessedAt != nil {
		at = *req.LastAccessedAt
	}
	s, err := a.sessions.Touch(r.Context(), chi.URLParam(r, "id"), at)
	a.writeSession(w, s, err)
}

func (a *userActor) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := a.sessions.List(r.Context())
	if err != nil {
		actor.WriteError(w, err)
		return
	}
	actor.WriteJSON(w, http.StatusOK, list)
}

func (a *userActor) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessions.Delete(r.Context(), chi.URLParam(r, "id"))
	a.writeSession(w, s, err)
}

func (a *userActor) handleRevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	removed, err := a.sessions.DeleteAll(r.Context())
	if err != nil {
		actor.WriteError(w, err)
		return
	}
	actor.WriteJSON(w, http.StatusOK, removed)
}

type cleanupResponse struct {
	Sessions int64 `json:"sessions"`
}

func (a *userActor) handleCleanupSessions(w http.ResponseWriter, r *http.Request) {
	n, err := a.sessions.DeleteExpired(r.Context(), a.clock.Now())
	if err != nil {
		actor.WriteError(w, err)
		return
	}
	actor.WriteJSON(w, http.StatusOK, cleanupResponse{Sessions: n})
}

func cleanDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation(apperr.CodeInvalidRequest, "displayName must not be empty")
	}
	if len([]rune(name)) > maxDisplayNameLen {
		return "", apperr.Validation(apperr.CodeInvalidRequest, "displayName is too long")
	}
	return name, nil
}
