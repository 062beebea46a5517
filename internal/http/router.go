package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/signalix/identity/internal/auth"
	"github.com/signalix/identity/internal/http/handlers"
	"github.com/signalix/identity/internal/middleware"
)

// RouterConfig carries the edge settings of the router.
type RouterConfig struct {
	AllowedOrigins []string
	Cookies        handlers.CookieOptions
	CleanupToken   string
	// TrustProxy lets X-Forwarded-For and X-Real-IP set the client address.
	TrustProxy bool
	Logger     *slog.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(svc *auth.Service, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authHandler := handlers.NewAuthHandler(svc, cfg.Cookies, logger)
	userHandler := handlers.NewUserHandler(svc)
	cleanupHandler := handlers.NewCleanupHandler(svc, cfg.CleanupToken)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", handlers.NewHealthHandler().ServeHTTP)

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.ThrottleByIP(svc))
			r.Post("/request-magic-link", authHandler.HandleRequestMagicLink)
			r.Get("/verify", authHandler.HandleVerify)
		})
		r.Post("/refresh", authHandler.HandleRefresh)
		r.Post("/logout", authHandler.HandleLogout)

		// Protected routes (require valid access token)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(svc))
			r.Get("/user", userHandler.HandleGetUser)
			r.Patch("/user", userHandler.HandleUpdateUser)
			r.Get("/user/preferences", userHandler.HandleGetPreferences)
			r.Patch("/user/preferences", userHandler.HandleUpdatePreferences)
			r.Get("/user/sessions", userHandler.HandleListSessions)
			r.Delete("/user/sessions", userHandler.HandleRevokeAllSessions)
			r.Delete("/user/sessions/{id}", userHandler.HandleRevokeSession)
		})
	})

	if cleanupHandler.Enabled() {
		r.Post("/internal/cleanup", cleanupHandler.HandleCleanup)
	}

	return r
}
