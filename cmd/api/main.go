package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/signalix/identity/internal/actor"
	"github.com/signalix/identity/internal/auth"
	"github.com/signalix/identity/internal/clock"
	"github.com/signalix/identity/internal/config"
	"github.com/signalix/identity/internal/db"
	httphandler "github.com/signalix/identity/internal/http"
	"github.com/signalix/identity/internal/http/handlers"
	"github.com/signalix/identity/internal/identity"
	"github.com/signalix/identity/internal/magiclink"
	"github.com/signalix/identity/internal/mail"
	"github.com/signalix/identity/internal/ratelimit"
	"github.com/signalix/identity/internal/token"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.DevMode {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()
	clk := clock.Real()

	opener, closeOpener, err := newOpener(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeOpener()

	codec, err := newCodec(cfg, logger, clk)
	if err != nil {
		return err
	}

	linkNS := magiclink.NewNamespace(opener, cfg.ActorIdleTimeout, logger, clk)
	idNS := identity.NewNamespace(opener, cfg.ActorIdleTimeout, logger, clk)
	namespaces := []*actor.Namespace{linkNS, idNS}

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logger, clk, &namespaces)
	if err != nil {
		return err
	}
	defer closeLimiter()

	svc := auth.NewService(auth.Deps{
		Links:      magiclink.NewClient(linkNS),
		Identities: identity.NewClient(idNS),
		Limiter:    limiter,
		Codec:      codec,
		Mailer:     mail.LogSender{Logger: logger},
		Clock:      clk,
		Logger:     logger,
	}, auth.Options{
		PublicBaseURL:      cfg.PublicBaseURL,
		DefaultRedirectURL: cfg.DefaultRedirectURL,
		AppRedirectURLs:    cfg.AppRedirectURLs,
		AllowedOrigins:     cfg.AllowedOrigins,
	})

	router := httphandler.NewRouter(svc, httphandler.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Cookies:        handlers.CookieOptions{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure},
		CleanupToken:   cfg.CleanupToken,
		TrustProxy:     cfg.TrustProxy,
		Logger:         logger,
	})

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "storage", cfg.ActorStorage, "rate_limit", cfg.RateLimitBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}

	// Drain actor mailboxes after the last request has been answered.
	for _, ns := range namespaces {
		if err := ns.Close(); err != nil {
			logger.Error("failed to close actor namespace", "namespace", ns.Name(), "err", err)
		}
	}
	logger.Info("server exited")
	return nil
}

func newOpener(ctx context.Context, cfg *config.Config, logger *slog.Logger) (actor.Opener, func(), error) {
	switch cfg.ActorStorage {
	case config.StoragePostgres:
		root, err := db.OpenPostgres(ctx, cfg.DatabaseURL, db.RootPool)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		opener, err := db.NewPostgresOpener(ctx, root, cfg.DatabaseURL)
		if err != nil {
			_ = root.Close()
			return nil, nil, err
		}
		logger.Info("actor storage: postgres schemas")
		return opener, func() { closeDB(root, logger) }, nil
	default:
		if err := os.MkdirAll(cfg.ActorDataDir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create actor data dir: %w", err)
		}
		logger.Info("actor storage: sqlite files", "dir", cfg.ActorDataDir)
		return db.NewSQLiteOpener(cfg.ActorDataDir), func() {}, nil
	}
}

func closeDB(d *sqlx.DB, logger *slog.Logger) {
	if err := d.Close(); err != nil {
		logger.Error("failed to close database", "err", err)
	}
}

func newCodec(cfg *config.Config, logger *slog.Logger, clk clock.Clock) (*token.Codec, error) {
	if cfg.JWTPrivateKey == "" {
		// Only reachable in dev mode; config.Load requires the key otherwise.
		logger.Warn("JWT_PRIVATE_KEY not set, using an ephemeral signing key; tokens will not survive a restart")
		key, err := token.GenerateKey()
		if err != nil {
			return nil, err
		}
		return token.NewCodec(key, &key.PublicKey, clk), nil
	}
	private, public, err := token.ParseKeys(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	return token.NewCodec(private, public, clk), nil
}

// newLimiter builds the configured limiter. The in-memory flavour runs on
// volatile actors, whose namespace is appended to namespaces for shutdown.
func newLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger, clk clock.Clock, namespaces *[]*actor.Namespace) (ratelimit.Limiter, func(), error) {
	if cfg.RateLimitBackend == config.RateLimitRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return ratelimit.NewRedisLimiter(client), func() { _ = client.Close() }, nil
	}
	ns := ratelimit.NewNamespace(cfg.ActorIdleTimeout, logger, clk)
	*namespaces = append(*namespaces, ns)
	return ratelimit.NewActorLimiter(ns), func() {}, nil
}
