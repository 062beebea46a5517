package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends for durable actors.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Config holds the application configuration
type Config struct {
	Port          string
	PublicBaseURL string

	JWTPrivateKey string
	JWTPublicKey  string

	DefaultRedirectURL string
	AppRedirectURLs    map[string]string
	AllowedOrigins     []string

	ActorStorage     string
	ActorDataDir     string
	DatabaseURL      string
	ActorIdleTimeout time.Duration

	RateLimitBackend string
	RedisURL         string

	CookieDomain string
	CookieSecure bool
	CleanupToken string
	TrustProxy   bool

	LogLevel slog.Level
	DevMode  bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:               env("PORT", "8080"),
		PublicBaseURL:      strings.TrimRight(env("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		JWTPrivateKey:      getenv("JWT_PRIVATE_KEY"),
		JWTPublicKey:       getenv("JWT_PUBLIC_KEY"),
		DefaultRedirectURL: env("DEFAULT_REDIRECT_URL", "/"),
		AllowedOrigins:     splitList(getenv("CORS_ALLOWED_ORIGINS")),
		ActorStorage:       strings.ToLower(env("ACTOR_STORAGE", StorageSQLite)),
		ActorDataDir:       env("ACTOR_DATA_DIR", "./data/actors"),
		DatabaseURL:        getenv("DATABASE_URL"),
		RateLimitBackend:   strings.ToLower(env("RATE_LIMIT_BACKEND", RateLimitMemory)),
		RedisURL:           getenv("REDIS_URL"),
		CookieDomain:       getenv("COOKIE_DOMAIN"),
		CleanupToken:       getenv("CLEANUP_TOKEN"),
		DevMode:            getenv("DEV_MODE") == "true",
	}

	if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("PUBLIC_BASE_URL is not a valid URL: %w", err)
	}

	apps, err := parseAppRedirects(getenv("APP_REDIRECT_URLS"))
	if err != nil {
		return nil, err
	}
	cfg.AppRedirectURLs = apps

	switch cfg.ActorStorage {
	case StorageSQLite:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required when ACTOR_STORAGE=postgres")
		}
	default:
		return nil, fmt.Errorf("ACTOR_STORAGE must be %q or %q, got %q", StorageSQLite, StoragePostgres, cfg.ActorStorage)
	}

	if cfg.ActorIdleTimeout, err = time.ParseDuration(env("ACTOR_IDLE_TIMEOUT", "5m")); err != nil {
		return nil, fmt.Errorf("ACTOR_IDLE_TIMEOUT: %w", err)
	}

	switch cfg.RateLimitBackend {
	case RateLimitMemory:
	case RateLimitRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL environment variable is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", RateLimitMemory, RateLimitRedis, cfg.RateLimitBackend)
	}

	if cfg.CookieSecure, err = strconv.ParseBool(env("COOKIE_SECURE", "true")); err != nil {
		return nil, fmt.Errorf("COOKIE_SECURE: %w", err)
	}

	if cfg.TrustProxy, err = strconv.ParseBool(env("TRUST_PROXY_HEADERS", "false")); err != nil {
		return nil, fmt.Errorf("TRUST_PROXY_HEADERS: %w", err)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(env("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if !cfg.DevMode && strings.TrimSpace(cfg.JWTPrivateKey) == "" {
		return nil, fmt.Errorf("JWT_PRIVATE_KEY environment variable is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseAppRedirects reads "appId=url,appId=url".
func parseAppRedirects(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(s) {
		app, target, ok := strings.Cut(pair, "=")
		app, target = strings.TrimSpace(app), strings.TrimSpace(target)
		if !ok || app == "" || target == "" {
			return nil, fmt.Errorf("APP_REDIRECT_URLS: malformed entry %q", pair)
		}
		out[app] = target
	}
	return out, nil
}
