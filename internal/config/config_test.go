package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envMap(map[string]string{"JWT_PRIVATE_KEY": "pem"}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://localhost:8080", cfg.PublicBaseURL)
	assert.Equal(t, "/", cfg.DefaultRedirectURL)
	assert.Empty(t, cfg.AppRedirectURLs)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, StorageSQLite, cfg.ActorStorage)
	assert.Equal(t, "./data/actors", cfg.ActorDataDir)
	assert.Equal(t, 5*time.Minute, cfg.ActorIdleTimeout)
	assert.Equal(t, RateLimitMemory, cfg.RateLimitBackend)
	assert.True(t, cfg.CookieSecure)
	assert.False(t, cfg.TrustProxy)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.DevMode)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(envMap(map[string]string{
		"PORT":                 "9090",
		"PUBLIC_BASE_URL":      "https://auth.example.com/",
		"JWT_PRIVATE_KEY":      "pem",
		"APP_REDIRECT_URLS":    "tasks=https://tasks.example.com/, notes = https://notes.example.com/",
		"CORS_ALLOWED_ORIGINS": "https://tasks.example.com, https://notes.example.com",
		"ACTOR_STORAGE":        "postgres",
		"DATABASE_URL":         "postgres://u:p@localhost/identity",
		"ACTOR_IDLE_TIMEOUT":   "90s",
		"RATE_LIMIT_BACKEND":   "redis",
		"REDIS_URL":            "redis://localhost:6379/0",
		"COOKIE_SECURE":        "false",
		"TRUST_PROXY_HEADERS":  "true",
		"LOG_LEVEL":            "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "https://auth.example.com", cfg.PublicBaseURL)
	assert.Equal(t, map[string]string{
		"tasks": "https://tasks.example.com/",
		"notes": "https://notes.example.com/",
	}, cfg.AppRedirectURLs)
	assert.Equal(t, []string{"https://tasks.example.com", "https://notes.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, StoragePostgres, cfg.ActorStorage)
	assert.Equal(t, 90*time.Second, cfg.ActorIdleTimeout)
	assert.Equal(t, RateLimitRedis, cfg.RateLimitBackend)
	assert.False(t, cfg.CookieSecure)
	assert.True(t, cfg.TrustProxy)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing key":          {},
		"postgres without url": {"JWT_PRIVATE_KEY": "pem", "ACTOR_STORAGE": "postgres"},
		"unknown storage":      {"JWT_PRIVATE_KEY": "pem", "ACTOR_STORAGE": "mongo"},
		"redis without url":    {"JWT_PRIVATE_KEY": "pem", "RATE_LIMIT_BACKEND": "redis"},
		"bad idle timeout":     {"JWT_PRIVATE_KEY": "pem", "ACTOR_IDLE_TIMEOUT": "soon"},
		"bad app redirects":    {"JWT_PRIVATE_KEY": "pem", "APP_REDIRECT_URLS": "tasks"},
		"bad cookie flag":      {"JWT_PRIVATE_KEY": "pem", "COOKIE_SECURE": "maybe"},
		"bad proxy flag":       {"JWT_PRIVATE_KEY": "pem", "TRUST_PROXY_HEADERS": "yes please"},
		"bad log level":        {"JWT_PRIVATE_KEY": "pem", "LOG_LEVEL": "loud"},
		"relative public url":  {"JWT_PRIVATE_KEY": "pem", "PUBLIC_BASE_URL": "auth.example.com"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := load(envMap(env))
			assert.Error(t, err)
		})
	}
}

func TestDevModeAllowsMissingKeys(t *testing.T) {
	cfg, err := load(envMap(map[string]string{"DEV_MODE": "true"}))
	require.NoError(t, err)
	assert.True(t, cfg.DevMode)
	assert.Empty(t, cfg.JWTPrivateKey)
}
