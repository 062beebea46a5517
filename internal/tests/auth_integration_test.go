package tests

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalix/identity/internal/actor"
	"github.com/signalix/identity/internal/clock"
	"github.com/signalix/identity/internal/db"
	"github.com/signalix/identity/internal/model"
	"github.com/signalix/identity/internal/token"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = token.GenerateKey()
		require.NoError(t, err)
	})
	return testKey
}

// testServer holds the stack and its httptest server
type testServer struct {
	*Stack
	Server *httptest.Server
}

func newServer(t *testing.T, opener actor.Opener, opts StackOptions) *testServer {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	stack := NewStack(opener, clk, signingKey(t), opts)
	server := httptest.NewServer(stack.Handler)
	t.Cleanup(func() {
		server.Close()
		stack.Close()
	})
	return &testServer{Stack: stack, Server: server}
}

func newTestServer(t *testing.T) *testServer {
	return newServer(t, db.NewSQLiteOpener(t.TempDir()), StackOptions{
		AppRedirectURLs: map[string]string{"tasks": "https://tasks.example.com/"},
		AllowedOrigins:  []string{"https://tasks.example.com"},
	})
}

type reqOption func(*http.Request)

func withBearer(tok string) reqOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookie(c *http.Cookie) reqOption {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withHeader(k, v string) reqOption {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (s *testServer) do(t *testing.T, method, path string, body any, opts ...reqOption) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.Server.URL+path, rd)
	require.NoError(t, err)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

type errorResponse struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func assertError(t *testing.T, resp *http.Response, raw []byte, status int, code string) {
	t.Helper()
	assert.Equal(t, status, resp.StatusCode, "body: %s", raw)
	var e errorResponse
	require.NoError(t, json.Unmarshal(raw, &e), "body: %s", raw)
	assert.False(t, e.Success)
	assert.Equal(t, code, e.Error.Code)
	assert.NotEmpty(t, e.Error.Message)
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), "body: %s", raw)
	return v
}

type verifyResponse struct {
	Success      bool       `json:"success"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	RedirectURL  string     `json:"redirect_url"`
	User         model.User `json:"user"`
}

type signedIn struct {
	verifyResponse
	Cookie *http.Cookie
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (s *testServer) requestLink(t *testing.T, body map[string]any) string {
	t.Helper()
	resp, raw := s.do(t, http.MethodPost, "/api/auth/request-magic-link", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
	msg, ok := s.Outbox.Last(body["email"].(string))
	require.True(t, ok)
	u, err := url.Parse(msg.Link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func (s *testServer) signIn(t *testing.T, email string) signedIn {
	t.Helper()
	tok := s.requestLink(t, map[string]any{"email": email})
	resp, raw := s.do(t, http.MethodGet, "/api/auth/verify?token="+url.QueryEscape(tok), nil, withHeader("User-Agent", "integration"))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
	out := signedIn{verifyResponse: decode[verifyResponse](t, raw), Cookie: findCookie(resp, "refresh_token")}
	require.NotNil(t, out.Cookie)
	return out
}

func TestAuthIntegration(t *testing.T) {
	ts := newTestServer(t)
	runFullFlow(t, ts, "new@example.com")
}

// runFullFlow exercises request-link, verify, the user routes, refresh and
// logout against ts.
func runFullFlow(t *testing.T, ts *testServer, email string) {
	t.Run("Health", func(t *testing.T) {
		resp, raw := ts.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"ok":true}`, string(raw))
	})

	var session signedIn
	t.Run("RequestAndVerify", func(t *testing.T) {
		resp, raw := ts.do(t, http.MethodPost, "/api/auth/request-magic-link", map[string]any{"email": email, "appId": "tasks"})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
		assert.JSONEq(t, `{"success":true,"message":"Magic link sent"}`, string(raw))

		msg, ok := ts.Outbox.Last(email)
		require.True(t, ok)
		u, err := url.Parse(msg.Link)
		require.NoError(t, err)
		assert.Equal(t, "/api/auth/verify", u.Path)

		resp, raw = ts.do(t, http.MethodGet, "/api/auth/verify?"+u.RawQuery, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
		v := decode[verifyResponse](t, raw)
		assert.True(t, v.Success)
		assert.Equal(t, "Bearer", v.TokenType)
		assert.Equal(t, 3600, v.ExpiresIn)
		assert.Equal(t, "https://tasks.example.com/", v.RedirectURL)
		assert.Equal(t, email, v.User.Email)
		assert.NotEmpty(t, v.AccessToken)

		c := findCookie(resp, "refresh_token")
		require.NotNil(t, c)
		assert.Equal(t, v.RefreshToken, c.Value)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, "/api/auth", c.Path)
		assert.Equal(t, int(token.RefreshTTL.Seconds()), c.MaxAge)

		resp, raw = ts.do(t, http.MethodGet, "/api/auth/verify?"+u.RawQuery, nil)
		assertError(t, resp, raw, http.StatusBadRequest, "TOKEN_ALREADY_USED")

		session = signedIn{verifyResponse: v, Cookie: c}
	})
	require.NotEmpty(t, session.AccessToken)

	t.Run("Profile", func(t *testing.T) {
		resp, raw := ts.do(t, http.MethodGet, "/api/auth/user", nil, withBearer(session.AccessToken))
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
		u := decode[model.User](t, raw)
		assert.Equal(t, session.User.ID, u.ID)

		resp, raw = ts.do(t, http.MethodPatch, "/api/auth/user", map[string]any{"displayName": "Newcomer"}, withBearer(session.AccessToken))
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
		assert.Equal(t, "Newcomer", decode[model.User](t, raw).DisplayName)

		resp, raw = ts.do(t, http.MethodPatch, "/api/auth/user", `{"displayName":`, withBearer(session.AccessToken))
		assertError(t, resp, raw, http.StatusBadRequest, "INVALID_REQUEST")
	})

	t.Run("Preferences", func(t *testing.T) {
		resp, raw := ts.do(t, http.MethodGet, "/api/auth/user/preferences", nil, withBearer(session.AccessToken))
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
		assert.Equal(t, model.DefaultPreferences(), decode[model.Preferences](t, raw))

		resp, raw = ts.do(t, http.MethodPatch, "/api/auth/user/preferences", map[string]any{"theme": "dark", "emailNotifications": false}, withBearer(session.AccessToken))
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
		assert.Equal(t, model.Preferences{Theme: model.ThemeDark}, decode[model.User](t, raw).Preferences)

		resp, raw = ts.do(t, http.MethodPatch, "/api/auth/user/preferences", map[string]any{"theme": "neon"}, withBearer(session.AccessToken))
		assertError(t, resp, raw, http.StatusBadRequest, "INVALID_REQUEST")
	})

	t.Run("Sessions", func(t *testing.T) {
		resp, raw := ts.do(t, http.MethodGet, "/api/auth/user/sessions", nil, withBearer(session.AccessToken))
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
		list := decode[struct {
			Sessions []model.Session `json:"sessions"`
		}](t, raw).Sessions
		require.Len(t, list, 1)
		assert.Equal(t, "tasks", *list[0].AppID)
	})

	t.Run("Refresh", func(t *testing.T) {
		ts.Clock.Advance(time.Minute)
		resp, raw := ts.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(session.Cookie))
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
		out := decode[struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}](t, raw)
		assert.NotEmpty(t, out.AccessToken)
		assert.Equal(t, 3600, out.ExpiresIn)

		resp, raw = ts.do(t, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": session.RefreshToken})
		assert.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)

		resp, raw = ts.do(t, http.MethodPost, "/api/auth/refresh", nil)
		assertError(t, resp, raw, http.StatusUnauthorized, "UNAUTHORIZED")
	})

	t.Run("LogoutThenRefresh", func(t *testing.T) {
		resp, raw := ts.do(t, http.MethodPost, "/api/auth/logout", nil, withCookie(session.Cookie))
		assertError(t, resp, raw, http.StatusUnauthorized, "MISSING_TOKENS")

		resp, raw = ts.do(t, http.MethodPost, "/api/auth/logout", nil, withBearer(session.AccessToken), withCookie(session.Cookie))
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
		assert.JSONEq(t, `{"success":true}`, string(raw))
		for _, name := range []string{"refresh_token", "access_token"} {
			c := findCookie(resp, name)
			require.NotNil(t, c, name)
			assert.Empty(t, c.Value)
			assert.Equal(t, -1, c.MaxAge, "Max-Age=0 on the wire")
		}

		resp, raw = ts.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(session.Cookie))
		assertError(t, resp, raw, http.StatusUnauthorized, "UNAUTHORIZED")
	})
}

func TestVerifyErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, raw := ts.do(t, http.MethodGet, "/api/auth/verify?token=deadbeef", nil)
	assertError(t, resp, raw, http.StatusBadRequest, "INVALID_TOKEN")

	resp, raw = ts.do(t, http.MethodGet, "/api/auth/verify", nil)
	assertError(t, resp, raw, http.StatusBadRequest, "INVALID_TOKEN")

	tok := ts.requestLink(t, map[string]any{"email": "late@example.com"})
	ts.Clock.Advance(15*time.Minute + time.Millisecond)
	resp, raw = ts.do(t, http.MethodGet, "/api/auth/verify?token="+tok, nil)
	assertError(t, resp, raw, http.StatusBadRequest, "TOKEN_EXPIRED")
}

func TestRequestLinkErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, raw := ts.do(t, http.MethodPost, "/api/auth/request-magic-link", `{"email":`)
	assertError(t, resp, raw, http.StatusBadRequest, "VALIDATION_ERROR")

	resp, raw = ts.do(t, http.MethodPost, "/api/auth/request-magic-link", map[string]any{"email": "nope"})
	assertError(t, resp, raw, http.StatusBadRequest, "VALIDATION_ERROR")

	resp, raw = ts.do(t, http.MethodPost, "/api/auth/request-magic-link", map[string]any{"email": "a@example.com", "redirectUri": "https://evil.example.net/"})
	assertError(t, resp, raw, http.StatusBadRequest, "VALIDATION_ERROR")

	for i := 0; i < 3; i++ {
		ts.requestLink(t, map[string]any{"email": "a@example.com"})
	}
	resp, raw = ts.do(t, http.MethodPost, "/api/auth/request-magic-link", map[string]any{"email": "a@example.com"})
	assertError(t, resp, raw, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")
}

func TestIPThrottle(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 30; i++ {
		forged := withHeader("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		resp, raw := ts.do(t, http.MethodGet, fmt.Sprintf("/api/auth/verify?token=t%d", i), nil, forged)
		require.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode, "request %d: %s", i+1, raw)
	}
	resp, raw := ts.do(t, http.MethodGet, "/api/auth/verify?token=y", nil, withHeader("X-Forwarded-For", "198.51.100.200"))
	assertError(t, resp, raw, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")
}

func TestIPThrottleBehindTrustedProxy(t *testing.T) {
	ts := newServer(t, db.NewSQLiteOpener(t.TempDir()), StackOptions{TrustProxy: true})
	client := withHeader("X-Forwarded-For", "198.51.100.23")
	for i := 0; i < 30; i++ {
		resp, raw := ts.do(t, http.MethodGet, fmt.Sprintf("/api/auth/verify?token=t%d", i), nil, client)
		require.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode, "request %d: %s", i+1, raw)
	}
	resp, raw := ts.do(t, http.MethodGet, "/api/auth/verify?token=y", nil, client)
	assertError(t, resp, raw, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")

	resp, raw = ts.do(t, http.MethodGet, "/api/auth/verify?token=z", nil, withHeader("X-Forwarded-For", "198.51.100.24"))
	assertError(t, resp, raw, http.StatusBadRequest, "INVALID_TOKEN")

	tok := ts.requestLink(t, map[string]any{"email": "proxied@example.com"})
	resp, raw = ts.do(t, http.MethodGet, "/api/auth/verify?token="+tok, nil, withHeader("X-Forwarded-For", "198.51.100.77"))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
	s := decode[verifyResponse](t, raw)

	resp, raw = ts.do(t, http.MethodGet, "/api/auth/user/sessions", nil, withBearer(s.AccessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
	list := decode[struct {
		Sessions []model.Session `json:"sessions"`
	}](t, raw).Sessions
	require.Len(t, list, 1)
	require.NotNil(t, list[0].IPAddress)
	assert.Equal(t, "198.51.100.77", *list[0].IPAddress)
}

func TestProtectedRoutesRequireAccessToken(t *testing.T) {
	ts := newTestServer(t)
	s := ts.signIn(t, "a@example.com")

	resp, raw := ts.do(t, http.MethodGet, "/api/auth/user", nil)
	assertError(t, resp, raw, http.StatusUnauthorized, "UNAUTHORIZED")

	resp, raw = ts.do(t, http.MethodGet, "/api/auth/user", nil, withBearer(s.RefreshToken))
	assertError(t, resp, raw, http.StatusUnauthorized, "INVALID_TOKEN")

	ts.Clock.Advance(token.AccessTTL + time.Second)
	resp, raw = ts.do(t, http.MethodGet, "/api/auth/user", nil, withBearer(s.AccessToken))
	assertError(t, resp, raw, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestRevokeSessions(t *testing.T) {
	ts := newTestServer(t)
	first := ts.signIn(t, "a@example.com")
	second := ts.signIn(t, "a@example.com")
	third := ts.signIn(t, "a@example.com")

	resp, raw := ts.do(t, http.MethodGet, "/api/auth/user/sessions", nil, withBearer(first.AccessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Sessions []model.Session `json:"sessions"`
	}](t, raw).Sessions
	require.Len(t, list, 3)

	var firstID string
	for _, s := range list {
		if s.RefreshTokenID != "" {
			claims, err := token.NewCodec(nil, &signingKey(t).PublicKey, ts.Clock).VerifyRefresh(first.RefreshToken)
			require.NoError(t, err)
			if s.RefreshTokenID == claims.ID {
				firstID = s.ID
			}
		}
	}
	require.NotEmpty(t, firstID)

	resp, raw = ts.do(t, http.MethodDelete, "/api/auth/user/sessions/"+firstID, nil, withBearer(second.AccessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)

	resp, raw = ts.do(t, http.MethodDelete, "/api/auth/user/sessions/"+firstID, nil, withBearer(second.AccessToken))
	assertError(t, resp, raw, http.StatusNotFound, "SESSION_NOT_FOUND")

	resp, raw = ts.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(first.Cookie))
	assertError(t, resp, raw, http.StatusUnauthorized, "UNAUTHORIZED")
	resp, _ = ts.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(third.Cookie))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw = ts.do(t, http.MethodDelete, "/api/auth/user/sessions", nil, withBearer(second.AccessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
	assert.JSONEq(t, `{"success":true,"revoked":2}`, string(raw))

	for _, s := range []signedIn{second, third} {
		resp, raw = ts.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(s.Cookie))
		assertError(t, resp, raw, http.StatusUnauthorized, "UNAUTHORIZED")
	}
}

func TestCleanupEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.signIn(t, "a@example.com")

	resp, raw := ts.do(t, http.MethodPost, "/internal/cleanup", nil)
	assertError(t, resp, raw, http.StatusUnauthorized, "UNAUTHORIZED")
	resp, raw = ts.do(t, http.MethodPost, "/internal/cleanup", nil, withBearer("wrong"))
	assertError(t, resp, raw, http.StatusUnauthorized, "UNAUTHORIZED")

	ts.Clock.Advance(token.RefreshTTL + time.Hour)
	resp, raw = ts.do(t, http.MethodPost, "/internal/cleanup", nil, withBearer(CleanupToken))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
	assert.JSONEq(t, `{"tokens":1,"revocations":0,"sessions":1,"users":1}`, string(raw))
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodOptions, "/api/auth/refresh", nil,
		withHeader("Origin", "https://tasks.example.com"),
		withHeader("Access-Control-Request-Method", "POST"))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://tasks.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	resp, _ = ts.do(t, http.MethodOptions, "/api/auth/refresh", nil,
		withHeader("Origin", "https://evil.example.net"),
		withHeader("Access-Control-Request-Method", "POST"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

// TestAuthIntegrationPostgres runs the full flow with every actor in its own
// Postgres schema.
func TestAuthIntegrationPostgres(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}
	ctx := context.Background()
	root, err := db.OpenPostgres(ctx, databaseURL, db.RootPool)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { root.Close() })
	require.NoError(t, DropActorSchemas(ctx, root))

	opener, err := db.NewPostgresOpener(ctx, root, databaseURL)
	require.NoError(t, err)
	ts := newServer(t, opener, StackOptions{AppRedirectURLs: map[string]string{"tasks": "https://tasks.example.com/"}})

	runFullFlow(t, ts, "pg-"+uuid.NewString()[:8]+"@example.com")
}
