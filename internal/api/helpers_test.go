package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-auth/internal/audit"
	"github.com/nerrad567/gray-logic-auth/internal/auth"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-auth/internal/session"
	_ "github.com/nerrad567/gray-logic-auth/migrations" // registers embedded migrations
)

const (
	testPassword    = "password-123"
	testSessionName = "glauth_session"
	testJWTSecret   = "test-secret-key-at-least-32-characters-long"
	firefoxUA       = "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"
	chromeUA        = "Mozilla/5.0 (Windows NT 10.0) Chrome/126.0"
)

// testURL is the origin httptest.NewRequest uses.
var testURL = &url.URL{Scheme: "http", Host: "example.com", Path: "/"}

// testEnv is a fully wired server over a temporary SQLite database.
type testEnv struct {
	srv   *Server
	m     *auth.Manager
	repos auth.Repositories
	db    *database.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	orm, err := db.ORM(nil)
	if err != nil {
		t.Fatalf("opening orm: %v", err)
	}

	repos := auth.NewGormRepositories(orm)
	auditRepo := audit.NewRepository(db)
	log := logging.Discard()

	m, err := auth.NewManager(repos, auth.BcryptHasher{Cost: 4}, auth.Config{
		Lifetime:      time.Hour,
		GCProbability: -1,
	}, log.Logger, auth.WithEvents(audit.NewRecorder(log.Logger, auditRepo)))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	store, err := session.NewStore(config.SessionConfig{
		Backend: config.SessionBackendCookie,
		Name:    testSessionName,
		Secret:  "session-secret-0123456789abcdef-0123456789",
		MaxAge:  3600,
	}, config.RedisConfig{}, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         testJWTSecret,
				AccessTokenTTL: 15,
				Issuer:         "graylogic-auth-test",
			},
		},
		Logger:      log,
		Auth:        m,
		Sessions:    store,
		SessionName: testSessionName,
		Cookies:     session.CookieOptions{Codec: session.NewCodec("autologin-signing-key")},
		AuditRepo:   auditRepo,
		DB:          db,
		Registry:    prometheus.NewRegistry(),
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{srv: srv, m: m, repos: repos, db: db}
}

// seedUser creates a user with testPassword holding the named roles.
func (e *testEnv) seedUser(t *testing.T, username string, roleNames ...string) *auth.User {
	t.Helper()
	ctx := context.Background()

	hash, err := e.m.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	roles, err := e.repos.Roles.FindByNames(ctx, roleNames)
	if err != nil || len(roles) != len(roleNames) {
		t.Fatalf("finding roles %v: %v (found %d)", roleNames, err, len(roles))
	}

	user := &auth.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hash,
		Roles:    roles,
	}
	if err := e.repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	return user
}

// client is a browser: it keeps cookies between requests.
type client struct {
	t   *testing.T
	h   http.Handler
	jar *cookiejar.Jar
	ua  string
}

func (e *testEnv) newClient(t *testing.T, userAgent string) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	return &client{t: t, h: e.srv.Handler(), jar: jar, ua: userAgent}
}

func (c *client) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	c.t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("User-Agent", c.ua)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	for _, ck := range c.jar.Cookies(testURL) {
		req.AddCookie(ck)
	}

	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	c.jar.SetCookies(testURL, rec.Result().Cookies())
	return rec
}

// cookie returns the value the client holds for name.
func (c *client) cookie(name string) (string, bool) {
	for _, ck := range c.jar.Cookies(testURL) {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}

// setCookie plants a cookie, as if carried over from an earlier visit.
func (c *client) setCookie(name, value string) {
	c.jar.SetCookies(testURL, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

// login posts credentials and fails the test unless they are accepted.
func (c *client) login(identity string, remember bool) {
	c.t.Helper()
	body, _ := json.Marshal(loginRequest{Identity: identity, Password: testPassword, Remember: remember})
	if rec := c.do(http.MethodPost, "/api/v1/auth/login", string(body)); rec.Code != http.StatusOK {
		c.t.Fatalf("login %s status = %d, body: %s", identity, rec.Code, rec.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return v
}
