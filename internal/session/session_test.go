package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/sessions"

	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/config"
)

const testSessionName = "glauth_session"

func testSessionConfig(backend string) config.SessionConfig {
	return config.SessionConfig{
		Backend: backend,
		Name:    testSessionName,
		Secret:  "session-secret-0123456789abcdef-0123456789",
		MaxAge:  3600,
	}
}

func newCookieStore(t *testing.T) sessions.Store {
	t.Helper()
	store, err := NewStore(testSessionConfig(config.SessionBackendCookie), config.RedisConfig{}, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func TestNewStore(t *testing.T) {
	if _, ok := newCookieStore(t).(*sessions.CookieStore); !ok {
		t.Error("cookie backend should build a CookieStore")
	}

	store, err := NewStore(testSessionConfig(config.SessionBackendRedis), config.RedisConfig{KeyPrefix: "t:"}, newFakeRedis())
	if err != nil {
		t.Fatalf("NewStore(redis) error = %v", err)
	}
	rs, ok := store.(*RedisStore)
	if !ok || rs.prefix != "t:" {
		t.Errorf("redis backend store = %T prefix %q", store, rs.prefix)
	}

	if _, err := NewStore(testSessionConfig(config.SessionBackendRedis), config.RedisConfig{}, nil); !errors.Is(err, ErrNoRedis) {
		t.Errorf("redis without client error = %v, want ErrNoRedis", err)
	}
	if _, err := NewStore(testSessionConfig("memcached"), config.RedisConfig{}, nil); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestSession_CookieStoreRoundTrip(t *testing.T) {
	store := newCookieStore(t)

	rec := httptest.NewRecorder()
	sess, err := Load(store, testSessionName, rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !sess.IsNew() {
		t.Error("first request should get a new session")
	}
	if err := sess.Set("auth_user", "usr-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := sess.Set("auth_forced", true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	next, err := Load(store, testSessionName, httptest.NewRecorder(), nextRequest(rec))
	if err != nil {
		t.Fatalf("Load() second request error = %v", err)
	}
	if v, ok := next.Get("auth_user"); !ok || v != "usr-1" {
		t.Errorf("auth_user = %v, %v; want usr-1", v, ok)
	}
	if v, _ := next.Get("auth_forced"); v != true {
		t.Errorf("auth_forced = %v, want true", v)
	}
}

func TestSession_DeleteAndDestroy(t *testing.T) {
	store := newCookieStore(t)
	rec := httptest.NewRecorder()
	sess, _ := Load(store, testSessionName, rec, httptest.NewRequest(http.MethodGet, "/", nil))

	sess.Set("a", "1") //nolint:errcheck // checked below through Get
	sess.Set("b", "2") //nolint:errcheck // checked below through Get
	if err := sess.Delete("a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := sess.Get("a"); ok {
		t.Error("deleted key still present")
	}

	if err := sess.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, ok := sess.Get("b"); ok {
		t.Error("Destroy() should drop every value")
	}
	if c := lastCookie(rec, testSessionName); c == nil || c.MaxAge >= 0 {
		t.Errorf("Destroy() should expire the cookie, got %+v", c)
	}

	// A write after Destroy starts a new live session.
	if err := sess.Set("c", "3"); err != nil {
		t.Fatalf("Set() after Destroy error = %v", err)
	}
	if c := lastCookie(rec, testSessionName); c == nil || c.MaxAge <= 0 {
		t.Errorf("Set() after Destroy should write a live cookie, got %+v", c)
	}
}

func TestSession_TamperedCookie(t *testing.T) {
	store := newCookieStore(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: testSessionName, Value: "not-a-valid-session"})

	sess, err := Load(store, testSessionName, httptest.NewRecorder(), r)
	if err == nil {
		t.Error("Load() should report the decode failure")
	}
	if sess == nil || !sess.IsNew() {
		t.Fatal("Load() should still return a fresh session")
	}
	if err := sess.Set("auth_user", "usr-1"); err != nil {
		t.Errorf("Set() on fresh session error = %v", err)
	}
}

func TestSession_RegenerateCookieStore(t *testing.T) {
	store := newCookieStore(t)
	rec := httptest.NewRecorder()
	sess, _ := Load(store, testSessionName, rec, httptest.NewRequest(http.MethodGet, "/", nil))
	sess.Set("auth_user", "usr-1") //nolint:errcheck // checked below

	if err := sess.Regenerate(); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if v, _ := sess.Get("auth_user"); v != "usr-1" {
		t.Errorf("Regenerate() lost values: auth_user = %v", v)
	}
}
