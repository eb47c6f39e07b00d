package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/sessions"
)

func newTestRedisStore() (*RedisStore, *fakeRedis) {
	fake := newFakeRedis()
	opts := &sessions.Options{Path: "/", MaxAge: 600, HttpOnly: true, SameSite: http.SameSiteLaxMode}
	keys := deriveKeys("redis-store-test-secret")
	return NewRedisStore(fake, "test:", opts, keys...), fake
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store, fake := newTestRedisStore()

	rec := httptest.NewRecorder()
	sess, err := Load(store, testSessionName, rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := sess.Set("auth_user", "usr-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	keys := fake.keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "test:") {
		t.Fatalf("redis keys = %v, want one test: key", keys)
	}
	if ttl := fake.ttls[keys[0]]; ttl != 600*time.Second {
		t.Errorf("ttl = %v, want 10m", ttl)
	}

	c := lastCookie(rec, testSessionName)
	if c == nil || strings.Contains(c.Value, "usr-1") {
		t.Fatalf("cookie should carry only the signed id, got %+v", c)
	}

	next, err := Load(store, testSessionName, httptest.NewRecorder(), nextRequest(rec))
	if err != nil {
		t.Fatalf("Load() second request error = %v", err)
	}
	if next.IsNew() {
		t.Error("existing session reported as new")
	}
	if v, _ := next.Get("auth_user"); v != "usr-1" {
		t.Errorf("auth_user = %v, want usr-1", v)
	}
}

func TestRedisStore_Regenerate(t *testing.T) {
	store, fake := newTestRedisStore()

	rec := httptest.NewRecorder()
	sess, _ := Load(store, testSessionName, rec, httptest.NewRequest(http.MethodGet, "/", nil))
	sess.Set("auth_user", "usr-1") //nolint:errcheck // checked below
	before := fake.keys()

	if err := sess.Regenerate(); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	after := fake.keys()
	if len(after) != 1 || after[0] == before[0] {
		t.Errorf("keys before %v after %v; want one new key", before, after)
	}

	next, _ := Load(store, testSessionName, httptest.NewRecorder(), nextRequest(rec))
	if v, _ := next.Get("auth_user"); v != "usr-1" {
		t.Errorf("values lost across regenerate: auth_user = %v", v)
	}
}

func TestRedisStore_Destroy(t *testing.T) {
	store, fake := newTestRedisStore()

	rec := httptest.NewRecorder()
	sess, _ := Load(store, testSessionName, rec, httptest.NewRequest(http.MethodGet, "/", nil))
	sess.Set("auth_user", "usr-1") //nolint:errcheck // checked below

	if err := sess.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if keys := fake.keys(); len(keys) != 0 {
		t.Errorf("redis keys after Destroy = %v, want none", keys)
	}
	if c := lastCookie(rec, testSessionName); c == nil || c.MaxAge >= 0 {
		t.Errorf("Destroy() should expire the cookie, got %+v", c)
	}
}

func TestRedisStore_ExpiredEntry(t *testing.T) {
	store, fake := newTestRedisStore()

	rec := httptest.NewRecorder()
	sess, _ := Load(store, testSessionName, rec, httptest.NewRequest(http.MethodGet, "/", nil))
	sess.Set("auth_user", "usr-1") //nolint:errcheck // checked below

	// Redis expired the key; the cookie outlived it.
	for _, k := range fake.keys() {
		delete(fake.data, k)
	}

	next, err := Load(store, testSessionName, httptest.NewRecorder(), nextRequest(rec))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !next.IsNew() {
		t.Error("session with a vanished entry should be new")
	}
	if _, ok := next.Get("auth_user"); ok {
		t.Error("vanished session should have no values")
	}
}

func TestRedisStore_BackendDown(t *testing.T) {
	store, fake := newTestRedisStore()
	fake.err = errors.New("connection refused")

	rec := httptest.NewRecorder()
	sess, _ := Load(store, testSessionName, rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if err := sess.Set("auth_user", "usr-1"); err == nil {
		t.Error("Set() should surface the store failure")
	}
}
