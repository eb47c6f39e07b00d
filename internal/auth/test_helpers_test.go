package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/nerrad567/gray-logic-auth/internal/audit"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-auth/migrations" // registers embedded migrations
)

const (
	testPassword  = "test-password"
	testUserAgent = "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"
)

// testDB creates a temporary SQLite database with the real migrations applied
// and returns an ORM handle over it.
func testDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	orm, err := db.ORM(nil)
	if err != nil {
		t.Fatalf("opening orm: %v", err)
	}
	return orm
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eventLog collects recorded events.
type eventLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *eventLog) Record(_ context.Context, e audit.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Action)
	}
	return out
}

func (l *eventLog) has(action string) bool {
	for _, a := range l.actions() {
		if a == action {
			return true
		}
	}
	return false
}

// testEnv bundles a manager and its stores.
type testEnv struct {
	m      *Manager
	repos  Repositories
	clock  *testClock
	events *eventLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repos := NewGormRepositories(testDB(t))
	clock := newTestClock()
	events := &eventLog{}

	m, err := NewManager(repos, BcryptHasher{Cost: 4}, Config{
		Lifetime:      time.Hour,
		GCProbability: -1,
	}, nil, WithClock(clock.Now), WithEvents(events))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return &testEnv{m: m, repos: repos, clock: clock, events: events}
}

// seedTestUser creates a user with testPassword holding the named roles.
func (e *testEnv) seedTestUser(t *testing.T, username string, roleNames ...string) *User {
	t.Helper()
	ctx := context.Background()

	hash, err := e.m.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	roles, err := e.repos.Roles.FindByNames(ctx, roleNames)
	if err != nil {
		t.Fatalf("finding roles: %v", err)
	}
	for _, name := range roleNames {
		found := false
		for _, r := range roles {
			found = found || r.Name == name
		}
		if !found {
			role := &Role{Name: name}
			if err := e.repos.Roles.Create(ctx, role); err != nil {
				t.Fatalf("creating role %s: %v", name, err)
			}
			roles = append(roles, *role)
		}
	}

	user := &User{
		Username: username,
		Email:    username + "@example.com",
		Password: hash,
		Roles:    roles,
	}
	if err := e.repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

// browser simulates one client: its cookies persist across requests, its
// session only when reused.
type browser struct {
	userAgent string
	cookies   *fakeCookies
	session   *fakeSession
}

func newBrowser(userAgent string) *browser {
	return &browser{userAgent: userAgent, cookies: newFakeCookies(), session: newFakeSession()}
}

// guard returns a Guard for a request that reuses the browser's session.
func (b *browser) guard(m *Manager) *Guard {
	return m.For(b.session, b.cookies, b.userAgent)
}

// freshGuard returns a Guard for a request with a brand new session,
// as after the session cookie expired.
func (b *browser) freshGuard(m *Manager) *Guard {
	b.session = newFakeSession()
	return b.guard(m)
}

// fakeSession is an in-memory SessionStore.
type fakeSession struct {
	values      map[string]any
	id          int
	regenerated int
	destroyed   bool
	failWrites  error
}

func newFakeSession() *fakeSession {
	return &fakeSession{values: map[string]any{}, id: 1}
}

func (s *fakeSession) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *fakeSession) Set(key string, value any) error {
	if s.failWrites != nil {
		return s.failWrites
	}
	s.values[key] = value
	return nil
}

func (s *fakeSession) Delete(keys ...string) error {
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func (s *fakeSession) Regenerate() error {
	if s.failWrites != nil {
		return s.failWrites
	}
	s.id++
	s.regenerated++
	return nil
}

func (s *fakeSession) Destroy() error {
	s.values = map[string]any{}
	s.destroyed = true
	s.id++
	return nil
}

// fakeCookies is an in-memory CookieJar.
type fakeCookies struct {
	values map[string]string
	ttls   map[string]time.Duration
	sets   int
}

func newFakeCookies() *fakeCookies {
	return &fakeCookies{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCookies) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

func (c *fakeCookies) Set(name, value string, ttl time.Duration) error {
	c.values[name] = value
	c.ttls[name] = ttl
	c.sets++
	return nil
}

func (c *fakeCookies) Delete(name string) error {
	delete(c.values, name)
	delete(c.ttls, name)
	return nil
}

// failingTokens wraps a TokenRepository and fails lookups with err.
type failingTokens struct {
	TokenRepository
	err error
}

func (f failingTokens) GetByValue(context.Context, string) (*Token, error) {
	return nil, f.err
}

var errStoreDown = errors.New("store unavailable")
