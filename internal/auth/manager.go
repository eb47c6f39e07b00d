package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"gorm.io/gorm"

	"github.com/nerrad567/gray-logic-auth/internal/audit"
)

// Defaults applied by NewManager when Config leaves a field zero.
const (
	DefaultLifetime      = 14 * 24 * time.Hour
	DefaultCookieName    = "authautologin"
	defaultGCProbability = 1
)

// Repositories bundles the stores the auth core reads and writes.
// Deployments with custom storage supply their own implementations.
type Repositories struct {
	Users  UserRepository
	Roles  RoleRepository
	Tokens TokenRepository
}

// NewGormRepositories returns gorm-backed repositories sharing db.
func NewGormRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Users:  NewUserRepository(db),
		Roles:  NewRoleRepository(db),
		Tokens: NewTokenRepository(db),
	}
}

// Config controls auto-login behaviour.
type Config struct {
	// Lifetime is how long an auto-login token (and its cookie) lives.
	Lifetime time.Duration

	// CookieName is the auto-login cookie name.
	CookieName string

	// GCProbability is the percentage (0-100) of auto-login lookups that
	// first delete expired tokens. Negative disables collection.
	GCProbability int
}

// EventRecorder receives security events.
type EventRecorder interface {
	Record(ctx context.Context, e audit.Event)
}

// Manager holds the long-lived auth dependencies and hands out a Guard per request.
//
// Thread Safety: safe for concurrent use. Guards are not.
type Manager struct {
	repos  Repositories
	hasher Hasher
	cfg    Config
	events EventRecorder
	logger *slog.Logger

	now  func() time.Time
	roll func() int
}

// Option customises a Manager.
type Option func(*Manager)

// WithEvents sends security events to r.
func WithEvents(r EventRecorder) Option {
	return func(m *Manager) { m.events = r }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. Every repository and the hasher are required.
func NewManager(repos Repositories, hasher Hasher, cfg Config, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if repos.Users == nil || repos.Roles == nil || repos.Tokens == nil {
		return nil, errors.New("auth: users, roles and tokens repositories are required")
	}
	if hasher == nil {
		return nil, errors.New("auth: hasher is required")
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.GCProbability == 0 {
		cfg.GCProbability = defaultGCProbability
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		repos:  repos,
		hasher: hasher,
		cfg:    cfg,
		logger: logger.With("component", "auth"),
		now:    time.Now,
		roll:   func() int { return rand.IntN(100) }, //nolint:gosec,mnd // percentage roll, not security sensitive
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// For returns a Guard bound to one request's session, cookies and User-Agent.
func (m *Manager) For(sess SessionStore, cookies CookieJar, userAgent string) *Guard {
	return &Guard{
		m:         m,
		session:   sess,
		cookies:   cookies,
		userAgent: userAgent,
	}
}

// Repositories returns the stores the manager was built with.
func (m *Manager) Repositories() Repositories {
	return m.repos
}

// CookieName returns the auto-login cookie name.
func (m *Manager) CookieName() string {
	return m.cfg.CookieName
}

// HashPassword encodes a password with the configured hasher.
func (m *Manager) HashPassword(password string) (string, error) {
	return m.hasher.Hash(password)
}

// Password returns the stored password hash of an account.
func (m *Manager) Password(ctx context.Context, id Identity) (string, error) {
	user, err := m.Resolve(ctx, id)
	if err != nil {
		return "", err
	}
	return user.Password, nil
}

// Resolve turns an Identity into a loaded user.
// Returns ErrUserNotFound when no account matches.
func (m *Manager) Resolve(ctx context.Context, id Identity) (*User, error) {
	switch v := id.(type) {
	case keyIdentity:
		return m.repos.Users.GetByKey(ctx, string(v))
	case userIdentity:
		if v.user == nil {
			return nil, ErrUserNotFound
		}
		return v.user, nil
	default:
		return nil, ErrUserNotFound
	}
}

// RevokeTokens deletes every auto-login token of a user, signing them out
// of remembered devices.
func (m *Manager) RevokeTokens(ctx context.Context, userID, reason string) (int64, error) {
	n, err := m.repos.Tokens.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	m.logger.Info("auto-login tokens revoked", "user_id", userID, "count", n, "reason", reason)
	m.record(ctx, audit.Event{
		Action:  audit.ActionTokensRevoked,
		UserID:  userID,
		Details: map[string]any{"count": n, "reason": reason},
	})
	return n, nil
}

// PurgeExpired deletes every expired auto-login token.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.repos.Tokens.DeleteExpired(ctx, m.now())
}

// maybeCollectGarbage purges expired tokens on a GCProbability percent roll.
// Failures are logged only.
func (m *Manager) maybeCollectGarbage(ctx context.Context) {
	if m.cfg.GCProbability <= 0 || m.roll() >= m.cfg.GCProbability {
		return
	}
	n, err := m.PurgeExpired(ctx)
	if err != nil {
		m.logger.Warn("expired token collection failed", "error", err)
		return
	}
	if n > 0 {
		m.logger.Debug("expired tokens collected", "count", n)
	}
}

func (m *Manager) record(ctx context.Context, e audit.Event) {
	if m.events == nil {
		return
	}
	m.events.Record(ctx, e)
}

// resolveRoles turns a RoleQuery into role rows. ok is false when some
// requested role does not exist.
func (m *Manager) resolveRoles(ctx context.Context, q RoleQuery) (roles []Role, ok bool, err error) {
	switch v := q.(type) {
	case nil:
		return nil, true, nil
	case roleNames:
		if len(v) == 0 {
			return nil, true, nil
		}
		found, err := m.repos.Roles.FindByNames(ctx, v)
		if err != nil {
			return nil, false, err
		}
		if len(found) < len(v) {
			return nil, false, nil
		}
		return found, true, nil
	case roleName:
		role, err := m.repos.Roles.GetByName(ctx, string(v))
		if errors.Is(err, ErrRoleNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return []Role{*role}, true, nil
	case resolvedRoles:
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported role query %T", q)
	}
}

// hasRoles reports whether user holds every role matched by q.
func (m *Manager) hasRoles(ctx context.Context, user *User, q RoleQuery) (bool, error) {
	roles, ok, err := m.resolveRoles(ctx, q)
	if err != nil || !ok {
		return false, err
	}
	if len(roles) == 0 {
		return true, nil
	}
	ids := make([]string, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	return m.repos.Users.HasRoles(ctx, user.ID, ids)
}
