package auth

import (
	"errors"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
// Usernames must be 1-64 characters, alphanumeric with dots, hyphens, underscores.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Well-known role names seeded by the initial migration.
const (
	// RoleLogin must be held by any account that signs in with a password.
	// Accounts without it can still be force-logged-in by an administrator.
	RoleLogin = "login"

	// RoleAdmin grants access to the administrative API.
	RoleAdmin = "admin"
)

// Session keys written by the guard.
const (
	SessionKeyUser     = "auth_user"
	SessionKeyUserName = "auth_user_name"
	SessionKeyForced   = "auth_forced"
)

// User is an account that can authenticate.
type User struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	Password  string     `json:"-"` // encoded hash, never serialised
	Logins    int        `json:"logins"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Roles     []Role     `gorm:"many2many:roles_users;" json:"roles,omitempty"`
}

// BeforeCreate assigns a prefixed ID when none is set.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = "usr-" + uuid.NewString()[:8]
	}
	return nil
}

// RoleNames returns the sorted names of the loaded roles.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	slices.Sort(names)
	return names
}

// Role is a named authorisation grant.
type Role struct {
	ID          string `gorm:"primaryKey" json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// BeforeCreate assigns a prefixed ID when none is set.
func (r *Role) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = "rol-" + uuid.NewString()[:8]
	}
	return nil
}

// Token is a persistent auto-login token.
//
// Token holds the SHA-256 hex of the cookie value. Value carries the raw
// cookie value after Create or Rotate and is never persisted.
type Token struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `json:"user_id"`
	UserAgent string    `json:"-"` // fingerprint of the issuing User-Agent
	Token     string    `json:"-"`
	Expires   time.Time `json:"expires"`
	Created   time.Time `gorm:"autoCreateTime" json:"created"`

	Value string `gorm:"-" json:"-"`
}

// TableName maps Token to the user_tokens table.
func (Token) TableName() string {
	return "user_tokens"
}

// BeforeCreate assigns a prefixed ID when none is set.
func (t *Token) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = "tok-" + uuid.NewString()[:16]
	}
	return nil
}

// Expired reports whether the token is no longer usable at now.
func (t *Token) Expired(now time.Time) bool {
	return !t.Expires.After(now)
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrUsernameExists     = errors.New("username or email already exists")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrForcedSession      = errors.New("not allowed in a forced session")
	ErrNoUser             = errors.New("no user logged in")
)
