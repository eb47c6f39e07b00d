package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByKey(ctx context.Context, key string) (*User, error)
	List(ctx context.Context) ([]User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
	HasRoles(ctx context.Context, userID string, roleIDs []string) (bool, error)
	AddRoles(ctx context.Context, userID string, roles ...Role) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// GormUserRepository implements UserRepository with gorm.
type GormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a gorm-backed user repository.
func NewUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Create inserts a new user account. The ID is generated if empty.
// Roles already present on the struct are linked through roles_users.
func (r *GormUserRepository) Create(ctx context.Context, user *User) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Roles").Create(user).Error; err != nil {
			return err
		}
		return linkRoles(tx, user.ID, user.Roles)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by their unique ID, with roles loaded.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByKey retrieves a user by email when key is an email address,
// otherwise by username.
func (r *GormUserRepository) GetByKey(ctx context.Context, key string) (*User, error) {
	if key == "" {
		return nil, ErrUserNotFound
	}
	if isEmailKey(key) {
		return r.first(ctx, "email = ?", key)
	}
	return r.first(ctx, "username = ?", key)
}

func (r *GormUserRepository) first(ctx context.Context, query string, args ...any) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Preload("Roles").Where(query, args...).Take(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}

// List returns all users ordered by creation date.
func (r *GormUserRepository) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := r.db.WithContext(ctx).Preload("Roles").Order("created_at ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// UpdatePassword replaces a user's stored password hash.
func (r *GormUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update("password", passwordHash)
	if res.Error != nil {
		return fmt.Errorf("updating password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordLogin increments the login counter and stamps last_login in one statement.
func (r *GormUserRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(map[string]any{
		"logins":     gorm.Expr("logins + 1"),
		"last_login": at.UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("recording login: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// HasRoles reports whether the user holds every role in roleIDs.
func (r *GormUserRepository) HasRoles(ctx context.Context, userID string, roleIDs []string) (bool, error) {
	if len(roleIDs) == 0 {
		return true, nil
	}

	uniq := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		uniq[id] = struct{}{}
	}
	ids := make([]string, 0, len(uniq))
	for id := range uniq {
		ids = append(ids, id)
	}

	var n int64
	err := r.db.WithContext(ctx).Table("roles_users").
		Where("user_id = ? AND role_id IN ?", userID, ids).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("checking role membership: %w", err)
	}
	return n == int64(len(ids)), nil
}

// AddRoles grants roles to a user. Roles already held are left alone.
func (r *GormUserRepository) AddRoles(ctx context.Context, userID string, roles ...Role) error {
	if len(roles) == 0 {
		return nil
	}
	if err := linkRoles(r.db.WithContext(ctx), userID, roles); err != nil {
		return fmt.Errorf("granting roles: %w", err)
	}
	return nil
}

// roleLink is a row of the roles_users join table.
type roleLink struct {
	UserID string
	RoleID string
}

func (roleLink) TableName() string {
	return "roles_users"
}

func linkRoles(db *gorm.DB, userID string, roles []Role) error {
	if len(roles) == 0 {
		return nil
	}
	links := make([]roleLink, 0, len(roles))
	for _, role := range roles {
		links = append(links, roleLink{UserID: userID, RoleID: role.ID})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}

// Delete removes a user account. Tokens and role links cascade.
func (r *GormUserRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&User{})
	if res.Error != nil {
		return fmt.Errorf("deleting user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Count returns the total number of user accounts.
func (r *GormUserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// isUniqueViolation checks for a UNIQUE constraint violation. gorm translates
// most drivers' errors to ErrDuplicatedKey; the message check covers the rest.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
