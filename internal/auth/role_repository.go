package auth

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// RoleRepository defines the interface for role lookups.
type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	GetByName(ctx context.Context, name string) (*Role, error)
	FindByNames(ctx context.Context, names []string) ([]Role, error)
	List(ctx context.Context) ([]Role, error)
}

// GormRoleRepository implements RoleRepository with gorm.
type GormRoleRepository struct {
	db *gorm.DB
}

// NewRoleRepository creates a gorm-backed role repository.
func NewRoleRepository(db *gorm.DB) *GormRoleRepository {
	return &GormRoleRepository{db: db}
}

// Create inserts a role. The ID is generated if empty.
func (r *GormRoleRepository) Create(ctx context.Context, role *Role) error {
	if err := r.db.WithContext(ctx).Create(role).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role %q already exists: %w", role.Name, err)
		}
		return fmt.Errorf("creating role: %w", err)
	}
	return nil
}

// GetByName loads a role by exact name.
func (r *GormRoleRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := r.db.WithContext(ctx).Where("name = ?", name).Take(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("getting role: %w", err)
	}
	return &role, nil
}

// FindByNames returns the roles whose name is in names. Unknown names are
// simply absent from the result.
func (r *GormRoleRepository) FindByNames(ctx context.Context, names []string) ([]Role, error) {
	roles := []Role{}
	if len(names) == 0 {
		return roles, nil
	}
	if err := r.db.WithContext(ctx).Where("name IN ?", names).Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("finding roles: %w", err)
	}
	return roles, nil
}

// List returns every role ordered by name.
func (r *GormRoleRepository) List(ctx context.Context) ([]Role, error) {
	roles := []Role{}
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	return roles, nil
}
