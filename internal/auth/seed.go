package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for the seed admin password.
const seedPasswordBytes = 16

// Seed admin account identity.
const (
	SeedAdminUsername = "admin"
	SeedAdminEmail    = "admin@localhost"
)

// SeedAdmin creates the initial administrator on first boot if no users exist.
// The account holds the login and admin roles. The generated password is
// logged once and must be changed immediately.
// Returns the generated password (empty string if seeding was skipped).
func SeedAdmin(ctx context.Context, m *Manager, logger *slog.Logger) (string, error) {
	count, err := m.repos.Users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}

	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	roles, err := m.repos.Roles.FindByNames(ctx, []string{RoleLogin, RoleAdmin})
	if err != nil {
		return "", fmt.Errorf("loading seed roles: %w", err)
	}
	if len(roles) != 2 { //nolint:mnd // login + admin
		return "", fmt.Errorf("loading seed roles: %w", ErrRoleNotFound)
	}

	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := m.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Username: SeedAdminUsername,
		Email:    SeedAdminEmail,
		Password: hash,
		Roles:    roles,
	}
	if err := m.repos.Users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"username", SeedAdminUsername,
		"password", password,
		"action_required", "change this password immediately",
	)

	return password, nil
}
