package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// maxTokenAttempts bounds value regeneration when a new token collides
// with an existing one.
const maxTokenAttempts = 3

// TokenRepository defines the interface for auto-login token persistence.
type TokenRepository interface {
	Create(ctx context.Context, token *Token) error
	GetByValue(ctx context.Context, raw string) (*Token, error)
	Rotate(ctx context.Context, token *Token) error
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]Token, error)
}

// GormTokenRepository implements TokenRepository with gorm.
type GormTokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a gorm-backed token repository.
func NewTokenRepository(db *gorm.DB) *GormTokenRepository {
	return &GormTokenRepository{db: db}
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
// Raw tokens are never stored — only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// GenerateTokenValue creates a cryptographically random token value (256-bit).
func GenerateTokenValue() (string, error) {
	b := make([]byte, 32) //nolint:mnd // 256-bit token
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create generates a fresh value for token and inserts it. On return
// token.Value holds the raw value for the cookie and token.Token its hash.
func (r *GormTokenRepository) Create(ctx context.Context, token *Token) error {
	for attempt := 1; ; attempt++ {
		raw, err := GenerateTokenValue()
		if err != nil {
			return err
		}
		token.Value = raw
		token.Token = HashToken(raw)

		err = r.db.WithContext(ctx).Create(token).Error
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) || attempt >= maxTokenAttempts {
			return fmt.Errorf("creating token: %w", err)
		}
		token.ID = ""
	}
}

// GetByValue loads the token whose hash matches raw.
// Returns ErrTokenInvalid when no row matches.
func (r *GormTokenRepository) GetByValue(ctx context.Context, raw string) (*Token, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}
	var t Token
	err := r.db.WithContext(ctx).Where("token = ?", HashToken(raw)).Take(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("getting token: %w", err)
	}
	return &t, nil
}

// Rotate replaces the token's value on the same row, keeping its expiry.
//
// The update only applies while the row still carries token.Token, so of
// two requests presenting the same value exactly one wins; the other gets
// ErrTokenInvalid. On success token.Value and token.Token hold the new value.
func (r *GormTokenRepository) Rotate(ctx context.Context, token *Token) error {
	for attempt := 1; ; attempt++ {
		raw, err := GenerateTokenValue()
		if err != nil {
			return err
		}
		hash := HashToken(raw)

		res := r.db.WithContext(ctx).Model(&Token{}).
			Where("id = ? AND token = ?", token.ID, token.Token).
			Update("token", hash)
		if res.Error != nil {
			if isUniqueViolation(res.Error) && attempt < maxTokenAttempts {
				continue
			}
			return fmt.Errorf("rotating token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTokenInvalid
		}

		token.Value = raw
		token.Token = hash
		return nil
	}
}

// Delete removes a single token. Deleting a missing token is not an error.
func (r *GormTokenRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Token{}).Error; err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every token owned by a user.
func (r *GormTokenRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&Token{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting tokens for user: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteExpired removes tokens whose expiry is at or before now.
// Returns the number of deleted rows.
func (r *GormTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires <= ?", now.UTC()).Delete(&Token{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListByUser returns a user's tokens, newest first.
func (r *GormTokenRepository) ListByUser(ctx context.Context, userID string) ([]Token, error) {
	tokens := []Token{}
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created DESC").Find(&tokens).Error
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	return tokens, nil
}
