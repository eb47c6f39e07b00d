package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// SessionStore is the per-request key/value session the guard writes the
// logged-in user into.
type SessionStore interface {
	Get(key string) (any, bool)
	Set(key string, value any) error
	Delete(keys ...string) error

	// Regenerate issues a new session identifier, keeping the values.
	Regenerate() error

	// Destroy removes every value and invalidates the session.
	Destroy() error
}

// CookieJar reads and writes the auto-login cookie of one request/response.
type CookieJar interface {
	Get(name string) (string, bool)
	Set(name, value string, ttl time.Duration) error
	Delete(name string) error
}

// Fingerprint returns the one-way hash of a User-Agent header stored with
// auto-login tokens.
func Fingerprint(userAgent string) string {
	h := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(h[:])
}

func fingerprintMatches(stored, userAgent string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(Fingerprint(userAgent))) == 1
}
