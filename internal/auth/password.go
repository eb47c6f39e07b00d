package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hasher encodes passwords for storage and verifies candidates against them.
// Implementations must compare in constant time.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Supported hash methods (auth.hash_method).
const (
	HashArgon2id   = "argon2id"
	HashBcrypt     = "bcrypt"
	HashHMACSHA256 = "hmac-sha256"
)

// NewHasher returns the Hasher for a configured method.
// key is only used by hmac-sha256 and must be non-empty for it.
func NewHasher(method, key string) (Hasher, error) {
	switch method {
	case HashArgon2id, "":
		return Argon2idHasher{}, nil
	case HashBcrypt:
		return BcryptHasher{Cost: bcrypt.DefaultCost}, nil
	case HashHMACSHA256:
		if key == "" {
			return nil, errors.New("hmac-sha256 requires a hash key")
		}
		return HMACHasher{Key: []byte(key)}, nil
	default:
		return nil, fmt.Errorf("unsupported hash method %q", method)
	}
}

// Argon2id parameters — OWASP 2025 recommendation.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // output hash length
	argonSaltLen = 16        // salt length
)

// Argon2idHasher produces PHC strings: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
type Argon2idHasher struct{}

// Hash hashes a plaintext password using Argon2id with a random salt.
func (Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify checks a plaintext password against an Argon2id PHC hash string.
// The parameters embedded in the string are used, so older hashes keep verifying.
func (Argon2idHasher) Verify(password, encoded string) (bool, error) {
	salt, hash, params, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// decodePHC parses an Argon2id PHC string format into its components.
func decodePHC(encoded string) (salt, hash []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, fmt.Errorf("invalid PHC hash format")
	}

	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing version: %w", err)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding salt: %w", err)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding hash: %w", err)
	}

	return salt, hash, params, nil
}

// BcryptHasher stores passwords as bcrypt hashes.
type BcryptHasher struct {
	Cost int
}

// Hash returns the bcrypt encoding of password.
func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether password matches the bcrypt hash.
func (BcryptHasher) Verify(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("verifying bcrypt hash: %w", err)
	}
}

// HMACHasher stores hex(HMAC-SHA256(key, password)). It is unsalted and only
// exists so accounts imported from installations using a shared hash key
// keep working.
type HMACHasher struct {
	Key []byte
}

// Hash returns the hex HMAC of password.
func (h HMACHasher) Hash(password string) (string, error) {
	mac := hmac.New(sha256.New, h.Key)
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether password produces the stored HMAC.
func (h HMACHasher) Verify(password, encoded string) (bool, error) {
	candidate, _ := h.Hash(password) //nolint:errcheck // HMAC never fails
	return hmac.Equal([]byte(candidate), []byte(encoded)), nil
}
