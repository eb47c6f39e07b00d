package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/config"
)

// ErrNoRedis is returned when the Redis backend is selected without a client.
var ErrNoRedis = errors.New("session: redis backend requires a redis client")

// NewStore builds the configured session backend. rdb is only used by the
// redis backend and may be nil otherwise.
func NewStore(cfg config.SessionConfig, redisCfg config.RedisConfig, rdb RedisClient) (sessions.Store, error) {
	keys := deriveKeys(cfg.Secret)
	opts := &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.MaxAge,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	switch cfg.Backend {
	case "", config.SessionBackendCookie:
		store := sessions.NewCookieStore(keys...)
		store.Options = opts
		store.MaxAge(cfg.MaxAge)
		return store, nil
	case config.SessionBackendRedis:
		if rdb == nil {
			return nil, ErrNoRedis
		}
		return NewRedisStore(rdb, redisCfg.KeyPrefix, opts, keys...), nil
	default:
		return nil, fmt.Errorf("session: unsupported backend %q", cfg.Backend)
	}
}

// deriveKeys turns the configured secret into a hash key and a 32-byte
// encryption key for securecookie.
func deriveKeys(secret string) [][]byte {
	hashKey := sha256.Sum256([]byte("glauth-session-hash:" + secret))
	blockKey := sha256.Sum256([]byte("glauth-session-block:" + secret))
	return [][]byte{hashKey[:], blockKey[:]}
}
