package session

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to session ids to form Redis keys.
const DefaultRedisPrefix = "glauth:session:"

// sessionIDBytes is the entropy of a generated session id.
const sessionIDBytes = 32

// RedisClient is the subset of *redis.Client the store uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore is a gorilla/sessions Store keeping session values in Redis.
// The cookie carries only the signed session id.
type RedisStore struct {
	client  RedisClient
	prefix  string
	codecs  []securecookie.Codec
	Options *sessions.Options
}

// NewRedisStore creates a Redis-backed store. keyPairs are securecookie
// hash/block key pairs used for both the cookie and the stored values.
func NewRedisStore(client RedisClient, prefix string, opts *sessions.Options, keyPairs ...[]byte) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if opts == nil {
		opts = &sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode}
	}
	codecs := securecookie.CodecsFromPairs(keyPairs...)
	for _, c := range codecs {
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			// Values can exceed the cookie size limit; Redis holds them.
			sc.MaxLength(0)
		}
	}
	return &RedisStore{client: client, prefix: prefix, codecs: codecs, Options: opts}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Get returns the named session from the request registry.
func (s *RedisStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New loads the session named by the request cookie, or returns a fresh
// one. A missing or expired Redis entry yields a new session without error.
func (s *RedisStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	if err := securecookie.DecodeMulti(name, c.Value, &session.ID, s.codecs...); err != nil {
		session.ID = ""
		return session, err
	}

	found, err := s.load(r, session)
	if err != nil {
		return session, err
	}
	session.IsNew = !found
	return session, nil
}

// Save writes the session to Redis and sets the id cookie. A negative
// MaxAge deletes the entry and expires the cookie.
func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options.MaxAge < 0 {
		if err := s.delete(r, session); err != nil {
			return err
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = newSessionID()
	}
	if err := s.save(r, session); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return fmt.Errorf("encoding session cookie: %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// Regenerate moves the session's values to a new id, deleting the old entry.
func (s *RedisStore) Regenerate(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if err := s.delete(r, session); err != nil {
		return err
	}
	session.ID = ""
	return s.Save(r, w, session)
}

func (s *RedisStore) save(r *http.Request, session *sessions.Session) error {
	encoded, err := securecookie.EncodeMulti(session.Name(), session.Values, s.codecs...)
	if err != nil {
		return fmt.Errorf("encoding session values: %w", err)
	}
	ttl := time.Duration(session.Options.MaxAge) * time.Second
	if err := s.client.Set(r.Context(), s.key(session.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *RedisStore) load(r *http.Request, session *sessions.Session) (bool, error) {
	data, err := s.client.Get(r.Context(), s.key(session.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading session: %w", err)
	}
	if err := securecookie.DecodeMulti(session.Name(), data, &session.Values, s.codecs...); err != nil {
		return false, fmt.Errorf("decoding session values: %w", err)
	}
	return true, nil
}

func (s *RedisStore) delete(r *http.Request, session *sessions.Session) error {
	if session.ID == "" {
		return nil
	}
	if err := s.client.Del(r.Context(), s.key(session.ID)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func newSessionID() string {
	return strings.TrimRight(
		base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(sessionIDBytes)), "=")
}
