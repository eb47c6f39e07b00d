package session

import (
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
)

// regenerator is implemented by stores whose sessions have a server-side id.
type regenerator interface {
	Regenerate(r *http.Request, w http.ResponseWriter, s *sessions.Session) error
}

// Session adapts a gorilla session to auth.SessionStore for one request.
// Each change is saved immediately.
type Session struct {
	store sessions.Store
	name  string
	r     *http.Request
	w     http.ResponseWriter
	sess  *sessions.Session
}

// Load fetches the named session for r. A session cookie that fails to
// decode (tampered, or signed with an old secret) yields a fresh session;
// the returned error reports why.
func Load(store sessions.Store, name string, w http.ResponseWriter, r *http.Request) (*Session, error) {
	sess, err := store.Get(r, name)
	s := &Session{store: store, name: name, r: r, w: w, sess: sess}
	if sess == nil {
		s.sess = sessions.NewSession(store, name)
		s.sess.IsNew = true
	}
	if s.sess.Options == nil {
		s.sess.Options = &sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode}
	}
	return s, err
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (any, bool) {
	v, ok := s.sess.Values[key]
	return v, ok
}

// Set stores value under key.
func (s *Session) Set(key string, value any) error {
	s.sess.Values[key] = value
	return s.save()
}

// Delete removes keys.
func (s *Session) Delete(keys ...string) error {
	for _, k := range keys {
		delete(s.sess.Values, k)
	}
	return s.save()
}

// Regenerate issues a new session id, keeping the values. Cookie-backed
// sessions have no id; they are re-encoded instead.
func (s *Session) Regenerate() error {
	if rg, ok := s.store.(regenerator); ok {
		if err := rg.Regenerate(s.r, s.w, s.sess); err != nil {
			return fmt.Errorf("regenerating session: %w", err)
		}
		return nil
	}
	return s.save()
}

// Destroy removes every value and expires the session. Later writes in the
// same request start a new session.
func (s *Session) Destroy() error {
	maxAge := s.sess.Options.MaxAge
	s.sess.Options.MaxAge = -1
	s.sess.Values = map[interface{}]interface{}{}
	if err := s.save(); err != nil {
		return err
	}

	fresh := sessions.NewSession(s.store, s.name)
	opts := *s.sess.Options
	opts.MaxAge = maxAge
	fresh.Options = &opts
	fresh.IsNew = true
	s.sess = fresh
	return nil
}

// IsNew reports whether the session did not exist before this request.
func (s *Session) IsNew() bool {
	return s.sess.IsNew
}

func (s *Session) save() error {
	if err := s.store.Save(s.r, s.w, s.sess); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}
