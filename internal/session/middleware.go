package session

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
)

type contextKey struct{}

// State is the per-request session and cookie jar.
type State struct {
	Session *Session
	Cookies *Cookies
}

// FromContext returns the State loaded by Middleware.
func FromContext(ctx context.Context) (*State, bool) {
	st, ok := ctx.Value(contextKey{}).(*State)
	return st, ok
}

// Middleware loads the named session and the cookie jar into the request
// context.
func Middleware(store sessions.Store, name string, cookies CookieOptions, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dw := &dedupWriter{ResponseWriter: w}

			sess, err := Load(store, name, dw, r)
			if err != nil {
				logger.Debug("discarding unreadable session", "error", err)
			}

			st := &State{Session: sess, Cookies: NewCookies(dw, r, cookies)}
			next.ServeHTTP(dw, r.WithContext(context.WithValue(r.Context(), contextKey{}, st)))
		})
	}
}

// dedupWriter collapses repeated Set-Cookie headers for the same cookie
// name to the last one before the header is written.
type dedupWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *dedupWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		dedupSetCookies(w.Header())
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *dedupWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *dedupWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func dedupSetCookies(h http.Header) {
	values := h.Values("Set-Cookie")
	if len(values) < 2 {
		return
	}

	last := make(map[string]int, len(values))
	for i, v := range values {
		name, _, _ := strings.Cut(v, "=")
		last[name] = i
	}
	if len(last) == len(values) {
		return
	}

	kept := make([]string, 0, len(last))
	for i, v := range values {
		name, _, _ := strings.Cut(v, "=")
		if last[name] == i {
			kept = append(kept, v)
		}
	}
	h["Set-Cookie"] = kept
}
