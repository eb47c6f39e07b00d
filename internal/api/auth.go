package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-auth/internal/auth"
)

// minPasswordLength applies to new passwords set through the API.
const minPasswordLength = 8

type loginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type logoutRequest struct {
	All     bool `json:"all"`
	Destroy bool `json:"destroy"`
}

type passwordCheckRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

type userResponse struct {
	User   *auth.User `json:"user"`
	Forced bool       `json:"forced"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type verifyResponse struct {
	Valid     bool      `json:"valid"`
	Subject   string    `json:"subject"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin checks credentials and starts a session. With remember set
// the response also carries the auto-login cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Identity) == "" {
		writeBadRequest(w, "identity is required")
		return
	}

	g, ok := s.guard(r)
	if !ok {
		writeInternalError(w, "session unavailable")
		return
	}

	ok, err := g.Login(r.Context(), auth.ByKey(req.Identity), req.Password, req.Remember)
	if err != nil {
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}
	if !ok {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	user, err := g.GetUser(r.Context())
	if err != nil || user == nil {
		s.logger.Error("loading user after login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user, Forced: g.IsForced()})
}

// handleLogout ends the session and removes the auto-login token.
// With all set every remembered device of the user is signed out.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	g, ok := s.guard(r)
	if !ok {
		writeInternalError(w, "session unavailable")
		return
	}

	loggedOut, err := g.Logout(r.Context(), req.Destroy, req.All)
	if err != nil {
		s.logger.Error("logout failed", "error", err)
		writeInternalError(w, "logout failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"logged_out": loggedOut})
}

// handleMe returns the current user, falling back to the auto-login cookie.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	g, ok := s.guard(r)
	if !ok {
		writeInternalError(w, "session unavailable")
		return
	}

	user, err := g.GetUser(r.Context())
	if err != nil {
		s.logger.Error("resolving current user failed", "error", err)
		writeInternalError(w, "failed to resolve user")
		return
	}
	if user == nil {
		writeUnauthorized(w, "not logged in")
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user, Forced: g.IsForced()})
}

// handlePasswordCheck reports whether password matches the current user's.
func (s *Server) handlePasswordCheck(w http.ResponseWriter, r *http.Request) {
	var req passwordCheckRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	g, _ := s.guard(r)
	valid, err := g.CheckPassword(r.Context(), req.Password)
	if err != nil {
		s.logger.Error("password check failed", "error", err)
		writeInternalError(w, "password check failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// handleChangePassword replaces the current user's password. Forced
// (impersonated) sessions may not change it.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.New) < minPasswordLength {
		writeValidation(w, "new password must be at least 8 characters")
		return
	}

	g, _ := s.guard(r)
	err := g.ChangePassword(r.Context(), req.Current, req.New)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, auth.ErrForcedSession):
		writeForbidden(w, "password cannot be changed in a forced session")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, "current password is incorrect")
	case errors.Is(err, auth.ErrNoUser):
		writeUnauthorized(w, "login required")
	default:
		s.logger.Error("password change failed", "error", err)
		writeInternalError(w, "password change failed")
	}
}

// handleIssueToken returns a short-lived bearer token for the logged-in
// user, for API clients that cannot carry the session cookie.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if s.secCfg.JWT.Secret == "" {
		writeUnavailable(w, "bearer tokens are not configured")
		return
	}

	user := userFromContext(r.Context())
	ttl := time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute //nolint:mnd // matches the config default
	}

	signed, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, s.secCfg.JWT.Issuer, ttl)
	if err != nil {
		s.logger.Error("issuing access token failed", "error", err, "user_id", user.ID)
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
	})
}

// handleVerifyToken validates the bearer token in the Authorization header.
func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		writeUnauthorized(w, "missing bearer token")
		return
	}

	claims, err := auth.ParseToken(raw, s.secCfg.JWT.Secret, s.secCfg.JWT.Issuer)
	if err != nil {
		s.logger.Debug("bearer token rejected", "error", err)
		writeUnauthorized(w, "invalid token")
		return
	}

	resp := verifyResponse{
		Valid:    true,
		Subject:  claims.Subject,
		Username: claims.Username,
		Roles:    claims.Roles,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
