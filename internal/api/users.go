package api

import (
	"errors"
	"net/http"
	"net/mail"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-auth/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles,omitempty"`
}

type grantRolesRequest struct {
	Roles []string `json:"roles"`
}

type impersonateRequest struct {
	Identity string `json:"identity"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.Repositories().Users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new account. Accounts always hold the login
// role so they can sign in.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if !auth.IsValidUsername(req.Username) {
		writeValidation(w, "username must be 1-64 letters, digits, dots, dashes or underscores")
		return
	}
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		writeValidation(w, "a valid email address is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeValidation(w, "password must be at least 8 characters")
		return
	}

	names := req.Roles
	if !slices.Contains(names, auth.RoleLogin) {
		names = append(names, auth.RoleLogin)
	}
	roles, ok := s.findRoles(w, r, names)
	if !ok {
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{
		Username: req.Username,
		Email:    req.Email,
		Password: hash,
		Roles:    roles,
	}
	if err := s.auth.Repositories().Users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrUsernameExists) {
			writeConflict(w, "username or email already exists")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created",
		"user_id", user.ID,
		"username", user.Username,
		"roles", user.RoleNames(),
		"created_by", userFromContext(r.Context()).ID,
	)
	writeJSON(w, http.StatusCreated, user)
}

// handleGrantRoles adds roles to a user.
func (s *Server) handleGrantRoles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req grantRolesRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Roles) == 0 {
		writeValidation(w, "roles is required")
		return
	}

	users := s.auth.Repositories().Users
	if _, err := users.GetByID(r.Context(), id); err != nil {
		s.writeUserLookupError(w, err)
		return
	}

	roles, ok := s.findRoles(w, r, req.Roles)
	if !ok {
		return
	}
	if err := users.AddRoles(r.Context(), id, roles...); err != nil {
		s.logger.Error("grant roles failed", "error", err, "user_id", id)
		writeInternalError(w, "failed to grant roles")
		return
	}

	user, err := users.GetByID(r.Context(), id)
	if err != nil {
		s.writeUserLookupError(w, err)
		return
	}

	s.logger.Info("roles granted",
		"user_id", id,
		"roles", req.Roles,
		"granted_by", userFromContext(r.Context()).ID,
	)
	writeJSON(w, http.StatusOK, user)
}

// handleRevokeTokens signs a user out of every remembered device.
func (s *Server) handleRevokeTokens(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.auth.Repositories().Users.GetByID(r.Context(), id); err != nil {
		s.writeUserLookupError(w, err)
		return
	}

	n, err := s.auth.RevokeTokens(r.Context(), id, "admin")
	if err != nil {
		s.logger.Error("revoke tokens failed", "error", err, "user_id", id)
		writeInternalError(w, "failed to revoke tokens")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// handleListRoles returns every role.
func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.auth.Repositories().Roles.List(r.Context())
	if err != nil {
		s.logger.Error("list roles failed", "error", err)
		writeInternalError(w, "failed to list roles")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
		"count": len(roles),
	})
}

// handleImpersonate switches the admin's session to another user without
// a password. The session is marked forced.
func (s *Server) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	var req impersonateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Identity == "" {
		writeValidation(w, "identity is required")
		return
	}

	admin := userFromContext(r.Context())
	g, _ := s.guard(r)
	if err := g.ForceLogin(r.Context(), auth.ByKey(req.Identity), true); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("impersonation failed", "error", err, "admin_id", admin.ID)
		writeInternalError(w, "impersonation failed")
		return
	}

	user, err := g.GetUser(r.Context())
	if err != nil || user == nil {
		s.logger.Error("loading impersonated user failed", "error", err)
		writeInternalError(w, "impersonation failed")
		return
	}

	s.logger.Warn("session impersonated", "admin_id", admin.ID, "user_id", user.ID)
	writeJSON(w, http.StatusOK, userResponse{User: user, Forced: true})
}

// findRoles resolves role names, writing a 422 when any is unknown.
func (s *Server) findRoles(w http.ResponseWriter, r *http.Request, names []string) ([]auth.Role, bool) {
	roles, err := s.auth.Repositories().Roles.FindByNames(r.Context(), names)
	if err != nil {
		s.logger.Error("find roles failed", "error", err)
		writeInternalError(w, "failed to resolve roles")
		return nil, false
	}

	for _, name := range names {
		if !slices.ContainsFunc(roles, func(role auth.Role) bool { return role.Name == name }) {
			writeValidation(w, "unknown role: "+name)
			return nil, false
		}
	}
	return roles, true
}

func (s *Server) writeUserLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrUserNotFound) {
		writeNotFound(w, "user not found")
		return
	}
	s.logger.Error("get user failed", "error", err)
	writeInternalError(w, "failed to get user")
}
