package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-auth/internal/audit"
)

// Guard performs authentication for a single request.
//
// Thread Safety: a Guard belongs to one request and must not be shared.
type Guard struct {
	m          *Manager
	session    SessionStore
	cookies    CookieJar
	userAgent  string
	remoteAddr string

	user *User
}

// WithRemoteAddr records the client address on emitted events.
func (g *Guard) WithRemoteAddr(addr string) *Guard {
	g.remoteAddr = addr
	return g
}

// Login verifies a password and, on success, logs the user in.
//
// Bad credentials, an unknown account or a missing "login" role return
// false with no session, cookie or token change. Store and session
// failures are returned as errors. With remember set, an auto-login
// token is issued and its cookie set for the configured lifetime.
func (g *Guard) Login(ctx context.Context, id Identity, password string, remember bool) (bool, error) {
	if password == "" {
		return false, nil
	}

	user, err := g.m.Resolve(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		g.loginFailed(ctx, nil, "unknown_user")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ok, err := g.m.hasher.Verify(password, user.Password)
	if err != nil {
		return false, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		g.loginFailed(ctx, user, "bad_password")
		return false, nil
	}

	allowed, err := g.m.hasRoles(ctx, user, RoleName(RoleLogin))
	if err != nil {
		return false, fmt.Errorf("checking login role: %w", err)
	}
	if !allowed {
		g.loginFailed(ctx, user, "missing_login_role")
		return false, nil
	}

	if remember {
		if err := g.remember(ctx, user); err != nil {
			return false, err
		}
	}

	if err := g.CompleteLogin(ctx, user); err != nil {
		return false, err
	}

	g.m.logger.Info("user logged in", "user_id", user.ID, "remember", remember)
	g.event(ctx, audit.ActionLogin, user, audit.OutcomeSuccess, map[string]any{"remember": remember})
	return true, nil
}

// remember issues an auto-login token for user and sets its cookie.
func (g *Guard) remember(ctx context.Context, user *User) error {
	lifetime := g.m.cfg.Lifetime
	tok := &Token{
		UserID:    user.ID,
		UserAgent: Fingerprint(g.userAgent),
		Expires:   g.m.now().UTC().Add(lifetime),
	}
	if err := g.m.repos.Tokens.Create(ctx, tok); err != nil {
		return err
	}

	if err := g.cookies.Set(g.m.cfg.CookieName, tok.Value, lifetime); err != nil {
		if delErr := g.m.repos.Tokens.Delete(ctx, tok.ID); delErr != nil {
			g.m.logger.Warn("removing unsent token failed", "token_id", tok.ID, "error", delErr)
		}
		return fmt.Errorf("setting auto-login cookie: %w", err)
	}
	return nil
}

// ForceLogin logs a user in without checking a password or roles.
// With markForced the session is flagged so account edits can be refused.
// Returns ErrUserNotFound when the identity does not resolve.
func (g *Guard) ForceLogin(ctx context.Context, id Identity, markForced bool) error {
	user, err := g.m.Resolve(ctx, id)
	if err != nil {
		return err
	}

	if markForced {
		if err := g.session.Set(SessionKeyForced, true); err != nil {
			return fmt.Errorf("marking forced session: %w", err)
		}
	}

	if err := g.CompleteLogin(ctx, user); err != nil {
		return err
	}

	g.m.logger.Info("user force-logged in", "user_id", user.ID, "forced", markForced)
	g.event(ctx, audit.ActionLoginForced, user, audit.OutcomeSuccess, map[string]any{"forced": markForced})
	return nil
}

// AutoLogin logs a user in from the auto-login cookie.
//
// It returns nil when there is no cookie or the cookie no longer matches a
// live token. A token presented by a different User-Agent than the one it
// was issued to is deleted. A matching token is rotated: the cookie gets
// the new value for the token's remaining lifetime.
func (g *Guard) AutoLogin(ctx context.Context) (*User, error) {
	name := g.m.cfg.CookieName
	raw, ok := g.cookies.Get(name)
	if !ok || raw == "" {
		return nil, nil
	}

	g.m.maybeCollectGarbage(ctx)

	tok, err := g.m.repos.Tokens.GetByValue(ctx, raw)
	if errors.Is(err, ErrTokenInvalid) {
		return nil, g.dropCookie()
	}
	if err != nil {
		return nil, err
	}

	now := g.m.now()
	if tok.Expired(now) {
		if err := g.m.repos.Tokens.Delete(ctx, tok.ID); err != nil {
			return nil, err
		}
		return nil, g.dropCookie()
	}

	if !fingerprintMatches(tok.UserAgent, g.userAgent) {
		if err := g.m.repos.Tokens.Delete(ctx, tok.ID); err != nil {
			return nil, err
		}
		g.m.logger.Warn("auto-login token presented by a different user agent, token burned",
			"user_id", tok.UserID,
			"token_id", tok.ID,
			"remote_addr", g.remoteAddr,
		)
		g.event(ctx, audit.ActionTokenBurned, &User{ID: tok.UserID}, audit.OutcomeFailure, map[string]any{"token_id": tok.ID})
		return nil, g.dropCookie()
	}

	user, err := g.m.repos.Users.GetByID(ctx, tok.UserID)
	if errors.Is(err, ErrUserNotFound) {
		if err := g.m.repos.Tokens.Delete(ctx, tok.ID); err != nil {
			return nil, err
		}
		return nil, g.dropCookie()
	}
	if err != nil {
		return nil, err
	}

	if err := g.m.repos.Tokens.Rotate(ctx, tok); err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			// Another request rotated this value first and owns the cookie now.
			return nil, nil
		}
		return nil, err
	}

	if err := g.cookies.Set(name, tok.Value, tok.Expires.Sub(now)); err != nil {
		return nil, fmt.Errorf("setting auto-login cookie: %w", err)
	}

	if err := g.CompleteLogin(ctx, user); err != nil {
		return nil, err
	}

	g.m.logger.Debug("user auto-logged in", "user_id", user.ID)
	g.event(ctx, audit.ActionAutoLogin, user, audit.OutcomeSuccess, nil)
	return user, nil
}

func (g *Guard) dropCookie() error {
	if err := g.cookies.Delete(g.m.cfg.CookieName); err != nil {
		return fmt.Errorf("clearing auto-login cookie: %w", err)
	}
	return nil
}

// GetUser returns the logged-in user, trying the auto-login cookie when the
// session has none. Returns nil when nobody is logged in.
func (g *Guard) GetUser(ctx context.Context) (*User, error) {
	if id, ok := g.sessionUserID(); ok {
		if g.user != nil && g.user.ID == id {
			return g.user, nil
		}
		user, err := g.m.repos.Users.GetByID(ctx, id)
		switch {
		case err == nil:
			g.user = user
			return user, nil
		case errors.Is(err, ErrUserNotFound):
			// Account removed while the session was alive.
			if err := g.session.Delete(SessionKeyUser, SessionKeyUserName); err != nil {
				return nil, fmt.Errorf("clearing session: %w", err)
			}
		default:
			return nil, err
		}
	}
	return g.AutoLogin(ctx)
}

func (g *Guard) sessionUserID() (string, bool) {
	v, ok := g.session.Get(SessionKeyUser)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// CompleteLogin records the login on the account and writes the user into
// a freshly regenerated session. Calling it again for the same user is
// harmless.
func (g *Guard) CompleteLogin(ctx context.Context, user *User) error {
	if user == nil {
		return ErrUserNotFound
	}

	now := g.m.now().UTC()
	if err := g.m.repos.Users.RecordLogin(ctx, user.ID, now); err != nil {
		return err
	}
	user.Logins++
	user.LastLogin = &now

	if err := g.session.Regenerate(); err != nil {
		return fmt.Errorf("regenerating session: %w", err)
	}
	if err := g.session.Set(SessionKeyUser, user.ID); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := g.session.Set(SessionKeyUserName, user.Username); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}

	g.user = user
	return nil
}

// Logout signs the current user out.
//
// The forced flag is always cleared. When an auto-login cookie is present it
// is deleted before its token: with logoutAll every token of the owner goes,
// otherwise only this one. Without a cookie, logoutAll still revokes the
// session user's tokens. destroy tears the whole session down instead of
// just removing the user from it. Returns true when nobody is logged in
// afterwards.
func (g *Guard) Logout(ctx context.Context, destroy, logoutAll bool) (bool, error) {
	if err := g.session.Delete(SessionKeyForced); err != nil {
		return false, fmt.Errorf("clearing forced flag: %w", err)
	}

	userID, _ := g.sessionUserID()

	name := g.m.cfg.CookieName
	if raw, ok := g.cookies.Get(name); ok && raw != "" {
		if err := g.dropCookie(); err != nil {
			return false, err
		}

		tok, err := g.m.repos.Tokens.GetByValue(ctx, raw)
		switch {
		case errors.Is(err, ErrTokenInvalid):
		case err != nil:
			return false, err
		case logoutAll:
			if _, err := g.m.RevokeTokens(ctx, tok.UserID, "logout_all"); err != nil {
				return false, err
			}
			if userID == "" {
				userID = tok.UserID
			}
		default:
			if err := g.m.repos.Tokens.Delete(ctx, tok.ID); err != nil {
				return false, err
			}
		}
	} else if logoutAll && userID != "" {
		if _, err := g.m.RevokeTokens(ctx, userID, "logout_all"); err != nil {
			return false, err
		}
	}

	if destroy {
		if err := g.session.Destroy(); err != nil {
			return false, fmt.Errorf("destroying session: %w", err)
		}
	} else {
		if err := g.session.Delete(SessionKeyUser, SessionKeyUserName); err != nil {
			return false, fmt.Errorf("clearing session: %w", err)
		}
		if err := g.session.Regenerate(); err != nil {
			return false, fmt.Errorf("regenerating session: %w", err)
		}
	}
	g.user = nil

	if userID != "" {
		g.m.logger.Info("user logged out", "user_id", userID, "all", logoutAll)
		g.event(ctx, audit.ActionLogout, &User{ID: userID}, audit.OutcomeSuccess, map[string]any{"all": logoutAll, "destroy": destroy})
	}

	loggedIn, err := g.LoggedIn(ctx, nil)
	if err != nil {
		return false, err
	}
	return !loggedIn, nil
}

// LoggedIn reports whether a user is logged in and holds every role in q.
// A nil q only checks that someone is logged in. Unknown role names never match.
func (g *Guard) LoggedIn(ctx context.Context, q RoleQuery) (bool, error) {
	user, err := g.GetUser(ctx)
	if err != nil || user == nil {
		return false, err
	}
	return g.m.hasRoles(ctx, user, q)
}

// IsForced reports whether the session came from a forced login.
func (g *Guard) IsForced() bool {
	v, ok := g.session.Get(SessionKeyForced)
	if !ok {
		return false
	}
	forced, _ := v.(bool)
	return forced
}

// CheckPassword verifies password against the logged-in user's hash.
// Returns false when nobody is logged in.
func (g *Guard) CheckPassword(ctx context.Context, password string) (bool, error) {
	user, err := g.GetUser(ctx)
	if err != nil || user == nil {
		return false, err
	}
	ok, err := g.m.hasher.Verify(password, user.Password)
	if err != nil {
		return false, fmt.Errorf("verifying password: %w", err)
	}
	return ok, nil
}

// ChangePassword replaces the logged-in user's password after checking the
// current one, and revokes their auto-login tokens.
//
// Returns ErrForcedSession in a forced session, ErrNoUser when nobody is
// logged in and ErrInvalidCredentials when current does not match.
func (g *Guard) ChangePassword(ctx context.Context, current, next string) error {
	if g.IsForced() {
		return ErrForcedSession
	}
	user, err := g.GetUser(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNoUser
	}

	ok, err := g.m.hasher.Verify(current, user.Password)
	if err != nil {
		return fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := g.m.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := g.m.repos.Users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	user.Password = hash

	if _, err := g.m.RevokeTokens(ctx, user.ID, "password_changed"); err != nil {
		return err
	}

	g.event(ctx, audit.ActionPasswordChanged, user, audit.OutcomeSuccess, nil)
	return nil
}

func (g *Guard) loginFailed(ctx context.Context, user *User, reason string) {
	g.m.logger.Warn("login failed", "reason", reason, "remote_addr", g.remoteAddr)
	g.event(ctx, audit.ActionLoginFailed, user, audit.OutcomeFailure, map[string]any{"reason": reason})
}

func (g *Guard) event(ctx context.Context, action string, user *User, outcome string, details map[string]any) {
	e := audit.Event{
		Action:     action,
		RemoteAddr: g.remoteAddr,
		UserAgent:  g.userAgent,
		Outcome:    outcome,
		Details:    details,
	}
	if user != nil {
		e.UserID = user.ID
		e.Username = user.Username
	}
	g.m.record(ctx, e)
}
