package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/nerrad567/gray-logic-auth/internal/auth"
)

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", auth.RoleLogin)
	c := env.newClient(t, firefoxUA)

	rec := c.do(http.MethodPost, "/api/v1/auth/login", `{"identity":"alice","password":"wrong","remember":true}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if cookies := rec.Result().Cookies(); len(cookies) != 0 {
		t.Errorf("failed login set cookies: %v", cookies)
	}
}

func TestLogin_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t, firefoxUA)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"identity":`},
		{"missing identity", `{"password":"x"}`},
		{"blank identity", `{"identity":"  ","password":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := c.do(http.MethodPost, "/api/v1/auth/login", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestLogin_WithoutLoginRole(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "locked")
	c := env.newClient(t, firefoxUA)

	rec := c.do(http.MethodPost, "/api/v1/auth/login", `{"identity":"locked","password":"`+testPassword+`"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLogin_SessionOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", auth.RoleLogin)
	c := env.newClient(t, firefoxUA)

	c.login("alice@example.com", false)
	if _, ok := c.cookie(auth.DefaultCookieName); ok {
		t.Error("login without remember set the auto-login cookie")
	}
	if _, ok := c.cookie(testSessionName); !ok {
		t.Fatal("login did not set the session cookie")
	}

	rec := c.do(http.MethodGet, "/api/v1/auth/me", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decodeBody[userResponse](t, rec)
	if resp.User == nil || resp.User.Username != "alice" {
		t.Errorf("me user = %+v, want alice", resp.User)
	}
	if resp.Forced {
		t.Error("password login reported as forced")
	}
	if resp.User.Logins != 1 {
		t.Errorf("logins = %d, want 1", resp.User.Logins)
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)
	rec := env.newClient(t, firefoxUA).do(http.MethodGet, "/api/v1/auth/me", "")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAutoLogin_RotatesCookie(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", auth.RoleLogin)

	first := env.newClient(t, firefoxUA)
	first.login("alice", true)
	original, ok := first.cookie(auth.DefaultCookieName)
	if !ok {
		t.Fatal("remember login did not set the auto-login cookie")
	}

	// A later visit: the session is gone, the cookie remains.
	later := env.newClient(t, firefoxUA)
	later.setCookie(auth.DefaultCookieName, original)

	rec := later.do(http.MethodGet, "/api/v1/auth/me", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("auto-login me status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	rotated, ok := later.cookie(auth.DefaultCookieName)
	if !ok || rotated == original {
		t.Errorf("cookie not rotated: %q -> %q", original, rotated)
	}

	// The session now carries the user without the cookie.
	if rec := later.do(http.MethodGet, "/api/v1/auth/me", ""); rec.Code != http.StatusOK {
		t.Errorf("follow-up me status = %d, want %d", rec.Code, http.StatusOK)
	}

	// Replaying the old value fails and clears it.
	replay := env.newClient(t, firefoxUA)
	replay.setCookie(auth.DefaultCookieName, original)
	if rec := replay.do(http.MethodGet, "/api/v1/auth/me", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("replayed cookie status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if _, ok := replay.cookie(auth.DefaultCookieName); ok {
		t.Error("stale cookie not cleared")
	}
}

func TestAutoLogin_FingerprintMismatchBurnsToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", auth.RoleLogin)

	owner := env.newClient(t, firefoxUA)
	owner.login("alice", true)
	value, _ := owner.cookie(auth.DefaultCookieName)

	thief := env.newClient(t, chromeUA)
	thief.setCookie(auth.DefaultCookieName, value)
	if rec := thief.do(http.MethodGet, "/api/v1/auth/me", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("stolen cookie status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	tokens, err := env.repos.Tokens.ListByUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("tokens after mismatch = %d, want 0", len(tokens))
	}

	// The burned token no longer works for the owner either.
	returning := env.newClient(t, firefoxUA)
	returning.setCookie(auth.DefaultCookieName, value)
	if rec := returning.do(http.MethodGet, "/api/v1/auth/me", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("burned cookie status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAutoLogin_UnsignedCookieIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", auth.RoleLogin)

	c := env.newClient(t, firefoxUA)
	c.setCookie(auth.DefaultCookieName, "forged-token-value")
	if rec := c.do(http.MethodGet, "/api/v1/auth/me", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("forged cookie status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", auth.RoleLogin)
	c := env.newClient(t, firefoxUA)
	c.login("alice", true)

	rec := c.do(http.MethodPost, "/api/v1/auth/logout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d, want %d", rec.Code, http.StatusOK)
	}
	if resp := decodeBody[map[string]bool](t, rec); !resp["logged_out"] {
		t.Error("logged_out = false, want true")
	}
	if _, ok := c.cookie(auth.DefaultCookieName); ok {
		t.Error("auto-login cookie survived logout")
	}
	if rec := c.do(http.MethodGet, "/api/v1/auth/me", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	tokens, _ := env.repos.Tokens.ListByUser(context.Background(), user.ID)
	if len(tokens) != 0 {
		t.Errorf("tokens after logout = %d, want 0", len(tokens))
	}
}

func TestLogout_AllDevices(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", auth.RoleLogin)

	laptop := env.newClient(t, firefoxUA)
	laptop.login("alice", true)
	phone := env.newClient(t, chromeUA)
	phone.login("alice", true)
	phoneToken, _ := phone.cookie(auth.DefaultCookieName)

	rec := laptop.do(http.MethodPost, "/api/v1/auth/logout", `{"all":true,"destroy":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d, want %d", rec.Code, http.StatusOK)
	}

	later := env.newClient(t, chromeUA)
	later.setCookie(auth.DefaultCookieName, phoneToken)
	if rec := later.do(http.MethodGet, "/api/v1/auth/me", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("other device auto-login status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestPasswordCheck(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", auth.RoleLogin)
	c := env.newClient(t, firefoxUA)

	if rec := c.do(http.MethodPost, "/api/v1/auth/password/check", `{"password":"x"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous check status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	c.login("alice", false)
	tests := []struct {
		password string
		want     bool
	}{
		{testPassword, true},
		{"wrong-password", false},
		{"", false},
	}
	for _, tt := range tests {
		rec := c.do(http.MethodPost, "/api/v1/auth/password/check", `{"password":"`+tt.password+`"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("check status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := decodeBody[map[string]bool](t, rec)["valid"]; got != tt.want {
			t.Errorf("check(%q) = %v, want %v", tt.password, got, tt.want)
		}
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", auth.RoleLogin)
	c := env.newClient(t, firefoxUA)
	c.login("alice", true)

	if rec := c.do(http.MethodPut, "/api/v1/auth/password", `{"current":"`+testPassword+`","new":"short"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("short password status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if rec := c.do(http.MethodPut, "/api/v1/auth/password", `{"current":"wrong","new":"new-password-456"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong current status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	rec := c.do(http.MethodPut, "/api/v1/auth/password", `{"current":"`+testPassword+`","new":"new-password-456"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("change status = %d, want %d; body: %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}

	fresh := env.newClient(t, firefoxUA)
	if rec := fresh.do(http.MethodPost, "/api/v1/auth/login", `{"identity":"alice","password":"`+testPassword+`"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("old password status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec := fresh.do(http.MethodPost, "/api/v1/auth/login", `{"identity":"alice","password":"new-password-456"}`); rec.Code != http.StatusOK {
		t.Errorf("new password status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAccessToken_IssueAndVerify(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", auth.RoleLogin)
	c := env.newClient(t, firefoxUA)

	if rec := c.do(http.MethodPost, "/api/v1/auth/token", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	c.login("alice", false)
	rec := c.do(http.MethodPost, "/api/v1/auth/token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d, want %d", rec.Code, http.StatusOK)
	}
	tok := decodeBody[tokenResponse](t, rec)
	if tok.TokenType != "Bearer" || tok.AccessToken == "" || tok.ExpiresIn != 900 {
		t.Errorf("token response = %+v", tok)
	}

	api := env.newClient(t, "api-client/1.0")
	rec = api.do(http.MethodGet, "/api/v1/auth/token/verify", "", "Authorization", "Bearer "+tok.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, want %d", rec.Code, http.StatusOK)
	}
	v := decodeBody[verifyResponse](t, rec)
	if !v.Valid || v.Username != "alice" || len(v.Roles) != 1 || v.Roles[0] != auth.RoleLogin {
		t.Errorf("verify response = %+v", v)
	}

	if rec := api.do(http.MethodGet, "/api/v1/auth/token/verify", "", "Authorization", "Bearer "+tok.AccessToken+"x"); rec.Code != http.StatusUnauthorized {
		t.Errorf("tampered token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec := api.do(http.MethodGet, "/api/v1/auth/token/verify", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAccessToken_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.srv.secCfg.JWT.Secret = ""
	env.seedUser(t, "alice", auth.RoleLogin)
	c := env.newClient(t, firefoxUA)
	c.login("alice", false)

	if rec := c.do(http.MethodPost, "/api/v1/auth/token", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
