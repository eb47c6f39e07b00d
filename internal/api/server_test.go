package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/logging"
)

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without auth manager should fail")
	}
	env := newTestEnv(t)
	if _, err := New(Deps{Logger: logging.Discard(), Auth: env.m}); err == nil {
		t.Error("New() without session store should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.newClient(t, firefoxUA).do(http.MethodGet, "/api/v1/health", "")

	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decodeBody[map[string]any](t, rec)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["database"] != "ok" {
		t.Errorf("database = %v, want ok", resp["database"])
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := newTestEnv(t)
	env.db.Close()

	rec := env.newClient(t, firefoxUA).do(http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	rec := env.newClient(t, firefoxUA).do(http.MethodGet, "/api/v1/status", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusOK)
	}
	st := decodeBody[SystemStatus](t, rec)
	if st.Version != "test" {
		t.Errorf("version = %q, want test", st.Version)
	}
	if st.Database.Dialect != "sqlite" {
		t.Errorf("database dialect = %q, want sqlite", st.Database.Dialect)
	}
	if st.MQTT.Enabled {
		t.Error("mqtt should be reported disabled")
	}
	if st.Runtime.Goroutines == 0 {
		t.Error("runtime goroutines not reported")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := newTestEnv(t)
	rec := env.newClient(t, firefoxUA).do(http.MethodGet, "/api/v1/health", "")

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := newTestEnv(t)
	rec := env.newClient(t, firefoxUA).do(http.MethodGet, "/api/v1/health", "", "X-Request-ID", "client-123")

	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)
	rec := env.newClient(t, firefoxUA).do(http.MethodOptions, "/api/v1/auth/login", "", "Origin", "http://localhost:3000")

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("ACAC = %q, want true", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"https://panel.example.com"}

	rec := env.newClient(t, firefoxUA).do(http.MethodGet, "/api/v1/health", "", "Origin", "https://evil.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want none", got)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.newClient(t, firefoxUA).do(http.MethodGet, "/api/v1/nonexistent", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRecovery_Panic(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if e := decodeBody[Error](t, rec); e.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeInternal)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t, firefoxUA)
	c.do(http.MethodGet, "/api/v1/health", "")
	c.do(http.MethodGet, "/api/v1/health", "")

	rec := c.do(http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	want := `graylogic_http_requests_total{method="GET",route="/api/v1/health",status="200"} 2`
	if !strings.Contains(body, want) {
		t.Errorf("metrics missing %q", want)
	}
	if !strings.Contains(body, "graylogic_http_request_duration_seconds") {
		t.Error("metrics missing latency histogram")
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := newTestEnv(t)
	big := `{"identity":"` + strings.Repeat("a", maxRequestBodySize) + `"}`

	rec := env.newClient(t, firefoxUA).do(http.MethodPost, "/api/v1/auth/login", big)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized body status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", tt.header)
		got, ok := bearerToken(r)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}
