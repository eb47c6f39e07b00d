package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-auth/internal/auth"
	"github.com/nerrad567/gray-logic-auth/internal/session"
)

// healthCheckTimeout bounds the dependency probes behind GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health and monitoring (no session)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/status", s.handleStatus)

		// Bearer token verification carries its own credentials
		r.Get("/auth/token/verify", s.handleVerifyToken)

		r.Group(func(r chi.Router) {
			r.Use(session.Middleware(s.sessions, s.sessionName, s.cookies, s.logger.Logger))

			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			// Logged-in user
			r.Group(func(r chi.Router) {
				r.Use(s.requireRoles())

				r.Post("/auth/password/check", s.handlePasswordCheck)
				r.Put("/auth/password", s.handleChangePassword)
				r.Post("/auth/token", s.handleIssueToken)
			})

			// Administration
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireRoles(auth.RoleLogin, auth.RoleAdmin))

				r.Route("/users", func(r chi.Router) {
					r.Get("/", s.handleListUsers)
					r.Post("/", s.handleCreateUser)
					r.Post("/{id}/roles", s.handleGrantRoles)
					r.Delete("/{id}/tokens", s.handleRevokeTokens)
				})
				r.Get("/roles", s.handleListRoles)
				r.Post("/impersonate", s.handleImpersonate)
				r.Get("/audit", s.handleListAuditLogs)
			})
		})
	})

	return r
}

// handleHealth returns the server health status. Database failure makes
// the service unhealthy; a disconnected MQTT broker only degrades it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check: database unavailable", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
			body["database"] = "down"
		} else {
			body["database"] = "ok"
		}
	}
	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			body["mqtt"] = "ok"
		} else {
			body["mqtt"] = "disconnected"
			if status == http.StatusOK {
				body["status"] = "degraded"
			}
		}
	}

	writeJSON(w, status, body)
}
