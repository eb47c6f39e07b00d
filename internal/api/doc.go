// Package api implements the HTTP REST API for Gray Logic Auth.
//
// This package provides:
//   - Session login, logout and current-user endpoints with "remember me"
//     auto-login through the authautologin cookie
//   - Password check and change for the logged-in user
//   - Short-lived JWT bearer tokens for API clients
//   - Administration: accounts, role grants, token revocation,
//     impersonation and the audit trail
//   - Middleware stack (request ID, logging, recovery, metrics, CORS)
//   - TLS support for production deployments
//
// # Sessions
//
// Every route under /api/v1 except health, metrics, status and token
// verification runs behind session.Middleware, which loads the server
// session and the cookie jar. Handlers build an auth.Guard from them per
// request.
//
// # Observability
//
// Requests are counted per chi route pattern on /metrics. Panics and 5xx
// responses are reported to Sentry when it is configured.
package api
