// Package auth provides session authentication for Gray Logic Auth.
//
// A Manager holds the stores and configuration; each request gets a Guard
// from Manager.For bound to its session, cookies and User-Agent. The Guard
// implements password login, forced login, logout and auto-login from the
// "authautologin" cookie.
//
// Auto-login tokens:
//   - are stored as SHA-256 hashes, the cookie carries the raw value
//   - are bound to a fingerprint of the issuing User-Agent; a token shown
//     by another agent is deleted on sight
//   - rotate on every use, keeping the original expiry, and only one of
//     two concurrent requests presenting the same value can win
//
// Roles are rows in the roles table linked through roles_users. Logging in
// with a password requires the "login" role.
package auth
