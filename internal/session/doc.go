// Package session provides the HTTP side of authentication state: the
// server session (gorilla/sessions, cookie or Redis backed) and the
// auto-login cookie jar.
//
// Middleware loads both for each request and stores them in the request
// context; handlers fetch them with FromContext and hand them to
// auth.Manager.For. Every write is saved immediately, and duplicate
// Set-Cookie headers for the same cookie are collapsed to the last one
// before the response is sent.
package session
