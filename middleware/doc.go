// Package middleware exposes HTTP entry points that keep a request's
// credentials fresh before the handler runs.
//
// # Entry points
//
//   - [Gate]: net/http middleware running [goRenew.Manager.EnsureFresh].
//   - [GinGate]: the same gate as a gin.HandlerFunc.
//   - [SignOutHandler]: destroys the session and clears the cookies.
//
// Each gate resolves the request's principal, optionally binds a
// request-scoped [session.CookieStore], and stores the fresh pair in the
// request context ([FromContext]).
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Manager calls. Renewal,
// storage and single-flight decisions all stay in the Manager.
//
// # What this package must NOT do
//
//   - Parse or verify access tokens.
//   - Write token material into response bodies or logs.
//   - Destroy a session on a transient renewal failure.
package middleware
