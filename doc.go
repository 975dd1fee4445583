// Package goRenew keeps a principal's access/refresh credential pair usable
// for the lifetime of its session.
//
// A [Manager] stores each principal's pair in a [session.Store], renews the
// pair shortly before the access token expires ([Manager.EnsureFresh]), and
// retries an authenticated call once after renewal when the call is refused
// ([Execute], [Manager.Do]). Concurrent renewals for the same principal
// collapse into one call to the authority.
//
// Managers are safe for concurrent use after [Builder.Build]. Server
// deployments bind one Manager to a shared Redis or SQL store; browser-facing
// handlers bind per request to a [session.CookieStore] with [Manager.Bind].
//
// # Architecture boundaries
//
// goRenew is the public surface. It exposes [Manager], [Builder], [Config],
// the error sentinels, and value types such as [MetricsSnapshot] and
// [ExecResult]. Flow orchestration and audit dispatch live under internal/.
// Expiry estimation, session storage, the authority client and the renewal
// coordinator are importable sub-packages.
//
// # What this package must NOT do
//
//   - Log, audit or return token material in errors.
//   - Resurrect a session that was signed out while a renewal was running.
//   - Renew more than once per Execute call.
package goRenew
