// Package session owns the per-principal credential session: the [CredentialPair]
// model, its sealed binary encoding, and the [Store] variants that persist it.
//
// # Variants
//
// Two execution contexts persist sessions differently but expose the same
// Get/Replace/Destroy capability set:
//
//   - Server context: [RedisStore] and [SQLStore] keep a sealed blob on the server
//     and look it up per request by principal ID.
//   - Client context: [CookieStore] keeps the sealed blob in an httpOnly cookie.
//     The browser holds the bytes but cannot read the refresh credential.
//
// # Binary encoding
//
// Sessions are encoded in a compact versioned binary layout and then sealed with
// XChaCha20-Poly1305. The principal ID is bound into the AEAD additional data so a
// blob cannot be replayed under another principal.
//
// # What this package must NOT do
//
//   - Import goRenew, refresh, or authority (no upward imports).
//   - Renew credentials or contact the authority. Get is side-effect free.
//   - Expose a partially written pair. A blob either opens into a fully valid
//     session or reads as absent.
package session
