// Package expiry estimates the remaining validity of access credentials without a
// network round-trip.
//
// # Decoding
//
// Access tokens are decoded as JWTs with [jwt.Parser.ParseUnverified]. Only the
// registered "exp" claim is read. The remote authority owns signature
// verification; this package never treats a token as trusted.
//
// # Failure policy
//
// A malformed, unparseable, or exp-less token has zero remaining lifetime. The
// estimator never returns an error, so callers always fall through to renewal.
//
// # What this package must NOT do
//
//   - Perform I/O or contact the authority.
//   - Import goRenew, session, or refresh.
package expiry
