// Package refresh coordinates renewal of a principal's credential pair so that
// concurrent callers share one call to the authority.
//
// # Single flight
//
// At most one renewal attempt is open per principal. Callers arriving while it
// is open wait on it and receive its result. A caller arriving after an attempt
// completed presents the access token that failed; if the stored token already
// differs, the stored pair is returned without contacting the authority.
//
// # Failure handling
//
// An explicit rejection destroys the session. A transport failure leaves the
// session byte-for-byte unchanged, so the next caller may try again.
//
// # Architecture boundaries
//
// This package owns attempt lifecycle and session mutation after renewal. Token
// expiry estimation lives in expiry; retry policy lives in the root package.
package refresh
