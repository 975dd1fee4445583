// Package authority talks to the remote credential authority that exchanges a
// renewal credential for a fresh pair.
//
// The only distinction callers need is whether a failure is permanent
// ([ErrRejected]: the renewal credential is no good) or transient
// ([ErrUnavailable]: try again later). Every error returned by [Client] is a
// [*StatusError] matching exactly one of the two.
package authority
