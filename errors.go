package goRenew

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredential means the principal has no session. Nothing was sent.
	ErrNoCredential = errors.New("no credential")
	// ErrSessionExpired means the session ended: the authority rejected the
	// renewal credential, or the session was signed out meanwhile.
	ErrSessionExpired = errors.New("session expired")
	// ErrRenewalUnavailable means renewal could not complete for a transient
	// reason. The session was kept.
	ErrRenewalUnavailable = errors.New("renewal unavailable")
	// ErrRetryExhausted means the operation refused a freshly renewed token.
	// It also matches ErrSessionExpired; the session was destroyed.
	ErrRetryExhausted = fmt.Errorf("%w: retry exhausted", ErrSessionExpired)
	// ErrUnauthorized is how an operation reports that its access token was
	// refused. Wrap it; [Execute] matches with errors.Is.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionBackend wraps session store failures during a read.
	ErrSessionBackend = errors.New("session backend unavailable")

	// ErrManagerNotReady is returned by methods called on a nil or closed Manager.
	ErrManagerNotReady = errors.New("manager not ready")
	// ErrStoreRequired is returned by operations on a Manager with no store
	// bound. See [Manager.Bind].
	ErrStoreRequired = errors.New("session store required")
	// ErrRenewerRequired is returned by Build without a renewer or authority URL.
	ErrRenewerRequired = errors.New("renewer required")
	// ErrStoreCannotCreate is returned by SignIn when the store cannot create sessions.
	ErrStoreCannotCreate = errors.New("session store does not support create")
	// ErrBuilderUsed is returned by a second Build call.
	ErrBuilderUsed = errors.New("builder already used")
)

// IsAuthenticationRequired reports whether err means the user has to sign in
// again.
func IsAuthenticationRequired(err error) bool {
	return errors.Is(err, ErrNoCredential) || errors.Is(err, ErrSessionExpired)
}

// IsTransient reports whether err may succeed if retried later with the same
// session.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRenewalUnavailable) || errors.Is(err, ErrSessionBackend)
}
