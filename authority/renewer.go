package authority

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goRenew/session"
)

var (
	// ErrRejected means the authority explicitly refused the renewal credential.
	ErrRejected = errors.New("renewal rejected")
	// ErrUnavailable means the authority could not be reached or answered
	// unusably. The renewal credential may still be valid.
	ErrUnavailable = errors.New("renewal authority unavailable")
)

// Renewer exchanges a renewal credential for a new pair.
//
// Implementations must return an error matching ErrRejected or ErrUnavailable
// on failure; anything else is treated as ErrUnavailable.
type Renewer interface {
	Renew(ctx context.Context, refreshToken string) (session.CredentialPair, error)
}

// RenewerFunc adapts a function to [Renewer].
type RenewerFunc func(ctx context.Context, refreshToken string) (session.CredentialPair, error)

// Renew calls f.
func (f RenewerFunc) Renew(ctx context.Context, refreshToken string) (session.CredentialPair, error) {
	return f(ctx, refreshToken)
}

// StatusError describes a failed renewal call.
type StatusError struct {
	// Kind is ErrRejected or ErrUnavailable.
	Kind error
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	// Err is the underlying cause, if any.
	Err error
}

func (e *StatusError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%v (status %d): %v", e.Kind, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%v (status %d)", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the classification and the cause to errors.Is.
func (e *StatusError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRejected reports whether err is a permanent renewal refusal.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}
