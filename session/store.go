package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports an absent session.
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt reports a stored blob that failed to open or decode.
	ErrCorrupt = errors.New("session corrupt")
	// ErrInvalidPair is returned when a write carries an incomplete credential pair.
	ErrInvalidPair = errors.New("invalid credential pair")
	// ErrBackendUnavailable wraps persistence failures.
	ErrBackendUnavailable = errors.New("session backend unavailable")
)

// Store is the capability set shared by every session variant.
//
// Replace and Destroy are the only mutating operations. Get never refreshes,
// slides TTLs, or otherwise writes.
type Store interface {
	// Get returns the session or an error matching ErrNotFound.
	Get(ctx context.Context, principalID string) (*Session, error)
	// Replace atomically swaps the stored pair, keeping CreatedAt. It returns
	// ErrNotFound when no session exists.
	Replace(ctx context.Context, principalID string, pair CredentialPair) error
	// Destroy removes the session. Destroying an absent session is not an error.
	Destroy(ctx context.Context, principalID string) error
}

// Creator establishes a session at sign-in or sign-up, replacing any existing one.
type Creator interface {
	Create(ctx context.Context, principalID string, pair CredentialPair) error
}

// LifetimeFunc bounds how long a stored session may live given its pair.
// Implementations usually return the refresh credential's remaining lifetime.
type LifetimeFunc func(pair CredentialPair) time.Duration

// FixedLifetime returns a LifetimeFunc that ignores the pair.
func FixedLifetime(d time.Duration) LifetimeFunc {
	return func(CredentialPair) time.Duration { return d }
}

// BoundedLifetime returns a LifetimeFunc that ends a session when its refresh
// credential expires, capped at limit. expiresAt reports the refresh token's
// expiry; tokens it cannot read live for limit. An already expired refresh
// token yields a non-positive lifetime, which stores reject.
func BoundedLifetime(limit time.Duration, expiresAt func(token string) (time.Time, bool), now func() time.Time) LifetimeFunc {
	if now == nil {
		now = time.Now
	}
	return func(pair CredentialPair) time.Duration {
		if expiresAt == nil {
			return limit
		}
		exp, ok := expiresAt(pair.RefreshToken)
		if !ok {
			return limit
		}
		if d := exp.Sub(now()); d < limit {
			return d
		}
		return limit
	}
}

// IsNotFound reports whether err means the session is absent, including
// corrupt blobs.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt)
}

func notFoundCorrupt(err error) error {
	return errors.Join(ErrNotFound, err)
}
