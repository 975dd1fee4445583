package expiry

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultThreshold is the remaining lifetime at or below which a credential is
// renewed preemptively.
const DefaultThreshold = 300 * time.Second

// Estimator decodes self-describing expiry claims. The zero value is not usable;
// construct with [NewEstimator].
//
// Estimator is safe for concurrent use.
type Estimator struct {
	now    func() time.Time
	leeway time.Duration
	parser *jwt.Parser
}

// Option configures an [Estimator].
type Option func(*Estimator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLeeway subtracts a fixed clock-skew allowance from every estimate.
func WithLeeway(leeway time.Duration) Option {
	return func(e *Estimator) {
		if leeway > 0 {
			e.leeway = leeway
		}
	}
}

// NewEstimator creates an [Estimator].
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		now:    time.Now,
		parser: jwt.NewParser(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExpiresAt returns the decoded exp claim. ok is false when the token is not a
// JWT or carries no exp.
func (e *Estimator) ExpiresAt(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := e.parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Remaining returns how long token stays valid. Malformed tokens and tokens
// already past expiry return 0.
func (e *Estimator) Remaining(token string) time.Duration {
	exp, ok := e.ExpiresAt(token)
	if !ok {
		return 0
	}

	remaining := exp.Sub(e.now()) - e.leeway
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingSeconds is [Estimator.Remaining] truncated to whole seconds.
func (e *Estimator) RemainingSeconds(token string) int64 {
	return int64(e.Remaining(token) / time.Second)
}

// NeedsRenewal reports whether Remaining(token) <= threshold. A negative
// threshold is treated as zero.
func (e *Estimator) NeedsRenewal(token string, threshold time.Duration) bool {
	if threshold < 0 {
		threshold = 0
	}
	return e.Remaining(token) <= threshold
}
