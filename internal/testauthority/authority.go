// Package testauthority is an in-memory credential authority for tests, the
// load test and the examples. It mints HS256 access tokens, rotates opaque
// refresh tokens on every renewal, and counts renewal calls.
package testauthority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrEthical07/goRenew/authority"
	"github.com/MrEthical07/goRenew/session"
)

// Mode selects how renewal calls are answered.
type Mode int32

const (
	// ModeNormal renews known refresh tokens.
	ModeNormal Mode = iota
	// ModeReject answers every renewal with 401.
	ModeReject
	// ModeFail answers every renewal with 503.
	ModeFail
)

// Authority issues and renews credential pairs.
type Authority struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time

	mu      sync.Mutex
	refresh map[string]string

	calls atomic.Int64
	mode  atomic.Int32
	delay atomic.Int64
}

// Option configures an [Authority].
type Option func(*Authority)

// WithSecret sets the HS256 signing key.
func WithSecret(secret []byte) Option {
	return func(a *Authority) { a.secret = secret }
}

// WithAccessTTL sets the lifetime of renewed access tokens.
func WithAccessTTL(ttl time.Duration) Option {
	return func(a *Authority) { a.accessTTL = ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// New creates an [Authority].
func New(opts ...Option) *Authority {
	a := &Authority{
		secret:    []byte("testauthority-signing-key-0123456789"),
		accessTTL: 15 * time.Minute,
		now:       time.Now,
		refresh:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issue signs in subject, returning a pair whose access token expires after
// accessTTL. A negative accessTTL yields an already expired access token.
func (a *Authority) Issue(subject string, accessTTL time.Duration) (session.CredentialPair, error) {
	access, err := a.MintAccess(subject, accessTTL)
	if err != nil {
		return session.CredentialPair{}, err
	}
	refresh := uuid.NewString()

	a.mu.Lock()
	a.refresh[refresh] = subject
	a.mu.Unlock()

	return session.CredentialPair{
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     a.now().UTC(),
	}, nil
}

// MintAccess signs an access token for subject expiring after ttl.
func (a *Authority) MintAccess(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify validates an access token's signature and expiry and returns its
// subject.
func (a *Authority) Verify(accessToken string) (string, bool) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return "", false
	}
	return claims.Subject, true
}

// Revoke forgets a refresh token so later renewals with it are rejected.
func (a *Authority) Revoke(refreshToken string) {
	a.mu.Lock()
	delete(a.refresh, refreshToken)
	a.mu.Unlock()
}

// SetMode switches how subsequent renewals are answered.
func (a *Authority) SetMode(m Mode) { a.mode.Store(int32(m)) }

// SetDelay makes every renewal wait d before answering.
func (a *Authority) SetDelay(d time.Duration) { a.delay.Store(int64(d)) }

// Calls returns how many renewals were requested.
func (a *Authority) Calls() int64 { return a.calls.Load() }

// Renew implements [authority.Renewer] in process, with the same
// classification the HTTP endpoint produces.
func (a *Authority) Renew(ctx context.Context, refreshToken string) (session.CredentialPair, error) {
	pair, status := a.renew(ctx, refreshToken)
	switch status {
	case http.StatusOK:
		return pair, nil
	case http.StatusUnauthorized:
		return session.CredentialPair{}, &authority.StatusError{Kind: authority.ErrRejected, StatusCode: status}
	default:
		return session.CredentialPair{}, &authority.StatusError{Kind: authority.ErrUnavailable, StatusCode: status, Err: ctx.Err()}
	}
}

func (a *Authority) renew(ctx context.Context, refreshToken string) (session.CredentialPair, int) {
	a.calls.Add(1)

	if d := time.Duration(a.delay.Load()); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return session.CredentialPair{}, http.StatusGatewayTimeout
		}
	}

	switch Mode(a.mode.Load()) {
	case ModeReject:
		return session.CredentialPair{}, http.StatusUnauthorized
	case ModeFail:
		return session.CredentialPair{}, http.StatusServiceUnavailable
	}

	// Rotation: a refresh token is single-use.
	a.mu.Lock()
	subject, ok := a.refresh[refreshToken]
	if ok {
		delete(a.refresh, refreshToken)
	}
	a.mu.Unlock()
	if !ok {
		return session.CredentialPair{}, http.StatusUnauthorized
	}

	pair, err := a.Issue(subject, a.accessTTL)
	if err != nil {
		return session.CredentialPair{}, http.StatusInternalServerError
	}
	return pair, http.StatusOK
}

// ServeHTTP serves POST /auth/refresh in the shape [authority.Client] expects.
func (a *Authority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	pair, status := a.renew(r.Context(), req.RefreshToken)
	if status != http.StatusOK {
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":      pair.AccessToken,
		"refreshToken":     pair.RefreshToken,
		"expiresInSeconds": int64(a.accessTTL / time.Second),
	})
}

// Protect wraps an upstream handler that requires a valid bearer access token.
// Invalid or expired tokens get 401.
func (a *Authority) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}
		subject, ok := a.Verify(token)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
			return
		}
		r.Header.Set("X-Subject", subject)
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("invalid authorization header")
	}
	return parts[1], nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
