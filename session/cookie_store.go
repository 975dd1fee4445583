package session

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MaxCookieValueLen is the largest cookie value CookieStore will emit.
const MaxCookieValueLen = 4000

var (
	// ErrCookieTooLarge is returned when a sealed session does not fit in a cookie.
	ErrCookieTooLarge = errors.New("session cookie too large")
	// ErrHeaderWritten is returned by writes after the response header went
	// out, when the new Set-Cookie could no longer reach the client.
	ErrHeaderWritten = errors.New("response header already written")
)

// headerState is implemented by response writers that know whether the
// header was sent, such as gin's ResponseWriter.
type headerState interface {
	Written() bool
}

// CookieConfig controls the cookies written by [CookieStore].
type CookieConfig struct {
	Name          string
	IndicatorName string
	Path          string
	Domain        string
	Secure        bool
	SameSite      http.SameSite
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Name == "" {
		c.Name = "__session"
	}
	if c.IndicatorName == "" {
		c.IndicatorName = c.Name + "_present"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	return c
}

// CookieStore is the client-context session variant. It is scoped to one HTTP
// request: the session is read from the request cookie once, and every Replace
// or Destroy rewrites the Set-Cookie header of the response.
//
// The session cookie is httpOnly and carries the principal ID plus the sealed
// blob, so client code can neither read nor forge the refresh credential. A
// separate indicator cookie without secrets tells client code a session exists.
//
// Rotating a pair after the handler wrote the response header would lose the
// new cookie while the old refresh token is already spent, so when the
// writer reports Written (gin's writer and middleware.Gate's do) Create,
// Replace and Destroy fail with ErrHeaderWritten instead.
//
// CookieStore is safe for concurrent use by goroutines serving the same request.
type CookieStore struct {
	codec    *Codec
	cfg      CookieConfig
	lifetime LifetimeFunc
	now      func() time.Time
	w        http.ResponseWriter

	mu      sync.Mutex
	current *Session
}

// NewCookieStore binds a store to one request/response pair. A missing or
// unreadable cookie yields an empty store; it is not cleared until Destroy.
func NewCookieStore(codec *Codec, cfg CookieConfig, lifetime LifetimeFunc, w http.ResponseWriter, r *http.Request) *CookieStore {
	if lifetime == nil {
		lifetime = FixedLifetime(7 * 24 * time.Hour)
	}
	s := &CookieStore{
		codec:    codec,
		cfg:      cfg.withDefaults(),
		lifetime: lifetime,
		now:      time.Now,
		w:        w,
	}
	if r != nil {
		if c, err := r.Cookie(s.cfg.Name); err == nil {
			s.current, _ = s.decodeValue(c.Value)
		}
	}
	return s
}

// Principal returns the principal of the cookie session, or "" when absent.
func (s *CookieStore) Principal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.PrincipalID
}

// Get returns a copy of the request's session when it belongs to principalID.
func (s *CookieStore) Get(_ context.Context, principalID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.PrincipalID != principalID {
		return nil, ErrNotFound
	}
	out := *s.current
	return &out, nil
}

// Create starts a new cookie session, replacing whatever the request carried.
func (s *CookieStore) Create(_ context.Context, principalID string, pair CredentialPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(&Session{
		PrincipalID: principalID,
		Pair:        pair,
		CreatedAt:   s.now().UTC(),
	})
}

// Replace swaps the pair in the request's session and rewrites the cookie.
func (s *CookieStore) Replace(_ context.Context, principalID string, pair CredentialPair) error {
	if !pair.Valid() {
		return ErrInvalidPair
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.PrincipalID != principalID {
		return ErrNotFound
	}
	return s.writeLocked(&Session{
		PrincipalID: principalID,
		Pair:        pair,
		CreatedAt:   s.current.CreatedAt,
	})
}

// Destroy drops the session and expires both cookies. It is idempotent; a
// session belonging to another principal is left untouched.
func (s *CookieStore) Destroy(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.PrincipalID != principalID {
		return nil
	}
	s.current = nil
	if s.headerSent() {
		return ErrHeaderWritten
	}
	replaceSetCookies(s.w, s.cfg, expiredCookies(s.cfg)...)
	return nil
}

func (s *CookieStore) headerSent() bool {
	hs, ok := s.w.(headerState)
	return ok && hs.Written()
}

func (s *CookieStore) writeLocked(sess *Session) error {
	if s.headerSent() {
		return ErrHeaderWritten
	}
	ttl := s.lifetime(sess.Pair)
	if ttl <= 0 {
		return ErrInvalidPair
	}
	blob, err := s.codec.Seal(sess)
	if err != nil {
		return err
	}

	value := base64.RawURLEncoding.EncodeToString([]byte(sess.PrincipalID)) + "." +
		base64.RawURLEncoding.EncodeToString(blob)
	if len(value) > MaxCookieValueLen {
		return ErrCookieTooLarge
	}

	maxAge := int(ttl / time.Second)
	if maxAge < 1 {
		maxAge = 1
	}
	expires := s.now().Add(ttl)

	session := &http.Cookie{
		Name:     s.cfg.Name,
		Value:    value,
		Path:     s.cfg.Path,
		Domain:   s.cfg.Domain,
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: s.cfg.SameSite,
	}
	indicator := &http.Cookie{
		Name:     s.cfg.IndicatorName,
		Value:    "1",
		Path:     s.cfg.Path,
		Domain:   s.cfg.Domain,
		MaxAge:   maxAge,
		Expires:  expires,
		Secure:   s.cfg.Secure,
		SameSite: s.cfg.SameSite,
	}
	replaceSetCookies(s.w, s.cfg, session, indicator)
	s.current = sess
	return nil
}

func (s *CookieStore) decodeValue(value string) (*Session, error) {
	principalPart, blobPart, ok := strings.Cut(value, ".")
	if !ok {
		return nil, ErrCorrupt
	}
	principal, err := base64.RawURLEncoding.DecodeString(principalPart)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	blob, err := base64.RawURLEncoding.DecodeString(blobPart)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	return s.codec.Open(string(principal), blob)
}

// ClearCookies expires the session and indicator cookies on w. Use it when a
// request carried no usable session and the client indicator must go.
func ClearCookies(w http.ResponseWriter, cfg CookieConfig) {
	cfg = cfg.withDefaults()
	replaceSetCookies(w, cfg, expiredCookies(cfg)...)
}

func expiredCookies(cfg CookieConfig) []*http.Cookie {
	return []*http.Cookie{
		{
			Name:     cfg.Name,
			Value:    "",
			Path:     cfg.Path,
			Domain:   cfg.Domain,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: cfg.SameSite,
		},
		{
			Name:     cfg.IndicatorName,
			Value:    "",
			Path:     cfg.Path,
			Domain:   cfg.Domain,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			Secure:   cfg.Secure,
			SameSite: cfg.SameSite,
		},
	}
}

// replaceSetCookies drops earlier Set-Cookie lines for the managed cookie
// names so the response never carries two competing values.
func replaceSetCookies(w http.ResponseWriter, cfg CookieConfig, cookies ...*http.Cookie) {
	if w == nil {
		return
	}
	header := w.Header()
	existing := header.Values("Set-Cookie")
	kept := make([]string, 0, len(existing)+len(cookies))
	for _, line := range existing {
		if strings.HasPrefix(line, cfg.Name+"=") || strings.HasPrefix(line, cfg.IndicatorName+"=") {
			continue
		}
		kept = append(kept, line)
	}
	for _, c := range cookies {
		if v := c.String(); v != "" {
			kept = append(kept, v)
		}
	}
	header.Del("Set-Cookie")
	for _, line := range kept {
		header.Add("Set-Cookie", line)
	}
}
