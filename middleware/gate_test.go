package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	goRenew "github.com/MrEthical07/goRenew"
	"github.com/MrEthical07/goRenew/internal/testauthority"
	"github.com/MrEthical07/goRenew/session"
)

var testSecret = bytes.Repeat([]byte("w"), session.MinSecretLen)

func newGateTest(t *testing.T) (*goRenew.Manager, *testauthority.Authority, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sealer, err := session.NewSealer(testSecret)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	store := session.NewRedisStore(rdb, "cr", session.NewCodec(sealer), session.FixedLifetime(time.Hour))

	auth := testauthority.New()
	m, err := goRenew.New().WithStore(store).WithRenewer(auth).WithLogger(logr.Discard()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return m, auth, func() {
		m.Close()
		rdb.Close()
		mr.Close()
	}
}

func headerPrincipal(r *http.Request) (string, bool) {
	p := r.Header.Get("X-Principal")
	return p, p != ""
}

func signIn(t *testing.T, m *goRenew.Manager, auth *testauthority.Authority, principalID string, ttl time.Duration) session.CredentialPair {
	t.Helper()
	pair, err := auth.Issue(principalID, ttl)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := m.SignIn(context.Background(), principalID, pair); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	return pair
}

func protected(t *testing.T, seen **Auth) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := FromContext(r.Context())
		if !ok {
			t.Error("expected auth in context")
		}
		*seen = a
		w.WriteHeader(http.StatusOK)
	})
}

func TestGatePassesFreshSession(t *testing.T) {
	m, auth, done := newGateTest(t)
	defer done()
	pair := signIn(t, m, auth, "alice", time.Hour)

	var seen *Auth
	h := Gate(m, Options{Principal: headerPrincipal})(protected(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Principal", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.PrincipalID != "alice" || !seen.Pair.Equal(pair) || seen.Renewed {
		t.Fatalf("unexpected auth %+v", seen)
	}
}

func TestGateRenewsExpiredSession(t *testing.T) {
	m, auth, done := newGateTest(t)
	defer done()
	old := signIn(t, m, auth, "alice", -time.Minute)

	var seen *Auth
	h := Gate(m, Options{Principal: headerPrincipal})(protected(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Principal", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !seen.Renewed || seen.Pair.AccessToken == old.AccessToken {
		t.Fatal("expected a renewed pair")
	}
	if _, ok := auth.Verify(seen.Pair.AccessToken); !ok {
		t.Fatal("renewed token should verify")
	}
}

func TestGateDenials(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*testing.T, *goRenew.Manager, *testauthority.Authority)
		accept     string
		wantStatus int
		wantHeader string
	}{
		{
			name:       "no session redirects",
			setup:      func(*testing.T, *goRenew.Manager, *testauthority.Authority) {},
			wantStatus: http.StatusSeeOther,
			wantHeader: "Location",
		},
		{
			name:       "no session json",
			setup:      func(*testing.T, *goRenew.Manager, *testauthority.Authority) {},
			accept:     "application/json",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "rejected renewal redirects",
			setup: func(t *testing.T, m *goRenew.Manager, a *testauthority.Authority) {
				signIn(t, m, a, "alice", -time.Minute)
				a.SetMode(testauthority.ModeReject)
			},
			wantStatus: http.StatusSeeOther,
			wantHeader: "Location",
		},
		{
			name: "unavailable renewal",
			setup: func(t *testing.T, m *goRenew.Manager, a *testauthority.Authority) {
				signIn(t, m, a, "alice", -time.Minute)
				a.SetMode(testauthority.ModeFail)
			},
			wantStatus: http.StatusServiceUnavailable,
			wantHeader: "Retry-After",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, auth, done := newGateTest(t)
			defer done()
			tt.setup(t, m, auth)

			called := false
			h := Gate(m, Options{Principal: headerPrincipal})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Principal", "alice")
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if called {
				t.Fatal("handler must not run")
			}
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantHeader != "" && rec.Header().Get(tt.wantHeader) == "" {
				t.Fatalf("expected %s header", tt.wantHeader)
			}
		})
	}
}

func TestGateUnavailableKeepsSession(t *testing.T) {
	m, auth, done := newGateTest(t)
	defer done()
	signIn(t, m, auth, "alice", -time.Minute)
	auth.SetMode(testauthority.ModeFail)

	h := Gate(m, Options{Principal: headerPrincipal})(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Principal", "alice")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if _, err := m.Session(context.Background(), "alice"); err != nil {
		t.Fatalf("session must survive: %v", err)
	}
}

func TestGateNilManager(t *testing.T) {
	h := Gate(nil, Options{})(http.NotFoundHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestGateCookieSessionRenewal(t *testing.T) {
	auth := testauthority.New()
	cfg := goRenew.DefaultConfig()
	cfg.Session.Secret = string(testSecret)
	m, err := goRenew.New().WithConfig(cfg).WithRenewer(auth).WithLogger(logr.Discard()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer m.Close()

	binding, err := NewCookieBinding(cfg)
	if err != nil {
		t.Fatalf("cookie binding: %v", err)
	}

	// Seed the browser's cookie jar.
	seedRec := httptest.NewRecorder()
	store := session.NewCookieStore(binding.Codec, binding.Config, binding.Lifetime, seedRec, httptest.NewRequest(http.MethodGet, "/", nil))
	pair, _ := auth.Issue("alice", -time.Minute)
	if err := m.Bind(store).SignIn(context.Background(), "alice", pair); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	var seen *Auth
	h := Gate(m, Options{Cookie: binding})(protected(t, &seen))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range seedRec.Result().Cookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen.PrincipalID != "alice" || !seen.Renewed {
		t.Fatalf("unexpected auth %+v", seen)
	}
	var rewritten bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == binding.Config.Name && c.MaxAge > 0 {
			rewritten = true
		}
	}
	if !rewritten {
		t.Fatal("renewal should rewrite the session cookie")
	}
}

func TestSignOutHandlerIdempotent(t *testing.T) {
	m, auth, done := newGateTest(t)
	defer done()
	signIn(t, m, auth, "alice", time.Hour)

	h := SignOutHandler(m, Options{Principal: headerPrincipal, SignedOutPath: "/bye"})
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/signout", nil)
		req.Header.Set("X-Principal", "alice")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/bye" {
			t.Fatalf("attempt %d: expected redirect to /bye, got %d %q", i, rec.Code, rec.Header().Get("Location"))
		}
	}
	if _, err := m.Session(context.Background(), "alice"); err == nil {
		t.Fatal("session should be gone")
	}
}

func newCookieGateTest(t *testing.T) (*goRenew.Manager, *testauthority.Authority, *CookieBinding) {
	t.Helper()
	auth := testauthority.New()
	cfg := goRenew.DefaultConfig()
	cfg.Session.Secret = string(testSecret)
	m, err := goRenew.New().WithConfig(cfg).WithRenewer(auth).WithLogger(logr.Discard()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	binding, err := NewCookieBinding(cfg)
	if err != nil {
		t.Fatalf("cookie binding: %v", err)
	}
	return m, auth, binding
}

// browserCookies signs principalID in through a cookie store and returns the
// cookies a browser would send back.
func browserCookies(t *testing.T, m *goRenew.Manager, binding *CookieBinding, principalID string, pair session.CredentialPair) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	store := session.NewCookieStore(binding.Codec, binding.Config, binding.Lifetime, rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if err := m.Bind(store).SignIn(context.Background(), principalID, pair); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	return rec.Result().Cookies()
}

func cookieRequest(cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestGateConcurrentCookieRequestsRenewOnce(t *testing.T) {
	m, auth, binding := newCookieGateTest(t)
	defer m.Close()

	pair, _ := auth.Issue("alice", -time.Minute)
	cookies := browserCookies(t, m, binding, "alice", pair)
	auth.SetDelay(50 * time.Millisecond)

	h := Gate(m, Options{Cookie: binding})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	const n = 10
	var wg sync.WaitGroup
	codes := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, cookieRequest(cookies))
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		if code != http.StatusOK {
			t.Fatalf("every request should pass, got %d", code)
		}
	}
	if calls := auth.Calls(); calls != 1 {
		t.Fatalf("expected one authority call, got %d", calls)
	}

	// A request still carrying the pre-rotation cookie picks up the new pair.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, cookieRequest(cookies))
	if rec.Code != http.StatusOK {
		t.Fatalf("late request: expected 200, got %d", rec.Code)
	}
	if calls := auth.Calls(); calls != 1 {
		t.Fatalf("late request must not reach the authority, got %d calls", calls)
	}
	if cookieNamed(rec.Result().Cookies(), binding.Config.Name) == nil {
		t.Fatal("late request should receive the rotated session cookie")
	}
}

func TestGateRenewalAfterHeaderWritten(t *testing.T) {
	m, auth, binding := newCookieGateTest(t)
	defer m.Close()

	pair, _ := auth.Issue("alice", time.Hour)
	cookies := browserCookies(t, m, binding, "alice", pair)

	var execErr error
	h := Gate(m, Options{Cookie: binding})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, _ := FromContext(r.Context())
		w.WriteHeader(http.StatusOK)

		refused := false
		_, execErr = goRenew.Execute[string](r.Context(), a.Manager, a.PrincipalID, func(_ context.Context, _ string) (string, error) {
			if !refused {
				refused = true
				return "", fmt.Errorf("%w: upstream refused", goRenew.ErrUnauthorized)
			}
			return "ok", nil
		})
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, cookieRequest(cookies))

	if !errors.Is(execErr, goRenew.ErrRenewalUnavailable) {
		t.Fatalf("expected ErrRenewalUnavailable once the header is out, got %v", execErr)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("no cookie may be set after the header, got %v", rec.Result().Cookies())
	}
}

func cookieNamed(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
