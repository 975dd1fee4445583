package testauthority

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/goRenew/authority"
)

func TestIssueAndVerify(t *testing.T) {
	a := New()
	pair, err := a.Issue("p1", time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !pair.Valid() {
		t.Fatal("issued pair must be valid")
	}
	subject, ok := a.Verify(pair.AccessToken)
	if !ok || subject != "p1" {
		t.Fatalf("Verify = %q, %v", subject, ok)
	}

	expired, err := a.MintAccess("p1", -time.Minute)
	if err != nil {
		t.Fatalf("MintAccess failed: %v", err)
	}
	if _, ok := a.Verify(expired); ok {
		t.Fatal("expired access token must not verify")
	}
	if _, ok := New(WithSecret([]byte("another-secret-another-secret-xx"))).Verify(pair.AccessToken); ok {
		t.Fatal("token signed with a different secret must not verify")
	}
}

func TestRenewRotatesRefreshToken(t *testing.T) {
	a := New()
	pair, _ := a.Issue("p1", -time.Second)

	next, err := a.Renew(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken || next.AccessToken == pair.AccessToken {
		t.Fatal("renewal must rotate both tokens")
	}
	if _, ok := a.Verify(next.AccessToken); !ok {
		t.Fatal("renewed access token must verify")
	}

	_, err = a.Renew(context.Background(), pair.RefreshToken)
	if !authority.IsRejected(err) {
		t.Fatalf("reused refresh token: expected rejection, got %v", err)
	}
	if a.Calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", a.Calls())
	}
}

func TestRenewModes(t *testing.T) {
	a := New()
	pair, _ := a.Issue("p1", time.Minute)

	a.SetMode(ModeFail)
	_, err := a.Renew(context.Background(), pair.RefreshToken)
	if !errors.Is(err, authority.ErrUnavailable) {
		t.Fatalf("ModeFail: expected ErrUnavailable, got %v", err)
	}

	a.SetMode(ModeReject)
	_, err = a.Renew(context.Background(), pair.RefreshToken)
	if !errors.Is(err, authority.ErrRejected) {
		t.Fatalf("ModeReject: expected ErrRejected, got %v", err)
	}

	a.SetMode(ModeNormal)
	if _, err := a.Renew(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("refresh token must survive failed modes: %v", err)
	}
}

func TestRenewDelayHonorsContext(t *testing.T) {
	a := New()
	a.SetDelay(time.Second)
	pair, _ := a.Issue("p1", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Renew(ctx, pair.RefreshToken)
	if !errors.Is(err, authority.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on timeout, got %v", err)
	}
}

func TestServeHTTPWithClient(t *testing.T) {
	a := New()
	srv := httptest.NewServer(a)
	defer srv.Close()

	pair, _ := a.Issue("p1", -time.Second)
	client := authority.NewClient(srv.URL, authority.WithPath("/"))

	next, err := client.Renew(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Renew over HTTP failed: %v", err)
	}
	if subject, ok := a.Verify(next.AccessToken); !ok || subject != "p1" {
		t.Fatalf("renewed token verify = %q, %v", subject, ok)
	}

	_, err = client.Renew(context.Background(), "unknown")
	if !authority.IsRejected(err) {
		t.Fatalf("unknown refresh token: expected rejection, got %v", err)
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestProtect(t *testing.T) {
	a := New()
	h := a.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("X-Subject")))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}

	pair, _ := a.Issue("p1", time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "p1" {
		t.Fatalf("valid token: got %d %q", rec.Code, rec.Body.String())
	}
}
