package goRenew

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/MrEthical07/goRenew/internal/testauthority"
)

func TestExecuteFreshTokenNoRenewal(t *testing.T) {
	m, auth, _, done := newManagerTest(t)
	defer done()
	signIn(t, m, auth, "alice", time.Hour)

	calls := 0
	got, res, err := ExecuteWithResult(context.Background(), m, "alice", verifyOp(auth, &calls))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != "alice" {
		t.Fatalf("expected subject alice, got %q", got)
	}
	if res.State != ExecSucceeded || res.Attempts != 1 || res.Renewed {
		t.Fatalf("unexpected result %+v", res)
	}
	if auth.Calls() != 0 {
		t.Fatalf("expected no renewal, got %d", auth.Calls())
	}
	if m.MetricsSnapshot().Counters[MetricExecuteSuccess] != 1 {
		t.Fatal("expected execute success metric")
	}
}

func TestExecuteNoCredential(t *testing.T) {
	m, auth, _, done := newManagerTest(t)
	defer done()

	calls := 0
	_, err := Execute(context.Background(), m, "nobody", verifyOp(auth, &calls))
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if !IsAuthenticationRequired(err) {
		t.Fatal("no credential should require authentication")
	}
	if calls != 0 {
		t.Fatalf("operation must not run without a credential, ran %d times", calls)
	}
}

func TestExecuteRetriesOnceAfterUnauthorized(t *testing.T) {
	m, auth, _, done := newManagerTest(t, withoutPreemptiveRenewal)
	defer done()
	stale := seedExpiredSession(t, m, auth, "alice")

	calls := 0
	got, res, err := ExecuteWithResult(context.Background(), m, "alice", verifyOp(auth, &calls))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != "alice" || calls != 2 {
		t.Fatalf("expected success on second attempt, got %q after %d calls", got, calls)
	}
	if res.Attempts != 2 || !res.Renewed || res.State != ExecSucceeded {
		t.Fatalf("unexpected result %+v", res)
	}
	if auth.Calls() != 1 {
		t.Fatalf("expected one renewal, got %d", auth.Calls())
	}

	sess, err := m.Session(context.Background(), "alice")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.Pair.AccessToken == stale.AccessToken || sess.Pair.RefreshToken == stale.RefreshToken {
		t.Fatal("stored pair was not rotated")
	}
	if m.MetricsSnapshot().Counters[MetricExecuteRetrySuccess] != 1 {
		t.Fatal("expected retry success metric")
	}
}

func TestExecuteRetryExhaustedDestroysSession(t *testing.T) {
	sink := NewChannelSink(16)
	m, auth, _, done := newManagerTest(t, func(b *Builder) { b.WithAuditSink(sink) })
	defer done()
	signIn(t, m, auth, "alice", time.Hour)

	calls := 0
	refuse := func(context.Context, string) (int, error) {
		calls++
		return 0, fmt.Errorf("%w: upstream says no", ErrUnauthorized)
	}

	_, res, err := ExecuteWithResult[int](context.Background(), m, "alice", refuse)
	if !errors.Is(err, ErrRetryExhausted) || !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	if calls != 2 || res.Attempts != 2 {
		t.Fatalf("expected exactly two attempts, got %d", calls)
	}
	if res.State != ExecTerminallyFailed {
		t.Fatalf("expected terminal state, got %v", res.State)
	}
	if auth.Calls() != 1 {
		t.Fatalf("expected one renewal, got %d", auth.Calls())
	}
	if _, err := m.Session(context.Background(), "alice"); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected session destroyed, got %v", err)
	}

	m.Close()
	seen := map[string]bool{}
drain:
	for {
		select {
		case ev := <-sink.Events():
			seen[ev.EventType] = true
		default:
			break drain
		}
	}
	if !seen[AuditRetryExhausted] || !seen[AuditSessionDestroyed] {
		t.Fatalf("expected retry and destroy audit events, got %v", seen)
	}
}

func TestExecutePreemptiveRenewalCountsAsTheOnlyRenewal(t *testing.T) {
	m, auth, _, done := newManagerTest(t)
	defer done()
	seedExpiredSession(t, m, auth, "alice")

	calls := 0
	refuse := func(context.Context, string) (string, error) {
		calls++
		return "", ErrUnauthorized
	}

	_, res, err := ExecuteWithResult[string](context.Background(), m, "alice", refuse)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	if calls != 1 || res.Attempts != 1 {
		t.Fatalf("expected one attempt after pre-check renewal, got %d", calls)
	}
	if auth.Calls() != 1 {
		t.Fatalf("expected one renewal, got %d", auth.Calls())
	}
}

func TestExecuteRejectedRenewalEndsSession(t *testing.T) {
	m, auth, _, done := newManagerTest(t)
	defer done()
	seedExpiredSession(t, m, auth, "alice")
	auth.SetMode(testauthority.ModeReject)

	calls := 0
	_, err := Execute(context.Background(), m, "alice", verifyOp(auth, &calls))
	if !errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("operation must not run, ran %d times", calls)
	}
	if _, err := m.Session(context.Background(), "alice"); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected session destroyed, got %v", err)
	}
	snap := m.MetricsSnapshot()
	if snap.Counters[MetricRenewalRejected] != 1 || snap.Counters[MetricSessionDestroyed] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestExecuteTransportFailureKeepsSession(t *testing.T) {
	m, auth, _, done := newManagerTest(t)
	defer done()
	stored := seedExpiredSession(t, m, auth, "alice")
	auth.SetMode(testauthority.ModeFail)

	calls := 0
	_, err := Execute(context.Background(), m, "alice", verifyOp(auth, &calls))
	if !errors.Is(err, ErrRenewalUnavailable) {
		t.Fatalf("expected ErrRenewalUnavailable, got %v", err)
	}
	if !IsTransient(err) || IsAuthenticationRequired(err) {
		t.Fatalf("transport failure misclassified: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expired token must not be sent, sent %d times", calls)
	}

	sess, err := m.Session(context.Background(), "alice")
	if err != nil {
		t.Fatalf("session must survive a transport failure: %v", err)
	}
	if !sess.Pair.Equal(stored) {
		t.Fatal("stored pair changed after transport failure")
	}
}

func TestExecuteTransportFailureStillUsesUnexpiredToken(t *testing.T) {
	m, auth, _, done := newManagerTest(t)
	defer done()
	// Inside the renewal threshold but not yet expired.
	signIn(t, m, auth, "alice", 2*time.Minute)
	auth.SetMode(testauthority.ModeFail)

	got, res, err := ExecuteWithResult(context.Background(), m, "alice", verifyOp(auth, nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != "alice" || res.Renewed {
		t.Fatalf("unexpected result %q %+v", got, res)
	}
	if auth.Calls() != 1 {
		t.Fatalf("expected one failed renewal attempt, got %d", auth.Calls())
	}
}

func TestExecuteOperationErrorPassesThrough(t *testing.T) {
	m, auth, _, done := newManagerTest(t)
	defer done()
	signIn(t, m, auth, "alice", time.Hour)

	boom := errors.New("boom")
	_, err := Execute[string](context.Background(), m, "alice", func(context.Context, string) (string, error) {
		return "", boom
	})
	if err != boom {
		t.Fatalf("expected operation error unchanged, got %v", err)
	}
	if auth.Calls() != 0 {
		t.Fatal("non-auth failures must not renew")
	}
}

func TestExecuteUnboundManager(t *testing.T) {
	m, err := New().WithRenewer(testauthority.New()).WithLogger(logr.Discard()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer m.Close()

	_, err = Execute[string](context.Background(), m, "alice", func(context.Context, string) (string, error) {
		return "", nil
	})
	if !errors.Is(err, ErrStoreRequired) {
		t.Fatalf("expected ErrStoreRequired, got %v", err)
	}
}

func TestDoRetriesOn401WithReplayedBody(t *testing.T) {
	m, auth, _, done := newManagerTest(t, withoutPreemptiveRenewal)
	defer done()
	seedExpiredSession(t, m, auth, "alice")

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		auth.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			_, _ = w.Write([]byte(r.Header.Get("X-Subject") + ":" + string(body)))
		})).ServeHTTP(w, r)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/things", io.NopCloser(strings.NewReader("payload")))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	resp, err := m.Do(context.Background(), "alice", req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "alice:payload" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected two upstream hits, got %d", hits.Load())
	}
	if auth.Calls() != 1 {
		t.Fatalf("expected one renewal, got %d", auth.Calls())
	}
}

func TestDoReturnsNon401Responses(t *testing.T) {
	m, auth, _, done := newManagerTest(t)
	defer done()
	signIn(t, m, auth, "alice", time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := m.Do(context.Background(), "alice", req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 passed through, got %d", resp.StatusCode)
	}
	if auth.Calls() != 0 {
		t.Fatal("403 must not renew")
	}
}
