package goRenew

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goRenew/internal/testauthority"
)

func TestEnsureFreshPassesFreshPair(t *testing.T) {
	m, auth, _, done := newManagerTest(t)
	defer done()
	pair := signIn(t, m, auth, "alice", time.Hour)

	got, err := m.EnsureFresh(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if !got.Equal(pair) {
		t.Fatal("fresh pair should be returned unchanged")
	}
	if auth.Calls() != 0 {
		t.Fatal("fresh pair must not renew")
	}
	if m.MetricsSnapshot().Counters[MetricGatePassed] != 1 {
		t.Fatal("expected gate passed metric")
	}
}

func TestEnsureFreshRenewsInsideThreshold(t *testing.T) {
	m, auth, _, done := newManagerTest(t)
	defer done()
	old := signIn(t, m, auth, "alice", 2*time.Minute)

	got, err := m.EnsureFresh(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if got.AccessToken == old.AccessToken {
		t.Fatal("expected a renewed access token")
	}
	if m.Estimator().Remaining(got.AccessToken) <= 5*time.Minute {
		t.Fatal("renewed token should be outside the threshold")
	}
}

func TestEnsureFreshErrors(t *testing.T) {
	tests := []struct {
		name    string
		mode    testauthority.Mode
		signIn  bool
		wantErr error
	}{
		{name: "no session", signIn: false, wantErr: ErrNoCredential},
		{name: "rejected", mode: testauthority.ModeReject, signIn: true, wantErr: ErrSessionExpired},
		{name: "unavailable", mode: testauthority.ModeFail, signIn: true, wantErr: ErrRenewalUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, auth, _, done := newManagerTest(t)
			defer done()
			if tt.signIn {
				seedExpiredSession(t, m, auth, "alice")
			}
			auth.SetMode(tt.mode)

			_, err := m.EnsureFresh(context.Background(), "alice")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEnsureFreshBackendFailure(t *testing.T) {
	m, auth, mr, done := newManagerTest(t)
	defer done()
	signIn(t, m, auth, "alice", time.Hour)
	mr.Close()

	_, err := m.EnsureFresh(context.Background(), "alice")
	if !errors.Is(err, ErrSessionBackend) {
		t.Fatalf("expected ErrSessionBackend, got %v", err)
	}
	if !IsTransient(err) {
		t.Fatal("backend failure should be transient")
	}
}
