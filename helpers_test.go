package goRenew

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goRenew/internal/testauthority"
	"github.com/MrEthical07/goRenew/session"
)

var testSecret = bytes.Repeat([]byte("m"), session.MinSecretLen)

func testCodec(t *testing.T) *session.Codec {
	t.Helper()
	sealer, err := session.NewSealer(testSecret)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return session.NewCodec(sealer)
}

// newManagerTest builds a Manager over miniredis and an in-process authority.
// configure runs on the Builder before Build.
func newManagerTest(t *testing.T, configure ...func(*Builder)) (*Manager, *testauthority.Authority, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewRedisStore(rdb, "cr", testCodec(t), session.FixedLifetime(time.Hour))

	auth := testauthority.New()
	b := New().
		WithStore(store).
		WithRenewer(auth).
		WithLogger(logr.Discard())
	for _, fn := range configure {
		fn(b)
	}

	m, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	return m, auth, mr, func() {
		m.Close()
		rdb.Close()
		mr.Close()
	}
}

func withoutPreemptiveRenewal(b *Builder) {
	cfg := b.config
	cfg.Executor.PreemptiveRenewal = false
	b.WithConfig(cfg)
}

func signIn(t *testing.T, m *Manager, auth *testauthority.Authority, principalID string, accessTTL time.Duration) session.CredentialPair {
	t.Helper()
	pair, err := auth.Issue(principalID, accessTTL)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := m.SignIn(context.Background(), principalID, pair); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	return pair
}

func seedExpiredSession(t *testing.T, m *Manager, auth *testauthority.Authority, principalID string) session.CredentialPair {
	t.Helper()
	return signIn(t, m, auth, principalID, -time.Minute)
}

// verifyOp is an operation that accepts only tokens the authority verifies.
func verifyOp(auth *testauthority.Authority, calls *int) Operation[string] {
	return func(_ context.Context, accessToken string) (string, error) {
		if calls != nil {
			*calls++
		}
		subject, ok := auth.Verify(accessToken)
		if !ok {
			return "", fmt.Errorf("%w: token refused", ErrUnauthorized)
		}
		return subject, nil
	}
}
