package goRenew

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/MrEthical07/goRenew/authority"
	"github.com/MrEthical07/goRenew/expiry"
	"github.com/MrEthical07/goRenew/internal/audit"
	"github.com/MrEthical07/goRenew/internal/flows"
	"github.com/MrEthical07/goRenew/internal/logkeys"
	"github.com/MrEthical07/goRenew/refresh"
	"github.com/MrEthical07/goRenew/session"
)

// core is the state every bound Manager shares.
type core struct {
	config     Config
	estimator  *expiry.Estimator
	renewer    authority.Renewer
	httpClient *http.Client
	metrics    *Metrics
	audit      *audit.Dispatcher
	renewals   *refresh.Group
	log        logr.Logger
	closed     atomic.Bool
}

// Manager owns the credential lifecycle of principals in one session store.
//
// A Manager is safe for concurrent use. Renewals of the same credential are
// single-flight across the Manager and every Manager produced by
// [Manager.Bind] from it, so parallel requests carrying one browser's cookie
// make a single authority call.
type Manager struct {
	*core
	store       session.Store
	coordinator *refresh.Coordinator
	deps        flows.Deps
}

// Bind returns a Manager sharing configuration, renewer, metrics, audit,
// logger and the renewal registry with m but operating on store. Use it per
// request with a [session.CookieStore].
//
// A cookie-bound renewal rewrites Set-Cookie, so it must happen before the
// handler writes the response header. [session.CookieStore] reports
// [session.ErrHeaderWritten] otherwise.
func (m *Manager) Bind(store session.Store) *Manager {
	bound := &Manager{core: m.core, store: store}
	bound.coordinator = refresh.NewCoordinator(
		store,
		m.renewer,
		refresh.WithTimeout(m.config.Renewal.Timeout),
		refresh.WithLogger(m.log.WithName("refresh")),
		refresh.WithObserver(refresh.ObserverFunc(m.core.onRenewal)),
		refresh.WithGroup(m.renewals),
	)
	bound.deps = bound.buildDeps()
	return bound
}

func (m *Manager) buildDeps() flows.Deps {
	gate := flows.GateDeps{
		Load: m.store.Get,
		NeedsRenewal: func(accessToken string) bool {
			return m.estimator.NeedsRenewal(accessToken, m.config.Renewal.Threshold)
		},
		Renew: m.coordinator.Renew,
	}
	return flows.Deps{
		Gate: gate,
		Execute: flows.ExecuteDeps{
			Gate:       gate,
			Preemptive: m.config.Executor.PreemptiveRenewal,
			IsExpired: func(accessToken string) bool {
				return m.estimator.Remaining(accessToken) <= 0
			},
			IsAuthFailure: func(err error) bool {
				return errors.Is(err, ErrUnauthorized)
			},
			Destroy: m.store.Destroy,
			OnState: func(from, to flows.State) {
				m.log.V(2).Info("execute transition", logkeys.State, to.String(), "from", from.String())
			},
		},
	}
}

func (m *Manager) ready() error {
	if m == nil || m.core == nil || m.closed.Load() {
		return ErrManagerNotReady
	}
	if m.store == nil {
		return ErrStoreRequired
	}
	return nil
}

// Store returns the store this Manager is bound to, or nil.
func (m *Manager) Store() session.Store {
	if m == nil {
		return nil
	}
	return m.store
}

// Config returns a copy of the configuration.
func (m *Manager) Config() Config {
	return cloneConfig(m.config)
}

// Estimator returns the expiry estimator the gate uses.
func (m *Manager) Estimator() *expiry.Estimator {
	return m.estimator
}

// Logger returns the Manager's logger.
func (m *Manager) Logger() logr.Logger {
	return m.log
}

// SignIn stores a freshly issued pair for principalID, replacing any session.
func (m *Manager) SignIn(ctx context.Context, principalID string, pair session.CredentialPair) error {
	if err := m.ready(); err != nil {
		return err
	}
	creator, ok := m.store.(session.Creator)
	if !ok {
		return ErrStoreCannotCreate
	}
	if !pair.Valid() {
		return session.ErrInvalidPair
	}
	if err := creator.Create(ctx, principalID, pair); err != nil {
		m.emitAudit(ctx, AuditSignIn, principalID, "", false, err, nil)
		if errors.Is(err, session.ErrInvalidPair) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	m.renewals.Forget(principalID)

	m.metrics.Inc(MetricSignIn)
	m.emitAudit(ctx, AuditSignIn, principalID, "", true, nil, nil)
	m.log.V(1).Info("signed in", logkeys.Principal, principalID)
	return nil
}

// SignOut destroys the principal's session. Signing out twice is not an error.
func (m *Manager) SignOut(ctx context.Context, principalID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	m.renewals.Forget(principalID)
	if err := m.store.Destroy(ctx, principalID); err != nil {
		m.emitAudit(ctx, AuditSignOut, principalID, "", false, err, nil)
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	m.metrics.Inc(MetricSignOut)
	m.emitAudit(ctx, AuditSignOut, principalID, "", true, nil, nil)
	m.log.V(1).Info("signed out", logkeys.Principal, principalID)
	return nil
}

// Session returns the stored session without renewing it.
func (m *Manager) Session(ctx context.Context, principalID string) (*session.Session, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	sess, err := m.store.Get(ctx, principalID)
	if err != nil {
		if session.IsNotFound(err) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return sess, nil
}

// RenewalsInFlight reports whether a renewal is open for principalID and how
// many callers wait on it.
func (m *Manager) RenewalsInFlight(principalID string) (waiters int, ok bool) {
	if m == nil || m.core == nil || m.renewals == nil {
		return 0, false
	}
	return m.renewals.InFlight(principalID)
}

// MetricsSnapshot returns a copy of the in-process counters.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.core == nil {
		return MetricsSnapshot{}
	}
	return m.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (m *Manager) AuditDropped() uint64 {
	if m == nil || m.core == nil {
		return 0
	}
	return m.audit.Dropped()
}

// Close flushes the audit dispatcher. Every Manager sharing this one's core
// stops accepting calls.
func (m *Manager) Close() {
	if m == nil || m.core == nil {
		return
	}
	if m.closed.Swap(true) {
		return
	}
	m.audit.Close()
}

func (c *core) onRenewal(e refresh.Event) {
	switch {
	case e.Shared:
		c.metrics.Inc(MetricRenewalShared)
		return
	case e.Skipped:
		c.metrics.Inc(MetricRenewalSkipped)
		return
	}

	c.metrics.Observe(MetricRenewalLatency, e.Duration)
	meta := map[string]string{logkeys.Duration: e.Duration.String()}

	ctx := context.Background()
	switch e.Outcome {
	case refresh.Renewed:
		c.metrics.Inc(MetricRenewalSuccess)
		c.emitAudit(ctx, AuditRenewalSuccess, e.PrincipalID, e.AttemptID, true, nil, meta)
	case refresh.Rejected:
		c.metrics.Inc(MetricRenewalRejected)
		c.emitAudit(ctx, AuditRenewalRejected, e.PrincipalID, e.AttemptID, false, e.Err, meta)
		if e.Destroyed {
			c.metrics.Inc(MetricSessionDestroyed)
			c.emitAudit(ctx, AuditSessionDestroyed, e.PrincipalID, e.AttemptID, true, nil, map[string]string{"reason": "renewal_rejected"})
		}
	case refresh.TransportFailed:
		c.metrics.Inc(MetricRenewalTransportFailed)
		c.emitAudit(ctx, AuditRenewalUnavailable, e.PrincipalID, e.AttemptID, false, e.Err, meta)
	}
}
