package goRenew

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goRenew/internal/flows"
	"github.com/MrEthical07/goRenew/internal/logkeys"
	"github.com/MrEthical07/goRenew/session"
)

// EnsureFresh returns the principal's credential pair, renewing it first when
// the access token is within the renewal threshold of expiry.
//
// Errors:
//   - ErrNoCredential: no session exists.
//   - ErrSessionExpired: the authority refused renewal; the session is gone.
//   - ErrRenewalUnavailable: renewal failed transiently; the session is kept.
//   - ErrSessionBackend: the store failed.
func (m *Manager) EnsureFresh(ctx context.Context, principalID string) (session.CredentialPair, error) {
	pair, _, err := m.EnsureFreshWithResult(ctx, principalID)
	return pair, err
}

// EnsureFreshWithResult is [Manager.EnsureFresh] also reporting whether the
// pair was renewed by this call, possibly through a shared attempt.
func (m *Manager) EnsureFreshWithResult(ctx context.Context, principalID string) (pair session.CredentialPair, renewed bool, err error) {
	if err := m.ready(); err != nil {
		return session.CredentialPair{}, false, err
	}

	res := flows.RunGate(ctx, principalID, m.deps.Gate)
	switch res.Failure {
	case flows.GateFailureNone:
		if res.Renewed {
			m.metrics.Inc(MetricGateRenewed)
		} else {
			m.metrics.Inc(MetricGatePassed)
		}
		return res.Pair, res.Renewed, nil
	case flows.GateFailureNoCredential:
		return session.CredentialPair{}, false, ErrNoCredential
	case flows.GateFailureSessionExpired:
		m.log.V(1).Info("gate refused", logkeys.Principal, principalID, logkeys.Outcome, "session_expired")
		return session.CredentialPair{}, false, fmt.Errorf("%w: %v", ErrSessionExpired, res.Err)
	case flows.GateFailureUnavailable:
		m.log.V(1).Info("gate refused", logkeys.Principal, principalID, logkeys.Outcome, "renewal_unavailable")
		return session.CredentialPair{}, false, fmt.Errorf("%w: %v", ErrRenewalUnavailable, res.Err)
	default:
		return session.CredentialPair{}, false, fmt.Errorf("%w: %v", ErrSessionBackend, res.Err)
	}
}
