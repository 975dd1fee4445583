package flows

import (
	"context"

	"github.com/MrEthical07/goRenew/refresh"
	"github.com/MrEthical07/goRenew/session"
)

// GateFailureKind classifies gate failures for root-level mapping.
type GateFailureKind int

const (
	GateFailureNone GateFailureKind = iota
	GateFailureNoCredential
	GateFailureSessionExpired
	GateFailureUnavailable
	GateFailureBackend
)

// GateResult carries the usable pair or failure metadata. On
// GateFailureUnavailable Pair still holds the stored pair.
type GateResult struct {
	Pair    session.CredentialPair
	Renewed bool
	Renewal *refresh.Result
	Failure GateFailureKind
	Err     error
}

// GateDeps captures gate dependencies.
type GateDeps struct {
	Load         func(ctx context.Context, principalID string) (*session.Session, error)
	NeedsRenewal func(accessToken string) bool
	Renew        func(ctx context.Context, principalID, staleAccess string) refresh.Result
}

// RunGate returns a pair that is not close to expiry, renewing first if needed.
func RunGate(ctx context.Context, principalID string, deps GateDeps) GateResult {
	sess, err := deps.Load(ctx, principalID)
	if err != nil {
		if session.IsNotFound(err) {
			return GateResult{Failure: GateFailureNoCredential, Err: err}
		}
		return GateResult{Failure: GateFailureBackend, Err: err}
	}

	if deps.NeedsRenewal == nil || !deps.NeedsRenewal(sess.Pair.AccessToken) {
		return GateResult{Pair: sess.Pair}
	}

	res := deps.Renew(ctx, principalID, sess.Pair.AccessToken)
	switch res.Outcome {
	case refresh.Renewed:
		return GateResult{Pair: res.Pair, Renewed: true, Renewal: &res}
	case refresh.Rejected:
		return GateResult{Failure: GateFailureSessionExpired, Renewal: &res, Err: res.Err}
	default:
		return GateResult{Pair: sess.Pair, Failure: GateFailureUnavailable, Renewal: &res, Err: res.Err}
	}
}
