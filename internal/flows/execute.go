package flows

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goRenew/refresh"
)

// State is the executor's position in its state machine:
//
//	Idle -> Attempting -> Succeeded | AuthFailed
//	AuthFailed -> Renewing -> Retrying -> Succeeded | TerminallyFailed
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateSucceeded
	StateAuthFailed
	StateRenewing
	StateRetrying
	StateTerminallyFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateAuthFailed:
		return "auth_failed"
	case StateRenewing:
		return "renewing"
	case StateRetrying:
		return "retrying"
	case StateTerminallyFailed:
		return "terminally_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExecuteFailureKind classifies executor failures for root-level mapping.
type ExecuteFailureKind int

const (
	ExecuteFailureNone ExecuteFailureKind = iota
	ExecuteFailureNoCredential
	ExecuteFailureSessionExpired
	ExecuteFailureRenewalUnavailable
	ExecuteFailureRetryExhausted
	ExecuteFailureBackend
	// ExecuteFailureOperation is a non-auth error from the operation, passed through.
	ExecuteFailureOperation
)

// ExecuteResult carries the operation value or failure metadata.
type ExecuteResult[T any] struct {
	Value    T
	State    State
	Attempts int
	Renewed  bool
	Failure  ExecuteFailureKind
	Err      error
}

// ExecuteDeps captures executor dependencies.
type ExecuteDeps struct {
	Gate GateDeps
	// Preemptive enables the gate pre-check before the first attempt.
	Preemptive bool
	// IsExpired reports whether an access token is past its expiry.
	IsExpired func(accessToken string) bool
	// IsAuthFailure reports whether an operation error means the access
	// token was refused.
	IsAuthFailure func(error) bool
	Destroy       func(ctx context.Context, principalID string) error
	// OnState, when set, observes every transition.
	OnState func(from, to State)
}

// RunExecute runs op with the principal's access token, renewing and retrying
// once if op reports an auth failure. At most one renewal happens per run.
func RunExecute[T any](ctx context.Context, principalID string, op func(context.Context, string) (T, error), deps ExecuteDeps) ExecuteResult[T] {
	var out ExecuteResult[T]
	state := StateIdle
	move := func(to State) {
		if deps.OnState != nil {
			deps.OnState(state, to)
		}
		state = to
		out.State = to
	}
	fail := func(kind ExecuteFailureKind, err error) ExecuteResult[T] {
		move(StateTerminallyFailed)
		out.Failure = kind
		out.Err = err
		return out
	}

	gateDeps := deps.Gate
	if !deps.Preemptive {
		gateDeps.NeedsRenewal = nil
	}
	gate := RunGate(ctx, principalID, gateDeps)
	switch gate.Failure {
	case GateFailureNone:
	case GateFailureNoCredential:
		return fail(ExecuteFailureNoCredential, gate.Err)
	case GateFailureSessionExpired:
		return fail(ExecuteFailureSessionExpired, gate.Err)
	case GateFailureBackend:
		return fail(ExecuteFailureBackend, gate.Err)
	case GateFailureUnavailable:
		// A token that has not expired yet is still worth one attempt.
		if deps.IsExpired == nil || deps.IsExpired(gate.Pair.AccessToken) {
			return fail(ExecuteFailureRenewalUnavailable, gate.Err)
		}
	}
	out.Renewed = gate.Renewed
	token := gate.Pair.AccessToken

	move(StateAttempting)
	out.Attempts = 1
	value, err := op(ctx, token)
	if err == nil {
		out.Value = value
		move(StateSucceeded)
		return out
	}
	if !deps.IsAuthFailure(err) {
		return fail(ExecuteFailureOperation, err)
	}

	move(StateAuthFailed)
	if out.Renewed {
		return exhausted(ctx, principalID, deps, fail, err)
	}

	move(StateRenewing)
	res := deps.Gate.Renew(ctx, principalID, token)
	switch res.Outcome {
	case refresh.Renewed:
	case refresh.Rejected:
		return fail(ExecuteFailureSessionExpired, res.Err)
	default:
		return fail(ExecuteFailureRenewalUnavailable, res.Err)
	}
	out.Renewed = true

	move(StateRetrying)
	out.Attempts = 2
	value, err = op(ctx, res.Pair.AccessToken)
	if err == nil {
		out.Value = value
		move(StateSucceeded)
		return out
	}
	if !deps.IsAuthFailure(err) {
		return fail(ExecuteFailureOperation, err)
	}
	return exhausted(ctx, principalID, deps, fail, err)
}

// exhausted ends a run whose freshly renewed token was refused: the stored
// credentials are unusable, so the session is destroyed.
func exhausted[T any](ctx context.Context, principalID string, deps ExecuteDeps, fail func(ExecuteFailureKind, error) ExecuteResult[T], cause error) ExecuteResult[T] {
	if deps.Destroy != nil {
		if derr := deps.Destroy(context.WithoutCancel(ctx), principalID); derr != nil {
			return fail(ExecuteFailureRetryExhausted, fmt.Errorf("%v (destroy failed: %v)", cause, derr))
		}
	}
	return fail(ExecuteFailureRetryExhausted, cause)
}
