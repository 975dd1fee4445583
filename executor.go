package goRenew

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrEthical07/goRenew/internal/flows"
	"github.com/MrEthical07/goRenew/internal/logkeys"
)

// Operation is an authenticated call made with an access token. It must
// return an error wrapping [ErrUnauthorized] when the token is refused, and
// must be safe to call twice.
type Operation[T any] func(ctx context.Context, accessToken string) (T, error)

// ExecState is the executor state an [Execute] call ended in.
type ExecState = flows.State

// Executor states.
const (
	ExecIdle             = flows.StateIdle
	ExecAttempting       = flows.StateAttempting
	ExecSucceeded        = flows.StateSucceeded
	ExecAuthFailed       = flows.StateAuthFailed
	ExecRenewing         = flows.StateRenewing
	ExecRetrying         = flows.StateRetrying
	ExecTerminallyFailed = flows.StateTerminallyFailed
)

// ExecResult describes how an [Execute] call ran.
type ExecResult struct {
	State    ExecState
	Attempts int
	Renewed  bool
}

// Execute runs op with the principal's access token. When op reports an auth
// failure the pair is renewed once and op is retried once.
//
// Errors other than those wrapping ErrUnauthorized pass through unchanged.
// A refused retry destroys the session and returns ErrRetryExhausted.
func Execute[T any](ctx context.Context, m *Manager, principalID string, op Operation[T]) (T, error) {
	v, _, err := ExecuteWithResult(ctx, m, principalID, op)
	return v, err
}

// ExecuteWithResult is [Execute] returning how the call ran.
func ExecuteWithResult[T any](ctx context.Context, m *Manager, principalID string, op Operation[T]) (T, *ExecResult, error) {
	var zero T
	if err := m.ready(); err != nil {
		return zero, nil, err
	}
	if op == nil {
		return zero, nil, errors.New("goRenew: nil operation")
	}

	r := flows.RunExecute[T](ctx, principalID, op, m.deps.Execute)
	res := &ExecResult{State: r.State, Attempts: r.Attempts, Renewed: r.Renewed}

	switch r.Failure {
	case flows.ExecuteFailureNone:
		if r.Attempts > 1 {
			m.metrics.Inc(MetricExecuteRetrySuccess)
		} else {
			m.metrics.Inc(MetricExecuteSuccess)
		}
		return r.Value, res, nil
	case flows.ExecuteFailureNoCredential:
		m.metrics.Inc(MetricExecuteNoCredential)
		return zero, res, ErrNoCredential
	case flows.ExecuteFailureSessionExpired:
		m.metrics.Inc(MetricExecuteSessionExpired)
		return zero, res, fmt.Errorf("%w: %v", ErrSessionExpired, r.Err)
	case flows.ExecuteFailureRenewalUnavailable:
		m.metrics.Inc(MetricExecuteRenewalUnavailable)
		return zero, res, fmt.Errorf("%w: %v", ErrRenewalUnavailable, r.Err)
	case flows.ExecuteFailureRetryExhausted:
		m.metrics.Inc(MetricExecuteRetryExhausted)
		m.metrics.Inc(MetricSessionDestroyed)
		m.emitAudit(ctx, AuditRetryExhausted, principalID, "", false, r.Err, nil)
		m.emitAudit(ctx, AuditSessionDestroyed, principalID, "", true, nil, map[string]string{"reason": "retry_exhausted"})
		m.log.Info("retry refused, session destroyed", logkeys.Principal, principalID, logkeys.Attempts, r.Attempts)
		return zero, res, fmt.Errorf("%w: %v", ErrRetryExhausted, r.Err)
	case flows.ExecuteFailureBackend:
		return zero, res, fmt.Errorf("%w: %v", ErrSessionBackend, r.Err)
	default:
		return zero, res, r.Err
	}
}

// Do sends req with the principal's access token as a Bearer credential. A
// 401 response triggers one renewal and one resend; any other response is
// returned as is. When the resend is refused too, Do returns
// ErrRetryExhausted and no response.
//
// A request body is replayed through req.GetBody, or buffered in memory when
// GetBody is unset.
func (m *Manager) Do(ctx context.Context, principalID string, req *http.Request) (*http.Response, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.New("goRenew: nil request")
	}

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	op := func(ctx context.Context, accessToken string) (*http.Response, error) {
		out := req.Clone(ctx)
		if getBody != nil {
			body, err := getBody()
			if err != nil {
				return nil, err
			}
			out.Body = body
			out.GetBody = getBody
		}
		out.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := m.httpClient.Do(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: %s %s returned 401", ErrUnauthorized, req.Method, req.URL.Redacted())
		}
		return resp, nil
	}

	return Execute[*http.Response](ctx, m, principalID, op)
}

func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}
	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("goRenew: read request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}, nil
}
