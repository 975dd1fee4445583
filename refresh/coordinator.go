package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/MrEthical07/goRenew/authority"
	"github.com/MrEthical07/goRenew/internal/logkeys"
	"github.com/MrEthical07/goRenew/session"
)

// DefaultTimeout bounds one renewal attempt, including store writes.
const DefaultTimeout = 10 * time.Second

// Outcome is the resolution of a renewal attempt.
type Outcome int

const (
	// Renewed means a fresh pair is stored and returned.
	Renewed Outcome = iota + 1
	// Rejected means the session is gone: the authority refused the renewal
	// credential, or no session existed.
	Rejected
	// TransportFailed means the authority could not be reached in time. The
	// session is unchanged.
	TransportFailed
)

func (o Outcome) String() string {
	switch o {
	case Renewed:
		return "renewed"
	case Rejected:
		return "rejected"
	case TransportFailed:
		return "transport_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what a caller of [Coordinator.Renew] receives.
type Result struct {
	Outcome Outcome
	// Pair is set when Outcome is Renewed.
	Pair session.CredentialPair
	// Shared is true when this caller waited on an attempt started by another.
	Shared bool
	// Skipped is true when the stored pair had already been rotated and no
	// authority call was made.
	Skipped bool
	// AttemptID correlates log lines and audit events of one attempt.
	AttemptID string
	// Err carries the cause for Rejected and TransportFailed.
	Err error

	coordinator uint64
	// exchanged is set once the authority has seen the refresh token.
	exchanged bool
}

// Event is passed to an [Observer] once per caller.
type Event struct {
	PrincipalID string
	AttemptID   string
	Outcome     Outcome
	Shared      bool
	Skipped     bool
	Destroyed   bool
	Duration    time.Duration
	Err         error
}

// Observer receives renewal events, typically for metrics and audit.
// OnRenewal is called synchronously and must not block.
type Observer interface {
	OnRenewal(Event)
}

// ObserverFunc adapts a function to [Observer].
type ObserverFunc func(Event)

// OnRenewal calls f.
func (f ObserverFunc) OnRenewal(e Event) { f(e) }

// Coordinator serializes renewals per principal over one store.
type Coordinator struct {
	id       uint64
	store    session.Store
	renewer  authority.Renewer
	timeout  time.Duration
	log      logr.Logger
	observer Observer
	group    *Group
}

var coordinatorIDs atomic.Uint64

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithTimeout bounds each attempt. Non-positive values keep [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l logr.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithObserver registers a renewal observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithGroup makes the coordinator share attempts with every other coordinator
// on g. Without it each coordinator gets a private [Group].
func WithGroup(g *Group) Option {
	return func(c *Coordinator) {
		if g != nil {
			c.group = g
		}
	}
}

// NewCoordinator creates a [Coordinator].
func NewCoordinator(store session.Store, renewer authority.Renewer, opts ...Option) *Coordinator {
	c := &Coordinator{
		id:      coordinatorIDs.Add(1),
		store:   store,
		renewer: renewer,
		timeout: DefaultTimeout,
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.group == nil {
		c.group = NewGroup()
	}
	return c
}

// Store returns the store this coordinator mutates.
func (c *Coordinator) Store() session.Store {
	return c.store
}

// Group returns the attempt registry this coordinator uses.
func (c *Coordinator) Group() *Group {
	return c.group
}

// InFlight reports whether a renewal is open for principalID and how many
// callers are waiting on it.
func (c *Coordinator) InFlight(principalID string) (waiters int, ok bool) {
	return c.group.InFlight(principalID)
}

// Renew obtains a fresh pair for principalID. staleAccess is the access token
// the caller found unusable; pass "" to force a renewal of whatever is stored.
//
// If ctx ends before the attempt resolves, Renew returns TransportFailed with
// ctx's error while the attempt continues for other waiters.
func (c *Coordinator) Renew(ctx context.Context, principalID, staleAccess string) Result {
	c.group.join(principalID)
	defer c.group.leave(principalID)

	start := time.Now()
	res, destroyed := c.renew(ctx, principalID, staleAccess, false)

	if c.observer != nil {
		c.observer.OnRenewal(Event{
			PrincipalID: principalID,
			AttemptID:   res.AttemptID,
			Outcome:     res.Outcome,
			Shared:      res.Shared,
			Skipped:     res.Skipped,
			Destroyed:   destroyed,
			Duration:    time.Since(start),
			Err:         res.Err,
		})
	}
	return res
}

func (c *Coordinator) renew(ctx context.Context, principalID, staleAccess string, retried bool) (Result, bool) {
	own, err := c.store.Get(ctx, principalID)
	if err != nil {
		switch {
		case session.IsNotFound(err):
			return Result{Outcome: Rejected, Err: session.ErrNotFound}, false
		case ctx.Err() != nil:
			return Result{Outcome: TransportFailed, Err: ctx.Err()}, false
		}
		c.log.Error(err, "renewal aborted, session read failed", logkeys.Principal, principalID)
		return Result{Outcome: TransportFailed, Err: err}, false
	}

	if pair, ok := c.group.successor(principalID, own.Pair.RefreshToken); ok {
		c.log.V(1).Info("credential already rotated by another request", logkeys.Principal, principalID)
		return c.adopt(ctx, principalID, Result{Outcome: Renewed, Pair: pair, Skipped: true}), false
	}

	leader := false
	ch := c.group.flight.DoChan(attemptKey(principalID, own.Pair.RefreshToken), func() (interface{}, error) {
		leader = true
		res := c.attempt(ctx, principalID, staleAccess)
		res.coordinator = c.id
		return res, nil
	})

	select {
	case r := <-ch:
		res := r.Val.(Result)
		if leader {
			return res, res.Outcome == Rejected && !errors.Is(res.Err, session.ErrNotFound)
		}
		res.Shared = true
		if res.coordinator == c.id {
			return res, false
		}
		if res.Outcome == Rejected && !res.exchanged && !retried {
			// The other store lost its session before any exchange, so this
			// credential is untouched.
			return c.renew(ctx, principalID, staleAccess, true)
		}
		return c.adopt(ctx, principalID, res), false
	case <-ctx.Done():
		// leader is not read here: the attempt may still be running.
		return Result{Outcome: TransportFailed, Shared: true, Err: ctx.Err()}, false
	}
}

// adopt applies an outcome reached through another coordinator's store to
// this coordinator's store, which holds the same credential.
func (c *Coordinator) adopt(parent context.Context, principalID string, res Result) Result {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
	defer cancel()
	res.coordinator = c.id

	switch res.Outcome {
	case Renewed:
		if err := c.store.Replace(ctx, principalID, res.Pair); err != nil {
			res.Pair = session.CredentialPair{}
			if session.IsNotFound(err) {
				res.Outcome, res.Err = Rejected, session.ErrNotFound
				return res
			}
			c.log.Error(err, "applying shared renewal failed", logkeys.Principal, principalID, logkeys.Attempt, res.AttemptID)
			res.Outcome, res.Err = TransportFailed, err
		}
	case Rejected:
		if err := c.store.Destroy(ctx, principalID); err != nil {
			c.log.Error(err, "destroying rejected session failed", logkeys.Principal, principalID, logkeys.Attempt, res.AttemptID)
		}
	}
	return res
}

func (c *Coordinator) attempt(parent context.Context, principalID, staleAccess string) Result {
	id := uuid.NewString()
	log := c.log.WithValues(logkeys.Principal, principalID, logkeys.Attempt, id)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
	defer cancel()

	sess, err := c.store.Get(ctx, principalID)
	if err != nil {
		if session.IsNotFound(err) {
			log.V(1).Info("renewal skipped, no session")
			return Result{Outcome: Rejected, AttemptID: id, Err: session.ErrNotFound}
		}
		log.Error(err, "renewal aborted, session read failed")
		return Result{Outcome: TransportFailed, AttemptID: id, Err: err}
	}

	if staleAccess != "" && sess.Pair.AccessToken != staleAccess {
		log.V(1).Info("credential already rotated")
		return Result{Outcome: Renewed, Pair: sess.Pair, Skipped: true, AttemptID: id}
	}

	// The rotation may have completed between the caller's read and this attempt.
	pair, skipped := c.group.successor(principalID, sess.Pair.RefreshToken)
	if !skipped {
		pair, err = c.renewer.Renew(ctx, sess.Pair.RefreshToken)
	}
	if err != nil {
		if authority.IsRejected(err) {
			// Destroy gets its own budget so a slow rejection still clears the session.
			dctx, dcancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
			defer dcancel()
			if derr := c.store.Destroy(dctx, principalID); derr != nil {
				log.Error(derr, "destroying rejected session failed")
			}
			log.Info("renewal rejected, session destroyed", logkeys.Outcome, Rejected.String())
			return Result{Outcome: Rejected, AttemptID: id, Err: err, exchanged: true}
		}
		log.Error(err, "renewal transport failure", logkeys.Outcome, TransportFailed.String())
		return Result{Outcome: TransportFailed, AttemptID: id, Err: err}
	}

	if err := c.store.Replace(ctx, principalID, pair); err != nil {
		if session.IsNotFound(err) {
			log.Info("session ended during renewal, discarding pair")
			return Result{Outcome: Rejected, AttemptID: id, Err: session.ErrNotFound, exchanged: true}
		}
		// The old refresh token is spent; keep the successor reachable for
		// the next request that still carries it.
		c.group.remember(principalID, sess.Pair.RefreshToken, pair)
		log.Error(err, "persisting renewed pair failed")
		return Result{Outcome: TransportFailed, AttemptID: id, Err: err}
	}

	if !skipped {
		c.group.remember(principalID, sess.Pair.RefreshToken, pair)
	}
	log.V(1).Info("renewed", logkeys.Outcome, Renewed.String())
	return Result{Outcome: Renewed, Pair: pair, Skipped: skipped, AttemptID: id, exchanged: true}
}
