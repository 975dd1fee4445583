package refresh

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/goRenew/session"
)

// DefaultRotationGrace is how long a consumed refresh token keeps resolving to
// the pair it was exchanged for.
const DefaultRotationGrace = 30 * time.Second

// Group is the attempt registry shared by every [Coordinator] created with
// [WithGroup]. Attempts are keyed by principal and the refresh token being
// exchanged, so coordinators over different request-scoped stores that carry
// the same credential join one attempt.
//
// A Group also remembers each completed rotation for a grace period. A caller
// still holding the consumed refresh token during that window receives the
// rotated pair instead of presenting a spent token to the authority.
type Group struct {
	flight singleflight.Group
	grace  time.Duration
	now    func() time.Time

	mu      sync.Mutex
	waiters map[string]int
	rotated map[string]rotation
}

type rotation struct {
	principalID string
	pair        session.CredentialPair
	expires     time.Time
}

// GroupOption configures a [Group].
type GroupOption func(*Group)

// WithRotationGrace sets how long completed rotations are remembered. Zero
// disables the memory; negative values keep [DefaultRotationGrace].
func WithRotationGrace(d time.Duration) GroupOption {
	return func(g *Group) {
		if d >= 0 {
			g.grace = d
		}
	}
}

// WithGroupClock overrides time.Now for rotation expiry.
func WithGroupClock(now func() time.Time) GroupOption {
	return func(g *Group) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGroup creates an empty [Group].
func NewGroup(opts ...GroupOption) *Group {
	g := &Group{
		grace:   DefaultRotationGrace,
		now:     time.Now,
		waiters: make(map[string]int),
		rotated: make(map[string]rotation),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func attemptKey(principalID, refreshToken string) string {
	return principalID + "\x00" + refreshToken
}

// InFlight reports whether a renewal is open for principalID and how many
// callers are waiting on it.
func (g *Group) InFlight(principalID string) (waiters int, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.waiters[principalID]
	return n, ok
}

// Forget drops remembered rotations of principalID. Call it on sign-out so a
// request carrying an old credential cannot pick the rotated pair back up.
func (g *Group) Forget(principalID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, r := range g.rotated {
		if r.principalID == principalID {
			delete(g.rotated, k)
		}
	}
}

func (g *Group) join(principalID string) {
	g.mu.Lock()
	g.waiters[principalID]++
	g.mu.Unlock()
}

func (g *Group) leave(principalID string) {
	g.mu.Lock()
	if g.waiters[principalID] <= 1 {
		delete(g.waiters, principalID)
	} else {
		g.waiters[principalID]--
	}
	g.mu.Unlock()
}

func (g *Group) remember(principalID, consumed string, pair session.CredentialPair) {
	if g.grace <= 0 || consumed == "" {
		return
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(now)
	g.rotated[attemptKey(principalID, consumed)] = rotation{
		principalID: principalID,
		pair:        pair,
		expires:     now.Add(g.grace),
	}
}

// successor returns the pair a recently consumed refresh token was exchanged for.
func (g *Group) successor(principalID, consumed string) (session.CredentialPair, bool) {
	if g.grace <= 0 {
		return session.CredentialPair{}, false
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(now)
	r, ok := g.rotated[attemptKey(principalID, consumed)]
	if !ok {
		return session.CredentialPair{}, false
	}
	// A successor may itself have been rotated within the window.
	for i := 0; i < 8; i++ {
		next, ok := g.rotated[attemptKey(principalID, r.pair.RefreshToken)]
		if !ok {
			break
		}
		r = next
	}
	return r.pair, true
}

func (g *Group) pruneLocked(now time.Time) {
	for k, r := range g.rotated {
		if !now.Before(r.expires) {
			delete(g.rotated, k)
		}
	}
}
