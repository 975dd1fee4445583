package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	goRenew "github.com/MrEthical07/goRenew"
	"github.com/MrEthical07/goRenew/internal/logkeys"
	"github.com/MrEthical07/goRenew/session"
)

// PrincipalFunc resolves the principal a request acts for.
type PrincipalFunc func(r *http.Request) (principalID string, ok bool)

// CookieBinding makes the gate bind a request-scoped [session.CookieStore].
type CookieBinding struct {
	Codec    *session.Codec
	Config   session.CookieConfig
	Lifetime session.LifetimeFunc
}

// NewCookieBinding builds a binding from the Manager configuration. It fails
// when no session secret is configured.
func NewCookieBinding(cfg goRenew.Config) (*CookieBinding, error) {
	sealer, err := cfg.Sealer()
	if err != nil {
		return nil, err
	}
	return &CookieBinding{
		Codec:    session.NewCodec(sealer),
		Config:   cfg.SessionCookieConfig(),
		Lifetime: cfg.SessionLifetime(),
	}, nil
}

// Options configures [Gate], [GinGate] and [SignOutHandler].
type Options struct {
	// Principal resolves the principal. When nil, the principal named in the
	// session cookie is used, which requires Cookie.
	Principal PrincipalFunc
	// Cookie, when set, keeps sessions in the request's cookies.
	Cookie *CookieBinding
	// SignInPath receives browsers whose session is gone. Default "/signin".
	SignInPath string
	// SignedOutPath receives browsers after sign-out. Default "/".
	SignedOutPath string
	// RetryAfter is advertised on 503 responses. Default 5s.
	RetryAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.SignInPath == "" {
		o.SignInPath = "/signin"
	}
	if o.SignedOutPath == "" {
		o.SignedOutPath = "/"
	}
	if o.RetryAfter <= 0 {
		o.RetryAfter = 5 * time.Second
	}
	return o
}

// Auth is what a passing gate stores in the request context.
type Auth struct {
	Manager     *goRenew.Manager
	PrincipalID string
	Pair        session.CredentialPair
	// Renewed is true when the gate rotated the pair for this request.
	Renewed bool
}

type authContextKey struct{}

// FromContext returns the gate's result for the request.
func FromContext(ctx context.Context) (*Auth, bool) {
	a, ok := ctx.Value(authContextKey{}).(*Auth)
	return a, ok
}

func withAuth(ctx context.Context, a *Auth) context.Context {
	return context.WithValue(ctx, authContextKey{}, a)
}

// Gate returns net/http middleware that lets a request through only with a
// fresh credential pair.
//
// With a cookie binding, renewals made later through [Auth.Manager] must
// run before the handler writes its response header; afterwards they fail
// with [goRenew.ErrRenewalUnavailable] because the rotated cookie could not
// be delivered.
//
// Missing or expired sessions redirect to SignInPath with 303, or get 401
// when the client accepts JSON. Transient renewal failures get 503 with
// Retry-After and keep the session.
func Gate(m *goRenew.Manager, opts Options) func(http.Handler) http.Handler {
	g := newGate(m, opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &trackingWriter{ResponseWriter: w}
			a, err := g.check(tw, r)
			if err != nil {
				g.deny(w, r, err)
				return
			}
			next.ServeHTTP(tw, r.WithContext(withAuth(r.Context(), a)))
		})
	}
}

// SignOutHandler destroys the request's session, clears the session cookies
// and redirects to SignedOutPath. Signing out without a session succeeds.
func SignOutHandler(m *goRenew.Manager, opts Options) http.Handler {
	g := newGate(m, opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.m == nil {
			g.deny(w, r, goRenew.ErrManagerNotReady)
			return
		}
		bound, principalID := g.resolve(w, r)
		if principalID != "" {
			if err := bound.SignOut(r.Context(), principalID); err != nil {
				g.deny(w, r, err)
				return
			}
		}
		g.clearCookies(w)

		if wantsJSON(r) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Redirect(w, r, g.opts.SignedOutPath, http.StatusSeeOther)
	})
}

// trackingWriter records whether the response header went out.
type trackingWriter struct {
	http.ResponseWriter
	written atomic.Bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.written.Store(true)
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.written.Store(true)
	return w.ResponseWriter.Write(b)
}

// Written reports whether the header was sent.
func (w *trackingWriter) Written() bool { return w.written.Load() }

// Flush implements http.Flusher when the underlying writer does.
func (w *trackingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.written.Store(true)
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *trackingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

type gate struct {
	m    *goRenew.Manager
	opts Options
}

func newGate(m *goRenew.Manager, opts Options) *gate {
	return &gate{m: m, opts: opts.withDefaults()}
}

// resolve binds the request's store and finds its principal.
func (g *gate) resolve(w http.ResponseWriter, r *http.Request) (*goRenew.Manager, string) {
	bound := g.m
	principalID := ""
	if g.opts.Cookie != nil {
		store := session.NewCookieStore(g.opts.Cookie.Codec, g.opts.Cookie.Config, g.opts.Cookie.Lifetime, w, r)
		bound = g.m.Bind(store)
		principalID = store.Principal()
	}
	if g.opts.Principal != nil {
		if p, ok := g.opts.Principal(r); ok {
			principalID = p
		} else {
			principalID = ""
		}
	}
	return bound, principalID
}

func (g *gate) check(w http.ResponseWriter, r *http.Request) (*Auth, error) {
	if g.m == nil {
		return nil, goRenew.ErrManagerNotReady
	}
	bound, principalID := g.resolve(w, r)
	if principalID == "" {
		return nil, goRenew.ErrNoCredential
	}

	pair, renewed, err := bound.EnsureFreshWithResult(r.Context(), principalID)
	if err != nil {
		bound.Logger().V(1).Info("request gate denied", logkeys.Principal, principalID, "reason", err.Error())
		return nil, err
	}

	return &Auth{
		Manager:     bound,
		PrincipalID: principalID,
		Pair:        pair,
		Renewed:     renewed,
	}, nil
}

// denial is how a gate error is rendered.
type denial struct {
	status   int
	code     string
	redirect string
	retry    time.Duration
}

func (g *gate) classify(r *http.Request, err error) denial {
	switch {
	case goRenew.IsAuthenticationRequired(err):
		d := denial{status: http.StatusUnauthorized, code: "authentication_required"}
		if !wantsJSON(r) {
			d.status = http.StatusSeeOther
			d.redirect = g.opts.SignInPath
		}
		return d
	case goRenew.IsTransient(err):
		return denial{status: http.StatusServiceUnavailable, code: "renewal_unavailable", retry: g.opts.RetryAfter}
	case errors.Is(err, goRenew.ErrManagerNotReady), errors.Is(err, goRenew.ErrStoreRequired):
		return denial{status: http.StatusInternalServerError, code: "not_configured"}
	default:
		return denial{status: http.StatusInternalServerError, code: "internal_error"}
	}
}

func (g *gate) deny(w http.ResponseWriter, r *http.Request, err error) {
	d := g.classify(r, err)
	if d.status == http.StatusSeeOther || d.status == http.StatusUnauthorized {
		g.clearCookies(w)
	}
	if d.retry > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.retry/time.Second)))
	}
	if d.redirect != "" {
		http.Redirect(w, r, d.redirect, d.status)
		return
	}
	writeJSON(w, d.status, errorBody{Error: d.code})
}

func (g *gate) clearCookies(w http.ResponseWriter) {
	if g.opts.Cookie != nil {
		session.ClearCookies(w, g.opts.Cookie.Config)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
