package goRenew

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goRenew/expiry"
	"github.com/MrEthical07/goRenew/session"
)

// Config holds every tunable of a [Manager].
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Renewal        RenewalConfig   `yaml:"renewal"`
	Executor       ExecutorConfig  `yaml:"executor"`
	Session        SessionConfig   `yaml:"session"`
	Cookie         CookieConfig    `yaml:"cookie"`
	Authority      AuthorityConfig `yaml:"authority"`
	Audit          AuditConfig     `yaml:"audit"`
	Metrics        MetricsConfig   `yaml:"metrics"`
	ProductionMode bool            `yaml:"production_mode"`
}

/*
====================================
RENEWAL CONFIG
====================================
*/

// RenewalConfig controls when and how long renewals run.
type RenewalConfig struct {
	// Threshold is the remaining access lifetime at or below which the gate
	// renews ahead of expiry.
	Threshold time.Duration `yaml:"threshold"`
	// Timeout bounds one renewal attempt including session writes.
	Timeout time.Duration `yaml:"timeout"`
	// Leeway is subtracted from every estimated remaining lifetime to absorb
	// clock skew with the authority.
	Leeway time.Duration `yaml:"leeway"`
	// RotationGrace is how long a consumed refresh token still resolves to
	// its successor pair, for requests that carried the old cookie. Zero
	// disables it.
	RotationGrace time.Duration `yaml:"rotation_grace"`
}

// ExecutorConfig controls [Execute].
type ExecutorConfig struct {
	// PreemptiveRenewal runs the gate before the first attempt.
	PreemptiveRenewal bool `yaml:"preemptive_renewal"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side session storage and sealing.
type SessionConfig struct {
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
	// RefreshTTL bounds how long a stored session lives.
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// Secret seals session blobs. PreviousSecrets still open blobs sealed
	// before a rotation.
	Secret          string   `yaml:"secret"`
	PreviousSecrets []string `yaml:"previous_secrets"`
}

// CookieConfig controls the client-context session cookie.
type CookieConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Domain   string `yaml:"domain"`
	SameSite string `yaml:"same_site"` // "lax" (default), "strict", "none"
	// Secure is forced on in ProductionMode.
	Secure bool `yaml:"secure"`
}

// AuthorityConfig locates the remote renewal endpoint.
type AuthorityConfig struct {
	BaseURL string `yaml:"base_url"`
	Path    string `yaml:"path"`
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// DefaultConfig returns the configuration every [Builder] starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Renewal: RenewalConfig{
			Threshold:     300 * time.Second,
			Timeout:       10 * time.Second,
			RotationGrace: 30 * time.Second,
		},
		Executor: ExecutorConfig{
			PreemptiveRenewal: true,
		},
		Session: SessionConfig{
			RedisPrefix: "cr",
			RefreshTTL:  7 * 24 * time.Hour,
		},
		Cookie: CookieConfig{
			Name:     "__session",
			Path:     "/",
			SameSite: "lax",
		},
		Authority: AuthorityConfig{
			Path: "/auth/refresh",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Session.PreviousSecrets != nil {
		out.Session.PreviousSecrets = append([]string(nil), cfg.Session.PreviousSecrets...)
	}
	return out
}

// Validate checks the configuration for values the Manager cannot run with.
func (c *Config) Validate() error {
	// Renewal
	if c.Renewal.Threshold < 0 {
		return errors.New("Renewal Threshold must be >= 0")
	}
	if c.Renewal.Timeout <= 0 {
		return errors.New("Renewal Timeout must be > 0")
	}
	if c.Renewal.Leeway < 0 || c.Renewal.Leeway > 2*time.Minute {
		return errors.New("Renewal Leeway must be within [0, 2m]")
	}
	if c.Renewal.RotationGrace < 0 || c.Renewal.RotationGrace > 5*time.Minute {
		return errors.New("Renewal RotationGrace must be within [0, 5m]")
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if strings.Contains(c.Session.RedisPrefix, ":") {
		return errors.New("Session RedisPrefix must not contain ':'")
	}
	if c.Session.Secret != "" && len(c.Session.Secret) < session.MinSecretLen {
		return fmt.Errorf("Session Secret must be at least %d bytes", session.MinSecretLen)
	}
	for i, s := range c.Session.PreviousSecrets {
		if len(s) < session.MinSecretLen {
			return fmt.Errorf("Session PreviousSecrets[%d] must be at least %d bytes", i, session.MinSecretLen)
		}
	}
	if c.ProductionMode && c.Session.Secret == "" {
		return errors.New("ProductionMode requires Session Secret")
	}

	// Cookie
	if c.Cookie.Name == "" {
		return errors.New("Cookie Name must not be empty")
	}
	if _, err := parseSameSite(c.Cookie.SameSite); err != nil {
		return err
	}
	if strings.EqualFold(c.Cookie.SameSite, "none") && !c.Cookie.Secure && !c.ProductionMode {
		return errors.New("Cookie SameSite=none requires Secure")
	}

	// Authority
	if c.Authority.BaseURL != "" {
		u, err := url.Parse(c.Authority.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Authority BaseURL must be an absolute URL")
		}
		if c.ProductionMode && u.Scheme != "https" {
			return errors.New("ProductionMode requires an https Authority BaseURL")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("unsupported Cookie SameSite %q", v)
	}
}

// SessionCookieConfig converts the cookie settings for [session.NewCookieStore].
func (c *Config) SessionCookieConfig() session.CookieConfig {
	sameSite, err := parseSameSite(c.Cookie.SameSite)
	if err != nil {
		sameSite = http.SameSiteLaxMode
	}
	return session.CookieConfig{
		Name:     c.Cookie.Name,
		Path:     c.Cookie.Path,
		Domain:   c.Cookie.Domain,
		Secure:   c.Cookie.Secure || c.ProductionMode,
		SameSite: sameSite,
	}
}

// Sealer builds the session sealer from Secret and PreviousSecrets.
func (c *Config) Sealer() (*session.Sealer, error) {
	if c.Session.Secret == "" {
		return nil, errors.New("Session Secret is not configured")
	}
	secrets := make([][]byte, 0, 1+len(c.Session.PreviousSecrets))
	secrets = append(secrets, []byte(c.Session.Secret))
	for _, s := range c.Session.PreviousSecrets {
		secrets = append(secrets, []byte(s))
	}
	return session.NewSealer(secrets...)
}

// SessionLifetime bounds how long stores keep a session: until the refresh
// credential's own exp when it is a JWT, never longer than Session.RefreshTTL.
func (c *Config) SessionLifetime() session.LifetimeFunc {
	return session.BoundedLifetime(c.Session.RefreshTTL, expiry.NewEstimator().ExpiresAt, time.Now)
}
