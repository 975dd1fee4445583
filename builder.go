package goRenew

import (
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/MrEthical07/goRenew/authority"
	"github.com/MrEthical07/goRenew/expiry"
	"github.com/MrEthical07/goRenew/internal/audit"
	"github.com/MrEthical07/goRenew/refresh"
	"github.com/MrEthical07/goRenew/session"
)

// Builder assembles a [Manager].
//
// Builder instances are intended to be configured during initialization and then discarded after Build.
type Builder struct {
	config Config

	store      session.Store
	renewer    authority.Renewer
	httpClient *http.Client
	logger     *logr.Logger
	auditSink  AuditSink
	clock      func() time.Time

	built bool
}

// New returns a Builder starting from [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the server-context session store. Without one, the Manager
// only works through [Manager.Bind].
func (b *Builder) WithStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithRenewer sets the renewal authority. Without one, Build creates an
// [authority.Client] from Config.Authority.
func (b *Builder) WithRenewer(r authority.Renewer) *Builder {
	b.renewer = r
	return b
}

// WithHTTPClient sets the client used by [Manager.Do] and by the default
// authority client.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithLogger sets the structured logger. The default writes through the
// standard library logger with a "goRenew: " prefix.
func (b *Builder) WithLogger(l logr.Logger) *Builder {
	b.logger = &l
	return b
}

// WithAuditSink sets the audit sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithClock overrides the clock used for expiry estimation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the renewal latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Manager. A Builder can
// be built once.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	renewer := b.renewer
	if renewer == nil {
		if cfg.Authority.BaseURL == "" {
			return nil, ErrRenewerRequired
		}
		renewer = authority.NewClient(
			cfg.Authority.BaseURL,
			authority.WithPath(cfg.Authority.Path),
			authority.WithHTTPClient(httpClient),
		)
	}

	log := defaultLogger()
	if b.logger != nil {
		log = *b.logger
	}

	estimatorOpts := []expiry.Option{expiry.WithLeeway(cfg.Renewal.Leeway)}
	if b.clock != nil {
		estimatorOpts = append(estimatorOpts, expiry.WithClock(b.clock))
	}

	groupOpts := []refresh.GroupOption{refresh.WithRotationGrace(cfg.Renewal.RotationGrace)}
	if b.clock != nil {
		groupOpts = append(groupOpts, refresh.WithGroupClock(b.clock))
	}

	c := &core{
		config:     cfg,
		estimator:  expiry.NewEstimator(estimatorOpts...),
		renewer:    renewer,
		httpClient: httpClient,
		metrics:    NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		renewals: refresh.NewGroup(groupOpts...),
		log:      log,
	}

	b.built = true

	m := &Manager{core: c}
	if b.store != nil {
		m = m.Bind(b.store)
	}
	return m, nil
}
