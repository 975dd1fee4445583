package goRenew

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricRenewalSuccess counts attempts that stored a new pair.
	MetricRenewalSuccess MetricID = iota
	// MetricRenewalRejected counts attempts the authority refused.
	MetricRenewalRejected
	// MetricRenewalTransportFailed counts attempts that failed transiently.
	MetricRenewalTransportFailed
	// MetricRenewalShared counts callers that waited on another caller's attempt.
	MetricRenewalShared
	// MetricRenewalSkipped counts callers served an already rotated pair.
	MetricRenewalSkipped
	// MetricGatePassed counts gate checks that needed no renewal.
	MetricGatePassed
	// MetricGateRenewed counts gate checks that renewed ahead of expiry.
	MetricGateRenewed
	// MetricExecuteSuccess counts executes that succeeded on the first attempt.
	MetricExecuteSuccess
	// MetricExecuteRetrySuccess counts executes that succeeded after renewal.
	MetricExecuteRetrySuccess
	// MetricExecuteNoCredential counts executes without a session.
	MetricExecuteNoCredential
	// MetricExecuteSessionExpired counts executes ended by a rejected renewal.
	MetricExecuteSessionExpired
	// MetricExecuteRenewalUnavailable counts executes ended by transient renewal failure.
	MetricExecuteRenewalUnavailable
	// MetricExecuteRetryExhausted counts executes whose retry was refused.
	MetricExecuteRetryExhausted
	// MetricSignIn counts created sessions.
	MetricSignIn
	// MetricSignOut counts sign-out calls.
	MetricSignOut
	// MetricSessionDestroyed counts sessions destroyed by renewal or retry failure.
	MetricSessionDestroyed
	// MetricRenewalLatency is the histogram of leading renewal attempt latency.
	MetricRenewalLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. The write path never
// allocates. A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of [Metrics].
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters record.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether histograms record.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram id. Only histogram IDs record.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricRenewalLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricRenewalLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRenewalLatency].buckets[i])
		}
		s.Histograms[MetricRenewalLatency] = buckets
	}

	return s
}

// bucketIndex maps d onto upper bounds 10ms, 50ms, 100ms, 250ms, 500ms, 1s, 5s, +Inf.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 10:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 5000:
		return 6
	default:
		return 7
	}
}
