package internaldefs

import (
	goRenew "github.com/MrEthical07/goRenew"
)

// CounterDef names one counter for exporters.
type CounterDef struct {
	ID   goRenew.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram for exporters.
type HistogramDef struct {
	ID   goRenew.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goRenew.MetricRenewalSuccess, Name: "gorenew_renewal_success_total", Help: "Renewal attempts that stored a new credential pair."},
	{ID: goRenew.MetricRenewalRejected, Name: "gorenew_renewal_rejected_total", Help: "Renewal attempts refused by the authority."},
	{ID: goRenew.MetricRenewalTransportFailed, Name: "gorenew_renewal_transport_failed_total", Help: "Renewal attempts that failed transiently."},
	{ID: goRenew.MetricRenewalShared, Name: "gorenew_renewal_shared_total", Help: "Callers that waited on another caller's renewal."},
	{ID: goRenew.MetricRenewalSkipped, Name: "gorenew_renewal_skipped_total", Help: "Callers served an already rotated pair without an authority call."},
	{ID: goRenew.MetricGatePassed, Name: "gorenew_gate_passed_total", Help: "Gate checks that needed no renewal."},
	{ID: goRenew.MetricGateRenewed, Name: "gorenew_gate_renewed_total", Help: "Gate checks that renewed ahead of expiry."},
	{ID: goRenew.MetricExecuteSuccess, Name: "gorenew_execute_success_total", Help: "Executes that succeeded on the first attempt."},
	{ID: goRenew.MetricExecuteRetrySuccess, Name: "gorenew_execute_retry_success_total", Help: "Executes that succeeded after renewal."},
	{ID: goRenew.MetricExecuteNoCredential, Name: "gorenew_execute_no_credential_total", Help: "Executes without a session."},
	{ID: goRenew.MetricExecuteSessionExpired, Name: "gorenew_execute_session_expired_total", Help: "Executes ended by a rejected renewal."},
	{ID: goRenew.MetricExecuteRenewalUnavailable, Name: "gorenew_execute_renewal_unavailable_total", Help: "Executes ended by a transient renewal failure."},
	{ID: goRenew.MetricExecuteRetryExhausted, Name: "gorenew_execute_retry_exhausted_total", Help: "Executes whose retry with a renewed token was refused."},
	{ID: goRenew.MetricSignIn, Name: "gorenew_sign_in_total", Help: "Created sessions."},
	{ID: goRenew.MetricSignOut, Name: "gorenew_sign_out_total", Help: "Sign-out calls."},
	{ID: goRenew.MetricSessionDestroyed, Name: "gorenew_session_destroyed_total", Help: "Sessions destroyed after a refused renewal or retry."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goRenew.MetricRenewalLatency, Name: "gorenew_renewal_latency_seconds", Help: "Leading renewal attempt latency."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "gorenew_audit_dropped_total"

// HistogramUpperBounds are the bucket upper bounds in seconds, without +Inf.
var HistogramUpperBounds = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5}

// HistogramBounds are the bucket labels including +Inf.
var HistogramBounds = []string{
	"0.01",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed array, zero filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
