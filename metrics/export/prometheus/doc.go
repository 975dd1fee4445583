// Package prometheus exposes goRenew metrics as a Prometheus collector.
//
// [PrometheusExporter] implements prometheus.Collector over
// [goRenew.Manager.MetricsSnapshot]. Register it with your own registry or
// mount [PrometheusExporter.Handler]. Counter names are prefixed gorenew_ and
// end in _total; the single histogram is gorenew_renewal_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate manager state.
package prometheus
