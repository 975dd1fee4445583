// Package otel publishes goRenew counters and the renewal latency histogram
// through OpenTelemetry observable instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter. Each
// histogram becomes a cumulative "_bucket" gauge with one data point per
// upper bound (attribute [BoundKey]) and a "_count" gauge. A single callback
// reads [goRenew.Manager.MetricsSnapshot] on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate manager state.
package otel
