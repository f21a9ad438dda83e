// Package otel publishes chatauth engine metrics through an OpenTelemetry
// meter.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and
// one Int64ObservableGauge per latency bucket. A single callback reads the
// engine snapshot on each collection cycle, so the engine hot path never
// touches the OTel SDK.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
