// Package otel binds otpgate engine metrics to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter.
// Each latency histogram is exported as a cumulative
// otpgate_*_latency_seconds_bucket gauge with an "le" attribute per bound,
// plus a _count gauge. A single callback reads the engine snapshot each
// cycle.
//
// The package never owns the MeterProvider and never mutates engine state.
package otel
