// Package prometheus exposes otpgate engine metrics through client_golang.
//
// [PrometheusExporter] implements prometheus.Collector. Register it with
// any Registerer, or mount [PrometheusExporter.Handler] for a standalone
// endpoint. Counters are named otpgate_*_total; the verify and validate
// latency histograms are otpgate_*_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry on its own.
//   - Mutate engine state.
package prometheus
