// Package metrics instruments the scheduler and the emitted program's
// render path: pending async closures, write-counter resolutions,
// sequence-lock wait latency, and render duration. Metrics itself is a
// dependency-free, mutex-guarded accumulator (grounded on
// eventloop/metrics.go's Metrics/LatencyMetrics); prometheus.go is an
// optional adapter exposing the same numbers as a prometheus.Collector
// (grounded on oriys-nova/internal/metrics/prometheus.go), so a
// production deployment can scrape them without the core depending on
// Prometheus for anything but that one adapter.
package metrics
