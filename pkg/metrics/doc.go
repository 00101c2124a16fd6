/*
Package metrics exposes Prometheus metrics and health endpoints for the
conserver pipeline.

Metrics are package-level collectors registered at init and incremented
directly by the owning packages: cache hit/miss/pull-through counters,
per-stage and per-storage duration histograms, chain outcome counters,
queue depth gauges, and worker lifecycle counters.

Collector periodically samples queue and DLQ depths; the health checker
tracks per-component health for /healthz and /ready.
*/
package metrics
