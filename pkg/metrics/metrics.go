// Package metrics provides the centralized Prometheus registry reference
// for the ingestion pipeline. All metrics are defined in their owning
// packages (scheduler, orchestrator, limiter, cache) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the pipeline.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Pacing Metrics (pkg/limiter):
//   - ingest_rate_limit_waits_total (Counter): Dispatches delayed by the pacer
//   - ingest_rate_limit_wait_seconds (Histogram): Pacing delay durations
//   - ingest_rate_limit_target_rps (Gauge): Configured dispatch rate target
//
// Cache Metrics (pkg/cache):
//   - ingest_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - ingest_cache_misses_total (Counter): Cache misses
//   - ingest_cache_size_bytes{layer="redis"} (Gauge): Current cache size in bytes
//   - ingest_cache_errors_total{operation} (Counter): Cache operation errors
//
// Circuit Breaker Metrics (pkg/breaker):
//   - ingest_circuit_state (Gauge): 0 = closed, 1 = open
//   - ingest_circuit_opens_total (Counter): Open transitions
//   - ingest_circuit_failure_rate (Gauge): Failure rate over the trailing window
//
// Request Metrics (pkg/scheduler):
//   - ingest_requests_total{outcome} (Counter): Fetches by outcome
//     (success, no_data, failure, retry, aborted)
//   - ingest_request_duration_seconds (Histogram): Fetch duration
//   - ingest_active_requests (Gauge): In-flight fetches
//   - ingest_queue_depth (Gauge): Tasks waiting for dispatch
//
// Retry Metrics (pkg/scheduler):
//   - ingest_retries_total{error_class} (Counter): Retry attempts by error class
//   - ingest_retry_backoff_seconds{error_class} (Histogram): Backoff delay durations
//   - ingest_retry_exhausted_total{error_class} (Counter): Items that exhausted max retries
//
// Run Metrics (pkg/orchestrator):
//   - ingest_batches_total (Counter): Batches dispatched
//   - ingest_items_total{outcome} (Counter): Work items consumed
//     (success, failure, skipped, duplicate)
//   - ingest_checkpoints_total{reason} (Counter): Checkpoints frozen
//     (pause, stop, failure)
//   - ingest_runs_total{state} (Counter): Runs finished by final state
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(ingest_cache_hits_total[5m])) /
//   (sum(rate(ingest_cache_hits_total[5m])) + sum(rate(ingest_cache_misses_total[5m])))
//
//   # Fetch Failure Rate
//   rate(ingest_requests_total{outcome="failure"}[5m]) /
//   rate(ingest_requests_total[5m])
//
//   # P95 Fetch Latency
//   histogram_quantile(0.95, rate(ingest_request_duration_seconds_bucket[5m]))
//
//   # Retry Pressure by Error Class
//   rate(ingest_retries_total[5m])
//
//   # Queue Backlog
//   ingest_queue_depth
