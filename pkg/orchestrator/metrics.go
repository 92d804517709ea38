package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for run orchestration.
var (
	ingestBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_batches_total",
		Help: "Total number of batches dispatched",
	})

	ingestItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_items_total",
		Help: "Total work items consumed by outcome",
	}, []string{"outcome"}) // "success", "failure", "skipped", "duplicate"

	ingestCheckpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_checkpoints_total",
		Help: "Total checkpoints frozen by reason",
	}, []string{"reason"}) // "pause", "stop", "failure"

	ingestRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_runs_total",
		Help: "Total runs finished by final state",
	}, []string{"state"}) // "completed", "failed", "paused", "stopped"
)
