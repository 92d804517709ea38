package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/Sternrassler/bulk-ingest/pkg/source"
	"github.com/google/uuid"
)

// InterruptReason tags why a Checkpoint was frozen. The tag is
// presentation-only: a paused and a stopped run resume identically.
type InterruptReason string

const (
	// ReasonPause means the operator requested a pause and expects to resume.
	ReasonPause InterruptReason = "pause"

	// ReasonStop means the operator requested a stop, or the run context
	// was cancelled mid-flight.
	ReasonStop InterruptReason = "stop"

	// ReasonFailure means an unexpected error ended the run; the
	// checkpoint preserves the progress made before it.
	ReasonFailure InterruptReason = "failure"
)

// PerformanceSnapshot carries the counters and timing history a resumed
// run needs to keep elapsed-time and throughput figures continuous.
type PerformanceSnapshot struct {
	StartTime  time.Time
	Processed  int
	Successful int
	Failed     int
	Skipped    int
	Duplicates int

	// RecentDurations is the bounded fetch-duration buffer at freeze
	// time, used to restore running averages.
	RecentDurations []time.Duration
}

// Checkpoint is an immutable snapshot of an interrupted run. It is the
// only way run state survives a pause: there is no durable persistence,
// a process restart loses it.
//
// A Checkpoint is consumed exactly once by Resume and discarded after.
type Checkpoint struct {
	// RunID identifies the run this checkpoint came from; the resumed
	// run keeps it.
	RunID uuid.UUID

	Reason   InterruptReason
	FrozenAt time.Time

	// ProcessedIDs are the ids consumed before the interrupt, in
	// consumption order. Never re-fetched by Resume.
	ProcessedIDs []string

	// RemainingIDs are the ids still to fetch, in original order.
	RemainingIDs []string

	// CollectedResults are the records fetched before the interrupt.
	CollectedResults []*source.Record

	Performance PerformanceSnapshot

	consumed atomic.Bool
}

// consume claims the checkpoint for a resume. Returns false if it was
// already consumed.
func (c *Checkpoint) consume() bool {
	return c.consumed.CompareAndSwap(false, true)
}

// release returns a claimed checkpoint after a resume that never started.
func (c *Checkpoint) release() {
	c.consumed.Store(false)
}

// Consumed reports whether a resume has already claimed this checkpoint.
func (c *Checkpoint) Consumed() bool {
	return c.consumed.Load()
}
