package orchestrator

import (
	"time"
)

// RunState represents the lifecycle state of an ingestion run. Transitions:
//
//	Idle → Running → {Pausing → Paused, Stopping → Stopped, Completed, Failed}
//	Paused → Running (via Resume)
//
// Paused and Stopped both carry a Checkpoint; Completed and Failed are
// terminal. Reset returns any state to Idle.
type RunState string

const (
	// StateIdle means no run has started or Reset cleared everything.
	StateIdle RunState = "idle"

	// StateRunning means batches are being dispatched.
	StateRunning RunState = "running"

	// StatePausing means a pause was requested and the in-flight batch is
	// finishing.
	StatePausing RunState = "pausing"

	// StateStopping means a stop was requested and the in-flight batch is
	// finishing.
	StateStopping RunState = "stopping"

	// StatePaused means the run froze a Checkpoint and expects a Resume.
	StatePaused RunState = "paused"

	// StateStopped means the run froze a Checkpoint after an explicit stop
	// or an abort. Structurally identical to StatePaused; the distinction
	// is operator intent only.
	StateStopped RunState = "stopped"

	// StateCompleted means every id was consumed. Terminal.
	StateCompleted RunState = "completed"

	// StateFailed means an unexpected error ended the run. Terminal.
	StateFailed RunState = "failed"
)

// Terminal reports whether the state can only be left via Reset.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Interrupted reports whether the state carries a resumable Checkpoint.
func (s RunState) Interrupted() bool {
	return s == StatePaused || s == StateStopped
}

// Active reports whether a run currently owns the orchestrator.
func (s RunState) Active() bool {
	return s == StateRunning || s == StatePausing || s == StateStopping
}

// ItemError records one work item's final failure.
type ItemError struct {
	ID       string `json:"id"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// ProcessingState is the run-wide progress snapshot published to
// observers. Only the orchestrator mutates the underlying counters;
// callbacks receive value copies and can keep them.
//
// Counter identity: Processed = Successful + Failed + Skipped + Duplicates,
// and Processed + Remaining() = TotalItems at every published snapshot,
// including across a pause/resume cycle.
type ProcessingState struct {
	RunID string
	State RunState

	TotalItems int
	Processed  int
	Successful int
	Failed     int

	// Skipped counts ids the remote had no data for (not errors).
	Skipped int

	// Duplicates counts ids filtered without a fetch.
	Duplicates int

	CurrentBatch int
	TotalBatches int

	StartTime time.Time

	// AvgItemDuration is the running average fetch duration.
	AvgItemDuration time.Duration

	// Errors is a bounded list of the most recent item failures.
	Errors []ItemError
}

// Remaining returns the number of ids not yet consumed.
func (s ProcessingState) Remaining() int {
	return s.TotalItems - s.Processed
}

// Elapsed returns the time since the run started, continuous across
// pause/resume.
func (s ProcessingState) Elapsed() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	return time.Since(s.StartTime)
}

// Throughput returns processed items per second over the run's lifetime.
func (s ProcessingState) Throughput() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Processed) / elapsed
}

// clone returns a deep copy safe to hand to callbacks.
func (s ProcessingState) clone() ProcessingState {
	out := s
	out.Errors = append([]ItemError(nil), s.Errors...)
	return out
}
