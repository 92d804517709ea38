package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/bulk-ingest/pkg/source"
)

// Priority orders tasks within the queue. Higher values dispatch first;
// tasks of equal priority dispatch FIFO.
type Priority int

const (
	// PriorityLow is for background backfill work.
	PriorityLow Priority = iota

	// PriorityNormal is the default for bulk ingestion tasks.
	PriorityNormal

	// PriorityHigh is for operator-initiated single fetches.
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// TaskFunc performs the actual fetch for one task.
type TaskFunc func(ctx context.Context) (*source.Record, error)

// Result is the settled outcome of a task: exactly one of Record or Err
// is meaningful, except for no-data outcomes where both are nil.
type Result struct {
	ID     string
	Record *source.Record

	// Attempts counts fetch attempts actually dispatched. A task aborted
	// while waiting out a backoff reports only the attempts that ran.
	Attempts int
	Duration time.Duration
	Err      error
}

// Task is the scheduler-level unit wrapping one work item's fetch call.
// Once scheduled it is owned exclusively by the scheduler; callers only
// read the result channel.
type Task struct {
	// ID is the work item identifier, for logging and result correlation.
	ID string

	// Priority determines dispatch order.
	Priority Priority

	// MaxRetries is the number of re-dispatches allowed after the first
	// attempt fails with a retryable error.
	MaxRetries int

	// CreatedAt is when the task was built.
	CreatedAt time.Time

	// Fn performs the fetch.
	Fn TaskFunc

	retries int
	seq     uint64

	settleOnce sync.Once
	result     chan Result
}

// NewTask creates a task ready for scheduling.
func NewTask(id string, priority Priority, maxRetries int, fn TaskFunc) *Task {
	return &Task{
		ID:         id,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
		Fn:         fn,
		result:     make(chan Result, 1),
	}
}

// settle resolves the task exactly once. Later calls are ignored, which
// keeps the abort and completion paths from racing.
func (t *Task) settle(res Result) {
	t.settleOnce.Do(func() {
		t.result <- res
	})
}
