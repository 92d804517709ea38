package scheduler

import (
	"errors"
)

// Common errors returned by the scheduler.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrAborted is returned when a task is cancelled cooperatively. It is
	// never retried and is distinct from a normal fetch failure.
	ErrAborted = errors.New("task aborted")

	// ErrStopped is returned when a task is scheduled after the dispatch
	// loop has shut down.
	ErrStopped = errors.New("scheduler stopped")
)
