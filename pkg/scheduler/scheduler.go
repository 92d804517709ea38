// Package scheduler dispatches fetch tasks against a strict-rate-limited
// remote. A single dispatch loop gates on the circuit breaker, the
// concurrency cap, and the rate limiter, then pops the highest-priority
// task and runs it on its own goroutine. Failed tasks are re-enqueued
// with exponential backoff and jitter until their retry budget runs out.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/bulk-ingest/pkg/breaker"
	"github.com/Sternrassler/bulk-ingest/pkg/limiter"
	"github.com/Sternrassler/bulk-ingest/pkg/source"
	"github.com/rs/zerolog"
)

// breakerPollInterval is how often the dispatch loop rechecks an open
// circuit breaker.
const breakerPollInterval = 250 * time.Millisecond

// Config holds the scheduler configuration.
type Config struct {
	// MaxConcurrent caps in-flight fetches.
	MaxConcurrent int

	// RequestsPerSecond is the dispatch rate target.
	RequestsPerSecond float64

	// RetryAttempts is the default retry budget per task.
	RetryAttempts int

	// RetryBaseDelay is the backoff before the first retry.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay time.Duration

	// Breaker configures the circuit breaker.
	Breaker breaker.Config

	// SampleCap bounds the rolling response-time buffer. The buffer is
	// halved when it grows past the cap.
	SampleCap int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     6,
		RequestsPerSecond: 3,
		RetryAttempts:     3,
		RetryBaseDelay:    500 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
		Breaker:           breaker.DefaultConfig(),
		SampleCap:         1000,
	}
}

// Scheduler owns the task queue, rate limiter, and circuit breaker. It is
// an explicitly constructed value: independent runs build independent
// schedulers and share no global state.
type Scheduler struct {
	cfg    Config
	queue  *taskQueue
	lim    *limiter.Limiter
	brk    *breaker.Breaker
	perf   *perfState
	logger zerolog.Logger

	// notify wakes the dispatch loop when a task is pushed.
	notify chan struct{}

	// slots is the concurrency semaphore.
	slots chan struct{}

	started  atomic.Bool
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler.
func New(cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent must be positive (got %d)", cfg.MaxConcurrent)
	}
	if cfg.RetryAttempts < 0 {
		return nil, fmt.Errorf("retry attempts must not be negative (got %d)", cfg.RetryAttempts)
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SampleCap <= 0 {
		cfg.SampleCap = 1000
	}
	if cfg.Breaker == (breaker.Config{}) {
		cfg.Breaker = breaker.DefaultConfig()
	}

	lim, err := limiter.New(cfg.RequestsPerSecond, logger)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	brk, err := breaker.New(cfg.Breaker, logger)
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}

	return &Scheduler{
		cfg:      cfg,
		queue:    newTaskQueue(),
		lim:      lim,
		brk:      brk,
		perf:     newPerfState(cfg.SampleCap),
		logger:   logger,
		notify:   make(chan struct{}, 1),
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		loopDone: make(chan struct{}),
	}, nil
}

// Start launches the dispatch loop. The loop runs until ctx is
// cancelled; at that point all queued and in-flight tasks settle as
// aborted.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.loop(ctx)
}

// Schedule enqueues a task and returns the channel its result will be
// delivered on. The channel is buffered; the result can be consumed at
// any time. Tasks scheduled after shutdown settle immediately with
// ErrStopped.
func (s *Scheduler) Schedule(t *Task) <-chan Result {
	if t.MaxRetries < 0 {
		t.MaxRetries = s.cfg.RetryAttempts
	}

	if !s.queue.push(t) {
		t.settle(Result{ID: t.ID, Attempts: t.retries, Err: ErrStopped})
		return t.result
	}

	ingestQueueDepth.Set(float64(s.queue.len()))
	s.wake()
	return t.result
}

// Metrics returns a snapshot of the scheduler's performance counters.
func (s *Scheduler) Metrics() Metrics {
	return s.perf.snapshot(s.brk.Open())
}

// RecentDurations returns a copy of the bounded response-time buffer, for
// checkpoint fidelity.
func (s *Scheduler) RecentDurations() []time.Duration {
	return s.perf.recentSamples()
}

// SeedDurations restores response-time history from a checkpoint so the
// rolling average stays continuous across a pause/resume cycle.
func (s *Scheduler) SeedDurations(samples []time.Duration) {
	s.perf.seed(samples)
}

// Drain blocks until the dispatch loop has exited and all in-flight work
// has settled. Call after cancelling the Start context.
func (s *Scheduler) Drain() {
	if !s.started.Load() {
		return
	}
	<-s.loopDone
	s.wg.Wait()
}

// wake nudges the dispatch loop without blocking.
func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// loop is the single dispatch loop. Gate order: circuit breaker, then a
// free concurrency slot, then the rate limiter, then pop-and-dispatch.
// Every wait is cancellable.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)
	defer s.shutdown()

	for {
		if ctx.Err() != nil {
			return
		}

		if s.queue.len() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
			}
			continue
		}

		if s.brk.Open() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(breakerPollInterval):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case s.slots <- struct{}{}:
		}

		if err := s.lim.Wait(ctx); err != nil {
			<-s.slots
			return
		}

		task := s.queue.pop()
		ingestQueueDepth.Set(float64(s.queue.len()))
		if task == nil {
			// Lost a race with another pop; slot goes back.
			<-s.slots
			continue
		}

		s.wg.Add(1)
		go s.execute(ctx, task)
	}
}

// shutdown settles everything still queued as aborted.
func (s *Scheduler) shutdown() {
	for _, t := range s.queue.close() {
		ingestRequestsTotal.WithLabelValues("aborted").Inc()
		t.settle(Result{ID: t.ID, Attempts: t.retries, Err: ErrAborted})
	}
	ingestQueueDepth.Set(0)
}

// execute runs one fetch attempt and settles or re-enqueues the task.
func (s *Scheduler) execute(ctx context.Context, t *Task) {
	defer s.wg.Done()
	defer func() { <-s.slots }()

	s.perf.startRequest()
	start := time.Now()
	rec, err := t.Fn(ctx)
	duration := time.Since(start)
	s.perf.endRequest()

	ingestRequestDuration.Observe(duration.Seconds())
	attempts := t.retries + 1

	if err == nil {
		s.brk.RecordSuccess()
		s.perf.recordSuccess(duration)

		outcome := "success"
		if rec == nil {
			outcome = "no_data"
		}
		ingestRequestsTotal.WithLabelValues(outcome).Inc()

		if t.retries > 0 {
			s.logger.Info().
				Str("id", t.ID).
				Int("attempt", attempts).
				Msg("Fetch succeeded after retry")
		}

		t.settle(Result{ID: t.ID, Record: rec, Attempts: attempts, Duration: duration})
		return
	}

	// Cooperative aborts short-circuit retries and never feed the breaker:
	// an operator stop is not a remote failure.
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		ingestRequestsTotal.WithLabelValues("aborted").Inc()
		t.settle(Result{ID: t.ID, Attempts: attempts, Duration: duration,
			Err: fmt.Errorf("%w: %v", ErrAborted, err)})
		return
	}

	s.brk.RecordFailure()
	class := source.Classify(err)

	if class.Retryable() && t.retries < t.MaxRetries {
		t.retries++
		delay := s.backoff(t.retries)

		ingestRequestsTotal.WithLabelValues("retry").Inc()
		ingestRetriesTotal.WithLabelValues(string(class)).Inc()
		ingestRetryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		s.logger.Debug().
			Str("id", t.ID).
			Str("error_class", string(class)).
			Int("retry", t.retries).
			Dur("backoff", delay).
			Msg("Retrying fetch after backoff")

		s.wg.Add(1)
		go s.requeueAfter(ctx, t, delay)
		return
	}

	s.perf.recordFailure(duration)
	ingestRequestsTotal.WithLabelValues("failure").Inc()

	if class.Retryable() {
		// Retry budget spent on a retryable error.
		ingestRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
		s.logger.Warn().
			Str("id", t.ID).
			Str("error_class", string(class)).
			Int("attempts", attempts).
			Msg("Retry attempts exhausted")
		err = fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempts, err)
	}

	t.settle(Result{ID: t.ID, Attempts: attempts, Duration: duration, Err: err})
}

// requeueAfter waits out the backoff delay, then puts the task back in
// the queue with its priority preserved.
func (s *Scheduler) requeueAfter(ctx context.Context, t *Task, delay time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		ingestRequestsTotal.WithLabelValues("aborted").Inc()
		t.settle(Result{ID: t.ID, Attempts: t.retries, Err: ErrAborted})
	case <-timer.C:
		if !s.queue.push(t) {
			t.settle(Result{ID: t.ID, Attempts: t.retries, Err: ErrAborted})
			return
		}
		ingestQueueDepth.Set(float64(s.queue.len()))
		s.wake()
	}
}

// backoff computes the delay before the nth retry (1-based):
// base * 2^(n-1), scaled by uniform jitter in [0.5, 1.0], capped at the
// configured maximum.
func (s *Scheduler) backoff(retry int) time.Duration {
	delay := float64(s.cfg.RetryBaseDelay)
	for i := 1; i < retry; i++ {
		delay *= 2
	}

	jitter := 0.5 + rand.Float64()*0.5
	delay *= jitter

	if capped := float64(s.cfg.RetryMaxDelay); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}
