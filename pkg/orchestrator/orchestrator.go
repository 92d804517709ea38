// Package orchestrator drives a bulk ingestion run: it splits the id list
// into batches, feeds each batch to the request scheduler as one
// concurrency wave, filters duplicates before they cost a fetch, owns the
// run lifecycle, and freezes an in-memory Checkpoint whenever the run is
// interrupted so it can resume without redoing completed work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/bulk-ingest/pkg/scheduler"
	"github.com/Sternrassler/bulk-ingest/pkg/source"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Common errors returned by the orchestrator.
var (
	// ErrRunActive is returned when Run or Resume is called while a run
	// already owns the orchestrator.
	ErrRunActive = errors.New("a run is already active")

	// ErrNoCheckpoint is returned by Resume without a checkpoint.
	ErrNoCheckpoint = errors.New("no checkpoint to resume from")

	// ErrCheckpointConsumed is returned when a checkpoint is resumed twice.
	ErrCheckpointConsumed = errors.New("checkpoint already consumed")

	// ErrAborted is returned when the run context was cancelled. A
	// checkpoint of the work completed before the abort is still frozen.
	ErrAborted = errors.New("run aborted")
)

// durationSampleCap bounds the fetch-duration history kept for checkpoint
// fidelity. The buffer is halved when it grows past the cap.
const durationSampleCap = 1000

// Interrupt flag values, checked at batch boundaries.
const (
	interruptNone int32 = iota
	interruptPause
	interruptStop
)

// Config holds the orchestrator configuration.
type Config struct {
	// BatchSize is how many ids form one concurrency wave.
	BatchSize int

	// DelayBetweenBatches is the pause between consecutive batches.
	DelayBetweenBatches time.Duration

	// MaxRecentErrors bounds the error list carried in progress snapshots.
	MaxRecentErrors int

	// Scheduler configures the per-run request scheduler.
	Scheduler scheduler.Config
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:           8,
		DelayBetweenBatches: 250 * time.Millisecond,
		MaxRecentErrors:     25,
		Scheduler:           scheduler.DefaultConfig(),
	}
}

// Callbacks are purely observational hooks. They are invoked
// synchronously with immutable snapshots and must not block; delivery is
// best-effort in emission order.
type Callbacks struct {
	// OnProgress receives a fresh ProcessingState after every consumed
	// item and once more when the run finishes.
	OnProgress func(ProcessingState)

	// OnItemProcessed receives each fetched record, or an already-known
	// record with duplicate=true when an id was filtered without a fetch.
	OnItemProcessed func(rec *source.Record, duplicate bool)

	// OnLog mirrors run-level log events to the caller.
	OnLog func(level zerolog.Level, message string, data map[string]any)
}

// Orchestrator is the sole owner of a run's lifecycle state. It is an
// explicitly constructed value so independent runs (and tests) share
// nothing.
type Orchestrator struct {
	cfg    Config
	src    source.Source
	logger zerolog.Logger
	cbs    Callbacks

	mu           sync.Mutex
	gen          uint64
	state        RunState
	runID        uuid.UUID
	proc         ProcessingState
	seen         map[string]*source.Record
	processedIDs []string
	results      []*source.Record
	durations    []time.Duration
	avg          time.Duration
	avgN         int
	checkpoint   *Checkpoint
	cancelRun    context.CancelFunc

	interrupt atomic.Int32
}

// New creates an orchestrator around the given record source.
func New(src source.Source, cfg Config, logger zerolog.Logger, cbs Callbacks) (*Orchestrator, error) {
	if src == nil {
		return nil, fmt.Errorf("record source is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.MaxRecentErrors <= 0 {
		cfg.MaxRecentErrors = 25
	}

	return &Orchestrator{
		cfg:    cfg,
		src:    src,
		logger: logger,
		cbs:    cbs,
		state:  StateIdle,
		seen:   make(map[string]*source.Record),
		proc:   ProcessingState{State: StateIdle},
	}, nil
}

// State returns the current run lifecycle state.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Progress returns an immutable snapshot of the run's counters.
func (o *Orchestrator) Progress() ProcessingState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.proc.clone()
}

// Checkpoint returns the checkpoint frozen by the last interrupt, or nil.
func (o *Orchestrator) Checkpoint() *Checkpoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.checkpoint
}

// Pause requests a graceful interrupt: the in-flight batch finishes, a
// Checkpoint is frozen, and the run returns its partial results. A paused
// run is expected to be resumed.
func (o *Orchestrator) Pause() error {
	return o.requestInterrupt(interruptPause, StatePausing)
}

// Stop requests a graceful interrupt like Pause. The resulting Checkpoint
// is structurally identical; only the reason tag differs.
func (o *Orchestrator) Stop() error {
	return o.requestInterrupt(interruptStop, StateStopping)
}

func (o *Orchestrator) requestInterrupt(flag int32, transition RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.state.Active() {
		return fmt.Errorf("cannot interrupt: run state is %s", o.state)
	}

	o.state = transition
	o.proc.State = transition
	o.interrupt.Store(flag)

	o.logger.Info().
		Str("run_id", o.proc.RunID).
		Str("state", string(transition)).
		Msg("Run interrupt requested")

	return nil
}

// Reset discards all state unconditionally. An active run is cancelled
// and orphaned: it returns ErrAborted without touching the cleared state.
// Reset is the only way out of Completed/Failed besides a new run.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	cancel := o.cancelRun

	o.gen++
	o.state = StateIdle
	o.proc = ProcessingState{State: StateIdle}
	o.runID = uuid.UUID{}
	o.seen = make(map[string]*source.Record)
	o.processedIDs = nil
	o.results = nil
	o.durations = nil
	o.avg = 0
	o.avgN = 0
	o.checkpoint = nil
	o.cancelRun = nil
	o.interrupt.Store(interruptNone)
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	o.logger.Info().Msg("Orchestrator reset")
}

// Run ingests ids: one fetched record per id, batched, rate-limited, and
// resumable. existing is the caller's already-collected result set; ids
// found there are reported as duplicates instead of fetched.
//
// Returns the records collected by this run. On pause/stop the partial
// results are returned with a nil error and Checkpoint() carries the
// resume state; a cancelled context returns ErrAborted, also after
// freezing a checkpoint.
func (o *Orchestrator) Run(ctx context.Context, ids []string, credential string, existing []*source.Record) ([]*source.Record, error) {
	return o.run(ctx, ids, credential, existing, nil)
}

// Resume continues an interrupted run from its checkpoint. Counters,
// start time, and the fetch-duration history are re-seeded from the
// checkpoint so elapsed-time and throughput figures stay continuous, and
// already-processed ids are never fetched again.
//
// A checkpoint is consumed exactly once; a second Resume with the same
// checkpoint returns ErrCheckpointConsumed.
func (o *Orchestrator) Resume(ctx context.Context, cp *Checkpoint, credential string) ([]*source.Record, error) {
	if cp == nil {
		return nil, ErrNoCheckpoint
	}
	if !cp.consume() {
		return nil, ErrCheckpointConsumed
	}
	return o.run(ctx, cp.RemainingIDs, credential, nil, cp)
}

func (o *Orchestrator) run(ctx context.Context, ids []string, credential string, existing []*source.Record, seed *Checkpoint) (res []*source.Record, err error) {
	runCtx, cancel := context.WithCancel(ctx)

	g, err := o.begin(ids, existing, seed, cancel)
	if err != nil {
		// The run never started, so the checkpoint must stay resumable.
		if seed != nil {
			seed.release()
		}
		cancel()
		return nil, err
	}

	sched, err := scheduler.New(o.cfg.Scheduler, o.logger.With().Str("component", "scheduler").Logger())
	if err != nil {
		o.finish(g, StateFailed)
		cancel()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	sched.Start(runCtx)
	defer func() {
		cancel()
		sched.Drain()
	}()

	if seed != nil {
		sched.SeedDurations(seed.Performance.RecentDurations)
	}

	n := len(ids)
	consumed := make([]bool, n)

	// An unexpected panic from a callback or the dispatch path must not
	// lose progress: freeze a checkpoint first, then surface the failure.
	defer func() {
		if r := recover(); r != nil {
			o.freeze(g, ReasonFailure, remaining(ids, consumed))
			o.finish(g, StateFailed)
			res = o.collected(g)
			err = fmt.Errorf("run failed: %v", r)
		}
	}()

	o.emitLog(zerolog.InfoLevel, "Run started", map[string]any{
		"total_items": n,
		"batch_size":  o.cfg.BatchSize,
		"resumed":     seed != nil,
	})

	bs := o.cfg.BatchSize
	for start := 0; start < n; start += bs {
		end := start + bs
		if end > n {
			end = n
		}

		// Interrupt checks are skipped for the very first batch of a
		// fresh start or resume: a pending pause cannot cancel work that
		// has not begun.
		if start > 0 {
			if flag := o.interrupt.Load(); flag != interruptNone {
				return o.interrupted(g, flag, remaining(ids, consumed))
			}
		}

		o.beginBatch(g, start/bs+1)

		aborted := o.dispatchBatch(g, sched, ids, consumed, start, end, credential)

		if aborted || runCtx.Err() != nil {
			o.freeze(g, ReasonStop, remaining(ids, consumed))
			o.finish(g, StateStopped)
			return o.collected(g), ErrAborted
		}

		if end < n {
			if flag := o.interrupt.Load(); flag != interruptNone {
				return o.interrupted(g, flag, remaining(ids, consumed))
			}

			if o.cfg.DelayBetweenBatches > 0 {
				select {
				case <-runCtx.Done():
					o.freeze(g, ReasonStop, remaining(ids, consumed))
					o.finish(g, StateStopped)
					return o.collected(g), ErrAborted
				case <-time.After(o.cfg.DelayBetweenBatches):
				}
			}
		}
	}

	o.finish(g, StateCompleted)
	o.emitProgress(g)
	o.emitLog(zerolog.InfoLevel, "Run completed", map[string]any{
		"total_items": n,
	})

	return o.collected(g), nil
}

// dispatchBatch filters duplicates, hands the rest of the batch to the
// scheduler as one wave, and awaits every outcome. Returns true if any
// task settled as aborted.
//
// A repeat of an id within the batch is held back until the wave carrying
// its first instance has settled: a duplicate event then reports the
// record that fetch produced, and a repeat of a failed or skipped id gets
// its own fetch instead of being silently swallowed.
func (o *Orchestrator) dispatchBatch(g uint64, sched *scheduler.Scheduler, ids []string, consumed []bool, start, end int, credential string) bool {
	type pending struct {
		idx int
		ch  <-chan scheduler.Result
	}

	queue := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		queue = append(queue, i)
	}

	for len(queue) > 0 {
		var wave []pending
		var deferred []int
		inWave := make(map[string]bool)

		for _, i := range queue {
			id := ids[i]

			if known, dup := o.lookup(g, id); dup {
				consumed[i] = true
				o.recordDuplicate(g, id, known)
				o.emitProgress(g)
				continue
			}
			if inWave[id] {
				deferred = append(deferred, i)
				continue
			}
			inWave[id] = true

			fn := func(taskCtx context.Context) (*source.Record, error) {
				return o.src.Fetch(taskCtx, id, credential)
			}
			task := scheduler.NewTask(id, scheduler.PriorityNormal, o.cfg.Scheduler.RetryAttempts, fn)
			wave = append(wave, pending{i, sched.Schedule(task)})
		}

		// Await every outcome: completion order is unordered, a batch is
		// done once all its tasks settled.
		aborted := false
		for _, p := range wave {
			r := <-p.ch

			switch {
			case errors.Is(r.Err, scheduler.ErrAborted) || errors.Is(r.Err, scheduler.ErrStopped):
				// Not consumed: the id stays in the checkpoint's remaining set.
				aborted = true
				continue
			case r.Err != nil:
				consumed[p.idx] = true
				o.recordFailure(g, ids[p.idx], r)
			case r.Record != nil:
				consumed[p.idx] = true
				o.recordSuccess(g, ids[p.idx], r)
			default:
				// nil record, nil error: the remote has no data for this id.
				consumed[p.idx] = true
				o.recordSkip(g, ids[p.idx])
			}

			o.emitProgress(g)
		}

		if aborted {
			return true
		}
		queue = deferred
	}

	return false
}

// begin claims the orchestrator for a new run and seeds its state, either
// fresh or from a checkpoint.
func (o *Orchestrator) begin(ids []string, existing []*source.Record, seed *Checkpoint, cancel context.CancelFunc) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Active() {
		return 0, ErrRunActive
	}
	if o.state.Terminal() {
		return 0, fmt.Errorf("run state %s requires Reset before a new run", o.state)
	}

	o.gen++
	g := o.gen
	o.state = StateRunning
	o.cancelRun = cancel
	o.checkpoint = nil
	o.interrupt.Store(interruptNone)
	o.seen = make(map[string]*source.Record)
	o.processedIDs = nil
	o.results = nil
	o.durations = nil
	o.avg = 0
	o.avgN = 0

	totalBatches := (len(ids) + o.cfg.BatchSize - 1) / o.cfg.BatchSize

	if seed != nil {
		perf := seed.Performance
		o.runID = seed.RunID
		o.proc = ProcessingState{
			RunID:        seed.RunID.String(),
			State:        StateRunning,
			TotalItems:   perf.Processed + len(ids),
			Processed:    perf.Processed,
			Successful:   perf.Successful,
			Failed:       perf.Failed,
			Skipped:      perf.Skipped,
			Duplicates:   perf.Duplicates,
			TotalBatches: totalBatches,
			StartTime:    perf.StartTime,
		}
		o.processedIDs = append([]string(nil), seed.ProcessedIDs...)
		o.results = append([]*source.Record(nil), seed.CollectedResults...)
		o.durations = append([]time.Duration(nil), perf.RecentDurations...)
		o.seedAverage()
		for _, rec := range seed.CollectedResults {
			o.seen[rec.ID] = rec
		}
	} else {
		o.runID = uuid.New()
		o.proc = ProcessingState{
			RunID:        o.runID.String(),
			State:        StateRunning,
			TotalItems:   len(ids),
			TotalBatches: totalBatches,
			StartTime:    time.Now(),
		}
		for _, rec := range existing {
			o.seen[rec.ID] = rec
		}
	}

	o.logger.Info().
		Str("run_id", o.proc.RunID).
		Int("total_items", o.proc.TotalItems).
		Int("total_batches", totalBatches).
		Bool("resumed", seed != nil).
		Msg("Run starting")

	return g, nil
}

// seedAverage recomputes the running average from the restored duration
// history. Callers must hold o.mu.
func (o *Orchestrator) seedAverage() {
	o.avgN = len(o.durations)
	if o.avgN == 0 {
		return
	}
	var sum int64
	for _, d := range o.durations {
		sum += int64(d)
	}
	o.avg = time.Duration(sum / int64(o.avgN))
	o.proc.AvgItemDuration = o.avg
}

// lookup reports whether id was already collected, either by the caller's
// existing set or earlier in this run.
func (o *Orchestrator) lookup(g uint64, id string) (*source.Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if g != o.gen {
		return nil, false
	}
	rec, ok := o.seen[id]
	return rec, ok
}

func (o *Orchestrator) beginBatch(g uint64, batch int) {
	o.mu.Lock()
	if g != o.gen {
		o.mu.Unlock()
		return
	}
	o.proc.CurrentBatch = batch
	runID := o.proc.RunID
	total := o.proc.TotalBatches
	o.mu.Unlock()

	ingestBatchesTotal.Inc()

	o.logger.Debug().
		Str("run_id", runID).
		Int("batch", batch).
		Int("total_batches", total).
		Msg("Dispatching batch")
}

func (o *Orchestrator) recordSuccess(g uint64, id string, r scheduler.Result) {
	o.mu.Lock()
	if g != o.gen {
		o.mu.Unlock()
		return
	}

	o.proc.Processed++
	o.proc.Successful++
	o.processedIDs = append(o.processedIDs, id)
	o.seen[id] = r.Record
	o.results = append(o.results, r.Record)
	o.observeDuration(r.Duration)
	o.mu.Unlock()

	ingestItemsTotal.WithLabelValues("success").Inc()

	if o.cbs.OnItemProcessed != nil {
		o.cbs.OnItemProcessed(r.Record, false)
	}
}

func (o *Orchestrator) recordFailure(g uint64, id string, r scheduler.Result) {
	o.mu.Lock()
	if g != o.gen {
		o.mu.Unlock()
		return
	}

	o.proc.Processed++
	o.proc.Failed++
	o.processedIDs = append(o.processedIDs, id)
	o.proc.Errors = append(o.proc.Errors, ItemError{
		ID:       id,
		Message:  r.Err.Error(),
		Attempts: r.Attempts,
	})
	if len(o.proc.Errors) > o.cfg.MaxRecentErrors {
		o.proc.Errors = o.proc.Errors[len(o.proc.Errors)-o.cfg.MaxRecentErrors:]
	}
	o.mu.Unlock()

	ingestItemsTotal.WithLabelValues("failure").Inc()

	o.logger.Warn().
		Str("id", id).
		Int("attempts", r.Attempts).
		Err(r.Err).
		Msg("Item failed")
}

func (o *Orchestrator) recordSkip(g uint64, id string) {
	o.mu.Lock()
	if g != o.gen {
		o.mu.Unlock()
		return
	}
	o.proc.Processed++
	o.proc.Skipped++
	o.processedIDs = append(o.processedIDs, id)
	o.mu.Unlock()

	ingestItemsTotal.WithLabelValues("skipped").Inc()

	o.logger.Debug().Str("id", id).Msg("No data for id - skipped")
}

func (o *Orchestrator) recordDuplicate(g uint64, id string, known *source.Record) {
	o.mu.Lock()
	if g != o.gen {
		o.mu.Unlock()
		return
	}
	o.proc.Processed++
	o.proc.Duplicates++
	o.processedIDs = append(o.processedIDs, id)
	o.mu.Unlock()

	ingestItemsTotal.WithLabelValues("duplicate").Inc()

	o.logger.Debug().Str("id", id).Msg("Duplicate id - not fetched")

	if o.cbs.OnItemProcessed != nil {
		o.cbs.OnItemProcessed(known, true)
	}
}

// observeDuration folds one fetch duration into the running average and
// the bounded history buffer. Callers must hold o.mu.
func (o *Orchestrator) observeDuration(d time.Duration) {
	o.avgN++
	o.avg = time.Duration((int64(o.avg)*int64(o.avgN-1) + int64(d)) / int64(o.avgN))
	o.proc.AvgItemDuration = o.avg

	o.durations = append(o.durations, d)
	if len(o.durations) > durationSampleCap {
		keep := o.durations[len(o.durations)/2:]
		o.durations = append(o.durations[:0:0], keep...)
	}
}

func (o *Orchestrator) emitProgress(g uint64) {
	o.mu.Lock()
	if g != o.gen {
		o.mu.Unlock()
		return
	}
	snap := o.proc.clone()
	o.mu.Unlock()

	if o.cbs.OnProgress != nil {
		o.cbs.OnProgress(snap)
	}
}

func (o *Orchestrator) emitLog(level zerolog.Level, msg string, data map[string]any) {
	o.logger.WithLevel(level).Fields(data).Msg(msg)

	if o.cbs.OnLog != nil {
		o.cbs.OnLog(level, msg, data)
	}
}

// interrupted freezes a checkpoint for a pause/stop request and settles
// the run. Returns the partial results with a nil error: an interrupt is
// an actionable "resume available" outcome, not a failure.
func (o *Orchestrator) interrupted(g uint64, flag int32, remainingIDs []string) ([]*source.Record, error) {
	reason := ReasonPause
	final := StatePaused
	if flag == interruptStop {
		reason = ReasonStop
		final = StateStopped
	}

	o.freeze(g, reason, remainingIDs)
	o.finish(g, final)

	return o.collected(g), nil
}

// freeze snapshots the run into a Checkpoint. The checkpoint is immutable
// once created; resume builds fresh state from it instead of mutating it.
func (o *Orchestrator) freeze(g uint64, reason InterruptReason, remainingIDs []string) {
	o.mu.Lock()
	if g != o.gen {
		o.mu.Unlock()
		return
	}

	cp := &Checkpoint{
		RunID:            o.runID,
		Reason:           reason,
		FrozenAt:         time.Now(),
		ProcessedIDs:     append([]string(nil), o.processedIDs...),
		RemainingIDs:     append([]string(nil), remainingIDs...),
		CollectedResults: append([]*source.Record(nil), o.results...),
		Performance: PerformanceSnapshot{
			StartTime:       o.proc.StartTime,
			Processed:       o.proc.Processed,
			Successful:      o.proc.Successful,
			Failed:          o.proc.Failed,
			Skipped:         o.proc.Skipped,
			Duplicates:      o.proc.Duplicates,
			RecentDurations: append([]time.Duration(nil), o.durations...),
		},
	}
	o.checkpoint = cp
	processed := o.proc.Processed
	runID := o.proc.RunID
	o.mu.Unlock()

	ingestCheckpointsTotal.WithLabelValues(string(reason)).Inc()

	o.emitLog(zerolog.InfoLevel, "Checkpoint frozen", map[string]any{
		"run_id":    runID,
		"reason":    string(reason),
		"processed": processed,
		"remaining": len(remainingIDs),
	})
}

// finish sets the run's final state.
func (o *Orchestrator) finish(g uint64, final RunState) {
	o.mu.Lock()
	if g != o.gen {
		o.mu.Unlock()
		return
	}
	o.state = final
	o.proc.State = final
	o.cancelRun = nil
	o.mu.Unlock()

	ingestRunsTotal.WithLabelValues(string(final)).Inc()
}

// collected returns a copy of the run's result accumulator.
func (o *Orchestrator) collected(g uint64) []*source.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	if g != o.gen {
		return nil
	}
	return append([]*source.Record(nil), o.results...)
}

// remaining lists the ids not yet consumed, preserving input order.
func remaining(ids []string, consumed []bool) []string {
	var out []string
	for i, done := range consumed {
		if !done {
			out = append(out, ids[i])
		}
	}
	return out
}
