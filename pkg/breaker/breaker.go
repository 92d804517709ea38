// Package breaker implements a sliding-window circuit breaker. It samples
// request outcomes over a trailing window and sheds load when the failure
// rate crosses a threshold, closing again automatically after a cooldown.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for circuit breaker state.
var (
	ingestCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_circuit_state",
		Help: "Circuit breaker state (0 = closed, 1 = open)",
	})

	ingestCircuitOpensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_circuit_opens_total",
		Help: "Total number of circuit breaker open transitions",
	})

	ingestCircuitFailureRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_circuit_failure_rate",
		Help: "Failure rate over the trailing sample window",
	})
)

// Defaults for the sampling window.
const (
	// DefaultWindow is the trailing period over which outcomes are counted.
	DefaultWindow = 60 * time.Second

	// DefaultCooldown is how long the breaker stays open before closing.
	DefaultCooldown = 30 * time.Second

	// DefaultThreshold is the failure rate that opens the breaker.
	DefaultThreshold = 0.45

	// DefaultMinSamples is the minimum number of outcomes in the window
	// before the failure rate is considered meaningful. A single failed
	// request must not open the breaker.
	DefaultMinSamples = 5
)

// Config holds circuit breaker tuning parameters.
type Config struct {
	// Threshold is the failure rate (failures / total) that opens the breaker.
	Threshold float64

	// Window is the trailing period over which outcomes are counted.
	Window time.Duration

	// Cooldown is how long the breaker stays open before auto-closing.
	Cooldown time.Duration

	// MinSamples is the minimum window population before opening.
	MinSamples int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		Window:     DefaultWindow,
		Cooldown:   DefaultCooldown,
		MinSamples: DefaultMinSamples,
	}
}

// Breaker tracks success/failure timestamps and gates dispatch.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	successes []time.Time
	failures  []time.Time
	open      bool
	openedAt  time.Time
	logger    zerolog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// New creates a circuit breaker.
func New(cfg Config, logger zerolog.Logger) (*Breaker, error) {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0,1] (got %v)", cfg.Threshold)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}

	return &Breaker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// RecordSuccess adds a success sample to the trailing window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = append(b.successes, b.now())
	b.prune()
	ingestCircuitFailureRate.Set(b.failureRate())
}

// RecordFailure adds a failure sample and opens the breaker if the
// failure rate over the window crosses the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = append(b.failures, b.now())
	b.prune()

	rate := b.failureRate()
	ingestCircuitFailureRate.Set(rate)

	if b.open {
		return
	}

	total := len(b.successes) + len(b.failures)
	if total >= b.cfg.MinSamples && rate > b.cfg.Threshold {
		b.open = true
		b.openedAt = b.now()

		ingestCircuitState.Set(1)
		ingestCircuitOpensTotal.Inc()

		b.logger.Error().
			Float64("failure_rate", rate).
			Float64("threshold", b.cfg.Threshold).
			Int("window_samples", total).
			Dur("cooldown", b.cfg.Cooldown).
			Msg("Circuit breaker opened - shedding load")
	}
}

// Open reports whether new dispatch should be refused. An open breaker
// closes itself once the cooldown has elapsed; no manual reset exists.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return false
	}

	if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.open = false
		// Samples from before the outage would immediately re-open the
		// breaker, so the window starts fresh after cooldown.
		b.successes = nil
		b.failures = nil

		ingestCircuitState.Set(0)

		b.logger.Info().
			Dur("cooldown", b.cfg.Cooldown).
			Msg("Circuit breaker closed after cooldown")
		return false
	}

	return true
}

// FailureRate returns the failure rate over the trailing window.
func (b *Breaker) FailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune()
	return b.failureRate()
}

// failureRate computes failures / (failures + successes). Callers must
// hold b.mu.
func (b *Breaker) failureRate() float64 {
	total := len(b.successes) + len(b.failures)
	if total == 0 {
		return 0
	}
	return float64(len(b.failures)) / float64(total)
}

// prune drops samples older than the window. Callers must hold b.mu.
func (b *Breaker) prune() {
	cutoff := b.now().Add(-b.cfg.Window)
	b.successes = pruneBefore(b.successes, cutoff)
	b.failures = pruneBefore(b.failures, cutoff)
}

// pruneBefore removes leading timestamps older than cutoff. Samples are
// appended in order, so the slice stays sorted.
func pruneBefore(samples []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(samples) && samples[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return samples
	}
	return append(samples[:0:0], samples[i:]...)
}
