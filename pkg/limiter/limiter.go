// Package limiter implements wall-clock request pacing. It enforces a
// minimum interval between consecutive dispatches so the remote service
// never sees more than the configured requests per second.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for request pacing.
var (
	ingestRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_rate_limit_waits_total",
		Help: "Total number of dispatches delayed by the rate limiter",
	})

	ingestRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_rate_limit_wait_seconds",
		Help:    "Time spent waiting on the rate limiter before dispatch",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})

	ingestRateLimitTarget = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_rate_limit_target_rps",
		Help: "Configured target requests per second",
	})
)

// Limiter spaces dispatches at least Interval() apart. The zero value is
// not usable; create instances with New.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	logger   zerolog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// New creates a limiter targeting rps requests per second.
func New(rps float64, logger zerolog.Logger) (*Limiter, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("requests per second must be positive (got %v)", rps)
	}

	ingestRateLimitTarget.Set(rps)

	return &Limiter{
		interval: intervalFor(rps),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// intervalFor converts a requests-per-second target into the minimum
// spacing between dispatch starts.
func intervalFor(rps float64) time.Duration {
	return time.Duration(float64(time.Second) / rps)
}

// Interval returns the current minimum spacing between dispatches.
func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// SetRate adjusts the target rate for subsequent dispatches. Waits already
// in progress keep the spacing they were computed with.
func (l *Limiter) SetRate(rps float64) error {
	if rps <= 0 {
		return fmt.Errorf("requests per second must be positive (got %v)", rps)
	}

	l.mu.Lock()
	l.interval = intervalFor(rps)
	l.mu.Unlock()

	ingestRateLimitTarget.Set(rps)

	l.logger.Debug().
		Float64("rps", rps).
		Msg("Rate limiter target updated")

	return nil
}

// Wait blocks until at least Interval() has elapsed since the previous
// dispatch, then records the current time as the new dispatch instant.
// The first call never waits. Returns the context error if ctx is
// cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()

	var delay time.Duration
	if !l.last.IsZero() {
		if elapsed := now.Sub(l.last); elapsed < l.interval {
			delay = l.interval - elapsed
		}
	}

	if delay <= 0 {
		l.last = now
		l.mu.Unlock()
		return nil
	}

	// Claim the slot before sleeping so concurrent callers stack their
	// waits instead of dispatching in the same interval.
	prev := l.last
	l.last = now.Add(delay)
	claimed := l.last
	l.mu.Unlock()

	ingestRateLimitWaitsTotal.Inc()
	ingestRateLimitWaitSeconds.Observe(delay.Seconds())

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		// The slot was never used. Hand it back unless a later caller
		// already claimed past it.
		l.mu.Lock()
		if l.last.Equal(claimed) {
			l.last = prev
		}
		l.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
