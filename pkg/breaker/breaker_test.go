package breaker

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// fakeClock drives the breaker's injectable clock in tests.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *fakeClock) {
	t.Helper()

	b, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	clock := &fakeClock{current: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	b.now = clock.now
	return b, clock
}

func TestNew_InvalidThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
	}{
		{name: "zero", threshold: 0},
		{name: "negative", threshold: -0.5},
		{name: "above one", threshold: 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Threshold = tt.threshold
			if _, err := New(cfg, testLogger()); err == nil {
				t.Errorf("New with threshold %v expected error, got nil", tt.threshold)
			}
		})
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, DefaultConfig())

	// 2 failures out of 10 = 0.2, below the 0.45 threshold.
	for i := 0; i < 8; i++ {
		b.RecordSuccess()
	}
	b.RecordFailure()
	b.RecordFailure()

	if b.Open() {
		t.Errorf("Breaker open at failure rate %.2f, want closed", b.FailureRate())
	}
}

func TestBreaker_OpensAboveThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, DefaultConfig())

	// All failures: rate 1.0 once min samples reached.
	for i := 0; i < DefaultMinSamples; i++ {
		b.RecordFailure()
	}

	if !b.Open() {
		t.Error("Breaker closed after sustained failures, want open")
	}
}

func TestBreaker_MinSamplesGuard(t *testing.T) {
	b, _ := newTestBreaker(t, DefaultConfig())

	// A single failure is rate 1.0 but must not open the breaker.
	b.RecordFailure()

	if b.Open() {
		t.Error("Breaker opened on a single failure sample")
	}
}

func TestBreaker_AutoClosesAfterCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 30 * time.Second
	b, clock := newTestBreaker(t, cfg)

	for i := 0; i < DefaultMinSamples; i++ {
		b.RecordFailure()
	}
	if !b.Open() {
		t.Fatal("Breaker should be open")
	}

	// Still inside the cooldown.
	clock.advance(29 * time.Second)
	if !b.Open() {
		t.Error("Breaker closed before cooldown elapsed")
	}

	// Cooldown elapsed: closes automatically, no manual reset.
	clock.advance(2 * time.Second)
	if b.Open() {
		t.Error("Breaker still open after cooldown elapsed")
	}

	// The pre-outage window must not immediately re-open it.
	b.RecordSuccess()
	if b.Open() {
		t.Error("Breaker re-opened from stale samples after cooldown")
	}
}

func TestBreaker_WindowPruning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 60 * time.Second
	b, clock := newTestBreaker(t, cfg)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}

	// Failures age out of the trailing window.
	clock.advance(61 * time.Second)
	b.RecordSuccess()

	if rate := b.FailureRate(); rate != 0 {
		t.Errorf("FailureRate = %v after window expiry, want 0", rate)
	}
}

func TestBreaker_FailureRate(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		expected  float64
	}{
		{name: "empty window", successes: 0, failures: 0, expected: 0},
		{name: "all successes", successes: 5, failures: 0, expected: 0},
		{name: "half failures", successes: 3, failures: 3, expected: 0.5},
		{name: "all failures", successes: 0, failures: 4, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Threshold = 1 // keep closed regardless of rate
			b, _ := newTestBreaker(t, cfg)

			for i := 0; i < tt.successes; i++ {
				b.RecordSuccess()
			}
			for i := 0; i < tt.failures; i++ {
				b.RecordFailure()
			}

			if got := b.FailureRate(); got != tt.expected {
				t.Errorf("FailureRate = %v, want %v", got, tt.expected)
			}
		})
	}
}
