package limiter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestNew_InvalidRate(t *testing.T) {
	tests := []struct {
		name string
		rps  float64
	}{
		{name: "zero", rps: 0},
		{name: "negative", rps: -1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.rps, testLogger()); err == nil {
				t.Errorf("New(%v) expected error, got nil", tt.rps)
			}
		})
	}
}

func TestIntervalFor(t *testing.T) {
	tests := []struct {
		name     string
		rps      float64
		expected time.Duration
	}{
		{name: "one per second", rps: 1, expected: time.Second},
		{name: "four per second", rps: 4, expected: 250 * time.Millisecond},
		{name: "fractional rate", rps: 0.5, expected: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := intervalFor(tt.rps); got != tt.expected {
				t.Errorf("intervalFor(%v) = %v, want %v", tt.rps, got, tt.expected)
			}
		})
	}
}

func TestWait_FirstCallDoesNotBlock(t *testing.T) {
	l, err := New(1, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("First Wait blocked for %v, expected immediate return", elapsed)
	}
}

func TestWait_EnforcesSpacing(t *testing.T) {
	// 20 req/s -> 50ms minimum spacing
	l, err := New(20, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	var dispatches []time.Time

	for i := 0; i < 4; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait %d failed: %v", i, err)
		}
		dispatches = append(dispatches, time.Now())
	}

	interval := l.Interval()
	for i := 1; i < len(dispatches); i++ {
		gap := dispatches[i].Sub(dispatches[i-1])
		// Allow a small scheduling tolerance below the nominal interval.
		if gap < interval-5*time.Millisecond {
			t.Errorf("Dispatch gap %d = %v, want >= %v", i, gap, interval)
		}
	}
}

func TestWait_ContextCancellation(t *testing.T) {
	// Very slow rate so the second Wait must sleep.
	l, err := New(0.1, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("First Wait failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = l.Wait(ctx)
	if err == nil {
		t.Fatal("Expected context error from cancelled Wait")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not unwind promptly on cancellation")
	}
}

func TestWait_CancelledWaitReleasesSlot(t *testing.T) {
	// 20 req/s -> 50ms minimum spacing.
	l, err := New(20, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Freeze the clock so every spacing computation sees the same instant.
	base := time.Now()
	l.now = func() time.Time { return base }

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("First Wait failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(cancelled); err == nil {
		t.Fatal("Expected context error from cancelled Wait")
	}

	// The cancelled caller never dispatched, so the next Wait pays one
	// interval, not two.
	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after cancellation failed: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < l.Interval()-5*time.Millisecond {
		t.Errorf("Wait returned after %v, want >= %v", elapsed, l.Interval())
	}
	if elapsed > 2*l.Interval()-10*time.Millisecond {
		t.Errorf("Wait took %v, cancelled claim was not released", elapsed)
	}
}

func TestSetRate(t *testing.T) {
	l, err := New(1, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := l.SetRate(10); err != nil {
		t.Fatalf("SetRate failed: %v", err)
	}
	if got := l.Interval(); got != 100*time.Millisecond {
		t.Errorf("Interval after SetRate = %v, want 100ms", got)
	}

	if err := l.SetRate(0); err == nil {
		t.Error("SetRate(0) expected error, got nil")
	}
}
