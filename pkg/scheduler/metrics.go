package scheduler

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for scheduler operations.
var (
	ingestRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_requests_total",
		Help: "Total fetch attempts by outcome",
	}, []string{"outcome"}) // "success", "no_data", "failure", "retry", "aborted"

	ingestRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_request_duration_seconds",
		Help:    "Fetch duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	ingestRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	ingestRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	ingestRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	ingestActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_active_requests",
		Help: "Number of fetches currently in flight",
	})

	ingestQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_queue_depth",
		Help: "Number of tasks waiting in the priority queue",
	})
)

// rpsWindow is the trailing period used to compute the current
// requests-per-second figure.
const rpsWindow = 5 * time.Second

// Metrics is an immutable snapshot of scheduler performance counters.
// It is independent of the orchestrator's ProcessingState: the scheduler
// owns these numbers, the orchestrator owns run progress.
type Metrics struct {
	TotalRequests     int
	CompletedRequests int
	FailedRequests    int
	AvgResponseTime   time.Duration
	RequestsPerSecond float64
	ActiveRequests    int
	CircuitOpen       bool
}

// perfState accumulates performance counters. The scheduler is the only
// writer; snapshots are copied out under the lock.
type perfState struct {
	mu          sync.Mutex
	total       int
	completed   int
	failed      int
	active      int
	avg         time.Duration
	n           int
	samples     []time.Duration
	sampleCap   int
	completions []time.Time
}

func newPerfState(sampleCap int) *perfState {
	return &perfState{sampleCap: sampleCap}
}

func (p *perfState) startRequest() {
	p.mu.Lock()
	p.total++
	p.active++
	p.mu.Unlock()

	ingestActiveRequests.Inc()
}

func (p *perfState) endRequest() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	ingestActiveRequests.Dec()
}

func (p *perfState) recordSuccess(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed++
	p.observe(d)
}

func (p *perfState) recordFailure(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failed++
	p.observe(d)
}

// observe folds a response time into the incremental rolling average and
// the bounded sample buffer. Callers must hold p.mu.
func (p *perfState) observe(d time.Duration) {
	p.n++
	// newAvg = (oldAvg*(n-1) + latest) / n
	p.avg = time.Duration((int64(p.avg)*int64(p.n-1) + int64(d)) / int64(p.n))

	p.samples = append(p.samples, d)
	if p.sampleCap > 0 && len(p.samples) > p.sampleCap {
		// Halve the buffer, keeping the most recent samples.
		keep := p.samples[len(p.samples)/2:]
		p.samples = append(p.samples[:0:0], keep...)
	}

	now := time.Now()
	p.completions = append(p.completions, now)
	cutoff := now.Add(-rpsWindow)
	i := 0
	for i < len(p.completions) && p.completions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		p.completions = append(p.completions[:0:0], p.completions[i:]...)
	}
}

// seed restores the rolling-average history from a checkpoint so averages
// stay continuous across a pause/resume cycle.
func (p *perfState) seed(samples []time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.samples = append(p.samples[:0:0], samples...)
	p.n = len(samples)

	var sum int64
	for _, d := range samples {
		sum += int64(d)
	}
	if p.n > 0 {
		p.avg = time.Duration(sum / int64(p.n))
	}
}

// recentSamples returns a copy of the bounded duration buffer.
func (p *perfState) recentSamples() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.samples...)
}

func (p *perfState) snapshot(circuitOpen bool) Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-rpsWindow)
	recent := 0
	for _, c := range p.completions {
		if !c.Before(cutoff) {
			recent++
		}
	}

	return Metrics{
		TotalRequests:     p.total,
		CompletedRequests: p.completed,
		FailedRequests:    p.failed,
		AvgResponseTime:   p.avg,
		RequestsPerSecond: float64(recent) / rpsWindow.Seconds(),
		ActiveRequests:    p.active,
		CircuitOpen:       circuitOpen,
	}
}
