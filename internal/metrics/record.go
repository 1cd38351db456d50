// Package metrics implements the Metrics Registry: a bounded,
// per-tool collection of execution records with percentile
// computation, plus optional Prometheus exposition over an
// OpenTelemetry meter pipeline.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const recentWindowSize = 100

// sample is one completed execution, kept in a bounded FIFO for
// percentile computation and recent-failure-rate tracking.
type sample struct {
	duration time.Duration
	success  bool
}

// Record is a single tool's accumulated metrics. All fields are
// guarded by mu; callers never touch fields directly.
type Record struct {
	mu sync.Mutex

	tool string

	executionCount uint64
	successCount   uint64
	failureCount   uint64
	timeoutCount   uint64

	totalExecutionTime time.Duration
	minExecutionTime   time.Duration
	maxExecutionTime   time.Duration
	lastExecutionTime  time.Time

	recent []sample
}

func newRecord(tool string) *Record {
	return &Record{tool: tool}
}

// Observe folds one completed execution into the record.
func (r *Record) Observe(d time.Duration, success, timedOut bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executionCount++
	if success {
		r.successCount++
	} else {
		r.failureCount++
	}
	if timedOut {
		r.timeoutCount++
	}

	r.totalExecutionTime += d
	if r.minExecutionTime == 0 || d < r.minExecutionTime {
		r.minExecutionTime = d
	}
	if d > r.maxExecutionTime {
		r.maxExecutionTime = d
	}
	r.lastExecutionTime = time.Now()

	r.recent = append(r.recent, sample{duration: d, success: success})
	if len(r.recent) > recentWindowSize {
		r.recent = r.recent[len(r.recent)-recentWindowSize:]
	}
}

func (r *Record) lastExecution() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastExecutionTime
}

// Snapshot is a point-in-time, lock-free view of a Record.
type Snapshot struct {
	Tool               string
	ExecutionCount     uint64
	SuccessCount       uint64
	FailureCount       uint64
	TimeoutCount       uint64
	TotalExecutionTime time.Duration
	MinExecutionTime   time.Duration
	MaxExecutionTime   time.Duration
	LastExecutionTime  time.Time
	P50                time.Duration
	P95                time.Duration
	P99                time.Duration
	RecentFailureRate  float64
}

// Snapshot copies out the record's current state and computes
// percentiles over the recent-execution FIFO.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make([]time.Duration, len(r.recent))
	var failures int
	for i, s := range r.recent {
		durations[i] = s.duration
		if !s.success {
			failures++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var failRate float64
	if len(r.recent) > 0 {
		failRate = float64(failures) / float64(len(r.recent))
	}

	return Snapshot{
		Tool:               r.tool,
		ExecutionCount:     r.executionCount,
		SuccessCount:       r.successCount,
		FailureCount:       r.failureCount,
		TimeoutCount:       r.timeoutCount,
		TotalExecutionTime: r.totalExecutionTime,
		MinExecutionTime:   r.minExecutionTime,
		MaxExecutionTime:   r.maxExecutionTime,
		LastExecutionTime:  r.lastExecutionTime,
		P50:                percentile(durations, 0.50),
		P95:                percentile(durations, 0.95),
		P99:                percentile(durations, 0.99),
		RecentFailureRate:  failRate,
	}
}

// percentile returns the element at index floor(p*n), clamped to the
// last element, of a slice already sorted ascending.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
