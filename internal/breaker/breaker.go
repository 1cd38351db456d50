// Package breaker implements the per-tool circuit breaker: a
// CLOSED/OPEN/HALF_OPEN state machine with adaptive recovery timeout,
// jittered probing, and bounded error history.
package breaker

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/argus-sec/toolgate/internal/toolspec"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrorRecord is one entry of the bounded recent-error FIFO.
type ErrorRecord struct {
	Time    time.Time
	Kind    string
	Message string
}

const maxRecentErrors = 10

// Stats holds monotonically increasing counters.
type Stats struct {
	Total       uint64
	Success     uint64
	Failure     uint64
	Rejected    uint64
	Transitions map[string]uint64 // "CLOSED->OPEN" etc
	FailureKind map[string]uint64
}

// Snapshot is the read-only view exposed to the health monitor and the
// metrics/HTTP layers.
type Snapshot struct {
	State                  State
	FailureCount           int
	ConsecutiveFailures    int
	SuccessCount           int
	LastFailureTime        time.Time
	CurrentRecoveryTimeout time.Duration
	HalfOpenInFlight       int
	RecentErrors           []ErrorRecord
	Stats                  Stats
	Config                 toolspec.CircuitBreakerConfig
}

// Breaker is a single tool's circuit breaker instance.
type Breaker struct {
	mu sync.Mutex

	cfg toolspec.CircuitBreakerConfig

	state               State
	failureCount        int
	consecutiveFailures int
	successCount        int
	lastFailureTime     time.Time
	currentRecovery     time.Duration
	halfOpenInFlight    int
	recentErrors        []ErrorRecord
	stats               Stats
}

// New creates a breaker in the CLOSED state.
func New(cfg toolspec.CircuitBreakerConfig) *Breaker {
	return &Breaker{
		cfg:             cfg,
		state:           Closed,
		currentRecovery: cfg.RecoveryTimeout,
		stats: Stats{
			Transitions: map[string]uint64{},
			FailureKind: map[string]uint64{},
		},
	}
}

// RejectedError is returned by Allow when the breaker refuses a call.
type RejectedError struct {
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	return "circuit breaker is open"
}

// Allow performs the gate decision for one call. On success it returns
// nil and the caller MUST call Report with the outcome. On rejection
// it returns a *RejectedError and the caller must not proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advanceLocked()

	switch b.state {
	case Open:
		remaining := b.currentRecovery - time.Since(b.lastFailureTime)
		if remaining < 0 {
			remaining = 0
		}
		b.stats.Rejected++
		return &RejectedError{RetryAfter: withJitter(remaining, b.cfg.JitterEnabled)}
	case HalfOpen:
		if b.halfOpenInFlight >= 1 {
			b.stats.Rejected++
			return &RejectedError{RetryAfter: withJitter(5*time.Second, b.cfg.JitterEnabled)}
		}
		b.halfOpenInFlight++
		return nil
	default: // Closed
		return nil
	}
}

// Report records the outcome of a call previously allowed through.
func (b *Breaker) Report(success bool, errKind, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Total++
	if success {
		b.stats.Success++
	} else {
		b.stats.Failure++
		if errKind != "" {
			b.stats.FailureKind[errKind]++
		}
		b.recordError(errKind, errMsg)
	}

	switch b.state {
	case Closed:
		if success {
			b.failureCount = 0
			b.consecutiveFailures = 0
			return
		}
		b.failureCount++
		b.consecutiveFailures++
		b.lastFailureTime = time.Now()
		if b.failureCount >= b.cfg.FailureThreshold {
			if b.consecutiveFailures > b.cfg.FailureThreshold {
				b.currentRecovery = clampDuration(time.Duration(float64(b.currentRecovery)*b.cfg.TimeoutMultiplier), b.cfg.MaxTimeout)
			}
			b.transition(Open)
		}
	case HalfOpen:
		b.halfOpenInFlight = 0
		if success {
			b.successCount++
			if b.successCount >= b.cfg.SuccessThreshold {
				b.currentRecovery = b.cfg.RecoveryTimeout
				b.failureCount = 0
				b.consecutiveFailures = 0
				b.successCount = 0
				b.transition(Closed)
			}
		} else {
			b.lastFailureTime = time.Now()
			b.currentRecovery = clampDuration(time.Duration(float64(b.currentRecovery)*b.cfg.TimeoutMultiplier), b.cfg.MaxTimeout)
			b.transition(Open)
		}
	case Open:
		// A report arriving while Open (e.g. a stale in-flight call)
		// does not affect state; Allow already gates new calls.
	}
}

// advanceLocked lazily flips OPEN -> HALF_OPEN once the (jittered)
// recovery window has elapsed. Caller must hold b.mu.
func (b *Breaker) advanceLocked() {
	if b.state != Open {
		return
	}
	threshold := withJitter(b.currentRecovery, b.cfg.JitterEnabled)
	if time.Since(b.lastFailureTime) >= threshold {
		b.halfOpenInFlight = 0
		b.successCount = 0
		b.transition(HalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.stats.Transitions[from.String()+"->"+to.String()]++
}

func (b *Breaker) recordError(kind, msg string) {
	rec := ErrorRecord{Time: time.Now(), Kind: kind, Message: msg}
	b.recentErrors = append(b.recentErrors, rec)
	if len(b.recentErrors) > maxRecentErrors {
		b.recentErrors = b.recentErrors[len(b.recentErrors)-maxRecentErrors:]
	}
}

// Snapshot returns a point-in-time copy of the breaker's state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()

	errs := make([]ErrorRecord, len(b.recentErrors))
	copy(errs, b.recentErrors)

	transitions := make(map[string]uint64, len(b.stats.Transitions))
	for k, v := range b.stats.Transitions {
		transitions[k] = v
	}
	failKinds := make(map[string]uint64, len(b.stats.FailureKind))
	for k, v := range b.stats.FailureKind {
		failKinds[k] = v
	}

	return Snapshot{
		State:                   b.state,
		FailureCount:            b.failureCount,
		ConsecutiveFailures:     b.consecutiveFailures,
		SuccessCount:            b.successCount,
		LastFailureTime:         b.lastFailureTime,
		CurrentRecoveryTimeout:  b.currentRecovery,
		HalfOpenInFlight:        b.halfOpenInFlight,
		RecentErrors:            errs,
		Stats: Stats{
			Total:       b.stats.Total,
			Success:     b.stats.Success,
			Failure:     b.stats.Failure,
			Rejected:    b.stats.Rejected,
			Transitions: transitions,
			FailureKind: failKinds,
		},
		Config: b.cfg,
	}
}

// StateGauge returns the numeric encoding used by the metrics gauge:
// CLOSED=0, OPEN=1, HALF_OPEN=2.
func (s State) StateGauge() float64 {
	switch s {
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return 0
	}
}

func clampDuration(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}

// withJitter adds up to 10% positive jitter when enabled.
func withJitter(d time.Duration, enabled bool) time.Duration {
	if !enabled || d <= 0 {
		return d
	}
	jitter := time.Duration(rand.Int64N(int64(d)/10 + 1))
	return d + jitter
}
