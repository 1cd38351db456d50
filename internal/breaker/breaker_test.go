package breaker

import (
	"testing"
	"time"

	"github.com/argus-sec/toolgate/internal/toolspec"
)

func testConfig() toolspec.CircuitBreakerConfig {
	return toolspec.CircuitBreakerConfig{
		FailureThreshold:  3,
		RecoveryTimeout:   20 * time.Millisecond,
		SuccessThreshold:  1,
		TimeoutMultiplier: 2,
		MaxTimeout:        200 * time.Millisecond,
		JitterEnabled:     false,
	}
}

func TestStartsClosed(t *testing.T) {
	b := New(testConfig())
	if got := b.Snapshot().State; got != Closed {
		t.Fatalf("state = %s, want CLOSED", got)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow on a fresh breaker should not reject: %v", err)
	}
}

func TestOpensAtFailureThreshold(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("unexpected rejection before threshold: %v", err)
		}
		b.Report(false, toolspec.ErrExecution, "boom")
	}
	if got := b.Snapshot().State; got != Open {
		t.Fatalf("state = %s, want OPEN after %d failures", got, 3)
	}
	if err := b.Allow(); err == nil {
		t.Fatal("Allow should reject while OPEN")
	} else if _, ok := err.(*RejectedError); !ok {
		t.Fatalf("rejection type = %T, want *RejectedError", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(testConfig())
	b.Allow()
	b.Report(false, toolspec.ErrExecution, "boom")
	b.Allow()
	b.Report(true, "", "")
	snap := b.Snapshot()
	if snap.FailureCount != 0 || snap.ConsecutiveFailures != 0 {
		t.Fatalf("a success in CLOSED should reset counters, got %+v", snap)
	}
	if snap.State != Closed {
		t.Fatalf("state = %s, want CLOSED", snap.State)
	}
}

func TestHalfOpenAfterRecoveryWindow(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.Allow()
		b.Report(false, toolspec.ErrExecution, "boom")
	}
	if got := b.Snapshot().State; got != Open {
		t.Fatalf("state = %s, want OPEN", got)
	}

	time.Sleep(25 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow should admit exactly one HALF_OPEN probe after the recovery window: %v", err)
	}
	if got := b.Snapshot().State; got != HalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", got)
	}
}

func TestHalfOpenRejectsSecondProbe(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.Allow()
		b.Report(false, toolspec.ErrExecution, "boom")
	}
	time.Sleep(25 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("first probe should be admitted: %v", err)
	}
	if err := b.Allow(); err == nil {
		t.Fatal("a second concurrent HALF_OPEN probe must be rejected")
	}
}

func TestHalfOpenSuccessClosesAndResetsRecoveryTimeout(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.Allow()
		b.Report(false, toolspec.ErrExecution, "boom")
	}
	// A second open, with backoff applied, to verify the reset on recovery.
	time.Sleep(25 * time.Millisecond)
	b.Allow()
	b.Report(false, toolspec.ErrExecution, "still broken")
	if snap := b.Snapshot(); snap.CurrentRecoveryTimeout <= testConfig().RecoveryTimeout {
		t.Fatalf("recovery timeout should have backed off, got %s", snap.CurrentRecoveryTimeout)
	}

	time.Sleep(45 * time.Millisecond)
	b.Allow()
	b.Report(true, "", "")

	snap := b.Snapshot()
	if snap.State != Closed {
		t.Fatalf("state = %s, want CLOSED after a successful probe", snap.State)
	}
	if snap.CurrentRecoveryTimeout != testConfig().RecoveryTimeout {
		t.Fatalf("recovery timeout = %s, want reset to the initial %s", snap.CurrentRecoveryTimeout, testConfig().RecoveryTimeout)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.Allow()
		b.Report(false, toolspec.ErrExecution, "boom")
	}
	time.Sleep(25 * time.Millisecond)
	b.Allow()
	b.Report(false, toolspec.ErrExecution, "still broken")

	if got := b.Snapshot().State; got != Open {
		t.Fatalf("state = %s, want OPEN again after a failed probe", got)
	}
}

func TestRecentErrorsBoundedAtTen(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1000 // stay CLOSED across all the failures below
	b := New(cfg)
	for i := 0; i < 25; i++ {
		b.Allow()
		b.Report(false, toolspec.ErrExecution, "boom")
	}
	if got := len(b.Snapshot().RecentErrors); got != maxRecentErrors {
		t.Fatalf("recent errors = %d, want capped at %d", got, maxRecentErrors)
	}
}

func TestRejectedErrorRetryAfterNonNegative(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.Allow()
		b.Report(false, toolspec.ErrExecution, "boom")
	}
	err := b.Allow()
	rejected, ok := err.(*RejectedError)
	if !ok {
		t.Fatalf("err = %T, want *RejectedError", err)
	}
	if rejected.RetryAfter < 0 {
		t.Fatalf("RetryAfter = %s, must not be negative", rejected.RetryAfter)
	}
}
