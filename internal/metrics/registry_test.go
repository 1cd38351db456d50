package metrics

import (
	"testing"
	"time"
)

func TestObserveAccumulates(t *testing.T) {
	reg := New(10)
	reg.Observe("nmap", 100*time.Millisecond, true, false)
	reg.Observe("nmap", 200*time.Millisecond, false, false)
	reg.Observe("nmap", 50*time.Millisecond, true, true)

	snap, ok := reg.Snapshot("nmap")
	if !ok {
		t.Fatal("expected a snapshot for nmap")
	}
	if snap.ExecutionCount != 3 {
		t.Fatalf("executionCount = %d, want 3", snap.ExecutionCount)
	}
	if snap.SuccessCount != 2 || snap.FailureCount != 1 || snap.TimeoutCount != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.MinExecutionTime != 50*time.Millisecond {
		t.Fatalf("min = %v, want 50ms", snap.MinExecutionTime)
	}
	if snap.MaxExecutionTime != 200*time.Millisecond {
		t.Fatalf("max = %v, want 200ms", snap.MaxExecutionTime)
	}
}

func TestSnapshotUnknownTool(t *testing.T) {
	reg := New(10)
	if _, ok := reg.Snapshot("ghost"); ok {
		t.Fatal("expected no snapshot for a tool never observed")
	}
}

func TestCapacityEviction(t *testing.T) {
	reg := New(2)
	reg.Observe("a", time.Millisecond, true, false)
	reg.Observe("b", time.Millisecond, true, false)
	reg.Observe("c", time.Millisecond, true, false)

	if _, ok := reg.Snapshot("a"); ok {
		t.Fatal("expected the least-recently-touched tool (a) to be evicted")
	}
	if _, ok := reg.Snapshot("b"); !ok {
		t.Fatal("expected b to survive eviction")
	}
	if _, ok := reg.Snapshot("c"); !ok {
		t.Fatal("expected c to survive eviction")
	}
}

func TestPercentiles(t *testing.T) {
	reg := New(10)
	for i := 1; i <= 100; i++ {
		reg.Observe("nmap", time.Duration(i)*time.Millisecond, true, false)
	}
	snap, _ := reg.Snapshot("nmap")
	if snap.P50 < 45*time.Millisecond || snap.P50 > 55*time.Millisecond {
		t.Fatalf("p50 = %v, expected near 50ms", snap.P50)
	}
	if snap.P99 < 95*time.Millisecond {
		t.Fatalf("p99 = %v, expected near the top of the window", snap.P99)
	}
}

func TestIdleSweep(t *testing.T) {
	reg := New(10)
	reg.Observe("stale", time.Millisecond, true, false)
	reg.sweepIdle(0) // everything with a non-zero lastExecutionTime is "idle" at threshold 0
	if _, ok := reg.Snapshot("stale"); ok {
		t.Fatal("expected sweepIdle to remove the stale record")
	}
}
