package metrics

import (
	"context"
	"testing"

	"github.com/argus-sec/toolgate/internal/breaker"
)

func TestRecordBreakerSnapshotTracksCumulativeDeltas(t *testing.T) {
	exp, err := NewExporter()
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	ctx := context.Background()

	snap1 := breaker.Snapshot{
		State: breaker.Closed,
		Stats: breaker.Stats{
			Success:     3,
			Failure:     1,
			Rejected:    0,
			Transitions: map[string]uint64{"CLOSED->OPEN": 0},
		},
	}
	exp.RecordBreakerSnapshot(ctx, "nmap", snap1)

	if exp.lastOutcome["nmap"]["success"] != 3 {
		t.Fatalf("lastOutcome[success] = %d, want 3", exp.lastOutcome["nmap"]["success"])
	}
	if exp.lastOutcome["nmap"]["failure"] != 1 {
		t.Fatalf("lastOutcome[failure] = %d, want 1", exp.lastOutcome["nmap"]["failure"])
	}
	if exp.lastBreakerState["nmap"] != 0 {
		t.Fatalf("lastBreakerState = %v, want 0 (CLOSED)", exp.lastBreakerState["nmap"])
	}

	snap2 := breaker.Snapshot{
		State: breaker.Open,
		Stats: breaker.Stats{
			Success:     3,
			Failure:     5,
			Rejected:    2,
			Transitions: map[string]uint64{"CLOSED->OPEN": 1},
		},
	}
	exp.RecordBreakerSnapshot(ctx, "nmap", snap2)

	if exp.lastOutcome["nmap"]["failure"] != 5 {
		t.Fatalf("lastOutcome[failure] = %d, want 5 after second snapshot", exp.lastOutcome["nmap"]["failure"])
	}
	if exp.lastOutcome["nmap"]["rejected"] != 2 {
		t.Fatalf("lastOutcome[rejected] = %d, want 2", exp.lastOutcome["nmap"]["rejected"])
	}
	if exp.lastBreakerState["nmap"] != 1 {
		t.Fatalf("lastBreakerState = %v, want 1 (OPEN)", exp.lastBreakerState["nmap"])
	}
	if exp.lastTransition["nmap"]["CLOSED->OPEN"] != 1 {
		t.Fatalf("lastTransition[CLOSED->OPEN] = %d, want 1", exp.lastTransition["nmap"]["CLOSED->OPEN"])
	}
}

func TestRecordBreakerSnapshotIsolatesToolsIndependently(t *testing.T) {
	exp, err := NewExporter()
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	ctx := context.Background()

	exp.RecordBreakerSnapshot(ctx, "nmap", breaker.Snapshot{
		State: breaker.Open,
		Stats: breaker.Stats{Failure: 5, Transitions: map[string]uint64{"CLOSED->OPEN": 1}},
	})
	exp.RecordBreakerSnapshot(ctx, "hydra", breaker.Snapshot{
		State: breaker.Closed,
		Stats: breaker.Stats{Success: 2},
	})

	if exp.lastBreakerState["nmap"] != 1 {
		t.Fatalf("nmap state = %v, want 1 (OPEN)", exp.lastBreakerState["nmap"])
	}
	if exp.lastBreakerState["hydra"] != 0 {
		t.Fatalf("hydra state = %v, want 0 (CLOSED)", exp.lastBreakerState["hydra"])
	}
	if exp.lastOutcome["hydra"]["success"] != 2 {
		t.Fatalf("hydra success = %d, want 2", exp.lastOutcome["hydra"]["success"])
	}
	if _, ok := exp.lastOutcome["hydra"]["failure"]; ok && exp.lastOutcome["hydra"]["failure"] != 0 {
		t.Fatalf("hydra failure should remain 0, got %d", exp.lastOutcome["hydra"]["failure"])
	}
}

func TestRecordExecutionDoesNotPanicWithoutBreakerCalls(t *testing.T) {
	exp, err := NewExporter()
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	exp.RecordExecution(context.Background(), "nmap", "success", "", 0.5)
	exp.ActiveStart(context.Background(), "nmap")
	exp.ActiveEnd(context.Background(), "nmap")
}
