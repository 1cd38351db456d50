package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/argus-sec/toolgate/internal/breaker"
)

// Exporter wires the Registry's executions, plus each tool's circuit
// breaker state/outcomes/transitions, into an OpenTelemetry meter
// backed by a Prometheus collector, served over promhttp.Handler().
// Instrument shapes (a total counter, an error counter, a duration
// histogram, an active gauge) follow the same layout the observability
// package in the pack uses for its tool-execution metrics.
type Exporter struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	execTotal  otelmetric.Int64Counter
	errTotal   otelmetric.Int64Counter
	durSeconds otelmetric.Float64Histogram
	active     otelmetric.Int64UpDownCounter

	breakerState           otelmetric.Int64UpDownCounter
	breakerOutcomeTotal    otelmetric.Int64Counter
	breakerTransitionTotal otelmetric.Int64Counter

	mu               sync.Mutex
	lastBreakerState map[string]float64
	lastOutcome      map[string]map[string]uint64
	lastTransition   map[string]map[string]uint64
}

// NewExporter builds the OTel meter provider over a fresh Prometheus
// reader and registers the execution instruments plus the breaker
// state gauge and outcome/transition counters.
func NewExporter() (*Exporter, error) {
	reader, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: create prometheus reader: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("toolgate")

	execTotal, err := meter.Int64Counter("execution_total",
		otelmetric.WithDescription("Total tool executions, by tool/status/error_type"))
	if err != nil {
		return nil, err
	}
	errTotal, err := meter.Int64Counter("errors_total",
		otelmetric.WithDescription("Total tool execution errors, by tool/error_type"))
	if err != nil {
		return nil, err
	}
	durSeconds, err := meter.Float64Histogram("execution_seconds",
		otelmetric.WithDescription("Tool execution duration in seconds"),
		otelmetric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter("active",
		otelmetric.WithDescription("In-flight executions, by tool"))
	if err != nil {
		return nil, err
	}
	breakerState, err := meter.Int64UpDownCounter("breaker_state",
		otelmetric.WithDescription("Current breaker state by tool: 0=CLOSED, 1=OPEN, 2=HALF_OPEN"))
	if err != nil {
		return nil, err
	}
	breakerOutcomeTotal, err := meter.Int64Counter("breaker_outcome_total",
		otelmetric.WithDescription("Total breaker-gated call outcomes, by tool/outcome"))
	if err != nil {
		return nil, err
	}
	breakerTransitionTotal, err := meter.Int64Counter("breaker_transition_total",
		otelmetric.WithDescription("Total breaker state transitions, by tool/transition"))
	if err != nil {
		return nil, err
	}

	return &Exporter{
		provider:               provider,
		handler:                promhttp.Handler(),
		execTotal:              execTotal,
		errTotal:               errTotal,
		durSeconds:             durSeconds,
		active:                 active,
		breakerState:           breakerState,
		breakerOutcomeTotal:    breakerOutcomeTotal,
		breakerTransitionTotal: breakerTransitionTotal,
		lastBreakerState:       map[string]float64{},
		lastOutcome:            map[string]map[string]uint64{},
		lastTransition:         map[string]map[string]uint64{},
	}, nil
}

// Handler returns the http.Handler to mount at /metrics.
func (e *Exporter) Handler() http.Handler { return e.handler }

// RecordExecution folds one completed execution into the OTel
// instruments. errorType is empty on success.
func (e *Exporter) RecordExecution(ctx context.Context, tool, status, errorType string, d float64) {
	attrs := otelmetric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
		attribute.String("error_type", errorType),
	)
	e.execTotal.Add(ctx, 1, attrs)
	if errorType != "" {
		e.errTotal.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("error_type", errorType),
		))
	}
	e.durSeconds.Record(ctx, d, otelmetric.WithAttributes(attribute.String("tool", tool)))
}

// ActiveStart/ActiveEnd bracket a single in-flight execution for the
// active{tool} gauge.
func (e *Exporter) ActiveStart(ctx context.Context, tool string) {
	e.active.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("tool", tool)))
}

func (e *Exporter) ActiveEnd(ctx context.Context, tool string) {
	e.active.Add(ctx, -1, otelmetric.WithAttributes(attribute.String("tool", tool)))
}

// RecordBreakerSnapshot folds one tool's breaker.Snapshot into the
// breaker instruments. Snapshot's counters (Stats.Success/Failure/
// Rejected, Stats.Transitions) are cumulative totals rather than
// per-event deltas, so the exporter remembers the last-seen total per
// tool/label and emits only the difference, so the sum of Adds equals
// the cumulative value: Counter.Add for outcomes and transitions, and
// UpDownCounter.Add for the state gauge (the same up/down pattern
// ActiveStart/ActiveEnd uses for the in-flight gauge).
func (e *Exporter) RecordBreakerSnapshot(ctx context.Context, tool string, snap breaker.Snapshot) {
	e.mu.Lock()
	stateDelta := snap.State.StateGauge() - e.lastBreakerState[tool]
	e.lastBreakerState[tool] = snap.State.StateGauge()

	outcomes := e.lastOutcome[tool]
	if outcomes == nil {
		outcomes = map[string]uint64{}
		e.lastOutcome[tool] = outcomes
	}
	successDelta := snap.Stats.Success - outcomes["success"]
	failureDelta := snap.Stats.Failure - outcomes["failure"]
	rejectedDelta := snap.Stats.Rejected - outcomes["rejected"]
	outcomes["success"] = snap.Stats.Success
	outcomes["failure"] = snap.Stats.Failure
	outcomes["rejected"] = snap.Stats.Rejected

	transitions := e.lastTransition[tool]
	if transitions == nil {
		transitions = map[string]uint64{}
		e.lastTransition[tool] = transitions
	}
	transitionDeltas := make(map[string]uint64, len(snap.Stats.Transitions))
	for name, count := range snap.Stats.Transitions {
		transitionDeltas[name] = count - transitions[name]
		transitions[name] = count
	}
	e.mu.Unlock()

	if stateDelta != 0 {
		e.breakerState.Add(ctx, int64(stateDelta), otelmetric.WithAttributes(attribute.String("tool", tool)))
	}
	for outcome, delta := range map[string]uint64{"success": successDelta, "failure": failureDelta, "rejected": rejectedDelta} {
		if delta > 0 {
			e.breakerOutcomeTotal.Add(ctx, int64(delta), otelmetric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("outcome", outcome),
			))
		}
	}
	for transition, delta := range transitionDeltas {
		if delta > 0 {
			e.breakerTransitionTotal.Add(ctx, int64(delta), otelmetric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("transition", transition),
			))
		}
	}
}

// Shutdown flushes and releases the meter provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
