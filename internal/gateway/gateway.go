// Package gateway wires the registry, supervisor, metrics, and health
// monitor into the two request transports (HTTP and stdio), sharing
// one Dispatch function between them.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/argus-sec/toolgate/internal/breaker"
	"github.com/argus-sec/toolgate/internal/health"
	"github.com/argus-sec/toolgate/internal/logger"
	"github.com/argus-sec/toolgate/internal/metrics"
	"github.com/argus-sec/toolgate/internal/registry"
	"github.com/argus-sec/toolgate/internal/sse"
	"github.com/argus-sec/toolgate/internal/supervisor"
	"github.com/argus-sec/toolgate/internal/toolspec"
)

// Gateway is the composition of every component the transports need.
type Gateway struct {
	Registry   *registry.Registry
	Supervisor *supervisor.Supervisor
	Metrics    *metrics.Registry
	Exporter   *metrics.Exporter // nil when Prometheus exposition is disabled
	Health     *health.Monitor
	Broker     *sse.Broker

	log *logger.Logger
}

// New builds a Gateway from its already-constructed components.
func New(reg *registry.Registry, sup *supervisor.Supervisor, m *metrics.Registry, exp *metrics.Exporter, h *health.Monitor, broker *sse.Broker) *Gateway {
	return &Gateway{
		Registry:   reg,
		Supervisor: sup,
		Metrics:    m,
		Exporter:   exp,
		Health:     h,
		Broker:     broker,
		log:        logger.New("gateway"),
	}
}

// Dispatch resolves req.Tool against the registry, gates it through
// the breaker and concurrency semaphore, executes it, and folds the
// outcome into metrics — the single code path both transports call.
// The returned int is the HTTP status code appropriate to the
// outcome; the stdio transport ignores it.
func (g *Gateway) Dispatch(ctx context.Context, req Request) (*Response, int) {
	entry, enabled, err := g.Registry.Get(req.Tool)
	if err != nil {
		return errorResponse(req.CorrelationID, toolspec.ErrNotFound, err.Error()), http.StatusNotFound
	}
	if !enabled {
		return errorResponse(req.CorrelationID, toolspec.ErrValidation, "tool is disabled"), http.StatusForbidden
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	// A circuit-breaker or concurrency refusal is a controlled
	// ToolResult (rc=1, HTTP 200), not a transport-level failure — the
	// breaker never prevents the gateway itself from responding.
	if err := entry.Breaker.Allow(); err != nil {
		if rejected, ok := err.(*breaker.RejectedError); ok {
			if g.Exporter != nil {
				g.Exporter.RecordBreakerSnapshot(ctx, req.Tool, entry.Breaker.Snapshot())
			}
			resp := errorResponse(correlationID, toolspec.ErrCircuitOpen,
				"circuit breaker is open for "+req.Tool)
			resp.RecoverySuggestion = fmt.Sprintf("retry after approximately %s", rejected.RetryAfter.Round(time.Second))
			return resp, http.StatusOK
		}
		return errorResponse(correlationID, toolspec.ErrUnknown, err.Error()), http.StatusInternalServerError
	}

	if !entry.Sem.TryAcquire(1) {
		entry.Breaker.Report(false, toolspec.ErrResourceExhausted, "concurrency limit reached")
		if g.Exporter != nil {
			g.Exporter.RecordBreakerSnapshot(ctx, req.Tool, entry.Breaker.Snapshot())
		}
		resp := errorResponse(correlationID, toolspec.ErrResourceExhausted, "tool is at its concurrency limit")
		resp.RecoverySuggestion = "retry shortly or raise the tool's concurrency_limit"
		return resp, http.StatusOK
	}
	defer entry.Sem.Release(1)

	if g.Exporter != nil {
		g.Exporter.ActiveStart(ctx, req.Tool)
		defer g.Exporter.ActiveEnd(ctx, req.Tool)
	}

	toolReq := toolspec.ToolRequest{
		Target:         req.Target,
		ExtraArgs:      req.ExtraArgs,
		TimeoutSeconds: req.TimeoutSeconds,
		CorrelationID:  correlationID,
	}

	deadline := time.Duration(entry.Descriptor.DefaultTimeoutSeconds * float64(time.Second))
	result, execErr := g.Supervisor.Execute(ctx, entry.Descriptor, toolReq, deadline)
	if execErr != nil {
		// A non-nil error here is a gateway bug, not a tool failure.
		entry.Breaker.Report(false, toolspec.ErrUnknown, execErr.Error())
		return errorResponse(correlationID, toolspec.ErrUnknown, execErr.Error()), http.StatusInternalServerError
	}

	// Validation errors never reach the subprocess, so they must not
	// count as tool failures against the breaker — but Report must
	// still run to release the HALF_OPEN probe slot Allow reserved.
	breakerSuccess := result.ErrorKind == "" || result.ErrorKind == toolspec.ErrValidation
	entry.Breaker.Report(breakerSuccess, result.ErrorKind, result.ErrorMessage)
	if g.Exporter != nil {
		g.Exporter.RecordBreakerSnapshot(ctx, req.Tool, entry.Breaker.Snapshot())
	}
	if result.ErrorKind != toolspec.ErrValidation {
		g.Metrics.Observe(req.Tool, result.ExecutionTime, result.ErrorKind == "", result.TimedOut)
		if g.Exporter != nil {
			status := "success"
			if result.ErrorKind != "" {
				status = "failure"
			}
			g.Exporter.RecordExecution(ctx, req.Tool, status, result.ErrorKind, result.ExecutionTime.Seconds())
		}
	}

	status := http.StatusOK
	if result.ErrorKind == toolspec.ErrValidation {
		status = http.StatusBadRequest
	}
	return toResponse(result), status
}

func toResponse(r toolspec.ToolResult) *Response {
	return &Response{
		Stdout:             r.Stdout,
		Stderr:             r.Stderr,
		ReturnCode:         r.ReturnCode,
		StdoutTruncated:    r.StdoutTruncated,
		StderrTruncated:    r.StderrTruncated,
		TimedOut:           r.TimedOut,
		Error:              r.ErrorMessage,
		ErrorType:          r.ErrorKind,
		RecoverySuggestion: r.RecoverySuggestion,
		ExecutionTime:      r.ExecutionTime.Seconds(),
		CorrelationID:      r.CorrelationID,
		Metadata:           r.Metadata,
	}
}

func errorResponse(correlationID, kind, msg string) *Response {
	return &Response{
		ReturnCode:    1,
		Error:         msg,
		ErrorType:     kind,
		CorrelationID: correlationID,
		Metadata:      map[string]any{},
	}
}
