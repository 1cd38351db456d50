package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/argus-sec/toolgate/internal/registry"
	"github.com/argus-sec/toolgate/internal/sse"
)

// Server is the HTTP transport over a Gateway: it wraps an
// http.ServeMux, applies CORS middleware in ServeHTTP, and registers
// every route once at construction.
type Server struct {
	gw  *Gateway
	mux *http.ServeMux
}

// NewServer builds an HTTP server exposing the full route surface and
// starts its health-event publisher loop.
func NewServer(gw *Gateway) *Server {
	s := &Server{gw: gw, mux: http.NewServeMux()}
	s.registerRoutes()
	go s.publishHealthEvents()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /tools", s.handleListTools)
	s.mux.HandleFunc("POST /tools/{name}/execute", s.handleExecute)
	s.mux.HandleFunc("POST /tools/{name}/enable", s.handleEnable)
	s.mux.HandleFunc("POST /tools/{name}/disable", s.handleDisable)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	latest := s.gw.Health.Latest()
	writeJSON(w, latest.Status.HTTPStatusCode(), map[string]any{
		"status":    latest.Status.String(),
		"timestamp": latest.Timestamp,
		"checks":    latest.Checks,
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Registry.Describe())
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var body Request
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("", "validation_error", "invalid JSON body"))
		return
	}
	body.Tool = name

	resp, status := s.gw.Dispatch(r.Context(), body)
	writeJSON(w, status, resp)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.gw.Registry.Enable(name); err != nil {
		if _, ok := err.(*registry.ErrUnknownTool); ok {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tool": name, "enabled": "true"})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.gw.Registry.Disable(name); err != nil {
		if _, ok := err.(*registry.ErrUnknownTool); ok {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tool": name, "enabled": "false"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, unsubscribe := s.gw.Broker.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, event.Data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.gw.Exporter != nil {
		s.gw.Exporter.Handler().ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": s.gw.Metrics.Snapshots(),
		"breakers":   s.gw.Registry.BreakerSnapshots(),
	})
}

// publishHealthEvents emits a health SSE event every 5 seconds and
// whenever the aggregated status changes. Status is polled at a finer
// grain than the publish interval so a change is broadcast promptly
// instead of waiting for the next tick.
func (s *Server) publishHealthEvents() {
	var last string
	var lastPublish time.Time
	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	for range poll.C {
		latest := s.gw.Health.Latest()
		status := latest.Status.String()
		changed := status != last
		due := time.Since(lastPublish) >= 5*time.Second
		if !changed && !due {
			continue
		}
		payload, _ := json.Marshal(map[string]any{
			"status":    status,
			"timestamp": latest.Timestamp,
		})
		s.gw.Broker.Publish(sse.Event{Event: "health", Data: string(payload)})
		last = status
		lastPublish = time.Now()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
