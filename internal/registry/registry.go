// Package registry implements the Tool Registry: discovery of the
// static tool catalog, the enabled set, and introspection.
package registry

import (
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/argus-sec/toolgate/internal/breaker"
	"github.com/argus-sec/toolgate/internal/metrics"
	"github.com/argus-sec/toolgate/internal/toolspec"
)

// Entry bundles a descriptor with the breaker and concurrency
// primitives created for it at registration time, so Describe() can
// report their presence deterministically at startup: both are
// created eagerly, not on first execution. Sem is created once with
// concurrencyLimit permits and never recreated, so the permit count
// never exceeds that limit.
type Entry struct {
	Descriptor toolspec.ToolDescriptor
	Breaker    *breaker.Breaker
	Sem        *semaphore.Weighted
}

// Registry holds the discovered catalog and the enabled set. Reads
// (Get/ListEnabled/Describe) take the read lock; Enable/Disable take
// the write lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	enabled map[string]bool
	metrics *metrics.Registry
}

// New discovers the static catalog and applies the include/exclude
// filters: include, if non-empty, restricts the enabled set to its
// members; exclude always removes its members. A tool absent from
// both filters is enabled by default.
func New(catalog []toolspec.ToolDescriptor, include, exclude []string, m *metrics.Registry) *Registry {
	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	r := &Registry{
		entries: make(map[string]*Entry, len(catalog)),
		enabled: make(map[string]bool, len(catalog)),
		metrics: m,
	}

	for _, desc := range catalog {
		r.entries[desc.Name] = &Entry{
			Descriptor: desc,
			Breaker:    breaker.New(desc.CircuitBreaker),
			Sem:        semaphore.NewWeighted(int64(desc.ConcurrencyLimit)),
		}
		on := true
		if len(includeSet) > 0 {
			on = includeSet[desc.Name]
		}
		if excludeSet[desc.Name] {
			on = false
		}
		r.enabled[desc.Name] = on
	}
	return r
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// ErrUnknownTool is returned by Get/Enable/Disable for a name absent
// from the catalog.
type ErrUnknownTool struct{ Name string }

func (e *ErrUnknownTool) Error() string { return fmt.Sprintf("unknown tool %q", e.Name) }

// Get returns the entry for name and whether it is currently enabled.
func (r *Registry) Get(name string) (*Entry, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false, &ErrUnknownTool{Name: name}
	}
	return e, r.enabled[name], nil
}

// ListEnabled returns the descriptors of every currently enabled tool.
func (r *Registry) ListEnabled() []toolspec.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]toolspec.ToolDescriptor, 0, len(r.entries))
	for name, e := range r.entries {
		if r.enabled[name] {
			out = append(out, e.Descriptor)
		}
	}
	return out
}

// Enable flips name's enabled flag on. Idempotent.
func (r *Registry) Enable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return &ErrUnknownTool{Name: name}
	}
	r.enabled[name] = true
	return nil
}

// Disable flips name's enabled flag off. Idempotent.
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return &ErrUnknownTool{Name: name}
	}
	r.enabled[name] = false
	return nil
}

// Description is the structured introspection view Describe()
// returns for one tool.
type Description struct {
	Name                  string   `json:"name"`
	Command               string   `json:"command"`
	AllowedFlags          []string `json:"allowed_flags"`
	AllowedModes          []string `json:"allowed_modes,omitempty"`
	ConcurrencyLimit      int      `json:"concurrency_limit"`
	DefaultTimeoutSeconds float64  `json:"default_timeout_seconds"`
	Enabled               bool     `json:"enabled"`
	MetricsAvailable      bool     `json:"metrics_available"`
	BreakerAvailable      bool     `json:"breaker_available"`
}

// BreakerSnapshots returns every tool's current breaker snapshot,
// keyed by tool name, for the non-Prometheus /metrics fallback.
func (r *Registry) BreakerSnapshots() map[string]breaker.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]breaker.Snapshot, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.Breaker.Snapshot()
	}
	return out
}

// Describe returns the introspection view for every tool in the
// catalog, enabled or not.
func (r *Registry) Describe() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Description, 0, len(r.entries))
	for name, e := range r.entries {
		_, hasMetrics := r.metrics.Snapshot(name)
		out = append(out, Description{
			Name:                  e.Descriptor.Name,
			Command:               e.Descriptor.Command,
			AllowedFlags:          e.Descriptor.AllowedFlags,
			AllowedModes:          e.Descriptor.AllowedModes,
			ConcurrencyLimit:      e.Descriptor.ConcurrencyLimit,
			DefaultTimeoutSeconds: e.Descriptor.DefaultTimeoutSeconds,
			Enabled:               r.enabled[name],
			MetricsAvailable:      hasMetrics,
			BreakerAvailable:      e.Breaker != nil,
		})
	}
	return out
}
