package metrics

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/argus-sec/toolgate/internal/logger"
)

// Registry is the process-wide Metrics Registry: a bounded LRU of
// per-tool Records. Capacity is enforced by the underlying cache;
// overflow evicts the tool least recently touched. Because every
// Observe re-touches its record's cache entry, "least recently
// touched" and "oldest lastExecutionTime" coincide.
type Registry struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *Record]
	log     *logger.Logger
	onEvict func(tool string)

	stopSweep chan struct{}
	swept     sync.Once
}

// defaultMaxTools is the default bounded-cache capacity.
const defaultMaxTools = 1000

// New creates a Registry with the given maxTools capacity (0 uses the
// default of 1000).
func New(maxTools int) *Registry {
	if maxTools <= 0 {
		maxTools = defaultMaxTools
	}
	r := &Registry{
		log:       logger.New("metrics"),
		stopSweep: make(chan struct{}),
	}
	cache, _ := lru.NewWithEvict[string, *Record](maxTools, func(tool string, _ *Record) {
		r.log.Info("evicted metrics record for %q (capacity reached)", tool)
	})
	r.cache = cache
	return r
}

// recordFor returns the Record for tool, creating it on first use and
// touching it so the LRU ordering reflects last access.
func (r *Registry) recordFor(tool string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.cache.Get(tool); ok {
		return rec
	}
	rec := newRecord(tool)
	r.cache.Add(tool, rec)
	return rec
}

// Observe folds one completed execution into tool's record, creating
// it if this is the tool's first observed execution.
func (r *Registry) Observe(tool string, d time.Duration, success, timedOut bool) {
	rec := r.recordFor(tool)
	rec.Observe(d, success, timedOut)
	// re-touch so eviction ordering tracks lastExecutionTime
	r.mu.Lock()
	r.cache.Get(tool)
	r.mu.Unlock()
}

// Snapshot returns the current state of tool's record, or false if no
// execution has ever been observed for it.
func (r *Registry) Snapshot(tool string) (Snapshot, bool) {
	r.mu.Lock()
	rec, ok := r.cache.Peek(tool)
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return rec.Snapshot(), true
}

// Snapshots returns every currently-tracked tool's snapshot.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	keys := r.cache.Keys()
	recs := make([]*Record, 0, len(keys))
	for _, k := range keys {
		if rec, ok := r.cache.Peek(k); ok {
			recs = append(recs, rec)
		}
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Snapshot())
	}
	return out
}

// StartIdleSweep runs a background loop that removes records idle
// longer than idleAfter (defaults: an hourly sweep for records idle
// more than 24h). Each call starts its own sweep goroutine; Stop ends
// all of them.
func (r *Registry) StartIdleSweep(interval, idleAfter time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	if idleAfter <= 0 {
		idleAfter = 24 * time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopSweep:
				return
			case <-ticker.C:
				r.sweepIdle(idleAfter)
			}
		}
	}()
}

func (r *Registry) sweepIdle(idleAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, tool := range r.cache.Keys() {
		rec, ok := r.cache.Peek(tool)
		if !ok {
			continue
		}
		if last := rec.lastExecution(); !last.IsZero() && now.Sub(last) > idleAfter {
			r.cache.Remove(tool)
			r.log.Info("swept idle metrics record for %q", tool)
		}
	}
}

// Stop halts the idle-sweep goroutine, if running. Idempotent.
func (r *Registry) Stop() {
	r.swept.Do(func() { close(r.stopSweep) })
}
