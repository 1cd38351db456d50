package health

import (
	"context"
	"sync"
	"time"

	"github.com/argus-sec/toolgate/internal/logger"
)

const historySize = 100

// Config is the health monitor's flat configuration schema (open
// question resolved in favor of a single struct, see DESIGN.md).
type Config struct {
	CheckInterval  time.Duration
	CheckTimeout   time.Duration
	CPUThreshold   float64
	MemThreshold   float64
	DiskThreshold  float64
}

// DefaultConfig holds the monitor's stated default thresholds.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 30 * time.Second,
		CheckTimeout:  10 * time.Second,
		CPUThreshold:  0.80,
		MemThreshold:  0.80,
		DiskThreshold: 0.80,
	}
}

func (c Config) clamped() Config {
	if c.CheckInterval < 5*time.Second {
		c.CheckInterval = 5 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 10 * time.Second
	}
	return c
}

// Monitor runs registered checks on a timer and aggregates their
// results into a single SystemHealth. Start/Stop are idempotent and
// Stop waits (bounded) for the background loop to exit.
type Monitor struct {
	cfg    Config
	log    *logger.Logger
	checks []Check

	mu      sync.RWMutex
	latest  SystemHealth
	history []SystemHealth

	stop     chan struct{}
	done     chan struct{}
	startDo  sync.Once
	stopDo   sync.Once
}

// New creates a Monitor over the given checks; checks are run in the
// order given but aggregated without regard to order (priority drives
// aggregation, not position).
func New(cfg Config, checks ...Check) *Monitor {
	return &Monitor{
		cfg:    cfg.clamped(),
		log:    logger.New("health"),
		checks: checks,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the background loop. Idempotent: calling it more
// than once has no additional effect.
func (m *Monitor) Start() {
	m.startDo.Do(func() {
		m.runCycle(context.Background())
		go m.loop()
	})
}

func (m *Monitor) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.runCycle(context.Background())
		}
	}
}

// Stop signals shutdown and waits up to 5s for the loop to exit.
// Idempotent.
func (m *Monitor) Stop() {
	m.stopDo.Do(func() {
		close(m.stop)
	})
	select {
	case <-m.done:
	case <-time.After(5 * time.Second):
		m.log.Warn("health monitor did not stop within grace period")
	}
}

// runCycle executes every check concurrently under an overall
// deadline of checkTimeout+2s, then aggregates and stores the result.
func (m *Monitor) runCycle(parent context.Context) {
	cycleCtx, cancel := context.WithTimeout(parent, m.cfg.CheckTimeout+2*time.Second)
	defer cancel()

	results := make([]CheckResult, len(m.checks))
	var wg sync.WaitGroup
	for i, c := range m.checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = m.runOne(cycleCtx, c)
		}(i, c)
	}
	wg.Wait()

	sh := SystemHealth{
		Status:    aggregate(results),
		Timestamp: time.Now(),
		Checks:    results,
	}

	m.mu.Lock()
	m.latest = sh
	m.history = append(m.history, sh)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	m.mu.Unlock()
}

func (m *Monitor) runOne(parent context.Context, c Check) CheckResult {
	ctx, cancel := context.WithTimeout(parent, m.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan CheckResult, 1)
	go func() { resultCh <- c.Run(ctx) }()

	select {
	case res := <-resultCh:
		res.Duration = time.Since(start)
		return res
	case <-ctx.Done():
		return CheckResult{
			Name:     c.Name(),
			Priority: c.Priority(),
			Status:   Unhealthy,
			Message:  "timed out",
			Duration: time.Since(start),
		}
	}
}

// aggregate folds every check result into one overall Status in a
// single pass.
func aggregate(results []CheckResult) Status {
	var sawP1Unhealthy, sawDegraded bool
	var p2Count, p2Unhealthy int

	for _, r := range results {
		switch {
		case r.Priority == 0 && r.Status == Unhealthy:
			return Unhealthy
		case r.Priority == 1 && r.Status == Unhealthy:
			sawP1Unhealthy = true
		case r.Status == Degraded:
			sawDegraded = true
		}
		if r.Priority == 2 {
			p2Count++
			if r.Status == Unhealthy {
				p2Unhealthy++
			}
		}
	}

	if sawP1Unhealthy {
		return Degraded
	}
	if sawDegraded {
		return Degraded
	}
	if p2Count > 0 && p2Unhealthy == p2Count {
		return Degraded
	}
	return Healthy
}

// Latest returns the most recent aggregation cycle's result.
func (m *Monitor) Latest() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// History returns a copy of the retained cycle history, oldest first.
func (m *Monitor) History() []SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SystemHealth, len(m.history))
	copy(out, m.history)
	return out
}
