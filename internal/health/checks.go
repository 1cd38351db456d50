package health

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/argus-sec/toolgate/internal/breaker"
)

// SystemResourcesCheck reads CPU, memory, and disk utilization and
// compares them against configured thresholds. No gopsutil-class
// library appears anywhere in the retrieval pack, so this reads
// /proc directly (Linux) with a runtime.MemStats fallback — see
// DESIGN.md for the justification.
type SystemResourcesCheck struct {
	CPUThreshold  float64
	MemThreshold  float64
	DiskThreshold float64
	DiskPath      string

	prevIdle, prevTotal uint64
	haveSample          bool
}

func NewSystemResourcesCheck(cfg Config) *SystemResourcesCheck {
	path := "/"
	return &SystemResourcesCheck{
		CPUThreshold:  cfg.CPUThreshold,
		MemThreshold:  cfg.MemThreshold,
		DiskThreshold: cfg.DiskThreshold,
		DiskPath:      path,
	}
}

func (c *SystemResourcesCheck) Name() string     { return "system_resources" }
func (c *SystemResourcesCheck) Priority() int     { return 0 }

func (c *SystemResourcesCheck) Run(ctx context.Context) CheckResult {
	memFrac, memErr := memoryUtilization()
	diskFrac, diskErr := diskUtilization(c.DiskPath)
	cpuFrac, cpuErr := c.cpuUtilization()

	var notes []string
	status := Healthy

	if memErr == nil && memFrac > c.MemThreshold {
		status = Degraded
		notes = append(notes, fmt.Sprintf("memory at %.0f%%", memFrac*100))
	}
	if diskErr == nil && diskFrac > c.DiskThreshold {
		status = Degraded
		notes = append(notes, fmt.Sprintf("disk at %.0f%%", diskFrac*100))
	}
	if cpuErr == nil && cpuFrac > c.CPUThreshold {
		status = Unhealthy
		notes = append(notes, fmt.Sprintf("cpu at %.0f%%", cpuFrac*100))
	}

	msg := "within thresholds"
	if len(notes) > 0 {
		msg = strings.Join(notes, ", ")
	}
	return CheckResult{Name: c.Name(), Priority: c.Priority(), Status: status, Message: msg}
}

// cpuUtilization computes instantaneous CPU busy fraction from two
// /proc/stat samples taken one cycle apart; the first call (no prior
// sample) returns 0, not unhealthy.
func (c *SystemResourcesCheck) cpuUtilization() (float64, error) {
	idle, total, err := readProcStatCPU()
	if err != nil {
		return 0, err
	}
	if !c.haveSample {
		c.prevIdle, c.prevTotal = idle, total
		c.haveSample = true
		return 0, nil
	}
	deltaIdle := float64(idle - c.prevIdle)
	deltaTotal := float64(total - c.prevTotal)
	c.prevIdle, c.prevTotal = idle, total
	if deltaTotal <= 0 {
		return 0, nil
	}
	return 1 - deltaIdle/deltaTotal, nil
}

func readProcStatCPU() (idle, total uint64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, 0, fmt.Errorf("empty /proc/stat")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, fmt.Errorf("unexpected /proc/stat format")
	}
	var vals []uint64
	for _, f := range fields[1:] {
		v, convErr := strconv.ParseUint(f, 10, 64)
		if convErr != nil {
			break
		}
		vals = append(vals, v)
		total += v
	}
	if len(vals) >= 4 {
		idle = vals[3]
	}
	return idle, total, nil
}

func memoryUtilization() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.Sys == 0 {
			return 0, err
		}
		return float64(ms.Alloc) / float64(ms.Sys), nil
	}
	defer f.Close()

	fields := map[string]uint64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		valStr := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), "kB"))
		valStr = strings.TrimSpace(valStr)
		v, convErr := strconv.ParseUint(valStr, 10, 64)
		if convErr != nil {
			continue
		}
		fields[key] = v
	}
	total, ok1 := fields["MemTotal"]
	avail, ok2 := fields["MemAvailable"]
	if !ok1 || !ok2 || total == 0 {
		return 0, fmt.Errorf("missing MemTotal/MemAvailable in /proc/meminfo")
	}
	return 1 - float64(avail)/float64(total), nil
}

func diskUtilization(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	if total == 0 {
		return 0, fmt.Errorf("statfs reported zero blocks")
	}
	return 1 - float64(free)/float64(total), nil
}

// ProcessHealthCheck reports the gateway's own liveness, age, and
// resource footprint.
type ProcessHealthCheck struct {
	startedAt time.Time
}

func NewProcessHealthCheck() *ProcessHealthCheck {
	return &ProcessHealthCheck{startedAt: time.Now()}
}

func (c *ProcessHealthCheck) Name() string { return "process_health" }
func (c *ProcessHealthCheck) Priority() int { return 1 }

func (c *ProcessHealthCheck) Run(ctx context.Context) CheckResult {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	age := time.Since(c.startedAt)
	msg := fmt.Sprintf("pid=%d age=%s alloc=%dKiB goroutines=%d",
		os.Getpid(), age.Round(time.Second), ms.Alloc/1024, runtime.NumGoroutine())
	return CheckResult{Name: c.Name(), Priority: c.Priority(), Status: Healthy, Message: msg}
}

// DependenciesCheck reports whether named optional external
// executables are resolvable on PATH.
type DependenciesCheck struct {
	names []string
}

func NewDependenciesCheck(names []string) *DependenciesCheck {
	return &DependenciesCheck{names: names}
}

func (c *DependenciesCheck) Name() string { return "dependencies" }
func (c *DependenciesCheck) Priority() int { return 2 }

func (c *DependenciesCheck) Run(ctx context.Context) CheckResult {
	var missing []string
	for _, n := range c.names {
		if _, err := exec.LookPath(n); err != nil {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Name: c.Name(), Priority: c.Priority(), Status: Degraded,
			Message: "missing: " + strings.Join(missing, ", "),
		}
	}
	return CheckResult{Name: c.Name(), Priority: c.Priority(), Status: Healthy, Message: "all present"}
}

// ToolCheck reports whether a registered tool's executable resolves
// and its circuit breaker is not OPEN.
type ToolCheck struct {
	toolName string
	command  string
	br       *breaker.Breaker
}

func NewToolCheck(toolName, command string, br *breaker.Breaker) *ToolCheck {
	return &ToolCheck{toolName: toolName, command: command, br: br}
}

func (c *ToolCheck) Name() string { return "tool_" + c.toolName }
func (c *ToolCheck) Priority() int { return 2 }

func (c *ToolCheck) Run(ctx context.Context) CheckResult {
	if _, err := exec.LookPath(c.command); err != nil {
		return CheckResult{Name: c.Name(), Priority: c.Priority(), Status: Unhealthy, Message: "executable not found"}
	}
	if snap := c.br.Snapshot(); snap.State == breaker.Open {
		return CheckResult{Name: c.Name(), Priority: c.Priority(), Status: Degraded, Message: "circuit breaker open"}
	}
	return CheckResult{Name: c.Name(), Priority: c.Priority(), Status: Healthy, Message: "ok"}
}
