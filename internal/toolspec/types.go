// Package toolspec defines the shared data model for the execution
// gateway: tool descriptors, invocation requests, and results.
package toolspec

import "time"

// CircuitBreakerConfig is the per-tool breaker tuning, carried on the
// descriptor so each tool can diverge from the global defaults.
type CircuitBreakerConfig struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	SuccessThreshold  int
	TimeoutMultiplier float64
	MaxTimeout        time.Duration
	JitterEnabled     bool
}

// DefaultCircuitBreakerConfig is the standard per-tool breaker tuning.
// SuccessThreshold of 1 is a deliberate choice, recorded in DESIGN.md.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   60 * time.Second,
		SuccessThreshold:  1,
		TimeoutMultiplier: 1.5,
		MaxTimeout:        300 * time.Second,
		JitterEnabled:     true,
	}
}

// ToolDescriptor is the static, immutable-after-registration record
// for one registered tool.
type ToolDescriptor struct {
	Name                  string
	Command               string
	AllowedFlags          []string
	AllowedModes          []string
	ConcurrencyLimit      int
	DefaultTimeoutSeconds float64
	CircuitBreaker        CircuitBreakerConfig
	OptimizerDefaults     []string

	// NetworkMapper marks descriptors subject to the 1024-host CIDR cap.
	NetworkMapper bool
	// URLMode requires the target to carry an http(s) scheme.
	URLMode bool
	// ModeThreadDefaults maps a mode token to a thread-count flag value
	// injected when the user hasn't specified one (gobuster-style tools).
	ModeThreadDefaults map[string]string
}

// IsAllowedFlag reports whether flag (the bare token, before "=") is
// in the descriptor's allow-list. Matching is exact — prefix matches
// are never accepted.
func (d ToolDescriptor) IsAllowedFlag(flag string) bool {
	for _, f := range d.AllowedFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// IsAllowedMode reports whether mode is declared on the descriptor.
func (d ToolDescriptor) IsAllowedMode(mode string) bool {
	for _, m := range d.AllowedModes {
		if m == mode {
			return true
		}
	}
	return false
}

// ToolRequest is a single invocation request.
type ToolRequest struct {
	Target         string
	ExtraArgs      string
	TimeoutSeconds float64 // 0 means "use the descriptor default"
	CorrelationID  string
}

// ToolResult is the uniform outcome of an invocation.
type ToolResult struct {
	Stdout            string
	Stderr            string
	ReturnCode        int
	StdoutTruncated   bool
	StderrTruncated   bool
	TimedOut          bool
	ExecutionTime     time.Duration
	CorrelationID     string
	ErrorKind         string
	ErrorMessage      string
	RecoverySuggestion string
	Metadata          map[string]any
}

// Error kinds.
const (
	ErrValidation        = "validation_error"
	ErrNotFound          = "not_found"
	ErrTimeout           = "timeout"
	ErrExecution         = "execution_error"
	ErrResourceExhausted = "resource_exhausted"
	ErrCircuitOpen       = "circuit_breaker_open"
	ErrUnknown           = "unknown"
)

const (
	// MaxStdoutBytes is the stdout capture cap (1 MiB).
	MaxStdoutBytes = 1 << 20
	// MaxStderrBytes is the stderr capture cap (256 KiB).
	MaxStderrBytes = 256 << 10
)
