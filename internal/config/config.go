// Package config implements the gateway's typed, validated,
// hot-reloadable configuration: a TOML file plus built-in defaults,
// extended with environment overrides, range clamping, and a
// redacted view.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level, validated configuration.
type Config struct {
	Server         Server         `toml:"server"`
	Security       Security       `toml:"security"`
	CircuitBreaker CircuitBreaker `toml:"circuit_breaker"`
	Health         Health         `toml:"health"`
	Metrics        Metrics        `toml:"metrics"`
	Tool           Tool           `toml:"tool"`
}

type Server struct {
	Host                 string  `toml:"host"`
	Port                 int     `toml:"port"`
	Transport            string  `toml:"transport"`
	ShutdownGracePeriod  float64 `toml:"shutdown_grace_period"`
}

type Security struct {
	MaxArgsLength    int `toml:"max_args_length"`
	TimeoutSeconds   int `toml:"timeout_seconds"`
	ConcurrencyLimit int `toml:"concurrency_limit"`
}

type CircuitBreaker struct {
	FailureThreshold int     `toml:"failure_threshold"`
	RecoveryTimeout  float64 `toml:"recovery_timeout"`
}

type Health struct {
	CheckInterval float64 `toml:"check_interval"`
	CPUThreshold  float64 `toml:"cpu_threshold"`
	MemThreshold  float64 `toml:"memory_threshold"`
	DiskThreshold float64 `toml:"disk_threshold"`
}

type Metrics struct {
	PrometheusEnabled bool `toml:"prometheus_enabled"`
}

type Tool struct {
	DefaultTimeout     int `toml:"default_timeout"`
	DefaultConcurrency int `toml:"default_concurrency"`

	// Include/Exclude are populated from TOOL_INCLUDE/TOOL_EXCLUDE, not
	// the TOML file — they have no on-disk representation.
	Include []string `toml:"-"`
	Exclude []string `toml:"-"`
}

// Default returns the schema's built-in defaults.
func Default() Config {
	return Config{
		Server: Server{
			Host:                "0.0.0.0",
			Port:                8080,
			Transport:           "stdio",
			ShutdownGracePeriod: 30,
		},
		Security: Security{
			MaxArgsLength:    2048,
			TimeoutSeconds:   300,
			ConcurrencyLimit: 2,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 5,
			RecoveryTimeout:  60,
		},
		Health: Health{
			CheckInterval: 30,
			CPUThreshold:  80,
			MemThreshold:  80,
			DiskThreshold: 80,
		},
		Metrics: Metrics{PrometheusEnabled: true},
		Tool: Tool{
			DefaultTimeout:     300,
			DefaultConcurrency: 2,
		},
	}
}

// Load reads the file named by path (or MCP_CONFIG_PATH, or built-in
// defaults if neither exists — a missing file is not fatal), applies
// MCP_<SECTION>_<KEY> environment overrides, clamps every ranged
// field, parses TOOL_INCLUDE/TOOL_EXCLUDE, and validates enums.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("MCP_CONFIG_PATH")
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Tool.Include = splitCSV(os.Getenv("TOOL_INCLUDE"))
	cfg.Tool.Exclude = splitCSV(os.Getenv("TOOL_EXCLUDE"))

	cfg.clamp()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envOverride is one MCP_<SECTION>_<KEY> binding.
type envOverride struct {
	section, key string
	apply        func(cfg *Config, raw string) error
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range overrides(cfg) {
		name := "MCP_" + strings.ToUpper(o.section) + "_" + strings.ToUpper(o.key)
		if raw, ok := os.LookupEnv(name); ok {
			if err := o.apply(cfg, raw); err != nil {
				// An unparseable override is ignored rather than fatal,
				// leaving the file/default value in place.
				continue
			}
		}
	}
}

func overrides(cfg *Config) []envOverride {
	return []envOverride{
		{"server", "host", func(c *Config, v string) error { c.Server.Host = v; return nil }},
		{"server", "port", intSetter(func(c *Config) *int { return &c.Server.Port })},
		{"server", "transport", func(c *Config, v string) error { c.Server.Transport = v; return nil }},
		{"server", "shutdown_grace_period", floatSetter(func(c *Config) *float64 { return &c.Server.ShutdownGracePeriod })},
		{"security", "max_args_length", intSetter(func(c *Config) *int { return &c.Security.MaxArgsLength })},
		{"security", "timeout_seconds", intSetter(func(c *Config) *int { return &c.Security.TimeoutSeconds })},
		{"security", "concurrency_limit", intSetter(func(c *Config) *int { return &c.Security.ConcurrencyLimit })},
		{"circuit_breaker", "failure_threshold", intSetter(func(c *Config) *int { return &c.CircuitBreaker.FailureThreshold })},
		{"circuit_breaker", "recovery_timeout", floatSetter(func(c *Config) *float64 { return &c.CircuitBreaker.RecoveryTimeout })},
		{"health", "check_interval", floatSetter(func(c *Config) *float64 { return &c.Health.CheckInterval })},
		{"health", "cpu_threshold", floatSetter(func(c *Config) *float64 { return &c.Health.CPUThreshold })},
		{"health", "memory_threshold", floatSetter(func(c *Config) *float64 { return &c.Health.MemThreshold })},
		{"health", "disk_threshold", floatSetter(func(c *Config) *float64 { return &c.Health.DiskThreshold })},
		{"metrics", "prometheus_enabled", boolSetter(func(c *Config) *bool { return &c.Metrics.PrometheusEnabled })},
		{"tool", "default_timeout", intSetter(func(c *Config) *int { return &c.Tool.DefaultTimeout })},
		{"tool", "default_concurrency", intSetter(func(c *Config) *int { return &c.Tool.DefaultConcurrency })},
	}
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func floatSetter(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clamp enforces the allowed range on every ranged field.
func (c *Config) clamp() {
	c.Server.Port = clampInt(c.Server.Port, 1, 65535)
	c.Server.ShutdownGracePeriod = clampFloat(c.Server.ShutdownGracePeriod, 0, 300)
	c.Security.MaxArgsLength = clampInt(c.Security.MaxArgsLength, 1, 10240)
	c.Security.TimeoutSeconds = clampInt(c.Security.TimeoutSeconds, 1, 3600)
	c.Security.ConcurrencyLimit = clampInt(c.Security.ConcurrencyLimit, 1, 100)
	c.CircuitBreaker.FailureThreshold = clampInt(c.CircuitBreaker.FailureThreshold, 1, 100)
	c.CircuitBreaker.RecoveryTimeout = clampFloat(c.CircuitBreaker.RecoveryTimeout, 1, 600)
	c.Health.CheckInterval = clampFloat(c.Health.CheckInterval, 5, 300)
	c.Health.CPUThreshold = clampFloat(c.Health.CPUThreshold, 0, 100)
	c.Health.MemThreshold = clampFloat(c.Health.MemThreshold, 0, 100)
	c.Health.DiskThreshold = clampFloat(c.Health.DiskThreshold, 0, 100)
	c.Tool.DefaultTimeout = clampInt(c.Tool.DefaultTimeout, 1, 3600)
	c.Tool.DefaultConcurrency = clampInt(c.Tool.DefaultConcurrency, 1, 100)
}

func (c *Config) validate() error {
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("config: server.transport must be %q or %q, got %q", "stdio", "http", c.Server.Transport)
	}
	return nil
}

// CheckIntervalDuration and RecoveryTimeoutDuration adapt the
// float-seconds schema fields to time.Duration for the components
// that consume them.
func (c Config) CheckIntervalDuration() time.Duration {
	return time.Duration(c.Health.CheckInterval * float64(time.Second))
}

func (c Config) RecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.CircuitBreaker.RecoveryTimeout * float64(time.Second))
}

func (c Config) ShutdownGraceDuration() time.Duration {
	return time.Duration(c.Server.ShutdownGracePeriod * float64(time.Second))
}

// Redacted returns a copy with every string field tagged
// sensitive:"true" replaced by "[REDACTED]". No field in this schema carries secrets today; the
// mechanism exists so a future field (e.g. an upstream API key
// override) only needs the struct tag, not a new code path — it is
// exercised in config_test.go against a synthetic sensitive field.
func (c Config) Redacted() Config {
	return redactSensitive(c).(Config)
}
