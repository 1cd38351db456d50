package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load with a missing file should not be fatal: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := "[server]\nport = 9090\ntransport = \"http\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Transport != "http" {
		t.Fatalf("unexpected config: %+v", cfg.Server)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MCP_SERVER_PORT", "1234")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 1234 {
		t.Fatalf("port = %d, want 1234 from env override", cfg.Server.Port)
	}
}

func TestClampOutOfRange(t *testing.T) {
	t.Setenv("MCP_SERVER_PORT", "999999")
	t.Setenv("MCP_CIRCUIT_BREAKER_FAILURE_THRESHOLD", "0")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 65535 {
		t.Fatalf("port = %d, want clamped to 65535", cfg.Server.Port)
	}
	if cfg.CircuitBreaker.FailureThreshold != 1 {
		t.Fatalf("failureThreshold = %d, want clamped to 1", cfg.CircuitBreaker.FailureThreshold)
	}
}

func TestInvalidTransportRejected(t *testing.T) {
	t.Setenv("MCP_SERVER_TRANSPORT", "carrier-pigeon")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected validation error for an unknown transport")
	}
}

func TestToolIncludeExclude(t *testing.T) {
	t.Setenv("TOOL_INCLUDE", "nmap, gobuster")
	t.Setenv("TOOL_EXCLUDE", "hydra")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Tool.Include, []string{"nmap", "gobuster"}) {
		t.Fatalf("include = %v", cfg.Tool.Include)
	}
	if !reflect.DeepEqual(cfg.Tool.Exclude, []string{"hydra"}) {
		t.Fatalf("exclude = %v", cfg.Tool.Exclude)
	}
}

type sensitiveTestConfig struct {
	Public string
	Secret string `sensitive:"true"`
}

func TestRedactSensitiveField(t *testing.T) {
	in := sensitiveTestConfig{Public: "visible", Secret: "sk-topsecret"}
	out := redactSensitive(in).(sensitiveTestConfig)
	if out.Public != "visible" {
		t.Fatalf("public field should be untouched, got %q", out.Public)
	}
	if out.Secret != "[REDACTED]" {
		t.Fatalf("secret field should be redacted, got %q", out.Secret)
	}
	if in.Secret != "sk-topsecret" {
		t.Fatal("redactSensitive must not mutate its input")
	}
}
