package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	if cfg.Dispatch.Timeout != 30*time.Second {
		t.Errorf("expected 30s dispatch timeout, got %v", cfg.Dispatch.Timeout)
	}
	if len(cfg.Dispatch.PageSizes) != 5 || cfg.Dispatch.PageSizes[0] != 5 {
		t.Errorf("unexpected page sizes %v", cfg.Dispatch.PageSizes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	content := `
[llm]
provider = "anthropic"
model = "claude-sonnet-4-5"
thinking = "low"

[gateway]
attempts = 2
backoff = "250ms"

[dispatch]
read_retry_delay = "1s"
page_sizes = [3, 1]

[runner]
workers = 8
runs = 3

[trace]
nats_url = "nats://localhost:4222"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Thinking != "low" {
		t.Errorf("llm not loaded: %+v", cfg.LLM)
	}
	if cfg.Gateway.Attempts != 2 || cfg.Gateway.Backoff != 250*time.Millisecond {
		t.Errorf("gateway not loaded: %+v", cfg.Gateway)
	}
	if cfg.Dispatch.ReadRetryDelay != time.Second || len(cfg.Dispatch.PageSizes) != 2 {
		t.Errorf("dispatch not loaded: %+v", cfg.Dispatch)
	}
	// Unset keys keep their defaults.
	if cfg.Dispatch.ReadRetries != 2 {
		t.Errorf("expected default read retries, got %d", cfg.Dispatch.ReadRetries)
	}
	if cfg.Runner.Workers != 8 || cfg.Runner.Runs != 3 {
		t.Errorf("runner not loaded: %+v", cfg.Runner)
	}
	if cfg.Trace.NATSURL != "nats://localhost:4222" || cfg.Trace.NATSSubject != "benchagent.trace" {
		t.Errorf("trace not loaded: %+v", cfg.Trace)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[llm\nprovider ="), 0644)
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BENCHAGENT_LLM_MODEL", "gpt-4.1")
	t.Setenv("BENCHAGENT_RUNNER_WORKERS", "2")
	t.Setenv("BENCHAGENT_DISPATCH_TIMEOUT", "5s")

	cfg := New()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.LLM.Model != "gpt-4.1" {
		t.Errorf("expected model override, got %q", cfg.LLM.Model)
	}
	if cfg.Runner.Workers != 2 {
		t.Errorf("expected workers override, got %d", cfg.Runner.Workers)
	}
	if cfg.Dispatch.Timeout != 5*time.Second {
		t.Errorf("expected timeout override, got %v", cfg.Dispatch.Timeout)
	}
	// Untouched values survive.
	if cfg.Runner.Runs != 1 {
		t.Errorf("expected runs to stay 1, got %d", cfg.Runner.Runs)
	}
}

func TestValidate(t *testing.T) {
	cfg := New()
	cfg.Runner.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero workers")
	}

	cfg = New()
	cfg.Dispatch.PageSizes = []int{2, 0}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero page size")
	}
}

func TestGetAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-default")
	t.Setenv("CUSTOM_KEY", "sk-custom")

	cfg := New()
	cfg.LLM.Provider = "anthropic"
	if got := cfg.GetAPIKey(); got != "sk-default" {
		t.Errorf("expected provider default key, got %q", got)
	}

	cfg.LLM.APIKeyEnv = "CUSTOM_KEY"
	if got := cfg.GetAPIKey(); got != "sk-custom" {
		t.Errorf("expected custom key, got %q", got)
	}

	cfg = New()
	cfg.LLM.Provider = "ollama"
	if got := cfg.GetAPIKey(); got != "" {
		t.Errorf("expected no key, got %q", got)
	}
}
