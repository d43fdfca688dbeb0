// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// DefaultFile is looked up in the working directory.
const DefaultFile = "benchagent.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BENCHAGENT"

// Config represents the benchmark runner configuration.
type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Runner    RunnerConfig    `toml:"runner"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Trace     TraceConfig     `toml:"trace"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Agents    AgentsConfig    `toml:"agents"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider  string `toml:"provider" envconfig:"PROVIDER"`
	Model     string `toml:"model" envconfig:"MODEL"`
	APIKeyEnv string `toml:"api_key_env" envconfig:"API_KEY_ENV"`
	MaxTokens int    `toml:"max_tokens" envconfig:"MAX_TOKENS"`
	BaseURL   string `toml:"base_url" envconfig:"BASE_URL"` // OpenRouter, LiteLLM, Ollama, LMStudio
	Thinking  string `toml:"thinking" envconfig:"THINKING"` // reasoning effort: off|low|medium|high
}

// GatewayConfig controls retries of structured LLM calls.
type GatewayConfig struct {
	Attempts int           `toml:"attempts" envconfig:"ATTEMPTS"`
	Backoff  time.Duration `toml:"backoff" envconfig:"BACKOFF"`
}

// DispatchConfig controls backend calls.
type DispatchConfig struct {
	Timeout        time.Duration `toml:"timeout" envconfig:"TIMEOUT"`
	ReadRetries    int           `toml:"read_retries" envconfig:"READ_RETRIES"`
	ReadRetryDelay time.Duration `toml:"read_retry_delay" envconfig:"READ_RETRY_DELAY"`
	// PageSizes is the ladder of page sizes tried by directory listings.
	PageSizes []int `toml:"page_sizes" envconfig:"PAGE_SIZES"`
}

// RunnerConfig controls task scheduling and result export.
type RunnerConfig struct {
	Workers      int    `toml:"workers" envconfig:"WORKERS"`
	Runs         int    `toml:"runs" envconfig:"RUNS"`
	ExportPath   string `toml:"export_path" envconfig:"EXPORT_PATH"`
	Workspace    string `toml:"workspace" envconfig:"WORKSPACE"`
	Name         string `toml:"name" envconfig:"NAME"`
	Architecture string `toml:"architecture" envconfig:"ARCHITECTURE"`
}

// SandboxConfig selects the benchmark backend. With URL set tasks run
// against a remote sandbox; otherwise an embedded one is opened on DSN.
type SandboxConfig struct {
	DSN      string `toml:"dsn" envconfig:"DSN"`
	URL      string `toml:"url" envconfig:"URL"`
	Fixtures string `toml:"fixtures" envconfig:"FIXTURES"`
	Listen   string `toml:"listen" envconfig:"LISTEN"`
}

// TraceConfig controls where traces are streamed while runs execute.
type TraceConfig struct {
	Dir         string `toml:"dir"`
	NATSURL     string `toml:"nats_url"`
	NATSSubject string `toml:"nats_subject"`
}

// TelemetryConfig contains OTLP export settings.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"` // e.g. localhost:4317
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

// AgentsConfig points at agent and validator overrides.
type AgentsConfig struct {
	Overrides string `toml:"overrides"`
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Gateway: GatewayConfig{
			Attempts: 4,
			Backoff:  500 * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			Timeout:        30 * time.Second,
			ReadRetries:    2,
			ReadRetryDelay: 100 * time.Millisecond,
			PageSizes:      []int{5, 4, 3, 2, 1},
		},
		Runner: RunnerConfig{
			Workers:      4,
			Runs:         1,
			ExportPath:   "results",
			Workspace:    "default",
			Name:         "benchagent",
			Architecture: "orchestrator+validator",
		},
		Sandbox: SandboxConfig{
			DSN:    "benchagent.db",
			Listen: ":8080",
		},
		Trace: TraceConfig{
			Dir:         "sessions",
			NATSSubject: "benchagent.trace",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "benchagent",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file and applies environment
// overrides.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads benchagent.toml from the current directory, falling back
// to defaults when it does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := New()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFile(path)
}

// ApplyEnv overrides settings from BENCHAGENT_* environment variables, for
// example BENCHAGENT_LLM_MODEL or BENCHAGENT_RUNNER_WORKERS.
func (c *Config) ApplyEnv() error {
	groups := []struct {
		prefix string
		spec   interface{}
	}{
		{EnvPrefix + "_LLM", &c.LLM},
		{EnvPrefix + "_GATEWAY", &c.Gateway},
		{EnvPrefix + "_DISPATCH", &c.Dispatch},
		{EnvPrefix + "_RUNNER", &c.Runner},
		{EnvPrefix + "_SANDBOX", &c.Sandbox},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return fmt.Errorf("failed to read %s_* environment: %w", g.prefix, err)
		}
	}
	return nil
}

// Validate rejects settings the runner cannot work with.
func (c *Config) Validate() error {
	if c.Runner.Workers < 1 {
		return fmt.Errorf("runner.workers must be at least 1, got %d", c.Runner.Workers)
	}
	if c.Runner.Runs < 1 {
		return fmt.Errorf("runner.runs must be at least 1, got %d", c.Runner.Runs)
	}
	for _, n := range c.Dispatch.PageSizes {
		if n < 1 {
			return fmt.Errorf("dispatch.page_sizes must be positive, got %v", c.Dispatch.PageSizes)
		}
	}
	return nil
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	case "openrouter":
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
