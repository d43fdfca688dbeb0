package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vinayprograms/benchagent/internal/config"
	"github.com/vinayprograms/benchagent/internal/dispatch"
	"github.com/vinayprograms/benchagent/internal/llmcall"
	"github.com/vinayprograms/benchagent/internal/registry"
	"github.com/vinayprograms/benchagent/internal/runner"
	"github.com/vinayprograms/benchagent/internal/sandbox"
	"github.com/vinayprograms/benchagent/internal/session"
	"github.com/vinayprograms/benchagent/internal/telemetry"
	"github.com/vinayprograms/benchagent/internal/trace"
)

// loadConfig reads path, or benchagent.toml from the working directory when
// path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.LoadDefault()
}

// apply copies the flags that were set over the loaded configuration.
func (c *RunCmd) apply(cfg *config.Config) {
	if c.Runs > 0 {
		cfg.Runner.Runs = c.Runs
	}
	if c.Workers > 0 {
		cfg.Runner.Workers = c.Workers
	}
	if c.Agents != "" {
		cfg.Agents.Overrides = c.Agents
	}
	if c.Export != "" {
		cfg.Runner.ExportPath = c.Export
	}
	if c.Sandbox != "" {
		cfg.Sandbox.URL = c.Sandbox
	}
}

// Run executes the benchmark.
func (c *RunCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	c.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	platform, closePlatform, err := newPlatform(cfg)
	if err != nil {
		return err
	}
	defer closePlatform()

	var overrides *registry.Overrides
	if cfg.Agents.Overrides != "" {
		if overrides, err = registry.LoadOverrides(cfg.Agents.Overrides); err != nil {
			return err
		}
	}

	var sessions *session.FileStore
	if cfg.Trace.Dir != "" {
		if sessions, err = session.NewFileStore(cfg.Trace.Dir); err != nil {
			return err
		}
	}

	var publisher *trace.NATSPublisher
	if cfg.Trace.NATSURL != "" {
		if publisher, err = trace.DialNATS(cfg.Trace.NATSURL, cfg.Trace.NATSSubject); err != nil {
			return err
		}
		defer publisher.Close()
	}

	r := runner.New(runner.Config{
		Platform: platform,
		Gateway: llmcall.New(llmcall.Config{
			Provider:        provider,
			Attempts:        cfg.Gateway.Attempts,
			Backoff:         cfg.Gateway.Backoff,
			ReasoningEffort: cfg.LLM.Thinking,
		}),
		Model: cfg.LLM.Model,
		Dispatch: dispatch.Config{
			Timeout:        cfg.Dispatch.Timeout,
			ReadRetries:    cfg.Dispatch.ReadRetries,
			ReadRetryDelay: cfg.Dispatch.ReadRetryDelay,
			Ladder:         cfg.Dispatch.PageSizes,
		},
		Overrides:    overrides,
		Sessions:     sessions,
		Publisher:    publisher,
		Workers:      cfg.Runner.Workers,
		Verbose:      c.Verbose,
		ExportPath:   cfg.Runner.ExportPath,
		Workspace:    cfg.Runner.Workspace,
		Name:         cfg.Runner.Name,
		Architecture: cfg.Runner.Architecture,
		Output:       os.Stdout,
	})

	var res *runner.RunResult
	if len(c.Tasks) == 0 {
		if c.Runs > 1 {
			fmt.Println("Warning: --runs is ignored in session mode (running full session)")
		}
		banner(os.Stdout, "SESSION MODE", "Benchmark: "+c.Benchmark)
		res, err = r.RunSession(ctx, c.Benchmark)
	} else {
		indices, ierr := r.TaskIndices(ctx, c.Benchmark, c.Tasks)
		if ierr != nil {
			return ierr
		}
		banner(os.Stdout, "TASK MODE (no session created)",
			"Benchmark: "+c.Benchmark,
			fmt.Sprintf("Tasks: %v", indices),
			fmt.Sprintf("Runs per task: %d", cfg.Runner.Runs),
		)
		res, err = r.RepeatTasks(ctx, c.Benchmark, indices, cfg.Runner.Runs)
	}
	if res != nil {
		runner.PrintSummary(os.Stdout, res)
	}
	if sessions != nil {
		fmt.Printf("Traces: %s (replay with: benchagent replay %s/*.jsonl)\n", sessions.Dir(), sessions.Dir())
	}
	return err
}

// newPlatform connects to the remote sandbox when a URL is configured and
// otherwise opens the embedded one.
func newPlatform(cfg *config.Config) (sandbox.Platform, func(), error) {
	if cfg.Sandbox.URL != "" {
		return sandbox.NewRemote(cfg.Sandbox.URL, cfg.Dispatch.Timeout), func() {}, nil
	}
	sb, err := sandbox.New(sandbox.Config{DSN: cfg.Sandbox.DSN, FixturesDir: cfg.Sandbox.Fixtures})
	if err != nil {
		return nil, nil, fmt.Errorf("opening sandbox: %w", err)
	}
	return sb, func() { sb.Close() }, nil
}

func banner(w io.Writer, title string, lines ...string) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\n%s\n", rule, title)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	fmt.Fprintf(w, "%s\n\n", rule)
}
