package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/vinayprograms/benchagent/internal/config"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("benchagent"), kongVars(), kong.Exit(func(int) {}))
	if err != nil {
		t.Fatalf("kong.New: %v", err)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return &cli, ctx
}

func TestCLI_RunTaskMode(t *testing.T) {
	cli, ctx := parse(t, "run", "store", "-t", "1,2,6", "-r", "5", "-w", "10", "-v")
	if ctx.Command() != "run <benchmark>" {
		t.Errorf("unexpected command %q", ctx.Command())
	}
	if cli.Run.Benchmark != "store" {
		t.Errorf("expected benchmark store, got %q", cli.Run.Benchmark)
	}
	if strings.Join(cli.Run.Tasks, " ") != "1 2 6" {
		t.Errorf("unexpected tasks %v", cli.Run.Tasks)
	}
	if cli.Run.Runs != 5 || cli.Run.Workers != 10 || !cli.Run.Verbose {
		t.Errorf("unexpected flags %+v", cli.Run)
	}
}

func TestCLI_RunSessionMode(t *testing.T) {
	cli, _ := parse(t, "run", "directory")
	if len(cli.Run.Tasks) != 0 {
		t.Errorf("expected no tasks, got %v", cli.Run.Tasks)
	}
}

func TestCLI_Replay(t *testing.T) {
	cli, _ := parse(t, "replay", "a.jsonl", "b.jsonl", "-vv", "--no-pager")
	if len(cli.Replay.Sessions) != 2 || cli.Replay.Verbose != 2 || !cli.Replay.NoPager {
		t.Errorf("unexpected flags %+v", cli.Replay)
	}
}

func TestRunCmd_Apply(t *testing.T) {
	cfg := config.New()
	cmd := RunCmd{Runs: 3, Export: "out", Sandbox: "http://localhost:8080"}
	cmd.apply(cfg)

	if cfg.Runner.Runs != 3 {
		t.Errorf("expected runs 3, got %d", cfg.Runner.Runs)
	}
	if cfg.Runner.Workers != 4 {
		t.Errorf("unset workers flag should keep config, got %d", cfg.Runner.Workers)
	}
	if cfg.Runner.ExportPath != "out" || cfg.Sandbox.URL != "http://localhost:8080" {
		t.Errorf("flags not applied: %+v %+v", cfg.Runner, cfg.Sandbox)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.toml")
	if err := os.WriteFile(path, []byte("[llm]\nmodel = \"gpt-4.1\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.LLM.Model != "gpt-4.1" {
		t.Errorf("expected model from file, got %q", cfg.LLM.Model)
	}
}

func TestNewProvider_RequiresModel(t *testing.T) {
	cfg := config.New()
	if _, err := newProvider(cfg); err == nil {
		t.Error("expected error without a model")
	}
}

func TestExpandPatterns(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jsonl", "a.jsonl", "c.json"} {
		os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644)
	}

	files, err := expandPatterns([]string{filepath.Join(dir, "*.jsonl"), filepath.Join(dir, "a.jsonl"), "missing.jsonl"})
	if err != nil {
		t.Fatalf("expand error: %v", err)
	}
	want := []string{filepath.Join(dir, "a.jsonl"), filepath.Join(dir, "b.jsonl"), "missing.jsonl"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, files)
	}
}

func TestBanner(t *testing.T) {
	var buf bytes.Buffer
	banner(&buf, "TASK MODE", "Benchmark: store")
	out := buf.String()
	if !strings.Contains(out, "TASK MODE\nBenchmark: store\n") {
		t.Errorf("unexpected banner %q", out)
	}
	if strings.Count(out, strings.Repeat("=", 60)) != 2 {
		t.Errorf("expected two rules, got %q", out)
	}
}
