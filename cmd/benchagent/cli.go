// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Run benchmark tasks"`
	Serve   ServeCmd   `cmd:"" help:"Serve the benchmark sandbox over HTTP"`
	Replay  ReplayCmd  `cmd:"" help:"Replay task traces"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd runs a benchmark. Without --tasks every task runs once in a session;
// with --tasks the selected tasks run --runs times each.
type RunCmd struct {
	Benchmark string   `arg:"" help:"Benchmark to run (store, directory or a fixture name)"`
	Tasks     []string `short:"t" placeholder:"INDEX" help:"Task indices (comma-separated) or 'all'. Runs tasks without a session."`
	Runs      int      `short:"r" help:"Number of times to run each task (task mode only)"`
	Workers   int      `short:"w" help:"Max parallel task runs"`
	Verbose   bool     `short:"v" help:"Print each task's score and evaluation as it finishes"`
	Config    string   `help:"Config file path"`
	Agents    string   `help:"Agent and validator override file (YAML)"`
	Export    string   `help:"Directory to export results to"`
	Sandbox   string   `help:"Remote sandbox URL (default: embedded sandbox)"`
}

// ServeCmd serves the sandbox API.
type ServeCmd struct {
	Config   string `help:"Config file path"`
	Listen   string `short:"l" help:"Address to listen on"`
	DSN      string `help:"SQLite database path"`
	Fixtures string `help:"Directory of extra benchmark definitions"`
}

// ReplayCmd replays sessions for analysis.
type ReplayCmd struct {
	Sessions []string `arg:"" help:"Session or result file(s) to replay (supports glob patterns)"`
	Verbose  int      `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
	NoPager  bool     `help:"Disable pager for output"`
	Live     bool     `help:"Follow a session while its run is in progress"`
	MaxSize  int      `help:"Truncate prompt and reasoning blocks to this many bytes" default:"0"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
