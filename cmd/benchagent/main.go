// Package main is the entry point for the benchmark agent CLI.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	// Load .env for API keys and BENCHAGENT_* overrides
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("benchagent"),
		kong.Description("Run multi-agent benchmark tasks against a sandbox and replay their traces."),
		kong.UsageOnError(),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

// Run prints the version.
func (c *VersionCmd) Run() error {
	fmt.Printf("benchagent version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
