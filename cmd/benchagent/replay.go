package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vinayprograms/benchagent/internal/replay"
)

// Run replays one or more sessions.
func (c *ReplayCmd) Run() error {
	files, err := expandPatterns(c.Sessions)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no session files match %v", c.Sessions)
	}

	interactive := !c.NoPager && isTerminal(os.Stdout)

	if c.Live {
		if len(files) != 1 {
			return fmt.Errorf("--live follows exactly one session, got %d", len(files))
		}
		if !interactive {
			return fmt.Errorf("--live needs a terminal")
		}
		return c.replayer().ReplayFileLive(files[0])
	}

	if len(files) == 1 {
		r := c.replayer()
		if interactive {
			return r.ReplayFileInteractive(files[0])
		}
		return r.ReplayFile(files[0])
	}

	m := replay.NewMulti(os.Stdout, c.Verbose)
	if interactive {
		return m.ReplayFilesInteractive(files)
	}
	return m.ReplayFiles(files)
}

func (c *ReplayCmd) replayer() *replay.Replayer {
	var opts []replay.ReplayerOption
	if c.MaxSize > 0 {
		opts = append(opts, replay.WithMaxContentSize(c.MaxSize))
	}
	return replay.New(os.Stdout, c.Verbose, opts...)
}

// expandPatterns expands glob patterns. Arguments without glob characters are
// kept as given so a missing file reports its own error.
func expandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			matches = []string{p}
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}
