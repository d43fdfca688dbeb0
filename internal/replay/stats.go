package replay

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/vinayprograms/benchagent/internal/session"
	"github.com/vinayprograms/benchagent/internal/trace"
)

// AgentStats aggregates the steps of one agent.
type AgentStats struct {
	Steps   int
	TotalMs int64
}

// Stats holds aggregate statistics for a session.
type Stats struct {
	AgentSteps  int
	ToolCalls   int
	Delegations int
	MaxDepth    int

	// Sum of step timings; steps of different agents may overlap.
	LLMTotalMs int64
	LLMAvgMs   int64

	ValidatorCalls   int
	Rejections       int
	ValidatorErrors  int
	ValidatorTotalMs int64

	Agents map[string]*AgentStats
}

// ComputeStats calculates aggregate statistics from the session trace.
func ComputeStats(sess *session.Session) *Stats {
	stats := &Stats{Agents: make(map[string]*AgentStats)}
	calls := 0

	for i := range sess.Events {
		e := &sess.Events[i]
		ms := int64(e.Timing * 1000)
		calls++
		stats.LLMTotalMs += ms
		if e.Depth > stats.MaxDepth {
			stats.MaxDepth = e.Depth
		}

		if e.Event == trace.EventValidatorStep {
			stats.ValidatorCalls++
			stats.ValidatorTotalMs += ms
			if !e.Passed() {
				stats.Rejections++
			}
			if out, ok := e.Output.(map[string]interface{}); ok {
				if _, failed := out["error"]; failed {
					stats.ValidatorErrors++
				}
			}
			continue
		}

		stats.AgentSteps++
		stats.ToolCalls += len(e.ToolCalls)
		if e.SubagentResult != nil {
			stats.Delegations++
		}
		a := stats.Agents[e.Agent]
		if a == nil {
			a = &AgentStats{}
			stats.Agents[e.Agent] = a
		}
		a.Steps++
		a.TotalMs += ms
	}

	if calls > 0 {
		stats.LLMAvgMs = stats.LLMTotalMs / int64(calls)
	}
	return stats
}

// PrintStats outputs the statistics to the writer.
func PrintStats(w io.Writer, stats *Stats) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("15"))

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("═══════════════════════════════════════════════════════════════════"))
	fmt.Fprintln(w, headerStyle.Render("                          RUN STATISTICS                            "))
	fmt.Fprintln(w, headerStyle.Render("═══════════════════════════════════════════════════════════════════"))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Agent steps:"), valueStyle.Render(fmt.Sprintf("%d", stats.AgentSteps)))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Tool calls: "), valueStyle.Render(fmt.Sprintf("%d", stats.ToolCalls)))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Delegations:"), valueStyle.Render(fmt.Sprintf("%d", stats.Delegations)))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Max depth:  "), valueStyle.Render(fmt.Sprintf("%d", stats.MaxDepth)))
	fmt.Fprintln(w)

	if stats.AgentSteps+stats.ValidatorCalls > 0 {
		fmt.Fprintln(w, headerStyle.Render("LLM Response Times:"))
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Total:"), valueStyle.Render(formatDuration(stats.LLMTotalMs)))
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Average:"), valueStyle.Render(formatDuration(stats.LLMAvgMs)))
		fmt.Fprintln(w)
	}

	if stats.ValidatorCalls > 0 {
		fmt.Fprintln(w, headerStyle.Render("Validation:"))
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Calls:"), valueStyle.Render(fmt.Sprintf("%d", stats.ValidatorCalls)))
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Rejections:"), valueStyle.Render(fmt.Sprintf("%d", stats.Rejections)))
		if stats.ValidatorErrors > 0 {
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Errors:"), valueStyle.Render(fmt.Sprintf("%d", stats.ValidatorErrors)))
		}
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Total:"), valueStyle.Render(formatDuration(stats.ValidatorTotalMs)))
		fmt.Fprintln(w)
	}

	if len(stats.Agents) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Agents:"))
		var names []string
		for n := range stats.Agents {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			a := stats.Agents[n]
			fmt.Fprintf(w, "  %s %s %s\n",
				labelStyle.Render(n+":"),
				valueStyle.Render(fmt.Sprintf("%d steps", a.Steps)),
				labelStyle.Render(fmt.Sprintf("(%s)", formatDuration(a.TotalMs))))
		}
		fmt.Fprintln(w)
	}
}

// formatDuration formats milliseconds as human-readable duration.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.2fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm%ds", mins, secs)
}
