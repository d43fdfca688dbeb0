package replay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/trace"
)

// formatEvent writes one trace node, indented by its depth.
func (r *Replayer) formatEvent(e *trace.Event) {
	indent := strings.Repeat("  ", e.Depth+1)
	prefix := nodeStyle.Render(e.NodeID) + dimStyle.Render(" │ ") + indent
	timing := dimStyle.Render(fmt.Sprintf("(%.2fs)", e.Timing))

	if e.Event == trace.EventValidatorStep {
		r.fmtValidator(prefix, timing, e)
		return
	}

	out, _ := e.Output.(map[string]interface{})
	if msg, ok := out["error"].(string); ok {
		fmt.Fprintf(r.output, "%s%s %s %s\n", prefix, flowStyle.Render(e.Agent), errorStyle.Render("failed: "+msg), timing)
		return
	}

	tools := toolsOf(out)
	switch {
	case e.SubagentResult != nil:
		sub := e.SubagentResult
		fmt.Fprintf(r.output, "%s%s %s %s %s\n", prefix, flowStyle.Render(e.Agent),
			subagentStyle.Render("⇢ "+sub.SubagentName), statusStyle(sub.Status).Render(sub.Status), timing)
		if r.verbosity > 0 && sub.Report != "" {
			r.printBlock(indent, "report", sub.Report, subagentDimStyle.Render)
		}
	case len(tools) == 1 && action.KindOf(tools[0]) == action.KindTerminal:
		term := terminalOf(out)
		fmt.Fprintf(r.output, "%s%s %s %s %s\n", prefix, flowStyle.Render(e.Agent),
			titleStyle.Render("■ "+tools[0]), statusStyle(term.Status()).Render(orDefault(term.Outcome, term.Status())), timing)
		if text := term.Text(); text != "" {
			r.printBlock(indent, "", text, valueStyle.Render)
		}
	case len(tools) > 0:
		fmt.Fprintf(r.output, "%s%s %s %s\n", prefix, flowStyle.Render(e.Agent),
			toolStyle.Render("→ "+strings.Join(tools, ", ")), timing)
	default:
		fmt.Fprintf(r.output, "%s%s %s\n", prefix, flowStyle.Render(e.Agent), timing)
	}

	if next, ok := out["next_action"].(string); ok && next != "" {
		fmt.Fprintf(r.output, "%s%s%s\n", strings.Repeat(" ", 12), indent, dimStyle.Render("  "+next))
	}
	for _, tc := range e.ToolCalls {
		fmt.Fprintf(r.output, "%s%s  %s %s\n", strings.Repeat(" ", 12), indent, toolStyle.Render("↳"), truncateHint(compact(tc.Request), 100))
		if r.verbosity > 0 {
			r.printBlock(indent, "response", compact(tc.Response), dimStyle.Render)
		}
	}
	if r.verbosity > 0 && e.Reasoning != nil && *e.Reasoning != "" {
		r.printBlock(indent, "reasoning", *e.Reasoning, dimStyle.Render)
	}
	if r.verbosity > 1 {
		for _, m := range e.InputMessages {
			r.printBlock(indent, m.Role, m.Content, dimStyle.Render)
		}
	}
}

func (r *Replayer) fmtValidator(prefix, timing string, e *trace.Event) {
	out, _ := e.Output.(map[string]interface{})
	name := orDefault(e.ValidatorName, "validator")
	if msg, ok := out["error"].(string); ok {
		fmt.Fprintf(r.output, "%s%s %s %s\n", prefix, validatorStyle.Render("? "+name),
			warnStyle.Render("approved on error: "+msg), timing)
		return
	}
	if e.Passed() {
		fmt.Fprintf(r.output, "%s%s %s %s\n", prefix, validatorStyle.Render("✓ "+name),
			successStyle.Render("approved "+e.ValidatesNodeID), timing)
	} else {
		fmt.Fprintf(r.output, "%s%s %s %s\n", prefix, validatorStyle.Render("✗ "+name),
			errorStyle.Render("rejected "+e.ValidatesNodeID), timing)
		if msg, _ := out["rejection_message"].(string); msg != "" {
			r.printBlock(strings.Repeat("  ", e.Depth+1), "", msg, warnStyle.Render)
		}
	}
	if r.verbosity > 0 {
		if analysis, _ := out["analysis"].(string); analysis != "" {
			r.printBlock(strings.Repeat("  ", e.Depth+1), "analysis", analysis, dimStyle.Render)
		}
	}
}

// printBlock writes content under the current node, limited to the
// configured size.
func (r *Replayer) printBlock(indent, label, content string, render func(...string) string) {
	if r.maxContentSize > 0 && len(content) > r.maxContentSize {
		content = content[:r.maxContentSize] + fmt.Sprintf("\n... [truncated, %d bytes total]", len(content))
	}
	pad := strings.Repeat(" ", 12) + indent + "  "
	if label != "" {
		fmt.Fprintf(r.output, "%s%s\n", pad, blockHeaderStyle.Render(label+":"))
	}
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(r.output, "%s%s\n", pad, render(line))
	}
}

// toolsOf extracts the tools named by a decision output.
func toolsOf(out map[string]interface{}) []string {
	call, _ := out["call"].(map[string]interface{})
	if call == nil {
		return nil
	}
	if fn, ok := call["function"].(map[string]interface{}); ok {
		if tool, _ := fn["tool"].(string); tool != "" {
			return []string{tool}
		}
	}
	var tools []string
	fns, _ := call["functions"].([]interface{})
	for _, f := range fns {
		if fn, ok := f.(map[string]interface{}); ok {
			if tool, _ := fn["tool"].(string); tool != "" {
				tools = append(tools, tool)
			}
		}
	}
	return tools
}

// terminalOf decodes the terminal payload of a decision output.
func terminalOf(out map[string]interface{}) action.Terminal {
	var term action.Terminal
	call, _ := out["call"].(map[string]interface{})
	if fn, ok := call["function"]; ok {
		data, _ := json.Marshal(fn)
		_ = json.Unmarshal(data, &term)
	}
	return term
}

func compact(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func truncateHint(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case action.StatusCompleted, "complete", action.OutcomeSuccess, action.OutcomeOKAnswer, action.OutcomeOKNotFound:
		return successStyle
	case action.StatusRefused, "failed", "error", action.OutcomeFailure:
		return errorStyle
	}
	return warnStyle
}
