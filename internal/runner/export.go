package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// export writes the batch to <ExportPath>/<prefix>_<timestamp>.json and a
// copy without traces to <ExportPath>/summary/. Nothing is written when no
// export path is configured.
func (r *Runner) export(res *RunResult, prefix string) error {
	if r.cfg.ExportPath == "" {
		return nil
	}
	full, summary, err := Export(res, r.cfg.ExportPath, prefix)
	if err != nil {
		return err
	}
	r.printf("Results saved to: %s\nSummary saved to: %s\n", full, summary)
	return nil
}

// Export saves res and returns the paths of the full and summary files.
func Export(res *RunResult, dir, prefix string) (string, string, error) {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(res.Meta.StartedAt)
	name := fmt.Sprintf("%s_%s.json", prefix, stamp)

	full := filepath.Join(dir, name)
	if err := writeJSON(full, res); err != nil {
		return "", "", err
	}

	brief := *res
	brief.Results = make([]TaskResult, len(res.Results))
	for i, tr := range res.Results {
		tr.Trace = nil
		brief.Results[i] = tr
	}
	summary := filepath.Join(dir, "summary", name)
	if err := writeJSON(summary, &brief); err != nil {
		return "", "", err
	}
	return full, summary, nil
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// PrintSummary writes the batch totals and a per-task reliability table.
func PrintSummary(w io.Writer, res *RunResult) {
	m := res.Meta
	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 60))
	fmt.Fprintln(w, "Results Summary:")
	fmt.Fprintf(w, "  Benchmark: %s\n", m.Benchmark)
	fmt.Fprintf(w, "  Score: %s/%d\n", formatScore(m.TotalScore), m.NumTasks)
	fmt.Fprintf(w, "  Average: %.2f\n", m.AvgScore)
	fmt.Fprintf(w, "  Tasks: %v\n", m.TaskIndices)
	if m.NumRuns > 1 {
		fmt.Fprintf(w, "  Runs per task: %d\n", m.NumRuns)
	}
	if m.SessionID != nil {
		fmt.Fprintf(w, "  Session: %s\n", *m.SessionID)
	}
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", 60))

	if len(res.Results) > 0 {
		fmt.Fprintln(w, Table(res))
	}
}

// Table renders one row per task index: how many runs scored, the result
// codes seen and the task text.
func Table(res *RunResult) string {
	type row struct {
		text   string
		runs   int
		total  float64
		scored int
		codes  map[string]int
	}
	rows := map[int]*row{}
	for _, tr := range res.Results {
		r, ok := rows[tr.TaskIndex]
		if !ok {
			r = &row{text: tr.TaskText, codes: map[string]int{}}
			rows[tr.TaskIndex] = r
		}
		r.runs++
		r.codes[tr.Code]++
		if tr.Score != nil {
			r.total += *tr.Score
			r.scored++
		}
	}
	indices := make([]int, 0, len(rows))
	for idx := range rows {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TASK", "SCORE", "CODES", "TEXT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, idx := range indices {
		r := rows[idx]
		t.Row(
			strconv.Itoa(idx+1),
			fmt.Sprintf("%s/%d", formatScore(r.total), r.runs),
			codeCounts(r.codes),
			truncate(r.text, 60),
		)
	}
	return t.String()
}

func codeCounts(codes map[string]int) string {
	var parts []string
	for _, c := range []string{CodeCompleted, CodeRefused, CodeTimeout, CodeError} {
		if n := codes[c]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s×%d", c, n))
		}
	}
	return strings.Join(parts, " ")
}
