package runner

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunMeta describes a batch of task runs.
type RunMeta struct {
	Benchmark    string  `json:"benchmark"`
	TaskIndices  []int   `json:"task_indices"`
	NumRuns      int     `json:"num_runs"`
	SessionID    *string `json:"session_id"`
	TotalScore   float64 `json:"total_score"`
	NumTasks     int     `json:"num_tasks"`
	AvgScore     float64 `json:"avg_score"`
	Workspace    string  `json:"workspace"`
	Name         string  `json:"name"`
	Architecture string  `json:"architecture"`
	StartedAt    string  `json:"started_at"`
}

// RunResult is a batch's meta and its results sorted by task index.
type RunResult struct {
	Meta    RunMeta      `json:"meta"`
	Results []TaskResult `json:"results"`
}

// TaskIndices resolves task arguments: "all" selects every task of the
// benchmark, anything else must be an index.
func (r *Runner) TaskIndices(ctx context.Context, benchmark string, args []string) ([]int, error) {
	if len(args) == 1 && strings.EqualFold(args[0], "all") {
		info, err := r.cfg.Platform.Benchmark(ctx, benchmark)
		if err != nil {
			return nil, err
		}
		indices := make([]int, len(info.Tasks))
		for i, t := range info.Tasks {
			indices[i] = t.Index
		}
		return indices, nil
	}
	indices := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("task indices must be integers or 'all', got %q", a)
		}
		indices = append(indices, n)
	}
	return indices, nil
}

// RepeatTasks runs every task index runs times. All runs share the worker
// pool. Results come back sorted by task index.
func (r *Runner) RepeatTasks(ctx context.Context, benchmark string, indices []int, runs int) (*RunResult, error) {
	if runs < 1 {
		runs = 1
	}
	startedAt := time.Now()

	results := make([]*TaskResult, len(indices)*runs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, idx := range indices {
		for n := 0; n < runs; n++ {
			slot := i*runs + n
			idx := idx
			g.Go(func() error {
				task, err := r.cfg.Platform.StartTask(gctx, benchmark, idx)
				if err != nil {
					return fmt.Errorf("starting task %d: %w", idx, err)
				}
				results[slot] = r.RunTask(gctx, *task)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, idx := range indices {
		group := results[i*runs : (i+1)*runs]
		total, _ := scoreOf(group)
		r.printf("%s\nTask %d: %s\nTotal: %s/%d\n%s\n",
			strings.Repeat("#", 30), idx+1, group[0].TaskText, formatScore(total), len(group), strings.Repeat("#", 30))
	}

	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	res := r.collect(benchmark, sorted, runs, nil, startedAt, results)
	if err := r.export(res, "repeat_tasks"); err != nil {
		return res, err
	}
	return res, nil
}

// RunSession starts a session of every task of the benchmark and runs them
// all in parallel, printing each result as it finishes.
func (r *Runner) RunSession(ctx context.Context, benchmark string) (*RunResult, error) {
	startedAt := time.Now()
	sess, err := r.cfg.Platform.StartSession(ctx, benchmark)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	r.printf("Session %s: %d tasks\n", sess.SessionID, len(sess.Tasks))

	results := make([]*TaskResult, len(sess.Tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, task := range sess.Tasks {
		i, task := i, task
		g.Go(func() error {
			res := r.RunTask(gctx, task)
			results[i] = res
			r.printResult(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if status, err := r.cfg.Platform.Session(ctx, sess.SessionID); err != nil {
		r.logger.Warn("session status unavailable", map[string]interface{}{
			"session_id": sess.SessionID,
			"error":      err.Error(),
		})
	} else {
		r.logger.Info("session finished", map[string]interface{}{
			"session_id": sess.SessionID,
			"status":     status.Status,
		})
	}

	seen := map[int]bool{}
	var indices []int
	for _, t := range sess.Tasks {
		if !seen[t.Index] {
			seen[t.Index] = true
			indices = append(indices, t.Index)
		}
	}
	sort.Ints(indices)

	id := sess.SessionID
	res := r.collect(benchmark, indices, 1, &id, startedAt, results)
	total, scored := scoreOf(results)
	r.printf("%s\nSession: %s/%d\n%s\n", strings.Repeat("#", 30), formatScore(total), scored, strings.Repeat("#", 30))
	if err := r.export(res, "run_session"); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Runner) printResult(res *TaskResult) {
	icon := "✗"
	if res.Score != nil && *res.Score == 1.0 {
		icon = "✓"
	}
	logs := ""
	if res.EvalLogs != "" {
		logs = "\n  " + res.EvalLogs
	}
	score := "N/A"
	if res.Score != nil {
		score = formatScore(*res.Score)
	}
	r.printf("%s Task #%d: %s\n  Score: %s%s\n", icon, res.TaskIndex+1, truncate(res.TaskText, 60), score, logs)
}

// collect sorts results by task index and computes the batch meta. The
// average is taken over scored results only.
func (r *Runner) collect(benchmark string, indices []int, runs int, sessionID *string, startedAt time.Time, results []*TaskResult) *RunResult {
	out := make([]TaskResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TaskIndex < out[j].TaskIndex })

	total, scored := scoreOf(results)
	avg := 0.0
	if scored > 0 {
		avg = total / float64(scored)
	}
	return &RunResult{
		Meta: RunMeta{
			Benchmark:    benchmark,
			TaskIndices:  indices,
			NumRuns:      runs,
			SessionID:    sessionID,
			TotalScore:   total,
			NumTasks:     len(out),
			AvgScore:     avg,
			Workspace:    r.cfg.Workspace,
			Name:         r.cfg.Name,
			Architecture: r.cfg.Architecture,
			StartedAt:    startedAt.Format("2006-01-02T15:04:05.000000"),
		},
		Results: out,
	}
}

// scoreOf sums the scores and counts the scored results.
func scoreOf(results []*TaskResult) (float64, int) {
	var total float64
	var scored int
	for _, res := range results {
		if res == nil || res.Score == nil {
			continue
		}
		total += *res.Score
		scored++
	}
	return total, scored
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
