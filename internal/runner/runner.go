// Package runner runs benchmark tasks against a platform and collects the
// scored results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/conversation"
	"github.com/vinayprograms/benchagent/internal/dispatch"
	"github.com/vinayprograms/benchagent/internal/executor"
	"github.com/vinayprograms/benchagent/internal/llmcall"
	"github.com/vinayprograms/benchagent/internal/registry"
	"github.com/vinayprograms/benchagent/internal/sandbox"
	"github.com/vinayprograms/benchagent/internal/session"
	"github.com/vinayprograms/benchagent/internal/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Result codes of a task run.
const (
	CodeCompleted = "completed"
	CodeRefused   = "refused"
	CodeTimeout   = "timeout"
	CodeError     = "error"
)

// timeoutSummary is reported when the entry agent runs out of steps.
const timeoutSummary = "Orchestrator exceeded maximum steps limit"

// TaskResult is the outcome of one task run.
type TaskResult struct {
	TaskID          string                    `json:"task_id"`
	TaskIndex       int                       `json:"task_index"`
	TaskText        string                    `json:"task_text"`
	Benchmark       string                    `json:"benchmark"`
	Code            string                    `json:"code"`
	Summary         string                    `json:"summary"`
	Score           *float64                  `json:"score"`
	EvalLogs        string                    `json:"eval_logs,omitempty"`
	Trace           []trace.Event             `json:"trace,omitempty"`
	OrchestratorLog conversation.Conversation `json:"orchestrator_log,omitempty"`
	SessionFile     string                    `json:"session_file,omitempty"`
}

// Config configures a Runner.
type Config struct {
	Platform sandbox.Platform
	Gateway  *llmcall.Gateway
	// Model is the name usage is reported under.
	Model string
	// Dispatch is the template for each task's dispatcher; Client is set per
	// task.
	Dispatch dispatch.Config
	// Overrides are applied to every benchmark registry.
	Overrides *registry.Overrides
	// Sessions, when set, records every run to a session file.
	Sessions *session.FileStore
	// Publisher, when set, streams every run's events.
	Publisher *trace.NATSPublisher

	Workers int
	// Verbose prints each task's score and evaluation logs as it finishes.
	Verbose bool

	ExportPath   string
	Workspace    string
	Name         string
	Architecture string
	Output       io.Writer
}

// Runner runs tasks concurrently. Each task run owns its trace, conversation
// and backend client; the gateway and registries are shared.
type Runner struct {
	cfg    Config
	runID  string
	out    io.Writer
	outMu  sync.Mutex
	logger *logging.Logger
	tracer oteltrace.Tracer

	mu         sync.Mutex
	registries map[string]*registry.Registry
}

// New creates a runner.
func New(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return &Runner{
		cfg:        cfg,
		runID:      uuid.NewString(),
		out:        out,
		logger:     logging.New().WithComponent("runner"),
		tracer:     otel.Tracer("benchagent/runner"),
		registries: make(map[string]*registry.Registry),
	}
}

// RunID identifies this runner's batch in session files and live streams.
func (r *Runner) RunID() string {
	return r.runID
}

// registry returns the agent set for a benchmark, with overrides applied.
func (r *Runner) registry(ctx context.Context, benchmark string) (*registry.Registry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.registries[benchmark]; ok {
		return reg, nil
	}

	info, err := r.cfg.Platform.Benchmark(ctx, benchmark)
	if err != nil {
		return nil, fmt.Errorf("loading benchmark %s: %w", benchmark, err)
	}
	reg, err := registry.For(info.Kind)
	if err != nil {
		return nil, err
	}
	if r.cfg.Overrides != nil {
		if reg, err = reg.Apply(r.cfg.Overrides); err != nil {
			return nil, err
		}
	}
	r.registries[benchmark] = reg
	return reg, nil
}

// RunTask runs the entry agent on a started task and scores it. The task is
// always completed on the platform, whatever the agent did, so a result is
// returned for every task.
func (r *Runner) RunTask(ctx context.Context, task sandbox.TaskInfo) *TaskResult {
	ctx, span := r.tracer.Start(ctx, "task",
		oteltrace.WithAttributes(
			attribute.String("task.id", task.TaskID),
			attribute.String("task.benchmark", task.Benchmark),
			attribute.Int("task.index", task.Index),
		),
	)
	defer span.End()

	start := time.Now()
	res := &TaskResult{
		TaskID:    task.TaskID,
		TaskIndex: task.Index,
		TaskText:  task.Text,
		Benchmark: task.Benchmark,
	}

	tr, rec := r.traceFor(task)
	if rec != nil {
		res.SessionFile = rec.Path()
	}

	r.execute(ctx, task, tr, res)

	completion, err := r.cfg.Platform.CompleteTask(ctx, task.TaskID)
	if err != nil {
		r.logger.Error("complete task failed", map[string]interface{}{
			"task_id": task.TaskID,
			"error":   err.Error(),
		})
		res.EvalLogs = fmt.Sprintf("complete task failed: %v", err)
	} else {
		res.Score = completion.Score
		res.EvalLogs = completion.Logs
	}
	res.Trace = tr.Events()

	if rec != nil {
		footer := session.Footer{Code: res.Code, Summary: res.Summary, Score: res.Score}
		if res.Code == CodeError {
			footer.Error = res.Summary
		}
		if err := rec.Close(footer); err != nil {
			r.logger.Warn("session close failed", map[string]interface{}{
				"session": rec.ID(),
				"error":   err.Error(),
			})
		}
	}

	span.SetAttributes(attribute.String("task.code", res.Code))
	if res.Code == CodeError {
		span.SetStatus(codes.Error, res.Summary)
	}
	fields := map[string]interface{}{
		"task_id":  task.TaskID,
		"index":    task.Index,
		"code":     res.Code,
		"events":   len(res.Trace),
		"duration": time.Since(start).Seconds(),
	}
	if res.Score != nil {
		fields["score"] = *res.Score
	}
	r.logger.Info("task finished", fields)
	if r.cfg.Verbose {
		score := "N/A"
		if res.Score != nil {
			score = formatScore(*res.Score)
		}
		r.printf("Task #%d %s: %s\nScore: %s\n", task.Index+1, res.Code, res.Summary, score)
		if res.EvalLogs != "" {
			r.printf("Eval: %s\n", res.EvalLogs)
		}
	}
	return res
}

// execute runs the agents and fills in code, summary and log.
func (r *Runner) execute(ctx context.Context, task sandbox.TaskInfo, tr *trace.Trace, res *TaskResult) {
	reg, err := r.registry(ctx, task.Benchmark)
	if err != nil {
		res.Code = CodeError
		res.Summary = err.Error()
		return
	}

	dcfg := r.cfg.Dispatch
	dcfg.Client = r.cfg.Platform.TaskClient(task.TaskID)
	run := &executor.Run{
		Task:       task.Text,
		Dispatcher: dispatch.New(dcfg),
		Trace:      tr,
		Usage: &llmcall.TaskContext{
			Sink:   usageSink{platform: r.cfg.Platform},
			TaskID: task.TaskID,
			Model:  r.cfg.Model,
		},
	}

	out, err := executor.New(executor.Config{Registry: reg, Gateway: r.cfg.Gateway}).Execute(ctx, run)
	var limit *executor.StepLimitError
	switch {
	case errors.As(err, &limit):
		res.Code = CodeTimeout
		res.Summary = timeoutSummary
		res.OrchestratorLog = limit.Log
	case err != nil:
		r.logger.Error("task run failed", map[string]interface{}{
			"task_id": task.TaskID,
			"error":   err.Error(),
		})
		res.Code = CodeError
		res.Summary = err.Error()
	default:
		res.Code = CodeRefused
		if out.Status == action.StatusCompleted {
			res.Code = CodeCompleted
		}
		res.Summary = out.Report
		res.OrchestratorLog = out.Log
	}
}

// traceFor builds the run's trace with its session recorder and live
// publisher subscribed. A session that cannot be created is logged and skipped.
func (r *Runner) traceFor(task sandbox.TaskInfo) (*trace.Trace, *session.Recorder) {
	tr := trace.New()
	var rec *session.Recorder
	if r.cfg.Sessions != nil {
		var err error
		rec, err = r.cfg.Sessions.Create(session.Header{
			RunID:     r.runID,
			Benchmark: task.Benchmark,
			TaskID:    task.TaskID,
			TaskIndex: task.Index,
			TaskText:  task.Text,
		})
		if err != nil {
			r.logger.Warn("session not recorded", map[string]interface{}{
				"task_id": task.TaskID,
				"error":   err.Error(),
			})
		} else {
			tr.Subscribe(rec)
		}
	}
	if r.cfg.Publisher != nil {
		tr.Subscribe(r.cfg.Publisher.ForRun(task.TaskID))
	}
	return tr, rec
}

// usageSink reports LLM usage to the platform.
type usageSink struct {
	platform sandbox.Platform
}

func (u usageSink) LogLLM(ctx context.Context, taskID string, usage llmcall.Usage) error {
	return u.platform.LogUsage(ctx, taskID, sandbox.UsageRecord{
		Model:        usage.Model,
		DurationMS:   usage.Duration.Milliseconds(),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	})
}

// printf writes to the runner's output; concurrent task runs share it.
func (r *Runner) printf(format string, args ...interface{}) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}
