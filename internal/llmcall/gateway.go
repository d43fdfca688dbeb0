// Package llmcall is the single entry point for structured LLM calls. It
// retries transient failures, parses the reply into a typed value, and
// reports usage to the benchmark backend.
package llmcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/benchagent/internal/conversation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultAttempts = 4
	DefaultBackoff  = 500 * time.Millisecond
)

// Schema names the shape the model must answer with.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]interface{}
}

// instruction renders the schema as the trailing part of a system prompt.
func (s Schema) instruction() string {
	var sb strings.Builder
	sb.WriteString("\n\nRespond with a single JSON object")
	if s.Name != "" {
		sb.WriteString(fmt.Sprintf(" of type %s", s.Name))
	}
	if s.Description != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", s.Description))
	}
	sb.WriteString(" and nothing else.")
	if len(s.Definition) > 0 {
		def, _ := json.MarshalIndent(s.Definition, "", "  ")
		sb.WriteString("\nJSON schema:\n")
		sb.Write(def)
	}
	return sb.String()
}

// Usage is what one successful call cost.
type Usage struct {
	Model        string
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
}

// UsageSink receives usage reports for a task.
type UsageSink interface {
	LogLLM(ctx context.Context, taskID string, usage Usage) error
}

// TaskContext ties calls to the task they are made for.
type TaskContext struct {
	Sink   UsageSink
	TaskID string
	Model  string
}

// Config configures a Gateway.
type Config struct {
	Provider        llm.Provider
	Attempts        int
	Backoff         time.Duration
	ReasoningEffort string
}

// Gateway wraps an llm.Provider with retries and structured parsing. It holds
// no per-task state and is shared by all concurrent task runs.
type Gateway struct {
	provider llm.Provider
	attempts int
	backoff  time.Duration
	effort   string
	logger   *logging.Logger
	tracer   trace.Tracer
	sleep    func(context.Context, time.Duration) error
}

// New creates a gateway.
func New(cfg Config) *Gateway {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	backoff := cfg.Backoff
	if backoff == 0 {
		backoff = DefaultBackoff
	}
	return &Gateway{
		provider: cfg.Provider,
		attempts: attempts,
		backoff:  backoff,
		effort:   cfg.ReasoningEffort,
		logger:   logging.New().WithComponent("gateway"),
		tracer:   otel.Tracer("benchagent/llmcall"),
		sleep:    sleepContext,
	}
}

// Request is one structured call.
type Request struct {
	Schema       Schema
	SystemPrompt string
	Messages     conversation.Conversation
	Task         *TaskContext
}

// Result carries what the call produced besides the parsed value.
type Result struct {
	Output    map[string]interface{}
	Reasoning string
	Timing    time.Duration
}

// Call sends req and decodes the reply into out. The last error is returned
// once every attempt has failed.
func (g *Gateway) Call(ctx context.Context, req Request, out interface{}) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "llm.call")
	span.SetAttributes(
		attribute.String("llm.schema", req.Schema.Name),
		attribute.String("llm.reasoning_effort", g.effort),
	)
	defer span.End()

	messages := make([]llm.Message, 0, len(req.Messages)+1)
	messages = append(messages, llm.Message{Role: conversation.RoleSystem, Content: req.SystemPrompt + req.Schema.instruction()})
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		start := time.Now()
		resp, err := g.provider.Chat(ctx, llm.ChatRequest{Messages: messages})
		elapsed := time.Since(start)
		if err == nil {
			var output map[string]interface{}
			output, err = decode(resp.Content, out)
			if err == nil {
				g.reportUsage(ctx, req.Task, resp, elapsed)
				span.SetAttributes(attribute.Int("llm.attempts", attempt))
				return &Result{Output: output, Reasoning: resp.Thinking, Timing: elapsed}, nil
			}
		}

		lastErr = err
		g.logger.Warn("llm call failed", map[string]interface{}{
			"schema":  req.Schema.Name,
			"attempt": attempt,
			"of":      g.attempts,
			"error":   err.Error(),
		})
		if attempt < g.attempts {
			if serr := g.sleep(ctx, g.backoff); serr != nil {
				lastErr = serr
				break
			}
		}
	}

	span.RecordError(lastErr)
	return nil, fmt.Errorf("%s: %w", req.Schema.Name, lastErr)
}

func (g *Gateway) reportUsage(ctx context.Context, task *TaskContext, resp *llm.ChatResponse, elapsed time.Duration) {
	if task == nil || task.Sink == nil {
		return
	}
	model := task.Model
	if model == "" {
		model = resp.Model
	}
	usage := Usage{
		Model:        model,
		Duration:     elapsed,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if err := task.Sink.LogLLM(ctx, task.TaskID, usage); err != nil {
		g.logger.Warn("usage report failed", map[string]interface{}{
			"task_id": task.TaskID,
			"error":   err.Error(),
		})
	}
}

// decode extracts the JSON object from content, unmarshals it into out and
// returns a plain-data copy.
func decode(content string, out interface{}) (map[string]interface{}, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	if out != nil {
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
	}
	var output map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return output, nil
}

// extractJSON returns the first balanced JSON object in content. Braces
// inside string literals are skipped.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
