// Package dispatch executes backend actions for one task run and renders the
// replies as conversation text plus trace records.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/sandbox"
	"github.com/vinayprograms/benchagent/internal/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultReadRetries    = 2
	DefaultReadRetryDelay = 100 * time.Millisecond
)

// DefaultLadder is the sequence of page sizes tried by directory pagination.
var DefaultLadder = []int{5, 4, 3, 2, 1}

// Config configures a Dispatcher.
type Config struct {
	Client         sandbox.Client
	Timeout        time.Duration
	ReadRetries    int
	ReadRetryDelay time.Duration
	Ladder         []int
}

// Dispatcher runs backend actions against one task's client. It is owned by a
// single run and is not safe for concurrent use.
type Dispatcher struct {
	client     sandbox.Client
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	ladder     []int
	logger     *logging.Logger
	tracer     oteltrace.Tracer
	sleep      func(context.Context, time.Duration) error
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		client:     cfg.Client,
		timeout:    cfg.Timeout,
		retries:    cfg.ReadRetries,
		retryDelay: cfg.ReadRetryDelay,
		ladder:     cfg.Ladder,
		logger:     logging.New().WithComponent("dispatch"),
		tracer:     otel.Tracer("benchagent/dispatch"),
		sleep:      sleepContext,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.retries < 0 {
		d.retries = 0
	} else if d.retries == 0 {
		d.retries = DefaultReadRetries
	}
	if d.retryDelay <= 0 {
		d.retryDelay = DefaultReadRetryDelay
	}
	if len(d.ladder) == 0 {
		d.ladder = DefaultLadder
	}
	return d
}

// Result is the outcome of executing a call.
type Result struct {
	// Text is what the agent sees.
	Text string
	// ToolCalls are the request/response pairs recorded on the step.
	ToolCalls []trace.ToolCall
}

// Execute runs a decision's call. Errors are returned only for malformed
// calls; backend failures are rendered into the result.
func (d *Dispatcher) Execute(ctx context.Context, call action.Call) (*Result, error) {
	switch call.Mode {
	case action.CallSingle:
		if call.Function == nil {
			return nil, fmt.Errorf("%w: single call without function", action.ErrInvalidCall)
		}
		return d.Single(ctx, *call.Function)
	case action.CallBatch:
		return d.Batch(ctx, call.Functions)
	}
	return nil, fmt.Errorf("%w: call_mode %q", action.ErrInvalidCall, call.Mode)
}

// Single executes one action.
func (d *Dispatcher) Single(ctx context.Context, a action.Action) (*Result, error) {
	kind := a.Kind()
	if kind != action.KindBackend && kind != action.KindInternal && a.Tool != action.Respond {
		return nil, fmt.Errorf("%w: %q is not dispatchable", action.ErrUnknownTool, a.Tool)
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.single")
	defer span.End()
	span.SetAttributes(attribute.String("tool", a.Tool))

	var tc trace.ToolCall
	var text string
	switch a.Tool {
	case action.GetAllProducts:
		text, tc = d.getAllProducts(ctx)
	case action.SetBasket:
		text, tc = d.setBasket(ctx, a)
	case action.LoadRespondInstructions:
		text, tc = d.loadRespondInstructions(ctx)
	case action.ListEmployees:
		text, tc = d.listEmployees(ctx)
	case action.ListProjects:
		text, tc = d.listProjects(ctx)
	case action.SearchEmployees:
		text, tc = d.searchEmployees(ctx, a)
	case action.SearchProjects:
		text, tc = d.searchProjects(ctx, a)
	default:
		text, tc = d.standard(ctx, a)
		if readsBackBasket(a.Tool) {
			text = d.appendBasket(ctx, text)
		}
	}
	return &Result{Text: text, ToolCalls: []trace.ToolCall{tc}}, nil
}

// Batch executes up to action.MaxBatch backend actions in order and stops at
// the first failure.
func (d *Dispatcher) Batch(ctx context.Context, actions []action.Action) (*Result, error) {
	if len(actions) == 0 || len(actions) > action.MaxBatch {
		return nil, fmt.Errorf("%w: batch of %d actions", action.ErrInvalidCall, len(actions))
	}
	for _, a := range actions {
		if a.Kind() != action.KindBackend || action.Composite(a.Tool) {
			return nil, fmt.Errorf("%w: %s cannot be batched", action.ErrInvalidCall, a.Tool)
		}
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(actions)))

	total := len(actions)
	parts := make([]string, 0, total+1)
	calls := make([]trace.ToolCall, 0, total)
	for i, a := range actions {
		idx := i + 1
		request := string(a.Raw())

		raw, err := d.invoke(ctx, a.Tool, paramsOf(a))
		if err != nil {
			text, resp := renderError(err)
			parts = append(parts, fmt.Sprintf("Request:\n`%s`\n\nResponse:\n`%s`", request, text))
			calls = append(calls, trace.ToolCall{Request: requestOf(a), Response: resp})
			if idx < total {
				parts = append(parts, fmt.Sprintf("\nThe rest of requests are aborted due to the error.\nExecuted: %d out of %d requested operations.", idx, total))
			}
			span.SetAttributes(attribute.Int("batch.executed", idx))
			d.logger.Warn("batch aborted", map[string]interface{}{
				"tool":     a.Tool,
				"executed": idx,
				"total":    total,
				"error":    err.Error(),
			})
			break
		}

		text := compact(raw)
		if readsBackBasket(a.Tool) {
			text = d.appendBasket(ctx, text)
		}
		parts = append(parts, fmt.Sprintf("Request:\n`%s`\n\nResponse:\n`%s`", request, text))
		calls = append(calls, trace.ToolCall{Request: requestOf(a), Response: decodeAny(raw)})
	}

	return &Result{Text: strings.Join(parts, "\n\n---\n\n"), ToolCalls: calls}, nil
}

// standard forwards one action and renders the reply or the error.
func (d *Dispatcher) standard(ctx context.Context, a action.Action) (string, trace.ToolCall) {
	raw, err := d.invoke(ctx, a.Tool, paramsOf(a))
	if err != nil {
		text, resp := renderError(err)
		d.logger.Debug("backend call failed", map[string]interface{}{
			"tool":  a.Tool,
			"error": err.Error(),
		})
		return text, trace.ToolCall{Request: requestOf(a), Response: resp}
	}
	return compact(raw), trace.ToolCall{Request: requestOf(a), Response: decodeAny(raw)}
}

// invoke sends one request, retrying reads.
func (d *Dispatcher) invoke(ctx context.Context, tool string, params json.RawMessage) (json.RawMessage, error) {
	if isRead(tool) {
		return d.retry(ctx, tool, params)
	}
	return d.call(ctx, tool, params)
}

func readsBackBasket(tool string) bool {
	switch tool {
	case action.ApplyCoupon, action.RemoveCoupon, action.AddToBasket, action.RemoveFromBasket:
		return true
	}
	return false
}

func isRead(tool string) bool {
	switch tool {
	case action.ListProducts, action.ViewBasket,
		action.ListEmployees, action.SearchEmployees, action.GetEmployee,
		action.ListProjects, action.SearchProjects, action.GetProject,
		action.WhoAmI:
		return true
	}
	return false
}

// appendBasket adds the current basket to the reply of a basket mutation.
func (d *Dispatcher) appendBasket(ctx context.Context, text string) string {
	raw, err := d.call(ctx, action.ViewBasket, nil)
	if err != nil {
		return fmt.Sprintf("%s\n\nBasket contents:\n[Error fetching basket: %s. Please use %s manually to verify.]", text, err.Error(), action.ViewBasket)
	}
	return fmt.Sprintf("%s\n\nBasket contents:\n%s", text, compact(raw))
}

// renderError turns a failed request into agent text and a trace response.
func renderError(err error) (string, map[string]interface{}) {
	var apiErr *sandbox.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail, map[string]interface{}{"error": apiErr.Detail}
	}
	msg := err.Error()
	return errorJSON(msg), map[string]interface{}{"error": msg}
}

func errorJSON(msg string) string {
	quoted, _ := json.Marshal(msg)
	return fmt.Sprintf(`{"error": %s}`, quoted)
}

// paramsOf strips the discriminator from an action.
func paramsOf(a action.Action) json.RawMessage {
	b, _ := json.Marshal(a.Params())
	return b
}

func requestOf(a action.Action) interface{} {
	return decodeAny(a.Raw())
}

func decodeAny(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
