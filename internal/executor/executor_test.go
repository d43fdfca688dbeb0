package executor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/dispatch"
	"github.com/vinayprograms/benchagent/internal/llmcall"
	"github.com/vinayprograms/benchagent/internal/registry"
	"github.com/vinayprograms/benchagent/internal/sandbox"
	"github.com/vinayprograms/benchagent/internal/trace"
)

// script routes each model call by a marker found in its system prompt and
// answers with the next scripted reply for that marker.
type script struct {
	mu      sync.Mutex
	replies map[string][]string
	calls   map[string]int
	seen    map[string][][]llm.Message
	// validate answers validator calls; nil approves everything.
	validate func(call int) string
}

const (
	validatorMarker    = "You review"
	orchestratorMarker = "You coordinate sub-agents"
	basketMarker       = "You configure the basket"
	checkoutMarker     = "You verify and complete the purchase"
	explorerMarker     = "You are a product analyst"
	directoryMarker    = "You are a company assistant"
)

func newScript(replies map[string][]string) *script {
	return &script{
		replies: replies,
		calls:   map[string]int{},
		seen:    map[string][][]llm.Message{},
	}
}

func (s *script) provider() llm.Provider {
	p := llm.NewMockProvider()
	p.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		system := req.Messages[0].Content
		for _, marker := range []string{validatorMarker, orchestratorMarker, basketMarker, checkoutMarker, explorerMarker, directoryMarker} {
			if !strings.Contains(system, marker) {
				continue
			}
			s.calls[marker]++
			s.seen[marker] = append(s.seen[marker], req.Messages)
			if marker == validatorMarker {
				if s.validate == nil {
					return &llm.ChatResponse{Content: `{"analysis": "fine", "is_valid": true}`}, nil
				}
				return &llm.ChatResponse{Content: s.validate(s.calls[marker])}, nil
			}
			queue := s.replies[marker]
			if len(queue) == 0 {
				return nil, errors.New("script exhausted for " + marker)
			}
			reply := queue[0]
			if len(queue) > 1 {
				s.replies[marker] = queue[1:]
			}
			return &llm.ChatResponse{Content: reply}, nil
		}
		return nil, errors.New("unrouted call")
	}
	return p
}

type harness struct {
	exec   *Executor
	run    *Run
	sb     *sandbox.Sandbox
	taskID string
}

func newHarness(t *testing.T, reg *registry.Registry, s *script, benchmark string, index int) *harness {
	t.Helper()
	sb, err := sandbox.New(sandbox.Config{DSN: filepath.Join(t.TempDir(), "sandbox.db")})
	require.NoError(t, err)
	t.Cleanup(func() { sb.Close() })

	info, err := sb.StartTask(context.Background(), benchmark, index)
	require.NoError(t, err)

	gw := llmcall.New(llmcall.Config{Provider: s.provider(), Attempts: 1})
	return &harness{
		exec: New(Config{Registry: reg, Gateway: gw}),
		run: &Run{
			Task:       info.Text,
			Dispatcher: dispatch.New(dispatch.Config{Client: sb.TaskClient(info.TaskID)}),
			Trace:      trace.New(),
		},
		sb:     sb,
		taskID: info.TaskID,
	}
}

func withoutValidators(t *testing.T, r *registry.Registry) *registry.Registry {
	t.Helper()
	o, err := registry.ParseOverrides([]byte("validators:\n  StepValidator:\n    disabled: true\n"))
	require.NoError(t, err)
	out, err := r.Apply(o)
	require.NoError(t, err)
	return out
}

func nodeIDs(tr *trace.Trace) []string {
	var ids []string
	for _, e := range tr.Events() {
		ids = append(ids, e.NodeID)
	}
	return ids
}

func decision(next, function string) string {
	return `{"current_state": "working", "remaining_work": ["` + next + `"], "next_action": "` + next + `", "call": {"call_mode": "single", "function": ` + function + `}}`
}

func TestExecute_StoreBuysItems(t *testing.T) {
	s := newScript(map[string][]string{
		orchestratorMarker: {
			decision("fill basket", `{"tool": "basket_builder", "task": "Set the basket to 2x SKU-X."}`),
			decision("check out", `{"tool": "checkout_processor", "task": "Check out the basket."}`),
			decision("report", `{"tool": "submit_task", "outcome": "success", "report": "bought 2x SKU-X"}`),
		},
		basketMarker: {
			decision("set basket", `{"tool": "set_basket", "products": [{"sku": "SKU-X", "quantity": 2}], "coupons": []}`),
			decision("report", `{"tool": "submit_task", "outcome": "success", "report": "basket holds 2x SKU-X"}`),
		},
		checkoutMarker: {
			decision("checkout", `{"tool": "/basket/checkout"}`),
			decision("report", `{"tool": "submit_task", "outcome": "success", "report": "order placed"}`),
		},
	})
	h := newHarness(t, registry.Store(), s, "store", 0)

	res, err := h.exec.Execute(context.Background(), h.run)
	require.NoError(t, err)
	assert.Equal(t, action.StatusCompleted, res.Status)
	assert.Equal(t, "bought 2x SKU-X", res.Report)

	// Sub-agent steps land before the delegating step; validators take the
	// first child slot of the step they validate.
	assert.Equal(t, []string{"1.2", "1.3", "1", "1.1", "2.2", "2.3", "2", "2.1", "3", "3.1"}, nodeIDs(h.run.Trace))
	assert.Equal(t, 3, s.calls[validatorMarker])

	events := h.run.Trace.Events()
	require.NotNil(t, events[2].SubagentResult)
	assert.Equal(t, registry.BasketBuilder, events[2].SubagentResult.SubagentName)
	assert.Equal(t, action.StatusCompleted, events[2].SubagentResult.Status)
	assert.Equal(t, trace.EventValidatorStep, events[3].Event)
	assert.Equal(t, "1", events[3].ValidatesNodeID)

	var logText []string
	for _, m := range res.Log {
		logText = append(logText, m.Content)
	}
	assert.Contains(t, strings.Join(logText, "\n"), "Sub-agent: CheckoutProcessor")

	c, err := h.sb.CompleteTask(context.Background(), h.taskID)
	require.NoError(t, err)
	require.NotNil(t, c.Score)
	assert.Equal(t, 1.0, *c.Score, c.Logs)
}

func TestExecute_RejectedStepStaysInTrace(t *testing.T) {
	s := newScript(map[string][]string{
		orchestratorMarker: {
			decision("give up", `{"tool": "submit_task", "outcome": "failure", "report": "too early"}`),
			decision("give up", `{"tool": "submit_task", "outcome": "failure", "report": "SKU-DOES-NOT-EXIST is not sold"}`),
		},
	})
	s.validate = func(call int) string {
		if call == 1 {
			return `{"analysis": "no search done", "is_valid": false, "rejection_message": "look the product up first"}`
		}
		return `{"analysis": "ok", "is_valid": true}`
	}
	h := newHarness(t, registry.Store(), s, "store", 3)

	res, err := h.exec.Execute(context.Background(), h.run)
	require.NoError(t, err)
	assert.Equal(t, action.StatusRefused, res.Status)
	assert.Equal(t, "SKU-DOES-NOT-EXIST is not sold", res.Report)

	assert.Equal(t, []string{"1", "1.1", "2", "2.1"}, nodeIDs(h.run.Trace))
	events := h.run.Trace.Events()
	assert.False(t, events[1].Passed())
	assert.True(t, events[3].Passed())

	retry := s.seen[orchestratorMarker][1]
	assert.Contains(t, retry[len(retry)-1].Content, "look the product up first")
}

func TestExecute_StepLimit(t *testing.T) {
	o, err := registry.ParseOverrides([]byte("agents:\n  Agent:\n    max_steps: 3\n"))
	require.NoError(t, err)
	reg, err := registry.Directory().Apply(o)
	require.NoError(t, err)

	s := newScript(map[string][]string{
		directoryMarker: {decision("who am i", `{"tool": "/whoami"}`)},
	})
	h := newHarness(t, reg, s, "directory", 0)

	_, err = h.exec.Execute(context.Background(), h.run)
	var limit *StepLimitError
	require.True(t, errors.As(err, &limit), "got %v", err)
	assert.Equal(t, "Agent Agent exceeded 3-step limit without completing", err.Error())
	assert.Equal(t, 3, s.calls[directoryMarker])
}

func TestExecute_LeafFailureIsRefused(t *testing.T) {
	s := newScript(map[string][]string{
		orchestratorMarker: {
			decision("explore", `{"tool": "product_explorer", "task": "Find SKU-X."}`),
			decision("report", `{"tool": "submit_task", "outcome": "failure", "report": "catalog unavailable"}`),
		},
	})
	h := newHarness(t, withoutValidators(t, registry.Store()), s, "store", 0)

	res, err := h.exec.Execute(context.Background(), h.run)
	require.NoError(t, err)
	assert.Equal(t, action.StatusRefused, res.Status)

	assert.Equal(t, []string{"1.1", "1", "2"}, nodeIDs(h.run.Trace))
	events := h.run.Trace.Events()
	assert.Empty(t, events[0].ToolCalls)
	assert.Contains(t, events[0].Output, "error")

	sub := events[1].SubagentResult
	require.NotNil(t, sub)
	assert.Equal(t, registry.ProductExplorer, sub.SubagentName)
	assert.Equal(t, action.StatusRefused, sub.Status)
	assert.True(t, strings.HasPrefix(sub.Report, "Failed to analyze products:"), sub.Report)
}

func TestExecute_DirectoryRespondIsRecorded(t *testing.T) {
	s := newScript(map[string][]string{
		directoryMarker: {
			decision("search", `{"tool": "/projects/search", "query": "Moon base"}`),
			decision("answer", `{"tool": "/respond", "outcome": "ok_not_found", "message": "There is no Moon base project."}`),
		},
	})
	h := newHarness(t, registry.Directory(), s, "directory", 3)

	res, err := h.exec.Execute(context.Background(), h.run)
	require.NoError(t, err)
	assert.Equal(t, action.StatusCompleted, res.Status)
	assert.Equal(t, "There is no Moon base project.", res.Report)

	// Only the search is validated.
	assert.Equal(t, []string{"1", "1.1", "2"}, nodeIDs(h.run.Trace))
	assert.Len(t, h.run.Trace.Events()[2].ToolCalls, 1)

	last := res.Log[len(res.Log)-1]
	assert.True(t, strings.HasPrefix(last.Content, "Step completed.\nAction: answer"), last.Content)

	c, err := h.sb.CompleteTask(context.Background(), h.taskID)
	require.NoError(t, err)
	require.NotNil(t, c.Score)
	assert.Equal(t, 1.0, *c.Score, c.Logs)
}

func TestExecute_ToolOutsideAgentIsError(t *testing.T) {
	s := newScript(map[string][]string{
		orchestratorMarker: {decision("checkout", `{"tool": "/basket/checkout"}`)},
	})
	h := newHarness(t, registry.Store(), s, "store", 0)

	_, err := h.exec.Execute(context.Background(), h.run)
	assert.True(t, errors.Is(err, action.ErrUnknownTool), "got %v", err)
	assert.Equal(t, 0, h.run.Trace.Len())
}

func TestExecute_UnknownProductIsRefused(t *testing.T) {
	s := newScript(map[string][]string{
		orchestratorMarker: {
			decision("fill basket", `{"tool": "basket_builder", "task": "Set the basket to 1x SKU-DOES-NOT-EXIST."}`),
			decision("report", `{"tool": "submit_task", "outcome": "failure", "report": "SKU-DOES-NOT-EXIST is not sold"}`),
		},
		basketMarker: {
			decision("set basket", `{"tool": "set_basket", "products": [{"sku": "SKU-DOES-NOT-EXIST", "quantity": 1}], "coupons": []}`),
			decision("report", `{"tool": "submit_task", "outcome": "failure", "report": "product SKU-DOES-NOT-EXIST not found"}`),
		},
	})
	h := newHarness(t, registry.Store(), s, "store", 3)

	res, err := h.exec.Execute(context.Background(), h.run)
	require.NoError(t, err)
	assert.Equal(t, action.StatusRefused, res.Status)
	assert.Equal(t, "SKU-DOES-NOT-EXIST is not sold", res.Report)

	assert.Equal(t, []string{"1.2", "1.3", "1", "1.1", "2", "2.1"}, nodeIDs(h.run.Trace))
	events := h.run.Trace.Events()

	// The failed lookup is in the sub-agent's trail.
	assert.Equal(t, registry.BasketBuilder, events[0].Agent)
	require.Len(t, events[0].ToolCalls, 1)
	retry := s.seen[basketMarker][1]
	assert.Contains(t, retry[len(retry)-1].Content, "ERROR: Failed to add SKU-DOES-NOT-EXIST: product SKU-DOES-NOT-EXIST not found")
	assert.Contains(t, retry[len(retry)-1].Content, "Basket may be in partial state.")

	sub := events[2].SubagentResult
	require.NotNil(t, sub)
	assert.Equal(t, registry.BasketBuilder, sub.SubagentName)
	assert.Equal(t, action.StatusRefused, sub.Status)
	assert.Equal(t, "product SKU-DOES-NOT-EXIST not found", sub.Report)

	// The orchestrator decided on the refused result.
	next := s.seen[orchestratorMarker][1]
	assert.Equal(t, "Sub-agent: BasketBuilder\nStatus: refused\nReport: product SKU-DOES-NOT-EXIST not found", next[len(next)-1].Content)
}
