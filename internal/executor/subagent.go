package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/conversation"
	"github.com/vinayprograms/benchagent/internal/llmcall"
	"github.com/vinayprograms/benchagent/internal/registry"
	"github.com/vinayprograms/benchagent/internal/trace"
)

// delegate runs the sub-agent bound to tool under the delegating step.
// Leaf agents answer in one call; the others run their own loop with a
// context built from the caller's full log.
func (e *Executor) delegate(ctx context.Context, run *Run, tool, task string, fullLog conversation.Conversation, nodeID string, first int) (res *trace.SubagentResult, err error) {
	ctx, span := e.startSubAgentSpan(ctx, tool, task)
	defer func() { e.endSubAgentSpan(span, res, err) }()

	agent, err := e.registry.Delegate(tool)
	if err != nil {
		return nil, err
	}
	if agent.Leaf {
		return e.runLeaf(ctx, run, agent, conversation.BuildSubagentContext(fullLog, task), nodeID, first), nil
	}

	r, err := e.runAgent(ctx, run, agent, conversation.BuildSubagentContext(fullLog, task), nodeID, first, nil)
	if err != nil {
		return nil, err
	}
	return &trace.SubagentResult{SubagentName: agent.Name, Status: r.Status, Report: r.Report}, nil
}

// runLeaf fetches the whole catalog and asks the agent to answer from it.
// Failures are reported as a refused result, never as an error.
func (e *Executor) runLeaf(ctx context.Context, run *Run, agent *registry.Agent, taskContext, parent string, sibling int) *trace.SubagentResult {
	nodeID := trace.NextNodeID(parent, sibling)
	start := time.Now()

	fail := func(err error, input conversation.Conversation) *trace.SubagentResult {
		e.logger.Warn("leaf agent failed", map[string]interface{}{
			"agent":   agent.Name,
			"node_id": nodeID,
			"error":   err.Error(),
		})
		run.Trace.Append(trace.NewAgentStep(trace.StepParams{
			NodeID:        nodeID,
			ParentNodeID:  parent,
			SiblingIndex:  sibling,
			Agent:         agent.Name,
			Context:       agent.Name,
			SystemPrompt:  agent.SystemPrompt,
			InputMessages: input,
			Output:        map[string]interface{}{"error": err.Error()},
			Timing:        time.Since(start),
		}))
		return &trace.SubagentResult{
			SubagentName: agent.Name,
			Status:       action.StatusRefused,
			Report:       fmt.Sprintf("Failed to analyze products: %v", err),
		}
	}

	catalog, err := run.Dispatcher.Single(ctx, action.New(action.GetAllProducts, nil))
	if err != nil {
		return fail(err, conversation.New(taskContext))
	}

	input := conversation.New(fmt.Sprintf("%s\n\nPRODUCT CATALOG:\n%s\n\nAnalyze the products above and answer the task.", taskContext, catalog.Text))
	var report registry.LeafReport
	res, err := e.gateway.Call(ctx, llmcall.Request{
		Schema:       agent.Schema,
		SystemPrompt: agent.SystemPrompt,
		Messages:     input,
		Task:         run.Usage,
	}, &report)
	if err != nil {
		return fail(err, input)
	}

	run.Trace.Append(trace.NewAgentStep(trace.StepParams{
		NodeID:        nodeID,
		ParentNodeID:  parent,
		SiblingIndex:  sibling,
		Agent:         agent.Name,
		Context:       agent.Name,
		SystemPrompt:  agent.SystemPrompt,
		InputMessages: input,
		Output:        res.Output,
		Reasoning:     res.Reasoning,
		Timing:        res.Timing,
		ToolCalls:     catalog.ToolCalls,
	}))
	e.logger.Info("leaf agent answered", map[string]interface{}{
		"agent":   agent.Name,
		"node_id": nodeID,
		"timing":  res.Timing.Seconds(),
	})
	return &trace.SubagentResult{
		SubagentName: agent.Name,
		Status:       action.StatusCompleted,
		Report:       report.Report,
	}
}
