// Package executor runs agents: the planning loop, validation of each step,
// delegation to sub-agents and the trace of everything that happened.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/conversation"
	"github.com/vinayprograms/benchagent/internal/dispatch"
	"github.com/vinayprograms/benchagent/internal/llmcall"
	"github.com/vinayprograms/benchagent/internal/registry"
	"github.com/vinayprograms/benchagent/internal/supervision"
	"github.com/vinayprograms/benchagent/internal/trace"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// promptSuffix is appended to every agent's base system prompt.
const promptSuffix = "first step"

// StepLimitError reports an agent that used its whole step budget without
// reaching a terminal action.
type StepLimitError struct {
	Agent    string
	MaxSteps int
	// Log is the entry agent's log up to the point the run gave up, also
	// when the exhausted agent was a sub-agent.
	Log conversation.Conversation
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("Agent %s exceeded %d-step limit without completing", e.Agent, e.MaxSteps)
}

// Config configures an Executor.
type Config struct {
	Registry *registry.Registry
	Gateway  *llmcall.Gateway
	// Supervisor defaults to one built on Gateway.
	Supervisor *supervision.Supervisor
}

// Executor runs the agents of one registry. It holds no per-task state and
// may serve concurrent runs.
type Executor struct {
	registry   *registry.Registry
	gateway    *llmcall.Gateway
	supervisor *supervision.Supervisor
	logger     *logging.Logger
	tracer     oteltrace.Tracer
}

// New creates an executor.
func New(cfg Config) *Executor {
	sup := cfg.Supervisor
	if sup == nil {
		sup = supervision.New(supervision.Config{Gateway: cfg.Gateway})
	}
	return &Executor{
		registry:   cfg.Registry,
		gateway:    cfg.Gateway,
		supervisor: sup,
		logger:     logging.New().WithComponent("executor"),
		tracer:     otel.Tracer("benchagent/executor"),
	}
}

// Run is the state owned by one task run.
type Run struct {
	Task       string
	Dispatcher *dispatch.Dispatcher
	Trace      *trace.Trace
	Usage      *llmcall.TaskContext
}

// Result is how an agent finished.
type Result struct {
	Agent    string
	Status   string
	Report   string
	Terminal action.Terminal
	// Log is the agent's full log: system prompt followed by every turn.
	Log conversation.Conversation
}

// Execute runs the registry's entry agent on the task.
func (e *Executor) Execute(ctx context.Context, run *Run) (*Result, error) {
	agent := e.registry.EntryAgent()
	if agent == nil {
		return nil, fmt.Errorf("%w: no entry agent for %s", registry.ErrUnknownAgent, e.registry.Benchmark)
	}

	start := time.Now()
	e.logger.ExecutionStart(agent.Name)
	log := conversation.Conversation{}
	res, err := e.runAgent(ctx, run, agent, run.Task, trace.RootID, 0, &log)
	var limit *StepLimitError
	if errors.As(err, &limit) {
		limit.Log = log
	}
	status := "error"
	if res != nil {
		status = res.Status
	}
	e.logger.ExecutionComplete(agent.Name, time.Since(start), status)
	return res, err
}

// runAgent is the planning loop. Its steps are numbered under parent from
// sibling index first. fullLog, when non-nil, is the caller's log and is
// extended in place; sub-agents keep a private one.
func (e *Executor) runAgent(ctx context.Context, run *Run, agent *registry.Agent, initial, parent string, first int, fullLog *conversation.Conversation) (res *Result, err error) {
	ctx, span := e.startAgentSpan(ctx, agent.Name, parent)
	defer func() {
		status := ""
		if res != nil {
			status = res.Status
		}
		e.endAgentSpan(span, status, err)
	}()

	systemPrompt := agent.SystemPrompt + promptSuffix
	conv := conversation.New(initial)
	if fullLog == nil {
		fullLog = &conversation.Conversation{}
	}
	if len(*fullLog) == 0 {
		fullLog.Append(conversation.RoleSystem, systemPrompt)
		fullLog.Append(conversation.RoleUser, initial)
	}

	propose := func(ctx context.Context, c conversation.Conversation) (*supervision.Proposal, error) {
		return e.propose(ctx, run, agent, systemPrompt, c)
	}

	steps := first
	for i := 0; i < agent.MaxSteps; i++ {
		proposal, err := propose(ctx, conv)
		if err != nil {
			return nil, err
		}
		out, err := e.supervisor.Review(ctx, e.registry.Validators, supervision.Step{
			Agent:        agent.Name,
			SystemPrompt: systemPrompt,
			OriginalTask: initial,
			Conversation: conv,
			ParentNodeID: parent,
			StepCount:    steps,
			Task:         run.Usage,
		}, proposal, propose, run.Trace)
		if err != nil {
			return nil, err
		}
		steps = out.StepCount + 1

		p := out.Proposal
		if err := e.checkTools(agent, &p.Decision); err != nil {
			return nil, err
		}
		primary, _ := p.Decision.Primary()
		st := stepRecord{agent: agent, parent: parent, systemPrompt: systemPrompt, outcome: out, siblingIndex: steps - 1}

		switch {
		case primary.Kind() == action.KindTerminal && p.Decision.Call.Mode == action.CallSingle:
			var term action.Terminal
			if err := primary.Decode(&term); err != nil {
				return nil, err
			}
			var turn string
			if primary.Tool == action.Respond {
				// The answer is recorded by the backend before the run ends.
				r, err := run.Dispatcher.Single(ctx, primary)
				if err != nil {
					return nil, err
				}
				st.toolCalls = r.ToolCalls
				turn = e.turn(agent, &p.Decision, primary, r.Text)
			}
			e.commit(run, st)
			e.logger.Info("agent finished", map[string]interface{}{
				"node_id": out.NodeID,
				"agent":   agent.Name,
				"status":  term.Status(),
				"report":  term.Text(),
			})
			if turn != "" {
				conv.InjectPlan(p.Decision.RemainingWork)
				conv.Append(conversation.RoleAssistant, turn)
				fullLog.InjectPlan(p.Decision.RemainingWork)
				fullLog.Append(conversation.RoleAssistant, turn)
			}
			return &Result{
				Agent:    agent.Name,
				Status:   term.Status(),
				Report:   term.Text(),
				Terminal: term,
				Log:      *fullLog,
			}, nil

		case primary.Kind() == action.KindMeta:
			if agent.Mode != registry.ModeMeta {
				return nil, fmt.Errorf("%w: %s cannot delegate to %s", action.ErrInvalidCall, agent.Name, primary.Tool)
			}
			var del action.Delegation
			if err := primary.Decode(&del); err != nil {
				return nil, err
			}
			e.logger.Info("delegating", map[string]interface{}{
				"node_id": out.NodeID,
				"agent":   agent.Name,
				"tool":    primary.Tool,
				"task":    del.Task,
				"timing":  p.Timing.Seconds(),
			})
			// The step's validators hold its first child slots.
			sub, err := e.delegate(ctx, run, primary.Tool, del.Task, *fullLog, out.NodeID, len(out.Validation))
			if err != nil {
				return nil, err
			}
			st.subagent = sub
			e.commit(run, st)

			assistant := conversation.PlannedDelegation(p.Decision.NextAction, sub.SubagentName, del.Task)
			result := conversation.FormatSubagentResult(sub.SubagentName, sub.Status, sub.Report)
			for _, c := range []*conversation.Conversation{&conv, fullLog} {
				c.InjectPlan(p.Decision.RemainingWork)
				c.Append(conversation.RoleAssistant, assistant)
				c.Append(conversation.RoleUser, result)
			}

		default:
			r, err := run.Dispatcher.Execute(ctx, p.Decision.Call)
			if err != nil {
				return nil, err
			}
			st.toolCalls = r.ToolCalls
			e.commit(run, st)
			e.logger.Info("step", map[string]interface{}{
				"node_id": out.NodeID,
				"agent":   agent.Name,
				"tools":   p.Decision.Tools(),
				"timing":  p.Timing.Seconds(),
			})

			turn := e.turn(agent, &p.Decision, primary, r.Text)
			for _, c := range []*conversation.Conversation{&conv, fullLog} {
				c.InjectPlan(p.Decision.RemainingWork)
				c.Append(conversation.RoleAssistant, turn)
			}
		}
	}

	return nil, &StepLimitError{Agent: agent.Name, MaxSteps: agent.MaxSteps, Log: *fullLog}
}

// propose asks the agent for its next step.
func (e *Executor) propose(ctx context.Context, run *Run, agent *registry.Agent, systemPrompt string, conv conversation.Conversation) (*supervision.Proposal, error) {
	var d action.Decision
	res, err := e.gateway.Call(ctx, llmcall.Request{
		Schema:       agent.Schema,
		SystemPrompt: systemPrompt,
		Messages:     conv,
		Task:         run.Usage,
	}, &d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", agent.Name, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", agent.Name, err)
	}
	return &supervision.Proposal{
		Decision:  d,
		Output:    res.Output,
		Reasoning: res.Reasoning,
		Timing:    res.Timing,
	}, nil
}

// checkTools rejects decisions naming tools the agent was not given.
func (e *Executor) checkTools(agent *registry.Agent, d *action.Decision) error {
	if d.Call.Mode == action.CallBatch && !agent.Batch {
		return fmt.Errorf("%w: %s cannot batch", action.ErrInvalidCall, agent.Name)
	}
	for _, tool := range d.Tools() {
		if !agent.Allows(tool) {
			return fmt.Errorf("%w: %s is not available to %s", action.ErrUnknownTool, tool, agent.Name)
		}
	}
	return nil
}

// turn renders the assistant message recorded after a backend step.
func (e *Executor) turn(agent *registry.Agent, d *action.Decision, primary action.Action, text string) string {
	if agent.Style == registry.StyleCompleted {
		return conversation.StepCompleted(d.NextAction, primary.Raw(), text)
	}
	if d.Call.Mode == action.CallBatch {
		return conversation.PlannedBatch(d.NextAction, text)
	}
	return conversation.PlannedStep(d.NextAction, primary.Raw(), text)
}

type stepRecord struct {
	agent        *registry.Agent
	parent       string
	systemPrompt string
	siblingIndex int
	outcome      *supervision.Outcome
	toolCalls    []trace.ToolCall
	subagent     *trace.SubagentResult
}

// commit appends the executed step followed by its validation.
func (e *Executor) commit(run *Run, st stepRecord) {
	p := st.outcome.Proposal
	stage := &trace.Stage{}
	stage.Add(trace.NewAgentStep(trace.StepParams{
		NodeID:        st.outcome.NodeID,
		ParentNodeID:  st.parent,
		SiblingIndex:  st.siblingIndex,
		Agent:         st.agent.Name,
		Context:       st.agent.Name,
		SystemPrompt:  st.systemPrompt,
		InputMessages: st.outcome.Input,
		Output:        p.Output,
		Reasoning:     p.Reasoning,
		Timing:        p.Timing,
		ToolCalls:     st.toolCalls,
		Subagent:      st.subagent,
	}))
	for _, v := range st.outcome.Validation {
		stage.Add(v)
	}
	run.Trace.Commit(stage)
}
