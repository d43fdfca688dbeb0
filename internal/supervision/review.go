package supervision

import (
	"context"
	"time"

	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/conversation"
	"github.com/vinayprograms/benchagent/internal/llmcall"
	"github.com/vinayprograms/benchagent/internal/trace"
)

// Proposal is one planning answer awaiting review.
type Proposal struct {
	Decision  action.Decision
	Output    map[string]interface{}
	Reasoning string
	Timing    time.Duration
}

// Tool is the tool that selects the validator: the single function, or the
// first action of a batch.
func (p *Proposal) Tool() string {
	a, ok := p.Decision.Primary()
	if !ok {
		return ""
	}
	return a.Tool
}

// Proposer asks the agent for a fresh proposal given a conversation.
type Proposer func(ctx context.Context, conv conversation.Conversation) (*Proposal, error)

// Step is the agent step under review.
type Step struct {
	Agent        string
	SystemPrompt string
	OriginalTask string
	// Conversation is what the agent saw when it made the first proposal.
	Conversation conversation.Conversation
	ParentNodeID string
	StepCount    int
	Task         *llmcall.TaskContext
}

// Outcome is the proposal cleared for execution.
type Outcome struct {
	Proposal *Proposal
	// NodeID is the node the executed step takes.
	NodeID string
	// StepCount counts the rejected steps already committed.
	StepCount int
	// Input is the conversation recorded on the executed step.
	Input conversation.Conversation
	// Validation holds the validator events of the approved proposal. They
	// are committed right after the executed step.
	Validation []trace.Event
	// Forced is set when attempts ran out and the last proposal went through
	// despite a rejection.
	Forced bool
}

// Review runs the proposal through the validator bound to its tool. Rejected
// proposals are committed to tr as agent_step/validator_step pairs and the
// agent is re-prompted with the rejection until the validator approves or
// its attempts run out.
func (s *Supervisor) Review(ctx context.Context, bindings []Binding, st Step, first *Proposal, propose Proposer, tr *trace.Trace) (*Outcome, error) {
	return s.review(ctx, bindings, st, first, propose, tr, 0)
}

// review validates p against the conversation of st. Each retry is proposed
// from a scratch copy holding only the latest rejection; the agent's own
// conversation is never changed.
func (s *Supervisor) review(ctx context.Context, bindings []Binding, st Step, p *Proposal, propose Proposer, tr *trace.Trace, depth int) (*Outcome, error) {
	count := st.StepCount
	input := st.Conversation
	b := Match(bindings, st.Agent, p.Tool())
	if b == nil {
		return &Outcome{
			Proposal:  p,
			NodeID:    trace.NextNodeID(st.ParentNodeID, count),
			StepCount: count,
			Input:     input,
		}, nil
	}

	for attempt := 0; ; attempt++ {
		nodeID := trace.NextNodeID(st.ParentNodeID, count)
		verdict, event := s.Validate(ctx, Check{
			Binding:           b,
			Agent:             st.Agent,
			OriginalTask:      st.OriginalTask,
			AgentSystemPrompt: st.SystemPrompt,
			Conversation:      input,
			Proposal:          p.Output,
			StepNodeID:        nodeID,
			Task:              st.Task,
		})

		if verdict.IsValid || attempt >= b.MaxAttempts {
			if !verdict.IsValid {
				s.logger.Warn("validation attempts exhausted, executing last proposal", map[string]interface{}{
					"validator": b.Name,
					"node_id":   nodeID,
					"attempts":  attempt + 1,
				})
			}
			return &Outcome{
				Proposal:   p,
				NodeID:     nodeID,
				StepCount:  count,
				Input:      input,
				Validation: []trace.Event{event},
				Forced:     !verdict.IsValid,
			}, nil
		}

		stage := &trace.Stage{}
		stage.Add(trace.NewAgentStep(trace.StepParams{
			NodeID:        nodeID,
			ParentNodeID:  st.ParentNodeID,
			SiblingIndex:  count,
			Agent:         st.Agent,
			Context:       st.Agent,
			SystemPrompt:  st.SystemPrompt,
			InputMessages: input,
			Output:        p.Output,
			Reasoning:     p.Reasoning,
			Timing:        p.Timing,
		}))
		stage.Add(event)
		tr.Commit(stage)
		count++

		s.logger.Info("plan rejected", map[string]interface{}{
			"validator": b.Name,
			"node_id":   nodeID,
			"attempt":   attempt + 1,
			"message":   verdict.RejectionMessage,
		})

		scratch := st.Conversation.Clone()
		scratch.Append(conversation.RoleAssistant, conversation.PlanRejected(p.Decision.NextAction))
		scratch.Append(conversation.RoleUser, conversation.RejectionFeedback(verdict.RejectionMessage, b.revise()))
		next, err := propose(ctx, scratch)
		if err != nil {
			return nil, err
		}
		p = next

		if !b.Covers(p.Tool()) {
			if depth+1 >= MaxRevalidation {
				return &Outcome{
					Proposal:  p,
					NodeID:    trace.NextNodeID(st.ParentNodeID, count),
					StepCount: count,
					Input:     input,
				}, nil
			}
			moved := st
			moved.StepCount = count
			return s.review(ctx, bindings, moved, p, propose, tr, depth+1)
		}
	}
}
