// Package supervision vets an agent's proposed step before it executes. A
// validator model reviews the proposal and either approves it or rejects it
// with feedback that the agent uses to replan.
package supervision

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/benchagent/internal/conversation"
	"github.com/vinayprograms/benchagent/internal/llmcall"
	"github.com/vinayprograms/benchagent/internal/trace"
)

// Verdict is the validator's structured answer.
type Verdict struct {
	Analysis         string `json:"analysis"`
	IsValid          bool   `json:"is_valid"`
	RejectionMessage string `json:"rejection_message"`
}

// VerdictSchema is the output schema every validator answers with.
var VerdictSchema = llmcall.Schema{
	Name:        "StepValidatorResponse",
	Description: "verdict on the agent's planned step",
	Definition: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"analysis":          map[string]interface{}{"type": "string", "description": "Brief analysis of the agent's plan against task requirements"},
			"is_valid":          map[string]interface{}{"type": "boolean", "description": "True if plan is sound, False if issues found"},
			"rejection_message": map[string]interface{}{"type": "string", "description": "If is_valid=false, what's wrong and what to consider instead"},
		},
		"required": []string{"analysis", "is_valid"},
	},
}

// MaxRevalidation bounds how often validation is re-dispatched when a retried
// proposal moves to a tool bound to another validator.
const MaxRevalidation = 3

// Supervisor runs validators through the LLM gateway.
type Supervisor struct {
	gateway *llmcall.Gateway
	logger  *logging.Logger
}

// Config holds supervisor configuration.
type Config struct {
	Gateway *llmcall.Gateway
}

// New creates a new supervisor.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		gateway: cfg.Gateway,
		logger:  logging.New().WithComponent("validator"),
	}
}

// Check is one validator pass over a proposal.
type Check struct {
	Binding *Binding
	// Agent is the agent whose step is reviewed.
	Agent             string
	OriginalTask      string
	AgentSystemPrompt string
	Conversation      conversation.Conversation
	Proposal          map[string]interface{}
	// StepNodeID is the node of the step under review. The validator node
	// hangs off it as its first child.
	StepNodeID string
	Task       *llmcall.TaskContext
}

// subject names the reviewed step in verdict logs.
func (c Check) subject() string {
	if c.Agent != "" {
		return c.Agent
	}
	return c.Binding.Name
}

// Validate runs the bound validator and returns its verdict together with the
// validator_step event describing the call. A failing validator approves the
// step; the event then carries the error as output.
func (s *Supervisor) Validate(ctx context.Context, c Check) (Verdict, trace.Event) {
	b := c.Binding
	prompt := b.prompt()(Input{
		OriginalTask:      c.OriginalTask,
		AgentSystemPrompt: c.AgentSystemPrompt,
		Conversation:      c.Conversation,
		Proposal:          c.Proposal,
	})
	input := conversation.New(prompt)
	params := trace.ValidatorParams{
		NodeID:          trace.NextNodeID(c.StepNodeID, 0),
		ParentNodeID:    c.StepNodeID,
		SiblingIndex:    0,
		ValidatesNodeID: c.StepNodeID,
		ValidatorName:   b.Name,
		SystemPrompt:    b.SystemPrompt,
		InputMessages:   input,
	}

	start := time.Now()
	var verdict Verdict
	res, err := s.gateway.Call(ctx, llmcall.Request{
		Schema:       VerdictSchema,
		SystemPrompt: b.SystemPrompt,
		Messages:     input,
		Task:         c.Task,
	}, &verdict)
	if err != nil {
		s.logger.Warn("validator failed, approving", map[string]interface{}{
			"validator": b.Name,
			"node_id":   c.StepNodeID,
			"error":     err.Error(),
		})
		params.Passed = true
		params.Output = map[string]interface{}{"error": err.Error()}
		params.Timing = time.Since(start)
		return Verdict{IsValid: true, Analysis: fmt.Sprintf("Validation error: %v", err)}, trace.NewValidatorStep(params)
	}

	params.Passed = verdict.IsValid
	params.Output = res.Output
	params.Reasoning = res.Reasoning
	params.Timing = res.Timing

	outcome := "APPROVED"
	if !verdict.IsValid {
		outcome = "REJECTED"
	}
	s.logger.SupervisorVerdict(c.subject(), c.StepNodeID, outcome, verdict.RejectionMessage, false)
	return verdict, trace.NewValidatorStep(params)
}
