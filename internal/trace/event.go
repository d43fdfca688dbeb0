// Package trace records the tree of agent and validator steps for a task run.
package trace

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/benchagent/internal/conversation"
)

// Event types.
const (
	EventAgentStep     = "agent_step"
	EventValidatorStep = "validator_step"
)

// RootID is the id of the first node of a run. Top-level steps hang off it.
const RootID = "0"

// NextNodeID computes the id of the sibling-th child of parent. An empty
// parent denotes the virtual root above RootID.
func NextNodeID(parent string, sibling int) string {
	if parent == "" {
		return RootID
	}
	if parent == RootID {
		return strconv.Itoa(sibling + 1)
	}
	return parent + "." + strconv.Itoa(sibling+1)
}

// Depth returns the nesting depth of a node id: -1 for the root, otherwise
// the number of dots.
func Depth(nodeID string) int {
	if nodeID == RootID {
		return -1
	}
	return strings.Count(nodeID, ".")
}

// ToolCall is one request/response pair recorded on an agent step.
type ToolCall struct {
	Request  interface{} `json:"request"`
	Response interface{} `json:"response"`
}

// SubagentResult is recorded on a step that delegated to another agent.
type SubagentResult struct {
	SubagentName string `json:"subagent_name"`
	Status       string `json:"status"`
	Report       string `json:"report"`
}

// Event is one node of the trace tree.
type Event struct {
	Event             string                 `json:"event"`
	NodeID            string                 `json:"node_id"`
	ParentNodeID      *string                `json:"parent_node_id"`
	PrevSiblingNodeID *string                `json:"prev_sibling_node_id"`
	ValidatesNodeID   string                 `json:"validates_node_id,omitempty"`
	Depth             int                    `json:"depth"`
	Agent             string                 `json:"agent,omitempty"`
	Context           string                 `json:"context,omitempty"`
	ValidatorName     string                 `json:"validator_name,omitempty"`
	ValidationPassed  *bool                  `json:"validation_passed,omitempty"`
	SystemPrompt      string                 `json:"system_prompt"`
	InputMessages     []conversation.Message `json:"input_messages"`
	Output            interface{}            `json:"output"`
	Reasoning         *string                `json:"reasoning"`
	Timing            float64                `json:"timing"`
	ToolCalls         []ToolCall             `json:"tool_calls,omitempty"`
	SubagentResult    *SubagentResult        `json:"subagent_result,omitempty"`
}

// Passed reports the validator verdict; agent steps always pass.
func (e Event) Passed() bool {
	return e.ValidationPassed == nil || *e.ValidationPassed
}

// StepParams describes an agent step.
type StepParams struct {
	NodeID        string
	ParentNodeID  string
	SiblingIndex  int
	Agent         string
	Context       string
	SystemPrompt  string
	InputMessages conversation.Conversation
	Output        interface{}
	Reasoning     string
	Timing        time.Duration
	ToolCalls     []ToolCall
	Subagent      *SubagentResult
}

// NewAgentStep builds an agent_step event.
func NewAgentStep(p StepParams) Event {
	return Event{
		Event:             EventAgentStep,
		NodeID:            p.NodeID,
		ParentNodeID:      optional(p.ParentNodeID),
		PrevSiblingNodeID: prevSibling(p.ParentNodeID, p.SiblingIndex),
		Depth:             Depth(p.NodeID),
		Agent:             p.Agent,
		Context:           p.Context,
		SystemPrompt:      p.SystemPrompt,
		InputMessages:     p.InputMessages.Clone(),
		Output:            p.Output,
		Reasoning:         optional(p.Reasoning),
		Timing:            seconds(p.Timing),
		ToolCalls:         p.ToolCalls,
		SubagentResult:    p.Subagent,
	}
}

// ValidatorParams describes a validator step.
type ValidatorParams struct {
	NodeID          string
	ParentNodeID    string
	SiblingIndex    int
	ValidatesNodeID string
	ValidatorName   string
	Passed          bool
	SystemPrompt    string
	InputMessages   conversation.Conversation
	Output          interface{}
	Reasoning       string
	Timing          time.Duration
}

// NewValidatorStep builds a validator_step event.
func NewValidatorStep(p ValidatorParams) Event {
	passed := p.Passed
	return Event{
		Event:             EventValidatorStep,
		NodeID:            p.NodeID,
		ParentNodeID:      optional(p.ParentNodeID),
		PrevSiblingNodeID: prevSibling(p.ParentNodeID, p.SiblingIndex),
		ValidatesNodeID:   p.ValidatesNodeID,
		Depth:             Depth(p.NodeID),
		ValidatorName:     p.ValidatorName,
		ValidationPassed:  &passed,
		SystemPrompt:      p.SystemPrompt,
		InputMessages:     p.InputMessages.Clone(),
		Output:            p.Output,
		Reasoning:         optional(p.Reasoning),
		Timing:            seconds(p.Timing),
	}
}

func prevSibling(parent string, idx int) *string {
	if idx <= 0 {
		return nil
	}
	id := NextNodeID(parent, idx-1)
	return &id
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
