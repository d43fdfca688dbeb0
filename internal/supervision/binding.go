package supervision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/benchagent/internal/conversation"
)

// Wildcard matches any tool or agent.
const Wildcard = "*"

// Input is what a validator sees about the step under review.
type Input struct {
	OriginalTask      string
	AgentSystemPrompt string
	Conversation      conversation.Conversation
	Proposal          map[string]interface{}
}

// PromptBuilder renders the validator's user message.
type PromptBuilder func(Input) string

// Binding attaches a validator to a set of tools and agents.
type Binding struct {
	Name         string
	Tools        []string
	Agents       []string
	MaxAttempts  int
	SystemPrompt string
	// Revise closes the feedback message sent after a rejection.
	Revise string
	Prompt PromptBuilder
}

// Covers reports whether the binding reviews tool.
func (b *Binding) Covers(tool string) bool {
	return matches(b.Tools, tool)
}

// AppliesTo reports whether the binding reviews steps of agent.
func (b *Binding) AppliesTo(agent string) bool {
	return matches(b.Agents, agent)
}

func (b *Binding) prompt() PromptBuilder {
	if b.Prompt != nil {
		return b.Prompt
	}
	return PlanPrompt
}

func (b *Binding) revise() string {
	if b.Revise != "" {
		return b.Revise
	}
	return "Please reconsider and provide a revised plan."
}

func matches(set []string, name string) bool {
	for _, s := range set {
		if s == Wildcard || s == name {
			return true
		}
	}
	return false
}

// Match returns the first binding covering agent and tool, or nil.
func Match(bindings []Binding, agent, tool string) *Binding {
	for i := range bindings {
		if bindings[i].AppliesTo(agent) && bindings[i].Covers(tool) {
			return &bindings[i]
		}
	}
	return nil
}

// PlanPrompt lays the proposal out field by field.
func PlanPrompt(in Input) string {
	var history []string
	for _, m := range in.Conversation {
		history = append(history, fmt.Sprintf("[%s]: %s", m.Role, m.Content))
	}
	remaining, _ := json.Marshal(in.Proposal["remaining_work"])
	call, _ := json.Marshal(in.Proposal["call"])

	return fmt.Sprintf(`Original task:
%s

Agent's system prompt (defines agent capabilities):
%s

Conversation history (what agent has seen):
%s

Agent's planned next step:
- Current state: %s
- Remaining work: %s
- Next action: %s
- Call: %s

Validate this plan. Is it sound, or are there issues?`,
		in.OriginalTask,
		in.AgentSystemPrompt,
		strings.Join(history, "\n"),
		field(in.Proposal, "current_state"),
		remaining,
		field(in.Proposal, "next_action"),
		call,
	)
}

// TranscriptPrompt shows the whole transcript turn by turn followed by the
// proposal as indented JSON.
func TranscriptPrompt(in Input) string {
	sep := strings.Repeat("#", 15)
	turns := make([]string, 0, len(in.Conversation))
	for _, m := range in.Conversation {
		turns = append(turns, strings.ToUpper(m.Role)+":\n"+m.Content)
	}
	proposal, _ := json.MarshalIndent(in.Proposal, "", "  ")

	return fmt.Sprintf("AGENT SYSTEM PROMPT:\n%s\n\n%s\n\n%s\n\n%s\n\nPROPOSED NEXT STEP:\n%s",
		in.AgentSystemPrompt,
		sep,
		strings.Join(turns, "\n\n"+sep+"\n\n"),
		sep,
		proposal,
	)
}

func field(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return "N/A"
}
