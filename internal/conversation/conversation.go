// Package conversation holds the role-tagged message lists an agent reasons
// over and the fixed text formats used to grow them.
package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// planPrefix starts the single ephemeral plan message.
const planPrefix = "Remaining work:"

// subagentPrefix marks a delegated result in a parent conversation.
const subagentPrefix = "Sub-agent:"

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered list of messages.
type Conversation []Message

// New starts a conversation with a single user message.
func New(user string) Conversation {
	return Conversation{{Role: RoleUser, Content: user}}
}

// Clone returns an independent copy.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// Append adds a message.
func (c *Conversation) Append(role, content string) {
	*c = append(*c, Message{Role: role, Content: content})
}

// FirstUser returns the content of the first user message.
func (c Conversation) FirstUser() string {
	for _, m := range c {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// InjectPlan replaces the plan message with the given remaining work. At
// most one plan message exists after the call; an empty plan removes it.
func (c *Conversation) InjectPlan(work []string) {
	out := (*c)[:0]
	for _, m := range *c {
		if m.Role == RoleUser && strings.HasPrefix(m.Content, planPrefix) {
			continue
		}
		out = append(out, m)
	}
	*c = out
	if len(work) == 0 {
		return
	}
	var sb strings.Builder
	sb.WriteString(planPrefix)
	for i, w := range work {
		sb.WriteString(fmt.Sprintf("\n%d. %s", i+1, w))
	}
	c.Append(RoleUser, sb.String())
}

// BuildSubagentContext assembles the opening message for a delegated agent
// from the orchestrator's full log.
func BuildSubagentContext(fullLog Conversation, task string) string {
	var sb strings.Builder
	sb.WriteString("Original Task: ")
	sb.WriteString(fullLog.FirstUser())
	sb.WriteString("\n")

	var previous []string
	for _, m := range fullLog {
		if m.Role == RoleUser && strings.HasPrefix(m.Content, subagentPrefix) {
			previous = append(previous, m.Content)
		}
	}
	if len(previous) > 0 {
		sb.WriteString("\nPrevious Sub-agent Results:\n")
		for _, p := range previous {
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nYour Current Task: ")
	sb.WriteString(task)
	return sb.String()
}

// FormatSubagentResult renders a delegated agent's outcome for its parent.
func FormatSubagentResult(name, status, report string) string {
	return fmt.Sprintf("%s %s\nStatus: %s\nReport: %s", subagentPrefix, name, status, report)
}

// PlannedStep is the assistant turn for a single backend call.
func PlannedStep(nextAction string, request json.RawMessage, response string) string {
	return fmt.Sprintf("Planned step:\n\"%s\"\n\nRequest:\n`%s`\n\nResponse:\n`%s`", nextAction, request, response)
}

// PlannedBatch is the assistant turn for a batch call.
func PlannedBatch(nextAction, batchText string) string {
	return fmt.Sprintf("Planned step:\n\"%s\"\n\n%s", nextAction, batchText)
}

// PlannedDelegation is the assistant turn for a delegation.
func PlannedDelegation(nextAction, agent, task string) string {
	return fmt.Sprintf("Planned step:\n\"%s\"\n\nDelegated to: %s\nTask: %s", nextAction, agent, task)
}

// StepCompleted is the assistant turn used by single-agent benchmarks.
func StepCompleted(nextAction string, request json.RawMessage, response string) string {
	return fmt.Sprintf("Step completed.\nAction: %s\nTool called: %s\nResponse received: %s", nextAction, request, response)
}

// PlanRejected is the assistant turn recording a rejected proposal.
func PlanRejected(nextAction string) string {
	return fmt.Sprintf("Planned step:\n\"%s\"\n\nPlan rejected by validator.", nextAction)
}

// RejectionFeedback is the user turn asking for a revised plan.
func RejectionFeedback(message string, revise string) string {
	return fmt.Sprintf("Your plan was rejected: %s\n\n%s", message, revise)
}
