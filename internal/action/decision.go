package action

import (
	"fmt"
)

// MaxBatch bounds the number of actions in one batch call.
const MaxBatch = 5

// MaxRemainingWork bounds the plan carried by one decision.
const MaxRemainingWork = 5

// CallMode selects between one action and an ordered batch.
type CallMode string

const (
	CallSingle CallMode = "single"
	CallBatch  CallMode = "batch"
)

// Call wraps the action(s) of a decision.
type Call struct {
	Mode      CallMode `json:"call_mode"`
	Function  *Action  `json:"function,omitempty"`
	Functions []Action `json:"functions,omitempty"`
}

// Decision is the structured output of one planning step.
type Decision struct {
	CurrentState  string   `json:"current_state"`
	RemainingWork []string `json:"remaining_work"`
	NextAction    string   `json:"next_action"`
	Call          Call     `json:"call"`
}

// Primary returns the action that drives classification: the single
// function, or the first of a batch.
func (d *Decision) Primary() (Action, bool) {
	switch d.Call.Mode {
	case CallSingle:
		if d.Call.Function != nil {
			return *d.Call.Function, true
		}
	case CallBatch:
		if len(d.Call.Functions) > 0 {
			return d.Call.Functions[0], true
		}
	}
	return Action{}, false
}

// Validate checks the call structure and that every tool is known. A
// non-nil error is a programming or protocol fault, not a tool failure.
func (d *Decision) Validate() error {
	switch d.Call.Mode {
	case CallSingle:
		if d.Call.Function == nil {
			return fmt.Errorf("%w: single call without function", ErrInvalidCall)
		}
		if KindOf(d.Call.Function.Tool) == KindUnknown {
			return fmt.Errorf("%w: %q", ErrUnknownTool, d.Call.Function.Tool)
		}
	case CallBatch:
		n := len(d.Call.Functions)
		if n == 0 || n > MaxBatch {
			return fmt.Errorf("%w: batch of %d actions (want 1..%d)", ErrInvalidCall, n, MaxBatch)
		}
		for _, a := range d.Call.Functions {
			switch KindOf(a.Tool) {
			case KindUnknown:
				return fmt.Errorf("%w: %q", ErrUnknownTool, a.Tool)
			case KindBackend:
				if Composite(a.Tool) {
					return fmt.Errorf("%w: %s cannot be batched", ErrInvalidCall, a.Tool)
				}
			default:
				return fmt.Errorf("%w: %s cannot be batched", ErrInvalidCall, a.Tool)
			}
		}
	default:
		return fmt.Errorf("%w: call_mode %q", ErrInvalidCall, d.Call.Mode)
	}
	return nil
}

// Tools lists the tools named by the decision in call order.
func (d *Decision) Tools() []string {
	if d.Call.Mode == CallBatch {
		tools := make([]string, len(d.Call.Functions))
		for i, a := range d.Call.Functions {
			tools[i] = a.Tool
		}
		return tools
	}
	if d.Call.Function != nil {
		return []string{d.Call.Function.Tool}
	}
	return nil
}

// Delegation is the payload of a meta action.
type Delegation struct {
	Tool string `json:"tool"`
	Task string `json:"task"`
}

// Link references a record in a directory answer.
type Link struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Terminal is the payload of a terminal action. Store agents report with
// Report; directory agents answer with Message and Links.
type Terminal struct {
	Tool    string `json:"tool"`
	Outcome string `json:"outcome,omitempty"`
	Report  string `json:"report,omitempty"`
	Message string `json:"message,omitempty"`
	Links   []Link `json:"links,omitempty"`
}

// Terminal outcomes.
const (
	OutcomeSuccess             = "success"
	OutcomeFailure             = "failure"
	OutcomeOKAnswer            = "ok_answer"
	OutcomeOKNotFound          = "ok_not_found"
	OutcomeDeniedSecurity      = "denied_security"
	OutcomeClarificationNeeded = "none_clarification_needed"
	OutcomeErrorInternal       = "error_internal"
)

// Statuses an agent run can end with.
const (
	StatusCompleted = "completed"
	StatusRefused   = "refused"
)

// Status maps the terminal payload onto completed or refused.
func (t Terminal) Status() string {
	switch t.Tool {
	case CompleteTask:
		return StatusCompleted
	case RefuseTask:
		return StatusRefused
	}
	switch t.Outcome {
	case OutcomeSuccess, OutcomeOKAnswer, OutcomeOKNotFound:
		return StatusCompleted
	}
	return StatusRefused
}

// Text is the human-readable summary carried by the terminal.
func (t Terminal) Text() string {
	if t.Report != "" {
		return t.Report
	}
	return t.Message
}
