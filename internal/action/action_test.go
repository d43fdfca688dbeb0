package action

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		tool string
		want Kind
	}{
		{AddToBasket, KindBackend},
		{SetBasket, KindBackend},
		{DelegateBasketBuilder, KindMeta},
		{SubmitTask, KindTerminal},
		{Respond, KindTerminal},
		{LoadRespondInstructions, KindInternal},
		{"/nope", KindUnknown},
	}
	for _, tt := range tests {
		if got := KindOf(tt.tool); got != tt.want {
			t.Errorf("KindOf(%q) = %v, want %v", tt.tool, got, tt.want)
		}
	}
}

func TestDecisionUnmarshal(t *testing.T) {
	src := `{
		"current_state": "empty basket",
		"remaining_work": ["add", "checkout"],
		"next_action": "add SKU-X",
		"call": {"call_mode": "single", "function": {"tool": "/basket/add", "sku": "SKU-X", "quantity": 2}}
	}`
	var d Decision
	if err := json.Unmarshal([]byte(src), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	a, ok := d.Primary()
	if !ok || a.Tool != AddToBasket {
		t.Fatalf("primary = %v %v", a.Tool, ok)
	}
	p := a.Params()
	if p["sku"] != "SKU-X" || p["quantity"].(float64) != 2 {
		t.Errorf("params = %v", p)
	}
	if _, has := p["tool"]; has {
		t.Error("params should not carry the discriminator")
	}

	out, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Decision
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if back.Call.Function == nil || back.Call.Function.Tool != AddToBasket {
		t.Errorf("function lost in round trip: %s", out)
	}
}

func TestDecisionValidate(t *testing.T) {
	add := New(AddToBasket, map[string]interface{}{"sku": "A", "quantity": 1})
	tests := []struct {
		name string
		call Call
		want error
	}{
		{"single ok", Call{Mode: CallSingle, Function: &add}, nil},
		{"single missing", Call{Mode: CallSingle}, ErrInvalidCall},
		{"unknown tool", Call{Mode: CallSingle, Function: &Action{Tool: "/x"}}, ErrUnknownTool},
		{"bad mode", Call{Mode: "parallel", Function: &add}, ErrInvalidCall},
		{"empty batch", Call{Mode: CallBatch}, ErrInvalidCall},
		{"batch too large", Call{Mode: CallBatch, Functions: []Action{add, add, add, add, add, add}}, ErrInvalidCall},
		{"batch terminal", Call{Mode: CallBatch, Functions: []Action{add, New(SubmitTask, nil)}}, ErrInvalidCall},
		{"batch meta", Call{Mode: CallBatch, Functions: []Action{New(DelegateBasketBuilder, nil)}}, ErrInvalidCall},
		{"batch composite", Call{Mode: CallBatch, Functions: []Action{New(SetBasket, nil)}}, ErrInvalidCall},
		{"batch ok", Call{Mode: CallBatch, Functions: []Action{add, add}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decision{Call: tt.call}
			err := d.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTerminalStatus(t *testing.T) {
	tests := []struct {
		term Terminal
		want string
	}{
		{Terminal{Tool: SubmitTask, Outcome: OutcomeSuccess}, StatusCompleted},
		{Terminal{Tool: SubmitTask, Outcome: OutcomeFailure}, StatusRefused},
		{Terminal{Tool: CompleteTask}, StatusCompleted},
		{Terminal{Tool: RefuseTask}, StatusRefused},
		{Terminal{Tool: Respond, Outcome: OutcomeOKNotFound}, StatusCompleted},
		{Terminal{Tool: Respond, Outcome: OutcomeDeniedSecurity}, StatusRefused},
	}
	for _, tt := range tests {
		if got := tt.term.Status(); got != tt.want {
			t.Errorf("%+v: got %s, want %s", tt.term, got, tt.want)
		}
	}
}

func TestTerminalText(t *testing.T) {
	if got := (Terminal{Report: "r", Message: "m"}).Text(); got != "r" {
		t.Errorf("got %q", got)
	}
	if got := (Terminal{Message: "m"}).Text(); got != "m" {
		t.Errorf("got %q", got)
	}
}
