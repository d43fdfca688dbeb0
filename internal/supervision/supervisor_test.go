package supervision

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/conversation"
	"github.com/vinayprograms/benchagent/internal/llmcall"
	"github.com/vinayprograms/benchagent/internal/trace"
)

// scriptedValidator answers every validator call from a fixed verdict
// function and counts the calls.
type scriptedValidator struct {
	mu     sync.Mutex
	calls  int
	prompt []string
}

func (s *scriptedValidator) provider(answer func(call int, user string) (string, error)) llm.Provider {
	p := llm.NewMockProvider()
	p.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		s.mu.Lock()
		s.calls++
		n := s.calls
		user := req.Messages[len(req.Messages)-1].Content
		s.prompt = append(s.prompt, user)
		s.mu.Unlock()
		content, err := answer(n, user)
		if err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Content: content}, nil
	}
	return p
}

func newSupervisor(p llm.Provider) *Supervisor {
	return New(Config{Gateway: llmcall.New(llmcall.Config{Provider: p, Attempts: 1})})
}

const (
	reject  = `{"analysis": "checkout before adding", "is_valid": false, "rejection_message": "add the items first"}`
	approve = `{"analysis": "looks right", "is_valid": true}`
)

func proposal(tool, next string) *Proposal {
	a := action.New(tool, map[string]interface{}{})
	return &Proposal{
		Decision: action.Decision{
			CurrentState: "start",
			NextAction:   next,
			Call:         action.Call{Mode: action.CallSingle, Function: &a},
		},
		Output: map[string]interface{}{
			"current_state":  "start",
			"remaining_work": []string{"finish"},
			"next_action":    next,
			"call":           map[string]interface{}{"call_mode": "single", "function": map[string]interface{}{"tool": tool}},
		},
	}
}

func storeBinding(tools ...string) Binding {
	return Binding{
		Name:         "StepValidator",
		Tools:        tools,
		Agents:       []string{Wildcard},
		MaxAttempts:  2,
		SystemPrompt: "You validate plans.",
	}
}

func step() Step {
	return Step{
		Agent:        "Orchestrator",
		SystemPrompt: "You are the orchestrator.",
		OriginalTask: "buy 2 SKU-X",
		Conversation: conversation.New("buy 2 SKU-X"),
		ParentNodeID: trace.RootID,
	}
}

func TestMatch_FirstBindingWins(t *testing.T) {
	bindings := []Binding{
		{Name: "checkout", Tools: []string{action.Checkout}, Agents: []string{"CheckoutProcessor"}},
		{Name: "any", Tools: []string{Wildcard}, Agents: []string{Wildcard}},
	}

	tests := []struct {
		agent, tool, want string
	}{
		{"CheckoutProcessor", action.Checkout, "checkout"},
		{"Orchestrator", action.Checkout, "any"},
		{"CheckoutProcessor", action.ViewBasket, "any"},
	}
	for _, tt := range tests {
		b := Match(bindings, tt.agent, tt.tool)
		if b == nil || b.Name != tt.want {
			t.Errorf("Match(%s, %s) = %v, want %s", tt.agent, tt.tool, b, tt.want)
		}
	}

	if b := Match(bindings[:1], "Orchestrator", action.Checkout); b != nil {
		t.Errorf("expected no binding, got %s", b.Name)
	}
}

func TestValidate_FailsOpen(t *testing.T) {
	v := &scriptedValidator{}
	s := newSupervisor(v.provider(func(int, string) (string, error) {
		return "", errors.New("provider down")
	}))
	b := storeBinding(Wildcard)

	verdict, event := s.Validate(context.Background(), Check{
		Binding:      &b,
		OriginalTask: "task",
		Conversation: conversation.New("task"),
		Proposal:     proposal(action.ViewBasket, "look").Output,
		StepNodeID:   "1",
	})

	if !verdict.IsValid {
		t.Fatal("validator error must approve the step")
	}
	if !strings.HasPrefix(verdict.Analysis, "Validation error:") {
		t.Errorf("analysis = %q", verdict.Analysis)
	}
	if event.Event != trace.EventValidatorStep || !event.Passed() {
		t.Errorf("event = %+v", event)
	}
	out, ok := event.Output.(map[string]interface{})
	if !ok || !strings.Contains(out["error"].(string), "provider down") {
		t.Errorf("output = %v", event.Output)
	}
	if event.NodeID != "1.1" || *event.ParentNodeID != "1" || event.ValidatesNodeID != "1" {
		t.Errorf("ids = %s parent %v validates %s", event.NodeID, *event.ParentNodeID, event.ValidatesNodeID)
	}
}

func TestCheck_Subject(t *testing.T) {
	b := storeBinding(action.Checkout)
	c := Check{Binding: &b, Agent: "Orchestrator", OriginalTask: "buy 2 SKU-X and pay with the cheapest coupon"}
	if got := c.subject(); got != "Orchestrator" {
		t.Errorf("subject = %q, want the agent name", got)
	}
	c.Agent = ""
	if got := c.subject(); got != b.Name {
		t.Errorf("subject = %q, want binding name %q", got, b.Name)
	}
}

func TestReview_UnboundToolSkipsValidation(t *testing.T) {
	v := &scriptedValidator{}
	s := newSupervisor(v.provider(func(int, string) (string, error) { return reject, nil }))
	tr := trace.New()

	out, err := s.Review(context.Background(), []Binding{storeBinding(action.Checkout)}, step(),
		proposal(action.ViewBasket, "look"), nil, tr)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if v.calls != 0 {
		t.Errorf("validator called %d times", v.calls)
	}
	if out.NodeID != "1" || len(out.Validation) != 0 || tr.Len() != 0 {
		t.Errorf("outcome = %+v, trace %d", out, tr.Len())
	}
}

func TestReview_AlwaysRejectingExecutesLastProposal(t *testing.T) {
	v := &scriptedValidator{}
	s := newSupervisor(v.provider(func(int, string) (string, error) { return reject, nil }))
	tr := trace.New()

	proposals := 0
	var seen []conversation.Conversation
	propose := func(ctx context.Context, conv conversation.Conversation) (*Proposal, error) {
		proposals++
		seen = append(seen, conv.Clone())
		return proposal(action.Checkout, "checkout again"), nil
	}

	st := step()
	out, err := s.Review(context.Background(), []Binding{storeBinding(action.Checkout)}, st,
		proposal(action.Checkout, "checkout"), propose, tr)
	if err != nil {
		t.Fatalf("review: %v", err)
	}

	if v.calls != 3 {
		t.Errorf("validator calls = %d, want max_attempts+1 = 3", v.calls)
	}
	if proposals != 2 {
		t.Errorf("re-proposals = %d, want 2", proposals)
	}
	if !out.Forced {
		t.Error("last proposal should be force-approved")
	}
	if out.NodeID != "3" || out.StepCount != 2 {
		t.Errorf("node = %s, count = %d", out.NodeID, out.StepCount)
	}
	if len(out.Validation) != 1 || out.Validation[0].Passed() {
		t.Errorf("pending validation = %+v", out.Validation)
	}

	events := tr.Events()
	want := []struct{ kind, id string }{
		{trace.EventAgentStep, "1"},
		{trace.EventValidatorStep, "1.1"},
		{trace.EventAgentStep, "2"},
		{trace.EventValidatorStep, "2.1"},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].Event != w.kind || events[i].NodeID != w.id {
			t.Errorf("event %d = %s %s, want %s %s", i, events[i].Event, events[i].NodeID, w.kind, w.id)
		}
	}
	for _, ev := range []trace.Event{events[0], events[2]} {
		if ev.Agent != "Orchestrator" || ev.Context != "Orchestrator" {
			t.Errorf("rejected step %s agent = %q, context = %q", ev.NodeID, ev.Agent, ev.Context)
		}
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !strings.Contains(string(data), `"context":"Orchestrator"`) {
			t.Errorf("rejected step %s JSON lacks context: %s", ev.NodeID, data)
		}
	}

	for i, conv := range seen {
		if len(conv) != 3 {
			t.Fatalf("retry %d saw %d messages, want 3", i, len(conv))
		}
	}
	if seen[0][1].Content != "Planned step:\n\"checkout\"\n\nPlan rejected by validator." {
		t.Errorf("rejection turn = %q", seen[0][1].Content)
	}
	if seen[1][1].Content != "Planned step:\n\"checkout again\"\n\nPlan rejected by validator." {
		t.Errorf("second rejection turn = %q", seen[1][1].Content)
	}
	if seen[0][2].Content != "Your plan was rejected: add the items first\n\nPlease reconsider and provide a revised plan." {
		t.Errorf("feedback turn = %q", seen[0][2].Content)
	}
	if len(st.Conversation) != 1 {
		t.Error("review must not grow the agent's conversation")
	}
}

func TestReview_ApprovesAfterRejection(t *testing.T) {
	v := &scriptedValidator{}
	s := newSupervisor(v.provider(func(call int, _ string) (string, error) {
		if call == 1 {
			return reject, nil
		}
		return approve, nil
	}))
	tr := trace.New()
	propose := func(ctx context.Context, conv conversation.Conversation) (*Proposal, error) {
		return proposal(action.Checkout, "checkout now"), nil
	}

	out, err := s.Review(context.Background(), []Binding{storeBinding(action.Checkout)}, step(),
		proposal(action.Checkout, "checkout"), propose, tr)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if out.Forced || out.NodeID != "2" {
		t.Errorf("outcome = %+v", out)
	}
	if out.Proposal.Decision.NextAction != "checkout now" {
		t.Errorf("executed %q", out.Proposal.Decision.NextAction)
	}
	if len(out.Input) != 1 {
		t.Errorf("approved step input = %d messages, want the original conversation", len(out.Input))
	}
	if tr.Len() != 2 {
		t.Errorf("committed = %d, want the rejected pair only", tr.Len())
	}
	if !strings.Contains(v.prompt[0], "Agent's planned next step:\n- Current state: start") {
		t.Errorf("validator prompt = %q", v.prompt[0])
	}
}

func TestReview_RevalidatesWhenToolMoves(t *testing.T) {
	v := &scriptedValidator{}
	s := newSupervisor(v.provider(func(call int, _ string) (string, error) {
		if call == 1 {
			return reject, nil
		}
		return approve, nil
	}))
	bindings := []Binding{
		storeBinding(action.Checkout),
		{Name: "BasketValidator", Tools: []string{action.AddToBasket}, Agents: []string{Wildcard}, MaxAttempts: 1},
	}
	propose := func(ctx context.Context, conv conversation.Conversation) (*Proposal, error) {
		return proposal(action.AddToBasket, "add the items"), nil
	}

	out, err := s.Review(context.Background(), bindings, step(), proposal(action.Checkout, "checkout"), propose, trace.New())
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if len(out.Validation) != 1 || out.Validation[0].ValidatorName != "BasketValidator" {
		t.Fatalf("validation = %+v", out.Validation)
	}
	if out.NodeID != "2" {
		t.Errorf("node = %s", out.NodeID)
	}
}

func TestReview_ProposerErrorPropagates(t *testing.T) {
	v := &scriptedValidator{}
	s := newSupervisor(v.provider(func(int, string) (string, error) { return reject, nil }))
	boom := errors.New("gateway exhausted")

	_, err := s.Review(context.Background(), []Binding{storeBinding(Wildcard)}, step(),
		proposal(action.Checkout, "checkout"),
		func(context.Context, conversation.Conversation) (*Proposal, error) { return nil, boom },
		trace.New())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestTranscriptPrompt(t *testing.T) {
	conv := conversation.New("who leads Apollo?")
	conv.Append(conversation.RoleAssistant, "Step completed.")

	got := TranscriptPrompt(Input{
		AgentSystemPrompt: "You are the assistant.",
		Conversation:      conv,
		Proposal:          map[string]interface{}{"next_action": "search"},
	})

	sep := strings.Repeat("#", 15)
	want := "AGENT SYSTEM PROMPT:\nYou are the assistant.\n\n" + sep + "\n\n" +
		"USER:\nwho leads Apollo?\n\n" + sep + "\n\nASSISTANT:\nStep completed.\n\n" + sep +
		"\n\nPROPOSED NEXT STEP:\n{\n  \"next_action\": \"search\"\n}"
	if got != want {
		t.Errorf("prompt =\n%s\nwant\n%s", got, want)
	}
}
