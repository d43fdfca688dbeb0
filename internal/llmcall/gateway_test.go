package llmcall

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/benchagent/internal/conversation"
)

type verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

type recordingSink struct {
	mu    sync.Mutex
	calls []Usage
	err   error
}

func (s *recordingSink) LogLLM(ctx context.Context, taskID string, u Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, u)
	return s.err
}

func newTestGateway(p llm.Provider) (*Gateway, *[]time.Duration) {
	g := New(Config{Provider: p})
	var slept []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return g, &slept
}

func TestGateway_ParsesAndPrependsSystemPrompt(t *testing.T) {
	provider := llm.NewMockProvider()
	var seen llm.ChatRequest
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		seen = req
		return &llm.ChatResponse{
			Content:  "Here you go:\n```json\n{\"approved\": true, \"reason\": \"fine {ok}\"}\n```",
			Thinking: "considered it",
			Model:    "test-model",
		}, nil
	}
	g, _ := newTestGateway(provider)

	var v verdict
	res, err := g.Call(context.Background(), Request{
		Schema:       Schema{Name: "Verdict"},
		SystemPrompt: "You judge.",
		Messages:     conversation.New("judge this"),
	}, &v)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !v.Approved || v.Reason != "fine {ok}" {
		t.Errorf("parsed = %+v", v)
	}
	if res.Output["approved"] != true {
		t.Errorf("output = %v", res.Output)
	}
	if res.Reasoning != "considered it" {
		t.Errorf("reasoning = %q", res.Reasoning)
	}
	if len(seen.Messages) != 2 || seen.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", seen.Messages)
	}
	if !strings.HasPrefix(seen.Messages[0].Content, "You judge.") {
		t.Errorf("system prompt not first: %q", seen.Messages[0].Content)
	}
}

func TestGateway_RetriesThenSucceeds(t *testing.T) {
	provider := llm.NewMockProvider()
	calls := 0
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("overloaded")
		}
		return &llm.ChatResponse{Content: `{"approved": false, "reason": "no"}`}, nil
	}
	g, slept := newTestGateway(provider)

	var v verdict
	if _, err := g.Call(context.Background(), Request{Schema: Schema{Name: "Verdict"}}, &v); err != nil {
		t.Fatalf("call: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*slept) != 2 || (*slept)[0] != DefaultBackoff {
		t.Errorf("slept = %v", *slept)
	}
}

func TestGateway_GivesUpAfterFourAttempts(t *testing.T) {
	provider := llm.NewMockProvider()
	calls := 0
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		return &llm.ChatResponse{Content: "not json at all"}, nil
	}
	g, slept := newTestGateway(provider)

	_, err := g.Call(context.Background(), Request{Schema: Schema{Name: "Verdict"}}, &verdict{})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if len(*slept) != 3 {
		t.Errorf("sleeps = %d, want 3", len(*slept))
	}
}

func TestGateway_ReportsUsage(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"approved": true}`, InputTokens: 10, OutputTokens: 3}, nil
	}
	g, _ := newTestGateway(provider)
	sink := &recordingSink{err: errors.New("backend down")}

	_, err := g.Call(context.Background(), Request{
		Schema: Schema{Name: "Verdict"},
		Task:   &TaskContext{Sink: sink, TaskID: "t-1", Model: "m"},
	}, &verdict{})
	if err != nil {
		t.Fatalf("usage failure must not fail the call: %v", err)
	}
	if len(sink.calls) != 1 {
		t.Fatalf("usage calls = %d", len(sink.calls))
	}
	if u := sink.calls[0]; u.Model != "m" || u.InputTokens != 10 || u.OutputTokens != 3 {
		t.Errorf("usage = %+v", u)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"text {\"a\":{\"b\":2}} more", `{"a":{"b":2}}`},
		{`{"s":"}"}`, `{"s":"}"}`},
		{`{"s":"\"}"}`, `{"s":"\"}"}`},
		{"none", ""},
		{"{unterminated", ""},
	}
	for _, tt := range tests {
		if got := extractJSON(tt.in); got != tt.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
