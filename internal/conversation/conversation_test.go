package conversation

import (
	"encoding/json"
	"strings"
	"testing"
)

func planMessages(c Conversation) int {
	n := 0
	for _, m := range c {
		if m.Role == RoleUser && strings.HasPrefix(m.Content, planPrefix) {
			n++
		}
	}
	return n
}

func TestInjectPlan_SingleMessage(t *testing.T) {
	c := New("buy things")
	c.InjectPlan([]string{"find product", "add to basket"})
	c.Append(RoleAssistant, "step")
	c.InjectPlan([]string{"checkout"})
	c.InjectPlan([]string{"checkout", "report"})

	if n := planMessages(c); n != 1 {
		t.Fatalf("expected 1 plan message, got %d", n)
	}
	last := c[len(c)-1]
	want := "Remaining work:\n1. checkout\n2. report"
	if last.Content != want {
		t.Errorf("plan = %q, want %q", last.Content, want)
	}
}

func TestInjectPlan_EmptyRemoves(t *testing.T) {
	c := New("task")
	c.InjectPlan([]string{"a"})
	c.InjectPlan(nil)
	if n := planMessages(c); n != 0 {
		t.Fatalf("expected plan removed, got %d", n)
	}
	if len(c) != 1 {
		t.Errorf("expected only the task message, got %d messages", len(c))
	}
}

func TestBuildSubagentContext(t *testing.T) {
	log := Conversation{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "Buy 2 SKU-X"},
		{Role: RoleAssistant, Content: "delegating"},
		{Role: RoleUser, Content: FormatSubagentResult("ProductExplorer", "completed", "SKU-X in stock")},
	}

	got := BuildSubagentContext(log, "Add 2 SKU-X")
	want := "Original Task: Buy 2 SKU-X\n\nPrevious Sub-agent Results:\nSub-agent: ProductExplorer\nStatus: completed\nReport: SKU-X in stock\n\nYour Current Task: Add 2 SKU-X"
	if got != want {
		t.Errorf("context mismatch\ngot:  %q\nwant: %q", got, want)
	}

	got = BuildSubagentContext(log[:2], "Find SKU-X")
	want = "Original Task: Buy 2 SKU-X\n\nYour Current Task: Find SKU-X"
	if got != want {
		t.Errorf("context mismatch\ngot:  %q\nwant: %q", got, want)
	}
}

func TestTurnFormats(t *testing.T) {
	req := json.RawMessage(`{"tool":"/basket/add","sku":"A","quantity":1}`)
	got := PlannedStep("add A", req, `{"ok":true}`)
	want := "Planned step:\n\"add A\"\n\nRequest:\n`{\"tool\":\"/basket/add\",\"sku\":\"A\",\"quantity\":1}`\n\nResponse:\n`{\"ok\":true}`"
	if got != want {
		t.Errorf("PlannedStep = %q", got)
	}

	if got := PlanRejected("add A"); got != "Planned step:\n\"add A\"\n\nPlan rejected by validator." {
		t.Errorf("PlanRejected = %q", got)
	}
	if got := PlannedDelegation("find", "ProductExplorer", "find A"); got != "Planned step:\n\"find\"\n\nDelegated to: ProductExplorer\nTask: find A" {
		t.Errorf("PlannedDelegation = %q", got)
	}
	if got := RejectionFeedback("too early", "Please revise your approach."); got != "Your plan was rejected: too early\n\nPlease revise your approach." {
		t.Errorf("RejectionFeedback = %q", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c := New("task")
	d := c.Clone()
	d.Append(RoleAssistant, "x")
	d[0].Content = "changed"
	if len(c) != 1 || c[0].Content != "task" {
		t.Errorf("clone shares storage with original: %+v", c)
	}
}
