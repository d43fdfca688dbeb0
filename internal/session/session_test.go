package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vinayprograms/benchagent/internal/trace"
)

func sampleEvents() []trace.Event {
	return []trace.Event{
		trace.NewAgentStep(trace.StepParams{NodeID: "1", ParentNodeID: trace.RootID, Agent: "Orchestrator", Output: map[string]interface{}{"next_action": "fill basket"}}),
		trace.NewValidatorStep(trace.ValidatorParams{NodeID: "1.1", ParentNodeID: "1", ValidatesNodeID: "1", ValidatorName: "StepValidator", Passed: true}),
	}
}

func TestRecorder_WritesHeaderEventsFooter(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store error: %v", err)
	}

	rec, err := store.Create(Header{Benchmark: "store", TaskID: "t-1", TaskIndex: 3, TaskText: "Buy 2 units of SKU-X."})
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if rec.ID() == "" {
		t.Fatal("session ID should not be empty")
	}

	tr := trace.New(rec)
	stage := &trace.Stage{}
	for _, e := range sampleEvents() {
		stage.Add(e)
	}
	tr.Commit(stage)

	score := 1.0
	if err := rec.Close(Footer{Code: "completed", Summary: "bought", Score: &score}); err != nil {
		t.Fatalf("close error: %v", err)
	}

	data, err := os.ReadFile(rec.Path())
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	for i, want := range []string{RecordTypeHeader, RecordTypeEvent, RecordTypeEvent, RecordTypeFooter} {
		if !strings.Contains(lines[i], `"_type":"`+want+`"`) {
			t.Errorf("line %d: expected %s record, got %s", i, want, lines[i])
		}
	}

	sess, err := store.Load(rec.ID())
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if sess.TaskIndex != 3 || sess.Benchmark != "store" {
		t.Errorf("header not restored: %+v", sess)
	}
	if len(sess.Events) != 2 || sess.Events[1].ValidatesNodeID != "1" {
		t.Errorf("events not restored: %+v", sess.Events)
	}
	if sess.Status != StatusComplete || sess.Code != "completed" {
		t.Errorf("expected complete/completed, got %s/%s", sess.Status, sess.Code)
	}
	if sess.Score == nil || *sess.Score != 1.0 {
		t.Errorf("expected score 1, got %v", sess.Score)
	}
}

func TestRecorder_FailedRun(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	rec, err := store.Create(Header{Benchmark: "store"})
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := rec.Close(Footer{Code: "error", Error: "gateway down"}); err != nil {
		t.Fatalf("close error: %v", err)
	}
	// Events after close are dropped.
	rec.Observe(sampleEvents()[0])

	sess, err := Load(rec.Path())
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if sess.Status != StatusFailed || sess.Error != "gateway down" {
		t.Errorf("expected failed session, got %+v", sess)
	}
	if len(sess.Events) != 0 {
		t.Errorf("expected no events, got %d", len(sess.Events))
	}
}

func TestLoad_InProgress(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	rec, err := store.Create(Header{Benchmark: "directory"})
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	rec.Observe(sampleEvents()[0])

	// Simulate a line being written when the reader looks.
	f, err := os.OpenFile(rec.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	f.WriteString(`{"_type":"event","event":{"node_`)
	f.Close()

	sess, err := Load(rec.Path())
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if sess.Status != StatusRunning {
		t.Errorf("expected running, got %s", sess.Status)
	}
	if len(sess.Events) != 1 {
		t.Errorf("expected 1 event, got %d", len(sess.Events))
	}
}

func TestLoad_ExportedResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")
	content := `[{"task_id": "t-9", "task_index": 2, "task_text": "Buy shoes", "benchmark": "store",
		"code": "completed", "summary": "done", "score": 0,
		"trace": [{"event": "agent_step", "node_id": "1", "parent_node_id": "0", "depth": 0}]}]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	sess, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if sess.ID != "results" {
		t.Errorf("expected id from file name, got %q", sess.ID)
	}
	if sess.TaskIndex != 2 || len(sess.Events) != 1 {
		t.Errorf("unexpected session: %+v", sess)
	}
	if sess.Status != StatusComplete {
		t.Errorf("expected complete, got %s", sess.Status)
	}
}

func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()
	noExt := filepath.Join(dir, "session")
	os.WriteFile(noExt, []byte(`{"_type":"header","id":"x"}`+"\n"), 0644)

	tests := []struct {
		path string
		want string
	}{
		{filepath.Join(dir, "a.jsonl"), "jsonl"},
		{filepath.Join(dir, "a.json"), "json"},
		{noExt, "jsonl"},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.path, tt.want, got)
		}
	}
}

func TestFileStore_List(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	a, _ := store.Create(Header{ID: "a"})
	a.Close(Footer{})
	b, _ := store.Create(Header{ID: "b"})
	b.Close(Footer{})

	ids, err := store.List()
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 sessions, got %v", ids)
	}
}
