// Package session persists task run traces as JSONL files.
//
// A session file holds one header line, one line per trace event in commit
// order and, once the run is over, a footer line. Events are written as they
// are committed so that a viewer can follow a run while it is in progress.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/benchagent/internal/trace"
)

// Status constants for sessions.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Session is a task run as read back from disk.
type Session struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id,omitempty"`
	Benchmark string        `json:"benchmark"`
	TaskID    string        `json:"task_id"`
	TaskIndex int           `json:"task_index"`
	TaskText  string        `json:"task_text"`
	Status    string        `json:"status"`
	Code      string        `json:"code,omitempty"`
	Summary   string        `json:"summary,omitempty"`
	Score     *float64      `json:"score,omitempty"`
	Error     string        `json:"error,omitempty"`
	Events    []trace.Event `json:"trace"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Header describes the run a session records.
type Header struct {
	ID        string
	RunID     string
	Benchmark string
	TaskID    string
	TaskIndex int
	TaskText  string
}

// Footer is the final state of a run.
type Footer struct {
	Code    string
	Summary string
	Score   *float64
	Error   string
}

// JSONL record types
const (
	RecordTypeHeader = "header"
	RecordTypeEvent  = "event"
	RecordTypeFooter = "footer"
)

// JSONLRecord is one line of a session file.
type JSONLRecord struct {
	RecordType string `json:"_type"`

	// header
	ID        string    `json:"id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Benchmark string    `json:"benchmark,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	TaskIndex *int      `json:"task_index,omitempty"`
	TaskText  string    `json:"task_text,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	// event
	Event *trace.Event `json:"event,omitempty"`

	// footer
	Status    string    `json:"status,omitempty"`
	Code      string    `json:"code,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// FileStore keeps session files in one directory.
type FileStore struct {
	dir    string
	logger *logging.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logging.New().WithComponent("session")}, nil
}

// Dir is the directory holding the session files.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path is the file of session id.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// Create starts a session file and writes its header. An empty h.ID gets a
// fresh one.
func (s *FileStore) Create(h Header) (*Recorder, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	path := s.Path(h.ID)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create session file: %w", err)
	}
	r := &Recorder{id: h.ID, path: path, f: f, logger: s.logger}

	idx := h.TaskIndex
	if err := r.write(JSONLRecord{
		RecordType: RecordTypeHeader,
		ID:         h.ID,
		RunID:      h.RunID,
		Benchmark:  h.Benchmark,
		TaskID:     h.TaskID,
		TaskIndex:  &idx,
		TaskText:   h.TaskText,
		CreatedAt:  time.Now(),
	}); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Load reads session id from the store.
func (s *FileStore) Load(id string) (*Session, error) {
	return Load(s.Path(id))
}

// List returns the ids of the stored sessions, oldest first.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	type item struct {
		id  string
		mod time.Time
	}
	var items []item
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{strings.TrimSuffix(e.Name(), ".jsonl"), info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].mod.Before(items[j].mod) })
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids, nil
}

// Recorder appends the events of one run to its session file. It is a
// trace.Observer.
type Recorder struct {
	mu     sync.Mutex
	id     string
	path   string
	f      *os.File
	err    error
	closed bool
	logger *logging.Logger
}

var _ trace.Observer = (*Recorder)(nil)

// ID is the session id.
func (r *Recorder) ID() string { return r.id }

// Path is the session file.
func (r *Recorder) Path() string { return r.path }

// Observe writes one committed event. Write failures are kept and reported
// by Close; recording never interrupts the run.
func (r *Recorder) Observe(e trace.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return
	}
	ev := e
	if err := r.writeLocked(JSONLRecord{RecordType: RecordTypeEvent, Event: &ev}); err != nil {
		r.err = err
		r.logger.Warn("session write failed", map[string]interface{}{
			"session": r.id,
			"error":   err.Error(),
		})
	}
}

// Close writes the footer and closes the file.
func (r *Recorder) Close(f Footer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.err
	}
	r.closed = true

	status := StatusComplete
	if f.Error != "" {
		status = StatusFailed
	}
	if r.err == nil {
		r.err = r.writeLocked(JSONLRecord{
			RecordType: RecordTypeFooter,
			Status:     status,
			Code:       f.Code,
			Summary:    f.Summary,
			Score:      f.Score,
			Error:      f.Error,
			UpdatedAt:  time.Now(),
		})
	}
	if err := r.f.Close(); err != nil && r.err == nil {
		r.err = err
	}
	return r.err
}

func (r *Recorder) write(record JSONLRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLocked(record)
}

// writeLocked writes a single JSONL record in one write call.
func (r *Recorder) writeLocked(record JSONLRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	data = append(data, '\n')
	if _, err := r.f.Write(data); err != nil {
		return err
	}
	return nil
}

// Load reads a session file. JSONL session files and exported result files
// are accepted: a single result, an array of results or a batch export with
// a "results" list. Only the first result of a list is used.
func Load(path string) (*Session, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == "jsonl" {
		return loadJSONL(path)
	}
	return loadResultJSON(path)
}

// loadJSONL loads a session from JSONL format. A truncated last line, as
// seen while a run is still writing, is ignored.
func loadJSONL(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sess := &Session{Status: StatusRunning, Events: []trace.Event{}}

	// bufio.Reader has no line length limit, unlike Scanner
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			if len(bytes.TrimSpace(line)) > 0 {
				_ = parseJSONLLine(line, sess)
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := parseJSONLLine(line, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func parseJSONLLine(line []byte, sess *Session) error {
	var record JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse JSONL line: %w", err)
	}

	switch record.RecordType {
	case RecordTypeHeader:
		sess.ID = record.ID
		sess.RunID = record.RunID
		sess.Benchmark = record.Benchmark
		sess.TaskID = record.TaskID
		if record.TaskIndex != nil {
			sess.TaskIndex = *record.TaskIndex
		}
		sess.TaskText = record.TaskText
		sess.CreatedAt = record.CreatedAt
	case RecordTypeEvent:
		if record.Event != nil {
			sess.Events = append(sess.Events, *record.Event)
		}
	case RecordTypeFooter:
		sess.Status = record.Status
		sess.Code = record.Code
		sess.Summary = record.Summary
		sess.Score = record.Score
		sess.Error = record.Error
		sess.UpdatedAt = record.UpdatedAt
	}
	return nil
}

// loadResultJSON reads an exported task result.
func loadResultJSON(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("failed to parse results: %w", err)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("%s holds no results", path)
		}
		data = list[0]
	} else {
		var batch struct {
			Results []json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(data, &batch); err == nil && len(batch.Results) > 0 {
			data = batch.Results[0]
		}
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	if sess.ID == "" {
		sess.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	sess.Status = StatusComplete
	if sess.Code == "error" {
		sess.Status = StatusFailed
		sess.Error = sess.Summary
	}
	return &sess, nil
}

// DetectFormat reports "jsonl" for session files and "json" otherwise.
func DetectFormat(path string) (string, error) {
	if strings.HasSuffix(path, ".jsonl") {
		return "jsonl", nil
	}
	if strings.HasSuffix(path, ".json") {
		return "json", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 256)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	if strings.Contains(string(buf[:n]), `"_type"`) {
		return "jsonl", nil
	}
	return "json", nil
}
