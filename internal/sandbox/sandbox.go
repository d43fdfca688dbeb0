package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/benchagent/internal/action"
)

// Config configures a Sandbox.
type Config struct {
	// DSN is the SQLite database; empty means in-memory.
	DSN string
	// FixturesDir holds extra benchmark definitions.
	FixturesDir string
	// Benchmarks, when set, replaces fixture loading.
	Benchmarks map[string]*Benchmark
}

// Sandbox is the in-process Platform.
type Sandbox struct {
	db         *sql.DB
	benchmarks map[string]*Benchmark
	logger     *logging.Logger
}

var _ Platform = (*Sandbox)(nil)

// New opens the sandbox database and loads the benchmarks.
func New(cfg Config) (*Sandbox, error) {
	benchmarks := cfg.Benchmarks
	if benchmarks == nil {
		var err error
		benchmarks, err = LoadBenchmarks(cfg.FixturesDir)
		if err != nil {
			return nil, err
		}
	}
	db, err := openDB(cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Sandbox{
		db:         db,
		benchmarks: benchmarks,
		logger:     logging.New().WithComponent("sandbox"),
	}, nil
}

// Close releases the database.
func (s *Sandbox) Close() error {
	return s.db.Close()
}

// Benchmarks lists the loaded benchmark names.
func (s *Sandbox) Benchmarks() []string {
	names := make([]string, 0, len(s.benchmarks))
	for n := range s.benchmarks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Sandbox) benchmark(name string) (*Benchmark, error) {
	b, ok := s.benchmarks[name]
	if !ok {
		return nil, notFound("benchmark %s not found", name)
	}
	return b, nil
}

// Benchmark describes a benchmark.
func (s *Sandbox) Benchmark(ctx context.Context, name string) (*BenchmarkInfo, error) {
	b, err := s.benchmark(name)
	if err != nil {
		return nil, err
	}
	return b.Info(), nil
}

// StartTask seeds a fresh copy of task index of benchmark.
func (s *Sandbox) StartTask(ctx context.Context, benchmark string, index int) (*TaskInfo, error) {
	return s.startTask(ctx, benchmark, index, "")
}

func (s *Sandbox) startTask(ctx context.Context, benchmark string, index int, sessionID string) (*TaskInfo, error) {
	b, err := s.benchmark(benchmark)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(b.Tasks) {
		return nil, badRequest("task index %d out of range (benchmark %s has %d tasks)", index, b.Name, len(b.Tasks))
	}

	f := b.fixtureFor(index)
	info := &TaskInfo{
		TaskID:    uuid.New().String(),
		Benchmark: b.Name,
		Index:     index,
		Text:      b.Tasks[index].Text,
		SessionID: sessionID,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (id, benchmark, idx, text, session_id, page_limit, user_id, rules) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.TaskID, b.Name, index, info.Text, sessionID, f.PageLimit, f.User, f.Rules,
	); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	if err := seed(ctx, tx, info.TaskID, f); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("task started", map[string]interface{}{
		"task_id":   info.TaskID,
		"benchmark": b.Name,
		"index":     index,
	})
	return info, nil
}

// StartSession starts every task of benchmark under one session id.
func (s *Sandbox) StartSession(ctx context.Context, benchmark string) (*SessionInfo, error) {
	b, err := s.benchmark(benchmark)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, benchmark) VALUES (?, ?)`, id, b.Name); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	for i := range b.Tasks {
		if _, err := s.startTask(ctx, b.Name, i, id); err != nil {
			return nil, err
		}
	}
	return s.Session(ctx, id)
}

// Session reports a session's tasks and whether all are complete.
func (s *Sandbox) Session(ctx context.Context, id string) (*SessionInfo, error) {
	info := &SessionInfo{SessionID: id}
	err := s.db.QueryRowContext(ctx, `SELECT benchmark FROM sessions WHERE id = ?`, id).Scan(&info.Benchmark)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, idx, text, status FROM tasks WHERE session_id = ? ORDER BY idx`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	info.Status = "completed"
	for rows.Next() {
		t := TaskInfo{Benchmark: info.Benchmark, SessionID: id}
		var status string
		if err := rows.Scan(&t.TaskID, &t.Index, &t.Text, &status); err != nil {
			return nil, err
		}
		if status != "completed" {
			info.Status = "running"
		}
		info.Tasks = append(info.Tasks, t)
	}
	return info, rows.Err()
}

// TaskClient returns a backend client bound to taskID.
func (s *Sandbox) TaskClient(taskID string) Client {
	return &localClient{sandbox: s, taskID: taskID}
}

// LogUsage records an LLM call made for taskID.
func (s *Sandbox) LogUsage(ctx context.Context, taskID string, u UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_usage (task_id, model, duration_ms, input_tokens, output_tokens) VALUES (?, ?, ?, ?, ?)`,
		taskID, u.Model, u.DurationMS, u.InputTokens, u.OutputTokens,
	)
	return err
}

// CompleteTask closes the task and scores it.
func (s *Sandbox) CompleteTask(ctx context.Context, taskID string) (*Completion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := s.task(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	b, err := s.benchmark(t.benchmark)
	if err != nil {
		return nil, err
	}

	c := &Completion{TaskID: taskID}
	if t.index < len(b.Tasks) {
		score, logs, err := s.evaluate(ctx, tx, t, b.Tasks[t.index].Expect)
		if err != nil {
			return nil, err
		}
		c.Score = score
		c.Logs = logs
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'completed', score = ?, logs = ?, completed_at = ? WHERE id = ?`,
		c.Score, c.Logs, time.Now(), taskID,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{"task_id": taskID}
	if c.Score != nil {
		fields["score"] = *c.Score
	}
	s.logger.Info("task completed", fields)
	return c, nil
}

type taskRow struct {
	id        string
	benchmark string
	kind      string
	index     int
	status    string
	pageLimit int
	user      string
	rules     string
}

func (s *Sandbox) task(ctx context.Context, tx *sql.Tx, taskID string) (*taskRow, error) {
	t := &taskRow{id: taskID}
	var user, rules sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT benchmark, idx, status, page_limit, user_id, rules FROM tasks WHERE id = ?`, taskID,
	).Scan(&t.benchmark, &t.index, &t.status, &t.pageLimit, &user, &rules)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("task %s not found", taskID)
	}
	if err != nil {
		return nil, err
	}
	t.user, t.rules = user.String, rules.String
	if b, ok := s.benchmarks[t.benchmark]; ok {
		t.kind = b.Kind
	}
	return t, nil
}

// Handle executes one backend request for taskID inside a transaction.
// Application errors are returned as *APIError.
func (s *Sandbox) Handle(ctx context.Context, taskID, tool string, params json.RawMessage) (interface{}, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := s.task(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if t.status == "completed" {
		return nil, badRequest("task %s is already completed", taskID)
	}

	resp, err := s.route(ctx, tx, t, tool, params)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return resp, nil
}

func decodeParams[T any](params json.RawMessage) (T, error) {
	var req T
	if len(params) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return req, badRequest("invalid request: %v", err)
	}
	return req, nil
}

func (s *Sandbox) route(ctx context.Context, tx *sql.Tx, t *taskRow, tool string, params json.RawMessage) (interface{}, error) {
	switch t.kind {
	case KindStore:
		switch tool {
		case action.ListProducts:
			req, err := decodeParams[ListProductsRequest](params)
			if err != nil {
				return nil, err
			}
			return s.listProducts(ctx, tx, t, req)
		case action.ViewBasket:
			return s.loadBasket(ctx, tx, t.id)
		case action.AddToBasket:
			req, err := decodeParams[AddToBasketRequest](params)
			if err != nil {
				return nil, err
			}
			return s.addToBasket(ctx, tx, t, req)
		case action.RemoveFromBasket:
			req, err := decodeParams[RemoveFromBasketRequest](params)
			if err != nil {
				return nil, err
			}
			return s.removeFromBasket(ctx, tx, t, req)
		case action.ApplyCoupon:
			req, err := decodeParams[ApplyCouponRequest](params)
			if err != nil {
				return nil, err
			}
			return s.applyCoupon(ctx, tx, t, req)
		case action.RemoveCoupon:
			return s.removeCoupon(ctx, tx, t)
		case action.Checkout:
			return s.checkout(ctx, tx, t)
		}
	case KindDirectory:
		switch tool {
		case action.ListEmployees:
			req, err := decodeParams[ListEmployeesRequest](params)
			if err != nil {
				return nil, err
			}
			return s.listEmployees(ctx, tx, t, req)
		case action.SearchEmployees:
			req, err := decodeParams[SearchEmployeesRequest](params)
			if err != nil {
				return nil, err
			}
			return s.searchEmployees(ctx, tx, t, req)
		case action.GetEmployee:
			req, err := decodeParams[GetEmployeeRequest](params)
			if err != nil {
				return nil, err
			}
			return s.getEmployee(ctx, tx, t, req)
		case action.ListProjects:
			req, err := decodeParams[ListProjectsRequest](params)
			if err != nil {
				return nil, err
			}
			return s.listProjects(ctx, tx, t, req)
		case action.SearchProjects:
			req, err := decodeParams[SearchProjectsRequest](params)
			if err != nil {
				return nil, err
			}
			return s.searchProjects(ctx, tx, t, req)
		case action.GetProject:
			req, err := decodeParams[GetProjectRequest](params)
			if err != nil {
				return nil, err
			}
			return s.getProject(ctx, tx, t, req)
		case action.WhoAmI:
			return s.whoAmI(ctx, tx, t)
		case action.Respond:
			req, err := decodeParams[RespondRequest](params)
			if err != nil {
				return nil, err
			}
			return s.respond(ctx, tx, t, req)
		}
	}
	return nil, notFound("unknown endpoint %s", tool)
}

// localClient calls the sandbox in-process.
type localClient struct {
	sandbox *Sandbox
	taskID  string
}

func (c *localClient) Call(ctx context.Context, tool string, params json.RawMessage) (json.RawMessage, error) {
	resp, err := c.sandbox.Handle(ctx, c.taskID, tool, params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}
