package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
)

// respondOutcomes are the answers a directory task may end with.
var respondOutcomes = map[string]bool{
	"ok_answer":                 true,
	"ok_not_found":              true,
	"denied_security":           true,
	"none_clarification_needed": true,
	"error_internal":            true,
}

func loadAll[T any](ctx context.Context, tx *sql.Tx, table, taskID string) ([]T, error) {
	rows, err := tx.QueryContext(ctx, `SELECT payload FROM `+table+` WHERE task_id = ? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func loadOne[T any](ctx context.Context, tx *sql.Tx, table, taskID, id string) (*T, error) {
	var payload string
	err := tx.QueryRowContext(ctx, `SELECT payload FROM `+table+` WHERE task_id = ? AND id = ?`, taskID, id).Scan(&payload)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// page slices items according to offset and limit.
func page[T any](items []T, offset, limit, pageLimit int) ([]T, int, error) {
	limit, err := pageBounds(offset, limit, pageLimit)
	if err != nil {
		return nil, 0, err
	}
	if offset >= len(items) {
		return nil, 0, nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], nextOffset(offset, end-offset, len(items)), nil
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func (s *Sandbox) listEmployees(ctx context.Context, tx *sql.Tx, t *taskRow, req ListEmployeesRequest) (*EmployeePage, error) {
	all, err := loadAll[Employee](ctx, tx, "employees", t.id)
	if err != nil {
		return nil, err
	}
	items, next, err := page(all, req.Offset, req.Limit, t.pageLimit)
	if err != nil {
		return nil, err
	}
	return &EmployeePage{Employees: items, NextOffset: next}, nil
}

func (s *Sandbox) searchEmployees(ctx context.Context, tx *sql.Tx, t *taskRow, req SearchEmployeesRequest) (*EmployeePage, error) {
	all, err := loadAll[Employee](ctx, tx, "employees", t.id)
	if err != nil {
		return nil, err
	}
	var matched []Employee
	for _, e := range all {
		if req.Query != "" && !contains(e.Name, req.Query) && !contains(e.Email, req.Query) &&
			!contains(e.Role, req.Query) && !strings.EqualFold(e.ID, req.Query) {
			continue
		}
		if req.Department != "" && !strings.EqualFold(e.Department, req.Department) {
			continue
		}
		if req.Location != "" && !strings.EqualFold(e.Location, req.Location) {
			continue
		}
		if req.Skill != "" && !hasFold(e.Skills, req.Skill) {
			continue
		}
		matched = append(matched, e)
	}
	items, next, err := page(matched, req.Offset, req.Limit, t.pageLimit)
	if err != nil {
		return nil, err
	}
	return &EmployeePage{Employees: items, NextOffset: next}, nil
}

func (s *Sandbox) getEmployee(ctx context.Context, tx *sql.Tx, t *taskRow, req GetEmployeeRequest) (*EmployeeRecord, error) {
	e, err := loadOne[Employee](ctx, tx, "employees", t.id, req.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("employee %s not found", req.ID)
	}
	if err != nil {
		return nil, err
	}
	return &EmployeeRecord{Employee: *e}, nil
}

func (s *Sandbox) listProjects(ctx context.Context, tx *sql.Tx, t *taskRow, req ListProjectsRequest) (*ProjectPage, error) {
	all, err := loadAll[Project](ctx, tx, "projects", t.id)
	if err != nil {
		return nil, err
	}
	items, next, err := page(all, req.Offset, req.Limit, t.pageLimit)
	if err != nil {
		return nil, err
	}
	return &ProjectPage{Projects: items, NextOffset: next}, nil
}

func (s *Sandbox) searchProjects(ctx context.Context, tx *sql.Tx, t *taskRow, req SearchProjectsRequest) (*ProjectPage, error) {
	all, err := loadAll[Project](ctx, tx, "projects", t.id)
	if err != nil {
		return nil, err
	}
	var matched []Project
	for _, p := range all {
		if req.Query != "" && !contains(p.Name, req.Query) && !strings.EqualFold(p.ID, req.Query) {
			continue
		}
		if req.Customer != "" && !contains(p.Customer, req.Customer) {
			continue
		}
		if req.Status != "" && !strings.EqualFold(p.Status, req.Status) {
			continue
		}
		if req.Member != "" && !hasFold(p.Team, req.Member) {
			continue
		}
		matched = append(matched, p)
	}
	items, next, err := page(matched, req.Offset, req.Limit, t.pageLimit)
	if err != nil {
		return nil, err
	}
	return &ProjectPage{Projects: items, NextOffset: next}, nil
}

func (s *Sandbox) getProject(ctx context.Context, tx *sql.Tx, t *taskRow, req GetProjectRequest) (*ProjectRecord, error) {
	p, err := loadOne[Project](ctx, tx, "projects", t.id, req.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("project %s not found", req.ID)
	}
	if err != nil {
		return nil, err
	}
	return &ProjectRecord{Project: *p}, nil
}

func (s *Sandbox) whoAmI(ctx context.Context, tx *sql.Tx, t *taskRow) (*Identity, error) {
	id := &Identity{User: t.user, Rules: t.rules}
	if t.user == "" {
		return id, nil
	}
	e, err := loadOne[Employee](ctx, tx, "employees", t.id, t.user)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		id.Department = e.Department
		id.Location = e.Location
	}
	return id, nil
}

func (s *Sandbox) respond(ctx context.Context, tx *sql.Tx, t *taskRow, req RespondRequest) (*Ack, error) {
	if !respondOutcomes[req.Outcome] {
		return nil, badRequest("unknown outcome %q", req.Outcome)
	}
	links, _ := json.Marshal(req.Links)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO responses (task_id, outcome, message, links) VALUES (?, ?, ?, ?)`,
		t.id, req.Outcome, req.Message, string(links),
	); err != nil {
		return nil, err
	}
	return &Ack{Message: "response recorded"}, nil
}

// lastResponse returns the final answer recorded for a task, if any.
func (s *Sandbox) lastResponse(ctx context.Context, tx *sql.Tx, taskID string) (*RespondRequest, error) {
	var r RespondRequest
	var links sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT outcome, message, links FROM responses WHERE task_id = ? ORDER BY id DESC LIMIT 1`, taskID,
	).Scan(&r.Outcome, &r.Message, &links)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if links.Valid && links.String != "" {
		_ = json.Unmarshal([]byte(links.String), &r.Links)
	}
	return &r, nil
}

func hasFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
