package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/sandbox"
	"github.com/vinayprograms/benchagent/internal/trace"
)

// pageFetch loads one page at offset with the given page size and returns the
// items and the next offset (zero or less when exhausted).
type pageFetch[T any] func(ctx context.Context, offset, limit int) ([]T, int, error)

type collected[T any] struct {
	items    []T
	complete bool
	err      error
}

// paginate collects every page. At each offset the page sizes of the ladder
// are tried from the current rung down until one is accepted; later pages
// start from the accepted rung. When every rung fails the result is returned
// as incomplete together with the last error.
func paginate[T any](ctx context.Context, ladder []int, fetch pageFetch[T]) collected[T] {
	res := collected[T]{items: []T{}}
	rung, offset := 0, 0
	for {
		var (
			items []T
			next  int
			err   error
		)
		for ; rung < len(ladder); rung++ {
			items, next, err = fetch(ctx, offset, ladder[rung])
			if err == nil || ctx.Err() != nil {
				break
			}
		}
		if err != nil {
			res.err = err
			return res
		}
		if rung == len(ladder) {
			res.err = fmt.Errorf("no page size accepted at offset %d", offset)
			return res
		}
		res.items = append(res.items, items...)
		if next <= offset || len(items) == 0 {
			res.complete = true
			return res
		}
		offset = next
	}
}

func (d *Dispatcher) employees(ctx context.Context, search *sandbox.SearchEmployeesRequest) collected[sandbox.Employee] {
	return paginate(ctx, d.ladder, func(ctx context.Context, offset, limit int) ([]sandbox.Employee, int, error) {
		var page sandbox.EmployeePage
		var req sandbox.Request = sandbox.ListEmployeesRequest{Offset: offset, Limit: limit}
		if search != nil {
			s := *search
			s.Offset, s.Limit = offset, limit
			req = s
		}
		if err := d.WithRetry(ctx, req, &page); err != nil {
			return nil, 0, err
		}
		return page.Employees, page.NextOffset, nil
	})
}

func (d *Dispatcher) projects(ctx context.Context, search *sandbox.SearchProjectsRequest) collected[sandbox.Project] {
	return paginate(ctx, d.ladder, func(ctx context.Context, offset, limit int) ([]sandbox.Project, int, error) {
		var page sandbox.ProjectPage
		var req sandbox.Request = sandbox.ListProjectsRequest{Offset: offset, Limit: limit}
		if search != nil {
			s := *search
			s.Offset, s.Limit = offset, limit
			req = s
		}
		if err := d.WithRetry(ctx, req, &page); err != nil {
			return nil, 0, err
		}
		return page.Projects, page.NextOffset, nil
	})
}

func listResponse[T any](res collected[T]) map[string]interface{} {
	resp := map[string]interface{}{"count": len(res.items)}
	if !res.complete && res.err != nil {
		resp["error"] = "Incomplete: " + res.err.Error()
	}
	return resp
}

func directoryText(title string, lines []string, res error) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d):", title, len(lines))
	if len(lines) == 0 {
		sb.WriteString("\n  (none)")
	}
	for _, l := range lines {
		sb.WriteString("\n  ")
		sb.WriteString(l)
	}
	if res != nil {
		sb.WriteString("\nIncomplete: ")
		sb.WriteString(res.Error())
	}
	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (d *Dispatcher) listEmployees(ctx context.Context) (string, trace.ToolCall) {
	res := d.employees(ctx, nil)
	lines := make([]string, 0, len(res.items))
	for _, e := range res.items {
		lines = append(lines, fmt.Sprintf("%s | %s | %s | %s | %s", e.ID, e.Name, orDash(e.Department), orDash(e.Location), orDash(e.Role)))
	}
	return directoryText("Employees", lines, incomplete(res)),
		trace.ToolCall{Request: map[string]interface{}{"tool": action.ListEmployees}, Response: listResponse(res)}
}

func (d *Dispatcher) listProjects(ctx context.Context) (string, trace.ToolCall) {
	res := d.projects(ctx, nil)
	lines := make([]string, 0, len(res.items))
	for _, p := range res.items {
		lines = append(lines, fmt.Sprintf("%s | %s | customer=%s | status=%s | lead=%s", p.ID, p.Name, orDash(p.Customer), orDash(p.Status), orDash(p.Lead)))
	}
	return directoryText("Projects", lines, incomplete(res)),
		trace.ToolCall{Request: map[string]interface{}{"tool": action.ListProjects}, Response: listResponse(res)}
}

func incomplete[T any](res collected[T]) error {
	if res.complete {
		return nil
	}
	return res.err
}

type employeeSearch struct {
	Employees []sandbox.Employee `json:"employees"`
	Error     string             `json:"error,omitempty"`
}

type projectSearch struct {
	Projects []sandbox.Project `json:"projects"`
	Error    string            `json:"error,omitempty"`
}

func (d *Dispatcher) searchEmployees(ctx context.Context, a action.Action) (string, trace.ToolCall) {
	var req sandbox.SearchEmployeesRequest
	if err := a.Decode(&req); err != nil {
		text, resp := renderError(err)
		return text, trace.ToolCall{Request: a.Params(), Response: resp}
	}
	res := d.employees(ctx, &req)
	out := employeeSearch{Employees: res.items}
	if err := incomplete(res); err != nil {
		out.Error = "Incomplete: " + err.Error()
	}
	return indent(out), trace.ToolCall{Request: a.Params(), Response: out}
}

func (d *Dispatcher) searchProjects(ctx context.Context, a action.Action) (string, trace.ToolCall) {
	var req sandbox.SearchProjectsRequest
	if err := a.Decode(&req); err != nil {
		text, resp := renderError(err)
		return text, trace.ToolCall{Request: a.Params(), Response: resp}
	}
	res := d.projects(ctx, &req)
	out := projectSearch{Projects: res.items}
	if err := incomplete(res); err != nil {
		out.Error = "Incomplete: " + err.Error()
	}
	return indent(out), trace.ToolCall{Request: a.Params(), Response: out}
}

func indent(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorJSON(err.Error())
	}
	return string(b)
}

// loadRespondInstructions answers locally with the rules attached to the
// current user's identity.
func (d *Dispatcher) loadRespondInstructions(ctx context.Context) (string, trace.ToolCall) {
	var me sandbox.Identity
	if err := d.WithRetry(ctx, sandbox.WhoAmIRequest{}, &me); err != nil {
		d.logger.Warn("whoami failed", map[string]interface{}{"error": err.Error()})
	}
	rules := strings.TrimSpace(me.Rules)
	shown := rules
	if shown == "" {
		shown = "(No respond instructions found)"
	}
	text := "<respond_instructions>\n" + shown + "\n</respond_instructions>"
	return text, trace.ToolCall{
		Request:  map[string]interface{}{},
		Response: map[string]interface{}{"loaded": rules != ""},
	}
}
