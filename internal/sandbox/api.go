// Package sandbox is a local benchmark backend: an online store and an
// employee directory, each seeded per task from YAML fixtures, persisted in
// SQLite and scored when the task completes. It can be used in-process or
// served over HTTP.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vinayprograms/benchagent/internal/action"
)

// Client issues backend requests for one task.
type Client interface {
	Call(ctx context.Context, tool string, params json.RawMessage) (json.RawMessage, error)
}

// Request is a typed backend request.
type Request interface {
	Tool() string
}

// Do sends req through c and decodes the reply into resp (when non-nil).
func Do(ctx context.Context, c Client, req Request, resp interface{}) error {
	params, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", req.Tool(), err)
	}
	raw, err := c.Call(ctx, req.Tool(), params)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.Tool(), err)
	}
	return nil
}

// APIError is an application-level rejection from the backend. Transport
// failures are reported as ordinary errors.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return e.Detail
}

func badRequest(format string, args ...interface{}) *APIError {
	return &APIError{Status: http.StatusBadRequest, Detail: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) *APIError {
	return &APIError{Status: http.StatusNotFound, Detail: fmt.Sprintf(format, args...)}
}

// Ack is the reply to requests that only change state.
type Ack struct {
	Message string `json:"message"`
}

// Store requests and replies.

type Product struct {
	SKU       string  `json:"sku" yaml:"sku"`
	Name      string  `json:"name" yaml:"name"`
	Price     float64 `json:"price" yaml:"price"`
	Available int     `json:"available" yaml:"available"`
}

type ListProductsRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

func (ListProductsRequest) Tool() string { return action.ListProducts }

type ProductPage struct {
	Products   []Product `json:"products,omitempty"`
	NextOffset int       `json:"next_offset,omitempty"`
}

type ViewBasketRequest struct{}

func (ViewBasketRequest) Tool() string { return action.ViewBasket }

type BasketItem struct {
	SKU      string  `json:"sku"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type Basket struct {
	Items    []BasketItem `json:"items,omitempty"`
	Subtotal float64      `json:"subtotal"`
	Coupon   string       `json:"coupon,omitempty"`
	Discount float64      `json:"discount,omitempty"`
	Total    float64      `json:"total"`
}

type AddToBasketRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

func (AddToBasketRequest) Tool() string { return action.AddToBasket }

// RemoveFromBasketRequest removes Quantity units, or the whole line when
// Quantity is zero.
type RemoveFromBasketRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity,omitempty"`
}

func (RemoveFromBasketRequest) Tool() string { return action.RemoveFromBasket }

type ApplyCouponRequest struct {
	Coupon string `json:"coupon"`
}

func (ApplyCouponRequest) Tool() string { return action.ApplyCoupon }

type RemoveCouponRequest struct{}

func (RemoveCouponRequest) Tool() string { return action.RemoveCoupon }

type CheckoutRequest struct{}

func (CheckoutRequest) Tool() string { return action.Checkout }

type Order struct {
	OrderID  string       `json:"order_id"`
	Items    []BasketItem `json:"items"`
	Subtotal float64      `json:"subtotal"`
	Coupon   string       `json:"coupon,omitempty"`
	Discount float64      `json:"discount,omitempty"`
	Total    float64      `json:"total"`
}

// Directory requests and replies.

type Employee struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Email      string   `json:"email,omitempty" yaml:"email"`
	Department string   `json:"department,omitempty" yaml:"department"`
	Location   string   `json:"location,omitempty" yaml:"location"`
	Role       string   `json:"role,omitempty" yaml:"role"`
	Manager    string   `json:"manager,omitempty" yaml:"manager"`
	Skills     []string `json:"skills,omitempty" yaml:"skills"`
}

type ListEmployeesRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

func (ListEmployeesRequest) Tool() string { return action.ListEmployees }

type SearchEmployeesRequest struct {
	Query      string `json:"query,omitempty"`
	Department string `json:"department,omitempty"`
	Location   string `json:"location,omitempty"`
	Skill      string `json:"skill,omitempty"`
	Offset     int    `json:"offset"`
	Limit      int    `json:"limit"`
}

func (SearchEmployeesRequest) Tool() string { return action.SearchEmployees }

type EmployeePage struct {
	Employees  []Employee `json:"employees,omitempty"`
	NextOffset int        `json:"next_offset,omitempty"`
}

type GetEmployeeRequest struct {
	ID string `json:"id"`
}

func (GetEmployeeRequest) Tool() string { return action.GetEmployee }

type EmployeeRecord struct {
	Employee Employee `json:"employee"`
}

type Project struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Customer string   `json:"customer,omitempty" yaml:"customer"`
	Status   string   `json:"status,omitempty" yaml:"status"`
	Lead     string   `json:"lead,omitempty" yaml:"lead"`
	Team     []string `json:"team,omitempty" yaml:"team"`
}

type ListProjectsRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

func (ListProjectsRequest) Tool() string { return action.ListProjects }

type SearchProjectsRequest struct {
	Query    string `json:"query,omitempty"`
	Customer string `json:"customer,omitempty"`
	Status   string `json:"status,omitempty"`
	Member   string `json:"member,omitempty"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

func (SearchProjectsRequest) Tool() string { return action.SearchProjects }

type ProjectPage struct {
	Projects   []Project `json:"projects,omitempty"`
	NextOffset int       `json:"next_offset,omitempty"`
}

type GetProjectRequest struct {
	ID string `json:"id"`
}

func (GetProjectRequest) Tool() string { return action.GetProject }

type ProjectRecord struct {
	Project Project `json:"project"`
}

type WhoAmIRequest struct{}

func (WhoAmIRequest) Tool() string { return action.WhoAmI }

type Identity struct {
	User       string `json:"user,omitempty"`
	Department string `json:"department,omitempty"`
	Location   string `json:"location,omitempty"`
	Rules      string `json:"rules,omitempty"`
}

type Link struct {
	Kind string `json:"kind" yaml:"kind"`
	ID   string `json:"id" yaml:"id"`
}

type RespondRequest struct {
	Message string `json:"message"`
	Outcome string `json:"outcome"`
	Links   []Link `json:"links,omitempty"`
}

func (RespondRequest) Tool() string { return action.Respond }

// Platform-level types.

// TaskInfo identifies a started task.
type TaskInfo struct {
	TaskID    string `json:"task_id"`
	Benchmark string `json:"benchmark"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// BenchmarkInfo describes a benchmark and its task list.
type BenchmarkInfo struct {
	Name        string        `json:"name"`
	Kind        string        `json:"kind"`
	Description string        `json:"description,omitempty"`
	Tasks       []TaskSummary `json:"tasks"`
}

type TaskSummary struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// SessionInfo is a batch of tasks started together.
type SessionInfo struct {
	SessionID string     `json:"session_id"`
	Benchmark string     `json:"benchmark"`
	Status    string     `json:"status"`
	Tasks     []TaskInfo `json:"tasks"`
}

// Completion is the evaluation of a finished task. Score is nil when the
// task carries no expectations.
type Completion struct {
	TaskID string   `json:"task_id"`
	Score  *float64 `json:"score,omitempty"`
	Logs   string   `json:"logs,omitempty"`
}

// UsageRecord is one LLM call made on behalf of a task.
type UsageRecord struct {
	Model        string `json:"model"`
	DurationMS   int64  `json:"duration_ms"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Platform starts tasks, hands out per-task clients and scores results.
type Platform interface {
	Benchmark(ctx context.Context, name string) (*BenchmarkInfo, error)
	StartTask(ctx context.Context, benchmark string, index int) (*TaskInfo, error)
	StartSession(ctx context.Context, benchmark string) (*SessionInfo, error)
	Session(ctx context.Context, id string) (*SessionInfo, error)
	TaskClient(taskID string) Client
	CompleteTask(ctx context.Context, taskID string) (*Completion, error)
	LogUsage(ctx context.Context, taskID string, usage UsageRecord) error
}
