package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Remote is a Platform reached over HTTP.
type Remote struct {
	baseURL string
	http    *http.Client
}

var _ Platform = (*Remote)(nil)

// NewRemote returns a Platform talking to a sandbox served at baseURL.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		http:    &http.Client{Timeout: timeout},
	}
}

func (r *Remote) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading sandbox response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		detail := statusText(resp.StatusCode)
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			detail = eb.Error
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("sandbox %s %s: %s", method, path, detail)
		}
		return &APIError{Status: resp.StatusCode, Detail: detail}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, out)
}

func (r *Remote) Benchmark(ctx context.Context, name string) (*BenchmarkInfo, error) {
	var info BenchmarkInfo
	if err := r.do(ctx, http.MethodGet, "/benchmarks/"+url.PathEscape(name)+"/", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *Remote) StartTask(ctx context.Context, benchmark string, index int) (*TaskInfo, error) {
	var info TaskInfo
	if err := r.do(ctx, http.MethodPost, "/benchmarks/"+url.PathEscape(benchmark)+"/tasks", startTaskBody{Index: index}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *Remote) StartSession(ctx context.Context, benchmark string) (*SessionInfo, error) {
	var info SessionInfo
	if err := r.do(ctx, http.MethodPost, "/benchmarks/"+url.PathEscape(benchmark)+"/sessions", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *Remote) Session(ctx context.Context, id string) (*SessionInfo, error) {
	var info SessionInfo
	if err := r.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *Remote) TaskClient(taskID string) Client {
	return &remoteClient{remote: r, taskID: taskID}
}

func (r *Remote) CompleteTask(ctx context.Context, taskID string) (*Completion, error) {
	var c Completion
	if err := r.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/complete", nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Remote) LogUsage(ctx context.Context, taskID string, u UsageRecord) error {
	return r.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/usage", u, nil)
}

type remoteClient struct {
	remote *Remote
	taskID string
}

func (c *remoteClient) Call(ctx context.Context, tool string, params json.RawMessage) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.remote.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(c.taskID)+"/call", callBody{Tool: tool, Params: params}, &raw)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
