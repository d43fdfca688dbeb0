package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vinayprograms/benchagent/internal/sandbox"
)

// TimeoutError reports a backend request that did not answer in time.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return "SDK operation timed out after " + strconv.FormatFloat(e.After.Seconds(), 'f', -1, 64) + " seconds"
}

type reply struct {
	raw json.RawMessage
	err error
}

// call sends one request under the dispatch deadline. The request runs in its
// own goroutine so a client that ignores its context cannot hold the caller
// past the deadline.
func (d *Dispatcher) call(ctx context.Context, tool string, params json.RawMessage) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan reply, 1)
	go func() {
		raw, err := d.client.Call(callCtx, tool, params)
		done <- reply{raw: raw, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{After: d.timeout}
		}
		return r.raw, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.logger.Warn("backend call timed out", map[string]interface{}{
			"tool":    tool,
			"timeout": d.timeout.String(),
		})
		return nil, &TimeoutError{After: d.timeout}
	}
}

// retry is call with the read retry policy. Application errors are final.
func (d *Dispatcher) retry(ctx context.Context, tool string, params json.RawMessage) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		raw, err := d.call(ctx, tool, params)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		var apiErr *sandbox.APIError
		if errors.As(err, &apiErr) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < d.retries {
			d.logger.Debug("retrying read", map[string]interface{}{
				"tool":    tool,
				"attempt": attempt + 1,
				"error":   err.Error(),
			})
			if err := d.sleep(ctx, d.retryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// WithRetry sends a read request and decodes the reply into out, retrying
// transient failures.
func (d *Dispatcher) WithRetry(ctx context.Context, req sandbox.Request, out interface{}) error {
	return d.typed(ctx, req, out, d.retry)
}

// Once sends a write request exactly once and decodes the reply into out.
func (d *Dispatcher) Once(ctx context.Context, req sandbox.Request, out interface{}) error {
	return d.typed(ctx, req, out, d.call)
}

func (d *Dispatcher) typed(ctx context.Context, req sandbox.Request, out interface{},
	send func(context.Context, string, json.RawMessage) (json.RawMessage, error)) error {
	params, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", req.Tool(), err)
	}
	raw, err := send(ctx, req.Tool(), params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.Tool(), err)
	}
	return nil
}
