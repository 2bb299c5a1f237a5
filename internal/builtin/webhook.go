package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkatsogr/crewd/internal/agent"
)

// WebhookExecutor posts each task to an HTTP endpoint and treats the
// response body as the result. Non-2xx responses fail the task.
type WebhookExecutor struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration

	// Client overrides the default HTTP client, mainly for tests.
	Client *http.Client
}

func (e *WebhookExecutor) Execute(ctx context.Context, task *agent.Task) (any, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(taskPayload{
		ID:             task.ID,
		Type:           task.Type,
		Params:         task.Params,
		PreviousResult: task.PreviousResult,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.Headers {
		req.Header.Set(k, v)
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post task: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned %s: %s", resp.Status, bytes.TrimSpace(out))
	}

	return parseResult(out), nil
}
