// Package builtin provides the executors behind config-declared agents: a
// subprocess runner and a webhook caller. Both speak the same JSON task
// format, so an agent's backing can change without touching its callers.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkatsogr/crewd/internal/agent"
)

// taskPayload is the JSON written to the subprocess's stdin and posted to
// webhooks.
type taskPayload struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Params         map[string]any `json:"params,omitempty"`
	PreviousResult any            `json:"previous_result,omitempty"`
}

// CommandExecutor runs a subprocess per task. The task is written to stdin
// as JSON; stdout is parsed as the JSON result, or returned as a plain
// string when it does not parse.
type CommandExecutor struct {
	Command string
	Env     map[string]string
	Timeout time.Duration
}

func (e *CommandExecutor) Execute(ctx context.Context, task *agent.Task) (any, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	input, err := json.Marshal(taskPayload{
		ID:             task.ID,
		Type:           task.Type,
		Params:         task.Params,
		PreviousResult: task.PreviousResult,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	parts := strings.Fields(e.Command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = os.Environ()
	for k, v := range e.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command timed out: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("command failed: %s", msg)
	}

	return parseResult(stdout.Bytes()), nil
}

// parseResult prefers structured output but falls back to the raw text so
// simple scripts can just print their answer.
func parseResult(out []byte) any {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil
	}
	var result any
	if err := json.Unmarshal(trimmed, &result); err == nil {
		return result
	}
	return string(trimmed)
}
