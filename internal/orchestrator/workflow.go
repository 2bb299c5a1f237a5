package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkatsogr/crewd/internal/agent"
)

// Step is one stage of a workflow. When UsesPreviousResult is set the step
// executes a copy of its task with the previous step's result injected.
type Step struct {
	AgentName          string      `json:"agent"`
	Task               *agent.Task `json:"task"`
	UsesPreviousResult bool        `json:"uses_previous_result"`
}

// StepResult pairs a step's agent with what it produced.
type StepResult struct {
	AgentName string `json:"agent"`
	Result    any    `json:"result"`
}

// WorkflowResult is the ordered per-step output plus the final step's value.
type WorkflowResult struct {
	Steps []StepResult `json:"steps"`
	Final any          `json:"final"`
}

// ExecuteWorkflow runs steps strictly in order, threading each result into
// the next step that declares UsesPreviousResult. A failure at step i aborts
// immediately with a WorkflowStepError carrying the 1-based index; steps
// already completed keep their effect.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, steps []Step) (*WorkflowResult, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("workflow has no steps")
	}
	for i, step := range steps {
		if step.AgentName == "" {
			return nil, fmt.Errorf("workflow step %d: missing agent name", i+1)
		}
	}

	result := &WorkflowResult{Steps: make([]StepResult, 0, len(steps))}

	var prev any
	havePrev := false
	for i, step := range steps {
		task := step.Task
		if step.UsesPreviousResult && havePrev {
			task = task.Clone()
			task.PreviousResult = prev
		}

		out, err := o.ExecuteTask(ctx, step.AgentName, task)
		if err != nil {
			slog.Error("workflow aborted", "step", i+1, "agent", step.AgentName, "error", err)
			return nil, &agent.WorkflowStepError{Step: i + 1, Agent: step.AgentName, Err: err}
		}

		result.Steps = append(result.Steps, StepResult{AgentName: step.AgentName, Result: out})
		prev = out
		havePrev = true
	}

	result.Final = prev
	return result, nil
}
