// Package agent defines the worker contract shared by every component in
// crewd: the lifecycle state machine, the execution entry point, and the
// stats/health introspection consumed by the registry and the orchestrator.
package agent

import (
	"context"
	"time"
)

// Status is the lifecycle state of an agent.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusIdle          Status = "idle"
	StatusBusy          Status = "busy"
	StatusPaused        Status = "paused"
	StatusStopped       Status = "stopped"
	StatusError         Status = "error"
)

// Health is derived from an agent's status and recent failure ratio.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

// Task is an opaque unit of work. The core never mutates a submitted task
// except to assign an ID or to inject the previous step's result when
// threading a workflow.
type Task struct {
	ID             string         `json:"id,omitempty"`
	Type           string         `json:"type,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	PreviousResult any            `json:"previous_result,omitempty"`
}

// Clone returns a shallow copy of the task with its own params map, so a
// workflow step can inject PreviousResult without touching the caller's task.
func (t *Task) Clone() *Task {
	if t == nil {
		return &Task{}
	}
	c := *t
	if t.Params != nil {
		c.Params = make(map[string]any, len(t.Params))
		for k, v := range t.Params {
			c.Params[k] = v
		}
	}
	return &c
}

// Stats holds an agent's running execution counters.
type Stats struct {
	TasksExecuted        int64         `json:"tasks_executed"`
	TasksSucceeded       int64         `json:"tasks_succeeded"`
	TasksFailed          int64         `json:"tasks_failed"`
	SuccessRate          float64       `json:"success_rate"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
}

// HealthReport is the result of a health derivation.
type HealthReport struct {
	Health            Health  `json:"health"`
	Status            Status  `json:"status"`
	RecentFailureRate float64 `json:"recent_failure_rate"`
}

// Executor is the collaborator-supplied business logic. The core wraps it
// with lifecycle, timing, and error capture; it never inspects what Execute
// actually computes.
type Executor interface {
	Execute(ctx context.Context, task *Task) (any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *Task) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *Task) (any, error) {
	return f(ctx, task)
}

// Starter is an optional interface for executors that need one-time setup.
// Start failures abort registration; the agent is never indexed.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is an optional interface for executors that hold resources.
type Stopper interface {
	Stop() error
}

// Agent is the contract every worker exposes to the registry and the
// orchestrator. Run is the only execution entry point.
type Agent interface {
	Name() string
	Type() string
	Capabilities() []string

	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error

	Run(ctx context.Context, task *Task) (any, error)

	Status() Status
	Stats() Stats
	Health() HealthReport

	Subscribe(obs Observer)
}
