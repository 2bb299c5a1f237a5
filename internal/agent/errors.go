package agent

import "fmt"

// DuplicateAgentError is returned when a name is registered twice.
type DuplicateAgentError struct {
	Name string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("agent %q already registered", e.Name)
}

// AgentNotFoundError is returned when an unknown name is used for execution
// or routing.
type AgentNotFoundError struct {
	Name string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent %q not found", e.Name)
}

// AgentStartError wraps a failed start sequence. A registration that hits it
// leaves the registry untouched.
type AgentStartError struct {
	Name string
	Err  error
}

func (e *AgentStartError) Error() string {
	return fmt.Sprintf("start agent %q: %v", e.Name, e.Err)
}

func (e *AgentStartError) Unwrap() error { return e.Err }

// InvalidMessageError is returned by RouteMessage when given something that
// is not a valid envelope.
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid message: %s", e.Reason)
}

// TaskExecutionError annotates an executor failure with the agent name.
type TaskExecutionError struct {
	Agent string
	Err   error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("agent %q: task execution failed: %v", e.Agent, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// WorkflowStepError reports the 1-based step index and agent name of the
// step that aborted a workflow.
type WorkflowStepError struct {
	Step  int
	Agent string
	Err   error
}

func (e *WorkflowStepError) Error() string {
	return fmt.Sprintf("workflow step %d (agent %q): %v", e.Step, e.Agent, e.Err)
}

func (e *WorkflowStepError) Unwrap() error { return e.Err }
