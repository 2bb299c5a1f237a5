package agent

import "time"

// EventType classifies a lifecycle event.
type EventType string

const (
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventError         EventType = "error"
)

// Event is emitted by an agent around every task execution and by the
// orchestrator for queue-level failures. Observers receive events after the
// corresponding state change has been applied.
type Event struct {
	Type     EventType
	Agent    string
	Task     *Task
	Result   any
	Err      error
	Duration time.Duration
	Context  string
	Time     time.Time
}

// Observer receives lifecycle events. Observers must not block; slow
// consumers should hand off to their own channel or goroutine.
type Observer func(Event)
