package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Health thresholds over the recent-outcome window.
const (
	recentWindow         = 20
	criticalFailureRatio = 0.5
	degradedFailureRatio = 0.25
)

// Base implements the Agent contract around a collaborator-supplied Executor.
// Concrete agents either embed Base or are constructed directly from an
// ExecutorFunc.
type Base struct {
	name string
	kind string
	caps []string
	exec Executor

	mu        sync.Mutex
	status    Status
	executed  int64
	succeeded int64
	failed    int64
	avg       time.Duration

	// ring buffer of recent outcomes, true = failure
	recent    [recentWindow]bool
	recentIdx int
	recentN   int

	observers []Observer
}

// New creates an agent in the uninitialized state. kind classifies the agent
// (e.g. "writer"); caps are the capability tags used for discovery.
func New(name, kind string, caps []string, exec Executor) *Base {
	return &Base{
		name:   name,
		kind:   kind,
		caps:   append([]string(nil), caps...),
		exec:   exec,
		status: StatusUninitialized,
	}
}

func (b *Base) Name() string { return b.name }
func (b *Base) Type() string { return b.kind }

func (b *Base) Capabilities() []string {
	return append([]string(nil), b.caps...)
}

// Subscribe registers an observer for lifecycle events.
func (b *Base) Subscribe(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, obs)
}

// Start performs one-time setup. A failed start leaves the agent in the
// error state so the caller never sees it half-initialized.
func (b *Base) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.status != StatusUninitialized {
		status := b.status
		b.mu.Unlock()
		return fmt.Errorf("agent %q already started (status %s)", b.name, status)
	}
	b.mu.Unlock()

	if s, ok := b.exec.(Starter); ok {
		if err := s.Start(ctx); err != nil {
			b.setStatus(StatusError)
			b.emit(Event{Type: EventError, Agent: b.name, Err: err, Context: "start", Time: time.Now()})
			return fmt.Errorf("start agent %q: %w", b.name, err)
		}
	}

	b.setStatus(StatusIdle)
	return nil
}

// Stop releases resources. Subsequent Run calls fail. Stopping an already
// stopped agent is a no-op.
func (b *Base) Stop() error {
	b.mu.Lock()
	if b.status == StatusStopped {
		b.mu.Unlock()
		return nil
	}
	b.status = StatusStopped
	b.mu.Unlock()

	if s, ok := b.exec.(Stopper); ok {
		if err := s.Stop(); err != nil {
			return fmt.Errorf("stop agent %q: %w", b.name, err)
		}
	}
	return nil
}

// Pause toggles the agent out of the idle pool without destroying state.
func (b *Base) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusIdle {
		return fmt.Errorf("agent %q cannot pause (status %s)", b.name, b.status)
	}
	b.status = StatusPaused
	return nil
}

func (b *Base) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusPaused {
		return fmt.Errorf("agent %q cannot resume (status %s)", b.name, b.status)
	}
	b.status = StatusIdle
	return nil
}

// Run executes a task. It is the only entry point that invokes the executor:
// it times the execution, maintains the counters and the rolling average,
// emits started/completed/failed events, and re-raises executor errors to
// the caller unchanged.
func (b *Base) Run(ctx context.Context, task *Task) (any, error) {
	b.mu.Lock()
	if b.status != StatusIdle {
		status := b.status
		b.mu.Unlock()
		return nil, fmt.Errorf("agent %q not available (status %s)", b.name, status)
	}
	b.status = StatusBusy
	b.mu.Unlock()

	start := time.Now()
	b.emit(Event{Type: EventTaskStarted, Agent: b.name, Task: task, Time: start})

	result, err := b.exec.Execute(ctx, task)
	duration := time.Since(start)

	b.mu.Lock()
	b.executed++
	if err != nil {
		b.failed++
	} else {
		b.succeeded++
	}
	b.avg += (duration - b.avg) / time.Duration(b.executed)
	b.recent[b.recentIdx] = err != nil
	b.recentIdx = (b.recentIdx + 1) % recentWindow
	if b.recentN < recentWindow {
		b.recentN++
	}
	if b.status == StatusBusy {
		b.status = StatusIdle
	}
	b.mu.Unlock()

	if err != nil {
		b.emit(Event{Type: EventTaskFailed, Agent: b.name, Task: task, Err: err, Duration: duration, Time: time.Now()})
		return nil, err
	}

	b.emit(Event{Type: EventTaskCompleted, Agent: b.name, Task: task, Result: result, Duration: duration, Time: time.Now()})
	return result, nil
}

func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	rate := 0.0
	if b.executed > 0 {
		rate = float64(b.succeeded) / float64(b.executed)
	}
	return Stats{
		TasksExecuted:        b.executed,
		TasksSucceeded:       b.succeeded,
		TasksFailed:          b.failed,
		SuccessRate:          rate,
		AverageExecutionTime: b.avg,
	}
}

// Health derives the agent's health from status and the failure ratio over
// the recent-outcome window: critical when errored or failing more than half
// of recent tasks, degraded when failing more than a quarter.
func (b *Base) Health() HealthReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	ratio := 0.0
	if b.recentN > 0 {
		failures := 0
		for i := 0; i < b.recentN; i++ {
			if b.recent[i] {
				failures++
			}
		}
		ratio = float64(failures) / float64(b.recentN)
	}

	health := HealthHealthy
	switch {
	case b.status == StatusError, ratio >= criticalFailureRatio && b.recentN > 0:
		health = HealthCritical
	case ratio >= degradedFailureRatio:
		health = HealthDegraded
	}

	return HealthReport{Health: health, Status: b.status, RecentFailureRate: ratio}
}

func (b *Base) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *Base) emit(ev Event) {
	b.mu.Lock()
	obs := append([]Observer(nil), b.observers...)
	b.mu.Unlock()
	for _, o := range obs {
		o(ev)
	}
}
