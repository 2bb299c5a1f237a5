// Package orchestrator sequences task execution over a fixed set of agents:
// direct calls, a FIFO queue drained one task at a time, and multi-step
// workflows that thread each step's output into the next. It keeps its own
// lightweight name→agent map and never runs two tasks concurrently.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkatsogr/crewd/internal/agent"
)

// Orchestrator-scope event types, emitted alongside the agents' own
// lifecycle events.
const (
	EventTaskQueued   agent.EventType = "task_queued"
	EventQueueDropped agent.EventType = "queue_dropped"
)

// Status is a snapshot of the orchestrator's moving parts.
type Status struct {
	Agents     int  `json:"agents"`
	QueueDepth int  `json:"queue_depth"`
	Processing bool `json:"processing"`
	Paused     bool `json:"paused"`
}

// Stats mirrors registry aggregation at orchestrator scope. SuccessRate is
// completed over total submitted tasks.
type Stats struct {
	TotalTasks     int64                  `json:"total_tasks"`
	CompletedTasks int64                  `json:"completed_tasks"`
	FailedTasks    int64                  `json:"failed_tasks"`
	SuccessRate    float64                `json:"success_rate"`
	QueueDepth     int                    `json:"queue_depth"`
	Processing     bool                   `json:"processing"`
	PerAgent       map[string]agent.Stats `json:"per_agent"`
}

// HealthStatus aggregates per-agent health at orchestrator scope. A paused
// agent with queued backlog is reported degraded even if its own report is
// healthy, since work is piling up behind it.
type HealthStatus struct {
	Health     agent.Health                  `json:"health"`
	QueueDepth int                           `json:"queue_depth"`
	Agents     map[string]agent.HealthReport `json:"agents"`
}

type Orchestrator struct {
	mu     sync.RWMutex
	agents map[string]agent.Agent

	queue  *taskQueue
	paused bool

	statsMu   sync.Mutex
	total     int64
	completed int64
	failed    int64

	obsMu     sync.RWMutex
	observers []agent.Observer
}

func New() *Orchestrator {
	return &Orchestrator{
		agents: make(map[string]agent.Agent),
		queue:  newTaskQueue(),
	}
}

// Subscribe registers an observer for orchestrator-scope events (queueing,
// drops) and attaches it to every managed agent, current and future, so the
// agents' own lifecycle events reach the same pipeline.
func (o *Orchestrator) Subscribe(obs agent.Observer) {
	o.obsMu.Lock()
	o.observers = append(o.observers, obs)
	o.obsMu.Unlock()

	o.mu.RLock()
	agents := o.snapshotLocked()
	o.mu.RUnlock()
	for _, ag := range agents {
		ag.Subscribe(obs)
	}
}

func (o *Orchestrator) emit(ev agent.Event) {
	o.obsMu.RLock()
	obs := append([]agent.Observer(nil), o.observers...)
	o.obsMu.RUnlock()
	for _, fn := range obs {
		fn(ev)
	}
}

// AddAgent makes an agent available for execution, starting it if it has not
// completed its own start sequence. A start failure leaves the orchestrator
// untouched.
func (o *Orchestrator) AddAgent(ctx context.Context, ag agent.Agent) error {
	name := ag.Name()

	o.mu.RLock()
	_, exists := o.agents[name]
	o.mu.RUnlock()
	if exists {
		return &agent.DuplicateAgentError{Name: name}
	}

	if ag.Status() == agent.StatusUninitialized {
		if err := ag.Start(ctx); err != nil {
			return &agent.AgentStartError{Name: name, Err: err}
		}
	}

	o.mu.Lock()
	if _, exists := o.agents[name]; exists {
		o.mu.Unlock()
		return &agent.DuplicateAgentError{Name: name}
	}
	o.agents[name] = ag
	o.mu.Unlock()

	// Agents added after Subscribe still feed the same observers.
	o.obsMu.RLock()
	obs := append([]agent.Observer(nil), o.observers...)
	o.obsMu.RUnlock()
	for _, fn := range obs {
		ag.Subscribe(fn)
	}

	slog.Info("agent added to orchestrator", "agent", name, "type", ag.Type())
	return nil
}

// RemoveAgent stops and forgets an agent. Queued tasks addressed to it will
// fail when drained.
func (o *Orchestrator) RemoveAgent(name string) bool {
	o.mu.Lock()
	ag, ok := o.agents[name]
	if ok {
		delete(o.agents, name)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}
	if err := ag.Stop(); err != nil {
		slog.Error("stop agent failed", "agent", name, "error", err)
	}
	return true
}

func (o *Orchestrator) Agent(name string) (agent.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ag, ok := o.agents[name]
	return ag, ok
}

// ExecuteTask runs a task directly, bypassing the queue. The error is logged
// and propagated annotated with the agent name; the failure event has
// already been emitted by the agent itself.
func (o *Orchestrator) ExecuteTask(ctx context.Context, agentName string, task *agent.Task) (any, error) {
	o.mu.RLock()
	ag, ok := o.agents[agentName]
	o.mu.RUnlock()
	if !ok {
		return nil, &agent.AgentNotFoundError{Name: agentName}
	}

	if task == nil {
		task = &agent.Task{}
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	o.statsMu.Lock()
	o.total++
	o.statsMu.Unlock()

	result, err := ag.Run(ctx, task)

	o.statsMu.Lock()
	if err != nil {
		o.failed++
	} else {
		o.completed++
	}
	o.statsMu.Unlock()

	if err != nil {
		slog.Error("task execution failed", "agent", agentName, "task", task.ID, "error", err)
		return nil, &agent.TaskExecutionError{Agent: agentName, Err: err}
	}
	return result, nil
}

// QueueTask appends a task to the FIFO queue and starts a drain pass if one
// is not already active. It returns the generated task id.
func (o *Orchestrator) QueueTask(ctx context.Context, agentName string, task *agent.Task) string {
	if task == nil {
		task = &agent.Task{}
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	o.queue.enqueue(queuedTask{ID: task.ID, AgentName: agentName, Task: task})
	o.emit(agent.Event{Type: EventTaskQueued, Agent: agentName, Task: task, Time: time.Now()})

	o.mu.RLock()
	paused := o.paused
	o.mu.RUnlock()

	if !paused && o.queue.tryAcquire() {
		// The drain outlives the enqueueing caller (an HTTP request,
		// typically), so it must not die with the caller's context.
		go o.drain(context.WithoutCancel(ctx))
	}
	return task.ID
}

// drain executes queued tasks strictly one at a time until the queue is
// observed empty. Individual failures are reported as events and counted but
// never abort the pass; a pause halts the pass with items left in place.
func (o *Orchestrator) drain(ctx context.Context) {
	for {
		o.mu.RLock()
		paused := o.paused
		o.mu.RUnlock()
		if paused {
			o.queue.release()
			return
		}

		item, ok := o.queue.next()
		if !ok {
			return
		}

		if _, err := o.ExecuteTask(ctx, item.AgentName, item.Task); err != nil {
			// ExecuteTask already logged and counted; surface the queue
			// context for observers.
			o.emit(agent.Event{
				Type:    agent.EventError,
				Agent:   item.AgentName,
				Task:    item.Task,
				Err:     err,
				Context: "queue",
				Time:    time.Now(),
			})
		}
	}
}

// PauseAll pauses every managed agent and halts queue draining. Agents that
// cannot pause (busy, stopped) are logged and skipped.
func (o *Orchestrator) PauseAll() {
	o.mu.Lock()
	o.paused = true
	agents := o.snapshotLocked()
	o.mu.Unlock()

	for name, ag := range agents {
		if err := ag.Pause(); err != nil {
			slog.Debug("pause agent skipped", "agent", name, "error", err)
		}
	}
	slog.Info("orchestrator paused", "queue_depth", o.queue.len())
}

// ResumeAll resumes every managed agent and restarts the drain loop when the
// queue is non-empty.
func (o *Orchestrator) ResumeAll(ctx context.Context) {
	o.mu.Lock()
	o.paused = false
	agents := o.snapshotLocked()
	o.mu.Unlock()

	for name, ag := range agents {
		if err := ag.Resume(); err != nil {
			slog.Debug("resume agent skipped", "agent", name, "error", err)
		}
	}

	if o.queue.len() > 0 && o.queue.tryAcquire() {
		go o.drain(context.WithoutCancel(ctx))
	}
	slog.Info("orchestrator resumed")
}

// Shutdown drops all queued tasks without executing them, stops every agent,
// and clears the agent map.
func (o *Orchestrator) Shutdown() {
	dropped := o.queue.clear()
	if dropped > 0 {
		o.emit(agent.Event{Type: EventQueueDropped, Context: "shutdown", Time: time.Now()})
		slog.Warn("queued tasks dropped on shutdown", "count", dropped)
	}

	o.mu.Lock()
	agents := o.snapshotLocked()
	o.agents = make(map[string]agent.Agent)
	o.mu.Unlock()

	for name, ag := range agents {
		if err := ag.Stop(); err != nil {
			slog.Error("stop agent failed", "agent", name, "error", err)
		}
	}
	slog.Info("orchestrator shut down", "agents_stopped", len(agents), "tasks_dropped", dropped)
}

func (o *Orchestrator) snapshotLocked() map[string]agent.Agent {
	agents := make(map[string]agent.Agent, len(o.agents))
	for name, ag := range o.agents {
		agents[name] = ag
	}
	return agents
}

func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	paused := o.paused
	count := len(o.agents)
	o.mu.RUnlock()

	return Status{
		Agents:     count,
		QueueDepth: o.queue.len(),
		Processing: o.queue.isDraining(),
		Paused:     paused,
	}
}

func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	perAgent := make(map[string]agent.Stats, len(o.agents))
	for name, ag := range o.agents {
		perAgent[name] = ag.Stats()
	}
	o.mu.RUnlock()

	o.statsMu.Lock()
	total, completed, failed := o.total, o.completed, o.failed
	o.statsMu.Unlock()

	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total)
	}
	return Stats{
		TotalTasks:     total,
		CompletedTasks: completed,
		FailedTasks:    failed,
		SuccessRate:    rate,
		QueueDepth:     o.queue.len(),
		Processing:     o.queue.isDraining(),
		PerAgent:       perAgent,
	}
}

// HealthCheck aggregates per-agent health. Paused agents are downgraded to
// degraded while queued work is pending behind them.
func (o *Orchestrator) HealthCheck() HealthStatus {
	depth := o.queue.len()

	o.mu.RLock()
	defer o.mu.RUnlock()

	hs := HealthStatus{
		Health:     agent.HealthHealthy,
		QueueDepth: depth,
		Agents:     make(map[string]agent.HealthReport, len(o.agents)),
	}
	for name, ag := range o.agents {
		report := ag.Health()
		if report.Health == agent.HealthHealthy && report.Status == agent.StatusPaused && depth > 0 {
			report.Health = agent.HealthDegraded
		}
		hs.Agents[name] = report
		switch report.Health {
		case agent.HealthCritical:
			hs.Health = agent.HealthCritical
		case agent.HealthDegraded:
			if hs.Health == agent.HealthHealthy {
				hs.Health = agent.HealthDegraded
			}
		}
	}
	return hs
}
