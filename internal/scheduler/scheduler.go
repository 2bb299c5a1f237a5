// Package scheduler polls the store for due scheduled tasks and hands them
// to the orchestrator's queue.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/config"
	"github.com/pkatsogr/crewd/internal/eventbus"
	"github.com/pkatsogr/crewd/internal/orchestrator"
	"github.com/pkatsogr/crewd/internal/schedule"
	"github.com/pkatsogr/crewd/internal/store"
)

type Scheduler struct {
	store        *store.Store
	orch         *orchestrator.Orchestrator
	bus          *eventbus.Client
	pollInterval time.Duration
	reloadCh     chan struct{}
}

// New wires the scheduler. bus may be nil, in which case execution events
// are not published.
func New(st *store.Store, orch *orchestrator.Orchestrator, bus *eventbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        st,
		orch:         orch,
		bus:          bus,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// SetPollInterval updates the interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	s.pollInterval = d
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler poll interval reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	tasks, err := s.store.GetDueTasks(time.Now())
	if err != nil {
		slog.Error("failed to get due tasks", "error", err)
		return
	}

	for _, task := range tasks {
		s.dispatch(ctx, task)
	}
}

// dispatch queues one due task and reschedules it. The run record written
// here covers queueing only; execution outcomes flow through the normal
// event path.
func (s *Scheduler) dispatch(ctx context.Context, st store.ScheduledTask) {
	slog.Info("dispatching scheduled task", "id", st.ID, "name", st.Name, "agent", st.AgentName)

	task := &agent.Task{Type: st.TaskType}
	if len(st.Params) > 0 {
		if err := json.Unmarshal(st.Params, &task.Params); err != nil {
			slog.Error("scheduled task has invalid params", "id", st.ID, "error", err)
			s.record(st, "error", "invalid params: "+err.Error())
			return
		}
	}

	taskID := s.orch.QueueTask(ctx, st.AgentName, task)
	s.record(st, "queued", "")

	if s.bus != nil {
		_ = s.bus.PublishJSON(eventbus.TopicTaskEvent("task_scheduled"), map[string]any{
			"schedule_id": st.ID,
			"name":        st.Name,
			"agent":       st.AgentName,
			"task_id":     taskID,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (s *Scheduler) record(st store.ScheduledTask, lastStatus, lastError string) {
	nextRun := schedule.NextRun(st.Schedule)

	if err := s.store.UpdateTaskRun(st.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update task run", "id", st.ID, "error", err)
	}

	// Mark one-off tasks as completed when they have no next run
	if nextRun == nil {
		slog.Info("no next run, marking one-off task as completed", "id", st.ID, "name", st.Name)
		if err := s.store.UpdateTaskStatus(st.ID, "completed"); err != nil {
			slog.Error("failed to complete task", "id", st.ID, "error", err)
		}
	}
}
