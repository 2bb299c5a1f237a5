// Package ipc serves request/reply control endpoints over NATS so CLI
// tools and sidecars can drive the daemon without the HTTP API.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/eventbus"
	"github.com/pkatsogr/crewd/internal/orchestrator"
	"github.com/pkatsogr/crewd/internal/registry"
	"github.com/pkatsogr/crewd/internal/schedule"
	"github.com/pkatsogr/crewd/internal/store"
)

type Handler struct {
	client *eventbus.Client
	orch   *orchestrator.Orchestrator
	reg    *registry.Registry
	store  *store.Store

	subs []*nats.Subscription
}

func New(client *eventbus.Client, orch *orchestrator.Orchestrator, reg *registry.Registry, st *store.Store) *Handler {
	return &Handler{client: client, orch: orch, reg: reg, store: st}
}

// Start subscribes the control endpoints. ctx bounds the work spawned per
// request, not the subscriptions; call Stop to unsubscribe.
func (h *Handler) Start(ctx context.Context) error {
	endpoints := map[string]func(context.Context, *nats.Msg){
		eventbus.TopicCtlQueueTask:   h.queueTask,
		eventbus.TopicCtlExecuteTask: h.executeTask,
		eventbus.TopicCtlRunWorkflow: h.runWorkflow,
		eventbus.TopicCtlListAgents:  h.listAgents,
		eventbus.TopicCtlStats:       h.stats,
		eventbus.TopicCtlHealth:      h.health,
		eventbus.TopicCtlSchedules:   h.schedules,
	}

	for topic, fn := range endpoints {
		fn := fn
		sub, err := h.client.Subscribe(topic, func(msg *nats.Msg) {
			fn(ctx, msg)
		})
		if err != nil {
			h.Stop()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		h.subs = append(h.subs, sub)
	}

	slog.Info("ipc control endpoints ready", "endpoints", len(h.subs))
	return nil
}

func (h *Handler) Stop() {
	for _, sub := range h.subs {
		_ = sub.Unsubscribe()
	}
	h.subs = nil
}

type taskRequest struct {
	Agent  string         `json:"agent"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

func (h *Handler) queueTask(ctx context.Context, msg *nats.Msg) {
	var req taskRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.respond(msg, map[string]any{"error": "invalid request"})
		return
	}
	if req.Agent == "" {
		h.respond(msg, map[string]any{"error": "agent is required"})
		return
	}

	id := h.orch.QueueTask(ctx, req.Agent, &agent.Task{Type: req.Type, Params: req.Params})
	h.respond(msg, map[string]any{"ok": true, "task_id": id})
}

func (h *Handler) executeTask(ctx context.Context, msg *nats.Msg) {
	var req taskRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.respond(msg, map[string]any{"error": "invalid request"})
		return
	}
	if req.Agent == "" {
		h.respond(msg, map[string]any{"error": "agent is required"})
		return
	}

	task := &agent.Task{ID: uuid.New().String(), Type: req.Type, Params: req.Params}
	result, err := h.orch.ExecuteTask(ctx, req.Agent, task)
	if err != nil {
		h.respond(msg, map[string]any{"error": err.Error(), "task_id": task.ID})
		return
	}
	h.respond(msg, map[string]any{"ok": true, "task_id": task.ID, "result": result})
}

type workflowRequest struct {
	Steps []struct {
		Agent              string         `json:"agent"`
		Type               string         `json:"type"`
		Params             map[string]any `json:"params,omitempty"`
		UsesPreviousResult bool           `json:"uses_previous_result"`
	} `json:"steps"`
}

func (h *Handler) runWorkflow(ctx context.Context, msg *nats.Msg) {
	var req workflowRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.respond(msg, map[string]any{"error": "invalid request"})
		return
	}

	steps := make([]orchestrator.Step, 0, len(req.Steps))
	for _, s := range req.Steps {
		steps = append(steps, orchestrator.Step{
			AgentName:          s.Agent,
			Task:               &agent.Task{Type: s.Type, Params: s.Params},
			UsesPreviousResult: s.UsesPreviousResult,
		})
	}

	result, err := h.orch.ExecuteWorkflow(ctx, steps)
	if err != nil {
		h.respond(msg, map[string]any{"error": err.Error()})
		return
	}
	h.respond(msg, map[string]any{"ok": true, "steps": result.Steps, "final": result.Final})
}

func (h *Handler) listAgents(_ context.Context, msg *nats.Msg) {
	type agentInfo struct {
		Name         string   `json:"name"`
		Type         string   `json:"type"`
		Capabilities []string `json:"capabilities,omitempty"`
		Status       string   `json:"status"`
		Load         int      `json:"load"`
	}

	var agents []agentInfo
	for _, name := range h.reg.Names() {
		ag, ok := h.reg.GetAgent(name)
		if !ok {
			continue
		}
		info := agentInfo{
			Name:         name,
			Type:         ag.Type(),
			Capabilities: ag.Capabilities(),
			Status:       string(ag.Status()),
		}
		if meta, ok := h.reg.GetMetadata(name); ok {
			info.Load = meta.LoadScore
		}
		agents = append(agents, info)
	}
	h.respond(msg, map[string]any{"ok": true, "agents": agents})
}

func (h *Handler) stats(_ context.Context, msg *nats.Msg) {
	h.respond(msg, map[string]any{
		"ok":           true,
		"orchestrator": h.orch.Stats(),
		"registry":     h.reg.Stats(),
	})
}

func (h *Handler) health(_ context.Context, msg *nats.Msg) {
	h.respond(msg, map[string]any{"ok": true, "health": h.orch.HealthCheck()})
}

type scheduleRequest struct {
	Op       string          `json:"op"` // "create", "list", "delete", "pause", "resume"
	ID       string          `json:"id,omitempty"`
	Agent    string          `json:"agent,omitempty"`
	Name     string          `json:"name,omitempty"`
	Schedule string          `json:"schedule,omitempty"`
	TaskType string          `json:"task_type,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
}

func (h *Handler) schedules(_ context.Context, msg *nats.Msg) {
	var req scheduleRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.respond(msg, map[string]any{"error": "invalid request"})
		return
	}

	switch req.Op {
	case "create":
		if req.Agent == "" || req.Name == "" || req.Schedule == "" || req.TaskType == "" {
			h.respond(msg, map[string]any{"error": "agent, name, schedule, and task_type are required"})
			return
		}
		normalized, err := schedule.Normalize(req.Schedule)
		if err != nil {
			h.respond(msg, map[string]any{"error": err.Error()})
			return
		}
		t := &store.ScheduledTask{
			ID:        uuid.New().String(),
			AgentName: req.Agent,
			Name:      req.Name,
			Schedule:  normalized,
			TaskType:  req.TaskType,
			Params:    req.Params,
			Status:    "active",
			NextRunAt: schedule.NextRun(normalized),
		}
		if err := h.store.SaveTask(t); err != nil {
			h.respond(msg, map[string]any{"error": err.Error()})
			return
		}
		h.respond(msg, map[string]any{"ok": true, "id": t.ID})
	case "list":
		tasks, err := h.store.ListTasks()
		if err != nil {
			h.respond(msg, map[string]any{"error": err.Error()})
			return
		}
		h.respond(msg, map[string]any{"ok": true, "schedules": tasks})
	case "delete":
		if err := h.store.DeleteTask(req.ID); err != nil {
			h.respond(msg, map[string]any{"error": err.Error()})
			return
		}
		h.respond(msg, map[string]any{"ok": true})
	case "pause", "resume":
		status := "paused"
		if req.Op == "resume" {
			status = "active"
		}
		if err := h.store.UpdateTaskStatus(req.ID, status); err != nil {
			h.respond(msg, map[string]any{"error": err.Error()})
			return
		}
		h.respond(msg, map[string]any{"ok": true})
	default:
		h.respond(msg, map[string]any{"error": "unknown op: " + req.Op})
	}
}

func (h *Handler) respond(msg *nats.Msg, data any) {
	resp, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal ipc response", "error", err)
		return
	}
	if err := msg.Respond(resp); err != nil {
		slog.Error("failed to respond to ipc request", "subject", msg.Subject, "error", err)
	}
}
