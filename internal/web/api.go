package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/cache"
	"github.com/pkatsogr/crewd/internal/orchestrator"
	"github.com/pkatsogr/crewd/internal/router"
	"github.com/pkatsogr/crewd/internal/schedule"
	"github.com/pkatsogr/crewd/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agents
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{name}", s.getAgent)
	mux.HandleFunc("POST /api/agents/{name}/tasks", s.submitTask)
	mux.HandleFunc("POST /api/agents/{name}/pause", s.pauseAgent)
	mux.HandleFunc("POST /api/agents/{name}/resume", s.resumeAgent)

	// Workflows and routed messages
	mux.HandleFunc("POST /api/workflows", s.runWorkflow)
	mux.HandleFunc("POST /api/messages", s.dispatchMessage)
	mux.HandleFunc("GET /api/messages", s.listMessages)
	mux.HandleFunc("GET /api/messages/{id}", s.getMessage)

	// Task history and cached results
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/results/{id}", s.getResult)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/pause", s.pauseSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/resume", s.resumeSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("PUT /api/secrets/{name}", s.putSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
	mux.HandleFunc("GET /api/stats", s.getStats)
	mux.HandleFunc("GET /api/health", s.getHealth)
	mux.HandleFunc("POST /api/pause", s.pauseAll)
	mux.HandleFunc("POST /api/resume", s.resumeAll)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]any, 0)
	for _, name := range s.registry.Names() {
		ag, ok := s.registry.GetAgent(name)
		if !ok {
			continue
		}
		entry := map[string]any{
			"name":         name,
			"type":         ag.Type(),
			"capabilities": ag.Capabilities(),
			"status":       ag.Status(),
			"health":       ag.Health().Health,
		}
		if meta, ok := s.registry.GetMetadata(name); ok {
			entry["load"] = meta.LoadScore
			entry["registered_at"] = meta.RegisteredAt
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ag, ok := s.registry.GetAgent(name)
	if !ok {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}

	entry := map[string]any{
		"name":         name,
		"type":         ag.Type(),
		"capabilities": ag.Capabilities(),
		"status":       ag.Status(),
		"stats":        ag.Stats(),
		"health":       ag.Health(),
	}
	if meta, ok := s.registry.GetMetadata(name); ok {
		entry["load"] = meta.LoadScore
		entry["registered_at"] = meta.RegisteredAt
	}
	jsonResponse(w, entry)
}

type taskBody struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
	Queue  bool           `json:"queue"`
}

// submitTask runs the task directly, or enqueues it when queue is set in
// the body.
func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var body taskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	task := &agent.Task{ID: uuid.New().String(), Type: body.Type, Params: body.Params}

	if body.Queue {
		s.orch.QueueTask(r.Context(), name, task)
		jsonResponseStatus(w, http.StatusAccepted, map[string]any{"task_id": task.ID, "queued": true})
		return
	}

	result, err := s.orch.ExecuteTask(r.Context(), name, task)
	if err != nil {
		var notFound *agent.AgentNotFoundError
		if errors.As(err, &notFound) {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	jsonResponse(w, map[string]any{"task_id": task.ID, "result": result})
}

func (s *Server) pauseAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ag, ok := s.registry.GetAgent(name)
	if !ok {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	if err := ag.Pause(); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	jsonResponse(w, map[string]string{"status": "paused"})
}

func (s *Server) resumeAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ag, ok := s.registry.GetAgent(name)
	if !ok {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	if err := ag.Resume(); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	jsonResponse(w, map[string]string{"status": "idle"})
}

type workflowBody struct {
	Steps []struct {
		Agent              string         `json:"agent"`
		Type               string         `json:"type"`
		Params             map[string]any `json:"params,omitempty"`
		UsesPreviousResult bool           `json:"uses_previous_result"`
	} `json:"steps"`
}

func (s *Server) runWorkflow(w http.ResponseWriter, r *http.Request) {
	var body workflowBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	steps := make([]orchestrator.Step, 0, len(body.Steps))
	for _, st := range body.Steps {
		steps = append(steps, orchestrator.Step{
			AgentName:          st.Agent,
			Task:               &agent.Task{Type: st.Type, Params: st.Params},
			UsesPreviousResult: st.UsesPreviousResult,
		})
	}

	result, err := s.orch.ExecuteWorkflow(r.Context(), steps)
	if err != nil {
		var stepErr *agent.WorkflowStepError
		if errors.As(err, &stepErr) {
			jsonError(w, err.Error(), http.StatusBadGateway)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, result)
}

type messageBody struct {
	Sender     string         `json:"sender"`
	Receiver   string         `json:"receiver,omitempty"`
	Capability string         `json:"capability,omitempty"`
	AgentType  string         `json:"agent_type,omitempty"`
	Type       string         `json:"type"`
	Params     map[string]any `json:"params,omitempty"`
}

// dispatchMessage routes a task through the registry and persists the
// envelope's terminal state.
func (s *Server) dispatchMessage(w http.ResponseWriter, r *http.Request) {
	var body messageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	task := &agent.Task{ID: uuid.New().String(), Type: body.Type, Params: body.Params}
	msg, result, err := s.router.Dispatch(r.Context(), router.Request{
		Sender:     body.Sender,
		Receiver:   body.Receiver,
		Capability: body.Capability,
		Type:       body.AgentType,
		Task:       task,
	})

	if msg != nil {
		s.persistMessage(msg, task.ID)
	}

	if err != nil {
		status := http.StatusBadGateway
		var notFound *agent.AgentNotFoundError
		var invalid *agent.InvalidMessageError
		if errors.As(err, &notFound) {
			status = http.StatusNotFound
		} else if errors.As(err, &invalid) || msg == nil {
			status = http.StatusBadRequest
		}
		jsonError(w, err.Error(), status)
		return
	}

	jsonResponse(w, map[string]any{
		"message_id": msg.ID,
		"receiver":   msg.Receiver,
		"status":     msg.Status(),
		"result":     result,
	})
}

func (s *Server) persistMessage(msg *agent.Message, taskID string) {
	rec := &store.MessageRecord{
		ID:       msg.ID,
		Sender:   msg.Sender,
		Receiver: msg.Receiver,
		TaskID:   taskID,
		Status:   string(msg.Status()),
	}
	if result := msg.Result(); result != nil {
		if data, err := json.Marshal(result); err == nil {
			rec.Result = string(data)
		}
	}
	if err := msg.Err(); err != nil {
		rec.Error = err.Error()
	}
	if t := msg.CompletedAt(); !t.IsZero() {
		rec.CompletedAt = &t
	}
	_ = s.store.SaveMessage(rec)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.store.ListMessages(r.URL.Query().Get("receiver"), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, records)
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetMessage(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		jsonError(w, "message not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, rec)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.URL.Query().Get("agent"), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agentName, result, err := s.cache.GetResult(r.Context(), id)
	if errors.Is(err, cache.ErrNotFound) {
		jsonError(w, "result not cached", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"task_id": id, "agent": agentName, "result": result})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, scheduleToAPI(t))
	}
	jsonResponse(w, out)
}

type scheduleBody struct {
	Agent    string          `json:"agent"`
	Name     string          `json:"name"`
	Schedule string          `json:"schedule"`
	TaskType string          `json:"task_type"`
	Params   json.RawMessage `json:"params,omitempty"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Agent == "" || body.Name == "" || body.Schedule == "" || body.TaskType == "" {
		jsonError(w, "agent, name, schedule, and task_type are required", http.StatusBadRequest)
		return
	}

	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	t := &store.ScheduledTask{
		ID:        uuid.New().String(),
		AgentName: body.Agent,
		Name:      body.Name,
		Schedule:  normalized,
		TaskType:  body.TaskType,
		Params:    body.Params,
		Status:    "active",
		NextRunAt: schedule.NextRun(normalized),
	}
	if err := s.store.SaveTask(t); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponseStatus(w, http.StatusCreated, scheduleToAPI(*t))
}

func (s *Server) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleStatus(w, r, "paused")
}

func (s *Server) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleStatus(w, r, "active")
}

func (s *Server) setScheduleStatus(w http.ResponseWriter, r *http.Request, status string) {
	id := r.PathValue("id")
	t, err := s.store.GetTask(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if t == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}
	if err := s.store.UpdateTaskStatus(id, status); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": status})
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	secrets, err := s.vault.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, secrets)
}

func (s *Server) putSecret(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Description string `json:"description,omitempty"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Value == "" {
		jsonError(w, "value is required", http.StatusBadRequest)
		return
	}

	if err := s.vault.Put(r.PathValue("name"), body.Description, []byte(body.Value)); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "saved"})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.vault.Delete(r.PathValue("name")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st := s.orch.Status()
	jsonResponse(w, map[string]any{
		"version":     s.version,
		"uptime":      formatUptime(time.Since(s.startedAt)),
		"agents":      st.Agents,
		"queue_depth": st.QueueDepth,
		"processing":  st.Processing,
		"paused":      st.Paused,
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"orchestrator": s.orch.Stats(),
		"registry":     s.registry.Stats(),
	})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	hs := s.orch.HealthCheck()
	if hs.Health == agent.HealthCritical {
		jsonResponseStatus(w, http.StatusServiceUnavailable, hs)
		return
	}
	jsonResponse(w, hs)
}

func (s *Server) pauseAll(w http.ResponseWriter, r *http.Request) {
	s.orch.PauseAll()
	jsonResponse(w, map[string]string{"status": "paused"})
}

func (s *Server) resumeAll(w http.ResponseWriter, r *http.Request) {
	s.orch.ResumeAll(r.Context())
	jsonResponse(w, map[string]string{"status": "running"})
}

func scheduleToAPI(t store.ScheduledTask) map[string]any {
	m := map[string]any{
		"id":               t.ID,
		"name":             t.Name,
		"agent":            t.AgentName,
		"schedule":         t.Schedule,
		"schedule_display": schedule.Describe(t.Schedule),
		"task_type":        t.TaskType,
		"enabled":          t.Status == "active",
		"status":           t.Status,
	}
	if len(t.Params) > 0 {
		m["params"] = t.Params
	}
	if t.LastRunAt != nil {
		m["last_run"] = t.LastRunAt
	}
	if t.NextRunAt != nil {
		m["next_run"] = t.NextRunAt
	}
	return m
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonResponseStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
