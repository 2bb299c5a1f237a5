// Package registry provides discovery and load-balanced routing over a
// dynamic set of agents. It maintains three indices (name, type, capability)
// that are updated together under one lock, so a reader never observes a
// partially registered agent.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkatsogr/crewd/internal/agent"
)

// Metadata describes a registered agent.
type Metadata struct {
	Type         string            `json:"type"`
	Capabilities []string          `json:"capabilities"`
	RegisteredAt time.Time         `json:"registered_at"`
	LoadScore    int               `json:"load_score"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Options override the agent's self-declared type and capabilities at
// registration time.
type Options struct {
	Type         string
	Capabilities []string
	Metadata     map[string]string
}

// Stats is a point-in-time aggregation over all registered agents.
type Stats struct {
	Agents       int                    `json:"agents"`
	ByType       map[string]int         `json:"by_type"`
	ByCapability map[string]int         `json:"by_capability"`
	PerAgent     map[string]agent.Stats `json:"per_agent"`
}

// HealthStatus aggregates per-agent health; the registry is critical if any
// agent is critical, degraded if any is degraded, healthy otherwise.
type HealthStatus struct {
	Health agent.Health                  `json:"health"`
	Agents map[string]agent.HealthReport `json:"agents"`
}

type Registry struct {
	mu     sync.RWMutex
	agents map[string]agent.Agent
	meta   map[string]*Metadata
	types  map[string][]string
	caps   map[string][]string
}

func New() *Registry {
	return &Registry{
		agents: make(map[string]agent.Agent),
		meta:   make(map[string]*Metadata),
		types:  make(map[string][]string),
		caps:   make(map[string][]string),
	}
}

// Register indexes an agent under name. If the agent has not completed its
// start sequence the registry starts it first; a start failure aborts the
// registration and no index is touched. The registry subscribes to the
// agent's events to maintain its load score.
func (r *Registry) Register(ctx context.Context, name string, ag agent.Agent, opts Options) error {
	r.mu.RLock()
	_, exists := r.agents[name]
	r.mu.RUnlock()
	if exists {
		return &agent.DuplicateAgentError{Name: name}
	}

	// Start outside the lock: executor setup may block on I/O.
	if ag.Status() == agent.StatusUninitialized {
		if err := ag.Start(ctx); err != nil {
			return &agent.AgentStartError{Name: name, Err: err}
		}
	}

	kind := opts.Type
	if kind == "" {
		kind = ag.Type()
	}
	capabilities := opts.Capabilities
	if len(capabilities) == 0 {
		capabilities = ag.Capabilities()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock; a concurrent Register may have won.
	if _, exists := r.agents[name]; exists {
		return &agent.DuplicateAgentError{Name: name}
	}

	r.agents[name] = ag
	r.meta[name] = &Metadata{
		Type:         kind,
		Capabilities: append([]string(nil), capabilities...),
		RegisteredAt: time.Now(),
		Extra:        opts.Metadata,
	}
	r.types[kind] = append(r.types[kind], name)
	for _, c := range capabilities {
		r.caps[c] = append(r.caps[c], name)
	}

	ag.Subscribe(r.loadObserver(name))

	slog.Info("agent registered", "agent", name, "type", kind, "capabilities", capabilities)
	return nil
}

// loadObserver maintains the load score: +1 when a task starts, -1 (floored
// at zero) when it completes or fails. Events arriving after unregister are
// ignored.
func (r *Registry) loadObserver(name string) agent.Observer {
	return func(ev agent.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		m, ok := r.meta[name]
		if !ok {
			return
		}
		switch ev.Type {
		case agent.EventTaskStarted:
			m.LoadScore++
		case agent.EventTaskCompleted, agent.EventTaskFailed:
			if m.LoadScore > 0 {
				m.LoadScore--
			}
		}
	}
}

// Unregister stops the agent and removes it from every index. It reports
// whether the name was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	ag, ok := r.agents[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	m := r.meta[name]
	delete(r.agents, name)
	delete(r.meta, name)
	r.types[m.Type] = removeName(r.types[m.Type], name)
	if len(r.types[m.Type]) == 0 {
		delete(r.types, m.Type)
	}
	for _, c := range m.Capabilities {
		r.caps[c] = removeName(r.caps[c], name)
		if len(r.caps[c]) == 0 {
			delete(r.caps, c)
		}
	}
	r.mu.Unlock()

	if err := ag.Stop(); err != nil {
		slog.Error("stop agent failed", "agent", name, "error", err)
	}

	slog.Info("agent unregistered", "agent", name)
	return true
}

func (r *Registry) GetAgent(name string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ag, ok := r.agents[name]
	return ag, ok
}

// GetMetadata returns a copy of the agent's metadata.
func (r *Registry) GetMetadata(name string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meta[name]
	if !ok {
		return Metadata{}, false
	}
	return *m, true
}

func (r *Registry) AgentsByType(kind string) []agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.types[kind])
}

func (r *Registry) AgentsByCapability(capability string) []agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.caps[capability])
}

// Names returns the registered agent names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

func (r *Registry) collect(names []string) []agent.Agent {
	out := make([]agent.Agent, 0, len(names))
	for _, n := range names {
		if ag, ok := r.agents[n]; ok {
			out = append(out, ag)
		}
	}
	return out
}

// FindBestAgent picks the idle agent of the given type with the lowest load
// score; ties go to the earliest registered. It returns false when no idle
// candidate exists.
func (r *Registry) FindBestAgent(kind string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findBest(r.types[kind])
}

// FindBestAgentByCapability is FindBestAgent over a capability bucket.
func (r *Registry) FindBestAgentByCapability(capability string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findBest(r.caps[capability])
}

// findBest scans the bucket in registration order, so only a strictly lower
// score displaces the current pick and ties keep the earlier agent.
func (r *Registry) findBest(names []string) (agent.Agent, bool) {
	var best agent.Agent
	bestScore := 0
	for _, n := range names {
		ag, ok := r.agents[n]
		if !ok || ag.Status() != agent.StatusIdle {
			continue
		}
		score := r.meta[n].LoadScore
		if best == nil || score < bestScore {
			best = ag
			bestScore = score
		}
	}
	return best, best != nil
}

// RouteMessage resolves the envelope's receiver and drives it through the
// message state machine: processing, then completed or failed. On failure
// the envelope retains the failure record and the error is re-raised
// annotated with the agent name.
func (r *Registry) RouteMessage(ctx context.Context, msg *agent.Message) (any, error) {
	if msg == nil {
		return nil, &agent.InvalidMessageError{Reason: "nil message"}
	}
	if msg.ID == "" || msg.Receiver == "" {
		return nil, &agent.InvalidMessageError{Reason: "missing id or receiver"}
	}

	ag, ok := r.GetAgent(msg.Receiver)
	if !ok {
		return nil, &agent.AgentNotFoundError{Name: msg.Receiver}
	}

	if err := msg.MarkProcessing(); err != nil {
		return nil, &agent.InvalidMessageError{Reason: err.Error()}
	}

	result, err := ag.Run(ctx, msg.Data)
	if err != nil {
		execErr := &agent.TaskExecutionError{Agent: msg.Receiver, Err: err}
		if markErr := msg.MarkFailed(execErr); markErr != nil {
			slog.Error("mark message failed", "message", msg.ID, "error", markErr)
		}
		return nil, execErr
	}

	if markErr := msg.MarkCompleted(result); markErr != nil {
		slog.Error("mark message completed", "message", msg.ID, "error", markErr)
	}
	return result, nil
}

// Stats aggregates per-agent stats plus counts by type and capability.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Agents:       len(r.agents),
		ByType:       make(map[string]int, len(r.types)),
		ByCapability: make(map[string]int, len(r.caps)),
		PerAgent:     make(map[string]agent.Stats, len(r.agents)),
	}
	for kind, names := range r.types {
		s.ByType[kind] = len(names)
	}
	for c, names := range r.caps {
		s.ByCapability[c] = len(names)
	}
	for name, ag := range r.agents {
		s.PerAgent[name] = ag.Stats()
	}
	return s
}

// HealthCheck aggregates per-agent health into a registry-level verdict.
func (r *Registry) HealthCheck() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hs := HealthStatus{
		Health: agent.HealthHealthy,
		Agents: make(map[string]agent.HealthReport, len(r.agents)),
	}
	for name, ag := range r.agents {
		report := ag.Health()
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

func removeName(names []string, name string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
