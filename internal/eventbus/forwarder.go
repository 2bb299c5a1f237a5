package eventbus

import (
	"log/slog"
	"time"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/orchestrator"
)

// wireEvent is the JSON shape published for every observed event. Errors
// are flattened to strings since they do not marshal.
type wireEvent struct {
	Type      string    `json:"type"`
	Agent     string    `json:"agent,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	TaskType  string    `json:"task_type,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Context   string    `json:"context,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Forwarder adapts the observer callback to NATS publishes. Queue-scope
// events (queueing, drops, drain failures) go out on the shared queue topic;
// everything else goes on the per-agent topic and a per-type task topic so
// subscribers can filter either way.
func Forwarder(client *Client) agent.Observer {
	return func(ev agent.Event) {
		w := wireEvent{
			Type:      string(ev.Type),
			Agent:     ev.Agent,
			Result:    ev.Result,
			Context:   ev.Context,
			Timestamp: ev.Time,
		}
		if ev.Task != nil {
			w.TaskID = ev.Task.ID
			w.TaskType = ev.Task.Type
		}
		if ev.Err != nil {
			w.Error = ev.Err.Error()
		}
		if ev.Duration > 0 {
			w.Duration = ev.Duration.String()
		}

		if isQueueEvent(ev) {
			if err := client.PublishJSON(TopicEventsQueue, w); err != nil {
				slog.Debug("publish queue event failed", "type", w.Type, "error", err)
			}
			return
		}

		if ev.Agent != "" {
			if err := client.PublishJSON(TopicAgentEvents(ev.Agent), w); err != nil {
				slog.Debug("publish agent event failed", "agent", ev.Agent, "error", err)
				return
			}
		}
		if err := client.PublishJSON(TopicTaskEvent(w.Type), w); err != nil {
			slog.Debug("publish task event failed", "type", w.Type, "error", err)
		}
	}
}

func isQueueEvent(ev agent.Event) bool {
	switch ev.Type {
	case orchestrator.EventTaskQueued, orchestrator.EventQueueDropped:
		return true
	case agent.EventError:
		return ev.Context == "queue"
	}
	return false
}
