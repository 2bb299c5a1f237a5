package store

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pkatsogr/crewd/internal/agent"
)

// Observer persists a run record for every terminal task event. Write
// failures are logged and dropped so persistence never blocks execution.
func Observer(s *Store) agent.Observer {
	return func(ev agent.Event) {
		if ev.Task == nil {
			return
		}

		run := &TaskRun{
			ID:        ev.Task.ID,
			AgentName: ev.Agent,
			TaskType:  ev.Task.Type,
			Duration:  ev.Duration,
		}
		if len(ev.Task.Params) > 0 {
			if data, err := json.Marshal(ev.Task.Params); err == nil {
				run.Params = data
			}
		}

		switch ev.Type {
		case agent.EventTaskCompleted:
			run.Status = RunCompleted
			if ev.Result != nil {
				if data, err := json.Marshal(ev.Result); err == nil {
					run.Result = string(data)
				} else {
					run.Result = fmt.Sprintf("%v", ev.Result)
				}
			}
		case agent.EventTaskFailed:
			run.Status = RunFailed
			if ev.Err != nil {
				run.Error = ev.Err.Error()
			}
		default:
			return
		}

		if err := s.SaveRun(run); err != nil {
			slog.Error("persist task run failed", "task", run.ID, "error", err)
		}
	}
}
