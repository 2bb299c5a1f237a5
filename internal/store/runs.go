package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TaskRun is the durable record of one task execution, whether it was
// run directly or drained from the queue.
type TaskRun struct {
	ID        string          `json:"id"`
	AgentName string          `json:"agent_name"`
	TaskType  string          `json:"task_type"`
	Params    json.RawMessage `json:"params,omitempty"`
	Status    string          `json:"status"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Queued    bool            `json:"queued"`
	Duration  time.Duration   `json:"duration"`
	StartedAt time.Time       `json:"started_at"`
}

const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

func (s *Store) SaveRun(run *TaskRun) error {
	_, err := s.db.Exec(`
		INSERT INTO task_runs (id, agent_name, task_type, params, status, result, error, queued, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			duration_ms = excluded.duration_ms`,
		run.ID, run.AgentName, run.TaskType, string(run.Params), run.Status,
		run.Result, run.Error, boolToInt(run.Queued), run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*TaskRun, error) {
	row := s.db.QueryRow(`
		SELECT id, agent_name, task_type, params, status, result, error, queued, duration_ms, started_at
		FROM task_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(agentName string, limit int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if agentName == "" {
		rows, err = s.db.Query(`
			SELECT id, agent_name, task_type, params, status, result, error, queued, duration_ms, started_at
			FROM task_runs ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, agent_name, task_type, params, status, result, error, queued, duration_ms, started_at
			FROM task_runs WHERE agent_name = ? ORDER BY started_at DESC LIMIT ?`, agentName, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []TaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// PruneRuns deletes run records older than the cutoff and reports how many
// were removed.
func (s *Store) PruneRuns(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM task_runs WHERE started_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanRun(sc scanner) (*TaskRun, error) {
	run := &TaskRun{}
	var params, result, errMsg sql.NullString
	var queued int
	var durMs int64
	err := sc.Scan(&run.ID, &run.AgentName, &run.TaskType, &params, &run.Status,
		&result, &errMsg, &queued, &durMs, &run.StartedAt)
	if err != nil {
		return nil, err
	}
	if params.String != "" {
		run.Params = json.RawMessage(params.String)
	}
	run.Result = result.String
	run.Error = errMsg.String
	run.Queued = queued == 1
	run.Duration = time.Duration(durMs) * time.Millisecond
	return run, nil
}
