package store

import (
	"database/sql"
	"fmt"
	"time"
)

// MessageRecord is the persisted form of a routed message envelope. The
// in-memory envelope owns the state machine; the record is an audit trail
// written at terminal states.
type MessageRecord struct {
	ID          string     `json:"id"`
	Sender      string     `json:"sender"`
	Receiver    string     `json:"receiver"`
	TaskID      string     `json:"task_id,omitempty"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Store) SaveMessage(rec *MessageRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (id, sender, receiver, task_id, status, result, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		rec.ID, rec.Sender, rec.Receiver, rec.TaskID, rec.Status,
		rec.Result, rec.Error, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(id string) (*MessageRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, sender, receiver, task_id, status, result, error, created_at, completed_at
		FROM messages WHERE id = ?`, id)
	rec, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return rec, nil
}

func (s *Store) ListMessages(receiver string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if receiver == "" {
		rows, err = s.db.Query(`
			SELECT id, sender, receiver, task_id, status, result, error, created_at, completed_at
			FROM messages ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, sender, receiver, task_id, status, result, error, created_at, completed_at
			FROM messages WHERE receiver = ? ORDER BY created_at DESC LIMIT ?`, receiver, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanMessage(sc scanner) (*MessageRecord, error) {
	rec := &MessageRecord{}
	var taskID, result, errMsg sql.NullString
	err := sc.Scan(&rec.ID, &rec.Sender, &rec.Receiver, &taskID, &rec.Status,
		&result, &errMsg, &rec.CreatedAt, &rec.CompletedAt)
	if err != nil {
		return nil, err
	}
	rec.TaskID = taskID.String
	rec.Result = result.String
	rec.Error = errMsg.String
	return rec, nil
}
