package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AgentRecord mirrors a registry entry so registrations survive restarts
// and the API can report agents that are currently offline.
type AgentRecord struct {
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Capabilities []string   `json:"capabilities,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

func (s *Store) SaveAgent(rec *AgentRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (name, type, capabilities)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			type = excluded.type,
			capabilities = excluded.capabilities,
			last_seen = CURRENT_TIMESTAMP`,
		rec.Name, rec.Type, strings.Join(rec.Capabilities, ","))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(name string) (*AgentRecord, error) {
	row := s.db.QueryRow(`
		SELECT name, type, capabilities, registered_at, last_seen
		FROM agents WHERE name = ?`, name)
	rec, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return rec, nil
}

func (s *Store) ListAgents() ([]AgentRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, type, capabilities, registered_at, last_seen
		FROM agents ORDER BY registered_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *rec)
	}
	return agents, rows.Err()
}

func (s *Store) TouchAgent(name string) error {
	_, err := s.db.Exec(`UPDATE agents SET last_seen = CURRENT_TIMESTAMP WHERE name = ?`, name)
	return err
}

func (s *Store) DeleteAgent(name string) error {
	_, err := s.db.Exec(`DELETE FROM agents WHERE name = ?`, name)
	return err
}

func scanAgent(sc scanner) (*AgentRecord, error) {
	rec := &AgentRecord{}
	var caps sql.NullString
	if err := sc.Scan(&rec.Name, &rec.Type, &caps, &rec.RegisteredAt, &rec.LastSeen); err != nil {
		return nil, err
	}
	if caps.String != "" {
		rec.Capabilities = strings.Split(caps.String, ",")
	}
	return rec, nil
}
