package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relaydesk/relaydesk/internal/domain"
)

// ErrAgentNotFound means no agent record exists with the given ID.
var ErrAgentNotFound = errors.New("agent not found")

// AgentStore is the durable agent roster. The live availability pool is kept
// in the coordination store; this table records who has ever joined, for
// dashboards and assignment audit.
type AgentStore struct {
	db *DB
}

// NewAgentStore returns an agent store backed by db.
func NewAgentStore(db *DB) *AgentStore {
	return &AgentStore{db: db}
}

const agentColumns = `id, name, role, status, department, languages_json,
	skills_json, max_chats, active_chats, last_heartbeat, last_assigned_at, joined_at`

// Upsert inserts or replaces the agent record.
func (s *AgentStore) Upsert(ctx context.Context, a *domain.Agent) error {
	langJSON, err := json.Marshal(a.Languages)
	if err != nil {
		return fmt.Errorf("encoding agent languages: %w", err)
	}
	skillsJSON, err := json.Marshal(a.Skills)
	if err != nil {
		return fmt.Errorf("encoding agent skills: %w", err)
	}

	_, err = s.db.sql.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			status = excluded.status,
			department = excluded.department,
			languages_json = excluded.languages_json,
			skills_json = excluded.skills_json,
			max_chats = excluded.max_chats,
			active_chats = excluded.active_chats,
			last_heartbeat = excluded.last_heartbeat,
			last_assigned_at = excluded.last_assigned_at
	`,
		a.ID, a.Name, string(a.Role), string(a.Status), a.Department, string(langJSON),
		string(skillsJSON), a.MaxConcurrentChats, a.ActiveChats,
		formatTime(a.LastHeartbeat), formatTime(a.LastAssignedAt), formatTime(a.JoinedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting agent %s: %w", a.ID, err)
	}
	return nil
}

// Get returns an agent record or ErrAgentNotFound.
func (s *AgentStore) Get(ctx context.Context, id string) (*domain.Agent, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	return a, err
}

// List returns all agent records, oldest joiner first.
func (s *AgentStore) List(ctx context.Context) ([]*domain.Agent, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY joined_at`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SetStatus records a status change without touching the rest of the record.
func (s *AgentStore) SetStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	res, err := s.db.sql.ExecContext(ctx, `UPDATE agents SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating agent %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating agent %s status: %w", id, err)
	}
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func scanAgent(row scanner) (*domain.Agent, error) {
	var (
		a              domain.Agent
		role, status   string
		langJSON       sql.NullString
		skillsJSON     sql.NullString
		lastHeartbeat  string
		lastAssignedAt string
		joinedAt       string
	)

	err := row.Scan(
		&a.ID, &a.Name, &role, &status, &a.Department, &langJSON,
		&skillsJSON, &a.MaxConcurrentChats, &a.ActiveChats,
		&lastHeartbeat, &lastAssignedAt, &joinedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	a.Role = domain.AgentRole(role)
	a.Status = domain.AgentStatus(status)

	if langJSON.Valid && langJSON.String != "" {
		if err := json.Unmarshal([]byte(langJSON.String), &a.Languages); err != nil {
			return nil, fmt.Errorf("decoding agent %s languages: %w", a.ID, err)
		}
	}
	if skillsJSON.Valid && skillsJSON.String != "" {
		if err := json.Unmarshal([]byte(skillsJSON.String), &a.Skills); err != nil {
			return nil, fmt.Errorf("decoding agent %s skills: %w", a.ID, err)
		}
	}

	if a.LastHeartbeat, err = parseTime(lastHeartbeat); err != nil {
		return nil, fmt.Errorf("decoding agent %s last_heartbeat: %w", a.ID, err)
	}
	if a.LastAssignedAt, err = parseTime(lastAssignedAt); err != nil {
		return nil, fmt.Errorf("decoding agent %s last_assigned_at: %w", a.ID, err)
	}
	if a.JoinedAt, err = parseTime(joinedAt); err != nil {
		return nil, fmt.Errorf("decoding agent %s joined_at: %w", a.ID, err)
	}

	return &a, nil
}
