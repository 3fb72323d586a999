package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/ticket"
)

// TicketStore is the SQLite-backed ticket.Store. Conditional updates run in a
// transaction with a status-guarded UPDATE, so two agents racing to accept
// the same ticket cannot both win.
type TicketStore struct {
	db *DB
}

// NewTicketStore returns a ticket store backed by db.
func NewTicketStore(db *DB) *TicketStore {
	return &TicketStore{db: db}
}

const ticketColumns = `id, owner_id, session_id, status, priority_score, priority,
	trigger_kind, reason, department, language, severity, assigned_agent_id,
	notes, context_json, sla_json, history_json, feedback_json,
	created_at, assigned_at, resolved_at`

// Create inserts a new ticket.
func (s *TicketStore) Create(ctx context.Context, t *domain.Ticket) error {
	contextJSON, slaJSON, historyJSON, feedbackJSON, err := marshalTicketBlobs(t)
	if err != nil {
		return err
	}

	_, err = s.db.sql.ExecContext(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.OwnerID, t.SessionID, string(t.Status), t.PriorityScore, string(t.Priority),
		string(t.Trigger), t.Reason, t.Department, t.Language, t.Severity, t.AssignedAgentID,
		t.Notes, contextJSON, slaJSON, historyJSON, feedbackJSON,
		formatTime(t.CreatedAt), formatTimePtr(t.AssignedAt), formatTimePtr(t.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting ticket %s: %w", t.ID, err)
	}
	return nil
}

// Get returns a ticket or ticket.ErrNotFound.
func (s *TicketStore) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ticket.ErrNotFound
	}
	return t, err
}

// UpdateIf loads the ticket inside a transaction, verifies the expected
// status, applies mutate, and writes back with a status-guarded UPDATE.
func (s *TicketStore) UpdateIf(ctx context.Context, id string, expect domain.TicketStatus, mutate func(*domain.Ticket) error) (*domain.Ticket, error) {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ticket update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ticket.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Status != expect {
		return nil, ticket.ErrConflict
	}

	if err := mutate(t); err != nil {
		return nil, err
	}

	contextJSON, slaJSON, historyJSON, feedbackJSON, err := marshalTicketBlobs(t)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tickets SET
			status = ?, priority_score = ?, priority = ?, reason = ?,
			assigned_agent_id = ?, notes = ?, context_json = ?, sla_json = ?,
			history_json = ?, feedback_json = ?, assigned_at = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`,
		string(t.Status), t.PriorityScore, string(t.Priority), t.Reason,
		t.AssignedAgentID, t.Notes, contextJSON, slaJSON,
		historyJSON, feedbackJSON, formatTimePtr(t.AssignedAt), formatTimePtr(t.ResolvedAt),
		id, string(expect),
	)
	if err != nil {
		return nil, fmt.Errorf("updating ticket %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("updating ticket %s: %w", id, err)
	}
	if n == 0 {
		return nil, ticket.ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ticket update: %w", err)
	}
	return t, nil
}

// ListByStatus returns tickets in the given status, oldest first.
func (s *TicketStore) ListByStatus(ctx context.Context, status domain.TicketStatus) ([]*domain.Ticket, error) {
	return s.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE status = ? ORDER BY created_at`, string(status))
}

// ListOpen returns all non-terminal tickets, oldest first.
func (s *TicketStore) ListOpen(ctx context.Context) ([]*domain.Ticket, error) {
	return s.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE status IN (?, ?) ORDER BY created_at`,
		string(domain.TicketWaiting), string(domain.TicketAssigned))
}

// ListByAgent returns the tickets currently assigned to an agent.
func (s *TicketStore) ListByAgent(ctx context.Context, agentID string) ([]*domain.Ticket, error) {
	return s.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE status = ? AND assigned_agent_id = ? ORDER BY created_at`,
		string(domain.TicketAssigned), agentID)
}

func (s *TicketStore) list(ctx context.Context, query string, args ...any) ([]*domain.Ticket, error) {
	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (*domain.Ticket, error) {
	var (
		t            domain.Ticket
		status       string
		priority     string
		trigger      string
		contextJSON  sql.NullString
		slaJSON      string
		historyJSON  sql.NullString
		feedbackJSON sql.NullString
		createdAt    string
		assignedAt   sql.NullString
		resolvedAt   sql.NullString
	)

	err := row.Scan(
		&t.ID, &t.OwnerID, &t.SessionID, &status, &t.PriorityScore, &priority,
		&trigger, &t.Reason, &t.Department, &t.Language, &t.Severity, &t.AssignedAgentID,
		&t.Notes, &contextJSON, &slaJSON, &historyJSON, &feedbackJSON,
		&createdAt, &assignedAt, &resolvedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning ticket: %w", err)
	}

	t.Status = domain.TicketStatus(status)
	t.Priority = domain.PriorityLevel(priority)
	t.Trigger = domain.HandoffTrigger(trigger)

	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &t.Context); err != nil {
			return nil, fmt.Errorf("decoding ticket %s context: %w", t.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(slaJSON), &t.SLA); err != nil {
		return nil, fmt.Errorf("decoding ticket %s sla: %w", t.ID, err)
	}
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &t.History); err != nil {
			return nil, fmt.Errorf("decoding ticket %s history: %w", t.ID, err)
		}
	}
	if feedbackJSON.Valid && feedbackJSON.String != "" {
		if err := json.Unmarshal([]byte(feedbackJSON.String), &t.Feedback); err != nil {
			return nil, fmt.Errorf("decoding ticket %s feedback: %w", t.ID, err)
		}
	}

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decoding ticket %s created_at: %w", t.ID, err)
	}
	if t.AssignedAt, err = parseTimePtr(assignedAt); err != nil {
		return nil, fmt.Errorf("decoding ticket %s assigned_at: %w", t.ID, err)
	}
	if t.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return nil, fmt.Errorf("decoding ticket %s resolved_at: %w", t.ID, err)
	}

	return &t, nil
}

func marshalTicketBlobs(t *domain.Ticket) (contextJSON, slaJSON string, historyJSON, feedbackJSON sql.NullString, err error) {
	ctxBytes, err := json.Marshal(t.Context)
	if err != nil {
		return "", "", sql.NullString{}, sql.NullString{}, fmt.Errorf("encoding ticket context: %w", err)
	}
	slaBytes, err := json.Marshal(t.SLA)
	if err != nil {
		return "", "", sql.NullString{}, sql.NullString{}, fmt.Errorf("encoding ticket sla: %w", err)
	}
	histBytes, err := json.Marshal(t.History)
	if err != nil {
		return "", "", sql.NullString{}, sql.NullString{}, fmt.Errorf("encoding ticket history: %w", err)
	}
	historyJSON = sql.NullString{String: string(histBytes), Valid: t.History != nil}
	if t.Feedback != nil {
		fbBytes, err := json.Marshal(t.Feedback)
		if err != nil {
			return "", "", sql.NullString{}, sql.NullString{}, fmt.Errorf("encoding ticket feedback: %w", err)
		}
		feedbackJSON = sql.NullString{String: string(fbBytes), Valid: true}
	}
	return string(ctxBytes), string(slaBytes), historyJSON, feedbackJSON, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
