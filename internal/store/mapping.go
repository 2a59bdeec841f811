package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskMapping is the authoritative link between one local task and one
// remote event: at most one remote event per task per provider, and at
// most one mapping per remote event within an account. Its presence or
// absence gates whether a task is remote-linked at all.
type TaskMapping struct {
	ID                 string
	TaskID             string
	AccountID          string
	Provider           string
	ExternalEventID    string
	ExternalCalendarID string
	ContentHash        string
	LastSyncedAt       time.Time
}

const mappingColumns = `
	id, task_id, account_id, provider,
	external_event_id, external_calendar_id, content_hash, last_synced_at`

// UpsertTaskMapping inserts or refreshes the mapping for (task,
// provider). The external event id and calendar id are overwritten,
// so a repaired or recreated remote event replaces the stale link.
func (s *Store) UpsertTaskMapping(ctx context.Context, m *TaskMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.LastSyncedAt.IsZero() {
		m.LastSyncedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO task_mappings (` + mappingColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(task_id, provider) DO UPDATE SET
		external_event_id = excluded.external_event_id,
		external_calendar_id = excluded.external_calendar_id,
		content_hash = excluded.content_hash,
		last_synced_at = excluded.last_synced_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		m.ID,
		m.TaskID,
		m.AccountID,
		m.Provider,
		m.ExternalEventID,
		m.ExternalCalendarID,
		m.ContentHash,
		formatTime(m.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping for task %s: %w", m.TaskID, err)
	}
	return nil
}

// GetTaskMapping retrieves the mapping for (task, provider).
func (s *Store) GetTaskMapping(ctx context.Context, taskID, provider string) (*TaskMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM task_mappings WHERE task_id = ? AND provider = ?`
	m, err := scanMapping(s.conn.QueryRowContext(ctx, query, taskID, provider))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mapping for task %s: %w", taskID, ErrNotFound)
	}
	return m, err
}

// GetMappingByEvent retrieves the mapping owning a remote event id
// within an account.
func (s *Store) GetMappingByEvent(ctx context.Context, accountID, provider, eventID string) (*TaskMapping, error) {
	query := `
	SELECT ` + mappingColumns + `
	FROM task_mappings
	WHERE account_id = ? AND provider = ? AND external_event_id = ?
	`
	m, err := scanMapping(s.conn.QueryRowContext(ctx, query, accountID, provider, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mapping for event %s: %w", eventID, ErrNotFound)
	}
	return m, err
}

// ListMappingsForCalendar returns every mapping of an account pointing
// at one remote calendar. Pull reconciliation walks this list against
// the freshly fetched event set.
func (s *Store) ListMappingsForCalendar(ctx context.Context, accountID, provider, calendarID string) ([]*TaskMapping, error) {
	query := `
	SELECT ` + mappingColumns + `
	FROM task_mappings
	WHERE account_id = ? AND provider = ? AND external_calendar_id = ?
	`

	rows, err := s.conn.QueryContext(ctx, query, accountID, provider, calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*TaskMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}
	return mappings, nil
}

// DeleteTaskMapping removes the mapping for (task, provider).
// Idempotent.
func (s *Store) DeleteTaskMapping(ctx context.Context, taskID, provider string) error {
	query := `DELETE FROM task_mappings WHERE task_id = ? AND provider = ?`
	if _, err := s.conn.ExecContext(ctx, query, taskID, provider); err != nil {
		return fmt.Errorf("failed to delete mapping for task %s: %w", taskID, err)
	}
	return nil
}

// DeleteAccountMappings removes all of an account's mappings for a
// provider. Part of disconnect.
func (s *Store) DeleteAccountMappings(ctx context.Context, accountID, provider string) error {
	query := `DELETE FROM task_mappings WHERE account_id = ? AND provider = ?`
	if _, err := s.conn.ExecContext(ctx, query, accountID, provider); err != nil {
		return fmt.Errorf("failed to delete account mappings: %w", err)
	}
	return nil
}

// CountMappings returns the number of mappings for an account and
// provider.
func (s *Store) CountMappings(ctx context.Context, accountID, provider string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM task_mappings WHERE account_id = ? AND provider = ?`
	if err := s.conn.QueryRowContext(ctx, query, accountID, provider).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count mappings: %w", err)
	}
	return count, nil
}

func scanMapping(row rowScanner) (*TaskMapping, error) {
	var m TaskMapping
	var lastSynced string

	err := row.Scan(
		&m.ID,
		&m.TaskID,
		&m.AccountID,
		&m.Provider,
		&m.ExternalEventID,
		&m.ExternalCalendarID,
		&m.ContentHash,
		&lastSynced,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan mapping: %w", err)
	}

	m.LastSyncedAt = parseTime(lastSynced)
	return &m, nil
}
