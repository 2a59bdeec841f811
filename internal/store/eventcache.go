package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cached event statuses, mirroring the remote service's vocabulary.
const (
	EventStatusConfirmed = "confirmed"
	EventStatusTentative = "tentative"
	EventStatusCancelled = "cancelled"
)

// CachedEvent is a read-optimized denormalized copy of one remote
// event. It exists purely to answer range queries without calling the
// remote API; it is not authoritative and may be rebuilt at any time
// from a fresh pull.
type CachedEvent struct {
	ID           string
	AccountID    string
	Provider     string
	ExternalID   string
	CalendarID   string
	Summary      string
	StartAt      *time.Time
	EndAt        *time.Time
	AllDay       bool
	Status       string
	LastSyncedAt time.Time
}

const cachedEventColumns = `
	id, account_id, provider, external_id, calendar_id,
	summary, start_at, end_at, all_day, status, last_synced_at`

// UpsertCachedEvent inserts or refreshes a cache row, keyed on
// (account, external id).
func (s *Store) UpsertCachedEvent(ctx context.Context, e *CachedEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = EventStatusConfirmed
	}
	if e.LastSyncedAt.IsZero() {
		e.LastSyncedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO event_cache (` + cachedEventColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(account_id, external_id) DO UPDATE SET
		calendar_id = excluded.calendar_id,
		summary = excluded.summary,
		start_at = excluded.start_at,
		end_at = excluded.end_at,
		all_day = excluded.all_day,
		status = excluded.status,
		last_synced_at = excluded.last_synced_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		e.ID,
		e.AccountID,
		e.Provider,
		e.ExternalID,
		e.CalendarID,
		e.Summary,
		timeToNullString(e.StartAt),
		timeToNullString(e.EndAt),
		boolToInt(e.AllDay),
		e.Status,
		formatTime(e.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cached event %s: %w", e.ExternalID, err)
	}
	return nil
}

// ListCachedEvents answers a range query from the cache. Events with
// no start instant are excluded.
func (s *Store) ListCachedEvents(ctx context.Context, accountID string, from, to time.Time) ([]*CachedEvent, error) {
	query := `
	SELECT ` + cachedEventColumns + `
	FROM event_cache
	WHERE account_id = ? AND start_at IS NOT NULL AND start_at >= ? AND start_at < ?
	ORDER BY start_at ASC
	`
	return s.queryCachedEvents(ctx, query, accountID, formatTime(from), formatTime(to))
}

// ListCachedEventsForCalendar returns all cache rows for one calendar.
func (s *Store) ListCachedEventsForCalendar(ctx context.Context, accountID, calendarID string) ([]*CachedEvent, error) {
	query := `
	SELECT ` + cachedEventColumns + `
	FROM event_cache
	WHERE account_id = ? AND calendar_id = ?
	ORDER BY start_at ASC
	`
	return s.queryCachedEvents(ctx, query, accountID, calendarID)
}

// MarkCachedEventCancelled flips a cache row to cancelled, preserving
// a short-lived tombstone instead of deleting the row.
func (s *Store) MarkCachedEventCancelled(ctx context.Context, accountID, externalID string) error {
	query := `
	UPDATE event_cache SET status = ?, last_synced_at = ?
	WHERE account_id = ? AND external_id = ?
	`
	_, err := s.conn.ExecContext(ctx, query,
		EventStatusCancelled, formatTime(time.Now()), accountID, externalID)
	if err != nil {
		return fmt.Errorf("failed to mark cached event %s cancelled: %w", externalID, err)
	}
	return nil
}

// DeleteAccountCachedEvents removes all of an account's cache rows for
// a provider. Part of disconnect.
func (s *Store) DeleteAccountCachedEvents(ctx context.Context, accountID, provider string) error {
	query := `DELETE FROM event_cache WHERE account_id = ? AND provider = ?`
	if _, err := s.conn.ExecContext(ctx, query, accountID, provider); err != nil {
		return fmt.Errorf("failed to delete cached events: %w", err)
	}
	return nil
}

func (s *Store) queryCachedEvents(ctx context.Context, query string, args ...any) ([]*CachedEvent, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event cache: %w", err)
	}
	defer rows.Close()

	var events []*CachedEvent
	for rows.Next() {
		e, err := scanCachedEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event cache: %w", err)
	}
	return events, nil
}

func scanCachedEvent(row rowScanner) (*CachedEvent, error) {
	var e CachedEvent
	var startAt, endAt sql.NullString
	var allDay int
	var lastSynced string

	err := row.Scan(
		&e.ID,
		&e.AccountID,
		&e.Provider,
		&e.ExternalID,
		&e.CalendarID,
		&e.Summary,
		&startAt,
		&endAt,
		&allDay,
		&e.Status,
		&lastSynced,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan cached event: %w", err)
	}

	e.StartAt = nullStringToTime(startAt)
	e.EndAt = nullStringToTime(endAt)
	e.AllDay = allDay != 0
	e.LastSyncedAt = parseTime(lastSynced)
	return &e, nil
}
