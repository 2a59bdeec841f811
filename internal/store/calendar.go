package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConnectedCalendar is one remote calendar known for an (account,
// provider) pair, with its per-calendar sync opt-in and webhook
// channel state. Unique on (account, external id).
type ConnectedCalendar struct {
	ID         string
	AccountID  string
	Provider   string
	ExternalID string
	Summary    string
	Primary    bool
	Writable   bool
	IsSynced   bool

	ChannelID         string
	ResourceID        string
	ChannelExpiration *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasActiveChannel reports whether the calendar currently holds an
// unexpired webhook channel.
func (c *ConnectedCalendar) HasActiveChannel() bool {
	return c.ChannelID != "" &&
		c.ChannelExpiration != nil &&
		c.ChannelExpiration.After(time.Now())
}

const calendarColumns = `
	id, account_id, provider, external_id, summary,
	is_primary, writable, is_synced,
	channel_id, resource_id, channel_expiration,
	created_at, updated_at`

// UpsertConnectedCalendar inserts or refreshes a connected calendar,
// keyed on (account, external id). Channel state is preserved on
// refresh; only the enumerated metadata is overwritten.
func (s *Store) UpsertConnectedCalendar(ctx context.Context, c *ConnectedCalendar) error {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `
	INSERT INTO connected_calendars (` + calendarColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(account_id, external_id) DO UPDATE SET
		summary = excluded.summary,
		is_primary = excluded.is_primary,
		writable = excluded.writable,
		updated_at = excluded.updated_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		c.ID,
		c.AccountID,
		c.Provider,
		c.ExternalID,
		c.Summary,
		boolToInt(c.Primary),
		boolToInt(c.Writable),
		boolToInt(c.IsSynced),
		c.ChannelID,
		c.ResourceID,
		timeToNullString(c.ChannelExpiration),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connected calendar %s: %w", c.ExternalID, err)
	}
	return nil
}

// GetConnectedCalendar retrieves a calendar by (account, external id).
func (s *Store) GetConnectedCalendar(ctx context.Context, accountID, externalID string) (*ConnectedCalendar, error) {
	query := `SELECT ` + calendarColumns + ` FROM connected_calendars WHERE account_id = ? AND external_id = ?`
	c, err := scanCalendar(s.conn.QueryRowContext(ctx, query, accountID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connected calendar %s: %w", externalID, ErrNotFound)
	}
	return c, err
}

// FindCalendarByChannel resolves the calendar owning a webhook channel
// id. Inbound notifications with no owning row are dropped by the
// engine.
func (s *Store) FindCalendarByChannel(ctx context.Context, channelID string) (*ConnectedCalendar, error) {
	query := `SELECT ` + calendarColumns + ` FROM connected_calendars WHERE channel_id = ? LIMIT 1`
	c, err := scanCalendar(s.conn.QueryRowContext(ctx, query, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	return c, err
}

// ListConnectedCalendars returns every calendar for an account.
func (s *Store) ListConnectedCalendars(ctx context.Context, accountID string) ([]*ConnectedCalendar, error) {
	query := `SELECT ` + calendarColumns + ` FROM connected_calendars WHERE account_id = ? ORDER BY summary ASC`
	return s.queryCalendars(ctx, query, accountID)
}

// ListExpiringChannels returns calendars whose webhook channel expires
// before the deadline. Calendars without a channel are not included.
func (s *Store) ListExpiringChannels(ctx context.Context, deadline time.Time) ([]*ConnectedCalendar, error) {
	query := `
	SELECT ` + calendarColumns + `
	FROM connected_calendars
	WHERE channel_id != '' AND channel_expiration IS NOT NULL AND channel_expiration <= ?
	ORDER BY account_id ASC
	`
	return s.queryCalendars(ctx, query, formatTime(deadline))
}

// SetChannelState records an opened webhook channel on the calendar.
func (s *Store) SetChannelState(ctx context.Context, id, channelID, resourceID string, expiration time.Time) error {
	query := `
	UPDATE connected_calendars
	SET channel_id = ?, resource_id = ?, channel_expiration = ?, updated_at = ?
	WHERE id = ?
	`
	exp := expiration
	res, err := s.conn.ExecContext(ctx, query,
		channelID, resourceID, timeToNullString(&exp), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set channel state for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("connected calendar %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClearChannelState wipes the webhook channel fields. Idempotent.
func (s *Store) ClearChannelState(ctx context.Context, id string) error {
	query := `
	UPDATE connected_calendars
	SET channel_id = '', resource_id = '', channel_expiration = NULL, updated_at = ?
	WHERE id = ?
	`
	if _, err := s.conn.ExecContext(ctx, query, formatTime(time.Now()), id); err != nil {
		return fmt.Errorf("failed to clear channel state for %s: %w", id, err)
	}
	return nil
}

// SetCalendarSynced flips the per-calendar sync opt-in.
func (s *Store) SetCalendarSynced(ctx context.Context, id string, synced bool) error {
	query := `UPDATE connected_calendars SET is_synced = ?, updated_at = ? WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, boolToInt(synced), formatTime(time.Now()), id); err != nil {
		return fmt.Errorf("failed to set is_synced for %s: %w", id, err)
	}
	return nil
}

func (s *Store) queryCalendars(ctx context.Context, query string, args ...any) ([]*ConnectedCalendar, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connected calendars: %w", err)
	}
	defer rows.Close()

	var calendars []*ConnectedCalendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		calendars = append(calendars, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connected calendars: %w", err)
	}
	return calendars, nil
}

func scanCalendar(row rowScanner) (*ConnectedCalendar, error) {
	var c ConnectedCalendar
	var primary, writable, synced int
	var expiration sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&c.ID,
		&c.AccountID,
		&c.Provider,
		&c.ExternalID,
		&c.Summary,
		&primary,
		&writable,
		&synced,
		&c.ChannelID,
		&c.ResourceID,
		&expiration,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan connected calendar: %w", err)
	}

	c.Primary = primary != 0
	c.Writable = writable != 0
	c.IsSynced = synced != 0
	c.ChannelExpiration = nullStringToTime(expiration)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}
