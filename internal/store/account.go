package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Account is the authenticated owner of tasks, projects, and one
// remote calendar credential.
//
// DedicatedCalendarID and SyncEnabled are the legacy single-calendar
// sync model; per-calendar state lives in connected_calendars. The
// fields are kept because provisioning still designates exactly one
// calendar as the push target.
type Account struct {
	ID           string
	Email        string
	AccessToken  string
	RefreshToken string
	TokenExpiry  *time.Time

	DedicatedCalendarID string
	SyncEnabled         bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := `
	INSERT INTO accounts (
		id, email, access_token, refresh_token, token_expiry,
		dedicated_calendar_id, sync_enabled, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		a.ID,
		a.Email,
		a.AccessToken,
		a.RefreshToken,
		timeToNullString(a.TokenExpiry),
		a.DedicatedCalendarID,
		boolToInt(a.SyncEnabled),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount retrieves an account by id. Returns ErrNotFound if absent.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `
	SELECT id, email, access_token, refresh_token, token_expiry,
	       dedicated_calendar_id, sync_enabled, created_at, updated_at
	FROM accounts
	WHERE id = ?
	`

	row := s.conn.QueryRowContext(ctx, query, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListSyncEnabledAccounts returns every account with sync enabled.
func (s *Store) ListSyncEnabledAccounts(ctx context.Context) ([]*Account, error) {
	query := `
	SELECT id, email, access_token, refresh_token, token_expiry,
	       dedicated_calendar_id, sync_enabled, created_at, updated_at
	FROM accounts
	WHERE sync_enabled = 1
	ORDER BY created_at ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync-enabled accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// UpdateCredentials stores fresh token material for the account.
func (s *Store) UpdateCredentials(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error {
	query := `
	UPDATE accounts
	SET access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = ?
	WHERE id = ?
	`

	res, err := s.conn.ExecContext(ctx, query,
		accessToken, refreshToken, timeToNullString(expiry),
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update credentials for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClearCredentials wipes stored token material, forcing the account
// through re-authentication. Called when a refresh attempt fails.
func (s *Store) ClearCredentials(ctx context.Context, id string) error {
	query := `
	UPDATE accounts
	SET access_token = '', refresh_token = '', token_expiry = NULL, updated_at = ?
	WHERE id = ?
	`
	if _, err := s.conn.ExecContext(ctx, query, formatTime(time.Now()), id); err != nil {
		return fmt.Errorf("failed to clear credentials for %s: %w", id, err)
	}
	return nil
}

// SetDedicatedCalendar assigns the dedicated calendar id and enables
// sync, but only if the account's stored id is currently unset or
// already equal to calendarID. Returns false when another writer won
// the race and set a different id; callers must then re-read the
// account and adopt its state instead of overwriting it.
func (s *Store) SetDedicatedCalendar(ctx context.Context, id, calendarID string) (bool, error) {
	query := `
	UPDATE accounts
	SET dedicated_calendar_id = ?, sync_enabled = 1, updated_at = ?
	WHERE id = ? AND (dedicated_calendar_id = '' OR dedicated_calendar_id = ?)
	`

	res, err := s.conn.ExecContext(ctx, query,
		calendarID, formatTime(time.Now()), id, calendarID)
	if err != nil {
		return false, fmt.Errorf("failed to set dedicated calendar for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// ClearDedicatedCalendar resets the dedicated calendar id and disables
// sync. Safe to call when nothing was set.
func (s *Store) ClearDedicatedCalendar(ctx context.Context, id string) error {
	query := `
	UPDATE accounts
	SET dedicated_calendar_id = '', sync_enabled = 0, updated_at = ?
	WHERE id = ?
	`
	if _, err := s.conn.ExecContext(ctx, query, formatTime(time.Now()), id); err != nil {
		return fmt.Errorf("failed to clear dedicated calendar for %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var expiry sql.NullString
	var syncEnabled int
	var createdAt, updatedAt string

	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.AccessToken,
		&a.RefreshToken,
		&expiry,
		&a.DedicatedCalendarID,
		&syncEnabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	a.TokenExpiry = nullStringToTime(expiry)
	a.SyncEnabled = syncEnabled != 0
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
