package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task lifecycle statuses.
const (
	TaskStatusBacklog = "backlog"
	TaskStatusTodo    = "todo"
	TaskStatusDone    = "done"
)

// Task is one local task record.
//
// ScheduledDate is a date-only string (2006-01-02); ScheduledTime is an
// optional time-of-day (15:04) on that date. EndAt, when set, is an
// explicit end instant overriding the default event duration. Deadline
// is independent of the calendar duration entirely.
//
// RemoteEventID is the deprecated direct event link kept for old rows;
// task_mappings is authoritative.
type Task struct {
	ID          string
	AccountID   string
	ProjectID   string
	Title       string
	Description string

	ScheduledDate string
	ScheduledTime string
	EndAt         *time.Time
	Deadline      *time.Time

	Urgent    bool
	Important bool
	Status    string
	Completed bool

	RemoteEventID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StartAt resolves the task's schedulable start instant, combining the
// date with the optional time-of-day. Returns the zero time when the
// task has no scheduled date.
func (t *Task) StartAt() time.Time {
	if t.ScheduledDate == "" {
		return time.Time{}
	}
	layout := "2006-01-02"
	value := t.ScheduledDate
	if t.ScheduledTime != "" {
		layout = "2006-01-02 15:04"
		value = t.ScheduledDate + " " + t.ScheduledTime
	}
	at, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return at
}

// AllDay reports whether the task is scheduled without a time-of-day.
func (t *Task) AllDay() bool {
	return t.ScheduledDate != "" && t.ScheduledTime == ""
}

const taskColumns = `
	id, account_id, project_id, title, description,
	scheduled_date, scheduled_time, end_time, deadline,
	urgent, important, status, completed, remote_event_id,
	created_at, updated_at`

// CreateTask inserts a new task.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskStatusTodo
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	query := `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		t.ID,
		t.AccountID,
		nullableString(t.ProjectID),
		t.Title,
		t.Description,
		nullableString(t.ScheduledDate),
		nullableString(t.ScheduledTime),
		timeToNullString(t.EndAt),
		timeToNullString(t.Deadline),
		boolToInt(t.Urgent),
		boolToInt(t.Important),
		t.Status,
		boolToInt(t.Completed),
		t.RemoteEventID,
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task by id. Returns ErrNotFound if absent.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	t, err := scanTask(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// UpdateTask persists all mutable fields of the task.
func (s *Store) UpdateTask(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now().UTC()

	query := `
	UPDATE tasks SET
		project_id = ?, title = ?, description = ?,
		scheduled_date = ?, scheduled_time = ?, end_time = ?, deadline = ?,
		urgent = ?, important = ?, status = ?, completed = ?,
		remote_event_id = ?, updated_at = ?
	WHERE id = ?
	`

	res, err := s.conn.ExecContext(ctx, query,
		nullableString(t.ProjectID),
		t.Title,
		t.Description,
		nullableString(t.ScheduledDate),
		nullableString(t.ScheduledTime),
		timeToNullString(t.EndAt),
		timeToNullString(t.Deadline),
		boolToInt(t.Urgent),
		boolToInt(t.Important),
		t.Status,
		boolToInt(t.Completed),
		t.RemoteEventID,
		formatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// DeleteTask removes a task. Idempotent.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// MarkTaskDone forces the task into terminal state. Used by pull
// reconciliation: a remotely deleted event completes its task, it
// never erases it.
func (s *Store) MarkTaskDone(ctx context.Context, id string) error {
	query := `
	UPDATE tasks SET status = ?, completed = 1, updated_at = ?
	WHERE id = ?
	`
	if _, err := s.conn.ExecContext(ctx, query, TaskStatusDone, formatTime(time.Now()), id); err != nil {
		return fmt.Errorf("failed to mark task %s done: %w", id, err)
	}
	return nil
}

// ListTasks returns all tasks for an account ordered by creation time.
func (s *Store) ListTasks(ctx context.Context, accountID string) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE account_id = ? ORDER BY created_at ASC`
	return s.queryTasks(ctx, query, accountID)
}

// ListMappedTasks returns every task of the account that has a mapping
// for the given provider. Used by the full push after provisioning.
func (s *Store) ListMappedTasks(ctx context.Context, accountID, provider string) ([]*Task, error) {
	query := `
	SELECT ` + qualifyTaskColumns("t") + `
	FROM tasks t
	JOIN task_mappings m ON m.task_id = t.id
	WHERE t.account_id = ? AND m.provider = ?
	ORDER BY t.created_at ASC
	`
	return s.queryTasks(ctx, query, accountID, provider)
}

// FindTaskByTitleAndDate finds an account's task by exact title and
// scheduled date. This heuristic exists to avoid re-importing
// duplicates when an account disconnects (wiping mappings) and later
// reconnects to the same remote events.
func (s *Store) FindTaskByTitleAndDate(ctx context.Context, accountID, title, date string) (*Task, error) {
	query := `
	SELECT ` + taskColumns + `
	FROM tasks
	WHERE account_id = ? AND title = ? AND scheduled_date = ?
	ORDER BY created_at ASC
	LIMIT 1
	`
	t, err := scanTask(s.conn.QueryRowContext(ctx, query, accountID, title, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task titled %q on %s: %w", title, date, ErrNotFound)
	}
	return t, err
}

// FindTaskByRemoteEventID looks a task up by the deprecated direct
// event-id link.
func (s *Store) FindTaskByRemoteEventID(ctx context.Context, accountID, eventID string) (*Task, error) {
	query := `
	SELECT ` + taskColumns + `
	FROM tasks
	WHERE account_id = ? AND remote_event_id = ?
	LIMIT 1
	`
	t, err := scanTask(s.conn.QueryRowContext(ctx, query, accountID, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task for event %s: %w", eventID, ErrNotFound)
	}
	return t, err
}

// ClearRemoteEventLinks strips the deprecated direct event-id field
// from all of an account's tasks. Part of disconnect.
func (s *Store) ClearRemoteEventLinks(ctx context.Context, accountID string) error {
	query := `
	UPDATE tasks SET remote_event_id = '', updated_at = ?
	WHERE account_id = ? AND remote_event_id != ''
	`
	if _, err := s.conn.ExecContext(ctx, query, formatTime(time.Now()), accountID); err != nil {
		return fmt.Errorf("failed to clear remote event links: %w", err)
	}
	return nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var projectID, scheduledDate, scheduledTime, endAt, deadline sql.NullString
	var urgent, important, completed int
	var createdAt, updatedAt string

	err := row.Scan(
		&t.ID,
		&t.AccountID,
		&projectID,
		&t.Title,
		&t.Description,
		&scheduledDate,
		&scheduledTime,
		&endAt,
		&deadline,
		&urgent,
		&important,
		&t.Status,
		&completed,
		&t.RemoteEventID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.ProjectID = projectID.String
	t.ScheduledDate = scheduledDate.String
	t.ScheduledTime = scheduledTime.String
	t.EndAt = nullStringToTime(endAt)
	t.Deadline = nullStringToTime(deadline)
	t.Urgent = urgent != 0
	t.Important = important != 0
	t.Completed = completed != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func qualifyTaskColumns(alias string) string {
	return alias + `.id, ` + alias + `.account_id, ` + alias + `.project_id, ` +
		alias + `.title, ` + alias + `.description, ` +
		alias + `.scheduled_date, ` + alias + `.scheduled_time, ` +
		alias + `.end_time, ` + alias + `.deadline, ` +
		alias + `.urgent, ` + alias + `.important, ` + alias + `.status, ` +
		alias + `.completed, ` + alias + `.remote_event_id, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
