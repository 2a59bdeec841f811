package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InboxProjectName is the reserved name of the default project that
// holds tasks imported from events with no project association.
const InboxProjectName = "Inbox"

// Project groups tasks under one account. Names are unique per owner.
type Project struct {
	ID              string
	AccountID       string
	Name            string
	Color           string
	ExternalColorID string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = "active"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
	INSERT INTO projects (
		id, account_id, name, color, external_color_id, status,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		p.ID, p.AccountID, p.Name, p.Color, p.ExternalColorID, p.Status,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create project %s: %w", p.Name, err)
	}
	return nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	query := `
	SELECT id, account_id, name, color, external_color_id, status,
	       created_at, updated_at
	FROM projects
	WHERE id = ?
	`
	p, err := scanProject(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, err
}

// GetProjectByName retrieves a project by (account, name).
func (s *Store) GetProjectByName(ctx context.Context, accountID, name string) (*Project, error) {
	query := `
	SELECT id, account_id, name, color, external_color_id, status,
	       created_at, updated_at
	FROM projects
	WHERE account_id = ? AND name = ?
	`
	p, err := scanProject(s.conn.QueryRowContext(ctx, query, accountID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", name, ErrNotFound)
	}
	return p, err
}

// EnsureInboxProject returns the account's Inbox project, lazily
// creating it on first use. A concurrent create losing the UNIQUE race
// falls back to reading the winner's row.
func (s *Store) EnsureInboxProject(ctx context.Context, accountID string) (*Project, error) {
	p, err := s.GetProjectByName(ctx, accountID, InboxProjectName)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	inbox := &Project{
		AccountID: accountID,
		Name:      InboxProjectName,
		Status:    "active",
	}
	if err := s.CreateProject(ctx, inbox); err != nil {
		// Lost the creation race; the row exists now.
		if existing, gerr := s.GetProjectByName(ctx, accountID, InboxProjectName); gerr == nil {
			return existing, nil
		}
		return nil, err
	}
	return inbox, nil
}

// ListProjects returns all projects for an account ordered by name.
func (s *Store) ListProjects(ctx context.Context, accountID string) ([]*Project, error) {
	query := `
	SELECT id, account_id, name, color, external_color_id, status,
	       created_at, updated_at
	FROM projects
	WHERE account_id = ?
	ORDER BY name ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID, &p.AccountID, &p.Name, &p.Color, &p.ExternalColorID,
		&p.Status, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}

	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
