package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Template is a stored prompt template: the system prompt a conversation is
// framed with, plus identity metadata.
type Template struct {
	// ID is the auto-assigned template identifier.
	ID int64
	// Name is the unique human-readable name.
	Name string
	// Description explains what the template is for.
	Description string
	// SystemPrompt is the system message injected at the head of every prompt.
	SystemPrompt string
	// CreatedAt is when the template was first stored.
	CreatedAt time.Time
	// UpdatedAt is when the template was last modified.
	UpdatedAt time.Time
}

// CreateTemplate inserts a template and returns its assigned id.
func (s *Store) CreateTemplate(ctx context.Context, name, description, systemPrompt string) (int64, error) {
	const q = `INSERT INTO prompt_templates (name, description, system_prompt, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, q, name, description, systemPrompt, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: create template %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: create template %q: last insert id: %w", name, err)
	}
	return id, nil
}

// GetTemplate returns the template with the given id, or ErrNotFound.
func (s *Store) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	const q = `SELECT id, name, description, system_prompt, created_at, updated_at
FROM prompt_templates WHERE id = ?`
	return s.scanTemplate(s.db.QueryRowContext(ctx, q, id))
}

// GetTemplateByName returns the template with the given name, or ErrNotFound.
func (s *Store) GetTemplateByName(ctx context.Context, name string) (*Template, error) {
	const q = `SELECT id, name, description, system_prompt, created_at, updated_at
FROM prompt_templates WHERE name = ?`
	return s.scanTemplate(s.db.QueryRowContext(ctx, q, name))
}

// UpdateTemplate replaces a template's prompt and metadata. Returns
// ErrNotFound if the id does not exist.
func (s *Store) UpdateTemplate(ctx context.Context, id int64, name, description, systemPrompt string) error {
	const q = `UPDATE prompt_templates SET name = ?, description = ?, system_prompt = ?, updated_at = ?
WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, name, description, systemPrompt, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: update template %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update template %d: rows affected: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTemplate removes a template. Returns false (no error) if the id
// did not exist.
func (s *Store) DeleteTemplate(ctx context.Context, id int64) (bool, error) {
	const q = `DELETE FROM prompt_templates WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("store: delete template %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete template %d: rows affected: %w", id, err)
	}
	return n > 0, nil
}

// ListTemplates returns all templates ordered by id ascending.
func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	const q = `SELECT id, name, description, system_prompt, created_at, updated_at
FROM prompt_templates ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list templates: %w", err)
	}
	defer rows.Close()

	var tmpls []Template
	for rows.Next() {
		var (
			t       Template
			created int64
			updated int64
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.SystemPrompt, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan template: %w", err)
		}
		t.CreatedAt = time.Unix(created, 0)
		t.UpdatedAt = time.Unix(updated, 0)
		tmpls = append(tmpls, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate templates: %w", err)
	}
	return tmpls, nil
}

// scanTemplate scans a single template row, mapping sql.ErrNoRows to ErrNotFound.
func (s *Store) scanTemplate(row *sql.Row) (*Template, error) {
	var (
		t       Template
		created int64
		updated int64
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.SystemPrompt, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan template: %w", err)
	}
	t.CreatedAt = time.Unix(created, 0)
	t.UpdatedAt = time.Unix(updated, 0)
	return &t, nil
}
