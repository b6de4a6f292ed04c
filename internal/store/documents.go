package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Document is a stored full-text document. The retrieval layer derives
// chunks from Content on demand; chunks themselves are never persisted.
type Document struct {
	// ID is the auto-assigned document identifier.
	ID int64
	// Title is the optional human-readable title.
	Title string
	// Content is the full text body.
	Content string
	// CreatedAt is when the document was first stored.
	CreatedAt time.Time
	// UpdatedAt is when the document was last modified.
	UpdatedAt time.Time
}

// CreateDocument inserts a document and returns its assigned id.
func (s *Store) CreateDocument(ctx context.Context, content, title string) (int64, error) {
	const q = `INSERT INTO documents (title, content, created_at, updated_at) VALUES (?, ?, ?, ?)`
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, q, title, content, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: create document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: create document: last insert id: %w", err)
	}
	return id, nil
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	const q = `SELECT id, COALESCE(title, ''), content, created_at, updated_at FROM documents WHERE id = ?`
	var (
		doc     Document
		created int64
		updated int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&doc.ID, &doc.Title, &doc.Content, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document %d: %w", id, err)
	}
	doc.CreatedAt = time.Unix(created, 0)
	doc.UpdatedAt = time.Unix(updated, 0)
	return &doc, nil
}

// UpdateDocument replaces a document's content and title. Returns ErrNotFound
// if the id does not exist.
func (s *Store) UpdateDocument(ctx context.Context, id int64, content, title string) error {
	const q = `UPDATE documents SET title = ?, content = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, title, content, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: update document %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update document %d: rows affected: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document. Returns false (no error) if the id
// did not exist.
func (s *Store) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	const q = `DELETE FROM documents WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("store: delete document %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete document %d: rows affected: %w", id, err)
	}
	return n > 0, nil
}

// ListDocuments returns all documents ordered by id ascending. This listing
// order is the corpus enumeration order used to seed the retrieval cache.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	const q = `SELECT id, COALESCE(title, ''), content, created_at, updated_at FROM documents ORDER BY id`
	return s.queryDocuments(ctx, q)
}

// SearchDocuments returns documents whose title or content contains keyword,
// ordered by id ascending.
func (s *Store) SearchDocuments(ctx context.Context, keyword string) ([]Document, error) {
	const q = `SELECT id, COALESCE(title, ''), content, created_at, updated_at FROM documents
WHERE title LIKE ? OR content LIKE ? ORDER BY id`
	pattern := "%" + keyword + "%"
	return s.queryDocuments(ctx, q, pattern, pattern)
}

// queryDocuments runs a SELECT returning full document rows.
func (s *Store) queryDocuments(ctx context.Context, q string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc     Document
			created int64
			updated int64
		)
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan document: %w", err)
		}
		doc.CreatedAt = time.Unix(created, 0)
		doc.UpdatedAt = time.Unix(updated, 0)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate documents: %w", err)
	}
	return docs, nil
}
