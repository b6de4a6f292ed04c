package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ragbot0/ragbot/internal/chunker"
	"github.com/ragbot0/ragbot/internal/logging"
	"github.com/ragbot0/ragbot/internal/store"
)

// DocumentStore exposes stored documents as chunk sequences. It owns the
// splitter, so every caller sees the same deterministic chunking.
type DocumentStore struct {
	store    *store.Store
	splitter *chunker.Splitter
}

// NewDocumentStore wraps a persistence store with a configured splitter.
func NewDocumentStore(s *store.Store, splitter *chunker.Splitter) *DocumentStore {
	return &DocumentStore{store: s, splitter: splitter}
}

// AddDocument persists a document and returns its id. Chunks are derived
// on read, so no chunking happens here.
func (d *DocumentStore) AddDocument(ctx context.Context, content, title string) (int64, error) {
	return d.store.CreateDocument(ctx, content, title)
}

// UpdateDocument replaces a document's content and title.
func (d *DocumentStore) UpdateDocument(ctx context.Context, id int64, content, title string) error {
	return d.store.UpdateDocument(ctx, id, content, title)
}

// DeleteDocument removes a document, reporting whether it existed.
func (d *DocumentStore) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	return d.store.DeleteDocument(ctx, id)
}

// GetDocument returns a stored document by id.
func (d *DocumentStore) GetDocument(ctx context.Context, id int64) (*store.Document, error) {
	return d.store.GetDocument(ctx, id)
}

// ListDocuments returns all documents in listing order (id ascending).
func (d *DocumentStore) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return d.store.ListDocuments(ctx)
}

// SearchDocuments returns documents whose title or content contains keyword.
func (d *DocumentStore) SearchDocuments(ctx context.Context, keyword string) ([]store.Document, error) {
	return d.store.SearchDocuments(ctx, keyword)
}

// DocumentChunks returns the chunk sequence for one document. A missing id
// is not an error: it logs a warning and returns an empty sequence, so
// callers iterating id lists keep going.
func (d *DocumentStore) DocumentChunks(ctx context.Context, id int64) ([]Chunk, error) {
	doc, err := d.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		logging.FromContext(ctx).Warn("rag: document not found, skipping",
			slog.Int64("doc_id", id))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rag: load document %d: %w", id, err)
	}
	return d.chunksOf(doc), nil
}

// AllChunks returns the chunks of every stored document, documents in
// listing order and chunks in document order within each.
func (d *DocumentStore) AllChunks(ctx context.Context) ([]Chunk, error) {
	docs, err := d.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("rag: list documents: %w", err)
	}
	var chunks []Chunk
	for i := range docs {
		chunks = append(chunks, d.chunksOf(&docs[i])...)
	}
	return chunks, nil
}

// chunksOf splits one document into chunk values carrying citation metadata.
func (d *DocumentStore) chunksOf(doc *store.Document) []Chunk {
	parts := d.splitter.Split(doc.Content)
	chunks := make([]Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, Chunk{
			DocID:   doc.ID,
			Index:   i,
			Content: p,
			Title:   doc.Title,
			Source:  fmt.Sprintf("doc_%d", doc.ID),
		})
	}
	return chunks
}
