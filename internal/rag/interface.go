// Package rag implements the retrieval core: chunk derivation from stored
// documents, embedding of chunks and queries, and cosine-similarity ranking
// over an in-memory embedding cache.
package rag

import "context"

// Chunk is one retrievable unit of text derived from a stored document.
type Chunk struct {
	// DocID is the id of the document the chunk came from.
	DocID int64
	// Index is the chunk's position within its document, starting at 0.
	Index int
	// Content is the chunk text.
	Content string
	// Title is the parent document's title, carried for citation.
	Title string
	// Source is a stable citation tag for the parent document ("doc_<id>").
	Source string
}

// ScoredChunk is a chunk paired with its similarity to a query.
type ScoredChunk struct {
	Chunk
	// Similarity is the cosine similarity in [-1, 1]; higher is more similar.
	Similarity float64
}

// Embedder converts text into vectors. Implementations must return one
// vector per input, all of equal dimension, in input order.
type Embedder interface {
	// Embed returns the embedding for each text. A non-nil error means no
	// usable vectors were produced for the whole batch.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the vector size this embedder produces, used to shape
	// fallback vectors when individual embeddings fail.
	Dimensions() int
}

// EmbeddingError wraps a failure from the embedding backend.
type EmbeddingError struct {
	// Op describes what was being embedded ("query", "corpus").
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *EmbeddingError) Error() string {
	return "rag: embed " + e.Op + ": " + e.Err.Error()
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
