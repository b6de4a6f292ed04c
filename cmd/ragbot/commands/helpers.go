package commands

import (
	"context"
	"fmt"

	"github.com/ragbot0/ragbot/internal/chunker"
	"github.com/ragbot0/ragbot/internal/config"
	"github.com/ragbot0/ragbot/internal/embedder"
	"github.com/ragbot0/ragbot/internal/prompt"
	"github.com/ragbot0/ragbot/internal/rag"
	"github.com/ragbot0/ragbot/internal/store"
)

// Retrieval defaults applied when the environment does not override them.
const (
	defaultTopK      = 3
	defaultThreshold = 0.3
	defaultChunkSize = 500
	defaultOverlap   = 50
)

// openStore opens the document database at RAGBOT_DB, falling back to the
// default path under the user's home directory.
func openStore() (*store.Store, error) {
	path := config.Env("RAGBOT_DB", "")
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

// buildRetrieval wires the document store and retriever from the
// environment: chunking parameters, embedding backend, and ranking knobs.
func buildRetrieval(s *store.Store, metrics *rag.Metrics) (*rag.DocumentStore, *rag.Retriever, error) {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("initialise embedder: %w", err)
	}

	splitter := chunker.New(
		config.EnvInt("RETRIEVAL_CHUNK_SIZE", defaultChunkSize),
		config.EnvInt("RETRIEVAL_CHUNK_OVERLAP", defaultOverlap),
	)
	docs := rag.NewDocumentStore(s, splitter)
	retriever := rag.NewRetriever(docs, emb,
		config.EnvInt("RETRIEVAL_TOP_K", defaultTopK),
		config.EnvFloat("RETRIEVAL_THRESHOLD", defaultThreshold),
		metrics,
	)
	return docs, retriever, nil
}

// resolveTemplate returns the session template: CHAT_TEMPLATE_ID when set,
// otherwise the default template.
func resolveTemplate(ctx context.Context, prompts *prompt.Manager) (*store.Template, error) {
	if id := config.EnvInt("CHAT_TEMPLATE_ID", 0); id > 0 {
		return prompts.Get(ctx, int64(id))
	}
	return prompts.Default(ctx)
}
