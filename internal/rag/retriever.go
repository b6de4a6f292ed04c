package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ragbot0/ragbot/internal/logging"
)

// Metrics holds the retrieval counters, registered against an injectable
// registry so tests can use their own.
type Metrics struct {
	// Queries counts similarity queries served.
	Queries prometheus.Counter
	// CacheRebuilds counts full embedding-cache rebuilds.
	CacheRebuilds prometheus.Counter
	// EmbedFallbacks counts chunks that fell back to a zero vector after
	// their embedding failed.
	EmbedFallbacks prometheus.Counter
}

// NewMetrics registers the retrieval counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Queries: factory.NewCounter(prometheus.CounterOpts{
			Name: "ragbot_retrieval_queries_total",
			Help: "Total similarity queries served.",
		}),
		CacheRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "ragbot_retrieval_cache_rebuilds_total",
			Help: "Total embedding cache rebuilds.",
		}),
		EmbedFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "ragbot_retrieval_embed_fallbacks_total",
			Help: "Total chunks embedded as zero vectors after a backend failure.",
		}),
	}
}

// snapshot is one immutable generation of the embedding cache. chunks[i]
// corresponds to vectors[i].
type snapshot struct {
	chunks  []Chunk
	vectors [][]float32
}

// Retriever ranks document chunks against a query by cosine similarity over
// an in-memory embedding cache.
//
// The cache is built lazily on first query and only changes through
// UpdateCache or ClearCache: document writes do NOT invalidate it, so
// callers that mutate documents must refresh explicitly. A published
// snapshot is immutable, which keeps concurrent queries consistent while a
// rebuild is in flight.
type Retriever struct {
	docs     *DocumentStore
	embedder Embedder
	topK     int
	// threshold is the minimum similarity (inclusive) for a chunk to rank.
	threshold float64
	metrics   *Metrics

	// rebuildMu serialises cache rebuilds; readers go through cache alone.
	rebuildMu sync.Mutex
	cache     atomic.Pointer[snapshot]
}

// NewRetriever constructs a Retriever. topK caps the result count; zero
// (or negative) means no results ever rank, honoring the cap as given
// rather than substituting a default. metrics may be nil to disable
// counters.
func NewRetriever(docs *DocumentStore, embedder Embedder, topK int, threshold float64, metrics *Metrics) *Retriever {
	if topK < 0 {
		topK = 0
	}
	return &Retriever{
		docs:      docs,
		embedder:  embedder,
		topK:      topK,
		threshold: threshold,
		metrics:   metrics,
	}
}

// Query returns the top-ranked chunks for text, most similar first. scope,
// when non-empty, restricts ranking to the listed documents; scoped queries
// gather and embed their chunk set per call instead of reading the cache,
// so they always see the current corpus. An empty corpus (or a scope that
// matches no chunks) yields an empty result without embedding the query.
func (r *Retriever) Query(ctx context.Context, text string, scope []int64) ([]ScoredChunk, error) {
	if r.metrics != nil {
		r.metrics.Queries.Inc()
	}

	var (
		chunks  []Chunk
		vectors [][]float32
	)
	if len(scope) > 0 {
		var err error
		chunks, vectors, err = r.scopedSet(ctx, scope)
		if err != nil {
			return nil, err
		}
	} else {
		snap := r.cache.Load()
		if snap == nil {
			var err error
			snap, err = r.rebuild(ctx)
			if err != nil {
				return nil, err
			}
		}
		chunks, vectors = snap.chunks, snap.vectors
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, &EmbeddingError{Op: "query", Err: err}
	}
	if len(vecs) != 1 {
		return nil, &EmbeddingError{Op: "query", Err: fmt.Errorf("got %d vectors for one input", len(vecs))}
	}
	query := vecs[0]

	var scored []ScoredChunk
	for i, c := range chunks {
		sim := Cosine(query, vectors[i])
		if sim >= r.threshold {
			scored = append(scored, ScoredChunk{Chunk: c, Similarity: sim})
		}
	}

	// Stable sort keeps corpus order among equal scores, so results are
	// deterministic for a fixed cache generation.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}
	return scored, nil
}

// scopedSet gathers the chunks of the scoped documents in scope order and
// embeds them for this call only. Ids that do not exist contribute nothing.
func (r *Retriever) scopedSet(ctx context.Context, scope []int64) ([]Chunk, [][]float32, error) {
	var chunks []Chunk
	for _, id := range scope {
		cs, err := r.docs.DocumentChunks(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		chunks = append(chunks, cs...)
	}
	if len(chunks) == 0 {
		return nil, nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := r.embedCorpus(ctx, texts)
	if err != nil {
		return nil, nil, err
	}
	return chunks, vectors, nil
}

// UpdateCache rebuilds the embedding cache from the current document set
// and publishes the new generation.
func (r *Retriever) UpdateCache(ctx context.Context) error {
	_, err := r.rebuild(ctx)
	return err
}

// ClearCache drops the cache. The next query rebuilds it from scratch.
func (r *Retriever) ClearCache() {
	r.cache.Store(nil)
}

// CachedChunks reports the size of the current cache generation, 0 when
// the cache is empty or cleared.
func (r *Retriever) CachedChunks() int {
	if snap := r.cache.Load(); snap != nil {
		return len(snap.chunks)
	}
	return 0
}

// rebuild embeds the full corpus and atomically publishes a new snapshot.
func (r *Retriever) rebuild(ctx context.Context) (*snapshot, error) {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	chunks, err := r.docs.AllChunks(ctx)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{chunks: chunks}
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := r.embedCorpus(ctx, texts)
		if err != nil {
			return nil, err
		}
		snap.vectors = vectors
	}

	r.cache.Store(snap)
	if r.metrics != nil {
		r.metrics.CacheRebuilds.Inc()
	}
	logging.FromContext(ctx).Info("rag: embedding cache rebuilt",
		slog.Int("chunks", len(snap.chunks)))
	return snap, nil
}

// embedCorpus embeds all chunk texts. A batch failure degrades to per-chunk
// embedding; a chunk that still fails gets a zero vector and stays in the
// cache, so retrieval keeps working with whatever vectors survive.
func (r *Retriever) embedCorpus(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := r.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) == len(texts) {
		return vectors, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &EmbeddingError{Op: "corpus", Err: ctxErr}
	}

	log := logging.FromContext(ctx)
	log.Warn("rag: batch embedding failed, degrading to per-chunk",
		slog.Any("error", err), slog.Int("chunks", len(texts)))

	dims := r.embedder.Dimensions()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &EmbeddingError{Op: "corpus", Err: ctxErr}
		}
		vecs, err := r.embedder.Embed(ctx, []string{t})
		if err != nil || len(vecs) != 1 {
			if r.metrics != nil {
				r.metrics.EmbedFallbacks.Inc()
			}
			log.Warn("rag: chunk embedding failed, using zero vector",
				slog.Int("chunk", i), slog.Any("error", err))
			out[i] = make([]float32, dims)
			continue
		}
		out[i] = vecs[0]
	}
	return out, nil
}
