package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeEmbedder returns canned vectors keyed by exact text. Unknown texts
// embed as unit vectors along the first axis unless marked failing.
type fakeEmbedder struct {
	dims      int
	vectors   map[string][]float32
	failTexts map[string]bool
	// failBatch makes multi-text calls fail, forcing per-item degradation.
	failBatch bool
	calls     int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failBatch && len(texts) > 1 {
		return nil, errors.New("batch refused")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failTexts[t] {
			return nil, fmt.Errorf("embed %q refused", t)
		}
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, f.dims)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

// axis returns a unit vector along the given axis in a 4-dim space.
func axis(i int) []float32 {
	v := make([]float32, 4)
	v[i] = 1
	return v
}

// blend returns a 4-dim vector with the given first two components.
func blend(x, y float32) []float32 {
	return []float32{x, y, 0, 0}
}

func newTestRetriever(t *testing.T, emb *fakeEmbedder, topK int, threshold float64) (*Retriever, *DocumentStore) {
	t.Helper()
	docs := openTestDocs(t, 1000, 0)
	return NewRetriever(docs, emb, topK, threshold, nil), docs
}

func Test_Retriever_RanksBySimilarityDescending(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4, vectors: map[string][]float32{
		"exact match":  blend(1, 0),
		"close match":  blend(0.9, 0.5),
		"unrelated":    axis(2),
		"the question": blend(1, 0),
	}}
	r, docs := newTestRetriever(t, emb, 10, 0.1)
	ctx := context.Background()

	for _, body := range []string{"unrelated", "close match", "exact match"} {
		if _, err := docs.AddDocument(ctx, body, ""); err != nil {
			t.Fatalf("add document: %v", err)
		}
	}

	got, err := r.Query(ctx, "the question", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results %v, want 2 (unrelated is below threshold)", len(got), got)
	}
	if got[0].Content != "exact match" || got[1].Content != "close match" {
		t.Errorf("order = [%q, %q], want [exact match, close match]", got[0].Content, got[1].Content)
	}
	if got[0].Similarity < got[1].Similarity {
		t.Errorf("similarities not descending: %v then %v", got[0].Similarity, got[1].Similarity)
	}
}

func Test_Retriever_ThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	// cos = 0.6 exactly for the stored chunk against the query.
	emb := &fakeEmbedder{dims: 4, vectors: map[string][]float32{
		"stored":   blend(0.6, 0.8),
		"question": blend(1, 0),
	}}
	r, docs := newTestRetriever(t, emb, 10, 0.6)
	ctx := context.Background()
	if _, err := docs.AddDocument(ctx, "stored", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}

	got, err := r.Query(ctx, "question", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("chunk scoring exactly at threshold must be included, got %d results", len(got))
	}
}

func Test_Retriever_TopKCapsResults(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4}
	r, docs := newTestRetriever(t, emb, 2, 0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := docs.AddDocument(ctx, fmt.Sprintf("chunk number %d", i), ""); err != nil {
			t.Fatalf("add document: %v", err)
		}
	}

	got, err := r.Query(ctx, "anything", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d results, want top-k cap of 2", len(got))
	}
}

func Test_Retriever_ZeroTopKReturnsNothing(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4}
	r, docs := newTestRetriever(t, emb, 0, 0)
	ctx := context.Background()
	if _, err := docs.AddDocument(ctx, "some chunk", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}

	got, err := r.Query(ctx, "query", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("top-k of 0 returned %d results, want 0", len(got))
	}
}

func Test_Retriever_TiesKeepCorpusOrder(t *testing.T) {
	t.Parallel()

	// All chunks embed identically, so every similarity ties at 1.
	emb := &fakeEmbedder{dims: 4}
	r, docs := newTestRetriever(t, emb, 10, 0)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 4; i++ {
		id, err := docs.AddDocument(ctx, fmt.Sprintf("tied chunk %d", i), "")
		if err != nil {
			t.Fatalf("add document: %v", err)
		}
		ids = append(ids, id)
	}

	got, err := r.Query(ctx, "query", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d results, want 4", len(got))
	}
	for i, sc := range got {
		if sc.DocID != ids[i] {
			t.Errorf("result %d from doc %d, want corpus order doc %d", i, sc.DocID, ids[i])
		}
	}
}

func Test_Retriever_ScopeRestrictsDocuments(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4}
	r, docs := newTestRetriever(t, emb, 10, 0)
	ctx := context.Background()

	id1, _ := docs.AddDocument(ctx, "inside scope", "")
	id2, _ := docs.AddDocument(ctx, "outside scope", "")
	_ = id2

	got, err := r.Query(ctx, "query", []int64{id1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].DocID != id1 {
		t.Fatalf("scoped query = %v, want only doc %d", got, id1)
	}
}

func Test_Retriever_ScopedQueryBypassesCache(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4}
	r, docs := newTestRetriever(t, emb, 10, 0)
	ctx := context.Background()

	if _, err := docs.AddDocument(ctx, "cached document", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}
	if _, err := r.Query(ctx, "query", nil); err != nil {
		t.Fatalf("unscoped query: %v", err)
	}

	// The late document is invisible to the cache but a scoped query must
	// still see it: scoped chunk sets are gathered and embedded per call.
	lateID, err := docs.AddDocument(ctx, "late document", "")
	if err != nil {
		t.Fatalf("add document: %v", err)
	}
	got, err := r.Query(ctx, "query", []int64{lateID})
	if err != nil {
		t.Fatalf("scoped query: %v", err)
	}
	if len(got) != 1 || got[0].DocID != lateID {
		t.Fatalf("scoped query = %v, want the late doc %d", got, lateID)
	}
	if r.CachedChunks() != 1 {
		t.Errorf("scoped query changed the cache: %d chunks, want 1", r.CachedChunks())
	}
}

func Test_Retriever_ScopeWithNoChunksIsEmpty(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4}
	r, docs := newTestRetriever(t, emb, 10, 0)
	ctx := context.Background()
	if _, err := docs.AddDocument(ctx, "some document", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}

	got, err := r.Query(ctx, "query", []int64{9999})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != nil {
		t.Errorf("scope matching nothing returned %v, want nil", got)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times, want 0 when scope yields no chunks", emb.calls)
	}
}

func Test_Retriever_CacheIgnoresWritesUntilRefreshed(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4}
	r, docs := newTestRetriever(t, emb, 10, 0)
	ctx := context.Background()

	if _, err := docs.AddDocument(ctx, "first document", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}
	if _, err := r.Query(ctx, "query", nil); err != nil {
		t.Fatalf("first query: %v", err)
	}

	// A write after the cache is built is invisible to queries.
	if _, err := docs.AddDocument(ctx, "second document", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}
	got, err := r.Query(ctx, "query", nil)
	if err != nil {
		t.Fatalf("stale query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("stale cache served %d chunks, want 1", len(got))
	}

	if err := r.UpdateCache(ctx); err != nil {
		t.Fatalf("update cache: %v", err)
	}
	got, err = r.Query(ctx, "query", nil)
	if err != nil {
		t.Fatalf("fresh query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("refreshed cache served %d chunks, want 2", len(got))
	}
}

func Test_Retriever_ClearCacheForcesRebuild(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4}
	r, docs := newTestRetriever(t, emb, 10, 0)
	ctx := context.Background()

	if _, err := docs.AddDocument(ctx, "only document", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}
	if _, err := r.Query(ctx, "query", nil); err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, err := docs.AddDocument(ctx, "late arrival", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}

	r.ClearCache()
	if r.CachedChunks() != 0 {
		t.Fatalf("cache not empty after clear: %d chunks", r.CachedChunks())
	}
	got, err := r.Query(ctx, "query", nil)
	if err != nil {
		t.Fatalf("query after clear: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("query after clear served %d chunks, want 2", len(got))
	}
}

func Test_Retriever_EmptyCorpusSkipsEmbedding(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4}
	r, _ := newTestRetriever(t, emb, 10, 0)

	got, err := r.Query(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != nil {
		t.Errorf("empty corpus returned %v, want nil", got)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for empty corpus, want 0", emb.calls)
	}
}

func Test_Retriever_FailedChunkDegradesToZeroVector(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{
		dims:      4,
		failBatch: true,
		failTexts: map[string]bool{"poisoned chunk": true},
		vectors: map[string][]float32{
			"healthy chunk": blend(1, 0),
			"question":      blend(1, 0),
		},
	}
	r, docs := newTestRetriever(t, emb, 10, 0)
	ctx := context.Background()

	if _, err := docs.AddDocument(ctx, "healthy chunk", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}
	if _, err := docs.AddDocument(ctx, "poisoned chunk", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}

	got, err := r.Query(ctx, "question", nil)
	if err != nil {
		t.Fatalf("query must succeed despite a failed chunk: %v", err)
	}
	// Zero vector scores 0, which is still >= the 0 threshold.
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Content != "healthy chunk" {
		t.Errorf("top result = %q, want healthy chunk", got[0].Content)
	}
	if got[1].Similarity != 0 {
		t.Errorf("degraded chunk similarity = %v, want 0", got[1].Similarity)
	}
}

func Test_Retriever_QueryEmbedFailureIsHardError(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4, failTexts: map[string]bool{"bad question": true}}
	r, docs := newTestRetriever(t, emb, 10, 0)
	ctx := context.Background()
	if _, err := docs.AddDocument(ctx, "a chunk", ""); err != nil {
		t.Fatalf("add document: %v", err)
	}

	_, err := r.Query(ctx, "bad question", nil)
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("err = %v, want *EmbeddingError", err)
	}
	if embErr.Op != "query" {
		t.Errorf("op = %q, want query", embErr.Op)
	}
}
