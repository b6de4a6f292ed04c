package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragbot0/ragbot/internal/chunker"
	"github.com/ragbot0/ragbot/internal/logging"
	"github.com/ragbot0/ragbot/internal/prompt"
	"github.com/ragbot0/ragbot/internal/rag"
	"github.com/ragbot0/ragbot/internal/store"
)

// stubEmbedder embeds every text identically so all chunks rank equally.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) Dimensions() int { return 2 }

// scriptedModel streams a fixed sequence of chunks.
type scriptedModel struct {
	chunks []string
}

func (m *scriptedModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(strings.Join(m.chunks, ""), nil), nil
}

func (m *scriptedModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msgs := make([]*schema.Message, len(m.chunks))
	for i, c := range m.chunks {
		msgs[i] = schema.AssistantMessage(c, nil)
	}
	return schema.StreamReaderFromArray(msgs), nil
}

// newTestServer builds a server over an in-memory corpus.
func newTestServer(t *testing.T, cfg *Config, bodies ...string) *Server {
	t.Helper()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	docs := rag.NewDocumentStore(s, chunker.New(1000, 0))
	for _, body := range bodies {
		if _, err := docs.AddDocument(ctx, body, "Handbook"); err != nil {
			t.Fatalf("add document: %v", err)
		}
	}

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = logging.Discard()
	cfg.Registry = prometheus.NewRegistry()

	srv, err := New(&Deps{
		Docs:      docs,
		Retriever: rag.NewRetriever(docs, stubEmbedder{}, 3, 0, nil),
		Prompts:   prompt.NewManager(s),
		Model:     &scriptedModel{chunks: []string{"The answer ", "is 42."}},
	}, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(srv.stopRL)
	return srv
}

// dataLines extracts the payload of every SSE data frame, in order.
func dataLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func postJSON(t *testing.T, h http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func Test_Chat_StreamsAnswerSentinelEvidence(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil, "the answer to everything is 42")
	w := postJSON(t, srv.Handler(), "/api/chat", chatRequest{Message: "what is the answer?"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	lines := dataLines(w.Body.String())
	sentinel := -1
	for i, l := range lines {
		if l == endSentinel {
			sentinel = i
			break
		}
	}
	if sentinel < 1 {
		t.Fatalf("no sentinel after answer in frames: %v", lines)
	}
	answer := strings.Join(lines[:sentinel], "")
	if answer != "The answer is 42." {
		t.Errorf("answer before sentinel = %q", answer)
	}
	tail := strings.Join(lines[sentinel+1:], "\n")
	if !strings.Contains(tail, "[Doc 1]") || !strings.Contains(tail, "the answer to everything is 42") {
		t.Errorf("evidence after sentinel = %q", tail)
	}
	if lines[len(lines)-1] != "[DONE]" {
		t.Errorf("final frame = %q, want [DONE]", lines[len(lines)-1])
	}
}

func Test_Chat_EmptyMessageRejected(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	w := postJSON(t, srv.Handler(), "/api/chat", chatRequest{Message: "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func Test_Chat_UnknownTemplateIs404(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil, "a document")
	w := postJSON(t, srv.Handler(), "/api/chat", chatRequest{Message: "hi", TemplateID: 404})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func Test_Chat_SessionsAreIsolated(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil, "a document")
	h := srv.Handler()

	postJSON(t, h, "/api/chat", chatRequest{Message: "first", SessionID: "alpha"})
	postJSON(t, h, "/api/chat", chatRequest{Message: "second", SessionID: "beta"})

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(srv.sessions))
	}
	if srv.sessions["alpha"].Context().Len() != 2 || srv.sessions["beta"].Context().Len() != 2 {
		t.Error("each session must hold exactly its own turn pair")
	}
}

func Test_ChatReset_ClearsHistoryKeepsSession(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil, "a document")
	h := srv.Handler()

	postJSON(t, h, "/api/chat", chatRequest{Message: "hello", SessionID: "alpha"})
	w := postJSON(t, h, "/api/chat/reset", sessionRequest{SessionID: "alpha"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if got := srv.sessions["alpha"].Context().Len(); got != 0 {
		t.Errorf("history length after reset = %d, want 0", got)
	}
}

func Test_Auth_ProtectsAPIButNotHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &Config{APIKey: "secret"}, "a document")
	h := srv.Handler()

	// No token: API rejected.
	w := postJSON(t, h, "/api/chat", chatRequest{Message: "hi"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /api/chat status = %d, want 401", w.Code)
	}

	// Wrong token: rejected.
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad-token status = %d, want 401", rec.Code)
	}

	// Correct token: accepted.
	req = httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("good-token status = %d, want 200", rec.Code)
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}
}

func Test_RateLimit_ExcessChatRequestsGet429(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &Config{RateLimit: 0.001, RateBurst: 1}, "a document")
	h := srv.Handler()

	first := postJSON(t, h, "/api/chat", chatRequest{Message: "hi"})
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}
	second := postJSON(t, h, "/api/chat", chatRequest{Message: "hi again"})
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("429 missing Retry-After header")
	}
}

func Test_Documents_CRUDAndSearch(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	h := srv.Handler()

	// Create.
	w := postJSON(t, h, "/api/documents", documentRequest{Title: "Networking", Content: "packets travel in frames"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created idResponse
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	// Get.
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/documents/%d", created.ID), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var doc documentResponse
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.Title != "Networking" {
		t.Errorf("title = %q", doc.Title)
	}

	// Search.
	req = httptest.NewRequest(http.MethodGet, "/api/documents/search?q=frames", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var found []documentResponse
	if err := json.NewDecoder(rec.Body).Decode(&found); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(found) != 1 || found[0].ID != created.ID {
		t.Errorf("search results = %v", found)
	}

	// Delete, then the id is gone.
	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/documents/%d", created.ID), nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/documents/%d", created.ID), nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func Test_CacheRefresh_PicksUpNewDocuments(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil, "initial document")
	h := srv.Handler()

	// Prime the cache, then add a document behind its back.
	postJSON(t, h, "/api/chat", chatRequest{Message: "prime"})
	postJSON(t, h, "/api/documents", documentRequest{Content: "late document"})

	w := postJSON(t, h, "/api/cache/refresh", struct{}{})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", w.Code)
	}
	var resp cacheResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if resp.Chunks != 2 {
		t.Errorf("cache holds %d chunks after refresh, want 2", resp.Chunks)
	}
}

func Test_Templates_CreateAndUse(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil, "a document")
	h := srv.Handler()

	w := postJSON(t, h, "/api/templates", templateRequest{
		Name:         "terse",
		SystemPrompt: "Answer in one sentence.",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created idResponse
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	// Chatting with the new template switches the session over.
	chat := postJSON(t, h, "/api/chat", chatRequest{Message: "hi", TemplateID: created.ID})
	if chat.Code != http.StatusOK {
		t.Fatalf("chat status = %d", chat.Code)
	}
	srv.mu.Lock()
	tmplName := srv.sessions["default"].Context().Template().Name
	srv.mu.Unlock()
	if tmplName != "terse" {
		t.Errorf("active template = %q, want terse", tmplName)
	}
}
