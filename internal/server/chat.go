package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ragbot0/ragbot/internal/chain"
	"github.com/ragbot0/ragbot/internal/prompt"
	"github.com/ragbot0/ragbot/internal/rag"
)

// endSentinel is the wire marker separating the answer from its evidence in
// the SSE stream. Clients render everything before it as the answer and
// everything after it as citations.
const endSentinel = "[end]"

// handleChat handles POST /api/chat. The response streams as Server-Sent
// Events: answer deltas, the end sentinel, then the evidence block, closed
// by a done event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	start := time.Now()

	sess, err := s.session(r.Context(), &req)
	if err != nil {
		s.chatError(w, err)
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		return
	}

	events, err := sess.Stream(r.Context(), req.Message, req.Scope)
	if err != nil {
		s.chatError(w, err)
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	sw := &sseWriter{w: w, flusher: flusher}

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	outcome := "ok"
	for ev := range events {
		switch ev.Kind {
		case chain.EventAnswerDelta:
			_, _ = sw.Write([]byte(ev.Text))
		case chain.EventBoundary:
			_, _ = sw.Write([]byte(endSentinel))
		case chain.EventEvidence:
			_, _ = sw.Write([]byte(ev.Text))
		case chain.EventError:
			outcome = "error"
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", ev.Err.Error())
			flusher.Flush()
		}
	}
	if outcome == "ok" {
		// Signal stream completion.
		fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
		flusher.Flush()
	}

	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// chatError maps pipeline errors onto HTTP status codes before the SSE
// stream has started.
func (s *Server) chatError(w http.ResponseWriter, err error) {
	var embErr *rag.EmbeddingError
	var genErr *chain.GenerationError
	switch {
	case errors.Is(err, prompt.ErrTemplateNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &embErr), errors.As(err, &genErr):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleChatReset handles POST /api/chat/reset: it clears the session's
// conversation history, keeping its template.
func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id := req.SessionID
	if id == "" {
		id = "default"
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.Context().ClearHistory()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleCacheRefresh handles POST /api/cache/refresh: it eagerly rebuilds
// the embedding cache from the current document set.
func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Retriever.UpdateCache(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, cacheResponse{Chunks: s.deps.Retriever.CachedChunks()})
}

// handleCacheClear handles POST /api/cache/clear: the next query rebuilds
// the cache lazily.
func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.deps.Retriever.ClearCache()
	writeJSON(w, http.StatusOK, cacheResponse{Chunks: 0})
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
