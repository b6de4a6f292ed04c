package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragbot0/ragbot/internal/chain"
	"github.com/ragbot0/ragbot/internal/prompt"
	"github.com/ragbot0/ragbot/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// APIKey is the Bearer token required on all /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// RateLimit is the sustained request rate allowed per IP on /api/chat
	// (requests/second). Defaults to 5 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 10 if zero.
	RateBurst int
	// MaxTurns bounds each session's conversation history.
	MaxTurns int
	// Registry receives the server's Prometheus metrics. If nil, the
	// default registry is used.
	Registry *prometheus.Registry
}

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	// Docs is the document store backing ingestion and retrieval.
	Docs *rag.DocumentStore
	// Retriever serves similarity queries and owns the embedding cache.
	Retriever *rag.Retriever
	// Prompts resolves and maintains prompt templates.
	Prompts *prompt.Manager
	// Model is the generation backend shared by all sessions.
	Model model.BaseChatModel
}

// Server is the HTTP server exposing chat, document, template, and cache
// endpoints. Each chat session holds its own conversation chain.
type Server struct {
	cfg        *Config
	deps       *Deps
	httpServer *http.Server
	log        *slog.Logger
	metrics    *serverMetrics
	// stopRL stops the rate limiter's eviction goroutine on shutdown.
	stopRL func()

	// mu protects sessions.
	mu       sync.Mutex
	sessions map[string]*chain.Chain
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's question.
	Message string `json:"message"`
	// SessionID names the conversation; one chain is kept per id. Empty
	// selects the shared "default" session.
	SessionID string `json:"session_id"`
	// TemplateID switches the session to another prompt template before
	// answering. Zero keeps the current template.
	TemplateID int64 `json:"template_id,omitempty"`
	// Rag disables retrieval for the session when explicitly false.
	// Only honored when the session is first created.
	Rag *bool `json:"rag,omitempty"`
	// Scope restricts retrieval to the listed document ids.
	Scope []int64 `json:"scope,omitempty"`
}

// sessionRequest is the JSON body for POST /api/chat/reset.
type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// documentRequest is the JSON body for creating or updating a document.
type documentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// documentResponse is the JSON shape of a stored document.
type documentResponse struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// templateRequest is the JSON body for creating or updating a template.
type templateRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
}

// templateResponse is the JSON shape of a stored template.
type templateResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// idResponse is the JSON response for creates.
type idResponse struct {
	ID int64 `json:"id"`
}

// cacheResponse is the JSON response for cache operations.
type cacheResponse struct {
	// Chunks is the number of chunks in the cache after the operation.
	Chunks int `json:"chunks"`
}
