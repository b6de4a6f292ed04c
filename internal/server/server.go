// Package server implements the HTTP server exposing the chat pipeline and
// the document, template, and cache management API. The server is started by
// the `ragbot serve` CLI command.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ragbot0/ragbot/internal/chain"
	"github.com/ragbot0/ragbot/internal/chat"
	"github.com/ragbot0/ragbot/internal/logging"
)

// New constructs a Server from its collaborators and config.
func New(deps *Deps, cfg *Config) (*Server, error) {
	if deps == nil || deps.Model == nil || deps.Docs == nil || deps.Retriever == nil || deps.Prompts == nil {
		return nil, fmt.Errorf("server: all dependencies must be set")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	gatherer := prometheus.DefaultGatherer
	if cfg.Registry != nil {
		reg = cfg.Registry
		gatherer = cfg.Registry
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		metrics:  newServerMetrics(reg),
		sessions: make(map[string]*chain.Chain),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL
	if cfg.APIKey == "" {
		log.Warn("server: RAGBOT_API_KEY not set, API authentication is disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", rl.middleware(http.HandlerFunc(s.handleChat)))
	mux.HandleFunc("POST /api/chat/reset", s.handleChatReset)

	mux.HandleFunc("GET /api/documents", s.handleDocumentList)
	mux.HandleFunc("POST /api/documents", s.handleDocumentCreate)
	mux.HandleFunc("GET /api/documents/search", s.handleDocumentSearch)
	mux.HandleFunc("GET /api/documents/{id}", s.handleDocumentGet)
	mux.HandleFunc("PUT /api/documents/{id}", s.handleDocumentUpdate)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDocumentDelete)

	mux.HandleFunc("GET /api/templates", s.handleTemplateList)
	mux.HandleFunc("POST /api/templates", s.handleTemplateCreate)
	mux.HandleFunc("GET /api/templates/{id}", s.handleTemplateGet)
	mux.HandleFunc("PUT /api/templates/{id}", s.handleTemplateUpdate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleTemplateDelete)

	mux.HandleFunc("POST /api/cache/refresh", s.handleCacheRefresh)
	mux.HandleFunc("POST /api/cache/clear", s.handleCacheClear)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	handler := requestLogger(log, s.metrics, authForAPI(cfg.APIKey, mux))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler returns the server's root handler, used by tests with httptest.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving HTTP requests. It blocks until the context is
// cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// session returns the chain for the given id, creating it on first use.
// A new session starts on the default template with retrieval enabled
// unless the request says otherwise.
func (s *Server) session(ctx context.Context, req *chatRequest) (*chain.Chain, error) {
	id := req.SessionID
	if id == "" {
		id = "default"
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()

	if !ok {
		tmpl, err := s.deps.Prompts.Default(ctx)
		if err != nil {
			return nil, fmt.Errorf("server: resolve default template: %w", err)
		}
		ragMode := true
		if req.Rag != nil {
			ragMode = *req.Rag
		}
		cm := chat.NewContextManager(s.deps.Prompts, tmpl, s.cfg.MaxTurns, ragMode)
		sess = chain.New(s.deps.Model, s.deps.Retriever, cm, ragMode)

		s.mu.Lock()
		// Another request may have raced us; keep the first chain.
		if existing, ok := s.sessions[id]; ok {
			sess = existing
		} else {
			s.sessions[id] = sess
		}
		s.mu.Unlock()
	}

	if req.TemplateID != 0 && req.TemplateID != sess.Context().Template().ID {
		if err := sess.Context().ChangeTemplate(ctx, req.TemplateID); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// handleHealth handles GET /healthz for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
