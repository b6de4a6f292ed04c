package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ragbot0/ragbot/internal/config"
	"github.com/ragbot0/ragbot/internal/logging"
	"github.com/ragbot0/ragbot/internal/prompt"
	"github.com/ragbot0/ragbot/internal/provider"
	"github.com/ragbot0/ragbot/internal/rag"
	"github.com/ragbot0/ragbot/internal/server"
)

// NewServeCmd constructs the `ragbot serve` command, which starts the HTTP
// server exposing the chat, document, template, and cache API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragbot HTTP server",
		Long: `Start the ragbot HTTP server on localhost.

The server exposes a REST/SSE API: streaming chat grounded in the document
collection, document and prompt-template management, and explicit embedding
cache control.

Examples:
  ragbot serve
  ragbot serve --port 9090
  MODEL_BACKEND=openai ragbot serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			backend := config.Env("MODEL_BACKEND", "local")
			log.Info("serve starting", slog.String("backend", backend))

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model backend: %w", err)
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.Close() }()

			docs, retriever, err := buildRetrieval(st, rag.NewMetrics(prometheus.DefaultRegisterer))
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			// Flags win over env; env wins over the flag defaults.
			if !cmd.Flags().Changed("host") {
				host = config.Env("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = config.EnvInt("SERVER_PORT", port)
			}

			srv, err := server.New(&server.Deps{
				Docs:      docs,
				Retriever: retriever,
				Prompts:   prompt.NewManager(st),
				Model:     chatModel,
			}, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				APIKey:    config.Env("RAGBOT_API_KEY", ""),
				RateLimit: config.EnvFloat("SERVER_RATE_LIMIT", 0),
				RateBurst: config.EnvInt("SERVER_RATE_BURST", 0),
				MaxTurns:  config.EnvInt("CHAT_MAX_TURNS", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
