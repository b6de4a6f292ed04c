package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragbot0/ragbot/internal/logging"
)

// NewIngestCmd constructs the `ragbot ingest` command, which stores text
// files as documents in the collection.
func NewIngestCmd() *cobra.Command {
	var title string
	var embed bool

	cmd := &cobra.Command{
		Use:   "ingest [file ...]",
		Short: "Store text files as documents in the collection",
		Long: `Store one or more text files as documents. With no arguments, a single
document is read from stdin.

Each file becomes one document titled after its base name (override with
--title for a single input). Chunking and embedding happen at query time;
pass --embed to build the embedding cache immediately and verify the
embedding backend is reachable.

Examples:
  ragbot ingest docs/runbook.md docs/oncall.md
  cat notes.txt | ragbot ingest --title "meeting notes"
  ragbot ingest --embed handbook.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if title != "" && len(args) > 1 {
				return fmt.Errorf("ingest: --title only applies to a single input")
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = st.Close() }()

			docs, retriever, err := buildRetrieval(st, nil)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			if len(args) == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("ingest: read stdin: %w", err)
				}
				if strings.TrimSpace(string(data)) == "" {
					return fmt.Errorf("ingest: stdin is empty")
				}
				id, err := docs.AddDocument(ctx, string(data), title)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				fmt.Printf("stored document %d (%d bytes)\n", id, len(data))
			}

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: read %s: %w", path, err)
				}
				docTitle := title
				if docTitle == "" {
					docTitle = filepath.Base(path)
				}
				id, err := docs.AddDocument(ctx, string(data), docTitle)
				if err != nil {
					return fmt.Errorf("ingest: store %s: %w", path, err)
				}
				log.Info("document stored",
					slog.Int64("id", id),
					slog.String("title", docTitle),
					slog.Int("bytes", len(data)),
				)
				fmt.Printf("stored document %d: %s (%d bytes)\n", id, docTitle, len(data))
			}

			if embed {
				if err := retriever.UpdateCache(ctx); err != nil {
					return fmt.Errorf("ingest: build embedding cache: %w", err)
				}
				fmt.Printf("embedding cache built: %d chunks\n", retriever.CachedChunks())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (single input only; defaults to the file name)")
	cmd.Flags().BoolVar(&embed, "embed", false, "Build the embedding cache after storing")

	return cmd
}
