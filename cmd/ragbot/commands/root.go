// Package commands defines all Cobra CLI commands for the ragbot binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/ragbot0/ragbot/internal/config"
	"github.com/ragbot0/ragbot/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragbot",
		Short: "ragbot — retrieval-augmented chat over your own documents",
		Long: `ragbot is a local-first assistant that answers questions grounded in your
own document collection.

Documents are stored in SQLite, chunked and embedded on demand, and ranked
by cosine similarity against each question. Answers stream from the
configured model backend together with the evidence they are grounded on.

Model backend is selected via the MODEL_BACKEND environment variable or a
YAML config file (~/.ragbot/config.yaml).
See 'ragbot --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			_, err := config.Load(configPath, log)
			return err
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragbot/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
