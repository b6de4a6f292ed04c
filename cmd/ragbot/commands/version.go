package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragbot0/ragbot/internal/version"
)

// NewVersionCmd constructs the `ragbot version` subcommand.
// It prints the binary version, git commit, and build date injected at
// build time via -ldflags. Falls back to "dev"/"unknown" for local builds.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ragbot version, git commit, and build date",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("ragbot %s (commit: %s, built: %s)\n",
				version.Version, version.Commit, version.BuildDate)
		},
	}
}
