// Command ragbot is the entry point for the retrieval-augmented chat
// assistant. It provides a CLI interface (via Cobra) and an HTTP server
// with a REST/SSE API for interactive use.
package main

import (
	"fmt"
	"os"

	"github.com/ragbot0/ragbot/cmd/ragbot/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
