package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragbot0/ragbot/internal/chain"
	"github.com/ragbot0/ragbot/internal/chat"
	"github.com/ragbot0/ragbot/internal/config"
	"github.com/ragbot0/ragbot/internal/logging"
	"github.com/ragbot0/ragbot/internal/prompt"
	"github.com/ragbot0/ragbot/internal/provider"
)

// NewAskCmd constructs the `ragbot ask` command, which answers a single
// question grounded in the document collection and streams the answer to
// stdout, followed by the evidence it was grounded on.
func NewAskCmd() *cobra.Command {
	var plain bool
	var noEvidence bool
	var scope []int64

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question grounded in your documents",
		Long: `Ask a single question and stream the answer to stdout.

The question is ranked against the document collection; the top matching
chunks are folded into the prompt and printed after the answer as evidence.

Examples:
  ragbot ask "what does the deployment runbook say about rollbacks?"
  ragbot ask --plain "write a haiku about databases"
  ragbot ask --scope 3 --scope 7 "what changed in the Q3 postmortems?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model backend: %w", err)
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = st.Close() }()

			prompts := prompt.NewManager(st)
			tmpl, err := resolveTemplate(ctx, prompts)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			ragMode := !plain
			cm := chat.NewContextManager(prompts, tmpl, config.EnvInt("CHAT_MAX_TURNS", 0), ragMode)

			var sess *chain.Chain
			if ragMode {
				_, retriever, err := buildRetrieval(st, nil)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				sess = chain.New(chatModel, retriever, cm, true)
			} else {
				sess = chain.New(chatModel, nil, cm, false)
			}

			events, err := sess.Stream(ctx, args[0], scope)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			for ev := range events {
				switch ev.Kind {
				case chain.EventAnswerDelta:
					fmt.Print(ev.Text)
				case chain.EventBoundary:
					fmt.Println()
				case chain.EventEvidence:
					if !noEvidence && ev.Text != "" {
						fmt.Printf("\n--- evidence ---\n%s\n", ev.Text)
					}
				case chain.EventError:
					fmt.Println()
					fmt.Fprintln(os.Stderr, ev.Err)
					return fmt.Errorf("ask: generation failed")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Skip retrieval and answer from the model alone")
	cmd.Flags().BoolVar(&noEvidence, "no-evidence", false, "Suppress the evidence block after the answer")
	cmd.Flags().Int64SliceVar(&scope, "scope", nil, "Restrict retrieval to these document ids (repeatable)")

	return cmd
}
