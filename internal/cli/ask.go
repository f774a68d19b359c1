package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illuvrse/operator/internal/workflow"
)

var (
	askAllowShell bool
	askScan       bool
	askGrep       string
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Plan a task without changing anything",
	Long: `Plan a task without changing anything.

Prints the plan for the prompt. Read-only helpers (--scan, --grep) run
only with --allow-shell. ask never creates a checkpoint and never runs
a mutating command.

Examples:
  operator ask "where is the login form?"
  operator ask "where is auth handled?" --allow-shell --grep auth`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		// Read-only helpers bypass the confirm list, so nothing prompts.
		prompt := strings.Join(args, " ")
		o, s := requireOrchestrator(ctx, false)
		out := o.Ask(ctx, workflow.AskOptions{
			Prompt:     prompt,
			AllowShell: askAllowShell,
			Scan:       askScan,
			Grep:       askGrep,
		})
		s.notify(ctx, "ask", prompt, out.Report())
		s.close()

		outputJSON(out.Report())
		exitWith(out.ExitCode())
	},
}

func init() {
	askCmd.Flags().BoolVar(&askAllowShell, "allow-shell", false, "allow read-only helper commands")
	askCmd.Flags().BoolVar(&askScan, "scan", false, "scan the repository")
	askCmd.Flags().StringVar(&askGrep, "grep", "", "search for a pattern")
	rootCmd.AddCommand(askCmd)
}
