package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illuvrse/operator/internal/checkpoint"
	"github.com/illuvrse/operator/internal/repo"
	"github.com/illuvrse/operator/internal/store"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for operator.

Checkpoint and run ids complete from the current repository.

Examples:
  source <(operator completion bash)
  operator completion zsh > "${fpath[1]}/_operator"
  operator completion fish > ~/.config/fish/completions/operator.fish
  operator completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		shell := args[0]

		var err error
		switch shell {
		case "bash":
			err = cmd.Root().GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			err = cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			err = cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			err = cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		default:
			err = fmt.Errorf("unsupported shell type: %s", shell)
		}

		if err != nil {
			fmtErr("failed to generate completion for %s: %v", shell, err)
			osExit(1)
		}
	},
}

// completionRepo resolves the repository without exiting; completion
// must stay silent when there is none.
func completionRepo() *repo.Repo {
	if repoFlag != "" {
		r, err := repo.Open(repoFlag)
		if err != nil {
			return nil
		}
		return r
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil
	}
	r, err := repo.Discover(cwd)
	if err != nil {
		return nil
	}
	return r
}

func completeCheckpointIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	r := completionRepo()
	if r == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	entries, _ := checkpoint.List(r.Paths.Checkpoints)
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name, toComplete) {
			out = append(out, e.Name+"\t"+e.Snapshot.Command)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func completeRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	r := completionRepo()
	if r == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	// Opening a missing database would create it.
	if _, err := os.Stat(r.Paths.Store); err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	st, err := store.NewSQLite(r.Paths.Store)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	runs, _ := st.ListRuns(ctx, 50)
	var out []string
	for _, run := range runs {
		if strings.HasPrefix(string(run.ID), toComplete) {
			out = append(out, string(run.ID)+"\t"+run.Task)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	checkpointShowCmd.ValidArgsFunction = completeCheckpointIDs
	runsShowCmd.ValidArgsFunction = completeRunIDs
	rootCmd.AddCommand(completionCmd)
}
