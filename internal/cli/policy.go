package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illuvrse/operator/internal/policy"
	"github.com/illuvrse/operator/pkg/color"
	"github.com/illuvrse/operator/pkg/model"
)

var policyReadOnly bool

var policyCmd = &cobra.Command{
	Use:   "policy <command>",
	Short: "Inspect the command policy",
	Long: `Inspect the command policy.

Deny rules are checked first and always win. Read-only helpers skip the
confirm rules. Extra rules from .operator/config.yaml are appended after
the built-in ones.`,
	DisableFlagsInUseLine: true,
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <command>",
	Short: "Show the decision a command would get",
	Long: `Show the decision a command would get. Exits 1 when it is denied.

Examples:
  operator policy check "git push origin main"
  operator policy check "rg --files" --read-only`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		engine := requirePolicy()
		command := strings.Join(args, " ")
		d := engine.Evaluate(command, policy.Options{ReadOnly: policyReadOnly})

		if jsonOutput {
			outputJSON(struct {
				Command string `json:"command"`
				model.PolicyDecision
			}{command, d})
		} else {
			line := fmt.Sprintf("%s %s", color.Status(string(d.Status)), command)
			if d.Reason != "" {
				line += color.Dim(fmt.Sprintf(" (%s: %s)", d.Rule, d.Reason))
			}
			fmt.Println(line)
		}
		if d.Status == model.DecisionDeny {
			osExit(1)
		}
	},
}

var policyFilesCmd = &cobra.Command{
	Use:   "files <path>...",
	Short: "List which paths are sensitive",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sensitive := policy.SensitiveFiles(args)
		if jsonOutput {
			if sensitive == nil {
				sensitive = []string{}
			}
			outputJSON(map[string]any{"sensitive": sensitive})
			return
		}
		for _, p := range args {
			if policy.IsSensitive(p) {
				fmt.Printf("%s %s\n", color.Warning("sensitive"), p)
			} else {
				fmt.Printf("%s %s\n", color.Dim("ok       "), p)
			}
		}
	},
}

// requirePolicy builds the engine from the repository configuration when
// one is found, or the built-in rules otherwise.
func requirePolicy() *policy.Engine {
	r := requireRepo()
	cfg := requireConfig(r)
	engine, err := policy.FromConfig(cfg.Policy)
	if err != nil {
		fmtErr("%v", err)
		osExit(1)
	}
	return engine
}

func init() {
	policyCheckCmd.Flags().BoolVar(&policyReadOnly, "read-only", false, "evaluate as a read-only helper")
	policyCmd.AddCommand(policyCheckCmd)
	policyCmd.AddCommand(policyFilesCmd)
	rootCmd.AddCommand(policyCmd)
}
