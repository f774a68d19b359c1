package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/illuvrse/operator/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Inspect operator configuration",
	Long: `Inspect the configuration stored in .operator/config.yaml.

Missing keys take their defaults. OPERATOR_CHECKPOINT_MODE and
OPERATOR_FIX_MAX_ITERS override the file.`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		r := requireRepo()
		cfg := requireConfig(r)

		data, err := cfg.Marshal()
		if err != nil {
			fmtErr("marshal config: %v", err)
			osExit(1)
			return
		}
		if jsonOutput {
			// Round-trip through YAML so JSON keys match the file.
			var doc map[string]any
			if err := yaml.Unmarshal(data, &doc); err != nil {
				fmtErr("marshal config: %v", err)
				osExit(1)
				return
			}
			outputJSON(doc)
			return
		}
		fmt.Fprintf(os.Stdout, "# %s\n", config.Path(r.Root))
		os.Stdout.Write(data)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
