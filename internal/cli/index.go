package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illuvrse/operator/internal/repoindex"
	"github.com/illuvrse/operator/pkg/color"
)

var (
	indexServices bool
	indexPorts    bool
	indexEnv      bool
)

var indexCmd = &cobra.Command{
	Use:   "index <command>",
	Short: "Read the repository fact file",
	Long: `Read the repository fact file at .operator/index.json.

The file is produced by an external indexer and only read here. The
platform-startup workflow uses it to suggest services to inspect.`,
	DisableFlagsInUseLine: true,
}

var indexShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Summarize the fact file",
	Long: `Summarize the fact file.

Examples:
  operator index show
  operator index show --services
  operator index show --ports --json`,
	Run: func(cmd *cobra.Command, args []string) {
		r := requireRepo()
		idx, err := repoindex.Load(r.Paths.Index)
		if err != nil {
			fmtErr("%v", err)
			osExit(1)
			return
		}
		if idx == nil {
			if jsonOutput {
				outputJSON(nil)
				return
			}
			fmt.Printf("No index at %s. Run the repository indexer to create one.\n", r.Paths.Index)
			return
		}

		all := !indexServices && !indexPorts && !indexEnv
		if jsonOutput {
			if all {
				outputJSON(idx)
				return
			}
			out := map[string]any{}
			if indexServices {
				out["services"] = nonNilStrings(idx.ServiceNames())
			}
			if indexPorts {
				ports := idx.PortNumbers()
				if ports == nil {
					ports = []int{}
				}
				out["ports"] = ports
			}
			if indexEnv {
				out["env"] = nonNilStrings(idx.EnvNames())
			}
			outputJSON(out)
			return
		}

		if all {
			fmt.Printf("Index:       %s\n", r.Paths.Index)
			if !idx.GeneratedAt.IsZero() {
				fmt.Printf("Generated:   %s\n", idx.GeneratedAt.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Routes:      %d\n", len(idx.Routes))
			fmt.Printf("Entrypoints: %d\n", len(idx.Entrypoints))
		}
		if all || indexServices {
			printIndexList("Services", idx.ServiceNames())
		}
		if all || indexPorts {
			ports := idx.PortNumbers()
			items := make([]string, len(ports))
			for i, p := range ports {
				items[i] = fmt.Sprint(p)
			}
			printIndexList("Ports", items)
		}
		if all || indexEnv {
			printIndexList("Env", idx.EnvNames())
		}
	},
}

func printIndexList(label string, items []string) {
	if len(items) == 0 {
		fmt.Printf("%s: %s\n", color.Header(label), color.Dim("none"))
		return
	}
	fmt.Printf("%s: %s\n", color.Header(label), strings.Join(items, ", "))
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func init() {
	indexShowCmd.Flags().BoolVar(&indexServices, "services", false, "only list service names")
	indexShowCmd.Flags().BoolVar(&indexPorts, "ports", false, "only list ports")
	indexShowCmd.Flags().BoolVar(&indexEnv, "env", false, "only list env variable names")
	indexCmd.AddCommand(indexShowCmd)
	rootCmd.AddCommand(indexCmd)
}
