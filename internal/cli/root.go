package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illuvrse/operator/pkg/color"
	"github.com/illuvrse/operator/pkg/logging"
)

var (
	jsonOutput bool
	noColor    bool
	repoFlag   string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "operator",
		Short: "operator - safety-gated repository operator",
		Long: `operator runs repository tasks behind a command policy.

Every shell command passes a deny/confirm/allow policy and lands in an
append-only audit log. Mutating tasks start from a git checkpoint and a
dense snapshot file, so every change can be traced and undone.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor)
			setupLogging(logLevel, "")
		},
	}
)

// osExit is replaced in tests.
var osExit = os.Exit

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "repository root (default: discovered from the current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "diagnostic log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmtErr("%v", err)
		osExit(1)
	}
}

// setupLogging installs the global diagnostic logger. The flag wins over
// the configured level; an unknown level keeps the default.
func setupLogging(level, format string) {
	l := logging.Global()
	if level != "" {
		parsed, err := logging.ParseLevel(level)
		if err != nil {
			fmtErr("%v", err)
		} else {
			l.SetLevel(parsed)
		}
	}
	if format != "" {
		l.SetFormat(logging.Format(format))
	}
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitWith ends the process with code unless it is zero.
func exitWith(code int) {
	if code != 0 {
		osExit(code)
	}
}

func fmtErr(format string, args ...any) {
	prefix := "operator: "
	if color.Enabled() {
		prefix = color.Error("operator:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
