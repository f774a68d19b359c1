package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illuvrse/operator/internal/checkpoint"
	"github.com/illuvrse/operator/pkg/color"
	"github.com/illuvrse/operator/pkg/errclass"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <command>",
	Short: "Inspect checkpoint snapshot files",
	Long: `Inspect the dense checkpoint files written before each task.

Each file records HEAD, git status, the unstaged and staged diffs and the
git checkpoint ref taken for the task. Files are written once and never
modified.`,
	DisableFlagsInUseLine: true,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoint files, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		r := requireRepo()
		entries, err := checkpoint.List(r.Paths.Checkpoints)
		if err != nil {
			fmtErr("list checkpoints: %v", err)
			osExit(1)
			return
		}

		if jsonOutput {
			snaps := make([]any, 0, len(entries))
			for _, e := range entries {
				snaps = append(snaps, e.Snapshot)
			}
			outputJSON(snaps)
			return
		}
		if len(entries) == 0 {
			fmt.Println("No checkpoints yet.")
			return
		}
		for _, e := range entries {
			s := e.Snapshot
			ref := "-"
			if s.Checkpoint != nil {
				ref = s.Checkpoint.Ref
			}
			fmt.Printf("%s  %s  %s  %s\n",
				color.Ref(e.Name),
				s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				ref,
				s.Command)
		}
	},
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one checkpoint file",
	Long: `Show one checkpoint file.

The id may be a prefix of the snapshot id or of the file name.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		r := requireRepo()
		entry, err := checkpoint.Find(r.Paths.Checkpoints, args[0])
		if err != nil {
			if errors.Is(err, errclass.ErrNotFound) {
				fmt.Fprintln(os.Stderr, formatCheckpointNotFoundError(args[0], r.Paths.Checkpoints))
			} else {
				fmtErr("%v", err)
			}
			osExit(1)
			return
		}

		s := entry.Snapshot
		if jsonOutput {
			outputJSON(s)
			return
		}

		fmt.Printf("Checkpoint: %s\n", color.Ref(string(s.ID)))
		fmt.Printf("Created:    %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Actor:      %s\n", s.Actor)
		fmt.Printf("Command:    %s\n", s.Command)
		fmt.Printf("Reason:     %s\n", s.Reason)
		if s.RunID != "" {
			fmt.Printf("Run:        %s\n", s.RunID)
		}
		if s.Checkpoint != nil {
			fmt.Printf("Git ref:    %s (%s)\n", color.Ref(s.Checkpoint.Ref), s.Checkpoint.Mode)
			if s.Checkpoint.Warning != "" {
				fmt.Printf("Warning:    %s\n", color.Warning(s.Checkpoint.Warning))
			}
		}
		printGitField("HEAD", s.Head.Output, s.Head.Error)
		printGitField("Status", s.Status.Output, s.Status.Error)
		printGitField("Diff", s.Diff.Output, s.Diff.Error)
		printGitField("Staged diff", s.DiffCached.Output, s.DiffCached.Error)
	},
}

func printGitField(label, output, errText string) {
	fmt.Printf("\n%s:\n", color.Header(label))
	if errText != "" {
		fmt.Printf("  %s\n", color.Error(errText))
		return
	}
	if strings.TrimSpace(output) == "" {
		fmt.Println("  (empty)")
		return
	}
	fmt.Println(strings.TrimRight(output, "\n"))
}

func init() {
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	rootCmd.AddCommand(checkpointCmd)
}
