package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illuvrse/operator/internal/store"
	"github.com/illuvrse/operator/pkg/color"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs <command>",
	Short: "Query recorded runs",
	Long: `Query the runs recorded in .operator/operator.db.

Every do and ask invocation is one run; its actions mirror the audit
records it wrote, in order.`,
	DisableFlagsInUseLine: true,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st := requireStore(ctx)
		defer st.Close()

		runs, err := st.ListRuns(ctx, runsLimit)
		if err != nil {
			fmtErr("%v", err)
			osExit(1)
			return
		}
		if jsonOutput {
			if runs == nil {
				runs = []model.Run{}
			}
			outputJSON(runs)
			return
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return
		}
		for _, run := range runs {
			fmt.Printf("%s  %s  %-4s %-17s %s\n",
				color.Ref(string(run.ID)),
				run.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				run.Mode,
				color.Status(string(run.Status)),
				run.Task)
		}
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its actions",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st := requireStore(ctx)
		defer st.Close()

		id := model.RunID(args[0])
		run, err := st.GetRun(ctx, id)
		if err != nil {
			if errors.Is(err, errclass.ErrNotFound) {
				recent, _ := st.ListRuns(ctx, 50)
				fmt.Fprintln(os.Stderr, formatRunNotFoundError(args[0], recent))
			} else {
				fmtErr("%v", err)
			}
			osExit(1)
			return
		}
		actions, err := st.ListActions(ctx, id)
		if err != nil {
			fmtErr("%v", err)
			osExit(1)
			return
		}

		if jsonOutput {
			if actions == nil {
				actions = []model.Action{}
			}
			outputJSON(struct {
				model.Run
				Actions []model.Action `json:"actions"`
			}{run, actions})
			return
		}

		fmt.Printf("Run:      %s\n", color.Ref(string(run.ID)))
		fmt.Printf("Mode:     %s\n", run.Mode)
		fmt.Printf("Task:     %s\n", run.Task)
		fmt.Printf("Status:   %s\n", color.Status(string(run.Status)))
		fmt.Printf("Summary:  %s\n", run.Summary)
		fmt.Printf("Created:  %s\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if run.FinishedAt != nil {
			fmt.Printf("Finished: %s\n", run.FinishedAt.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("\nActions (%d):\n", len(actions))
		for _, a := range actions {
			fmt.Printf("  %4d %-12s %s\n", a.Seq, a.Kind, color.Status(a.Status))
		}
	},
}

// requireStore opens the run database read-write, or exits with error.
func requireStore(ctx context.Context) *store.SQLiteStore {
	r := requireRepo()
	if err := r.EnsureDirs(); err != nil {
		fmtErr("create state directory: %v", err)
		osExit(1)
	}
	st, err := store.NewSQLite(r.Paths.Store)
	if err != nil {
		fmtErr("open run store: %v", err)
		osExit(1)
	}
	if err := st.Init(ctx); err != nil {
		st.Close()
		fmtErr("open run store: %v", err)
		osExit(1)
	}
	return st
}

func init() {
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to show")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
