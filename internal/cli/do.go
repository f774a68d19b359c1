package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illuvrse/operator/internal/checkpoint"
	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/git"
	"github.com/illuvrse/operator/internal/lock"
	"github.com/illuvrse/operator/internal/repoindex"
	"github.com/illuvrse/operator/internal/workflow"
	"github.com/illuvrse/operator/pkg/model"
)

var (
	doDryRun     bool
	doYes        bool
	doCheckpoint string
	doScan       bool
	doGrep       string
	doTest       bool
	doMaxIters   int
)

var doCmd = &cobra.Command{
	Use:   "do <task>",
	Short: "Run a task behind the command policy",
	Long: `Run a task behind the command policy.

The task text selects a workflow:
  "start platform"        start the platform, check status and health
  "fix failing tests"     run tests, apply known fixers, re-run (bounded)
  "doctor autofix"        apply the safe fixes the doctor report offers
Anything else runs the generic plan with the optional --scan, --grep
and --test helpers.

A checkpoint is created before the first mutating step. Commands that
need confirmation prompt on a terminal; use --yes to approve them.
Denied commands never run.

Examples:
  operator do "start platform"
  operator do "fix failing tests" --max-iters 3 --yes
  operator do "doctor autofix" --dry-run
  operator do "rename the settings page" --scan --grep Settings`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var mode model.CheckpointMode
		if doCheckpoint != "" {
			m, ok := model.ParseCheckpointMode(doCheckpoint)
			if !ok {
				fmtErr("invalid --checkpoint %q: must be branch or commit", doCheckpoint)
				osExit(1)
			}
			mode = m
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		task := strings.Join(args, " ")
		o, s := requireOrchestrator(ctx, doYes)

		// Dry runs mutate nothing and never wait for the lock.
		var held *lock.Record
		runLock := lock.NewManager(s.repo.Paths.RunLock, 0)
		if !doDryRun {
			rec, err := runLock.Acquire(s.runID, task)
			if err != nil {
				s.close()
				fmtErr("%v", err)
				osExit(1)
			}
			held = rec
			lockFields := map[string]any{"lock": s.repo.Paths.RunLock}
			if rec.Takeovers > 0 {
				s.logger.Warn("took over stale run lock", lockFields)
			} else {
				s.logger.Info("run lock acquired", lockFields)
			}
		}

		out := o.Do(ctx, workflow.DoOptions{
			Task:       task,
			DryRun:     doDryRun,
			Checkpoint: mode,
			Scan:       doScan,
			Grep:       doGrep,
			Test:       doTest,
			MaxIters:   doMaxIters,
		})
		s.notify(ctx, "do", task, out.Report())
		if held != nil {
			if err := runLock.Release(held); err != nil {
				s.logger.WarnErr("release run lock", err)
			}
		}
		s.close()

		outputJSON(out.Report())
		exitWith(out.ExitCode())
	},
}

// requireOrchestrator wires the orchestrator for one invocation, or
// exits with error.
func requireOrchestrator(ctx context.Context, yes bool) (*workflow.Orchestrator, *session) {
	r := requireRepo()
	cfg := requireConfig(r)

	s, err := openSession(ctx, r, cfg)
	if err != nil {
		fmtErr("%v", err)
		osExit(1)
	}
	guard, err := s.guard(yes)
	if err != nil {
		fmtErr("%v", err)
		osExit(1)
	}

	client := git.New(r.Root, executor.NewShellRunner(cfg.Exec.Shell))
	wc := workflow.Config{
		Repo:        r,
		Settings:    cfg,
		Guard:       guard,
		Checkpoints: checkpoint.NewManager(client, r.Paths.Checkpoints, cfg.Identity),
		RunID:       s.runID,
		CLI:         platformCLI(cfg.Platform.CLI),
		Metrics:     s.metrics,
		Logger:      s.logger,
	}
	if r.IsGit {
		wc.Changes = client
	}
	if s.store != nil {
		wc.Runs = s.store
	}
	if idx, err := repoindex.Load(r.Paths.Index); err != nil {
		s.logger.WarnErr("index unreadable", err)
	} else {
		wc.Index = idx
	}
	if jsonOutput {
		// Keep stdout for the JSON report.
		wc.Stdout = os.Stderr
	}

	o, err := workflow.New(wc)
	if err != nil {
		fmtErr("%v", err)
		osExit(1)
	}
	return o, s
}

// platformCLI returns the configured platform prefix, or this binary's
// own platform subcommand.
func platformCLI(configured string) string {
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "operator"
	}
	return fmt.Sprintf("%s platform", executor.Quote(exe))
}

func init() {
	doCmd.Flags().BoolVar(&doDryRun, "dry-run", false, "print the plan and policy decisions without running anything")
	doCmd.Flags().BoolVarP(&doYes, "yes", "y", false, "approve commands that need confirmation")
	doCmd.Flags().StringVar(&doCheckpoint, "checkpoint", "", "checkpoint mode: branch or commit (default from config)")
	doCmd.Flags().BoolVar(&doScan, "scan", false, "scan the repository (generic plan)")
	doCmd.Flags().StringVar(&doGrep, "grep", "", "search for a pattern (generic plan)")
	doCmd.Flags().BoolVar(&doTest, "test", false, "run the test suite (generic plan)")
	doCmd.Flags().IntVar(&doMaxIters, "max-iters", 0, "maximum test runs for the failing-tests workflow")
	rootCmd.AddCommand(doCmd)
}
