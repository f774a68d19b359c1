package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/illuvrse/operator/internal/audit"
	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/platform"
	"github.com/illuvrse/operator/pkg/config"
	"github.com/illuvrse/operator/pkg/model"
)

var (
	platformService string
	platformDetach  bool
	platformAll     bool
	platformTail    int
)

var platformCmd = &cobra.Command{
	Use:   "platform <command>",
	Short: "Control the local platform",
	Long: `Control the local platform.

With a compose file and docker available, commands delegate to docker
compose. Otherwise services run from platform.services in
.operator/config.yaml (the default service falls back to the dev script
in package.json); detached services are tracked by pid in
.operator/platform-state.json with output in .operator/logs/.

The workflows started by "operator do" reach the platform through these
commands, each passing the command policy first.`,
	DisableFlagsInUseLine: true,
}

var platformUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the platform",
	Run: func(cmd *cobra.Command, args []string) {
		withPlatform(func(ctx context.Context, p *platform.Platform, cfg *config.Config) (int, error) {
			return p.Up(ctx, platform.UpOptions{Service: platformService, Detach: platformDetach})
		})
	},
}

var platformDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop tracked services",
	Run: func(cmd *cobra.Command, args []string) {
		withPlatform(func(ctx context.Context, p *platform.Platform, cfg *config.Config) (int, error) {
			return p.Down(ctx, platform.DownOptions{Service: platformService, All: platformAll})
		})
	},
}

var platformStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	Run: func(cmd *cobra.Command, args []string) {
		withPlatform(func(ctx context.Context, p *platform.Platform, cfg *config.Config) (int, error) {
			if jsonOutput && !p.Runtime().Compose.Available {
				statuses := p.Statuses()
				if statuses == nil {
					statuses = []platform.ServiceStatus{}
				}
				return 0, outputJSON(statuses)
			}
			return p.Status(ctx)
		})
	},
}

var platformLogsCmd = &cobra.Command{
	Use:   "logs [service]",
	Short: "Show the last lines of a service log",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		service := platformService
		if len(args) == 1 {
			service = args[0]
		}
		withPlatform(func(ctx context.Context, p *platform.Platform, cfg *config.Config) (int, error) {
			return p.Logs(ctx, platform.LogsOptions{Service: service, Tail: platformTail})
		})
	},
}

var platformTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the test suite",
	Run: func(cmd *cobra.Command, args []string) {
		withPlatform(func(ctx context.Context, p *platform.Platform, cfg *config.Config) (int, error) {
			return p.Test(ctx)
		})
	},
}

var platformDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check platform prerequisites",
	Long: `Check platform prerequisites.

Reports required binaries, docker compose, env files, env keys missing
from the example file and configured ports. With --json the report is
the machine-readable schema "operator do \"doctor autofix\"" consumes.
Exits 1 when any check fails.`,
	Run: func(cmd *cobra.Command, args []string) {
		withPlatform(func(ctx context.Context, p *platform.Platform, cfg *config.Config) (int, error) {
			checks, err := p.Doctor(ctx, cfg.Platform.Doctor)
			if err != nil {
				return 1, err
			}
			return p.WriteDoctor(checks, jsonOutput)
		})
	},
}

// withPlatform builds the platform for the current repository, runs fn
// and exits with its code.
func withPlatform(fn func(ctx context.Context, p *platform.Platform, cfg *config.Config) (int, error)) {
	r := requireRepo()
	cfg := requireConfig(r)
	if err := r.EnsureDirs(); err != nil {
		fmtErr("create state directory: %v", err)
		osExit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner := executor.NewShellRunner(cfg.Exec.Shell)
	trail := audit.NewTrail(audit.NewFileAppender(r.Paths.AuditLog, cfg.Identity), model.RunID(uuid.NewString()), nil)
	p := platform.New(platform.Options{
		Repo:           r,
		Runtime:        platform.ResolveRuntime(ctx, r.Root, cfg.Platform, runner),
		DefaultService: cfg.Platform.DefaultService,
		Shell:          cfg.Exec.Shell,
		Runner:         runner,
		Recorder:       trail,
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
	})

	code, err := fn(ctx, p, cfg)
	if err != nil {
		fmtErr("%v", err)
		if code == 0 {
			code = 1
		}
	}
	stop()
	exitWith(code)
}

func init() {
	platformUpCmd.Flags().StringVarP(&platformService, "service", "s", "", "service to start (default: platform.default_service)")
	platformUpCmd.Flags().BoolVarP(&platformDetach, "detach", "d", false, "run in the background")
	platformDownCmd.Flags().StringVarP(&platformService, "service", "s", "", "service to stop (default: platform.default_service)")
	platformDownCmd.Flags().BoolVar(&platformAll, "all", false, "stop every tracked service")
	platformLogsCmd.Flags().StringVarP(&platformService, "service", "s", "", "service whose log to show")
	platformLogsCmd.Flags().IntVarP(&platformTail, "tail", "n", 200, "number of lines")

	platformCmd.AddCommand(platformUpCmd)
	platformCmd.AddCommand(platformDownCmd)
	platformCmd.AddCommand(platformStatusCmd)
	platformCmd.AddCommand(platformLogsCmd)
	platformCmd.AddCommand(platformTestCmd)
	platformCmd.AddCommand(platformDoctorCmd)
	rootCmd.AddCommand(platformCmd)
}
