package workflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/illuvrse/operator/internal/checkpoint"
	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/repo"
	"github.com/illuvrse/operator/internal/repoindex"
	"github.com/illuvrse/operator/pkg/color"
	"github.com/illuvrse/operator/pkg/config"
	"github.com/illuvrse/operator/pkg/logging"
	"github.com/illuvrse/operator/pkg/metrics"
	"github.com/illuvrse/operator/pkg/model"
)

// Checkpointer records repository state before a task mutates it.
type Checkpointer interface {
	Checkpoint(ctx context.Context, task string, mode model.CheckpointMode) (model.CheckpointResult, error)
	Snapshot(ctx context.Context, in checkpoint.SnapshotInput) (*model.Snapshot, string, error)
}

// ChangeSource lists paths with uncommitted changes.
type ChangeSource interface {
	ChangedFiles(ctx context.Context) ([]string, error)
}

// RunStore persists the run that groups one invocation's actions.
type RunStore interface {
	CreateRun(ctx context.Context, run model.Run) error
	FinishRun(ctx context.Context, id model.RunID, status model.RunStatus, summary string) error
}

// Config wires an Orchestrator.
type Config struct {
	Repo        *repo.Repo
	Settings    *config.Config
	Guard       *executor.Guard
	Checkpoints Checkpointer
	Changes     ChangeSource // nil outside a git repository
	Runs        RunStore     // optional
	RunID       model.RunID

	// CLI is the command prefix that reaches the platform surface, e.g.
	// "./illuvrse" or "/usr/local/bin/operator platform".
	CLI string

	Index    *repoindex.Index // optional indexer facts
	Prober   HealthProber
	Sleep    func(ctx context.Context, d time.Duration) error
	LookPath func(file string) (string, error)
	Metrics  *metrics.Collector
	Logger   *logging.Logger
	Stdout   io.Writer
	Stderr   io.Writer
}

// Orchestrator runs one invocation to completion.
type Orchestrator struct {
	cfg Config
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Repo == nil || cfg.Settings == nil || cfg.Guard == nil || cfg.Checkpoints == nil {
		return nil, fmt.Errorf("orchestrator requires repo, settings, guard and checkpoints")
	}
	if strings.TrimSpace(cfg.CLI) == "" {
		return nil, fmt.Errorf("orchestrator requires a platform command prefix")
	}
	if cfg.Prober == nil {
		cfg.Prober = NewHTTPProber(cfg.Settings.Platform.HealthTimeout)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	if cfg.LookPath == nil {
		cfg.LookPath = exec.LookPath
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Outcome is the result of one do or ask invocation.
type Outcome struct {
	RunID        model.RunID
	Kind         Kind
	Status       model.RunStatus
	Plan         []string
	Diagnosis    *model.DiagnosisDetail
	Checkpoint   *model.CheckpointResult
	SnapshotPath string
	FilesChanged []string
	Err          error
}

// OK reports whether the invocation succeeded. A dry run succeeds.
func (o Outcome) OK() bool {
	return o.Status == model.RunOK || o.Status == model.RunDryRun
}

// ExitCode maps the outcome to a process exit status.
func (o Outcome) ExitCode() int {
	if o.OK() {
		return 0
	}
	return 1
}

// Report is the JSON form of an Outcome.
type Report struct {
	RunID        model.RunID             `json:"run_id"`
	Workflow     string                  `json:"workflow"`
	Status       model.RunStatus         `json:"status"`
	Plan         []string                `json:"plan"`
	Diagnosis    *model.DiagnosisDetail  `json:"diagnosis,omitempty"`
	Checkpoint   *model.CheckpointResult `json:"checkpoint,omitempty"`
	Snapshot     string                  `json:"snapshot,omitempty"`
	FilesChanged []string                `json:"files_changed"`
	Error        string                  `json:"error,omitempty"`
}

// Report renders o for --json output.
func (o Outcome) Report() Report {
	r := Report{
		RunID:        o.RunID,
		Workflow:     string(o.Kind),
		Status:       o.Status,
		Plan:         o.Plan,
		Diagnosis:    o.Diagnosis,
		Checkpoint:   o.Checkpoint,
		Snapshot:     o.SnapshotPath,
		FilesChanged: nonNil(o.FilesChanged),
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

// result is what a workflow hands back to Do.
type result struct {
	status    model.RunStatus
	diagnosis *model.DiagnosisDetail
	err       error
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// platform builds a platform command line.
func (o *Orchestrator) platform(args ...string) string {
	return o.cfg.CLI + " " + strings.Join(args, " ")
}

func (o *Orchestrator) run(ctx context.Context, command string, opts executor.RunOptions) executor.Outcome {
	return o.cfg.Guard.Run(ctx, command, opts)
}

func (o *Orchestrator) record(action model.AuditAction, status string, detail any) {
	o.cfg.Guard.Record(action, status, detail)
}

func (o *Orchestrator) printf(format string, args ...any) {
	fmt.Fprintf(o.cfg.Stdout, format, args...)
}

func (o *Orchestrator) errorf(format string, args ...any) {
	fmt.Fprintf(o.cfg.Stderr, format, args...)
}

// conclude records the workflow's diagnosis and returns it as a result.
func (o *Orchestrator) conclude(kind Kind, status model.RunStatus, d model.DiagnosisDetail, err error) result {
	d.Workflow = string(kind)
	if d.Suggestions == nil {
		d.Suggestions = []string{}
	}
	o.record(model.ActionDiagnosis, string(status), d)
	return result{status: status, diagnosis: &d, err: err}
}

// refused concludes a workflow whose command was denied by policy or
// not confirmed.
func (o *Orchestrator) refused(kind Kind, out executor.Outcome) result {
	var suggestions []string
	if out.Decision.Status == model.DecisionDeny {
		suggestions = []string{
			fmt.Sprintf("The command matches a deny rule (%s); run it manually if it is really intended.", out.Decision.Rule),
		}
	} else {
		suggestions = []string{"Re-run interactively or with --yes to approve commands that need confirmation."}
	}
	return o.conclude(kind, model.RunDenied, model.DiagnosisDetail{
		Summary:     fmt.Sprintf("Command %q was not run: %s.", out.Command, out.Reason),
		Suggestions: suggestions,
	}, out.Err())
}

func (o *Orchestrator) printPlan(plan []string, mode string) {
	o.printf("%s\n", color.Header(fmt.Sprintf("Plan (%s):", mode)))
	for i, step := range plan {
		o.printf("%d. %s\n", i+1, step)
	}
}

func (o *Orchestrator) printDiagnosis(d *model.DiagnosisDetail, status model.RunStatus) {
	if d == nil {
		return
	}
	label := color.Success("Diagnosis:")
	if status != model.RunOK {
		label = color.Error("Diagnosis:")
	}
	o.printf("%s %s\n", label, d.Summary)
	if len(d.Suggestions) == 0 {
		return
	}
	o.printf("Suggestions:\n")
	for _, s := range d.Suggestions {
		o.printf("  - %s\n", s)
	}
}
