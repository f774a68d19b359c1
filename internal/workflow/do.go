package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/illuvrse/operator/internal/checkpoint"
	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/policy"
	"github.com/illuvrse/operator/pkg/color"
	"github.com/illuvrse/operator/pkg/model"
)

// DoOptions are the flags of one "do" invocation.
type DoOptions struct {
	Task       string
	DryRun     bool
	Checkpoint model.CheckpointMode // empty uses the configured mode
	Scan       bool
	Grep       string
	Test       bool
	MaxIters   int // 0 uses the configured bound
}

// AskOptions are the flags of one "ask" invocation.
type AskOptions struct {
	Prompt     string
	AllowShell bool
	Scan       bool
	Grep       string
}

// invocation accumulates what Do and Ask report at the end.
type invocation struct {
	mode        string
	task        string
	kind        Kind
	plan        []string
	filesBefore []string
	outcome     Outcome
}

// Plan returns the steps shown before kind runs.
func (o *Orchestrator) Plan(kind Kind, opts DoOptions) []string {
	pc := o.cfg.Settings.Platform
	switch kind {
	case KindStartup:
		return []string{
			"Start the platform: " + o.platform("up", "--detach"),
			fmt.Sprintf("Wait %s for services to settle", pc.SettleDelay),
			"Check service status: " + o.platform("status"),
			"Probe " + pc.HealthURL,
			"Collect logs for failing services and diagnose",
		}
	case KindFixTests:
		return []string{
			"Run tests: " + o.platform("test"),
			"Analyze failures for likely files and known fixers",
			fmt.Sprintf("Apply matched fixers and re-run tests, at most %d run(s)", o.maxIters(opts.MaxIters)),
		}
	case KindAutofix:
		return []string{
			"Inspect: " + o.platform("doctor", "--json"),
			"Apply safe fixes after confirmation; skip unsafe ones",
			"Re-inspect and report fixed, remaining and manual checks",
		}
	default:
		return MockPlan(opts.Scan, opts.Grep, opts.Test)
	}
}

type previewItem struct {
	command  string
	readOnly bool
}

// previewCommands lists the commands kind would start with. Commands
// chosen from earlier output, such as fixers, cannot be known ahead.
func (o *Orchestrator) previewCommands(kind Kind, opts DoOptions) []previewItem {
	switch kind {
	case KindStartup:
		return []previewItem{{command: o.platform("up", "--detach")}, {command: o.platform("status")}}
	case KindFixTests:
		return []previewItem{{command: o.platform("test")}}
	case KindAutofix:
		return []previewItem{{command: o.platform("doctor", "--json")}}
	}
	var items []previewItem
	if opts.Scan {
		items = append(items, previewItem{command: o.scanCommand(), readOnly: true})
	}
	if opts.Grep != "" {
		items = append(items, previewItem{command: o.grepCommand(opts.Grep), readOnly: true})
	}
	if opts.Test {
		items = append(items, previewItem{command: o.testCommand()})
	}
	return items
}

func (o *Orchestrator) preview(kind Kind, opts DoOptions) {
	items := o.previewCommands(kind, opts)
	if len(items) == 0 {
		return
	}
	o.printf("%s\n", color.Header("Dry run; commands would be checked as:"))
	for _, item := range items {
		d := o.cfg.Guard.Preview(item.command, executor.RunOptions{ReadOnly: item.readOnly})
		line := fmt.Sprintf("  %-7s %s", d.Status, item.command)
		if d.Reason != "" {
			line += color.Dim(" (" + d.Reason + ")")
		}
		o.printf("%s\n", line)
		o.record(model.ActionPreview, model.StatusDryRun, model.PreviewDetail{
			Command:  item.command,
			ReadOnly: item.readOnly,
			Decision: d,
		})
	}
}

// Do runs task: gate already-modified sensitive files, checkpoint, run
// the resolved workflow, then account for everything that changed.
func (o *Orchestrator) Do(ctx context.Context, opts DoOptions) Outcome {
	kind := Resolve(opts.Task)
	inv := o.begin(ctx, "do", opts.Task, kind, o.Plan(kind, opts))
	o.printPlan(inv.plan, string(kind))

	if opts.DryRun {
		o.preview(kind, opts)
		return o.finish(ctx, inv, result{status: model.RunDryRun})
	}

	if sensitive := policy.SensitiveFiles(inv.filesBefore); len(sensitive) > 0 {
		c := o.cfg.Guard.ConfirmSensitiveFiles(ctx, sensitive, "already modified")
		if !c.Approved {
			return o.finish(ctx, inv, result{
				status: model.RunDenied,
				err:    fmt.Errorf("sensitive files already modified: %s", c.Reason),
			})
		}
	}

	// The checkpoint must exist before the first mutating step.
	if r, ok := o.checkpoint(ctx, &inv, opts); !ok {
		return o.finish(ctx, inv, r)
	}

	var r result
	switch kind {
	case KindStartup:
		r = o.startup(ctx)
	case KindFixTests:
		r = o.fixTests(ctx, opts.MaxIters)
	case KindAutofix:
		r = o.autofix(ctx)
	default:
		r = o.generic(ctx, opts)
		if r.status == model.RunOK || r.status == model.RunFailed {
			if denied, ok := o.gateChanges(ctx, inv.filesBefore); !ok {
				r = denied
			}
		}
	}
	return o.finish(ctx, inv, r)
}

// checkpoint creates the git checkpoint and the dense snapshot. Only a
// failed git checkpoint stops the run.
func (o *Orchestrator) checkpoint(ctx context.Context, inv *invocation, opts DoOptions) (result, bool) {
	mode := opts.Checkpoint
	if mode == "" {
		mode = model.CheckpointMode(o.cfg.Settings.Checkpoint.Mode)
	}

	cp, err := o.cfg.Checkpoints.Checkpoint(ctx, opts.Task, mode)
	if err != nil {
		o.errorf("%s %v\n", color.Error("Checkpoint failed:"), err)
		o.record(model.ActionCheckpoint, model.StatusFailed, model.CheckpointDetail{Mode: mode, Error: err.Error()})
		return result{status: model.RunCheckpointFailed, err: err}, false
	}
	o.cfg.Metrics.RecordCheckpoint(string(cp.Mode))
	inv.outcome.Checkpoint = &cp

	status := model.StatusOK
	if cp.Warning != "" {
		status = model.StatusWarning
		o.errorf("%s\n", color.Warning(cp.Warning))
	}
	o.record(model.ActionCheckpoint, status, model.CheckpointDetail{
		Mode:    cp.Mode,
		Ref:     cp.Ref,
		Command: cp.Command,
		Warning: cp.Warning,
	})
	o.printf("Checkpoint: %s (%s)\n", color.Ref(cp.Ref), cp.Mode)

	snap, path, err := o.cfg.Checkpoints.Snapshot(ctx, checkpoint.SnapshotInput{
		Command:    opts.Task,
		Reason:     string(model.ActionDo),
		RunID:      o.cfg.RunID,
		Cwd:        o.cfg.Repo.Root,
		Checkpoint: &cp,
	})
	if err != nil {
		o.cfg.Logger.WarnErr("snapshot failed", err, map[string]any{"run_id": string(o.cfg.RunID)})
		o.record(model.ActionSnapshot, model.StatusFailed, model.SnapshotDetail{Error: err.Error()})
		return result{}, true
	}
	inv.outcome.SnapshotPath = path
	o.record(model.ActionSnapshot, model.StatusOK, model.SnapshotDetail{ID: snap.ID, Path: o.cfg.Repo.Rel(path)})
	return result{}, true
}

// gateChanges asks before accepting sensitive files the run changed.
func (o *Orchestrator) gateChanges(ctx context.Context, before []string) (result, bool) {
	changed := newFiles(before, o.workingFiles(ctx))
	sensitive := policy.SensitiveFiles(changed)
	if len(sensitive) == 0 {
		return result{}, true
	}
	c := o.cfg.Guard.ConfirmSensitiveFiles(ctx, sensitive, "modified during run")
	if c.Approved {
		return result{}, true
	}
	return result{
		status: model.RunDenied,
		err:    fmt.Errorf("sensitive files modified during run: %s", c.Reason),
	}, false
}

// Ask prints the plan for prompt and runs read-only helpers when shell
// use is allowed. It never checkpoints or mutates the tree.
func (o *Orchestrator) Ask(ctx context.Context, opts AskOptions) Outcome {
	inv := o.begin(ctx, "ask", opts.Prompt, KindGeneric, MockPlan(opts.Scan, opts.Grep, false))
	o.printPlan(inv.plan, "mock")

	if !opts.AllowShell {
		if opts.Scan || opts.Grep != "" {
			o.errorf("Helper tools blocked. Re-run with --allow-shell to enable read-only commands.\n")
			o.record(model.ActionHelper, model.StatusBlocked, model.HelperDetail{Helper: "shell", Error: "allow-shell required"})
			return o.finish(ctx, inv, result{status: model.RunBlocked})
		}
		return o.finish(ctx, inv, result{status: model.RunOK})
	}

	r := o.generic(ctx, DoOptions{Scan: opts.Scan, Grep: opts.Grep})
	return o.finish(ctx, inv, r)
}

func (o *Orchestrator) begin(ctx context.Context, mode, task string, kind Kind, plan []string) invocation {
	inv := invocation{
		mode: mode,
		task: task,
		kind: kind,
		plan: plan,
		outcome: Outcome{
			RunID: o.cfg.RunID,
			Kind:  kind,
			Plan:  plan,
		},
	}
	if o.cfg.Runs != nil {
		err := o.cfg.Runs.CreateRun(ctx, model.Run{
			ID:        o.cfg.RunID,
			Mode:      mode,
			Task:      task,
			Summary:   strings.Join(plan, " | "),
			Status:    model.RunRunning,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			o.cfg.Logger.WarnErr("create run failed", err, map[string]any{"run_id": string(o.cfg.RunID)})
		}
	}
	inv.filesBefore = o.workingFiles(ctx)
	return inv
}

// finish writes the closing audit record and run status. It runs on
// every path, including denials and dry runs.
func (o *Orchestrator) finish(ctx context.Context, inv invocation, r result) Outcome {
	out := inv.outcome
	out.Status = r.status
	out.Diagnosis = r.diagnosis
	out.Err = r.err

	after := o.workingFiles(ctx)
	out.FilesChanged = newFiles(inv.filesBefore, after)

	detail := model.InvocationDetail{
		Task:         inv.task,
		Workflow:     string(inv.kind),
		Plan:         inv.plan,
		CommandsRun:  nonNil(o.cfg.Guard.CommandsRun()),
		FilesBefore:  nonNil(inv.filesBefore),
		FilesAfter:   nonNil(after),
		FilesChanged: nonNil(out.FilesChanged),
	}
	if out.Checkpoint != nil {
		detail.Checkpoint = out.Checkpoint.Ref
	}
	action := model.ActionDo
	if inv.mode == "ask" {
		action = model.ActionAsk
	}
	o.record(action, string(r.status), detail)

	summary := strings.Join(inv.plan, " | ")
	if r.diagnosis != nil {
		summary = r.diagnosis.Summary
	}
	if o.cfg.Runs != nil {
		if err := o.cfg.Runs.FinishRun(ctx, o.cfg.RunID, r.status, summary); err != nil {
			o.cfg.Logger.WarnErr("finish run failed", err, map[string]any{"run_id": string(o.cfg.RunID)})
		}
	}
	o.cfg.Metrics.RecordWorkflow(string(inv.kind), string(r.status))

	o.printDiagnosis(r.diagnosis, r.status)
	o.printf("Run %s: %s\n", o.cfg.RunID, color.Status(string(r.status)))
	return out
}

// workingFiles lists changed paths outside the state directory. Outside
// git, or when git fails, nothing is reported.
func (o *Orchestrator) workingFiles(ctx context.Context) []string {
	if o.cfg.Changes == nil {
		return nil
	}
	files, err := o.cfg.Changes.ChangedFiles(ctx)
	if err != nil {
		o.cfg.Logger.WarnErr("list changed files failed", err)
		return nil
	}
	return checkpoint.WorkingChanges(files)
}

// newFiles returns the entries of after missing from before.
func newFiles(before, after []string) []string {
	seen := make(map[string]bool, len(before))
	for _, f := range before {
		seen[f] = true
	}
	var out []string
	for _, f := range after {
		if !seen[f] {
			out = append(out, f)
		}
	}
	return out
}
