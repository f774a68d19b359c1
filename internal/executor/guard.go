package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/illuvrse/operator/internal/policy"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/fsutil"
	"github.com/illuvrse/operator/pkg/logging"
	"github.com/illuvrse/operator/pkg/metrics"
	"github.com/illuvrse/operator/pkg/model"
	"github.com/illuvrse/operator/pkg/pathutil"
)

// Recorder receives one audit record per guarded event, in order.
type Recorder interface {
	Record(action model.AuditAction, status string, detail any) error
}

// Status is the outcome class of a guarded command.
type Status string

const (
	StatusOK     Status = "ok"
	StatusDenied Status = "denied"
	StatusFailed Status = "failed"
)

// Outcome is what Run returns. Result is nil when nothing was spawned.
type Outcome struct {
	Command      string
	Status       Status
	Decision     model.PolicyDecision
	Confirmation *Confirmation
	Result       *Result
	Reason       string
}

// OK reports whether the command ran and exited zero.
func (o Outcome) OK() bool { return o.Status == StatusOK }

// Output returns the combined captured output, or "" if nothing ran.
func (o Outcome) Output() string {
	if o.Result == nil {
		return ""
	}
	return o.Result.Combined()
}

// Err maps the outcome onto the error taxonomy; nil when OK.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusOK:
		return nil
	case StatusDenied:
		if o.Decision.Status == model.DecisionDeny {
			return errclass.ErrPolicyDenied.WithMessagef("%s: %s", o.Command, o.Reason)
		}
		return errclass.ErrConfirmationDeclined.WithMessagef("%s: %s", o.Command, o.Reason)
	default:
		return errclass.ErrCommandFailed.WithMessagef("%s: %s", o.Command, o.Reason)
	}
}

// RunOptions modify one guarded call.
type RunOptions struct {
	ReadOnly bool
	Dir      string        // defaults to the guard's directory
	Timeout  time.Duration // overrides the guard default when > 0
	Quiet    bool          // suppress the live output echo

	// OKExitCodes are non-zero exits that still count as success, such
	// as grep reporting no matches.
	OKExitCodes []int
}

func (o RunOptions) accepts(code int) bool {
	if code == 0 {
		return true
	}
	for _, c := range o.OKExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// GuardConfig wires a Guard.
type GuardConfig struct {
	Policy      *policy.Engine
	Runner      Runner
	Confirmer   Confirmer
	Recorder    Recorder
	Metrics     *metrics.Collector
	Logger      *logging.Logger
	Dir         string
	Timeout     time.Duration
	OutputLimit int
	Stdout      io.Writer
	Stderr      io.Writer
}

// Guard is the choke point for every external process: policy check,
// optional confirmation, execution, captured result, audit record.
type Guard struct {
	cfg GuardConfig

	mu          sync.Mutex
	commandsRun []string
}

// NewGuard validates cfg and returns a Guard.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Policy == nil || cfg.Runner == nil || cfg.Confirmer == nil || cfg.Recorder == nil {
		return nil, fmt.Errorf("guard requires policy, runner, confirmer and recorder")
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = 1200
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}
	return &Guard{cfg: cfg}, nil
}

// Dir returns the default working directory.
func (g *Guard) Dir() string { return g.cfg.Dir }

// Preview evaluates command without running, prompting or auditing it.
func (g *Guard) Preview(command string, opts RunOptions) model.PolicyDecision {
	return g.cfg.Policy.Evaluate(command, policy.Options{ReadOnly: opts.ReadOnly})
}

// Run passes command through the guard. A denied command never reaches
// the shell; every path appends exactly one audit record for the
// decision taken and, if spawned, one for the execution.
func (g *Guard) Run(ctx context.Context, command string, opts RunOptions) Outcome {
	decision := g.cfg.Policy.Evaluate(command, policy.Options{ReadOnly: opts.ReadOnly})
	g.cfg.Metrics.RecordDecision(string(decision.Status))
	out := Outcome{Command: command, Decision: decision}

	switch decision.Status {
	case model.DecisionDeny:
		g.record(model.ActionGuardrail, model.StatusDenied, model.GuardrailDetail{
			Kind:    model.GuardCommand,
			Command: command,
			Rule:    decision.Rule,
			Reason:  decision.Reason,
		})
		g.cfg.Metrics.RecordCommand(string(StatusDenied), false, 0)
		out.Status = StatusDenied
		out.Reason = decision.Reason
		return out

	case model.DecisionConfirm:
		c := g.cfg.Confirmer.Confirm(ctx, ConfirmRequest{
			Label:  fmt.Sprintf("Command %q", command),
			Reason: decision.Reason,
		})
		out.Confirmation = &c
		status := model.StatusConfirmed
		if !c.Approved {
			status = model.StatusDenied
		}
		g.record(model.ActionGuardrail, status, model.GuardrailDetail{
			Kind:    model.GuardCommand,
			Command: command,
			Rule:    decision.Rule,
			Reason:  decision.Reason,
			Method:  c.Method,
			Refusal: c.Reason,
		})
		g.cfg.Metrics.RecordConfirmation(string(model.GuardCommand), status)
		if !c.Approved {
			g.cfg.Metrics.RecordCommand(string(StatusDenied), false, 0)
			out.Status = StatusDenied
			out.Reason = c.Reason
			return out
		}
	}

	return g.execute(ctx, command, opts, out)
}

func (g *Guard) execute(ctx context.Context, command string, opts RunOptions, out Outcome) Outcome {
	dir := opts.Dir
	if dir == "" {
		dir = g.cfg.Dir
	}
	timeout := g.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	cmd := Command{Line: command, Dir: dir, Timeout: timeout}
	if !opts.Quiet {
		cmd.Stdout = g.cfg.Stdout
		cmd.Stderr = g.cfg.Stderr
	}

	g.mu.Lock()
	g.commandsRun = append(g.commandsRun, command)
	g.mu.Unlock()

	res, err := g.cfg.Runner.Run(ctx, cmd)
	out.Result = &res

	detail := model.CommandDetail{
		Command:    command,
		Dir:        dir,
		ReadOnly:   opts.ReadOnly,
		Decision:   out.Decision,
		ExitCode:   res.ExitCode,
		DurationMS: res.Duration.Milliseconds(),
		TimedOut:   res.TimedOut,
		Stdout:     Summarize(res.Stdout, g.cfg.OutputLimit),
		Stderr:     Summarize(res.Stderr, g.cfg.OutputLimit),
	}
	switch {
	case err != nil:
		detail.Error = err.Error()
		out.Status = StatusFailed
		out.Reason = err.Error()
	case res.TimedOut:
		detail.Error = fmt.Sprintf("timed out after %s", timeout)
		out.Status = StatusFailed
		out.Reason = detail.Error
	case !opts.accepts(res.ExitCode):
		out.Status = StatusFailed
		out.Reason = fmt.Sprintf("exit code %d", res.ExitCode)
	default:
		out.Status = StatusOK
	}

	status := model.StatusOK
	if out.Status != StatusOK {
		status = model.StatusFailed
	}
	g.record(model.ActionCommand, status, detail)
	g.cfg.Metrics.RecordCommand(string(out.Status), true, res.Duration)
	return out
}

// Gate is a confirmation that does not belong to a command, such as
// applying a doctor fix or touching sensitive files.
type Gate struct {
	Kind    model.GuardrailKind
	Label   string
	Reason  string
	Files   []string
	CheckID string
	FixID   string
}

// Confirm asks for approval of gate and audits the outcome.
func (g *Guard) Confirm(ctx context.Context, gate Gate) Confirmation {
	c := g.cfg.Confirmer.Confirm(ctx, ConfirmRequest{Label: gate.Label, Reason: gate.Reason})
	status := model.StatusConfirmed
	if !c.Approved {
		status = model.StatusDenied
	}
	g.record(model.ActionGuardrail, status, model.GuardrailDetail{
		Kind:    gate.Kind,
		Files:   gate.Files,
		CheckID: gate.CheckID,
		FixID:   gate.FixID,
		Reason:  gate.Reason,
		Method:  c.Method,
		Refusal: c.Reason,
	})
	g.cfg.Metrics.RecordConfirmation(string(gate.Kind), status)
	return c
}

// ConfirmSensitiveFiles gates edits to files the policy flags as
// sensitive. An empty list is approved without prompting or auditing.
func (g *Guard) ConfirmSensitiveFiles(ctx context.Context, files []string, where string) Confirmation {
	if len(files) == 0 {
		return Confirmation{Approved: true}
	}
	return g.Confirm(ctx, Gate{
		Kind:   model.GuardFile,
		Label:  fmt.Sprintf("Sensitive files %s: %s", where, strings.Join(files, ", ")),
		Reason: "file edit policy",
		Files:  files,
	})
}

// CreateMissing creates each repository-relative file that does not
// exist yet, empty. Existing files are never touched. Creation stops at
// the first failure, which is audited and returned.
func (g *Guard) CreateMissing(root string, files []string) ([]string, error) {
	var created []string
	for _, rel := range files {
		target, err := pathutil.ResolveInRepo(root, rel)
		if err == nil {
			if fsutil.Exists(target) {
				continue
			}
			err = fsutil.WriteExclusive(target, nil, 0644)
			if errors.Is(err, fsutil.ErrExists) {
				continue
			}
		}
		if err != nil {
			g.record(model.ActionFile, model.StatusFailed, model.FileDetail{File: rel, Error: err.Error()})
			return created, fmt.Errorf("create %s: %w", rel, err)
		}
		created = append(created, pathutil.Normalize(rel))
	}
	if len(created) > 0 {
		g.record(model.ActionFile, model.StatusCreated, model.FileDetail{Files: created})
	}
	return created, nil
}

// CommandsRun lists every command that was actually spawned, in order.
func (g *Guard) CommandsRun() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.commandsRun...)
}

// Record appends an audit record through the guard's recorder. Workflow
// steps that are not processes (diagnoses, health probes) use this so the
// trail stays complete.
func (g *Guard) Record(action model.AuditAction, status string, detail any) {
	g.record(action, status, detail)
}

func (g *Guard) record(action model.AuditAction, status string, detail any) {
	if err := g.cfg.Recorder.Record(action, status, detail); err != nil {
		g.cfg.Logger.ErrorErr("audit record failed", err, map[string]any{
			"action": string(action),
			"status": status,
		})
	}
}

// Summarize truncates s to limit characters, marking the cut with "...".
func Summarize(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
