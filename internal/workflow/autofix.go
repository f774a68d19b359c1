package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/policy"
	"github.com/illuvrse/operator/pkg/model"
)

// Skip reasons for doctor fixes.
const (
	SkipUnsafe        = "unsafe fix"
	SkipEmpty         = "no commands or files"
	SkipCommandFailed = "command failed"
	SkipFileFailed    = "file creation failed"
	SkipTargetsExist  = "fix targets already exist"
)

// inspect runs the doctor and parses its report. The exit code is
// ignored: a failing report still exits non-zero.
func (o *Orchestrator) inspect(ctx context.Context, command string) (*model.DoctorReport, *result) {
	out := o.run(ctx, command, executor.RunOptions{Quiet: true})
	if out.Status == executor.StatusDenied {
		o.record(model.ActionDoctor, model.StatusDenied, model.DoctorDetail{Command: command, Error: out.Reason})
		r := o.refused(KindAutofix, out)
		return nil, &r
	}

	var stdout string
	if out.Result != nil {
		stdout = out.Result.Stdout
	}
	report, err := model.ParseDoctorReport([]byte(stdout))
	if err != nil {
		o.errorf("Doctor JSON parse failed: %v\n", err)
		o.record(model.ActionDoctor, model.StatusFailed, model.DoctorDetail{Command: command, Error: err.Error()})
		r := o.conclude(KindAutofix, model.RunFailed, model.DiagnosisDetail{
			Summary: "Doctor report could not be parsed.",
			Suggestions: []string{
				fmt.Sprintf("Run %s and check its output.", command),
			},
		}, err)
		return nil, &r
	}
	return report, nil
}

// autofix applies safe doctor remediations: inspecting, fixing, then
// reinspecting to see what actually changed.
func (o *Orchestrator) autofix(ctx context.Context) result {
	command := o.platform("doctor", "--json")

	before, failed := o.inspect(ctx, command)
	if failed != nil {
		return *failed
	}

	var (
		applied []model.AppliedFix
		skipped []model.SkippedFix
	)
	skip := func(check model.DoctorCheck, reason string) {
		detail := model.FixDetail{CheckID: check.ID, Reason: reason}
		if check.Fix != nil {
			detail.FixID = check.Fix.ID
		}
		o.record(model.ActionFix, model.StatusSkipped, detail)
		skipped = append(skipped, model.SkippedFix{CheckID: check.ID, Reason: reason})
	}

	var safe []model.DoctorCheck
	for _, check := range before.Checks {
		if !check.Status.NeedsAttention() || check.Fix == nil {
			continue
		}
		if check.HasSafeFix() {
			safe = append(safe, check)
			continue
		}
		skip(check, SkipUnsafe)
	}

	for _, check := range safe {
		fix := check.Fix
		if len(fix.Commands) == 0 && len(fix.Files) == 0 {
			skip(check, SkipEmpty)
			continue
		}
		if o.targetsExist(fix.Files) {
			skip(check, SkipTargetsExist)
			continue
		}

		c := o.cfg.Guard.Confirm(ctx, executor.Gate{
			Kind:    model.GuardFix,
			Label:   fmt.Sprintf("Apply safe fix %q", check.ID),
			Reason:  "doctor autofix",
			CheckID: check.ID,
			FixID:   fix.ID,
		})
		if !c.Approved {
			skip(check, c.Reason)
			continue
		}

		if sensitive := policy.SensitiveFiles(fix.Files); len(sensitive) > 0 {
			c := o.cfg.Guard.ConfirmSensitiveFiles(ctx, sensitive, "requested by doctor autofix")
			if !c.Approved {
				skip(check, c.Reason)
				continue
			}
		}

		// Targets may have appeared while the gates waited for approval.
		if o.targetsExist(fix.Files) {
			skip(check, SkipTargetsExist)
			continue
		}

		ok := true
		for _, cmd := range fix.Commands {
			out := o.run(ctx, cmd, executor.RunOptions{})
			if out.OK() {
				continue
			}
			reason := SkipCommandFailed
			if out.Status == executor.StatusDenied {
				reason = out.Reason
			}
			skip(check, reason)
			ok = false
			break
		}
		if !ok {
			continue
		}

		if len(fix.Commands) == 0 {
			if _, err := o.cfg.Guard.CreateMissing(o.cfg.Repo.Root, fix.Files); err != nil {
				skip(check, SkipFileFailed)
				continue
			}
		}

		o.record(model.ActionFix, model.StatusOK, model.FixDetail{CheckID: check.ID, FixID: fix.ID})
		applied = append(applied, model.AppliedFix{CheckID: check.ID, FixID: fix.ID})
	}

	after, failed := o.inspect(ctx, command)
	if failed != nil {
		return *failed
	}

	d := CompareReports(before, after)
	d.Summary = "Doctor autofix complete."
	d.AppliedFixes = applied
	d.SkippedFixes = skipped

	appliedIDs := make([]string, 0, len(applied))
	for _, a := range applied {
		appliedIDs = append(appliedIDs, a.CheckID)
	}
	o.printf("Doctor autofix summary:\n")
	o.printf("Applied fixes: %s\n", listOrNone(appliedIDs))
	o.printf("Fixed checks: %s\n", listOrNone(d.FixedChecks))
	o.printf("Remaining fails: %s\n", listOrNone(d.RemainingFails))
	o.printf("Remaining warns: %s\n", listOrNone(d.RemainingWarns))
	o.printf("Manual actions: %s\n", listOrNone(d.ManualActions))

	if len(d.RemainingFails) > 0 {
		d.Suggestions = []string{
			fmt.Sprintf("Run %s to review the remaining failures.", o.platform("doctor")),
		}
		return o.conclude(KindAutofix, model.RunFailed, d, nil)
	}
	return o.conclude(KindAutofix, model.RunOK, d, nil)
}

// targetsExist reports whether a fix declares files and every one of them
// is already present; running its commands could only overwrite them.
func (o *Orchestrator) targetsExist(files []string) bool {
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		if _, err := os.Lstat(filepath.Join(o.cfg.Repo.Root, f)); err != nil {
			return false
		}
	}
	return true
}

// CompareReports diffs two doctor reports by check id: which checks went
// from warn/fail to pass, which still fail or warn, and which need a
// human because no safe fix exists.
func CompareReports(before, after *model.DoctorReport) model.DiagnosisDetail {
	d := model.DiagnosisDetail{
		FixedChecks:    []string{},
		RemainingFails: []string{},
		RemainingWarns: []string{},
		ManualActions:  []string{},
	}
	for _, check := range after.Checks {
		if prev, ok := before.Check(check.ID); ok && prev.Status.NeedsAttention() && check.Status == model.CheckPass {
			d.FixedChecks = append(d.FixedChecks, check.ID)
		}
		switch check.Status {
		case model.CheckFail:
			d.RemainingFails = append(d.RemainingFails, check.ID)
		case model.CheckWarn:
			d.RemainingWarns = append(d.RemainingWarns, check.ID)
		}
		if check.Status.NeedsAttention() && !check.HasSafeFix() {
			d.ManualActions = append(d.ManualActions, check.ID)
		}
	}
	return d
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
