package workflow

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/platform"
	"github.com/illuvrse/operator/internal/repo"
	"github.com/illuvrse/operator/pkg/model"
)

const (
	maxGrepLines = 200
	maxTopLevels = 10
)

// MockPlan is the fixed plan shown for tasks no workflow recognizes.
func MockPlan(scan bool, grep string, test bool) []string {
	steps := []string{"Review repo context and relevant files"}
	if scan {
		steps = append(steps, "Scan the repo for relevant files")
	}
	if grep != "" {
		steps = append(steps, "Search for pattern: "+grep)
	}
	steps = append(steps, "Outline minimal changes needed")
	if test {
		steps = append(steps, "Run relevant tests")
	}
	return append(steps, "Summarize changes and next steps")
}

func (o *Orchestrator) hasRipgrep() bool {
	_, err := o.cfg.LookPath("rg")
	return err == nil
}

// scanCommand lists every file in the repository.
func (o *Orchestrator) scanCommand() string {
	if o.hasRipgrep() {
		return "rg --files"
	}
	state := "./" + repo.StateDirName + "/*"
	return "find . -type f -not -path './node_modules/*' -not -path './.git/*' -not -path " + executor.Quote(state)
}

// grepCommand searches file contents for pattern.
func (o *Orchestrator) grepCommand(pattern string) string {
	if o.hasRipgrep() {
		return "rg -n " + executor.Quote(pattern)
	}
	return "grep -R -n " + executor.Quote(pattern) + " ."
}

// testCommand is the suite command the generic plan runs directly.
func (o *Orchestrator) testCommand() string {
	if c := o.cfg.Settings.Platform.TestCommand; c != "" {
		return c
	}
	return platform.TestCommand(platform.ReadScripts(o.cfg.Repo.Root))
}

// TopLevels counts files per first path segment and returns the largest
// groups as "name: count", at most ten.
func TopLevels(files []string) []string {
	counts := make(map[string]int)
	for _, f := range files {
		f = strings.TrimPrefix(path.Clean(f), "./")
		segment, _, _ := strings.Cut(f, "/")
		if segment == "" || segment == "." {
			continue
		}
		counts[segment]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > maxTopLevels {
		names = names[:maxTopLevels]
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Sprintf("%s: %d", name, counts[name]))
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// helperResult reports a read-only helper; denied is set when the guard
// refused the command.
type helperResult struct {
	out    executor.Outcome
	denied bool
	failed bool
}

func (o *Orchestrator) scan(ctx context.Context) helperResult {
	command := o.scanCommand()
	out := o.run(ctx, command, executor.RunOptions{ReadOnly: true, Quiet: true})
	if out.Status == executor.StatusDenied {
		return helperResult{out: out, denied: true}
	}
	if !out.OK() {
		reason := out.Reason
		if out.Result != nil && strings.TrimSpace(out.Result.Stderr) != "" {
			reason = strings.TrimSpace(out.Result.Stderr)
		}
		o.errorf("Scan failed: %s\n", reason)
		o.record(model.ActionHelper, model.StatusFailed, model.HelperDetail{Helper: "scan", Command: command, Error: reason})
		return helperResult{out: out, failed: true}
	}

	files := splitLines(out.Result.Stdout)
	tops := TopLevels(files)
	o.printf("Repo scan: %d files. Top-level: %s\n", len(files), strings.Join(tops, ", "))
	o.record(model.ActionHelper, model.StatusOK, model.HelperDetail{
		Helper:    "scan",
		Command:   command,
		Total:     len(files),
		TopLevels: tops,
	})
	return helperResult{out: out}
}

func (o *Orchestrator) grep(ctx context.Context, pattern string) helperResult {
	command := o.grepCommand(pattern)
	// Exit status 1 means no matches.
	out := o.run(ctx, command, executor.RunOptions{ReadOnly: true, Quiet: true, OKExitCodes: []int{1}})
	if out.Status == executor.StatusDenied {
		return helperResult{out: out, denied: true}
	}
	if !out.OK() {
		reason := out.Reason
		if out.Result != nil && strings.TrimSpace(out.Result.Stderr) != "" {
			reason = strings.TrimSpace(out.Result.Stderr)
		}
		o.errorf("Grep failed: %s\n", reason)
		o.record(model.ActionHelper, model.StatusFailed, model.HelperDetail{
			Helper: "grep", Command: command, Pattern: pattern, Error: reason,
		})
		return helperResult{out: out, failed: true}
	}

	lines := splitLines(out.Result.Stdout)
	o.printf("Grep matches: %d\n", len(lines))
	shown := lines
	if len(shown) > maxGrepLines {
		shown = shown[:maxGrepLines]
	}
	for _, line := range shown {
		o.printf("%s\n", line)
	}
	o.record(model.ActionHelper, model.StatusOK, model.HelperDetail{
		Helper:  "grep",
		Command: command,
		Pattern: pattern,
		Total:   len(lines),
	})
	return helperResult{out: out}
}

// generic runs the optional helpers of the fallback plan. Any refused
// command ends the run as denied; a failed helper or test marks it
// failed but the remaining steps still run.
func (o *Orchestrator) generic(ctx context.Context, opts DoOptions) result {
	failed := false

	if opts.Scan {
		r := o.scan(ctx)
		if r.denied {
			return o.refused(KindGeneric, r.out)
		}
		failed = failed || r.failed
	}
	if opts.Grep != "" {
		r := o.grep(ctx, opts.Grep)
		if r.denied {
			return o.refused(KindGeneric, r.out)
		}
		failed = failed || r.failed
	}
	if opts.Test {
		out := o.run(ctx, o.testCommand(), executor.RunOptions{})
		if out.Status == executor.StatusDenied {
			return o.refused(KindGeneric, out)
		}
		failed = failed || !out.OK()
	}

	if failed {
		return result{status: model.RunFailed}
	}
	return result{status: model.RunOK}
}
