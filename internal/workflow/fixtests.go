package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/platform"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
)

const maxLikelyFiles = 20

// Fixer kinds.
const (
	FixerLint      = "lint"
	FixerSnapshots = "snapshots"
)

// DefaultSnapshotCommand regenerates test snapshots when configuration
// does not name a command.
const DefaultSnapshotCommand = "pnpm --filter @illuvrse/tests test -- --update-snapshots"

var (
	likelyFilePattern = regexp.MustCompile(`([A-Za-z0-9_./\\-]+\.(tsx|ts|jsx|json|js|mjs|cjs|md|scss|css|yaml|yml|toml|go|py))(:\d+(:\d+)?)?`)
	lintPattern       = regexp.MustCompile(`(?i)eslint|lint`)
	snapshotPattern   = regexp.MustCompile(`(?i)snapshot|snapshots|toMatchSnapshot`)
)

// LikelyFiles extracts path-like tokens from test output that name files
// existing under root, as root-relative slash paths. At most 20 are
// returned, in order of first appearance.
func LikelyFiles(output, root string) []string {
	var files []string
	for _, m := range likelyFilePattern.FindAllStringSubmatch(output, -1) {
		candidate := filepath.FromSlash(strings.ReplaceAll(m[1], `\`, "/"))
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(root, candidate)
		}
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(root, candidate)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		files = appendUnique(files, filepath.ToSlash(rel))
		if len(files) == maxLikelyFiles {
			break
		}
	}
	return files
}

// DetectFixers matches test output against the known fixer categories.
func (o *Orchestrator) DetectFixers(output string) []model.FixerPlan {
	ft := o.cfg.Settings.Workflows.FixTests
	var fixers []model.FixerPlan
	if lintPattern.MatchString(output) {
		command := ft.LintFixCommand
		if command == "" {
			command = "pnpm --filter web lint -- --fix"
			if _, ok := platform.ReadScripts(o.cfg.Repo.Root)["lint"]; ok {
				command = "pnpm lint -- --fix"
			}
		}
		fixers = append(fixers, model.FixerPlan{Kind: FixerLint, Command: command, Reason: "lint errors detected"})
	}
	if snapshotPattern.MatchString(output) {
		command := ft.SnapshotUpdateCommand
		if command == "" {
			command = DefaultSnapshotCommand
		}
		fixers = append(fixers, model.FixerPlan{Kind: FixerSnapshots, Command: command, Reason: "snapshot mismatch detected"})
	}
	return fixers
}

// FixPlan lists the steps one analyzed attempt leads to.
func FixPlan(likely []string, fixers []model.FixerPlan) []string {
	var steps []string
	if len(likely) > 0 {
		steps = append(steps, "Inspect likely failing files: "+strings.Join(likely, ", "))
	}
	if len(fixers) == 0 {
		steps = append(steps, "No automated fixers matched; inspect test output manually.")
	}
	for _, f := range fixers {
		steps = append(steps, fmt.Sprintf("Run fixer (%s): %s", f.Kind, f.Command))
	}
	return append(steps, "Re-run tests and re-evaluate.")
}

// maxIters resolves the iteration bound: flag, then configuration
// (which already carries the environment override), never below one.
func (o *Orchestrator) maxIters(flag int) int {
	n := flag
	if n <= 0 {
		n = o.cfg.Settings.Workflows.FixTests.MaxIters
	}
	if n < 1 {
		n = 1
	}
	return n
}

// fixTests runs the bounded loop: testing, analyzing, fixing, testing
// again until the suite passes or the bound is spent. No fixer runs
// after the last permitted test run.
func (o *Orchestrator) fixTests(ctx context.Context, flagIters int) result {
	iterations := o.maxIters(flagIters)
	testCommand := o.platform("test")

	for attempt := 1; attempt <= iterations; attempt++ {
		test := o.run(ctx, testCommand, executor.RunOptions{})
		if test.Status == executor.StatusDenied {
			return o.refused(KindFixTests, test)
		}
		if test.OK() {
			return o.conclude(KindFixTests, model.RunOK, model.DiagnosisDetail{
				Summary: fmt.Sprintf("Tests passing after %d attempt(s).", attempt),
			}, nil)
		}

		output := test.Output()
		likely := LikelyFiles(output, o.cfg.Repo.Root)
		fixers := o.DetectFixers(output)
		steps := FixPlan(likely, fixers)

		o.record(model.ActionAnalysis, model.StatusFailed, model.AnalysisDetail{
			Attempt:     attempt,
			MaxIters:    iterations,
			LikelyFiles: nonNil(likely),
			Fixers:      fixers,
			Plan:        steps,
		})

		o.printf("Attempt %d/%d: tests failed.\n", attempt, iterations)
		if len(likely) > 0 {
			o.printf("Likely files: %s\n", strings.Join(likely, ", "))
		}
		for i, step := range steps {
			o.printf("%d. %s\n", i+1, step)
		}

		if len(fixers) == 0 {
			return o.conclude(KindFixTests, model.RunFailed, model.DiagnosisDetail{
				Summary: "No automated fixes matched; stopping.",
				Suggestions: []string{
					"Inspect test output for failing assertions or config issues.",
					"Open the likely failing files and apply manual fixes.",
				},
			}, errclass.ErrCommandFailed.WithMessagef("%s: %s", testCommand, test.Reason))
		}
		if attempt == iterations {
			break
		}

		for _, fixer := range fixers {
			fix := o.run(ctx, fixer.Command, executor.RunOptions{})
			if fix.Status == executor.StatusDenied {
				return o.refused(KindFixTests, fix)
			}
			if !fix.OK() {
				return o.conclude(KindFixTests, model.RunFailed, model.DiagnosisDetail{
					Summary:     fmt.Sprintf("Fixer failed (%s).", fixer.Kind),
					Suggestions: []string{"Review fixer output and apply manual changes."},
				}, fix.Err())
			}
		}
	}

	return o.conclude(KindFixTests, model.RunFailed, model.DiagnosisDetail{
		Summary: fmt.Sprintf("Tests still failing after %d attempt(s).", iterations),
		Suggestions: []string{
			"Inspect failing output in the audit log.",
			"Investigate likely files and apply manual fixes.",
			fmt.Sprintf("Re-run %s after changes.", testCommand),
		},
	}, errclass.ErrIterationExhausted.WithMessagef("%d attempt(s)", iterations))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
