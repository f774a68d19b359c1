package workflow_test

import (
	"testing"

	"github.com/illuvrse/operator/internal/workflow"
)

// FuzzResolve checks that every task text maps to a known workflow.
func FuzzResolve(f *testing.F) {
	f.Add("start platform")
	f.Add("please START   platform now")
	f.Add("fix failing tests")
	f.Add("doctor autofix")
	f.Add("doctor auto-fix")
	f.Add("run the doctor")
	f.Add("")

	f.Fuzz(func(t *testing.T, task string) {
		switch k := workflow.Resolve(task); k {
		case workflow.KindStartup, workflow.KindFixTests, workflow.KindAutofix, workflow.KindGeneric:
		default:
			t.Fatalf("unknown kind %q for %q", k, task)
		}
	})
}

// FuzzParseStatusFailures checks the status parser on arbitrary output.
func FuzzParseStatusFailures(f *testing.F) {
	f.Add("web: stopped\napi: running")
	f.Add("db   exited (1)\n")
	f.Add("")
	f.Add("\n\n\t")

	f.Fuzz(func(t *testing.T, output string) {
		seen := map[string]bool{}
		for _, name := range workflow.ParseStatusFailures(output) {
			if name == "" {
				t.Errorf("empty service name from %q", output)
			}
			if seen[name] {
				t.Errorf("duplicate service %q from %q", name, output)
			}
			seen[name] = true
		}
	})
}
