package policy_test

import (
	"testing"

	"github.com/illuvrse/operator/internal/policy"
	"github.com/illuvrse/operator/pkg/model"
)

// FuzzEvaluate checks the decision invariants on arbitrary commands.
//
//	go test -fuzz=FuzzEvaluate -fuzztime=30s ./internal/policy/
func FuzzEvaluate(f *testing.F) {
	f.Add("")
	f.Add("git status")
	f.Add("rm -rf /")
	f.Add("rm -r -f build")
	f.Add("sudo ls")
	f.Add("git push origin main")
	f.Add("cp .env.example .env")
	f.Add("dd if=/dev/zero of=/dev/sda")
	f.Add("chmod -R 777 .")
	f.Add("pnpm deploy && ./scripts/prod-stop.sh")
	f.Add("echo '\x00\n\t'")

	engine := policy.Default()
	f.Fuzz(func(t *testing.T, command string) {
		full := engine.Evaluate(command, policy.Options{})
		ro := engine.Evaluate(command, policy.Options{ReadOnly: true})

		switch full.Status {
		case model.DecisionAllow, model.DecisionConfirm, model.DecisionDeny:
		default:
			t.Fatalf("unknown status %q for %q", full.Status, command)
		}
		if ro.Status == model.DecisionConfirm {
			t.Errorf("read-only evaluation asked for confirmation: %q", command)
		}
		if (full.Status == model.DecisionDeny) != (ro.Status == model.DecisionDeny) {
			t.Errorf("deny differs by read-only flag for %q: %s vs %s", command, full.Status, ro.Status)
		}
		if full.Status != model.DecisionAllow && (full.Rule == "" || full.Reason == "") {
			t.Errorf("decision %s without rule or reason for %q", full.Status, command)
		}
		if again := engine.Evaluate(command, policy.Options{}); again != full {
			t.Errorf("inconsistent decision for %q: %+v vs %+v", command, full, again)
		}
	})
}

// FuzzSensitiveFiles checks that the batch and single-path forms agree.
func FuzzSensitiveFiles(f *testing.F) {
	f.Add(".env")
	f.Add("apps/web/.env.local")
	f.Add("secrets/token.txt")
	f.Add("certs/server.pem")
	f.Add("src/keys/index.ts")
	f.Add("README.md")
	f.Add("../.env")
	f.Add("")

	f.Fuzz(func(t *testing.T, path string) {
		got := policy.SensitiveFiles([]string{path})
		if policy.IsSensitive(path) != (len(got) == 1) {
			t.Errorf("IsSensitive and SensitiveFiles disagree for %q", path)
		}
	})
}
