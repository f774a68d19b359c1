package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/repoindex"
	"github.com/illuvrse/operator/internal/workflow"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	upCmd     = cli + " up --detach"
	statusCmd = cli + " status"
)

func TestStartup_Healthy(t *testing.T) {
	h := newHarness(t)
	h.runner.on(statusCmd, exitWith(0, "web: running (pid 42, port 3000 open)\n", ""))
	o := h.orchestrator(executor.AutoApprove{})

	out := o.Do(context.Background(), workflow.DoOptions{Task: "start platform"})

	assert.Equal(t, model.RunOK, out.Status)
	assert.Equal(t, workflow.KindStartup, out.Kind)
	assert.Equal(t, "Platform started successfully and passed basic health check.", out.Diagnosis.Summary)
	assert.Empty(t, out.Diagnosis.Suggestions)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sleeps)
	assert.Equal(t, []string{"http://localhost:3000"}, h.prober.urls)
	assert.Equal(t, []string{upCmd, statusCmd}, h.runner.calls)

	health := h.actions(model.ActionHealth)
	require.Len(t, health, 1)
	assert.Equal(t, model.StatusOK, health[0].Status)
}

func TestStartup_UnhealthyPullsLogs(t *testing.T) {
	h := newHarness(t)
	h.prober.healthy = false
	h.runner.on(statusCmd, exitWith(0, "api: stopped (untracked, port 8080 closed)\nweb: running (pid 7, port 3000 closed)\n", ""))
	o := h.orchestrator(executor.AutoApprove{})

	out := o.Do(context.Background(), workflow.DoOptions{Task: "start platform"})

	assert.Equal(t, model.RunFailed, out.Status)
	assert.True(t, errors.Is(out.Err, errclass.ErrCommandFailed))
	assert.Equal(t, 1, h.runner.count(cli+" logs api --tail 200"))
	assert.Equal(t, 1, h.runner.count(cli+" logs web --tail 200"))

	summary := out.Diagnosis.Summary
	assert.Contains(t, summary, "web service not responding on http://localhost:3000.")
	assert.Contains(t, summary, "unhealthy services: api, web")
	assert.NotContains(t, summary, "up failed")
	assert.Len(t, out.Diagnosis.Suggestions, 3)
}

func TestStartup_UpFailure(t *testing.T) {
	h := newHarness(t)
	h.runner.on(upCmd, exitWith(1, "", "port in use"))
	o := h.orchestrator(executor.AutoApprove{})

	out := o.Do(context.Background(), workflow.DoOptions{Task: "start platform"})

	assert.Equal(t, model.RunFailed, out.Status)
	assert.Contains(t, out.Diagnosis.Summary, "platform up failed; check CLI output and dependencies.")
	assert.Contains(t, out.Diagnosis.Summary, "unhealthy services: web")
	assert.Equal(t, 1, h.runner.count(cli+" logs web --tail 200"))
}

func TestStartup_StatusFailureUsesDefaultService(t *testing.T) {
	h := newHarness(t)
	h.runner.on(statusCmd, exitWith(2, "", "no state"))
	o := h.orchestrator(executor.AutoApprove{})

	out := o.Do(context.Background(), workflow.DoOptions{Task: "start platform"})

	assert.Equal(t, model.RunFailed, out.Status)
	assert.Equal(t, "platform status failed; check CLI output and environment.", out.Diagnosis.Summary)
	assert.Equal(t, 1, h.runner.count(cli+" logs web --tail 200"))
}

func TestStartup_IndexedServicesSuggested(t *testing.T) {
	h := newHarness(t)
	h.prober.healthy = false
	h.index = &repoindex.Index{Services: repoindex.Services{Compose: []repoindex.ComposeFile{{
		File:     "docker-compose.yml",
		Services: []repoindex.ComposeService{{Name: "worker"}, {Name: "api"}},
	}}}}
	o := h.orchestrator(executor.AutoApprove{})

	out := o.Do(context.Background(), workflow.DoOptions{Task: "start platform"})

	require.Len(t, out.Diagnosis.Suggestions, 4)
	assert.Equal(t, "Indexed services to inspect: api, worker.", out.Diagnosis.Suggestions[3])
}

func TestParseStatusFailures(t *testing.T) {
	output := "api: stopped (untracked)\nweb: running (pid 1)\nworker.v2: UNKNOWN\n  db: stopped\napi: stopped\n"
	assert.Equal(t, []string{"api", "worker.v2", "db"}, workflow.ParseStatusFailures(output))
	assert.Empty(t, workflow.ParseStatusFailures(""))
}
