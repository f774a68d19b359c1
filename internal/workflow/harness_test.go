package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/illuvrse/operator/internal/audit"
	"github.com/illuvrse/operator/internal/checkpoint"
	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/policy"
	"github.com/illuvrse/operator/internal/repo"
	"github.com/illuvrse/operator/internal/repoindex"
	"github.com/illuvrse/operator/internal/store"
	"github.com/illuvrse/operator/internal/workflow"
	"github.com/illuvrse/operator/pkg/config"
	"github.com/illuvrse/operator/pkg/model"
	"github.com/stretchr/testify/require"
)

const cli = "./illuvrse"

// step is one scripted response; effect runs before the result is
// returned, standing in for what the real command would change.
type step struct {
	res    executor.Result
	effect func()
}

// scriptRunner replays per-command responses in order, repeating the
// last one. Unscripted commands succeed with no output.
type scriptRunner struct {
	mu     sync.Mutex
	script map[string][]step
	calls  []string
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{script: map[string][]step{}}
}

func (r *scriptRunner) on(command string, steps ...step) {
	r.script[command] = append(r.script[command], steps...)
}

func (r *scriptRunner) Run(_ context.Context, cmd executor.Command) (executor.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd.Line)
	steps := r.script[cmd.Line]
	if len(steps) == 0 {
		return executor.Result{Duration: time.Millisecond}, nil
	}
	s := steps[0]
	if len(steps) > 1 {
		r.script[cmd.Line] = steps[1:]
	}
	if s.effect != nil {
		s.effect()
	}
	return s.res, nil
}

func (r *scriptRunner) count(command string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == command {
			n++
		}
	}
	return n
}

type fakeCheckpointer struct {
	err       error
	modes     []model.CheckpointMode
	snapshots []checkpoint.SnapshotInput
	dir       string
}

func (f *fakeCheckpointer) Checkpoint(_ context.Context, _ string, mode model.CheckpointMode) (model.CheckpointResult, error) {
	f.modes = append(f.modes, mode)
	if f.err != nil {
		return model.CheckpointResult{}, f.err
	}
	return model.CheckpointResult{Ref: "operator/checkpoint/test", Mode: mode, Command: "git branch operator/checkpoint/test"}, nil
}

func (f *fakeCheckpointer) Snapshot(_ context.Context, in checkpoint.SnapshotInput) (*model.Snapshot, string, error) {
	f.snapshots = append(f.snapshots, in)
	return &model.Snapshot{ID: "snap-1"}, filepath.Join(f.dir, "snap-1.json"), nil
}

// fakeChanges returns successive change lists, repeating the last.
type fakeChanges struct {
	lists [][]string
}

func (f *fakeChanges) ChangedFiles(context.Context) ([]string, error) {
	if len(f.lists) == 0 {
		return nil, nil
	}
	files := f.lists[0]
	if len(f.lists) > 1 {
		f.lists = f.lists[1:]
	}
	return files, nil
}

type fakeProber struct {
	healthy bool
	urls    []string
}

func (p *fakeProber) Probe(_ context.Context, url string) model.HealthDetail {
	p.urls = append(p.urls, url)
	if p.healthy {
		return model.HealthDetail{URL: url, OK: true, StatusCode: 200}
	}
	return model.HealthDetail{URL: url, Error: "connection refused"}
}

type harness struct {
	t        *testing.T
	repo     *repo.Repo
	settings *config.Config
	runner   *scriptRunner
	cp       *fakeCheckpointer
	changes  *fakeChanges
	prober   *fakeProber
	index    *repoindex.Index
	store    *store.SQLiteStore
	out      *bytes.Buffer
	sleeps   []time.Duration
	rg       bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	r, err := repo.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.EnsureDirs())

	st, err := store.NewSQLite(r.Paths.Store)
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { st.Close() })

	return &harness{
		t:        t,
		repo:     r,
		settings: config.Default(),
		runner:   newScriptRunner(),
		cp:       &fakeCheckpointer{dir: r.Paths.Checkpoints},
		changes:  &fakeChanges{},
		prober:   &fakeProber{healthy: true},
		store:    st,
		out:      &bytes.Buffer{},
	}
}

const runID model.RunID = "run-1"

func (h *harness) orchestrator(confirmer executor.Confirmer) *workflow.Orchestrator {
	h.t.Helper()
	trail := audit.NewTrail(audit.NewFileAppender(h.repo.Paths.AuditLog, h.settings.Identity), runID, h.store)
	guard, err := executor.NewGuard(executor.GuardConfig{
		Policy:    policy.Default(),
		Runner:    h.runner,
		Confirmer: confirmer,
		Recorder:  trail,
		Dir:       h.repo.Root,
		Stdout:    h.out,
		Stderr:    h.out,
	})
	require.NoError(h.t, err)

	o, err := workflow.New(workflow.Config{
		Repo:        h.repo,
		Settings:    h.settings,
		Guard:       guard,
		Checkpoints: h.cp,
		Changes:     h.changes,
		Runs:        h.store,
		RunID:       runID,
		CLI:         cli,
		Index:       h.index,
		Prober:      h.prober,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
		LookPath: func(file string) (string, error) {
			if h.rg {
				return "/usr/bin/" + file, nil
			}
			return "", exec.ErrNotFound
		},
		Stdout: h.out,
		Stderr: h.out,
	})
	require.NoError(h.t, err)
	return o
}

func (h *harness) records() []model.AuditRecord {
	h.t.Helper()
	records, err := audit.ReadAll(h.repo.Paths.AuditLog)
	require.NoError(h.t, err)
	return records
}

func (h *harness) actions(action model.AuditAction) []model.AuditRecord {
	var out []model.AuditRecord
	for _, r := range h.records() {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// last returns the final record, which every invocation closes with.
func (h *harness) last() model.AuditRecord {
	records := h.records()
	require.NotEmpty(h.t, records)
	return records[len(records)-1]
}

func exitWith(code int, stdout, stderr string) step {
	return step{res: executor.Result{ExitCode: code, Stdout: stdout, Stderr: stderr}}
}

var errBoom = errors.New("boom")
