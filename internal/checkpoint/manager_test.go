package checkpoint_test

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/illuvrse/operator/internal/checkpoint"
	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/git"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

func setupRepo(t *testing.T) (string, *checkpoint.Manager) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-q")
	gitCmd(t, dir, "config", "user.email", "test@example.com")
	gitCmd(t, dir, "config", "user.name", "Test")
	gitCmd(t, dir, "config", "commit.gpgsign", "false")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.txt"), []byte("v1\n"), 0644))
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-q", "-m", "init")

	client := git.New(dir, executor.NewShellRunner(""))
	m := checkpoint.NewManager(client, filepath.Join(dir, ".operator", "checkpoints"), "tester")
	return dir, m
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestStamp(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.UTC)
	assert.Equal(t, "2026-03-04T05-06-07-890Z", checkpoint.Stamp(ts))
}

func TestCheckpoint_BranchDoesNotSwitch(t *testing.T) {
	dir, m := setupRepo(t)
	before := gitCmd(t, dir, "rev-parse", "--abbrev-ref", "HEAD")

	res, err := m.Checkpoint(context.Background(), "start platform", model.CheckpointBranch)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointBranch, res.Mode)
	assert.True(t, strings.HasPrefix(res.Ref, checkpoint.BranchPrefix))
	assert.Equal(t, "git branch "+res.Ref, res.Command)
	assert.Empty(t, res.Warning)

	assert.Equal(t, before, gitCmd(t, dir, "rev-parse", "--abbrev-ref", "HEAD"))
	assert.NotEmpty(t, gitCmd(t, dir, "branch", "--list", res.Ref))
}

func TestCheckpoint_BranchCollisionGetsSuffix(t *testing.T) {
	_, m := setupRepo(t)
	m.SetClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	first, err := m.Checkpoint(context.Background(), "t", model.CheckpointBranch)
	require.NoError(t, err)
	second, err := m.Checkpoint(context.Background(), "t", model.CheckpointBranch)
	require.NoError(t, err)
	third, err := m.Checkpoint(context.Background(), "t", model.CheckpointBranch)
	require.NoError(t, err)

	assert.Equal(t, "operator/checkpoint/2026-01-01T00-00-00-000Z", first.Ref)
	assert.Equal(t, first.Ref+"-1", second.Ref)
	assert.Equal(t, first.Ref+"-2", third.Ref)
}

func TestCheckpoint_CommitOnCleanTree(t *testing.T) {
	dir, m := setupRepo(t)

	res, err := m.Checkpoint(context.Background(), "fix failing tests", model.CheckpointCommit)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointCommit, res.Mode)
	assert.Equal(t, gitCmd(t, dir, "rev-parse", "HEAD"), res.Ref)
	assert.Equal(t, "operator checkpoint: fix failing tests", gitCmd(t, dir, "log", "-1", "--format=%s"))
}

func TestCheckpoint_CommitOnDirtyTreeFallsBack(t *testing.T) {
	dir, m := setupRepo(t)
	headBefore := gitCmd(t, dir, "rev-parse", "HEAD")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.txt"), []byte("v2\n"), 0644))

	res, err := m.Checkpoint(context.Background(), "task", model.CheckpointCommit)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointBranch, res.Mode)
	assert.Equal(t, "Commit checkpoint skipped: working tree is dirty; commit checkpoint skipped. Created branch instead.", res.Warning)
	assert.Equal(t, headBefore, gitCmd(t, dir, "rev-parse", "HEAD"), "no commit on a dirty tree")
}

func TestCheckpoint_InvalidMode(t *testing.T) {
	_, m := setupRepo(t)
	_, err := m.Checkpoint(context.Background(), "task", model.CheckpointMode("tag"))
	assert.ErrorIs(t, err, errclass.ErrCheckpointFailed)
}

func TestCheckpoint_OutsideGitFails(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	m := checkpoint.NewManager(git.New(dir, executor.NewShellRunner("")), filepath.Join(dir, "cp"), "tester")

	_, err := m.Checkpoint(context.Background(), "task", model.CheckpointBranch)
	assert.ErrorIs(t, err, errclass.ErrCheckpointFailed)
}

func TestSnapshot_WritesDenseFileOnce(t *testing.T) {
	dir, m := setupRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.txt"), []byte("v2\n"), 0644))

	snap, path, err := m.Snapshot(context.Background(), checkpoint.SnapshotInput{
		Command: "start platform",
		Reason:  "operator.do",
		RunID:   "run-1",
		Cwd:     dir,
	})
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.True(t, strings.HasSuffix(filepath.Base(path), string(snap.ID)+".json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk model.Snapshot
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, snap.ID, onDisk.ID)
	assert.Equal(t, "tester", onDisk.Actor)
	assert.Len(t, onDisk.Head.Output, 40)
	assert.Contains(t, onDisk.Status.Output, "app.txt")
	assert.Contains(t, onDisk.Diff.Output, "+v2")
	assert.Empty(t, onDisk.DiffCached.Output)
	assert.Empty(t, onDisk.DiffCached.Error)

	second, secondPath, err := m.Snapshot(context.Background(), checkpoint.SnapshotInput{Command: "again"})
	require.NoError(t, err)
	assert.NotEqual(t, snap.ID, second.ID)
	assert.NotEqual(t, path, secondPath)
}

func TestSnapshot_RecordsGitErrors(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	m := checkpoint.NewManager(git.New(dir, executor.NewShellRunner("")), filepath.Join(dir, "cp"), "tester")

	snap, _, err := m.Snapshot(context.Background(), checkpoint.SnapshotInput{Command: "x"})
	require.NoError(t, err, "snapshot is written even when git fails")
	assert.NotEmpty(t, snap.Head.Error)
}

func TestListAndFind(t *testing.T) {
	_, m := setupRepo(t)
	cpDir := ""
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	var ids []model.CheckpointID
	for i := 0; i < 3; i++ {
		m.SetClock(fixedClock(base.Add(time.Duration(i) * time.Minute)))
		snap, path, err := m.Snapshot(context.Background(), checkpoint.SnapshotInput{Command: "task"})
		require.NoError(t, err)
		ids = append(ids, snap.ID)
		cpDir = filepath.Dir(path)
	}

	entries, err := checkpoint.List(cpDir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[2], entries[0].Snapshot.ID, "newest first")

	found, err := checkpoint.Find(cpDir, string(ids[1])[:8])
	require.NoError(t, err)
	assert.Equal(t, ids[1], found.Snapshot.ID)

	found, err = checkpoint.Find(cpDir, "2026-02-01T00-01")
	require.NoError(t, err)
	assert.Equal(t, ids[1], found.Snapshot.ID)

	_, err = checkpoint.Find(cpDir, "2026-02-01")
	assert.Error(t, err)

	_, err = checkpoint.Find(cpDir, "zzz")
	assert.ErrorIs(t, err, errclass.ErrNotFound)
}

func TestList_MissingDir(t *testing.T) {
	entries, err := checkpoint.List(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckpoint_CommitIgnoresStateDir(t *testing.T) {
	dir, m := setupRepo(t)
	_, _, err := m.Snapshot(context.Background(), checkpoint.SnapshotInput{Command: "prior run"})
	require.NoError(t, err)

	res, err := m.Checkpoint(context.Background(), "task", model.CheckpointCommit)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointCommit, res.Mode)
	assert.Equal(t, gitCmd(t, dir, "rev-parse", "HEAD"), res.Ref)
}

func TestWorkingChanges(t *testing.T) {
	got := checkpoint.WorkingChanges([]string{".operator/", ".operator/audit.jsonl", "src/a.ts", ".operatorx"})
	assert.Equal(t, []string{"src/a.ts", ".operatorx"}, got)
}
