package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/illuvrse/operator/internal/store"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "operator.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateRun(ctx, model.Run{ID: "r1", Mode: "do", Task: "start platform", CreatedAt: created}))

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, run.Status)
	assert.Nil(t, run.FinishedAt)
	assert.True(t, created.Equal(run.CreatedAt))

	require.NoError(t, s.FinishRun(ctx, "r1", model.RunOK, "Platform started successfully and passed basic health check."))
	require.NoError(t, s.FinishRun(ctx, "r1", model.RunFailed, "late"), "second finalize is a no-op")

	run, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunOK, run.Status)
	assert.Equal(t, "Platform started successfully and passed basic health check.", run.Summary)
	require.NotNil(t, run.FinishedAt)
}

func TestActionsAreOrdered(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, model.Run{ID: "r1", Mode: "do", Task: "t", CreatedAt: time.Now()}))

	detail, err := json.Marshal(model.CommandDetail{Command: "pnpm test", ExitCode: 1})
	require.NoError(t, err)
	for _, seq := range []int64{3, 1, 2} {
		require.NoError(t, s.AddAction(ctx, model.Action{
			RunID: "r1", Seq: seq, Kind: "command", Status: model.StatusFailed, Detail: detail, CreatedAt: time.Now(),
		}))
	}
	require.NoError(t, s.AddAction(ctx, model.Action{RunID: "r1", Seq: 4, Kind: "checkpoint", CreatedAt: time.Now()}))

	actions, err := s.ListActions(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, actions, 4)
	for i, a := range actions {
		assert.Equal(t, int64(i+1), a.Seq)
	}
	assert.JSONEq(t, string(detail), string(actions[0].Detail))
	assert.Empty(t, actions[3].Detail)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, id := range []model.RunID{"a", "b", "c"} {
		require.NoError(t, s.CreateRun(ctx, model.Run{ID: id, Mode: "ask", Task: "q", CreatedAt: time.Now()}))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunID("c"), runs[0].ID)
	assert.Equal(t, model.RunID("b"), runs[1].ID)
}

func TestGetRunMissing(t *testing.T) {
	s := openStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, errclass.ErrNotFound)
}

func TestCreateRunDuplicate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, model.Run{ID: "dup", Mode: "do", CreatedAt: time.Now()}))
	assert.Error(t, s.CreateRun(ctx, model.Run{ID: "dup", Mode: "do", CreatedAt: time.Now()}))
}
