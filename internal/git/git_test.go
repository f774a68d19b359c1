package git_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/git"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a git repository with one commit, skipping the test
// when git is unavailable.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
		{"config", "commit.gpgsign", "false"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0644))
	for _, args := range [][]string{{"add", "."}, {"commit", "-q", "-m", "init"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	return dir
}

func TestParseStatusFiles(t *testing.T) {
	out := " M src/app.ts\n?? .env\nR  old.go -> new.go\nA  \"spaced name.txt\"\n"
	assert.Equal(t, []string{"src/app.ts", ".env", "new.go", "spaced name.txt"}, git.ParseStatusFiles(out))
	assert.Empty(t, git.ParseStatusFiles(""))
}

func TestClient_StatusAndBranches(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()
	c := git.New(dir, executor.NewShellRunner(""))

	head, err := c.Head(ctx)
	require.NoError(t, err)
	assert.Len(t, head, 40)

	files, err := c.ChangedFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("changed\n"), 0644))
	files, err = c.ChangedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, files)

	diff, err := c.Diff(ctx)
	require.NoError(t, err)
	assert.Contains(t, diff, "+changed")

	exists, err := c.BranchExists(ctx, "operator/checkpoint/x")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.CreateBranch(ctx, "operator/checkpoint/x"))
	exists, err = c.BranchExists(ctx, "operator/checkpoint/x")
	require.NoError(t, err)
	assert.True(t, exists)

	current, err := c.Output(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	require.NoError(t, err)
	assert.NotEqual(t, "operator/checkpoint/x", current, "creating a branch never switches to it")
}

func TestClient_ErrorCarriesStderr(t *testing.T) {
	dir := initRepo(t)
	c := git.New(dir, executor.NewShellRunner(""))

	_, err := c.Output(context.Background(), "rev-parse", "no-such-ref")
	var gitErr *git.Error
	require.ErrorAs(t, err, &gitErr)
	assert.NotZero(t, gitErr.ExitCode)
	assert.Contains(t, err.Error(), "git rev-parse no-such-ref")
}
