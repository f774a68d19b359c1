// Package git wraps the handful of git plumbing calls operator needs.
// Calls go through an executor.Runner in argv mode so no shell is
// involved and tests can swap the runner.
package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/illuvrse/operator/internal/executor"
)

// Client runs git in one repository.
type Client struct {
	Dir    string
	Runner executor.Runner
}

// New returns a client for dir backed by runner.
func New(dir string, runner executor.Runner) *Client {
	return &Client{Dir: dir, Runner: runner}
}

// Error is a git invocation that exited non-zero.
type Error struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

// Output runs git with args and returns stdout with the trailing newline
// removed.
func (c *Client) Output(ctx context.Context, args ...string) (string, error) {
	res, err := c.Runner.Run(ctx, executor.Command{
		Args: append([]string{"git"}, args...),
		Dir:  c.Dir,
	})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", &Error{Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return strings.TrimRight(res.Stdout, "\n"), nil
}

// Head returns the current commit hash.
func (c *Client) Head(ctx context.Context) (string, error) {
	return c.Output(ctx, "rev-parse", "HEAD")
}

// StatusPorcelain returns `git status --porcelain` verbatim.
func (c *Client) StatusPorcelain(ctx context.Context) (string, error) {
	return c.Output(ctx, "status", "--porcelain")
}

// ChangedFiles lists paths reported by git status, renames resolved to
// their new name.
func (c *Client) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := c.StatusPorcelain(ctx)
	if err != nil {
		return nil, err
	}
	return ParseStatusFiles(out), nil
}

// ParseStatusFiles extracts file paths from porcelain v1 output.
func ParseStatusFiles(porcelain string) []string {
	var files []string
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+len(" -> "):]
		}
		path = strings.Trim(path, `"`)
		if path != "" {
			files = append(files, path)
		}
	}
	return files
}

// Diff returns the unstaged diff.
func (c *Client) Diff(ctx context.Context) (string, error) {
	return c.Output(ctx, "diff")
}

// DiffCached returns the staged diff.
func (c *Client) DiffCached(ctx context.Context) (string, error) {
	return c.Output(ctx, "diff", "--cached")
}

// BranchExists reports whether refs/heads/name exists.
func (c *Client) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := c.Output(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	var gitErr *Error
	if errors.As(err, &gitErr) && gitErr.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// CreateBranch creates name at HEAD without switching to it.
func (c *Client) CreateBranch(ctx context.Context, name string) error {
	_, err := c.Output(ctx, "branch", name)
	return err
}

// CommitEmpty records an empty commit with message.
func (c *Client) CommitEmpty(ctx context.Context, message string) error {
	_, err := c.Output(ctx, "commit", "--allow-empty", "-m", message)
	return err
}
