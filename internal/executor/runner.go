// Package executor is the single path from operator to external processes.
//
// Runner spawns processes. Guard wraps a Runner with the command policy,
// confirmation gates and audit records; workflows only ever hold a Guard.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is one process invocation. Line runs through the shell; Args,
// when set, runs directly without a shell.
type Command struct {
	Line    string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration // 0 disables

	// Optional tees for live output; capture happens regardless.
	Stdout io.Writer
	Stderr io.Writer
}

// String returns the command as it would be typed.
func (c Command) String() string {
	if len(c.Args) > 0 {
		return fmt.Sprint(c.Args)
	}
	return c.Line
}

// Result is the captured outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Combined returns stdout and stderr joined by a newline, trimmed.
func (r Result) Combined() string {
	return string(bytes.TrimSpace([]byte(r.Stdout + "\n" + r.Stderr)))
}

// Runner runs a command to completion. A non-zero exit is not an error;
// error is reserved for processes that could not be started.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ShellRunner runs command lines through a POSIX shell.
type ShellRunner struct {
	Shell string
	// WaitDelay bounds how long output pipes are drained after the
	// process is killed on timeout.
	WaitDelay time.Duration
}

// NewShellRunner returns a runner using shell ("sh" when empty).
func NewShellRunner(shell string) *ShellRunner {
	if shell == "" {
		shell = "sh"
	}
	return &ShellRunner{Shell: shell, WaitDelay: 5 * time.Second}
}

// Run implements Runner.
func (r *ShellRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Line == "" && len(cmd.Args) == 0 {
		return Result{}, fmt.Errorf("command required")
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	var execCmd *exec.Cmd
	if len(cmd.Args) > 0 {
		execCmd = exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	} else {
		execCmd = exec.CommandContext(ctx, r.Shell, "-c", cmd.Line)
	}
	execCmd.Dir = cmd.Dir
	execCmd.WaitDelay = r.WaitDelay
	if len(cmd.Env) > 0 {
		execCmd.Env = append(os.Environ(), envSlice(cmd.Env)...)
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = tee(&stdout, cmd.Stdout)
	execCmd.Stderr = tee(&stderr, cmd.Stderr)

	start := time.Now()
	err := execCmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			// killed by signal, e.g. on timeout
			res.ExitCode = 137
		}
	case res.TimedOut:
		res.ExitCode = 137
	default:
		res.ExitCode = 127
		return res, fmt.Errorf("start %s: %w", cmd, err)
	}
	return res, nil
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, fmt.Sprintf("%s=%s", key, value))
	}
	return out
}

// Quote renders s as a single POSIX shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@%+,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
