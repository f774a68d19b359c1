package platform_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/platform"
	"github.com/illuvrse/operator/internal/repo"
	"github.com/illuvrse/operator/pkg/config"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner answers argv commands from a table; anything else exits 1.
type scriptedRunner struct {
	ok    map[string]string // joined argv -> stdout
	lines []string
}

func (r *scriptedRunner) Run(_ context.Context, cmd executor.Command) (executor.Result, error) {
	if cmd.Line != "" {
		r.lines = append(r.lines, cmd.Line)
		return executor.Result{}, nil
	}
	key := strings.Join(cmd.Args, " ")
	r.lines = append(r.lines, key)
	if out, ok := r.ok[key]; ok {
		return executor.Result{Stdout: out}, nil
	}
	return executor.Result{ExitCode: 1, Stderr: "not found"}, nil
}

type memRecorder struct {
	details []model.PlatformDetail
}

func (m *memRecorder) Record(_ model.AuditAction, _ string, detail any) error {
	if d, ok := detail.(model.PlatformDetail); ok {
		m.details = append(m.details, d)
	}
	return nil
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func newPlatform(t *testing.T, root string, runner executor.Runner, services map[string]config.ServiceConfig) (*platform.Platform, *bytes.Buffer, *memRecorder) {
	t.Helper()
	r, err := repo.Open(root)
	require.NoError(t, err)
	require.NoError(t, r.EnsureDirs())

	cfg := config.Default().Platform
	cfg.Services = services
	rt := platform.ResolveRuntime(context.Background(), r.Root, cfg, runner)

	var out bytes.Buffer
	rec := &memRecorder{}
	p := platform.New(platform.Options{
		Repo:           r,
		Runtime:        rt,
		DefaultService: "web",
		Runner:         runner,
		Recorder:       rec,
		Stdout:         &out,
		Stderr:         &out,
	})
	return p, &out, rec
}

func TestCommandsFromScripts(t *testing.T) {
	assert.Equal(t, "pnpm dev", platform.DevCommand(map[string]string{"dev": "next dev", "start:platform": "x"}))
	assert.Equal(t, "pnpm start:platform", platform.DevCommand(map[string]string{"start:platform": "x"}))
	assert.Equal(t, platform.DefaultDevCommand, platform.DevCommand(nil))

	assert.Equal(t, "pnpm test", platform.TestCommand(map[string]string{"test": "vitest", "test:smoke": "x"}))
	assert.Equal(t, "pnpm test:smoke", platform.TestCommand(map[string]string{"test:smoke": "x"}))
	assert.Equal(t, platform.DefaultTestCommand, platform.TestCommand(map[string]string{}))
}

func TestResolveRuntime(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"scripts":{"dev":"next dev","test":"vitest"}}`), 0644))

	cfg := config.Default().Platform
	cfg.Services["api"] = config.ServiceConfig{Command: "go run ./cmd/api", Port: 8080}
	rt := platform.ResolveRuntime(context.Background(), root, cfg, &scriptedRunner{})

	assert.Equal(t, "pnpm dev", rt.Services["web"].Command)
	assert.Equal(t, "web.log", rt.Services["web"].LogFile)
	assert.Equal(t, "api.log", rt.Services["api"].LogFile)
	assert.Equal(t, "pnpm test", rt.TestCommand)
	assert.Equal(t, []string{"api", "web"}, rt.ServiceNames())
	assert.False(t, rt.Compose.Available)
	assert.Equal(t, "no compose file", rt.Compose.Reason)
}

func TestDetectCompose(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "compose.yaml"), []byte("services: {}\n"), 0644))

	modern := platform.DetectCompose(context.Background(), root, &scriptedRunner{ok: map[string]string{"docker compose version": "v2"}})
	assert.True(t, modern.Available)
	assert.Equal(t, []string{"docker", "compose", "-f", filepath.Join(root, "compose.yaml"), "up", "-d"}, modern.Args("up", "-d"))

	legacy := platform.DetectCompose(context.Background(), root, &scriptedRunner{ok: map[string]string{"docker-compose --version": "1.29"}})
	assert.True(t, legacy.Available)
	assert.Equal(t, []string{"docker-compose"}, legacy.Command)

	none := platform.DetectCompose(context.Background(), root, &scriptedRunner{})
	assert.False(t, none.Available)
	assert.Equal(t, "docker compose not available", none.Reason)
}

func TestComposeModeDelegates(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "docker-compose.yml"), []byte("services: {}\n"), 0644))
	runner := &scriptedRunner{ok: map[string]string{"docker compose version": "v2"}}
	p, _, rec := newPlatform(t, root, runner, config.Default().Platform.Services)

	_, err := p.Up(context.Background(), platform.UpOptions{Detach: true})
	require.NoError(t, err)
	assert.Contains(t, runner.lines, "docker compose -f "+filepath.Join(root, "docker-compose.yml")+" up -d")
	require.Len(t, rec.details, 1)
	assert.Equal(t, platform.ModeCompose, rec.details[0].Mode)
	assert.True(t, rec.details[0].Detach)
}

func TestUp_UnknownService(t *testing.T) {
	p, _, _ := newPlatform(t, t.TempDir(), &scriptedRunner{}, config.Default().Platform.Services)
	code, err := p.Up(context.Background(), platform.UpOptions{Service: "nope", Detach: true})
	assert.Equal(t, 1, code)
	assert.ErrorIs(t, err, errclass.ErrServiceUnknown)

	_, err = p.Up(context.Background(), platform.UpOptions{Service: "../etc", Detach: true})
	assert.ErrorIs(t, err, errclass.ErrServiceUnknown)
}

func TestUpDetachedStatusDown(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	root := t.TempDir()
	port := freePort(t)
	services := map[string]config.ServiceConfig{
		"web": {Command: "echo booting; sleep 30", Port: port},
	}
	p, out, rec := newPlatform(t, root, executor.NewShellRunner(""), services)
	ctx := context.Background()

	code, err := p.Up(ctx, platform.UpOptions{Detach: true})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Started web (pid ")
	assert.Contains(t, out.String(), "Logs: .operator/logs/web.log")

	state := platform.LoadState(filepath.Join(root, ".operator", "platform-state.json"))
	tracked, ok := state.Services["web"]
	require.True(t, ok)
	assert.Positive(t, tracked.PID)
	assert.Equal(t, "echo booting; sleep 30", tracked.Command)

	statuses := p.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "running", statuses[0].State)
	assert.Equal(t, "closed", statuses[0].PortUse)

	out.Reset()
	code, err = p.Down(ctx, platform.DownOptions{All: true})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Stopped 1 service(s).\n", out.String())

	state = platform.LoadState(filepath.Join(root, ".operator", "platform-state.json"))
	assert.Empty(t, state.Services)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(root, ".operator", "logs", "web.log"))
		return err == nil && strings.Contains(string(data), "booting")
	}, 2*time.Second, 20*time.Millisecond)

	var ops []string
	for _, d := range rec.details {
		ops = append(ops, d.Op)
	}
	assert.Equal(t, []string{"up", "down"}, ops)
}

func TestDown_NothingTracked(t *testing.T) {
	p, out, _ := newPlatform(t, t.TempDir(), &scriptedRunner{}, config.Default().Platform.Services)
	code, err := p.Down(context.Background(), platform.DownOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "No tracked services running.\n", out.String())
}

func TestStatus_Lines(t *testing.T) {
	port := freePort(t)
	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer l.Close()

	services := map[string]config.ServiceConfig{
		"api": {Command: "x", Port: port},
		"web": {Command: "y", Port: freePort(t)},
	}
	p, out, _ := newPlatform(t, t.TempDir(), &scriptedRunner{}, services)
	_, err = p.Status(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "api: unknown (untracked, port "+strconv.Itoa(port)+" open)", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "web: stopped (untracked, port "))
	assert.True(t, strings.HasSuffix(lines[1], " closed)"))
}

func TestLogs_Tail(t *testing.T) {
	root := t.TempDir()
	p, out, _ := newPlatform(t, root, &scriptedRunner{}, config.Default().Platform.Services)

	_, err := p.Logs(context.Background(), platform.LogsOptions{})
	require.NoError(t, err)
	assert.Equal(t, "No logs found.\n", out.String())

	var b strings.Builder
	for i := 1; i <= 5; i++ {
		b.WriteString("line " + strconv.Itoa(i) + "\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, ".operator", "logs", "web.log"), []byte(b.String()), 0644))

	out.Reset()
	_, err = p.Logs(context.Background(), platform.LogsOptions{Service: "web", Tail: 2})
	require.NoError(t, err)
	assert.Equal(t, "line 4\nline 5\n", out.String())
}

func TestTest_RunsResolvedCommand(t *testing.T) {
	runner := &scriptedRunner{}
	p, _, rec := newPlatform(t, t.TempDir(), runner, config.Default().Platform.Services)

	code, err := p.Test(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, runner.lines, platform.DefaultTestCommand)
	require.Len(t, rec.details, 1)
	assert.Equal(t, "test", rec.details[0].Op)
}
