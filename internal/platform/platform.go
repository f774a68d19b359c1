package platform

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/repo"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
	"github.com/illuvrse/operator/pkg/pathutil"
)

// Modes recorded in platform audit details.
const (
	ModeCompose    = "docker-compose"
	ModeForeground = "foreground"
	ModeDetached   = "detached"
	ModeLocal      = "local"
)

// Options wires a Platform.
type Options struct {
	Repo           *repo.Repo
	Runtime        *Runtime
	DefaultService string
	Shell          string
	Runner         executor.Runner
	Recorder       executor.Recorder
	Stdout         io.Writer
	Stderr         io.Writer
}

// Platform executes platform subcommands for one repository.
type Platform struct {
	repo           *repo.Repo
	rt             *Runtime
	defaultService string
	shell          string
	runner         executor.Runner
	rec            executor.Recorder
	out            io.Writer
	errOut         io.Writer
	now            func() time.Time
}

// New returns a Platform.
func New(opts Options) *Platform {
	p := &Platform{
		repo:           opts.Repo,
		rt:             opts.Runtime,
		defaultService: opts.DefaultService,
		shell:          opts.Shell,
		runner:         opts.Runner,
		rec:            opts.Recorder,
		out:            opts.Stdout,
		errOut:         opts.Stderr,
		now:            time.Now,
	}
	if p.defaultService == "" {
		p.defaultService = "web"
	}
	if p.shell == "" {
		p.shell = "sh"
	}
	if p.out == nil {
		p.out = io.Discard
	}
	if p.errOut == nil {
		p.errOut = io.Discard
	}
	return p
}

// Runtime returns the resolved runtime.
func (p *Platform) Runtime() *Runtime { return p.rt }

// UpOptions selects what to start.
type UpOptions struct {
	Service string
	Detach  bool
}

// Up starts the platform. Compose mode delegates to docker compose;
// otherwise the service command runs in the foreground, or detached with
// its pid tracked and output appended to the service log.
func (p *Platform) Up(ctx context.Context, opts UpOptions) (int, error) {
	if p.rt.Compose.Available {
		extra := []string{"up"}
		if opts.Detach {
			extra = append(extra, "-d")
		}
		p.record(model.PlatformDetail{Op: "up", Mode: ModeCompose, Detach: opts.Detach})
		return p.passthrough(ctx, executor.Command{Args: p.rt.Compose.Args(extra...)})
	}

	name := opts.Service
	if name == "" {
		name = p.defaultService
	}
	svc, err := p.service(name)
	if err != nil {
		return 1, err
	}

	if !opts.Detach {
		p.record(model.PlatformDetail{Op: "up", Mode: ModeForeground, Service: name, Command: svc.Command})
		return p.passthrough(ctx, executor.Command{Line: svc.Command})
	}

	if err := os.MkdirAll(p.repo.Paths.Logs, 0755); err != nil {
		return 1, fmt.Errorf("create logs dir: %w", err)
	}
	logPath := filepath.Join(p.repo.Paths.Logs, svc.LogFile)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 1, fmt.Errorf("open service log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(p.shell, "-c", svc.Command)
	cmd.Dir = p.repo.Root
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return 1, fmt.Errorf("start %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	state := LoadState(p.repo.Paths.PlatformState)
	state.Services[name] = model.ServiceRecord{
		PID:       pid,
		Command:   svc.Command,
		LogPath:   logPath,
		StartedAt: p.now().UTC(),
	}
	if err := SaveState(p.repo.Paths.PlatformState, state); err != nil {
		return 1, err
	}
	p.record(model.PlatformDetail{Op: "up", Mode: ModeDetached, Service: name, PID: pid, Command: svc.Command})

	fmt.Fprintf(p.out, "Started %s (pid %d). Logs: %s\n", name, pid, p.repo.Rel(logPath))
	return 0, nil
}

// DownOptions selects what to stop.
type DownOptions struct {
	Service string
	All     bool
}

// Down stops tracked services. Entries whose process is already gone are
// dropped from the state record.
func (p *Platform) Down(ctx context.Context, opts DownOptions) (int, error) {
	if p.rt.Compose.Available {
		p.record(model.PlatformDetail{Op: "down", Mode: ModeCompose})
		return p.passthrough(ctx, executor.Command{Args: p.rt.Compose.Args("down")})
	}

	state := LoadState(p.repo.Paths.PlatformState)
	var targets []string
	if opts.All {
		for name := range state.Services {
			targets = append(targets, name)
		}
		sort.Strings(targets)
	} else {
		name := opts.Service
		if name == "" {
			name = p.defaultService
		}
		targets = []string{name}
	}

	stopped := 0
	for _, name := range targets {
		rec, ok := state.Services[name]
		if !ok || rec.PID == 0 {
			continue
		}
		if !processAlive(rec.PID) {
			delete(state.Services, name)
			continue
		}
		if err := terminate(rec.PID); err != nil {
			fmt.Fprintf(p.errOut, "Failed to stop %s: %v\n", name, err)
			continue
		}
		delete(state.Services, name)
		stopped++
		p.record(model.PlatformDetail{Op: "down", Mode: ModeLocal, Service: name, PID: rec.PID})
	}

	if err := SaveState(p.repo.Paths.PlatformState, state); err != nil {
		return 1, err
	}
	if stopped == 0 {
		fmt.Fprintln(p.out, "No tracked services running.")
	} else {
		fmt.Fprintf(p.out, "Stopped %d service(s).\n", stopped)
	}
	return 0, nil
}

// ServiceStatus is the observed state of one configured service.
type ServiceStatus struct {
	Name    string
	State   string // running, stopped, unknown
	PID     int    // 0 when untracked
	Port    int
	PortUse string // open, closed, unknown
}

// String renders the status line the workflows parse.
func (s ServiceStatus) String() string {
	pid := "untracked"
	if s.PID > 0 {
		pid = fmt.Sprintf("pid %d", s.PID)
	}
	port := "n/a"
	if s.Port > 0 {
		port = fmt.Sprint(s.Port)
	}
	return fmt.Sprintf("%s: %s (%s, port %s %s)", s.Name, s.State, pid, port, s.PortUse)
}

// Statuses inspects every configured service. A tracked service is
// running when its pid is alive; an untracked one is unknown when its
// port is taken by something else.
func (p *Platform) Statuses() []ServiceStatus {
	state := LoadState(p.repo.Paths.PlatformState)
	var out []ServiceStatus
	for _, name := range p.rt.ServiceNames() {
		svc := p.rt.Services[name]
		st := ServiceStatus{Name: name, Port: svc.Port, PortUse: "unknown"}
		if svc.Port > 0 {
			if PortInUse(svc.Port) {
				st.PortUse = "open"
			} else {
				st.PortUse = "closed"
			}
		}
		rec, tracked := state.Services[name]
		switch {
		case tracked && processAlive(rec.PID):
			st.State = "running"
		case tracked:
			st.State = "stopped"
		case st.PortUse == "open":
			st.State = "unknown"
		default:
			st.State = "stopped"
		}
		if tracked {
			st.PID = rec.PID
		}
		out = append(out, st)
	}
	return out
}

// Status prints one line per service, or delegates to compose ps.
func (p *Platform) Status(ctx context.Context) (int, error) {
	if p.rt.Compose.Available {
		p.record(model.PlatformDetail{Op: "status", Mode: ModeCompose})
		return p.passthrough(ctx, executor.Command{Args: p.rt.Compose.Args("ps")})
	}
	statuses := p.Statuses()
	if len(statuses) == 0 {
		fmt.Fprintln(p.out, "No services configured.")
		return 0, nil
	}
	for _, st := range statuses {
		fmt.Fprintln(p.out, st.String())
	}
	p.record(model.PlatformDetail{Op: "status", Mode: ModeLocal})
	return 0, nil
}

// LogsOptions selects which log to tail.
type LogsOptions struct {
	Service string
	Tail    int
}

// Logs prints the last lines of a service log.
func (p *Platform) Logs(ctx context.Context, opts LogsOptions) (int, error) {
	if opts.Tail <= 0 {
		opts.Tail = 200
	}
	if p.rt.Compose.Available {
		extra := []string{"logs", "--tail", fmt.Sprint(opts.Tail)}
		if opts.Service != "" {
			extra = append(extra, opts.Service)
		}
		p.record(model.PlatformDetail{Op: "logs", Mode: ModeCompose, Service: opts.Service})
		return p.passthrough(ctx, executor.Command{Args: p.rt.Compose.Args(extra...)})
	}

	name := opts.Service
	if name == "" {
		name = p.defaultService
	}
	if err := pathutil.ValidateServiceName(name); err != nil {
		return 1, err
	}
	logPath := filepath.Join(p.repo.Paths.Logs, name+".log")
	if svc, ok := p.rt.Services[name]; ok {
		logPath = filepath.Join(p.repo.Paths.Logs, svc.LogFile)
	}
	if rec, ok := LoadState(p.repo.Paths.PlatformState).Services[name]; ok && rec.LogPath != "" {
		logPath = rec.LogPath
	}

	lines, err := TailFile(logPath, opts.Tail)
	if err != nil {
		return 1, err
	}
	if len(lines) == 0 {
		fmt.Fprintln(p.out, "No logs found.")
		return 0, nil
	}
	for _, line := range lines {
		fmt.Fprintln(p.out, line)
	}
	p.record(model.PlatformDetail{Op: "logs", Mode: ModeLocal, Service: name})
	return 0, nil
}

// Test runs the test suite in the foreground.
func (p *Platform) Test(ctx context.Context) (int, error) {
	p.record(model.PlatformDetail{Op: "test", Command: p.rt.TestCommand})
	return p.passthrough(ctx, executor.Command{Line: p.rt.TestCommand})
}

func (p *Platform) service(name string) (Service, error) {
	if err := pathutil.ValidateServiceName(name); err != nil {
		return Service{}, err
	}
	svc, ok := p.rt.Services[name]
	if !ok || svc.Command == "" {
		return Service{}, errclass.ErrServiceUnknown.WithMessagef("Unknown service: %s", name)
	}
	return svc, nil
}

// passthrough runs cmd with output streamed to the console and returns
// its exit code.
func (p *Platform) passthrough(ctx context.Context, cmd executor.Command) (int, error) {
	cmd.Dir = p.repo.Root
	cmd.Stdout = p.out
	cmd.Stderr = p.errOut
	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return res.ExitCode, err
	}
	return res.ExitCode, nil
}

func (p *Platform) record(detail model.PlatformDetail) {
	if p.rec == nil {
		return
	}
	_ = p.rec.Record(model.ActionPlatform, model.StatusOK, detail)
}

// PortInUse reports whether port cannot be bound on the loopback address.
func PortInUse(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return true
	}
	l.Close()
	return false
}

// TailFile returns the last n lines of path; a missing file has none.
func TailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return lines, nil
}
