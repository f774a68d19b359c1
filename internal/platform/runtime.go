// Package platform is the local platform control surface: starting,
// stopping and inspecting services, running the test suite and the
// doctor health report the workflows consume.
package platform

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/pkg/config"
)

// Default commands when neither configuration nor package.json scripts
// say otherwise.
const (
	DefaultDevCommand  = "pnpm --filter web dev"
	DefaultTestCommand = "pnpm --filter @illuvrse/tests test"
)

// ComposeFiles are probed in order.
var ComposeFiles = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}

// Service is one locally managed service.
type Service struct {
	Name    string
	Command string
	Port    int
	LogFile string
}

// Compose describes docker compose availability.
type Compose struct {
	Available bool
	File      string
	Command   []string // e.g. [docker compose] or [docker-compose]
	Reason    string
}

// Args builds the argv for a compose invocation.
func (c Compose) Args(extra ...string) []string {
	args := append([]string(nil), c.Command...)
	if c.File != "" {
		args = append(args, "-f", c.File)
	}
	return append(args, extra...)
}

// Runtime is the resolved view of the platform for one repository.
type Runtime struct {
	Root        string
	Scripts     map[string]string
	Services    map[string]Service
	TestCommand string
	Compose     Compose
}

// ServiceNames returns configured service names sorted.
func (r *Runtime) ServiceNames() []string {
	names := make([]string, 0, len(r.Services))
	for name := range r.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveRuntime reads package.json scripts and the platform config and
// probes for docker compose.
func ResolveRuntime(ctx context.Context, root string, cfg config.PlatformConfig, runner executor.Runner) *Runtime {
	scripts := ReadScripts(root)
	dev := DevCommand(scripts)

	services := make(map[string]Service, len(cfg.Services))
	for name, sc := range cfg.Services {
		svc := Service{Name: name, Command: sc.Command, Port: sc.Port, LogFile: sc.LogFile}
		if svc.Command == "" && name == cfg.DefaultService {
			svc.Command = dev
		}
		if svc.LogFile == "" {
			svc.LogFile = name + ".log"
		}
		services[name] = svc
	}

	test := cfg.TestCommand
	if test == "" {
		test = TestCommand(scripts)
	}

	return &Runtime{
		Root:        root,
		Scripts:     scripts,
		Services:    services,
		TestCommand: test,
		Compose:     DetectCompose(ctx, root, runner),
	}
}

// ReadScripts returns package.json scripts, or an empty map when the
// file is missing or unreadable.
func ReadScripts(root string) map[string]string {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return map[string]string{}
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil || pkg.Scripts == nil {
		return map[string]string{}
	}
	return pkg.Scripts
}

// DevCommand picks the command that starts the default service.
func DevCommand(scripts map[string]string) string {
	if _, ok := scripts["dev"]; ok {
		return "pnpm dev"
	}
	if _, ok := scripts["start:platform"]; ok {
		return "pnpm start:platform"
	}
	return DefaultDevCommand
}

// TestCommand picks the test suite command.
func TestCommand(scripts map[string]string) string {
	if _, ok := scripts["test"]; ok {
		return "pnpm test"
	}
	if _, ok := scripts["test:smoke"]; ok {
		return "pnpm test:smoke"
	}
	return DefaultTestCommand
}

// FindComposeFile returns the first compose file present in root.
func FindComposeFile(root string) string {
	for _, name := range ComposeFiles {
		candidate := filepath.Join(root, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// DetectCompose looks for a compose file and a working docker compose.
func DetectCompose(ctx context.Context, root string, runner executor.Runner) Compose {
	file := FindComposeFile(root)
	if file == "" {
		return Compose{Reason: "no compose file"}
	}
	if commandOK(ctx, runner, root, "docker", "compose", "version") {
		return Compose{Available: true, File: file, Command: []string{"docker", "compose"}}
	}
	if commandOK(ctx, runner, root, "docker-compose", "--version") {
		return Compose{Available: true, File: file, Command: []string{"docker-compose"}}
	}
	return Compose{File: file, Reason: "docker compose not available"}
}

func commandOK(ctx context.Context, runner executor.Runner, dir string, args ...string) bool {
	res, err := runner.Run(ctx, executor.Command{Args: args, Dir: dir})
	return err == nil && res.ExitCode == 0
}
