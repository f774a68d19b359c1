package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/pkg/config"
	"github.com/illuvrse/operator/pkg/model"
)

// Check is one doctor finding before it is rendered as a report entry.
// Status is ok, warn or fail.
type Check struct {
	ID      string
	Label   string
	Status  string
	Detail  string
	Summary string
	Details []string
	Fix     *model.DoctorFix
	FixText string
}

const (
	checkOK   = "ok"
	checkWarn = "warn"
	checkFail = "fail"
)

var binaryFixes = map[string]struct {
	id       string
	commands []string
	notes    string
}{
	"pnpm": {"install_pnpm", []string{"npm install -g pnpm"}, "Install pnpm (https://pnpm.io/installation)."},
	"git":  {"install_git", nil, "Install git (https://git-scm.com/downloads)."},
}

// Doctor runs every health check.
func (p *Platform) Doctor(ctx context.Context, cfg config.DoctorConfig) ([]Check, error) {
	var checks []Check
	for _, bin := range cfg.Binaries {
		checks = append(checks, p.checkBinary(ctx, bin))
	}
	checks = append(checks, p.checkCompose())

	envFiles := cfg.EnvFiles
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local", ".env.development.local"}
	}
	example := cfg.EnvExample
	if example == "" {
		example = ".env.example"
	}
	present := p.presentFiles(envFiles)
	checks = append(checks, p.checkEnvFiles(present, example))
	checks = append(checks, p.checkEnvKeys(present, example))

	ports, err := p.checkPorts(ctx)
	if err != nil {
		return nil, err
	}
	checks = append(checks, ports...)

	p.record(model.PlatformDetail{Op: "doctor", Mode: ModeLocal})
	return checks, nil
}

func (p *Platform) checkBinary(ctx context.Context, bin string) Check {
	res, err := p.runner.Run(ctx, executor.Command{Args: []string{bin, "--version"}, Dir: p.repo.Root})
	output := strings.TrimSpace(res.Stdout)
	ok := err == nil && res.ExitCode == 0
	if !ok {
		output = strings.TrimSpace(res.Stderr)
		if err != nil {
			output = err.Error()
		}
	}
	if output == "" {
		output = "missing"
	}
	c := Check{
		ID:      bin + "_present",
		Label:   bin,
		Status:  checkOK,
		Detail:  output,
		Summary: bin + " available",
		Details: []string{output},
	}
	if ok {
		return c
	}
	c.Status = checkFail
	c.Summary = bin + " missing"
	fix, known := binaryFixes[bin]
	if !known {
		fix.id = "install_" + bin
		fix.notes = fmt.Sprintf("Install %s.", bin)
	}
	c.Fix = &model.DoctorFix{ID: fix.id, Commands: nonNil(fix.commands), Files: []string{}, Notes: fix.notes}
	c.FixText = fix.notes
	return c
}

func (p *Platform) checkCompose() Check {
	compose := p.rt.Compose
	c := Check{ID: "docker_compose", Label: "docker compose", Status: checkOK}
	switch {
	case compose.File == "":
		c.Detail = "no compose file detected"
		c.Summary = "no compose file detected"
	case compose.Available:
		c.Detail = "using " + filepath.Base(compose.File)
		c.Summary = "docker compose available"
	default:
		notes := "Install Docker Desktop or docker-compose to use containers."
		c.Status = checkFail
		c.Detail = "missing"
		c.Summary = "docker compose missing"
		c.Fix = &model.DoctorFix{ID: "install_docker", Commands: []string{}, Files: []string{}, Notes: notes}
		c.FixText = notes
	}
	c.Details = []string{c.Detail}
	return c
}

func (p *Platform) presentFiles(names []string) []string {
	var present []string
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(p.repo.Root, name)); err == nil {
			present = append(present, name)
		}
	}
	return present
}

func (p *Platform) checkEnvFiles(present []string, example string) Check {
	c := Check{
		ID:      "env_files",
		Label:   "env files",
		Status:  checkOK,
		Summary: "env files present",
		Detail:  strings.Join(present, ", "),
		Details: present,
	}
	if len(present) > 0 {
		return c
	}

	hasExample := p.exists(example)
	notes := "Create a .env or .env.local file with required values."
	commands := []string{}
	if hasExample {
		notes = fmt.Sprintf("Copy %s to .env and fill required values.", example)
		commands = []string{fmt.Sprintf("cp %s .env", example)}
	}
	c.Status = checkFail
	c.Summary = "env files missing"
	c.Detail = "none"
	c.Details = []string{"none"}
	c.Fix = &model.DoctorFix{ID: "create_env", Safe: true, Commands: commands, Files: []string{".env"}, Notes: notes}
	c.FixText = notes
	return c
}

// checkEnvKeys compares the keys declared in the example file against
// the union of keys in the present env files.
func (p *Platform) checkEnvKeys(present []string, example string) Check {
	c := Check{ID: "env_keys", Label: "env keys", Status: checkOK}
	if !p.exists(example) || len(present) == 0 {
		c.Detail = "nothing to compare"
		c.Summary = "env keys not checked"
		c.Details = []string{c.Detail}
		return c
	}

	want, err := godotenv.Read(filepath.Join(p.repo.Root, example))
	if err != nil {
		c.Status = checkWarn
		c.Detail = fmt.Sprintf("cannot parse %s: %v", example, err)
		c.Summary = "env example unreadable"
		c.Details = []string{c.Detail}
		return c
	}
	have := map[string]string{}
	for _, name := range present {
		vals, err := godotenv.Read(filepath.Join(p.repo.Root, name))
		if err != nil {
			continue
		}
		for k, v := range vals {
			have[k] = v
		}
	}

	var missing []string
	for key := range want {
		if _, ok := have[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	if len(missing) == 0 {
		c.Detail = fmt.Sprintf("%d keys present", len(want))
		c.Summary = "env keys complete"
		c.Details = []string{c.Detail}
		return c
	}

	notes := fmt.Sprintf("Add missing keys to your env file: %s.", strings.Join(missing, ", "))
	c.Status = checkWarn
	c.Detail = "missing " + strings.Join(missing, ", ")
	c.Summary = fmt.Sprintf("%d env key(s) missing", len(missing))
	c.Details = missing
	c.Fix = &model.DoctorFix{ID: "add_env_keys", Commands: []string{}, Files: []string{}, Notes: notes}
	c.FixText = notes
	return c
}

// checkPorts probes every configured port concurrently.
func (p *Platform) checkPorts(ctx context.Context) ([]Check, error) {
	seen := map[int]bool{}
	var ports []int
	for _, svc := range p.rt.Services {
		if svc.Port > 0 && !seen[svc.Port] {
			seen[svc.Port] = true
			ports = append(ports, svc.Port)
		}
	}
	sort.Ints(ports)

	checks := make([]Check, len(ports))
	g, _ := errgroup.WithContext(ctx)
	for i, port := range ports {
		i, port := i, port
		g.Go(func() error {
			checks[i] = portCheck(port, PortInUse(port))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return checks, nil
}

func portCheck(port int, inUse bool) Check {
	c := Check{
		ID:      fmt.Sprintf("port_%d", port),
		Label:   fmt.Sprintf("port %d", port),
		Status:  checkOK,
		Detail:  "available",
		Summary: fmt.Sprintf("port %d available", port),
	}
	if inUse {
		notes := fmt.Sprintf("Stop the process using port %d (try: lsof -i :%d) or change the port.", port, port)
		c.Status = checkWarn
		c.Detail = "in use"
		c.Summary = fmt.Sprintf("port %d in use", port)
		c.Fix = &model.DoctorFix{
			ID:       "free_port",
			Commands: []string{fmt.Sprintf("lsof -i :%d", port)},
			Files:    []string{},
			Notes:    notes,
		}
		c.FixText = notes
	}
	c.Details = []string{c.Detail}
	return c
}

// Report renders checks in the machine-readable schema. Passing checks
// carry no fix; failing ones without a specific fix get a manual one.
func Report(checks []Check) *model.DoctorReport {
	report := &model.DoctorReport{OK: true, Checks: make([]model.DoctorCheck, 0, len(checks))}
	for _, c := range checks {
		entry := model.DoctorCheck{
			ID:      c.ID,
			Status:  model.CheckStatus(c.Status),
			Summary: c.Summary,
			Details: nonNil(c.Details),
		}
		if entry.Summary == "" {
			entry.Summary = c.Label
		}
		if c.Status == checkOK {
			entry.Status = model.CheckPass
		} else {
			entry.Fix = c.Fix
			if entry.Fix == nil {
				entry.Fix = &model.DoctorFix{ID: "manual_fix", Commands: []string{}, Files: []string{}, Notes: "Manual fix required."}
			}
		}
		if c.Status == checkFail {
			report.OK = false
		}
		report.Checks = append(report.Checks, entry)
	}
	return report
}

// WriteDoctor prints checks as JSON or as the human report and returns
// the exit code: 1 when any check fails.
func (p *Platform) WriteDoctor(checks []Check, asJSON bool) (int, error) {
	report := Report(checks)
	if asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return 1, fmt.Errorf("marshal doctor report: %w", err)
		}
		fmt.Fprintln(p.out, string(data))
	} else {
		fmt.Fprintln(p.out, "Doctor report:")
		var fixes []string
		for _, c := range checks {
			line := fmt.Sprintf("- %s: %s", c.Label, c.Status)
			if c.Detail != "" {
				line += fmt.Sprintf(" (%s)", c.Detail)
			}
			fmt.Fprintln(p.out, line)
			if c.FixText != "" && c.Status != checkOK {
				fixes = append(fixes, c.FixText)
			}
		}
		if len(fixes) > 0 {
			fmt.Fprintln(p.out, "\nFixes:")
			for _, f := range fixes {
				fmt.Fprintf(p.out, "- %s\n", f)
			}
		}
	}
	if !report.OK {
		return 1, nil
	}
	return 0, nil
}

func (p *Platform) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(p.repo.Root, rel))
	return err == nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
