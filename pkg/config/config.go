// Package config provides configuration file support for operator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/illuvrse/operator/pkg/errclass"
)

// Dir is the per-repository state directory name.
const Dir = ".operator"

// FileName is the configuration file inside Dir.
const FileName = "config.yaml"

// Environment overrides.
const (
	EnvCheckpointMode = "OPERATOR_CHECKPOINT_MODE"
	EnvFixMaxIters    = "OPERATOR_FIX_MAX_ITERS"
)

// Config represents the operator configuration.
type Config struct {
	Identity   string           `yaml:"identity"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Exec       ExecConfig       `yaml:"exec"`
	Platform   PlatformConfig   `yaml:"platform"`
	Workflows  WorkflowsConfig  `yaml:"workflows"`
	Policy     PolicyConfig     `yaml:"policy"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// CheckpointConfig selects the default checkpoint mode.
type CheckpointConfig struct {
	Mode string `yaml:"mode"` // branch, commit
}

// ExecConfig bounds guarded command execution.
type ExecConfig struct {
	Timeout     time.Duration `yaml:"timeout"` // 0 disables
	OutputLimit int           `yaml:"output_limit"`
	Shell       string        `yaml:"shell"`
}

// PlatformConfig describes the local platform the workflows drive.
type PlatformConfig struct {
	// CLI is the command prefix used by workflows to reach the platform
	// surface. Empty means this binary's own "platform" subcommand.
	CLI            string                   `yaml:"cli"`
	HealthURL      string                   `yaml:"health_url"`
	HealthTimeout  time.Duration            `yaml:"health_timeout"`
	SettleDelay    time.Duration            `yaml:"settle_delay"`
	DefaultService string                   `yaml:"default_service"`
	TestCommand    string                   `yaml:"test_command"`
	Services       map[string]ServiceConfig `yaml:"services"`
	Doctor         DoctorConfig             `yaml:"doctor"`
}

// ServiceConfig describes one locally started service.
type ServiceConfig struct {
	Command string `yaml:"command"`
	Port    int    `yaml:"port"`
	LogFile string `yaml:"log_file"`
}

// DoctorConfig lists what the platform doctor inspects.
type DoctorConfig struct {
	Binaries   []string `yaml:"binaries"`
	EnvFiles   []string `yaml:"env_files"`
	EnvExample string   `yaml:"env_example"`
}

// WorkflowsConfig tunes the bounded workflows.
type WorkflowsConfig struct {
	FixTests FixTestsConfig `yaml:"fix_tests"`
}

// FixTestsConfig tunes the failing-tests workflow.
type FixTestsConfig struct {
	MaxIters              int    `yaml:"max_iters"`
	LintFixCommand        string `yaml:"lint_fix_command"`
	SnapshotUpdateCommand string `yaml:"snapshot_update_command"`
}

// PolicyConfig appends rules after the built-in ones.
type PolicyConfig struct {
	ExtraDeny    []RuleConfig `yaml:"extra_deny"`
	ExtraConfirm []RuleConfig `yaml:"extra_confirm"`
}

// RuleConfig is one user-supplied policy pattern.
type RuleConfig struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// MetricsConfig controls the textfile metrics export.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // relative to the state directory
}

// NotifyConfig lists webhooks told about every finished run.
type NotifyConfig struct {
	Webhooks   []WebhookConfig `yaml:"webhooks"`
	MaxRetries int             `yaml:"max_retries"`
	Timeout    time.Duration   `yaml:"timeout"`
}

// WebhookConfig is one notification endpoint. The HMAC secret is read
// from the environment variable named by SecretEnv, never from the file.
type WebhookConfig struct {
	URL       string   `yaml:"url"`
	SecretEnv string   `yaml:"secret_env"`
	Events    []string `yaml:"events"` // run.finished, run.failed, run.denied; empty means all
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Identity:   "operator@local",
		Checkpoint: CheckpointConfig{Mode: "branch"},
		Exec: ExecConfig{
			Timeout:     30 * time.Minute,
			OutputLimit: 1200,
			Shell:       "sh",
		},
		Platform: PlatformConfig{
			HealthURL:      "http://localhost:3000",
			HealthTimeout:  3 * time.Second,
			SettleDelay:    2 * time.Second,
			DefaultService: "web",
			Services: map[string]ServiceConfig{
				"web": {Port: 3000, LogFile: "web.log"},
			},
			Doctor: DoctorConfig{
				Binaries:   []string{"pnpm", "git"},
				EnvFiles:   []string{".env", ".env.local", ".env.development.local"},
				EnvExample: ".env.example",
			},
		},
		Workflows: WorkflowsConfig{
			FixTests: FixTestsConfig{
				MaxIters:              2,
				SnapshotUpdateCommand: "pnpm --filter @illuvrse/tests test -- --update-snapshots",
			},
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "json",
		},
		Metrics: MetricsConfig{Path: "metrics.prom"},
		Notify:  NotifyConfig{MaxRetries: 2, Timeout: 10 * time.Second},
	}
}

// Path returns the configuration file location for a repository root.
func Path(repoRoot string) string {
	return filepath.Join(repoRoot, Dir, FileName)
}

// Load loads configuration from .operator/config.yaml and applies
// environment overrides. Returns defaults if the file doesn't exist.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(repoRoot))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errclass.ErrConfigInvalid.WithMessagef("parse config: %v", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to .operator/config.yaml.
func Save(repoRoot string, cfg *Config) error {
	cfgPath := Path(repoRoot)
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvCheckpointMode); ok && strings.TrimSpace(v) != "" {
		c.Checkpoint.Mode = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvFixMaxIters); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errclass.ErrConfigInvalid.WithMessagef("%s must be an integer: %q", EnvFixMaxIters, v)
		}
		c.Workflows.FixTests.MaxIters = n
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Checkpoint.Mode {
	case "branch", "commit":
	default:
		return errclass.ErrConfigInvalid.WithMessagef("checkpoint mode must be branch or commit: %q", c.Checkpoint.Mode)
	}
	if c.Workflows.FixTests.MaxIters < 1 {
		c.Workflows.FixTests.MaxIters = 1
	}
	if c.Exec.Timeout < 0 {
		return errclass.ErrConfigInvalid.WithMessage("exec timeout must not be negative")
	}
	if c.Exec.OutputLimit <= 0 {
		c.Exec.OutputLimit = 1200
	}
	if c.Exec.Shell == "" {
		c.Exec.Shell = "sh"
	}
	if strings.TrimSpace(c.Identity) == "" {
		return errclass.ErrConfigInvalid.WithMessage("identity must not be empty")
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return errclass.ErrConfigInvalid.WithMessagef("logging format must be json or text: %q", c.Logging.Format)
	}
	for _, w := range c.Notify.Webhooks {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return errclass.ErrConfigInvalid.WithMessagef("webhook url must be http or https: %q", w.URL)
		}
	}
	for _, r := range append(append([]RuleConfig{}, c.Policy.ExtraDeny...), c.Policy.ExtraConfirm...) {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return errclass.ErrConfigInvalid.WithMessagef("policy pattern %q: %v", r.Pattern, err)
		}
	}
	return nil
}
