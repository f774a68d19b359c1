package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/illuvrse/operator/internal/audit"
	"github.com/illuvrse/operator/internal/executor"
	"github.com/illuvrse/operator/internal/policy"
	"github.com/illuvrse/operator/internal/repo"
	"github.com/illuvrse/operator/internal/store"
	"github.com/illuvrse/operator/internal/workflow"
	"github.com/illuvrse/operator/pkg/config"
	"github.com/illuvrse/operator/pkg/logging"
	"github.com/illuvrse/operator/pkg/metrics"
	"github.com/illuvrse/operator/pkg/model"
	"github.com/illuvrse/operator/pkg/webhook"
)

// requireRepo resolves the workspace from --repo or the current
// directory, or exits with error.
func requireRepo() *repo.Repo {
	var (
		r   *repo.Repo
		err error
	)
	if repoFlag != "" {
		r, err = repo.Open(repoFlag)
	} else {
		var cwd string
		cwd, err = os.Getwd()
		if err != nil {
			fmtErr("cannot get current directory: %v", err)
			osExit(1)
		}
		r, err = repo.Discover(cwd)
	}
	if err != nil {
		fmtErr("resolve repository: %v", err)
		osExit(1)
	}
	return r
}

// requireConfig loads the repository configuration and applies its
// logging settings, or exits with error.
func requireConfig(r *repo.Repo) *config.Config {
	cfg, err := config.Load(r.Root)
	if err != nil {
		fmtErr("load config: %v", err)
		osExit(1)
	}
	level := logLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	setupLogging(level, cfg.Logging.Format)
	return cfg
}

// session holds everything one audited invocation writes through.
type session struct {
	repo    *repo.Repo
	cfg     *config.Config
	runID   model.RunID
	store   *store.SQLiteStore // nil when the database is unavailable
	trail   *audit.Trail
	metrics *metrics.Collector
	logger  *logging.Logger
	hooks   *webhook.Client // nil without configured webhooks
}

// openSession prepares the state directory, the run recorder and the
// audit trail. A recorder that cannot be opened is logged and skipped.
func openSession(ctx context.Context, r *repo.Repo, cfg *config.Config) (*session, error) {
	if err := r.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	s := &session{
		repo:   r,
		cfg:    cfg,
		runID:  model.RunID(uuid.NewString()),
		logger: logging.Global(),
	}
	s.logger = s.logger.WithFields(map[string]any{"run_id": string(s.runID)})

	if st, err := store.NewSQLite(r.Paths.Store); err != nil {
		s.logger.WarnErr("run store unavailable", err)
	} else if err := st.Init(ctx); err != nil {
		s.logger.WarnErr("run store unavailable", err)
		st.Close()
	} else {
		s.store = st
	}

	var sink audit.ActionSink
	if s.store != nil {
		sink = s.store
	}
	s.trail = audit.NewTrail(audit.NewFileAppender(r.Paths.AuditLog, cfg.Identity), s.runID, &loggedSink{sink: sink, logger: s.logger})

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}
	if len(cfg.Notify.Webhooks) > 0 {
		s.hooks = webhook.NewClient(webhookConfig(cfg.Notify), s.logger)
	}
	s.logger.Debug("session opened", map[string]any{
		"repo":     r.Root,
		"recorder": s.store != nil,
		"metrics":  s.metrics != nil,
		"webhooks": len(cfg.Notify.Webhooks),
	})
	return s, nil
}

func webhookConfig(n config.NotifyConfig) *webhook.Config {
	wc := webhook.DefaultConfig()
	wc.MaxRetries = n.MaxRetries
	if n.Timeout > 0 {
		wc.Timeout = n.Timeout
	}
	for _, h := range n.Webhooks {
		hook := webhook.HookConfig{URL: h.URL}
		if h.SecretEnv != "" {
			hook.Secret = os.Getenv(h.SecretEnv)
		}
		for _, e := range h.Events {
			hook.Events = append(hook.Events, webhook.EventType(e))
		}
		wc.Hooks = append(wc.Hooks, hook)
	}
	return wc
}

// notify queues the run event for the configured webhooks; close
// delivers it.
func (s *session) notify(ctx context.Context, mode, task string, rep workflow.Report) {
	if s.hooks == nil {
		return
	}
	ev := webhook.Event{
		Event:        webhook.EventFor(string(rep.Status)),
		RunID:        string(rep.RunID),
		RepoRoot:     s.repo.Root,
		Mode:         mode,
		Task:         task,
		Workflow:     rep.Workflow,
		Status:       string(rep.Status),
		FilesChanged: rep.FilesChanged,
		Error:        rep.Error,
	}
	if rep.Diagnosis != nil {
		ev.Summary = rep.Diagnosis.Summary
	}
	if rep.Checkpoint != nil {
		ev.Checkpoint = rep.Checkpoint.Ref
	}
	if err := s.hooks.Send(ctx, ev, true); err != nil {
		s.logger.WarnErr("webhook send failed", err)
	}
}

// guard builds the command guard for this session.
func (s *session) guard(yes bool) (*executor.Guard, error) {
	engine, err := policy.FromConfig(s.cfg.Policy)
	if err != nil {
		return nil, err
	}
	var confirmer executor.Confirmer = executor.NewTTYPrompter(os.Stdin, os.Stderr)
	if yes {
		confirmer = executor.AutoApprove{}
	}
	var stdout io.Writer = os.Stdout
	if jsonOutput {
		stdout = os.Stderr
	}
	return executor.NewGuard(executor.GuardConfig{
		Policy:      engine,
		Runner:      executor.NewShellRunner(s.cfg.Exec.Shell),
		Confirmer:   confirmer,
		Recorder:    s.trail,
		Metrics:     s.metrics,
		Logger:      s.logger,
		Dir:         s.repo.Root,
		Timeout:     s.cfg.Exec.Timeout,
		OutputLimit: s.cfg.Exec.OutputLimit,
		Stdout:      stdout,
		Stderr:      os.Stderr,
	})
}

// close flushes metrics and releases the database.
func (s *session) close() {
	if s.cfg.Metrics.Enabled {
		path := filepath.Join(s.repo.Paths.State, s.cfg.Metrics.Path)
		if err := s.metrics.WriteTextfile(path); err != nil {
			s.logger.WarnErr("metrics write failed", err)
		}
	}
	if s.hooks != nil {
		s.hooks.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// loggedSink mirrors audit records into the run store. Mirror failures
// are logged and never fail the audited step.
type loggedSink struct {
	sink   audit.ActionSink
	logger *logging.Logger
}

func (l *loggedSink) AddAction(ctx context.Context, action model.Action) error {
	if l.sink == nil {
		return nil
	}
	if err := l.sink.AddAction(ctx, action); err != nil {
		l.logger.WarnErr("mirror action failed", err, map[string]any{"seq": action.Seq})
	}
	return nil
}
