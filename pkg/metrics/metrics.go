// Package metrics exports operator counters in Prometheus text format.
//
// A nil *Collector is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "operator"

// Collector holds all operator metrics on a private registry.
type Collector struct {
	registry        *prometheus.Registry
	decisions       *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandDuration prometheus.Histogram
	confirmations   *prometheus.CounterVec
	checkpoints     *prometheus.CounterVec
	workflows       *prometheus.CounterVec
}

// New creates a Collector with every metric registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_decisions_total",
			Help:      "Command policy decisions by status.",
		}, []string{"status"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guarded_commands_total",
			Help:      "Guarded command outcomes by status.",
		}, []string{"status"}),
		commandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "guarded_command_duration_seconds",
			Help:      "Wall time of executed guarded commands.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Confirmation gate outcomes by kind and status.",
		}, []string{"kind", "status"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoints created by mode.",
		}, []string{"mode"}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Workflow terminations by workflow and status.",
		}, []string{"workflow", "status"}),
	}
	c.registry.MustRegister(c.decisions, c.commands, c.commandDuration,
		c.confirmations, c.checkpoints, c.workflows)
	return c
}

// RecordDecision counts one policy evaluation.
func (c *Collector) RecordDecision(status string) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(status).Inc()
}

// RecordCommand counts one guarded command outcome. Duration is observed
// only for commands that actually ran.
func (c *Collector) RecordCommand(status string, ran bool, d time.Duration) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(status).Inc()
	if ran {
		c.commandDuration.Observe(d.Seconds())
	}
}

// RecordConfirmation counts one confirmation gate.
func (c *Collector) RecordConfirmation(kind, status string) {
	if c == nil {
		return
	}
	c.confirmations.WithLabelValues(kind, status).Inc()
}

// RecordCheckpoint counts one checkpoint.
func (c *Collector) RecordCheckpoint(mode string) {
	if c == nil {
		return
	}
	c.checkpoints.WithLabelValues(mode).Inc()
}

// RecordWorkflow counts one workflow termination.
func (c *Collector) RecordWorkflow(workflow, status string) {
	if c == nil {
		return
	}
	c.workflows.WithLabelValues(workflow, status).Inc()
}

// WriteTextfile writes the registry in textfile-collector format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
