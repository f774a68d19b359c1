package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuditAction labels what an audit record describes.
type AuditAction string

const (
	ActionCommand    AuditAction = "command"
	ActionGuardrail  AuditAction = "guardrail"
	ActionCheckpoint AuditAction = "checkpoint"
	ActionSnapshot   AuditAction = "snapshot"
	ActionHealth     AuditAction = "health"
	ActionAnalysis   AuditAction = "analysis"
	ActionDiagnosis  AuditAction = "diagnosis"
	ActionDoctor     AuditAction = "doctor"
	ActionFix        AuditAction = "fix"
	ActionFile       AuditAction = "file"
	ActionHelper     AuditAction = "helper"
	ActionPlatform   AuditAction = "platform"
	ActionPreview    AuditAction = "preview"
	ActionDo         AuditAction = "operator.do"
	ActionAsk        AuditAction = "operator.ask"
)

// Audit record statuses.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusDenied    = "denied"
	StatusConfirmed = "confirmed"
	StatusSkipped   = "skipped"
	StatusCreated   = "created"
	StatusDryRun    = "dry-run"
	StatusWarning   = "warning"
	StatusBlocked   = "blocked"
)

// AuditRecord is a single line in the audit log (JSONL format).
type AuditRecord struct {
	Seq        int64           `json:"seq"`
	Timestamp  time.Time       `json:"timestamp"`
	Actor      string          `json:"actor"`
	Action     AuditAction     `json:"action"`
	Status     string          `json:"status,omitempty"`
	RunID      RunID           `json:"run_id,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	PrevHash   HashValue       `json:"prev_hash"`
	RecordHash HashValue       `json:"record_hash"`
}

// DecodeDetail unmarshals the record detail into v.
func (r *AuditRecord) DecodeDetail(v any) error {
	if len(r.Detail) == 0 {
		return fmt.Errorf("audit record %d has no detail", r.Seq)
	}
	return json.Unmarshal(r.Detail, v)
}

// CommandDetail records one guarded command execution.
type CommandDetail struct {
	Command    string         `json:"command"`
	Dir        string         `json:"dir,omitempty"`
	ReadOnly   bool           `json:"read_only,omitempty"`
	Decision   PolicyDecision `json:"decision"`
	ExitCode   int            `json:"exit_code"`
	DurationMS int64          `json:"duration_ms"`
	TimedOut   bool           `json:"timed_out,omitempty"`
	Stdout     string         `json:"stdout,omitempty"`
	Stderr     string         `json:"stderr,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// GuardrailKind distinguishes what a confirmation gate protected.
type GuardrailKind string

const (
	GuardCommand GuardrailKind = "command"
	GuardFile    GuardrailKind = "file"
	GuardFix     GuardrailKind = "fix"
)

// GuardrailDetail records a policy denial or a confirmation outcome.
type GuardrailDetail struct {
	Kind    GuardrailKind `json:"kind"`
	Command string        `json:"command,omitempty"`
	Files   []string      `json:"files,omitempty"`
	CheckID string        `json:"check_id,omitempty"`
	FixID   string        `json:"fix_id,omitempty"`
	Rule    string        `json:"rule,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Method  string        `json:"method,omitempty"`
	Refusal string        `json:"refusal,omitempty"`
}

// CheckpointDetail records the branch/commit checkpoint outcome.
type CheckpointDetail struct {
	Mode    CheckpointMode `json:"mode,omitempty"`
	Ref     string         `json:"ref,omitempty"`
	Command string         `json:"command,omitempty"`
	Warning string         `json:"warning,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SnapshotDetail points at a dense checkpoint file.
type SnapshotDetail struct {
	ID    CheckpointID `json:"id,omitempty"`
	Path  string       `json:"path,omitempty"`
	Error string       `json:"error,omitempty"`
}

// HealthDetail records an HTTP health probe.
type HealthDetail struct {
	URL        string `json:"url"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// FixerPlan is one automated remediation the failing-tests loop may run.
type FixerPlan struct {
	Kind    string `json:"kind"`
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

// AnalysisDetail records one failing-tests iteration analysis.
type AnalysisDetail struct {
	Attempt     int         `json:"attempt"`
	MaxIters    int         `json:"max_iters"`
	LikelyFiles []string    `json:"likely_files"`
	Fixers      []FixerPlan `json:"fixers"`
	Plan        []string    `json:"plan"`
}

// SkippedFix explains why a doctor check was not remediated.
type SkippedFix struct {
	CheckID string `json:"check_id"`
	Reason  string `json:"reason"`
}

// AppliedFix names a remediation that ran to completion.
type AppliedFix struct {
	CheckID string `json:"check_id"`
	FixID   string `json:"fix_id"`
}

// DiagnosisDetail is the terminal summary of a workflow.
type DiagnosisDetail struct {
	Workflow       string       `json:"workflow"`
	Summary        string       `json:"summary"`
	Suggestions    []string     `json:"suggestions"`
	AppliedFixes   []AppliedFix `json:"applied_fixes,omitempty"`
	FixedChecks    []string     `json:"fixed_checks,omitempty"`
	RemainingFails []string     `json:"remaining_fails,omitempty"`
	RemainingWarns []string     `json:"remaining_warns,omitempty"`
	ManualActions  []string     `json:"manual_actions,omitempty"`
	SkippedFixes   []SkippedFix `json:"skipped_fixes,omitempty"`
}

// DoctorDetail records a doctor report that could not be used.
type DoctorDetail struct {
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
}

// FixDetail records a doctor fix being skipped or applied.
type FixDetail struct {
	CheckID string `json:"check_id"`
	FixID   string `json:"fix_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// FileDetail records audited file creation.
type FileDetail struct {
	Files []string `json:"files,omitempty"`
	File  string   `json:"file,omitempty"`
	Error string   `json:"error,omitempty"`
}

// HelperDetail records a read-only scan or grep helper.
type HelperDetail struct {
	Helper    string   `json:"helper"`
	Command   string   `json:"command"`
	Pattern   string   `json:"pattern,omitempty"`
	Total     int      `json:"total"`
	TopLevels []string `json:"top_levels,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// PreviewDetail records the decision a command would get in a dry run.
type PreviewDetail struct {
	Command  string         `json:"command"`
	ReadOnly bool           `json:"read_only,omitempty"`
	Decision PolicyDecision `json:"decision"`
}

// PlatformDetail records a platform control operation.
type PlatformDetail struct {
	Op      string `json:"op"`
	Mode    string `json:"mode"`
	Service string `json:"service,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Detach  bool   `json:"detach,omitempty"`
	Command string `json:"command,omitempty"`
}

// InvocationDetail is the closing record of a do/ask invocation.
type InvocationDetail struct {
	Task         string   `json:"task"`
	Workflow     string   `json:"workflow"`
	Plan         []string `json:"plan"`
	CommandsRun  []string `json:"commands_run"`
	FilesBefore  []string `json:"files_before"`
	FilesAfter   []string `json:"files_after"`
	FilesChanged []string `json:"files_changed"`
	Checkpoint   string   `json:"checkpoint,omitempty"`
}
