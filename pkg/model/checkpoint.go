package model

import "time"

// CheckpointMode selects how the pre-task checkpoint is recorded in git.
type CheckpointMode string

const (
	CheckpointBranch CheckpointMode = "branch"
	CheckpointCommit CheckpointMode = "commit"
)

// ParseCheckpointMode validates a user-supplied mode.
func ParseCheckpointMode(s string) (CheckpointMode, bool) {
	switch CheckpointMode(s) {
	case CheckpointBranch:
		return CheckpointBranch, true
	case CheckpointCommit:
		return CheckpointCommit, true
	}
	return "", false
}

// CheckpointResult is the outcome of a branch/commit checkpoint.
type CheckpointResult struct {
	Ref     string         `json:"ref"`
	Mode    CheckpointMode `json:"mode"`
	Command string         `json:"command"`
	Warning string         `json:"warning,omitempty"`
}

// GitField is one captured piece of git state; Error is set when the git
// call failed so the snapshot still records what it could.
type GitField struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Snapshot is the dense, write-once checkpoint file.
type Snapshot struct {
	ID         CheckpointID      `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	Actor      string            `json:"actor"`
	Command    string            `json:"command"`
	Reason     string            `json:"reason"`
	RunID      RunID             `json:"run_id,omitempty"`
	Cwd        string            `json:"cwd"`
	Head       GitField          `json:"head"`
	Status     GitField          `json:"status"`
	Diff       GitField          `json:"diff"`
	DiffCached GitField          `json:"diff_cached"`
	Checkpoint *CheckpointResult `json:"checkpoint,omitempty"`
}
