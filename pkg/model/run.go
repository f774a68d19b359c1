package model

import (
	"encoding/json"
	"time"
)

// RunStatus is the final status of an invocation.
type RunStatus string

const (
	RunRunning          RunStatus = "running"
	RunOK               RunStatus = "ok"
	RunFailed           RunStatus = "failed"
	RunDenied           RunStatus = "denied"
	RunDryRun           RunStatus = "dry-run"
	RunCheckpointFailed RunStatus = "checkpoint-failed"
	RunBlocked          RunStatus = "blocked"
)

// Run groups one CLI invocation.
type Run struct {
	ID         RunID      `json:"id"`
	Mode       string     `json:"mode"`
	Task       string     `json:"task"`
	Summary    string     `json:"summary"`
	Status     RunStatus  `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Action is an ordered child of a Run mirroring one audit record.
type Action struct {
	RunID     RunID           `json:"run_id"`
	Seq       int64           `json:"seq"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
