package model

// HashValue is a SHA-256 hash stored as hex string.
type HashValue string

// RunID identifies one CLI invocation.
type RunID string

// CheckpointID identifies one dense checkpoint file.
type CheckpointID string
