package model

import "time"

// ServiceRecord tracks one detached service process.
type ServiceRecord struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	LogPath   string    `json:"log_path"`
	StartedAt time.Time `json:"started_at"`
}

// ServiceState is the persisted map of tracked services.
type ServiceState struct {
	Services map[string]ServiceRecord `json:"services"`
}
