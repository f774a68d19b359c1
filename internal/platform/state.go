package platform

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/illuvrse/operator/pkg/fsutil"
	"github.com/illuvrse/operator/pkg/model"
)

// LoadState reads the service state record. A missing or corrupt file
// yields an empty state.
func LoadState(path string) *model.ServiceState {
	state := &model.ServiceState{Services: map[string]model.ServiceRecord{}}
	data, err := os.ReadFile(path)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, state); err != nil || state.Services == nil {
		return &model.ServiceState{Services: map[string]model.ServiceRecord{}}
	}
	return state
}

// SaveState writes the service state record atomically.
func SaveState(path string, state *model.ServiceState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal platform state: %w", err)
	}
	if err := fsutil.AtomicWrite(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write platform state: %w", err)
	}
	return nil
}
