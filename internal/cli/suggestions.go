package cli

import (
	"fmt"
	"strings"

	"github.com/illuvrse/operator/internal/checkpoint"
	"github.com/illuvrse/operator/pkg/color"
	"github.com/illuvrse/operator/pkg/model"
)

// suggestCheckpoints provides helpful suggestions when a checkpoint is
// not found. Returns a formatted suggestion string.
func suggestCheckpoints(query string, dir string) string {
	entries, err := checkpoint.List(dir)
	if err != nil || len(entries) == 0 {
		return fmt.Sprintf("Run %s to create one.", color.Code(`operator do "<task>"`))
	}

	q := strings.ToLower(query)
	var matches []string
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.Snapshot.Command), q) {
			matches = append(matches, color.Ref(e.Name))
		}
		if len(matches) == 3 {
			break
		}
	}
	if len(matches) > 0 {
		hint := "Did you mean"
		if len(matches) > 1 {
			hint += " one of"
		}
		return fmt.Sprintf("%s: %s?", hint, strings.Join(matches, ", "))
	}

	return fmt.Sprintf("Run %s to see available checkpoints.", color.Code("operator checkpoint list"))
}

// suggestRuns lists recent run ids sharing a prefix with id.
func suggestRuns(id string, runs []model.Run) string {
	var matches []string
	for _, r := range runs {
		if strings.HasPrefix(string(r.ID), id) {
			matches = append(matches, color.Ref(string(r.ID)))
		}
	}
	if len(matches) == 1 {
		return fmt.Sprintf("Did you mean: %s?", matches[0])
	}
	if len(matches) > 1 {
		return fmt.Sprintf("Did you mean one of: %s?", strings.Join(matches, ", "))
	}
	return fmt.Sprintf("Run %s to see recent runs.", color.Code("operator runs list"))
}

// formatCheckpointNotFoundError formats a checkpoint not found error with suggestions.
func formatCheckpointNotFoundError(query string, dir string) string {
	var sb strings.Builder

	sb.WriteString(color.Error(fmt.Sprintf("checkpoint '%s' not found", query)))
	sb.WriteString("\n")
	sb.WriteString(color.Dim("  " + suggestCheckpoints(query, dir)))

	return sb.String()
}

// formatRunNotFoundError formats a run not found error with suggestions.
func formatRunNotFoundError(id string, runs []model.Run) string {
	var sb strings.Builder

	sb.WriteString(color.Error(fmt.Sprintf("run '%s' not found", id)))
	sb.WriteString("\n")
	sb.WriteString(color.Dim("  " + suggestRuns(id, runs)))

	return sb.String()
}
