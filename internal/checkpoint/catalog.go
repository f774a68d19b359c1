package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/model"
)

// Entry is a snapshot file together with its name.
type Entry struct {
	Name     string // file name without .json
	Snapshot *model.Snapshot
}

// List returns all snapshot files in dir, newest first. Unreadable files
// are skipped.
func List(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoints directory: %w", err)
	}

	var out []Entry
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		snap, err := loadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: strings.TrimSuffix(entry.Name(), ".json"), Snapshot: snap})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Snapshot.CreatedAt.After(out[j].Snapshot.CreatedAt)
	})
	return out, nil
}

// Find resolves query against snapshot ids and file names by prefix.
// Multiple matches are an error.
func Find(dir, query string) (Entry, error) {
	all, err := List(dir)
	if err != nil {
		return Entry{}, err
	}
	var matches []Entry
	for _, e := range all {
		if strings.HasPrefix(string(e.Snapshot.ID), query) || strings.HasPrefix(e.Name, query) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return Entry{}, errclass.ErrNotFound.WithMessagef("no checkpoint matching %q", query)
	case 1:
		return matches[0], nil
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Name
	}
	return Entry{}, fmt.Errorf("ambiguous query %q matches multiple checkpoints: %s", query, strings.Join(names, ", "))
}

func loadFile(path string) (*model.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}
