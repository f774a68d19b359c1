// Package repo resolves the workspace context: the repository root and
// every state path derived from it. The Repo value is threaded through
// all components instead of being resolved per call.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	StateDirName      = ".operator"
	CheckpointsDir    = "checkpoints"
	LogsDir           = "logs"
	AuditLogFile      = "audit.jsonl"
	StoreFile         = "operator.db"
	PlatformStateFile = "platform-state.json"
	IndexFile         = "index.json"
	ConfigFile        = "config.yaml"
	RunLockFile       = "run.lock"
)

// Paths holds resolved state locations for a repository.
type Paths struct {
	State         string
	Checkpoints   string
	Logs          string
	AuditLog      string
	Store         string
	PlatformState string
	Index         string
	Config        string
	RunLock       string
}

// Repo is the workspace context.
type Repo struct {
	Root  string
	IsGit bool
	Paths Paths
}

// Open builds a Repo for an explicit root directory.
func Open(root string) (*Repo, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat repo root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo root is not a directory: %s", abs)
	}
	return newRepo(abs, exists(filepath.Join(abs, ".git"))), nil
}

// Discover walks up from cwd to the nearest directory containing .git or
// .operator/. When neither is found, cwd itself is the root.
func Discover(cwd string) (*Repo, error) {
	start, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}

	path := start
	for {
		if exists(filepath.Join(path, ".git")) {
			return newRepo(path, true), nil
		}
		if info, err := os.Stat(filepath.Join(path, StateDirName)); err == nil && info.IsDir() {
			return newRepo(path, false), nil
		}

		parent := filepath.Dir(path)
		if parent == path {
			return newRepo(start, false), nil
		}
		path = parent
	}
}

func newRepo(root string, isGit bool) *Repo {
	state := filepath.Join(root, StateDirName)
	return &Repo{
		Root:  root,
		IsGit: isGit,
		Paths: Paths{
			State:         state,
			Checkpoints:   filepath.Join(state, CheckpointsDir),
			Logs:          filepath.Join(state, LogsDir),
			AuditLog:      filepath.Join(state, AuditLogFile),
			Store:         filepath.Join(state, StoreFile),
			PlatformState: filepath.Join(state, PlatformStateFile),
			Index:         filepath.Join(state, IndexFile),
			Config:        filepath.Join(state, ConfigFile),
			RunLock:       filepath.Join(state, RunLockFile),
		},
	}
}

// EnsureDirs creates the state directory tree.
func (r *Repo) EnsureDirs() error {
	for _, dir := range []string{r.Paths.State, r.Paths.Checkpoints, r.Paths.Logs} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Rel returns path relative to the root in slash form, or path unchanged
// when it lies outside the root.
func (r *Repo) Rel(path string) string {
	rel, err := filepath.Rel(r.Root, path)
	if err != nil {
		return path
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return path
	}
	return rel
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
