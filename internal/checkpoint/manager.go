// Package checkpoint records the repository state before a task mutates
// it: a git ref (branch or empty commit) plus a dense snapshot file.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/illuvrse/operator/internal/git"
	"github.com/illuvrse/operator/internal/repo"
	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/fsutil"
	"github.com/illuvrse/operator/pkg/model"
)

// BranchPrefix namespaces checkpoint branches.
const BranchPrefix = "operator/checkpoint/"

// ErrDirtyTree is why a commit checkpoint was skipped.
var ErrDirtyTree = errors.New("working tree is dirty; commit checkpoint skipped")

const maxMessageLen = 200

// Manager creates checkpoints for one repository.
type Manager struct {
	git   *git.Client
	dir   string // checkpoint file directory
	actor string
	now   func() time.Time
}

// NewManager returns a manager writing snapshot files to dir.
func NewManager(client *git.Client, dir, actor string) *Manager {
	return &Manager{git: client, dir: dir, actor: actor, now: time.Now}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Stamp formats t as an ISO-8601 UTC timestamp safe for ref and file
// names.
func Stamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}

// Checkpoint records a git checkpoint in mode. Commit mode on a dirty
// tree falls back to a branch and reports the fallback as a warning.
func (m *Manager) Checkpoint(ctx context.Context, task string, mode model.CheckpointMode) (model.CheckpointResult, error) {
	switch mode {
	case model.CheckpointBranch:
		return m.branch(ctx)
	case model.CheckpointCommit:
		res, commitErr := m.commit(ctx, task)
		if commitErr == nil {
			return res, nil
		}
		fallback, err := m.branch(ctx)
		if err != nil {
			return model.CheckpointResult{}, errclass.ErrCheckpointFailed.WithMessage(commitErr.Error())
		}
		fallback.Warning = fmt.Sprintf("Commit checkpoint skipped: %s. Created branch instead.", commitErr)
		return fallback, nil
	default:
		return model.CheckpointResult{}, errclass.ErrCheckpointFailed.WithMessage("Invalid checkpoint mode. Use branch or commit.")
	}
}

func (m *Manager) branch(ctx context.Context) (model.CheckpointResult, error) {
	base := BranchPrefix + Stamp(m.now())
	name := base
	for counter := 1; ; counter++ {
		exists, err := m.git.BranchExists(ctx, name)
		if err != nil {
			return model.CheckpointResult{}, errclass.ErrCheckpointFailed.WithMessage(err.Error())
		}
		if !exists {
			break
		}
		name = fmt.Sprintf("%s-%d", base, counter)
	}
	if err := m.git.CreateBranch(ctx, name); err != nil {
		return model.CheckpointResult{}, errclass.ErrCheckpointFailed.WithMessage(err.Error())
	}
	return model.CheckpointResult{
		Ref:     name,
		Mode:    model.CheckpointBranch,
		Command: "git branch " + name,
	}, nil
}

// commit returns a plain error so the caller can quote it in the
// fallback warning.
func (m *Manager) commit(ctx context.Context, task string) (model.CheckpointResult, error) {
	files, err := m.git.ChangedFiles(ctx)
	if err != nil {
		return model.CheckpointResult{}, err
	}
	if len(WorkingChanges(files)) > 0 {
		return model.CheckpointResult{}, ErrDirtyTree
	}
	if task == "" {
		task = "task"
	}
	message := truncate("operator checkpoint: "+task, maxMessageLen)
	if err := m.git.CommitEmpty(ctx, message); err != nil {
		return model.CheckpointResult{}, err
	}
	head, err := m.git.Head(ctx)
	if err != nil {
		return model.CheckpointResult{}, err
	}
	return model.CheckpointResult{
		Ref:     head,
		Mode:    model.CheckpointCommit,
		Command: fmt.Sprintf("git commit --allow-empty -m %q", message),
	}, nil
}

// SnapshotInput describes why a snapshot is taken.
type SnapshotInput struct {
	Command    string
	Reason     string
	RunID      model.RunID
	Cwd        string
	Checkpoint *model.CheckpointResult
}

// Snapshot writes a dense record of HEAD, status and both diffs. Each
// git field carries its own error so a partial snapshot is still
// written. The file is created exclusively and never rewritten.
func (m *Manager) Snapshot(ctx context.Context, in SnapshotInput) (*model.Snapshot, string, error) {
	now := m.now().UTC()
	snap := &model.Snapshot{
		ID:         model.CheckpointID(uuid.NewString()),
		CreatedAt:  now,
		Actor:      m.actor,
		Command:    in.Command,
		Reason:     in.Reason,
		RunID:      in.RunID,
		Cwd:        in.Cwd,
		Checkpoint: in.Checkpoint,
	}
	snap.Head = field(m.git.Head(ctx))
	snap.Status = field(m.git.StatusPorcelain(ctx))
	snap.Diff = field(m.git.Diff(ctx))
	snap.DiffCached = field(m.git.DiffCached(ctx))

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("marshal snapshot: %w", err)
	}
	path := filepath.Join(m.dir, fmt.Sprintf("%s-%s.json", Stamp(now), snap.ID))
	if err := fsutil.WriteExclusive(path, append(data, '\n'), 0644); err != nil {
		return nil, "", fmt.Errorf("write snapshot: %w", err)
	}
	return snap, path, nil
}

// WorkingChanges drops operator's own state directory from a list of
// changed paths.
func WorkingChanges(files []string) []string {
	var out []string
	for _, f := range files {
		if f == repo.StateDirName || strings.HasPrefix(f, repo.StateDirName+"/") {
			continue
		}
		out = append(out, f)
	}
	return out
}

func field(out string, err error) model.GitField {
	if err != nil {
		return model.GitField{Error: err.Error()}
	}
	return model.GitField{Output: out}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
