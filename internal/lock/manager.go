// Package lock serializes mutating runs in one repository. A run holds
// .operator/run.lock for its lifetime; a lock whose lease expired or
// whose holder process is gone may be taken over.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/illuvrse/operator/pkg/errclass"
	"github.com/illuvrse/operator/pkg/fsutil"
	"github.com/illuvrse/operator/pkg/model"
)

// DefaultTTL bounds how long a crashed holder can block other runs.
const DefaultTTL = 2 * time.Hour

const (
	takeoverSuffix   = ".takeover"
	takeoverGuardTTL = 30 * time.Second
)

// Record is the content of the lock file.
type Record struct {
	RunID      model.RunID `json:"run_id"`
	Nonce      string      `json:"nonce"`
	PID        int         `json:"pid"`
	Host       string      `json:"host"`
	Task       string      `json:"task"`
	AcquiredAt time.Time   `json:"acquired_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
	Takeovers  int         `json:"takeovers,omitempty"`
}

// IsExpired reports whether the lease ended before now.
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// State describes the lock file.
type State string

const (
	StateFree  State = "free"
	StateHeld  State = "held"
	StateStale State = "stale"
)

// Manager handles the run lock of one repository.
type Manager struct {
	path string
	ttl  time.Duration
	mu   sync.Mutex

	now   func() time.Time
	alive func(pid int) bool
	host  string
}

// NewManager creates a manager for the lock file at path. A ttl of zero
// uses DefaultTTL.
func NewManager(path string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	host, _ := os.Hostname()
	return &Manager{
		path:  path,
		ttl:   ttl,
		now:   time.Now,
		alive: processAlive,
		host:  host,
	}
}

// Acquire takes the lock for runID. A held lock fails with ErrRunLocked;
// a stale one is taken over.
func (m *Manager) Acquire(runID model.RunID, task string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.newRecord(runID, task)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}

	err = fsutil.WriteExclusive(m.path, data, 0644)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, fsutil.ErrExists) {
		return nil, fmt.Errorf("create lock: %w", err)
	}

	// Lock exists, take it over only if stale. Unreadable or vanished
	// locks count as stale.
	held, readErr := m.read()
	if readErr != nil {
		held = nil
	}
	if held != nil && !m.stale(held) {
		return nil, lockedBy(held)
	}
	return m.takeOver(rec, held)
}

// takeOver replaces a stale lock. The takeover guard file admits one
// contender; it re-reads the lock under the guard so a lock replaced in
// the meantime is not overwritten.
func (m *Manager) takeOver(rec, seen *Record) (*Record, error) {
	guard := m.path + takeoverSuffix
	if err := m.acquireGuard(guard, rec.Nonce); err != nil {
		return nil, err
	}
	defer os.Remove(guard)

	cur, err := m.read()
	switch {
	case os.IsNotExist(err):
		// Released since we looked; compete like a fresh acquire.
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal lock: %w", err)
		}
		if err := fsutil.WriteExclusive(m.path, data, 0644); err != nil {
			if errors.Is(err, fsutil.ErrExists) {
				return nil, errclass.ErrRunLocked.WithMessage("another run acquired the lock")
			}
			return nil, fmt.Errorf("create lock: %w", err)
		}
		return rec, nil
	case err == nil && !m.stale(cur):
		return nil, lockedBy(cur)
	case err == nil:
		seen = cur
	}

	if seen != nil {
		rec.Takeovers = seen.Takeovers + 1
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	if err := fsutil.AtomicWrite(m.path, data, 0644); err != nil {
		return nil, fmt.Errorf("take over lock: %w", err)
	}
	return rec, nil
}

// acquireGuard creates the takeover guard. A guard left behind by a
// crashed contender is removed once it is older than takeoverGuardTTL.
func (m *Manager) acquireGuard(guard, nonce string) error {
	err := fsutil.WriteExclusive(guard, []byte(nonce), 0644)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fsutil.ErrExists) {
		return fmt.Errorf("create takeover guard: %w", err)
	}
	info, statErr := os.Stat(guard)
	if statErr == nil && m.now().Sub(info.ModTime()) < takeoverGuardTTL {
		return errclass.ErrRunLocked.WithMessage("another run is taking over the stale lock")
	}
	if err := os.Remove(guard); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove takeover guard: %w", err)
	}
	if err := fsutil.WriteExclusive(guard, []byte(nonce), 0644); err != nil {
		if errors.Is(err, fsutil.ErrExists) {
			return errclass.ErrRunLocked.WithMessage("another run is taking over the stale lock")
		}
		return fmt.Errorf("create takeover guard: %w", err)
	}
	return nil
}

func lockedBy(held *Record) error {
	return errclass.ErrRunLocked.WithMessagef("run %s (pid %d, %q) holds the lock until %s",
		held.RunID, held.PID, held.Task, held.ExpiresAt.Local().Format(time.RFC3339))
}

// Release frees the lock if rec still holds it. A lock already gone is
// not an error.
func (m *Manager) Release(rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, err := m.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock: %w", err)
	}
	if held.Nonce != rec.Nonce {
		return errclass.ErrLockNotHeld.WithMessagef("lock now held by run %s", held.RunID)
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// Status returns the current lock state and holder.
func (m *Manager) Status() (State, *Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.read()
	if err != nil {
		if os.IsNotExist(err) {
			return StateFree, nil, nil
		}
		return StateFree, nil, fmt.Errorf("read lock: %w", err)
	}
	if m.stale(rec) {
		return StateStale, rec, nil
	}
	return StateHeld, rec, nil
}

func (m *Manager) newRecord(runID model.RunID, task string) *Record {
	now := m.now().UTC()
	return &Record{
		RunID:      runID,
		Nonce:      uuid.NewString(),
		PID:        os.Getpid(),
		Host:       m.host,
		Task:       task,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}
}

// stale reports whether rec's lease ended or its holder on this host
// has exited.
func (m *Manager) stale(rec *Record) bool {
	if rec.IsExpired(m.now()) {
		return true
	}
	return rec.Host == m.host && rec.PID > 0 && !m.alive(rec.PID)
}

func (m *Manager) read() (*Record, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock: %w", err)
	}
	return &rec, nil
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, os.ErrPermission)
}
