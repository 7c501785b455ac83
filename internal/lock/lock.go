package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/Ning0612/rclonesync/internal/domain"
)

const (
	// LockFilePrefix starts every pair lock file name
	LockFilePrefix = "rclonesync-"
	// LockFileSuffix ends every pair lock file name
	LockFileSuffix = ".lock"
)

// LockInfo contains metadata about the lock holder.
// It is informational only; ownership is decided by the OS lock.
type LockInfo struct {
	PID         int       `json:"pid"`
	Hostname    string    `json:"hostname"`
	StartTime   time.Time `json:"start_time"`
	RunID       string    `json:"run_id,omitempty"`
	Source      string    `json:"source,omitempty"`
	Destination string    `json:"destination,omitempty"`
}

// NewLockInfo describes the current process as holder of a run
func NewLockInfo(ident domain.RunIdentity, pair domain.Pair) LockInfo {
	hostname, _ := os.Hostname()
	return LockInfo{
		PID:         os.Getpid(),
		Hostname:    hostname,
		StartTime:   ident.StartTime,
		RunID:       ident.RunID,
		Source:      pair.Source,
		Destination: pair.Destination,
	}
}

// PathFor returns the lock file path for a pair's stable identifier.
// An empty dir means the system temporary directory.
func PathFor(dir, stableID string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, LockFilePrefix+stableID+LockFileSuffix)
}

// PairLock is an exclusive, non-blocking lock scoped to one pair.
//
// The lock is an flock(2) (LockFileEx on Windows) held on an open
// descriptor, so the kernel drops it when the holding process exits for
// any reason, including SIGKILL. The lock file itself is never removed:
// deleting it would let a second process lock a fresh inode while the
// first still holds the old one.
type PairLock struct {
	path  string
	flock *flock.Flock
	info  *LockInfo
}

// New creates a lock for the given lock file path without touching the filesystem
func New(path string) *PairLock {
	return &PairLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Path returns the lock file path
func (l *PairLock) Path() string {
	return l.path
}

// TryAcquire attempts to take the lock without waiting.
// Returns a *LockError matching domain.ErrAlreadyLocked if another
// descriptor holds it.
func (l *PairLock) TryAcquire(info LockInfo) error {
	if l.info != nil {
		return fmt.Errorf("lock %s already held by this instance", l.path)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}
	if !locked {
		holder, _ := readLockInfo(l.path)
		return &LockError{
			Path:   l.path,
			Holder: holder,
			Reason: "lock is held by another process",
		}
	}

	// Holder metadata is advisory; a failed write does not give the lock up.
	_ = writeLockInfo(l.path, &info)

	l.info = &info
	return nil
}

// Release releases the lock. Releasing an unheld lock is a no-op.
func (l *PairLock) Release() error {
	if l.info == nil {
		return nil
	}
	l.info = nil

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	return nil
}

// Held reports whether this instance currently holds the lock
func (l *PairLock) Held() bool {
	return l.info != nil
}

// Status is a point-in-time view of a pair lock
type Status struct {
	Path string
	// Locked is true when another descriptor holds the lock
	Locked bool
	// Holder is the last recorded holder, present or past
	Holder *LockInfo
	// HolderAlive is true when the holder runs on this host and is alive
	HolderAlive bool
}

// Probe reports whether path is currently locked without blocking and
// without keeping the lock. A missing lock file is reported as unlocked
// and is not created.
func Probe(path string) (*Status, error) {
	status := &Status{Path: path}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return status, nil
		}
		return nil, fmt.Errorf("failed to stat lock file: %w", err)
	}

	status.Holder, _ = readLockInfo(path)

	f := flock.New(path)
	locked, err := f.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to probe lock %s: %w", path, err)
	}
	if locked {
		if err := f.Unlock(); err != nil {
			return nil, fmt.Errorf("failed to release probe lock: %w", err)
		}
		return status, nil
	}

	status.Locked = true
	if status.Holder != nil {
		status.HolderAlive = holderAlive(status.Holder)
	}
	return status, nil
}

// holderAlive checks whether the recorded holder process still runs.
// Holders on other hosts cannot be checked and are assumed alive.
func holderAlive(info *LockInfo) bool {
	hostname, _ := os.Hostname()
	if info.Hostname != hostname {
		return true
	}
	return processExists(info.PID)
}

// readLockInfo reads the holder metadata from the lock file
func readLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("lock file has no holder metadata")
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file format: %w", err)
	}
	return &info, nil
}

// writeLockInfo replaces the holder metadata in the lock file
func writeLockInfo(path string, info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LockError represents an error when the lock cannot be acquired
type LockError struct {
	Path   string
	Holder *LockInfo
	Reason string
}

func (e *LockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("cannot acquire lock %s: %s (held by PID %d on %s since %s, run %s)",
			e.Path,
			e.Reason,
			e.Holder.PID,
			e.Holder.Hostname,
			e.Holder.StartTime.Format(time.RFC3339),
			e.Holder.RunID,
		)
	}
	return fmt.Sprintf("cannot acquire lock %s: %s", e.Path, e.Reason)
}

// Is lets errors.Is match a LockError against domain.ErrAlreadyLocked
func (e *LockError) Is(target error) bool {
	return target == domain.ErrAlreadyLocked
}

// IsLockError checks if an error is a LockError
func IsLockError(err error) bool {
	_, ok := err.(*LockError)
	return ok
}
