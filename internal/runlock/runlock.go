package runlock

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is an advisory file lock scoped to a (workspace, run-name) pair.
// The lock file lives inside the workspace so operators can see which
// run holds it. The kernel releases the flock when the owning process
// dies, so a crashed holder never wedges the workspace.
type Lock struct {
	workspace string
	runName   string
	file      *os.File
}

// New creates an unacquired Lock for the given workspace and run name
func New(workspace, runName string) *Lock {
	return &Lock{workspace: workspace, runName: runName}
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return filepath.Join(l.workspace, fmt.Sprintf(".runloop-%s.lock", l.runName))
}

// Held reports whether this instance currently holds the lock
func (l *Lock) Held() bool {
	return l.file != nil
}

// Acquire attempts to take an exclusive, non-blocking lock.
// Returns false when another live process holds it; that is an expected
// outcome, not an error. I/O failures opening or locking the file are
// returned as errors.
func (l *Lock) Acquire() (bool, error) {
	if l.file != nil {
		return true, nil
	}

	f, err := os.OpenFile(l.Path(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("locking %s: %w", l.Path(), err)
	}

	l.file = f
	return true, nil
}

// Release drops the lock if held. Idempotent: releasing an unheld lock
// is a no-op.
func (l *Lock) Release() {
	if l.file == nil {
		return
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil
}
