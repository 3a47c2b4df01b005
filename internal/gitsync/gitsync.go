package gitsync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

const (
	// DefaultAttempts and DefaultDelay are operational tuning, not
	// correctness: transient network or remote-lock contention in the
	// sync tool usually clears within a couple of retries.
	DefaultAttempts = 3
	DefaultDelay    = 5 * time.Second
)

// Syncer pulls the latest workspace state with bounded retries.
type Syncer struct {
	// Command is the external sync command. Overridable for tests.
	Command  []string
	Attempts int
	Delay    time.Duration
}

// New creates a Syncer with default git pull behavior
func New() *Syncer {
	return &Syncer{
		Command:  []string{"git", "pull", "--rebase"},
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
	}
}

// Sync runs the sync command in workspace, retrying on failure.
// Returns true only if some attempt succeeds. Ordinary command failure
// is absorbed here: the caller decides whether a stale workspace is
// acceptable.
func (s *Syncer) Sync(ctx context.Context, workspace string) bool {
	attempts := s.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 1; i <= attempts; i++ {
		cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
		cmd.Dir = workspace
		output, err := cmd.CombinedOutput()
		if err == nil {
			return true
		}

		fmt.Fprintf(os.Stderr, "Warning: sync attempt %d/%d failed: %v\n%s", i, attempts, err, output)

		if i < attempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.Delay):
			}
		}
	}
	return false
}
