package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// invocation is one fully-built backend command ready to run. The
// adapters differ in how they construct it (flags, context injection,
// prompt delivery); running it — log header, timeout enforcement,
// output fan-out, trailer — is shared.
type invocation struct {
	backend   Backend
	argv      []string
	workspace string
	env       []string
	// stdin is piped to the child when pipeStdin is set
	stdin     string
	pipeStdin bool
	// headerLines appear in the log header after the command line
	// (context-compiled flag, declared timeouts)
	headerLines []string
}

// LogFileName returns the log file name for one invocation
func LogFileName(runType string, b Backend, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%s.log", runType, b, ts.Format("20060102-150405"))
}

// run executes the invocation: writes the log header, starts the child
// bound to the workspace, tees combined stdout/stderr to both the
// console and the log file, and maps the outcome to an ExecutionResult.
// The fan-out is in-process (io.MultiWriter) rather than a shell tee
// pipeline, so the reported exit status is unambiguously the child's.
func (inv invocation) run(ctx context.Context, opts Options) (ExecutionResult, error) {
	ts := time.Now()

	if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
		return ExecutionResult{ExitCode: 1}, fmt.Errorf("creating log dir: %w", err)
	}
	logPath := filepath.Join(opts.LogDir, LogFileName(opts.RunType, inv.backend, ts))
	logFile, err := os.Create(logPath)
	if err != nil {
		return ExecutionResult{ExitCode: 1}, fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "=== %s %s run at %s ===\n", opts.RunType, inv.backend, ts.Format("20060102-150405"))
	fmt.Fprintf(logFile, "Working directory: %s\n", inv.workspace)
	fmt.Fprintf(logFile, "Command: %s\n", strings.Join(inv.argv, " "))
	for _, line := range inv.headerLines {
		fmt.Fprintln(logFile, line)
	}
	fmt.Fprint(logFile, "\n=== Output ===\n")

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, inv.argv[0], inv.argv[1:]...)
	cmd.Dir = inv.workspace
	cmd.Env = inv.env
	if inv.pipeStdin {
		cmd.Stdin = strings.NewReader(inv.stdin)
	}
	tee := io.MultiWriter(opts.Console, logFile)
	cmd.Stdout = tee
	cmd.Stderr = tee

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		secs := int(opts.Timeout.Seconds())
		fmt.Fprintf(logFile, "\n=== Execution timed out ===\n")
		fmt.Fprintf(logFile, "Status: TIMED OUT after %ds\n", secs)
		fmt.Fprintf(opts.ErrConsole, "ERROR: %s execution timed out after %ds\n", inv.backend, secs)
		return ExecutionResult{ExitCode: TimeoutExitCode, TimedOut: true, LogPath: logPath}, nil
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The process never ran (e.g. executable vanished between
			// resolution and start); this is a setup failure.
			return ExecutionResult{ExitCode: 1}, fmt.Errorf("running %s: %w", inv.backend, runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	fmt.Fprintf(logFile, "\n=== Execution completed ===\n")
	fmt.Fprintf(logFile, "Exit code: %d\n", exitCode)

	return ExecutionResult{ExitCode: exitCode, LogPath: logPath}, nil
}
