// Package runloop drives one autonomous agent session against a
// workspace: lock, sync, prompt, execute, cleanup.
package runloop

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/agent-runloop/internal/backend"
	"github.com/hochfrequenz/agent-runloop/internal/config"
	"github.com/hochfrequenz/agent-runloop/internal/gitsync"
	"github.com/hochfrequenz/agent-runloop/internal/notify"
	"github.com/hochfrequenz/agent-runloop/internal/runlock"
)

// Process exit codes
const (
	ExitSuccess = 0
	ExitFailure = 1
	// ExitLocked is sysexits EX_TEMPFAIL: another instance owns the
	// workspace, try again later.
	ExitLocked = 75
)

// EnvSkipExecution skips the execute stage when set, allowing
// discovery-only dry runs that still exercise lock and sync
const EnvSkipExecution = "SKIP_EXECUTION"

// PromptSource produces the agent prompt for one run cycle.
// Prompt content generation is deliberately outside this package; the
// returned string is used verbatim.
type PromptSource interface {
	GeneratePrompt(ctx context.Context) (string, error)
}

// Recorder persists run lifecycle events. All methods are best-effort
// from the run loop's point of view: a failing recorder never fails a
// run.
type Recorder interface {
	RecordStart(id, runName, backendName, workspace string, startedAt time.Time) error
	RecordFinish(id string, exitCode int, timedOut bool, errorMessage, logPath string, finishedAt time.Time) error
}

// RunLoop executes one full agent session lifecycle. Each instance is
// bound to exactly one workspace and run name; the backend is resolved
// at construction and immutable afterward.
type RunLoop struct {
	workspace string
	runName   string
	backend   backend.Backend

	prompts PromptSource
	lock    *runlock.Lock
	syncer  *gitsync.Syncer

	timeout      time.Duration
	shellTimeout time.Duration
	logDir       string
	tools        string
	env          map[string]string

	// adapters is the dispatch table; replaced in tests
	adapters map[backend.Backend]backend.Adapter

	recorder Recorder
	notifier notify.Notifier

	console    io.Writer
	errConsole io.Writer
}

// Options configures a RunLoop at construction
type Options struct {
	// Backend overrides EXECUTION_BACKEND and the gptme default
	Backend string
	// Timeout is the fixed execution timeout for the whole session
	Timeout      time.Duration
	ShellTimeout time.Duration
	// LogDir is the process-wide log root, never inside the workspace
	LogDir string
	Tools  string
	// Env is merged into the backend child's environment
	Env map[string]string

	Syncer   *gitsync.Syncer
	Recorder Recorder
	Notifier notify.Notifier

	Console    io.Writer
	ErrConsole io.Writer
}

// New creates a RunLoop for one (workspace, runName) pair.
// Backend precedence: opts.Backend > EXECUTION_BACKEND > gptme.
func New(workspace, runName string, prompts PromptSource, opts Options) (*RunLoop, error) {
	b, err := backend.Resolve(opts.Backend)
	if err != nil {
		return nil, err
	}

	if opts.Timeout <= 0 {
		opts.Timeout = backend.DefaultTimeout
	}
	if opts.ShellTimeout <= 0 {
		opts.ShellTimeout = backend.DefaultShellTimeout
	}
	if opts.LogDir == "" {
		opts.LogDir = config.Default().General.LogDir
	}
	if opts.Syncer == nil {
		opts.Syncer = gitsync.New()
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.ErrConsole == nil {
		opts.ErrConsole = os.Stderr
	}

	return &RunLoop{
		workspace:    workspace,
		runName:      runName,
		backend:      b,
		prompts:      prompts,
		lock:         runlock.New(workspace, runName),
		syncer:       opts.Syncer,
		timeout:      opts.Timeout,
		shellTimeout: opts.ShellTimeout,
		logDir:       opts.LogDir,
		tools:        opts.Tools,
		env:          opts.Env,
		recorder:     opts.Recorder,
		notifier:     opts.Notifier,
		console:      opts.Console,
		errConsole:   opts.ErrConsole,
	}, nil
}

// Backend returns the resolved backend
func (r *RunLoop) Backend() backend.Backend {
	return r.backend
}

// Setup acquires the workspace lock. A held lock is an expected
// outcome reported as false, not an error.
func (r *RunLoop) Setup() (bool, error) {
	return r.lock.Acquire()
}

// PreRun synchronizes the workspace. A false result is a normal stage
// failure: the caller decides whether to proceed on stale state.
func (r *RunLoop) PreRun(ctx context.Context) bool {
	return r.syncer.Sync(ctx, r.workspace)
}

// Execute dispatches the prompt to the resolved backend adapter
func (r *RunLoop) Execute(ctx context.Context, prompt string) (backend.ExecutionResult, error) {
	adapter, err := r.adapter()
	if err != nil {
		return backend.ExecutionResult{ExitCode: ExitFailure}, err
	}
	return adapter.Execute(ctx, prompt, r.workspace, backend.Options{
		Timeout:      r.timeout,
		ShellTimeout: r.shellTimeout,
		RunType:      r.runName,
		LogDir:       r.logDir,
		Tools:        r.tools,
		Env:          r.env,
		Console:      r.console,
		ErrConsole:   r.errConsole,
	})
}

func (r *RunLoop) adapter() (backend.Adapter, error) {
	if r.adapters != nil {
		a, ok := r.adapters[r.backend]
		if !ok {
			return nil, fmt.Errorf("no adapter for backend %q", r.backend)
		}
		return a, nil
	}
	return backend.For(r.backend)
}

// Cleanup releases the workspace lock. Idempotent; safe to call on any
// path out of a run.
func (r *RunLoop) Cleanup() {
	r.lock.Release()
}

// Run drives the full lifecycle and returns the process exit code.
// The loop never crashes uncleanly while holding the lock: any failure
// or panic still releases it.
func (r *RunLoop) Run(ctx context.Context) (code int) {
	defer func() {
		if p := recover(); p != nil {
			fmt.Fprintf(r.errConsole, "Error: run %s failed: %v\n", r.runName, p)
			r.Cleanup()
			code = ExitFailure
		}
	}()

	held, err := r.Setup()
	if err != nil {
		fmt.Fprintf(r.errConsole, "Error: setup failed: %v\n", err)
		r.Cleanup()
		return ExitFailure
	}
	if !held {
		fmt.Fprintf(r.errConsole, "Run %s already in progress for %s, exiting\n", r.runName, r.workspace)
		r.Cleanup()
		return ExitLocked
	}
	defer r.Cleanup()

	runID := r.recordStart()

	if !r.PreRun(ctx) {
		// Transient sync failures should not block an otherwise
		// runnable session; proceed against whatever state exists.
		fmt.Fprintln(r.errConsole, "Warning: workspace sync failed, continuing with existing state")
	}

	prompt, err := r.prompts.GeneratePrompt(ctx)
	if err != nil {
		fmt.Fprintf(r.errConsole, "Error: prompt generation failed: %v\n", err)
		r.finish(runID, backend.ExecutionResult{ExitCode: ExitFailure}, err.Error())
		return ExitFailure
	}

	if skipExecution() {
		fmt.Fprintf(r.console, "Skipping execution (%s set)\n", EnvSkipExecution)
		r.finish(runID, backend.ExecutionResult{ExitCode: ExitSuccess}, "")
		return ExitSuccess
	}

	result, err := r.Execute(ctx, prompt)
	if err != nil {
		fmt.Fprintf(r.errConsole, "Error: execution failed: %v\n", err)
		result.ExitCode = ExitFailure
		r.finish(runID, result, err.Error())
		return ExitFailure
	}

	r.finish(runID, result, "")
	return result.ExitCode
}

func skipExecution() bool {
	switch strings.ToLower(os.Getenv(EnvSkipExecution)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (r *RunLoop) recordStart() string {
	if r.recorder == nil {
		return ""
	}
	id := uuid.NewString()
	if err := r.recorder.RecordStart(id, r.runName, string(r.backend), r.workspace, time.Now()); err != nil {
		fmt.Fprintf(r.errConsole, "Warning: failed to record run start: %v\n", err)
	}
	return id
}

func (r *RunLoop) finish(runID string, result backend.ExecutionResult, errMsg string) {
	if r.recorder != nil && runID != "" {
		if err := r.recorder.RecordFinish(runID, result.ExitCode, result.TimedOut, errMsg, result.LogPath, time.Now()); err != nil {
			fmt.Fprintf(r.errConsole, "Warning: failed to record run finish: %v\n", err)
		}
	}

	if r.notifier == nil {
		return
	}
	n := notify.Notification{
		Title:   fmt.Sprintf("Run %s completed", r.runName),
		Message: fmt.Sprintf("%s run on %s exited %d", r.backend, r.workspace, result.ExitCode),
		Type:    notify.NotifySuccess,
		RunName: r.runName,
		LogPath: result.LogPath,
	}
	if result.TimedOut {
		n.Title = fmt.Sprintf("Run %s timed out", r.runName)
		n.Type = notify.NotifyError
	} else if result.ExitCode != 0 {
		n.Title = fmt.Sprintf("Run %s failed", r.runName)
		n.Type = notify.NotifyError
	}
	if err := r.notifier.Send(n); err != nil {
		fmt.Fprintf(r.errConsole, "Warning: notification failed: %v\n", err)
	}
}
