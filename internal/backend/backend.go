// Package backend runs AI coding agent CLIs as child processes under a
// wall-clock timeout, streaming their output to per-run log files.
package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// Backend identifies one of the interchangeable agent executables
type Backend string

const (
	Gptme      Backend = "gptme"
	ClaudeCode Backend = "claude-code"
	Codex      Backend = "codex"
)

// EnvBackend selects the backend when no explicit argument is given
const EnvBackend = "EXECUTION_BACKEND"

// Per-backend environment overrides. Each flag is appended to the
// backend command line only when its variable is set; absence means the
// backend's own default applies.
const (
	EnvClaudeModel     = "CLAUDE_MODEL"
	EnvClaudeMaxBudget = "CLAUDE_MAX_BUDGET_USD"
	EnvClaudeMaxTurns  = "CLAUDE_MAX_TURNS"
	EnvCodexModel      = "CODEX_MODEL"
	EnvCodexSandbox    = "CODEX_SANDBOX"
)

// TimeoutExitCode is the reserved exit code reported when an execution
// exceeds its deadline. It is outside the exit code space the backends
// use themselves, so a timeout is always distinguishable from an agent
// failure.
const TimeoutExitCode = 124

const (
	DefaultTimeout      = 3000 * time.Second
	DefaultShellTimeout = 120 * time.Second
)

// Resolve maps an optional explicit backend name to a Backend, with
// precedence: explicit argument > EXECUTION_BACKEND > gptme. An unknown
// name is a configuration error.
func Resolve(explicit string) (Backend, error) {
	name := explicit
	if name == "" {
		name = os.Getenv(EnvBackend)
	}
	if name == "" {
		name = string(Gptme)
	}

	switch b := Backend(name); b {
	case Gptme, ClaudeCode, Codex:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backend %q (valid: %s, %s, %s)", name, Gptme, ClaudeCode, Codex)
	}
}

// ExecutionResult is the normalized outcome of one backend invocation
type ExecutionResult struct {
	ExitCode int
	TimedOut bool
	// LogPath is the per-run log file the invocation wrote, when it
	// got far enough to create one
	LogPath string
}

// Success reports whether the invocation exited cleanly
func (r ExecutionResult) Success() bool {
	return r.ExitCode == 0
}

// Options configures one backend invocation
type Options struct {
	// Timeout is the hard wall-clock limit on the whole invocation
	Timeout time.Duration
	// ShellTimeout is passed through to backends with their own shell
	// tool (gptme only)
	ShellTimeout time.Duration
	// RunType labels the run for log file naming
	RunType string
	// LogDir is the process-wide log root. Never inside the workspace:
	// agents recursively scan their workspace and must not recurse into
	// their own transcript.
	LogDir string
	// Tools is an optional tool allowlist (gptme only)
	Tools string
	// Env holds additional environment overrides merged over the
	// process environment
	Env map[string]string
	// Console receives the live combined output stream; defaults to
	// os.Stdout so a human watching the process sees the session
	Console io.Writer
	// ErrConsole receives diagnostics; defaults to os.Stderr
	ErrConsole io.Writer
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ShellTimeout <= 0 {
		o.ShellTimeout = DefaultShellTimeout
	}
	if o.RunType == "" {
		o.RunType = "run"
	}
	if o.Console == nil {
		o.Console = os.Stdout
	}
	if o.ErrConsole == nil {
		o.ErrConsole = os.Stderr
	}
}

// Adapter executes a prompt against one concrete backend.
// Setup problems (missing executable, unwritable log dir) are errors;
// the agent failing or timing out is a normal ExecutionResult.
type Adapter interface {
	Execute(ctx context.Context, prompt, workspace string, opts Options) (ExecutionResult, error)
}

// adapters is the closed dispatch table; the backend set is fixed at
// compile time.
var adapters = map[Backend]Adapter{
	Gptme:      gptmeAdapter{},
	ClaudeCode: claudeAdapter{},
	Codex:      codexAdapter{},
}

// For returns the Adapter for a backend
func For(b Backend) (Adapter, error) {
	a, ok := adapters[b]
	if !ok {
		return nil, fmt.Errorf("no adapter for backend %q", b)
	}
	return a, nil
}

// envSlice flattens override vars onto a base environment. Later
// entries win, so overrides take precedence.
func envSlice(base []string, overrides map[string]string) []string {
	env := base
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}
