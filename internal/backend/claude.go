package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hochfrequenz/agent-runloop/internal/contextdoc"
)

// claudeAdapter runs Claude Code. Compiled workspace context goes in
// via --append-system-prompt; the prompt itself is piped on stdin.
type claudeAdapter struct{}

func (claudeAdapter) Execute(ctx context.Context, prompt, workspace string, opts Options) (ExecutionResult, error) {
	opts.setDefaults()

	claudePath, err := exec.LookPath("claude")
	if err != nil {
		return ExecutionResult{ExitCode: 1}, fmt.Errorf("claude not found in PATH (install the Claude Code CLI first)")
	}

	compiled := contextdoc.Compile(ctx, workspace, "Claude Code", "CLAUDE.md")

	argv := []string{
		claudePath,
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if compiled != "" {
		argv = append(argv, "--append-system-prompt", compiled)
	}
	if budget := os.Getenv(EnvClaudeMaxBudget); budget != "" {
		argv = append(argv, "--max-budget-usd", budget)
	}
	if turns := os.Getenv(EnvClaudeMaxTurns); turns != "" {
		argv = append(argv, "--max-turns", turns)
	}
	if model := os.Getenv(EnvClaudeModel); model != "" {
		argv = append(argv, "--model", model)
	}

	home, _ := os.UserHomeDir()
	// Claude's Bash tool should pick up PATH entries from bashrc.
	env := append(os.Environ(), "BASH_ENV="+filepath.Join(home, ".bashrc"))
	env = envSlice(env, opts.Env)

	contextCompiled := "no"
	if compiled != "" {
		contextCompiled = "yes"
	}

	inv := invocation{
		backend:   ClaudeCode,
		argv:      argv,
		workspace: workspace,
		env:       env,
		stdin:     prompt,
		pipeStdin: true,
		headerLines: []string{
			"Context compiled: " + contextCompiled,
			fmt.Sprintf("Timeout: %ds", int(opts.Timeout.Seconds())),
		},
	}
	return inv.run(ctx, opts)
}
