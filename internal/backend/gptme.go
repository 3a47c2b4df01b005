package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// gptmeAdapter runs gptme. The prompt is delivered as a just-written
// temporary file referenced on the command line; gptme inlines the
// file's contents into the initial message.
type gptmeAdapter struct{}

func (gptmeAdapter) Execute(ctx context.Context, prompt, workspace string, opts Options) (ExecutionResult, error) {
	opts.setDefaults()

	gptmePath, err := exec.LookPath("gptme")
	if err != nil {
		return ExecutionResult{ExitCode: 1}, fmt.Errorf("gptme not found in PATH (install with: pipx install gptme)")
	}

	promptFile := filepath.Join(workspace, fmt.Sprintf(".gptme-prompt-%d.txt", os.Getpid()))
	if err := os.WriteFile(promptFile, []byte(prompt), 0644); err != nil {
		return ExecutionResult{ExitCode: 1}, fmt.Errorf("writing prompt file: %w", err)
	}
	// The prompt file is scoped to this one invocation and must not
	// survive it on any exit path.
	defer os.Remove(promptFile)

	argv := []string{gptmePath, "--non-interactive"}
	if opts.Tools != "" {
		argv = append(argv, "--tools", opts.Tools)
	}
	// The marker argument keeps the prompt file path from being
	// mistaken for a command.
	argv = append(argv, "'Here is the prompt to follow:'", promptFile)

	env := append(os.Environ(),
		fmt.Sprintf("GPTME_SHELL_TIMEOUT=%d", int(opts.ShellTimeout.Seconds())),
		"GPTME_CHAT_HISTORY=true",
	)
	env = envSlice(env, opts.Env)

	inv := invocation{
		backend:   Gptme,
		argv:      argv,
		workspace: workspace,
		env:       env,
		headerLines: []string{
			fmt.Sprintf("Timeout: %ds", int(opts.Timeout.Seconds())),
			fmt.Sprintf("Shell timeout: %ds", int(opts.ShellTimeout.Seconds())),
		},
	}
	return inv.run(ctx, opts)
}
