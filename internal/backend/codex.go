package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hochfrequenz/agent-runloop/internal/contextdoc"
)

// codexAdapter runs Codex. Codex has no system-prompt flag, so compiled
// context is prepended to the prompt and the combined text is piped on
// stdin.
type codexAdapter struct{}

// codexFallbackPaths are checked when codex is not on PATH
func codexFallbackPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".local", "bin", "codex"),
		"/usr/local/bin/codex",
	}
}

func findCodex() (string, error) {
	if path, err := exec.LookPath("codex"); err == nil {
		return path, nil
	}
	for _, candidate := range codexFallbackPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("codex not found in PATH or common install locations")
}

func (codexAdapter) Execute(ctx context.Context, prompt, workspace string, opts Options) (ExecutionResult, error) {
	opts.setDefaults()

	codexPath, err := findCodex()
	if err != nil {
		return ExecutionResult{ExitCode: 1}, err
	}

	compiled := contextdoc.Compile(ctx, workspace, "Codex", "AGENTS.md")

	combined := prompt
	if compiled != "" {
		combined = compiled + "\n---\n\n" + prompt
	}

	argv := []string{codexPath, "exec", "-C", workspace, "--json", "-"}
	if sandbox := os.Getenv(EnvCodexSandbox); sandbox != "" {
		argv = append(argv, "--sandbox", sandbox)
	} else {
		argv = append(argv, "--dangerously-bypass-approvals-and-sandbox")
	}
	if model := os.Getenv(EnvCodexModel); model != "" {
		argv = append(argv, "--model", model)
	}

	env := envSlice(os.Environ(), opts.Env)

	contextCompiled := "no"
	if compiled != "" {
		contextCompiled = "yes"
	}

	inv := invocation{
		backend:   Codex,
		argv:      argv,
		workspace: workspace,
		env:       env,
		stdin:     combined,
		pipeStdin: true,
		headerLines: []string{
			"Context compiled: " + contextCompiled,
			fmt.Sprintf("Timeout: %ds", int(opts.Timeout.Seconds())),
		},
	}
	return inv.run(ctx, opts)
}
