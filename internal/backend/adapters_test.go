package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// installStub places an executable stub script on a fresh PATH and
// returns the workspace and log dir for the invocation.
func installStub(t *testing.T, name, body string) (workspace, logDir string) {
	t.Helper()
	binDir := t.TempDir()
	script := filepath.Join(binDir, name)
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir+":/usr/bin:/bin")
	return t.TempDir(), t.TempDir()
}

func testOptions(logDir string) Options {
	return Options{
		Timeout:    30 * time.Second,
		RunType:    "test",
		LogDir:     logDir,
		Console:    io.Discard,
		ErrConsole: io.Discard,
	}
}

// readSingleLog returns the contents of the one log file in dir
func readSingleLog(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d log files, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// promptFilesIn lists leftover gptme prompt temp files in workspace
func promptFilesIn(t *testing.T, workspace string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(workspace, ".gptme-prompt-*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestGptme_Success(t *testing.T) {
	// $3 is the prompt file; $1/$2 are --non-interactive and the marker.
	workspace, logDir := installStub(t, "gptme", `cat "$3" > prompt-seen.txt
echo agent output
exit 0`)

	var console bytes.Buffer
	opts := testOptions(logDir)
	opts.Console = &console

	res, err := For(Gptme)
	if err != nil {
		t.Fatal(err)
	}
	result, err := res.Execute(context.Background(), "do the thing", workspace, opts)
	if err != nil {
		t.Fatal(err)
	}

	if !result.Success() || result.TimedOut {
		t.Errorf("result = %+v, want success", result)
	}
	if filepath.Dir(result.LogPath) != logDir {
		t.Errorf("LogPath = %q, want a file in %q", result.LogPath, logDir)
	}

	// The prompt reached the backend via the temp file...
	seen, err := os.ReadFile(filepath.Join(workspace, "prompt-seen.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(seen) != "do the thing" {
		t.Errorf("backend saw prompt %q, want %q", seen, "do the thing")
	}
	// ...and the temp file is gone afterward.
	if left := promptFilesIn(t, workspace); len(left) != 0 {
		t.Errorf("prompt temp files left behind: %v", left)
	}

	if !strings.Contains(console.String(), "agent output") {
		t.Error("live console did not receive child output")
	}

	log := readSingleLog(t, logDir)
	for _, want := range []string{
		"=== test gptme run at",
		"Working directory: " + workspace,
		"Shell timeout: 120s",
		"=== Output ===",
		"agent output",
		"=== Execution completed ===",
		"Exit code: 0",
	} {
		if !strings.Contains(log, want) {
			t.Errorf("log missing %q", want)
		}
	}
}

func TestGptme_NonZeroExitPassedThrough(t *testing.T) {
	workspace, logDir := installStub(t, "gptme", "exit 3")

	a, _ := For(Gptme)
	result, err := a.Execute(context.Background(), "p", workspace, testOptions(logDir))
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != 3 || result.TimedOut {
		t.Errorf("result = %+v, want exit 3", result)
	}
	if left := promptFilesIn(t, workspace); len(left) != 0 {
		t.Errorf("prompt temp files left behind after failure: %v", left)
	}
	if !strings.Contains(readSingleLog(t, logDir), "Exit code: 3") {
		t.Error("log missing exit code trailer")
	}
}

func TestGptme_Timeout(t *testing.T) {
	workspace, logDir := installStub(t, "gptme", "sleep 10")

	var errConsole bytes.Buffer
	opts := testOptions(logDir)
	opts.Timeout = 100 * time.Millisecond
	opts.ErrConsole = &errConsole

	a, _ := For(Gptme)
	result, err := a.Execute(context.Background(), "p", workspace, opts)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != TimeoutExitCode || !result.TimedOut {
		t.Errorf("result = %+v, want {124 true}", result)
	}
	if left := promptFilesIn(t, workspace); len(left) != 0 {
		t.Errorf("prompt temp files left behind after timeout: %v", left)
	}
	if !strings.Contains(readSingleLog(t, logDir), "TIMED OUT") {
		t.Error("log missing timeout trailer")
	}
	if !strings.Contains(errConsole.String(), "timed out") {
		t.Error("no timeout diagnostic on error console")
	}
}

func TestGptme_NotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	a, _ := For(Gptme)
	_, err := a.Execute(context.Background(), "p", t.TempDir(), testOptions(t.TempDir()))
	if err == nil {
		t.Error("Execute should error when gptme is not installed")
	}
}

func TestGptme_Environment(t *testing.T) {
	workspace, logDir := installStub(t, "gptme",
		`printf '%s %s %s' "$GPTME_SHELL_TIMEOUT" "$GPTME_CHAT_HISTORY" "$EXTRA_VAR" > env-seen.txt`)

	opts := testOptions(logDir)
	opts.ShellTimeout = 42 * time.Second
	opts.Env = map[string]string{"EXTRA_VAR": "hello"}

	a, _ := For(Gptme)
	if _, err := a.Execute(context.Background(), "p", workspace, opts); err != nil {
		t.Fatal(err)
	}

	seen, err := os.ReadFile(filepath.Join(workspace, "env-seen.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(seen) != "42 true hello" {
		t.Errorf("child env = %q, want %q", seen, "42 true hello")
	}
}

func TestGptme_ToolsFlag(t *testing.T) {
	workspace, logDir := installStub(t, "gptme", `printf '%s\n' "$@" > args-seen.txt`)

	opts := testOptions(logDir)
	opts.Tools = "gptodo,save,append"

	a, _ := For(Gptme)
	if _, err := a.Execute(context.Background(), "p", workspace, opts); err != nil {
		t.Fatal(err)
	}

	args, _ := os.ReadFile(filepath.Join(workspace, "args-seen.txt"))
	if !strings.Contains(string(args), "--tools\ngptodo,save,append") {
		t.Errorf("args = %q, want --tools flag", args)
	}
	// The marker argument keeps its quote characters; they are part of
	// the marker text, not shell syntax.
	if !strings.Contains(string(args), "'Here is the prompt to follow:'") {
		t.Errorf("args = %q, want quoted marker argument", args)
	}
}

// withContextScript installs a compile-context.sh producing the given
// context document in the workspace.
func withContextScript(t *testing.T, workspace, contextText string) {
	t.Helper()
	scriptDir := filepath.Join(workspace, "scripts", "shared")
	if err := os.MkdirAll(scriptDir, 0755); err != nil {
		t.Fatal(err)
	}
	body := "#!/bin/sh\nmkdir -p tmp && printf '" + contextText + "' > tmp/full-context.md\n"
	if err := os.WriteFile(filepath.Join(scriptDir, "compile-context.sh"), []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestClaude_PipesPromptAndInjectsContext(t *testing.T) {
	workspace, logDir := installStub(t, "claude",
		`printf '%s\n' "$@" > args-seen.txt
cat > stdin-seen.txt`)
	withContextScript(t, workspace, "CTX DOC")

	a, _ := For(ClaudeCode)
	result, err := a.Execute(context.Background(), "the prompt", workspace, testOptions(logDir))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success() {
		t.Errorf("result = %+v, want success", result)
	}

	stdin, _ := os.ReadFile(filepath.Join(workspace, "stdin-seen.txt"))
	if string(stdin) != "the prompt" {
		t.Errorf("stdin = %q, want the raw prompt", stdin)
	}

	args, _ := os.ReadFile(filepath.Join(workspace, "args-seen.txt"))
	for _, want := range []string{
		"--print", "--output-format\nstream-json", "--verbose",
		"--dangerously-skip-permissions", "--append-system-prompt\nCTX DOC",
	} {
		if !strings.Contains(string(args), want) {
			t.Errorf("args missing %q:\n%s", want, args)
		}
	}

	if !strings.Contains(readSingleLog(t, logDir), "Context compiled: yes") {
		t.Error("log missing context-compiled flag")
	}
}

func TestClaude_NoContextDegradesToEmpty(t *testing.T) {
	workspace, logDir := installStub(t, "claude",
		`printf '%s\n' "$@" > args-seen.txt
cat > /dev/null`)

	a, _ := For(ClaudeCode)
	result, err := a.Execute(context.Background(), "p", workspace, testOptions(logDir))
	if err != nil {
		t.Fatalf("compiler absence must not raise: %v", err)
	}
	if !result.Success() {
		t.Errorf("result = %+v, want success", result)
	}

	args, _ := os.ReadFile(filepath.Join(workspace, "args-seen.txt"))
	if strings.Contains(string(args), "--append-system-prompt") {
		t.Error("should not pass --append-system-prompt without context")
	}
	if !strings.Contains(readSingleLog(t, logDir), "Context compiled: no") {
		t.Error("log should record that no context was compiled")
	}
}

func TestClaude_EnvOverrideFlags(t *testing.T) {
	workspace, logDir := installStub(t, "claude",
		`printf '%s\n' "$@" > args-seen.txt
cat > /dev/null`)
	t.Setenv(EnvClaudeModel, "claude-opus-4")
	t.Setenv(EnvClaudeMaxTurns, "25")
	t.Setenv(EnvClaudeMaxBudget, "10")

	a, _ := For(ClaudeCode)
	if _, err := a.Execute(context.Background(), "p", workspace, testOptions(logDir)); err != nil {
		t.Fatal(err)
	}

	args, _ := os.ReadFile(filepath.Join(workspace, "args-seen.txt"))
	for _, want := range []string{
		"--model\nclaude-opus-4", "--max-turns\n25", "--max-budget-usd\n10",
	} {
		if !strings.Contains(string(args), want) {
			t.Errorf("args missing %q:\n%s", want, args)
		}
	}
}

func TestCodex_PrependsContextToStdin(t *testing.T) {
	workspace, logDir := installStub(t, "codex",
		`printf '%s\n' "$@" > args-seen.txt
cat > stdin-seen.txt`)
	withContextScript(t, workspace, "CTX DOC")

	a, _ := For(Codex)
	result, err := a.Execute(context.Background(), "the prompt", workspace, testOptions(logDir))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success() {
		t.Errorf("result = %+v, want success", result)
	}

	stdin, _ := os.ReadFile(filepath.Join(workspace, "stdin-seen.txt"))
	if string(stdin) != "CTX DOC\n---\n\nthe prompt" {
		t.Errorf("stdin = %q, want context-prefixed prompt", stdin)
	}

	args, _ := os.ReadFile(filepath.Join(workspace, "args-seen.txt"))
	for _, want := range []string{
		"exec", "-C\n" + workspace, "--json", "-\n",
		"--dangerously-bypass-approvals-and-sandbox",
	} {
		if !strings.Contains(string(args), want) {
			t.Errorf("args missing %q:\n%s", want, args)
		}
	}
}

func TestCodex_SandboxOverride(t *testing.T) {
	workspace, logDir := installStub(t, "codex",
		`printf '%s\n' "$@" > args-seen.txt
cat > /dev/null`)
	t.Setenv(EnvCodexSandbox, "workspace-write")

	a, _ := For(Codex)
	if _, err := a.Execute(context.Background(), "p", workspace, testOptions(logDir)); err != nil {
		t.Fatal(err)
	}

	args, _ := os.ReadFile(filepath.Join(workspace, "args-seen.txt"))
	if !strings.Contains(string(args), "--sandbox\nworkspace-write") {
		t.Errorf("args missing sandbox flag:\n%s", args)
	}
	if strings.Contains(string(args), "--dangerously-bypass-approvals-and-sandbox") {
		t.Error("sandbox override should suppress the bypass flag")
	}
}

func TestCodex_FallbackInstallLocation(t *testing.T) {
	// Not on PATH, but present in ~/.local/bin.
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PATH", "/usr/bin:/bin")

	binDir := filepath.Join(home, ".local", "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatal(err)
	}
	stub := "#!/bin/sh\ncat > /dev/null\nexit 0\n"
	if err := os.WriteFile(filepath.Join(binDir, "codex"), []byte(stub), 0755); err != nil {
		t.Fatal(err)
	}

	a, _ := For(Codex)
	result, err := a.Execute(context.Background(), "p", t.TempDir(), testOptions(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success() {
		t.Errorf("result = %+v, want success via fallback path", result)
	}
}

func TestCodex_NotFound(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PATH", t.TempDir())

	a, _ := For(Codex)
	if _, err := a.Execute(context.Background(), "p", t.TempDir(), testOptions(t.TempDir())); err == nil {
		t.Error("Execute should error when codex is nowhere to be found")
	}
}
