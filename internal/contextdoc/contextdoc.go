// Package contextdoc invokes the workspace's context compiler script to
// produce a combined static+dynamic context document for agent prompts.
package contextdoc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// CompileTimeout bounds how long the compiler script may run
const CompileTimeout = 30 * time.Second

// scriptRelPath and outputRelPath are the script's fixed contract
const (
	scriptRelPath = "scripts/shared/compile-context.sh"
	outputRelPath = "tmp/full-context.md"
)

// Compile runs the workspace's compile-context.sh and returns the
// compiled context document. Context enrichment is an optimization, not
// a correctness requirement: a missing script, non-zero exit, timeout,
// or missing output artifact all degrade to the empty string with a
// warning, never an error.
func Compile(ctx context.Context, workspace, runtime, instructionDoc string) string {
	script := filepath.Join(workspace, scriptRelPath)
	if _, err := os.Stat(script); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: context compilation script not found: %s\n", script)
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, CompileTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, script,
		"--runtime", runtime,
		"--instruction-doc", instructionDoc,
	)
	cmd.Dir = workspace
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		fmt.Fprintln(os.Stderr, "Warning: context compilation timed out")
		return ""
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: context compilation failed: %v\n%s", err, output)
		return ""
	}

	compiled, err := os.ReadFile(filepath.Join(workspace, outputRelPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: context compiled but %s not found\n", outputRelPath)
		return ""
	}

	return string(compiled)
}
