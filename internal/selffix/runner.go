// Package selffix runs the local quality gates (build, lint, test) against
// an implementer's branch and tracks fix attempts so a stuck issue escalates
// instead of looping forever.
package selffix

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// ShellRunner abstracts shell execution for testability.
type ShellRunner interface {
	// Run executes a shell command in dir and returns its combined output
	// and whether it exited zero.
	Run(ctx context.Context, dir, command string) (output string, ok bool, err error)
}

// ExecRunner is the production ShellRunner backed by os/exec.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner creates an exec runner with the given per-command timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ExecRunner{Timeout: timeout}
}

// Run executes command through the shell. A non-zero exit is not an error:
// the caller distinguishes a failing check from a broken runner.
func (r *ExecRunner) Run(ctx context.Context, dir, command string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	if err == nil {
		return combined.String(), true, nil
	}
	if _, isExit := err.(*exec.ExitError); isExit || ctx.Err() != nil {
		out := combined.String()
		if ctx.Err() != nil {
			out += "\n(command timed out)"
		}
		return out, false, nil
	}
	// The command never ran (missing shell, bad dir).
	return combined.String(), false, err
}
