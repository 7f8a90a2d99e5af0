package selffix

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crewflow/crewflow/internal/logging"
)

// tailLimit bounds how much check output is carried into fix prompts and
// escalation reports. The interesting part of a failing build is the end.
const tailLimit = 2000

// Check is one named quality gate.
type Check struct {
	Name    string
	Command string
}

// DefaultChecks is the standard gate sequence for a Go working tree.
func DefaultChecks() []Check {
	return []Check{
		{Name: "build", Command: "go build ./..."},
		{Name: "lint", Command: "golangci-lint run ./..."},
		{Name: "test", Command: "go test ./..."},
	}
}

// CheckResult is the outcome of one gate sequence run.
type CheckResult struct {
	Passed      bool
	FailedCheck string // empty when Passed
	OutputTail  string // last tailLimit chars of the failing check's output
}

// Attempt records one fix iteration for the escalation report.
type Attempt struct {
	Number       int
	FailedCheck  string
	OutputTail   string
	FixApplied   string   // what the fix changed, as reported by the agent
	FilesTouched []string // files the fix modified
	Passed       bool     // whether checks passed after this fix
	At           time.Time
}

// Loop runs the gates for one issue and tracks how many fixes were burned.
// Checks run in order and stop at the first failure: a broken build makes
// lint and test output noise, not signal.
type Loop struct {
	runner      ShellRunner
	log         *logging.Logger
	dir         string
	checks      []Check
	maxAttempts int
	attempts    []Attempt
}

// NewLoop creates a fix loop for the working tree at dir.
func NewLoop(runner ShellRunner, log *logging.Logger, dir string, maxAttempts int) *Loop {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Loop{
		runner:      runner,
		log:         log,
		dir:         dir,
		checks:      DefaultChecks(),
		maxAttempts: maxAttempts,
	}
}

// SetChecks replaces the gate sequence, for repos with project-specific
// commands.
func (l *Loop) SetChecks(checks []Check) {
	if len(checks) > 0 {
		l.checks = checks
	}
}

// RunChecks executes the gate sequence. The first failing check short
// circuits the rest; its output tail is what the implementer gets to fix.
// A check that could not start at all (missing shell, bad worktree dir)
// counts as a failure of that check, so callers see one uniform outcome.
func (l *Loop) RunChecks(ctx context.Context) *CheckResult {
	for _, check := range l.checks {
		if check.Command == "" {
			continue
		}
		output, ok, err := l.runner.Run(ctx, l.dir, check.Command)
		if err != nil {
			l.log.Warn("check could not run", "check", check.Name, "error", err)
			return &CheckResult{
				Passed:      false,
				FailedCheck: check.Name,
				OutputTail:  tail(fmt.Sprintf("check %s could not run: %v", check.Name, err)),
			}
		}
		if !ok {
			l.log.Debug("check failed", "check", check.Name, "output_len", len(output))
			return &CheckResult{
				Passed:      false,
				FailedCheck: check.Name,
				OutputTail:  tail(output),
			}
		}
	}
	return &CheckResult{Passed: true}
}

// RecordAttempt appends one fix iteration to the history. result is the
// check run that prompted the fix; fixApplied and filesTouched come from
// the agent's reply; passed reports whether the follow-up check run went
// green.
func (l *Loop) RecordAttempt(result *CheckResult, fixApplied string, filesTouched []string, passed bool) {
	l.attempts = append(l.attempts, Attempt{
		Number:       len(l.attempts) + 1,
		FailedCheck:  result.FailedCheck,
		OutputTail:   result.OutputTail,
		FixApplied:   fixApplied,
		FilesTouched: filesTouched,
		Passed:       passed,
		At:           time.Now().UTC(),
	})
}

// CanRetry reports whether the attempt budget allows another fix.
func (l *Loop) CanRetry() bool {
	return len(l.attempts) < l.maxAttempts
}

// AttemptCount returns how many fix attempts have been recorded.
func (l *Loop) AttemptCount() int {
	return len(l.attempts)
}

// History returns the recorded attempts in order.
func (l *Loop) History() []Attempt {
	out := make([]Attempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}

// Reset clears the history for a fresh issue.
func (l *Loop) Reset() {
	l.attempts = nil
}

// EscalationReport renders the attempt history for a human. Each attempt
// shows which gate failed and the end of its output.
func (l *Loop) EscalationReport() string {
	if len(l.attempts) == 0 {
		return "no fix attempts recorded"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "self-fix exhausted after %d attempt(s)\n", len(l.attempts))
	for _, a := range l.attempts {
		verdict := "still failing"
		if a.Passed {
			verdict = "passed"
		}
		fmt.Fprintf(&b, "\n--- attempt %d: %s failed at %s (%s after fix) ---\n",
			a.Number, a.FailedCheck, a.At.Format(time.RFC3339), verdict)
		if a.FixApplied != "" {
			fmt.Fprintf(&b, "fix: %s\n", a.FixApplied)
		}
		if len(a.FilesTouched) > 0 {
			fmt.Fprintf(&b, "files: %s\n", strings.Join(a.FilesTouched, ", "))
		}
		b.WriteString(a.OutputTail)
		b.WriteString("\n")
	}
	return b.String()
}

func tail(s string) string {
	if len(s) <= tailLimit {
		return s
	}
	return s[len(s)-tailLimit:]
}
