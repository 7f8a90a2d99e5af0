// Package provider implements the completion port over an agent CLI (claude,
// codex, gemini or compatible). The CLI owns credentials and transport; this
// process only shells out with a prompt and reads back text.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/logging"
)

// CLIProvider runs completions through an external CLI binary.
type CLIProvider struct {
	name    string
	path    string
	model   string
	timeout time.Duration
	log     *logging.Logger

	// runCommand is swapped in tests.
	runCommand func(ctx context.Context, path string, args []string, stdin string) (string, error)
}

// NewCLIProvider creates a provider shelling out to the binary at path.
func NewCLIProvider(name, path, model string, timeout time.Duration, log *logging.Logger) *CLIProvider {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &CLIProvider{
		name:       name,
		path:       path,
		model:      model,
		timeout:    timeout,
		log:        log,
		runCommand: runCLI,
	}
}

// Name returns the provider name.
func (p *CLIProvider) Name() string { return p.name }

// Complete renders the conversation to a prompt, pipes it to the CLI and
// returns the text it prints. Token counts are estimated from byte length;
// agent CLIs do not report usage on the plain-text path.
func (p *CLIProvider) Complete(ctx context.Context, messages []core.ChatMessage, opts core.CompleteOptions) (*core.Completion, error) {
	if len(messages) == 0 {
		return nil, core.ErrValidation("EMPTY_PROMPT", "completion requires at least one message")
	}

	timeout := p.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}
	args := []string{"--print"}
	if model != "" {
		args = append(args, "--model", model)
	}

	prompt := renderPrompt(messages)
	start := time.Now()
	out, err := p.runCommand(ctx, p.path, args, prompt)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, core.ErrTimeout(fmt.Sprintf("%s completion timed out after %s", p.name, timeout))
		}
		return nil, core.ErrTransient(core.CodeAgentFailed,
			fmt.Sprintf("%s: %v", p.name, err))
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return nil, core.ErrTransient(core.CodeAgentFailed, p.name+" returned empty output")
	}
	p.log.Debug("completion finished",
		"provider", p.name, "model", model,
		"duration", time.Since(start).Round(time.Millisecond),
		"output_len", len(out))

	return &core.Completion{
		Content:      out,
		TokensIn:     estimateTokens(prompt),
		TokensOut:    estimateTokens(out),
		FinishReason: "stop",
	}, nil
}

// renderPrompt flattens a conversation into the single-prompt form agent
// CLIs accept. System turns lead, then the dialogue in order.
func renderPrompt(messages []core.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case "assistant":
			b.WriteString("Assistant: ")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		default:
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// estimateTokens approximates token usage at 4 bytes per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func runCLI(ctx context.Context, path string, args []string, stdin string) (string, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := lastLine(stderr.String())
		if detail != "" {
			return "", fmt.Errorf("%s: %w", detail, err)
		}
		return "", err
	}
	return stdout.String(), nil
}

func lastLine(s string) string {
	var last string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	return last
}

var _ core.CompletionProvider = (*CLIProvider)(nil)
