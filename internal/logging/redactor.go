package logging

import "regexp"

// Redactor scrubs credentials from log output. The pattern set covers the
// token formats agents are most likely to echo: GitHub tokens from gh
// invocations, provider API keys from CLI errors, and generic bearer/key
// assignments.
type Redactor struct {
	patterns []*regexp.Regexp
	replace  string
}

// NewRedactor creates a redactor with the default pattern set.
func NewRedactor() *Redactor {
	raw := []string{
		// GitHub token families (PAT, OAuth, app, server-to-server, fine-grained)
		`gh[pousr]_[A-Za-z0-9]{36,}`,
		`github_pat_[A-Za-z0-9_]{22,}`,
		// Anthropic and OpenAI keys
		`sk-ant-[A-Za-z0-9-]{40,}`,
		`sk-[A-Za-z0-9]{20,}`,
		// AWS access keys
		`AKIA[0-9A-Z]{16}`,
		// Generic credential assignments
		`(?i)bearer\s+[A-Za-z0-9._-]{20,}`,
		`(?i)(?:api[_-]?key|token|secret)["'\s:=]+[A-Za-z0-9._-]{20,}`,
		`(?i)password["'\s:=]+[^\s"']{8,}`,
	}
	compiled := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return &Redactor{patterns: compiled, replace: "[REDACTED]"}
}

// Redact replaces every credential match in input with a placeholder.
func (r *Redactor) Redact(input string) string {
	out := input
	for _, p := range r.patterns {
		out = p.ReplaceAllString(out, r.replace)
	}
	return out
}

// AddPattern registers an extra pattern, for deployment-specific secrets.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}
