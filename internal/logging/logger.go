// Package logging wraps log/slog with pipeline-aware context helpers and
// output that adapts to the terminal: pretty colorized lines on a TTY, JSON
// everywhere else.
package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Logger wraps slog.Logger with sprint pipeline context helpers.
type Logger struct {
	*slog.Logger
	redactor *Redactor
}

// Config configures the logger.
type Config struct {
	Level  string
	Format string // auto, text, json
	Output io.Writer
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "auto",
		Output: os.Stderr,
	}
}

// New creates a logger. Agent output routinely echoes credentials (gh
// tokens, API keys), so every record passes through the redactor before it
// reaches a handler.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	level := parseLevel(cfg.Level)
	redactor := NewRedactor()

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, &slog.HandlerOptions{Level: level})
	case "text":
		handler = slog.NewTextHandler(cfg.Output, &slog.HandlerOptions{Level: level})
	default: // auto
		if isTerminal(cfg.Output) {
			handler = NewPrettyHandler(cfg.Output, level)
		} else {
			handler = slog.NewJSONHandler(cfg.Output, &slog.HandlerOptions{Level: level})
		}
	}
	handler = NewRedactingHandler(handler, redactor)

	return &Logger{Logger: slog.New(handler), redactor: redactor}
}

// NewNop creates a no-op logger for tests.
func NewNop() *Logger {
	return &Logger{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		redactor: NewRedactor(),
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// WithSprint returns a logger with sprint context.
func (l *Logger) WithSprint(sprintID string) *Logger {
	return &Logger{Logger: l.Logger.With("sprint_id", sprintID), redactor: l.redactor}
}

// WithEpic returns a logger with epic context.
func (l *Logger) WithEpic(epicID string) *Logger {
	return &Logger{Logger: l.Logger.With("epic_id", epicID), redactor: l.redactor}
}

// WithIssue returns a logger with issue context.
func (l *Logger) WithIssue(issueNumber int) *Logger {
	return &Logger{Logger: l.Logger.With("issue", issueNumber), redactor: l.redactor}
}

// WithAgent returns a logger with agent context.
func (l *Logger) WithAgent(agent string) *Logger {
	return &Logger{Logger: l.Logger.With("agent", agent), redactor: l.redactor}
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), redactor: l.redactor}
}

// Redact redacts credentials from input using the logger's redactor.
func (l *Logger) Redact(input string) string {
	return l.redactor.Redact(input)
}
