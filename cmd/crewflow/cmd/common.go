package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/crewflow/crewflow/internal/agents"
	"github.com/crewflow/crewflow/internal/config"
	"github.com/crewflow/crewflow/internal/console"
	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/engine"
	"github.com/crewflow/crewflow/internal/githubx"
	"github.com/crewflow/crewflow/internal/provider"
	"github.com/crewflow/crewflow/internal/store"
)

// Styles for human-facing output.
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#06B6D4"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	agentStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
)

// openDB opens the configured database, creating its directory and applying
// pending migrations.
func openDB() (*store.DB, error) {
	path := cfg.Database.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// buildEngine assembles the pipeline engine over an open database and a
// running console writer. With a real host configured it verifies gh
// authentication up front; failing at startup beats failing mid-sprint.
func buildEngine(ctx context.Context, db *store.DB, writer *console.Writer) (*engine.Engine, error) {
	var host core.CodeHost
	if cfg.GitHub.DryRun || cfg.GitHub.Owner == "" {
		host = githubx.NewDryRunHost(log)
	} else {
		client := githubx.NewClient(cfg.GitHub.Owner, cfg.GitHub.Repo, log,
			githubx.WithTimeout(cfg.GitHub.Timeout))
		if err := client.VerifyAuth(ctx); err != nil {
			return nil, err
		}
		host = client
	}

	return engine.New(engine.Deps{
		Config:  cfg.Pipeline,
		Log:     log,
		Sprints: store.NewSprintStore(db),
		State:   store.NewStateManager(db),
		Cards:   store.NewScorecardStore(db),
		Console: writer,
		Host:    host,
		Logs:    store.NewLogStore(db),
		Agents: []core.Agent{
			agents.NewPlanner(roleProvider("planner"), log, roleOptions("planner")),
			agents.NewImplementer(roleProvider("implementer"), log, roleOptions("implementer")),
			agents.NewReviewer(roleProvider("reviewer"), log, roleOptions("reviewer")),
			agents.NewQA(roleProvider("qa"), log, roleOptions("qa")),
		},
	}), nil
}

func roleProvider(role string) core.CompletionProvider {
	ac := agentConfig(role)
	return provider.NewCLIProvider(role, ac.Path, ac.Model, ac.Timeout, log)
}

func roleOptions(role string) agents.Options {
	ac := agentConfig(role)
	return agents.Options{Model: ac.Model, MaxTokens: ac.MaxTokens, Temperature: ac.Temperature}
}

func agentConfig(role string) config.AgentConfig {
	switch role {
	case "planner":
		return cfg.Agents.Planner
	case "architect":
		return cfg.Agents.Architect
	case "reviewer":
		return cfg.Agents.Reviewer
	case "qa":
		return cfg.Agents.QA
	default:
		return cfg.Agents.Implementer
	}
}

// sprintFromArgs resolves the sprint named on the command line, falling
// back to the active sprint when no argument was given.
func sprintFromArgs(ctx context.Context, sprints *store.SprintStore, args []string) (*core.Sprint, error) {
	if len(args) == 1 {
		return sprints.Get(ctx, args[0])
	}
	sprint, err := sprints.Active(ctx)
	if err != nil {
		return nil, err
	}
	if sprint == nil {
		return nil, core.ErrNotFound("active sprint", "none running")
	}
	return sprint, nil
}

// newConsoleWriter creates a console writer with the configured batching.
func newConsoleWriter(db *store.DB) *console.Writer {
	return console.NewWriter(db, log,
		console.WithBatchSize(cfg.Console.BatchSize),
		console.WithFlushInterval(cfg.Console.FlushInterval))
}

// humanDuration renders "3m12s ago" style suffixes for listings.
func humanDuration(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}

// statusStyle picks a render style per sprint/issue status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "done", "complete":
		return successStyle
	case "failed", "escalated", "error":
		return errorStyle
	case "running", "in_progress", "review", "qa":
		return warnStyle
	default:
		return mutedStyle
	}
}
