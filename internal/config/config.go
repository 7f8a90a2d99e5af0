// Package config loads and validates crewflow configuration from YAML
// files, environment variables and CLI flags.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Agents   AgentsConfig   `mapstructure:"agents" yaml:"agents"`
	GitHub   GitHubConfig   `mapstructure:"github" yaml:"github"`
	Console  ConsoleConfig  `mapstructure:"console" yaml:"console"`
	API      APIConfig      `mapstructure:"api" yaml:"api"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // auto, text, json
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PipelineConfig bounds the review loops and the check gates.
type PipelineConfig struct {
	MaxReviewCycles    int           `mapstructure:"max_review_cycles" yaml:"max_review_cycles"`
	MaxQACycles        int           `mapstructure:"max_qa_cycles" yaml:"max_qa_cycles"`
	MaxSelfFixAttempts int           `mapstructure:"max_self_fix_attempts" yaml:"max_self_fix_attempts"`
	CheckTimeout       time.Duration `mapstructure:"check_timeout" yaml:"check_timeout"`
	WorkDir            string        `mapstructure:"work_dir" yaml:"work_dir"`
	ArtifactsDir       string        `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`
}

// AgentsConfig configures the agent CLI adapters keyed by role.
type AgentsConfig struct {
	Planner     AgentConfig `mapstructure:"planner" yaml:"planner"`
	Architect   AgentConfig `mapstructure:"architect" yaml:"architect"`
	Implementer AgentConfig `mapstructure:"implementer" yaml:"implementer"`
	Reviewer    AgentConfig `mapstructure:"reviewer" yaml:"reviewer"`
	QA          AgentConfig `mapstructure:"qa" yaml:"qa"`
}

// AgentConfig configures one agent adapter.
type AgentConfig struct {
	Path        string        `mapstructure:"path" yaml:"path"`
	Model       string        `mapstructure:"model" yaml:"model"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// GitHubConfig configures the gh CLI adapter.
type GitHubConfig struct {
	Owner   string        `mapstructure:"owner" yaml:"owner"`
	Repo    string        `mapstructure:"repo" yaml:"repo"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	DryRun  bool          `mapstructure:"dry_run" yaml:"dry_run"`
}

// ConsoleConfig configures the event bus writer and reader.
type ConsoleConfig struct {
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	HistoryLimit  int           `mapstructure:"history_limit" yaml:"history_limit"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Validate checks the configuration for contradictions. It returns the
// first problem found.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path: must not be empty")
	}
	if c.Pipeline.MaxReviewCycles < 1 {
		return fmt.Errorf("pipeline.max_review_cycles: must be at least 1, got %d", c.Pipeline.MaxReviewCycles)
	}
	if c.Pipeline.MaxQACycles < 1 {
		return fmt.Errorf("pipeline.max_qa_cycles: must be at least 1, got %d", c.Pipeline.MaxQACycles)
	}
	if c.Pipeline.MaxSelfFixAttempts < 1 {
		return fmt.Errorf("pipeline.max_self_fix_attempts: must be at least 1, got %d", c.Pipeline.MaxSelfFixAttempts)
	}
	if c.Console.BatchSize < 1 {
		return fmt.Errorf("console.batch_size: must be at least 1, got %d", c.Console.BatchSize)
	}
	if c.Console.FlushInterval <= 0 {
		return fmt.Errorf("console.flush_interval: must be positive, got %s", c.Console.FlushInterval)
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr: must not be empty")
	}
	return nil
}
