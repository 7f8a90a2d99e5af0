package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration from files, environment and flags.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a loader with a fresh viper instance.
func NewLoader() *Loader {
	return &Loader{v: viper.New(), envPrefix: "CREWFLOW"}
}

// NewLoaderWithViper creates a loader around an existing viper instance so
// cobra flag bindings participate in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: "CREWFLOW"}
}

// WithConfigFile pins an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper exposes the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load resolves configuration with the usual precedence: flags over
// CREWFLOW_* environment variables over .crewflow.yaml in the working
// directory over ~/.config/crewflow/config.yaml over defaults.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".crewflow")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "crewflow"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the file viper actually read, empty if
// only defaults and environment applied.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("database.path", ".crewflow/crewflow.db")

	l.v.SetDefault("pipeline.max_review_cycles", 3)
	l.v.SetDefault("pipeline.max_qa_cycles", 3)
	l.v.SetDefault("pipeline.max_self_fix_attempts", 5)
	l.v.SetDefault("pipeline.check_timeout", "10m")
	l.v.SetDefault("pipeline.work_dir", ".")
	l.v.SetDefault("pipeline.artifacts_dir", ".crewflow/artifacts")

	for _, role := range []string{"planner", "architect", "implementer", "reviewer", "qa"} {
		l.v.SetDefault("agents."+role+".path", "claude")
		l.v.SetDefault("agents."+role+".max_tokens", 8192)
		l.v.SetDefault("agents."+role+".temperature", 0.2)
		l.v.SetDefault("agents."+role+".timeout", "15m")
	}

	l.v.SetDefault("github.timeout", "60s")
	l.v.SetDefault("github.dry_run", false)

	l.v.SetDefault("console.batch_size", 50)
	l.v.SetDefault("console.flush_interval", "500ms")
	l.v.SetDefault("console.history_limit", 100)

	l.v.SetDefault("api.addr", "127.0.0.1:8490")
	l.v.SetDefault("api.allowed_origins", []string{"http://localhost:5173"})
}
