// Package config handles configuration loading for flotilla. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for flotilla.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Delegation DelegationConfig `mapstructure:"delegation"`
	Correction CorrectionConfig `mapstructure:"correction"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Session    SessionConfig    `mapstructure:"session"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	// APIKey is the API key. ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// UseAWSBedrock routes calls through AWS Bedrock.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
	// PlannerModel is the model used for plan decomposition.
	PlannerModel string `mapstructure:"planner_model"`
	// ReviewerModel is the model used for result review.
	ReviewerModel string `mapstructure:"reviewer_model"`
}

// WorkersConfig holds worker roster settings.
type WorkersConfig struct {
	// RosterPath points to a YAML roster file. Empty uses the built-in
	// roster.
	RosterPath string `mapstructure:"roster_path"`
	// DefaultTimeout bounds a single worker attempt.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// DelegationConfig holds delegation guard settings.
type DelegationConfig struct {
	// Mode is parallel, serial, or no-delegation.
	Mode string `mapstructure:"mode"`
	// MaxParallel caps concurrent subtasks.
	MaxParallel int `mapstructure:"max_parallel"`
	// MaxDepth caps delegation nesting.
	MaxDepth int `mapstructure:"max_depth"`
	// RunawayThreshold freezes delegation after this many total spawns.
	RunawayThreshold int `mapstructure:"runaway_threshold"`
}

// CorrectionConfig holds flow correction settings.
type CorrectionConfig struct {
	// MaxCycles caps accepted corrections per session.
	MaxCycles int `mapstructure:"max_cycles"`
}

// EscalationConfig holds escalation settings.
type EscalationConfig struct {
	// MaxAttempts is the default per-subtask attempt budget.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// SessionConfig holds session persistence settings.
type SessionConfig struct {
	// Dir is where session journals live. Empty uses the XDG data dir.
	Dir string `mapstructure:"dir"`
}

// Load loads configuration with the following precedence, highest first:
// environment variables, project config (.flotilla.yaml in the current
// directory or a parent), user config (~/.config/flotilla/config.yaml),
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.use_aws_bedrock", "FLOTILLA_USE_BEDROCK")
	v.BindEnv("session.dir", "FLOTILLA_SESSION_DIR")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	if cfg.Session.Dir == "" {
		cfg.Session.Dir = DefaultSessionDir()
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	if cfg.Session.Dir == "" {
		cfg.Session.Dir = DefaultSessionDir()
	}
	return cfg, nil
}

// DefaultSessionDir returns the session journal directory under the user
// data directory.
func DefaultSessionDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "flotilla", "sessions")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.planner_model", "")
	v.SetDefault("anthropic.reviewer_model", "")
	v.SetDefault("workers.default_timeout", 10*time.Minute)
	v.SetDefault("delegation.mode", "parallel")
	v.SetDefault("delegation.max_parallel", 4)
	v.SetDefault("delegation.max_depth", 2)
	v.SetDefault("delegation.runaway_threshold", 25)
	v.SetDefault("correction.max_cycles", 3)
	v.SetDefault("escalation.max_attempts", 3)
}

func userConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "flotilla")
}

// findProjectConfig walks up from the current directory looking for a
// .flotilla.yaml file.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".flotilla.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a config value.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
