// Package config handles configuration loading and management for hive.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/hive/internal/orchestrator/policy"
	"github.com/ShayCichocki/hive/pkg/models"
)

// ProjectConfigName is the per-project override file, searched upward from
// the working directory.
const ProjectConfigName = ".hive.yaml"

// Config holds all configuration for hive.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Context   ContextConfig   `mapstructure:"context"`
	State     StateConfig     `mapstructure:"state"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Bedrock    bool   `mapstructure:"bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// ExecutorConfig selects how prompts are executed.
type ExecutorConfig struct {
	// Backend is "api" or "cli".
	Backend   string `mapstructure:"backend"`
	CLIPath   string `mapstructure:"cli_path"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

// SchedulerConfig holds run loop settings.
type SchedulerConfig struct {
	MaxConcurrency       int               `mapstructure:"max_concurrency"`
	SequentialCategories []string          `mapstructure:"sequential_categories"`
	ConflictGroups       [][]string        `mapstructure:"conflict_groups"`
	MaxUnmetRetries      int               `mapstructure:"max_unmet_retries"`
	MaxDelegationDepth   int               `mapstructure:"max_delegation_depth"`
	RequeueBackoff       time.Duration     `mapstructure:"requeue_backoff"`
	ErrorBackoff         time.Duration     `mapstructure:"error_backoff"`
	CompletedRetention   time.Duration     `mapstructure:"completed_retention"`
	Timeouts             SchedulerTimeouts `mapstructure:"timeouts"`
}

// SchedulerTimeouts holds the hard executor timeouts.
type SchedulerTimeouts struct {
	Default     time.Duration            `mapstructure:"default"`
	PerCategory map[string]time.Duration `mapstructure:"per_category"`
}

// ContextConfig holds context store settings.
type ContextConfig struct {
	// Backend is "json", "sqlite" or "memory".
	Backend       string        `mapstructure:"backend"`
	Path          string        `mapstructure:"path"`
	MaxEntries    int           `mapstructure:"max_entries"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	Debounce      time.Duration `mapstructure:"debounce"`
	Limit         int           `mapstructure:"limit"`
	SummaryLength int           `mapstructure:"summary_length"`
}

// StateConfig holds run snapshot settings.
type StateConfig struct {
	Path             string        `mapstructure:"path"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	Retention        time.Duration `mapstructure:"retention"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, HIVE_*)
// 2. Project config (.hive.yaml in current directory or parent)
// 3. User config (~/.config/hive/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	return load(getUserConfigDir(), findProjectConfig(cwd))
}

func load(userConfigDir, projectConfig string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		// Project config takes precedence.
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("HIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The SDK's own variable wins over a configured key.
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY", "HIVE_ANTHROPIC_API_KEY")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Context.Path = expandEnv(cfg.Context.Path)
	cfg.State.Path = expandEnv(cfg.State.Path)

	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	return SaveTo(cfg, GetUserConfigPath())
}

// SaveTo writes the configuration to path, creating its directory.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.bedrock", cfg.Anthropic.Bedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)

	v.Set("executor.backend", cfg.Executor.Backend)
	v.Set("executor.cli_path", cfg.Executor.CLIPath)
	v.Set("executor.max_tokens", cfg.Executor.MaxTokens)

	v.Set("scheduler.max_concurrency", cfg.Scheduler.MaxConcurrency)
	v.Set("scheduler.sequential_categories", cfg.Scheduler.SequentialCategories)
	v.Set("scheduler.conflict_groups", cfg.Scheduler.ConflictGroups)
	v.Set("scheduler.max_unmet_retries", cfg.Scheduler.MaxUnmetRetries)
	v.Set("scheduler.max_delegation_depth", cfg.Scheduler.MaxDelegationDepth)
	v.Set("scheduler.requeue_backoff", cfg.Scheduler.RequeueBackoff.String())
	v.Set("scheduler.error_backoff", cfg.Scheduler.ErrorBackoff.String())
	v.Set("scheduler.completed_retention", cfg.Scheduler.CompletedRetention.String())
	v.Set("scheduler.timeouts.default", cfg.Scheduler.Timeouts.Default.String())
	perCategory := make(map[string]string, len(cfg.Scheduler.Timeouts.PerCategory))
	for cat, d := range cfg.Scheduler.Timeouts.PerCategory {
		perCategory[cat] = d.String()
	}
	v.Set("scheduler.timeouts.per_category", perCategory)

	v.Set("context.backend", cfg.Context.Backend)
	v.Set("context.path", cfg.Context.Path)
	v.Set("context.max_entries", cfg.Context.MaxEntries)
	v.Set("context.max_age", cfg.Context.MaxAge.String())
	v.Set("context.debounce", cfg.Context.Debounce.String())
	v.Set("context.limit", cfg.Context.Limit)
	v.Set("context.summary_length", cfg.Context.SummaryLength)

	v.Set("state.path", cfg.State.Path)
	v.Set("state.snapshot_interval", cfg.State.SnapshotInterval.String())
	v.Set("state.retention", cfg.State.Retention.String())

	v.Set("metrics.addr", cfg.Metrics.Addr)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findProjectConfig(cwd)
}

// ToPolicy converts the scheduler and context sections into an
// orchestrator policy. Values left at zero keep the policy defaults.
func (c *Config) ToPolicy() (*policy.Config, error) {
	p := policy.Default()
	s := c.Scheduler

	if s.SequentialCategories != nil {
		p.Dispatch.SequentialCategories = toCategories(s.SequentialCategories)
	}
	if s.ConflictGroups != nil {
		p.Dispatch.ConflictGroups = make([][]models.Category, 0, len(s.ConflictGroups))
		for _, group := range s.ConflictGroups {
			p.Dispatch.ConflictGroups = append(p.Dispatch.ConflictGroups, toCategories(group))
		}
	}

	if s.RequeueBackoff > 0 {
		p.Loop.RequeueBackoff = s.RequeueBackoff
	}
	if s.ErrorBackoff > 0 {
		p.Loop.ErrorBackoff = s.ErrorBackoff
	}
	if s.MaxUnmetRetries > 0 {
		p.Loop.MaxUnmetRetries = s.MaxUnmetRetries
	}
	p.Loop.MaxDelegationDepth = s.MaxDelegationDepth
	if s.CompletedRetention > 0 {
		p.Loop.CompletedRetention = s.CompletedRetention
	}

	if s.Timeouts.Default > 0 {
		p.Timeouts.Default = s.Timeouts.Default
	}
	for cat, d := range s.Timeouts.PerCategory {
		p.Timeouts.PerCategory[models.Category(strings.ToLower(cat))] = d
	}

	if c.Context.Limit > 0 {
		p.Context.Limit = c.Context.Limit
	}
	if c.Context.SummaryLength > 0 {
		p.Context.SummaryLength = c.Context.SummaryLength
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	return p, nil
}

func toCategories(names []string) []models.Category {
	cats := make([]models.Category, len(names))
	for i, n := range names {
		cats[i] = models.Category(strings.ToLower(strings.TrimSpace(n)))
	}
	return cats
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("executor.backend", d.Executor.Backend)
	v.SetDefault("executor.cli_path", d.Executor.CLIPath)
	v.SetDefault("executor.max_tokens", d.Executor.MaxTokens)

	v.SetDefault("scheduler.max_concurrency", d.Scheduler.MaxConcurrency)
	v.SetDefault("scheduler.sequential_categories", d.Scheduler.SequentialCategories)
	v.SetDefault("scheduler.conflict_groups", d.Scheduler.ConflictGroups)
	v.SetDefault("scheduler.max_unmet_retries", d.Scheduler.MaxUnmetRetries)
	v.SetDefault("scheduler.max_delegation_depth", d.Scheduler.MaxDelegationDepth)
	v.SetDefault("scheduler.requeue_backoff", "250ms")
	v.SetDefault("scheduler.error_backoff", "1s")
	v.SetDefault("scheduler.completed_retention", "0s")
	v.SetDefault("scheduler.timeouts.default", "10m")
	v.SetDefault("scheduler.timeouts.per_category", map[string]string{
		"architect":  "15m",
		"researcher": "5m",
	})

	v.SetDefault("context.backend", d.Context.Backend)
	v.SetDefault("context.path", "")
	v.SetDefault("context.max_entries", d.Context.MaxEntries)
	v.SetDefault("context.max_age", "24h")
	v.SetDefault("context.debounce", "2s")
	v.SetDefault("context.limit", d.Context.Limit)
	v.SetDefault("context.summary_length", d.Context.SummaryLength)

	v.SetDefault("state.path", "")
	v.SetDefault("state.snapshot_interval", "5s")
	v.SetDefault("state.retention", "720h")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for hive.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hive")
	}
	return filepath.Join(home, ".config", "hive")
}

// findProjectConfig searches for .hive.yaml in dir and its parents.
func findProjectConfig(dir string) string {
	if dir == "" {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Executor: ExecutorConfig{
			Backend:   "api",
			CLIPath:   "claude",
			MaxTokens: 8192,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrency:       4,
			SequentialCategories: []string{"architect"},
			ConflictGroups: [][]string{
				{"coder", "integrator"},
				{"integrator", "devops"},
			},
			MaxUnmetRetries:    50,
			MaxDelegationDepth: 5,
			RequeueBackoff:     250 * time.Millisecond,
			ErrorBackoff:       time.Second,
			Timeouts: SchedulerTimeouts{
				Default: 10 * time.Minute,
				PerCategory: map[string]time.Duration{
					"architect":  15 * time.Minute,
					"researcher": 5 * time.Minute,
				},
			},
		},
		Context: ContextConfig{
			Backend:       "json",
			MaxEntries:    1000,
			MaxAge:        24 * time.Hour,
			Debounce:      2 * time.Second,
			Limit:         5,
			SummaryLength: 500,
		},
		State: StateConfig{
			SnapshotInterval: 5 * time.Second,
			Retention:        30 * 24 * time.Hour,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
