package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config [show|path|init]",
	Short: "Manage configuration",
	Long: `View or create hive configuration.

  show  print the effective configuration (default)
  path  print the user and project config file locations
  init  write the defaults to the user config file

Configuration is stored at ~/.config/hive/config.yaml
Project-specific overrides can be placed in .hive.yaml
Environment variables (HIVE_SCHEDULER_MAX_CONCURRENCY, ANTHROPIC_API_KEY, ...)
override both.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"show", "path", "init"},
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "show"
		if len(args) > 0 {
			action = args[0]
		}

		switch action {
		case "show":
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			displayAllConfig(cfg)
		case "path":
			fmt.Printf("user:    %s\n", config.GetUserConfigPath())
			if p := config.GetProjectConfigPath(); p != "" {
				fmt.Printf("project: %s\n", p)
			} else {
				fmt.Printf("project: (no %s found)\n", config.ProjectConfigName)
			}
		case "init":
			return initUserConfig(config.GetUserConfigPath(), configForce)
		default:
			return fmt.Errorf("unknown config action %q: must be show, path or init", action)
		}
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file (init)")
}

// initUserConfig writes the default configuration to path.
func initUserConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.SaveTo(config.Default(), path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if key, err := config.GetAPIKey(cfg); err == nil {
		apiKeyDisplay = fmt.Sprintf("%s (%s)", config.MaskAPIKey(key), config.GetAPIKeySource(cfg))
	} else if cfg.Anthropic.Bedrock {
		apiKeyDisplay = "(using AWS Bedrock)"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", orDefault(cfg.Anthropic.Model, "(sdk default)"))
	fmt.Printf("anthropic.bedrock: %t\n", cfg.Anthropic.Bedrock)
	if cfg.Anthropic.Bedrock {
		fmt.Printf("anthropic.aws_region: %s\n", orDefault(cfg.Anthropic.AWSRegion, "(aws default)"))
		fmt.Printf("anthropic.aws_profile: %s\n", orDefault(cfg.Anthropic.AWSProfile, "(aws default)"))
	}

	fmt.Printf("executor.backend: %s\n", cfg.Executor.Backend)
	fmt.Printf("executor.cli_path: %s\n", cfg.Executor.CLIPath)
	fmt.Printf("executor.max_tokens: %d\n", cfg.Executor.MaxTokens)

	s := cfg.Scheduler
	fmt.Printf("scheduler.max_concurrency: %d\n", s.MaxConcurrency)
	fmt.Printf("scheduler.sequential_categories: [%s]\n", strings.Join(s.SequentialCategories, ", "))
	groups := make([]string, len(s.ConflictGroups))
	for i, g := range s.ConflictGroups {
		groups[i] = "[" + strings.Join(g, ", ") + "]"
	}
	fmt.Printf("scheduler.conflict_groups: [%s]\n", strings.Join(groups, ", "))
	fmt.Printf("scheduler.max_unmet_retries: %d\n", s.MaxUnmetRetries)
	fmt.Printf("scheduler.max_delegation_depth: %d\n", s.MaxDelegationDepth)
	fmt.Printf("scheduler.requeue_backoff: %s\n", s.RequeueBackoff)
	fmt.Printf("scheduler.error_backoff: %s\n", s.ErrorBackoff)
	fmt.Printf("scheduler.completed_retention: %s\n", s.CompletedRetention)
	fmt.Printf("scheduler.timeouts.default: %s\n", s.Timeouts.Default)
	cats := make([]string, 0, len(s.Timeouts.PerCategory))
	for c := range s.Timeouts.PerCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Printf("scheduler.timeouts.per_category.%s: %s\n", c, s.Timeouts.PerCategory[c])
	}

	c := cfg.Context
	fmt.Printf("context.backend: %s\n", c.Backend)
	fmt.Printf("context.path: %s\n", orDefault(c.Path, "(.hive/context.json)"))
	fmt.Printf("context.max_entries: %d\n", c.MaxEntries)
	fmt.Printf("context.max_age: %s\n", c.MaxAge)
	fmt.Printf("context.debounce: %s\n", c.Debounce)
	fmt.Printf("context.limit: %d\n", c.Limit)
	fmt.Printf("context.summary_length: %d\n", c.SummaryLength)

	fmt.Printf("state.path: %s\n", orDefault(cfg.State.Path, "(.hive/state.db)"))
	fmt.Printf("state.snapshot_interval: %s\n", cfg.State.SnapshotInterval)
	fmt.Printf("state.retention: %s\n", cfg.State.Retention)
	fmt.Printf("metrics.addr: %s\n", orDefault(cfg.Metrics.Addr, "(disabled)"))
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
