package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/executor"
	"github.com/ShayCichocki/hive/internal/signals"
)

var (
	initForce    bool
	initNoIgnore bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a hive project",
	Long: `Initialize a directory for use with hive.

This command:
  - Checks the Claude CLI and API credentials
  - Creates the .hive directory (logs, signals, state)
  - Adds .hive/ to .gitignore
  - Writes a commented .hive.yaml template

The directory argument is optional and defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initNoIgnore, "no-gitignore", false, "Leave .gitignore alone")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing hive in %s...\n\n", absPath)

	hiveDir := filepath.Join(absPath, ".hive")
	if _, err := os.Stat(hiveDir); err == nil && !initForce {
		fmt.Printf("Directory already initialized. Use --force to reinitialize.\n")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	checkPrerequisites(cfg)

	for _, dir := range []string{hiveDir, filepath.Join(hiveDir, "logs"), signals.Dir(absPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .hive directory structure", color.FgGreen)

	if !initNoIgnore {
		updated, err := updateGitignore(absPath)
		if err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		if updated {
			printStatus("✓", "Added .hive/ to .gitignore", color.FgGreen)
		}
	}

	created, err := createProjectConfig(absPath)
	if err != nil {
		return fmt.Errorf("creating project config: %w", err)
	}
	if created {
		printStatus("✓", "Created "+config.ProjectConfigName+" template", color.FgGreen)
	}

	fmt.Printf("\n%s hive initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  hive run \"your task here\" --category coder")
	fmt.Println("  hive run --plan plan.yaml --tui")
	fmt.Println("  hive --help")
	return nil
}

// checkPrerequisites reports on the executor backend. Nothing here is fatal:
// credentials can be set up after init.
func checkPrerequisites(cfg *config.Config) {
	cli := executor.NewCLIExecutor(nil, executor.CLIConfig{Path: cfg.Executor.CLIPath})
	if err := cli.Check(); err != nil {
		sev := color.FgYellow
		if cfg.Executor.Backend == "cli" {
			sev = color.FgRed
		}
		printStatus("⚠", "Claude CLI not found (needed for executor.backend: cli)", sev)
	} else {
		printStatus("✓", "Claude CLI found", color.FgGreen)
	}

	switch source := config.GetAPIKeySource(cfg); source {
	case config.KeySourceBedrock:
		printStatus("✓", "Using AWS Bedrock credentials", color.FgGreen)
	case config.KeySourceNone:
		printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	default:
		if err := config.CheckCredentials(cfg); err != nil {
			printStatus("✗", fmt.Sprintf("API key from %s is invalid: %v", source, err), color.FgRed)
		} else {
			printStatus("✓", fmt.Sprintf("API key found (%s)", source), color.FgGreen)
		}
	}
}

// updateGitignore adds the hive entries to .gitignore if not present.
func updateGitignore(repoPath string) (bool, error) {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	entries := []string{".hive/"}
	var missing []string
	for _, entry := range entries {
		if !strings.Contains(existingContent, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)
	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}
	newContent.WriteString("\n# hive\n")
	for _, entry := range missing {
		newContent.WriteString(entry + "\n")
	}

	return true, os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}

const projectConfigTemplate = `# hive project configuration
# Overrides ~/.config/hive/config.yaml for this project.

# executor:
#   backend: api        # api or cli
#   cli_path: claude

# scheduler:
#   max_concurrency: 4
#   sequential_categories: [architect]
#   conflict_groups:
#     - [coder, integrator]
#     - [integrator, devops]
#   max_delegation_depth: 5
#   completed_retention: 0s   # drop completed tasks older than this; 0 keeps all
#   timeouts:
#     default: 10m
#     per_category:
#       architect: 15m

# context:
#   backend: json       # json, sqlite or memory
#   limit: 5
`

// createProjectConfig writes the .hive.yaml template unless one exists.
func createProjectConfig(repoPath string) (bool, error) {
	configPath := filepath.Join(repoPath, config.ProjectConfigName)
	if _, err := os.Stat(configPath); err == nil {
		return false, nil
	}
	return true, os.WriteFile(configPath, []byte(projectConfigTemplate), 0644)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
