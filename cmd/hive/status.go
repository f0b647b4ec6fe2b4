package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/pkg/models"
)

var statusRunID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest run",
	Long: `Display the most recent run recorded in this project.

Shows:
  - Run status, start time and duration
  - Task counts
  - Every task with its category, priority and status
  - Failure reasons

Runs are snapshotted while they execute, so status also works from another
terminal during a run.`,
	RunE: runStatusCmd,
}

func init() {
	statusCmd.Flags().StringVar(&statusRunID, "run", "", "Show this run instead of the latest")
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.State.Path
	if dbPath == "" {
		dbPath = state.ProjectDBPath(cwd)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No runs yet. Run 'hive run <task>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var run *state.Run
	if statusRunID != "" {
		run, err = db.GetRun(statusRunID)
	} else {
		run, err = db.LatestRun()
	}
	if err != nil {
		return err
	}
	if run == nil {
		if statusRunID != "" {
			return fmt.Errorf("run %s not found", statusRunID)
		}
		fmt.Println("No runs yet. Run 'hive run <task>' to start.")
		return nil
	}

	tasks, err := db.TasksForRun(run.ID)
	if err != nil {
		return err
	}

	displayRun(run, time.Now())
	fmt.Println()
	displayTasks(tasks)
	return nil
}

func displayRun(r *state.Run, now time.Time) {
	fmt.Printf("Run: %s\n", r.ID)
	fmt.Printf("  Status: %s\n", colorRunStatus(r.Status))
	fmt.Printf("  Started: %s ago\n", formatDuration(now.Sub(r.StartedAt)))
	if r.FinishedAt != nil {
		fmt.Printf("  Duration: %s\n", formatDuration(r.FinishedAt.Sub(r.StartedAt)))
	}
	fmt.Printf("  Max concurrency: %d\n", r.MaxConcurrency)
	fmt.Printf("  Tasks: %s completed, %s failed, %d pending\n",
		color.GreenString("%d", r.Completed),
		color.RedString("%d", r.Failed),
		r.Pending)
}

func displayTasks(tasks []*models.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks recorded.")
		return
	}

	fmt.Println("Tasks:")
	for _, t := range tasks {
		line := fmt.Sprintf("  %s %-12s %-10s %-6s %s",
			statusSymbol(t.Status), t.ID, t.Category, t.Priority, firstLine(t.Description, 60))
		if t.DelegatedBy != "" {
			line += color.HiBlackString(" (from %s)", t.DelegatedBy)
		}
		fmt.Println(line)
		if t.Status == models.TaskStatusFailed && t.Error != "" {
			fmt.Printf("      %s\n", color.RedString(t.Error))
		}
	}
}

func colorRunStatus(s state.RunStatus) string {
	switch s {
	case state.RunCompleted:
		return color.GreenString(string(s))
	case state.RunRunning:
		return color.CyanString(string(s))
	case state.RunStopped:
		return color.YellowString(string(s))
	default:
		return color.RedString(string(s))
	}
}

func statusSymbol(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.GreenString("✓")
	case models.TaskStatusFailed:
		return color.RedString("✗")
	case models.TaskStatusRunning:
		return color.CyanString("▶")
	default:
		return color.HiBlackString("○")
	}
}

// firstLine returns the first line of s, cut to n runes.
func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
