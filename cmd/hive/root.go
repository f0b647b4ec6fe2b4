package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Task coordination engine for LLM workers",
	Long: `Hive runs a queue of categorized tasks through Claude workers.

Tasks carry a category (architect, coder, tester, reviewer, security,
integrator, documenter, researcher, devops), a priority and dependencies.
The scheduler dispatches ready tasks in parallel, keeps conflicting
categories apart, and shares what each worker produced with later tasks.
Workers can hand off follow-up work by writing DELEGATE_TO or "Please
have the <category>" lines in their output.

Start with:
  hive init
  hive run "describe the task" --category coder
  hive run --plan plan.yaml --tui`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
