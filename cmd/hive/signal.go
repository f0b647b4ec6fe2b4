package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/signals"
)

var signalCmd = &cobra.Command{
	Use:   "signal <stop|kill|pause|resume>",
	Short: "Control a running session",
	Long: `Send a control signal to the hive run in the current project.

  stop    finish in-flight tasks, then end the run
  kill    abandon in-flight tasks and end the run now
  pause   stop dispatching new tasks
  resume  dispatch again after pause`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(signals.Stop), string(signals.Kill), string(signals.Pause), string(signals.Resume)},
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		if err := signals.Send(cwd, signals.Signal(args[0])); err != nil {
			return err
		}
		fmt.Printf("Sent %s to %s\n", args[0], signals.Dir(cwd))
		return nil
	},
}
