package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/internal/signals"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/pkg/models"
)

var (
	runCategory    string
	runPriority    string
	runPlan        string
	runConcurrency int
	runTUI         bool
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run [description]",
	Short: "Run tasks through the orchestrator",
	Long: `Run a single task, or every task of a plan file, through Claude workers.

The run ends when every task has completed or failed, including the tasks
that workers delegated along the way.

Plan files list tasks with dependencies:
  tasks:
    - id: design
      description: Design the storage layer
      category: architect
    - id: build
      description: Implement the storage layer
      category: coder
      depends_on: [design]

Control a running session from another terminal:
  hive signal stop     # finish in-flight tasks, dispatch nothing new
  hive signal kill     # abandon in-flight tasks
  hive signal pause    # hold dispatching
  hive signal resume

Ctrl+C stops gracefully; a second Ctrl+C kills.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTasks,
}

func init() {
	runCmd.Flags().StringVarP(&runCategory, "category", "c", string(models.CategoryCoder), "Category of the task")
	runCmd.Flags().StringVarP(&runPriority, "priority", "p", string(models.PriorityMedium), "Priority of the task: low, medium or high")
	runCmd.Flags().StringVar(&runPlan, "plan", "", "YAML plan file to run instead of a single task")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Maximum tasks in flight (overrides scheduler.max_concurrency)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live dashboard")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

func runTasks(cmd *cobra.Command, args []string) (retErr error) {
	// Recover from panics and report them
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runTasks: %v", r)
		}
	}()

	verbose := os.Getenv("HIVE_DEBUG") != ""

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Scheduler.MaxConcurrency = runConcurrency
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = runMetricsAddr
	}
	pol, err := cfg.ToPolicy()
	if err != nil {
		return fmt.Errorf("invalid scheduler config: %w", err)
	}

	p, err := buildPlan(args, runPlan, runCategory, runPriority)
	if err != nil {
		return err
	}

	exec, err := newExecutor(cfg, repoPath)
	if err != nil {
		return err
	}

	db, err := openStateDB(cfg, repoPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	if cfg.State.Retention > 0 {
		if n, err := db.PurgeOldRuns(cfg.State.Retention); err != nil {
			log.Printf("[hive] warning: %v", err)
		} else if n > 0 && verbose {
			log.Printf("[hive] purged %d old run(s)", n)
		}
	}

	store, err := newContextStore(cfg, repoPath, db)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := orchestrator.NewDebugLoggerForProject(repoPath)
	defer logger.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.Default()
		srv := serveMetrics(cfg.Metrics.Addr, m)
		defer srv.Close()
	}

	orch, err := orchestrator.New(
		orchestrator.RequiredConfig{Executor: exec},
		orchestrator.WithPolicy(pol),
		orchestrator.WithMaxConcurrency(cfg.Scheduler.MaxConcurrency),
		orchestrator.WithContextStore(store),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
		orchestrator.WithEventBuffer(1000),
	)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	ids, err := p.Submit(orch)
	if err != nil {
		return err
	}
	if verbose {
		log.Printf("[hive] submitted %d task(s): %v", len(ids), ids)
	}

	runID := uuid.NewString()
	if err := db.CreateRun(&state.Run{
		ID:             runID,
		StartedAt:      time.Now(),
		Status:         state.RunRunning,
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl+C stops gracefully, a second one kills.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nStopping: waiting for in-flight tasks (Ctrl+C again to kill)...")
		go orch.Stop(ctx)
		select {
		case <-sigCh:
			fmt.Println("\nKilling: abandoning in-flight tasks...")
			orch.Kill()
		case <-ctx.Done():
		}
	}()

	watcher, err := signals.Watch(repoPath, orch)
	if err != nil {
		log.Printf("[hive] warning: signal files disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	snapCtx, stopSnapshots := context.WithCancel(ctx)
	snapshotter := state.NewSnapshotter(db, runID, orch.Tasks, cfg.State.SnapshotInterval)
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		snapshotter.Run(snapCtx)
	}()

	var runErr error
	if runTUI {
		runErr = runWithTUI(ctx, orch, cfg.TUI.RefreshRate)
	} else {
		runErr = runHeadless(ctx, orch)
	}

	stopSnapshots()
	<-snapDone

	status := runStatus(runErr, orch.GetStatus())
	if err := db.FinishRun(runID, status, time.Now()); err != nil {
		log.Printf("[hive] warning: %v", err)
	}

	if !runTUI {
		printSummary(orch.Tasks(), status)
	}

	switch {
	case runErr != nil:
		return runErr
	case orch.GetStatus().FailedCount > 0:
		return fmt.Errorf("%d task(s) failed", orch.GetStatus().FailedCount)
	}
	return nil
}

// runStatus classifies how a run ended.
func runStatus(runErr error, s orchestrator.Status) state.RunStatus {
	switch {
	case runErr != nil:
		return state.RunKilled
	case s.PendingCount > 0:
		return state.RunStopped
	default:
		return state.RunCompleted
	}
}

// runHeadless runs the orchestrator and prints events as they arrive.
func runHeadless(ctx context.Context, orch *orchestrator.Orchestrator) error {
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		consumeEventsHeadless(orch.Events())
	}()

	err := orch.Run(ctx)

	// The stopped event is normally already queued; do not hang if it was dropped.
	select {
	case <-printed:
	case <-time.After(time.Second):
	}
	return err
}

// consumeEventsHeadless prints orchestrator events until the run stops.
func consumeEventsHeadless(events <-chan orchestrator.Event) {
	for e := range events {
		switch e.Type {
		case orchestrator.EventTaskAdded:
			if e.ParentID != "" {
				fmt.Printf("%s %s delegated %s to %s: %s\n", color.CyanString("↳"), e.ParentID, e.TaskID, e.Category, e.Message)
			} else {
				fmt.Printf("%s %s (%s): %s\n", color.CyanString("+"), e.TaskID, e.Category, e.Message)
			}
		case orchestrator.EventWorkerSpawned:
			fmt.Printf("%s %s started (%s)\n", color.BlueString("▶"), e.TaskID, e.Category)
		case orchestrator.EventTaskCompleted:
			fmt.Printf("%s %s completed in %s\n", color.GreenString("✓"), e.TaskID, formatDuration(e.Duration))
		case orchestrator.EventTaskFailed:
			fmt.Printf("%s %s failed: %s\n", color.RedString("✗"), e.TaskID, e.Message)
		case orchestrator.EventTaskDeadlocked:
			fmt.Printf("%s %s deadlocked on unmet dependencies\n", color.YellowString("⚠"), e.TaskID)
		case orchestrator.EventStopped:
			return
		}
	}
}

// printSummary prints the final task counts and every failure.
func printSummary(tasks []*models.Task, status state.RunStatus) {
	var completed, failed, pending int
	var failures []*models.Task
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
			failures = append(failures, t)
		default:
			pending++
		}
	}

	fmt.Println()
	fmt.Printf("Run %s: %s completed, %s failed, %d pending\n",
		status,
		color.GreenString("%d", completed),
		color.RedString("%d", failed),
		pending)

	if len(failures) == 0 {
		return
	}
	fmt.Println("\nFailures:")
	for _, t := range failures {
		fmt.Printf("  %s %s (%s): %s\n", color.RedString("✗"), t.ID, t.Category, t.Error)
	}
}
