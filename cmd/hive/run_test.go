package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/executor"
	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/pkg/models"
)

func TestBuildPlan(t *testing.T) {
	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(planPath, []byte("tasks:\n  - id: a\n    description: x\n    category: coder\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		args     []string
		plan     string
		category string
		priority string
		wantErr  string
		wantCat  models.Category
	}{
		{name: "single task", args: []string{"write docs"}, category: "Documenter", priority: "low", wantCat: models.CategoryDocumenter},
		{name: "plan file", plan: planPath, category: "coder", priority: "medium", wantCat: models.CategoryCoder},
		{name: "nothing to run", category: "coder", priority: "medium", wantErr: "nothing to run"},
		{name: "both", args: []string{"x"}, plan: planPath, category: "coder", priority: "medium", wantErr: "not both"},
		{name: "bad category", args: []string{"x"}, category: "wizard", priority: "medium", wantErr: "unknown category"},
		{name: "bad priority", args: []string{"x"}, category: "coder", priority: "asap", wantErr: "unknown priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := buildPlan(tt.args, tt.plan, tt.category, tt.priority)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("buildPlan() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildPlan() = %v", err)
			}
			tasks := p.ToTasks()
			if len(tasks) != 1 || tasks[0].Category != tt.wantCat {
				t.Errorf("tasks = %+v", tasks)
			}
		})
	}
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status orchestrator.Status
		want   state.RunStatus
	}{
		{"all done", nil, orchestrator.Status{CompletedCount: 3}, state.RunCompleted},
		{"failures still complete", nil, orchestrator.Status{CompletedCount: 1, FailedCount: 2}, state.RunCompleted},
		{"stopped early", nil, orchestrator.Status{PendingCount: 2}, state.RunStopped},
		{"killed", context.Canceled, orchestrator.Status{}, state.RunKilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runStatus(tt.err, tt.status); got != tt.want {
				t.Errorf("runStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewExecutorErrors(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"unknown backend", func(c *config.Config) { c.Executor.Backend = "carrier-pigeon" }, "unknown executor backend"},
		{"api without key", func(c *config.Config) { c.Executor.Backend = "api" }, "credentials"},
		{"cli not installed", func(c *config.Config) {
			c.Executor.Backend = "cli"
			c.Executor.CLIPath = filepath.Join(t.TempDir(), "no-such-claude")
		}, "claude CLI not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			_, err := newExecutor(cfg, t.TempDir())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("newExecutor() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewExecutorAPI(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key-0123456789")

	exec, err := newExecutor(config.Default(), t.TempDir())
	if err != nil {
		t.Fatalf("newExecutor() = %v", err)
	}
	if exec == nil {
		t.Fatal("newExecutor() returned nil")
	}
}

func TestNewContextStoreJSON(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Context.Debounce = time.Hour

	store, err := newContextStore(cfg, root, nil)
	if err != nil {
		t.Fatalf("newContextStore() = %v", err)
	}
	if _, err := store.Store(models.ContextEntry{
		ProducerID: "t1",
		Type:       models.EntryResult,
		Content:    "built the parser",
		Tags:       []string{string(models.CategoryCoder)},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, ".hive", "context.json")); err != nil {
		t.Fatalf("context file not written: %v", err)
	}

	// A second store picks up what the first persisted.
	again, err := newContextStore(cfg, root, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	if again.Len() != 1 {
		t.Errorf("reloaded Len() = %d, want 1", again.Len())
	}
}

func TestNewContextStoreSQLite(t *testing.T) {
	root := t.TempDir()
	db, err := state.OpenProject(root)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := config.Default()
	cfg.Context.Backend = "sqlite"
	store, err := newContextStore(cfg, root, db)
	if err != nil {
		t.Fatalf("newContextStore() = %v", err)
	}
	defer store.Close()

	if _, err := newContextStore(cfg, root, nil); err == nil {
		t.Error("sqlite backend without a database should fail")
	}
}

func TestNewContextStoreUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Context.Backend = "redis"
	if _, err := newContextStore(cfg, t.TempDir(), nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestOpenStateDBCustomPath(t *testing.T) {
	cfg := config.Default()
	cfg.State.Path = filepath.Join(t.TempDir(), "nested", "runs.db")

	db, err := openStateDB(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("openStateDB() = %v", err)
	}
	defer db.Close()

	if db.Path() != cfg.State.Path {
		t.Errorf("Path() = %s, want %s", db.Path(), cfg.State.Path)
	}
	run, err := db.LatestRun()
	if err != nil || run != nil {
		t.Errorf("LatestRun() = %v, %v on a fresh database", run, err)
	}
}

func TestUpdateGitignore(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".gitignore")
	if err := os.WriteFile(path, []byte("bin/"), 0644); err != nil {
		t.Fatal(err)
	}

	updated, err := updateGitignore(root)
	if err != nil || !updated {
		t.Fatalf("updateGitignore() = %v, %v", updated, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "bin/\n\n# hive\n.hive/\n" {
		t.Errorf(".gitignore = %q", data)
	}

	updated, err = updateGitignore(root)
	if err != nil || updated {
		t.Errorf("second updateGitignore() = %v, %v, want no change", updated, err)
	}
}

func TestCreateProjectConfigKeepsExisting(t *testing.T) {
	root := t.TempDir()

	created, err := createProjectConfig(root)
	if err != nil || !created {
		t.Fatalf("createProjectConfig() = %v, %v", created, err)
	}
	path := filepath.Join(root, config.ProjectConfigName)
	if _, err := config.LoadFromPath(path); err != nil {
		t.Errorf("template does not load: %v", err)
	}

	if err := os.WriteFile(path, []byte("scheduler:\n  max_concurrency: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	created, err = createProjectConfig(root)
	if err != nil || created {
		t.Errorf("createProjectConfig() over existing = %v, %v", created, err)
	}
}

func TestInitUserConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive", "config.yaml")

	if err := initUserConfig(path, false); err != nil {
		t.Fatalf("initUserConfig() = %v", err)
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.MaxConcurrency != config.Default().Scheduler.MaxConcurrency {
		t.Errorf("max_concurrency = %d", cfg.Scheduler.MaxConcurrency)
	}

	if err := initUserConfig(path, false); err == nil {
		t.Error("second init without --force should fail")
	}
	if err := initUserConfig(path, true); err != nil {
		t.Errorf("init with --force = %v", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
		{50 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("fix it\nthen test", 60); got != "fix it" {
		t.Errorf("firstLine() = %q", got)
	}
	if got := firstLine(strings.Repeat("a", 20), 10); got != "aaaaaaa..." {
		t.Errorf("firstLine() = %q", got)
	}
}

func TestConsumeEventsHeadlessReturnsOnStop(t *testing.T) {
	events := make(chan orchestrator.Event, 4)
	events <- orchestrator.Event{Type: orchestrator.EventTaskAdded, TaskID: "t1", Category: models.CategoryCoder, Message: "x"}
	events <- orchestrator.Event{Type: orchestrator.EventTaskFailed, TaskID: "t1", Message: "boom"}
	events <- orchestrator.Event{Type: orchestrator.EventStopped}

	done := make(chan struct{})
	go func() {
		consumeEventsHeadless(events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumeEventsHeadless did not return after the stopped event")
	}
}

func TestRunHeadlessEndToEnd(t *testing.T) {
	exec := executor.Func(func(ctx context.Context, prompt string, category models.Category) (executor.Outcome, error) {
		if category == models.CategoryCoder {
			return executor.Outcome{Success: true, Output: "done\nDELEGATE_TO: tester - test it"}, nil
		}
		return executor.Outcome{}, errors.New("tests failed")
	})

	orch, err := orchestrator.New(orchestrator.RequiredConfig{Executor: exec})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orch.AddTask("build it", models.CategoryCoder, models.PriorityMedium, nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runHeadless(ctx, orch); err != nil {
		t.Fatalf("runHeadless() = %v", err)
	}

	s := orch.GetStatus()
	if s.CompletedCount != 1 || s.FailedCount != 1 {
		t.Errorf("status = %+v, want 1 completed and 1 failed", s)
	}
	if got := runStatus(nil, s); got != state.RunCompleted {
		t.Errorf("runStatus() = %s", got)
	}
}
