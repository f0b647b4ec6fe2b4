package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/internal/delegation"
	"github.com/ShayCichocki/hive/internal/executor"
	"github.com/ShayCichocki/hive/internal/orchestrator/policy"
	"github.com/ShayCichocki/hive/pkg/models"
)

// idPrompts sends the task ID as the prompt so fakes know which task runs.
var idPrompts = PromptBuilderFunc(func(task *models.Task, _ []models.ContextEntry) string {
	return task.ID
})

func fastPolicy() *policy.Config {
	p := policy.Default()
	p.Loop.RequeueBackoff = time.Millisecond
	p.Loop.ErrorBackoff = 5 * time.Millisecond
	return p
}

func newTestOrchestrator(t *testing.T, exec executor.Executor, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{
		WithPolicy(fastPolicy()),
		WithPromptBuilder(idPrompts),
		WithEventBuffer(1000),
	}
	o, err := New(RequiredConfig{Executor: exec}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return o
}

func runToIdle(t *testing.T, o *Orchestrator) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		o.Kill()
		t.Fatal("run did not finish")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func mustSubmit(t *testing.T, o *Orchestrator, task *models.Task) string {
	t.Helper()
	id, err := o.Submit(task)
	if err != nil {
		t.Fatalf("Submit(%s) = %v", task.ID, err)
	}
	return id
}

func mustTask(t *testing.T, o *Orchestrator, id string) *models.Task {
	t.Helper()
	task, ok := o.Task(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return task
}

// recorder is a fake executor tracking what runs concurrently.
type recorder struct {
	mu        sync.Mutex
	active    map[string]models.Category
	maxActive int
	calls     []string
	problems  []string
	check     func(active map[string]models.Category) string
	respond   func(ctx context.Context, id string, c models.Category) (executor.Outcome, error)
	hold      time.Duration
}

func newRecorder() *recorder {
	return &recorder{active: make(map[string]models.Category)}
}

func (r *recorder) Execute(ctx context.Context, prompt string, c models.Category) (executor.Outcome, error) {
	r.mu.Lock()
	r.active[prompt] = c
	if len(r.active) > r.maxActive {
		r.maxActive = len(r.active)
	}
	r.calls = append(r.calls, prompt)
	if r.check != nil {
		if p := r.check(r.active); p != "" {
			r.problems = append(r.problems, p)
		}
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.active, prompt)
		r.mu.Unlock()
	}()

	if r.hold > 0 {
		time.Sleep(r.hold)
	}
	if r.respond != nil {
		return r.respond(ctx, prompt, c)
	}
	return executor.Outcome{Success: true, Output: "done"}, nil
}

func (r *recorder) snapshot() (calls []string, maxActive int, problems []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), r.maxActive, append([]string(nil), r.problems...)
}

func TestHighPriorityTaskDispatchedImmediately(t *testing.T) {
	rec := newRecorder()
	o := newTestOrchestrator(t, rec, WithMaxConcurrency(1))
	mustSubmit(t, o, &models.Task{ID: "t1", Description: "plan", Category: models.CategoryArchitect, Priority: models.PriorityHigh})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	calls, _, _ := rec.snapshot()
	if len(calls) != 1 || calls[0] != "t1" {
		t.Errorf("calls = %v, want [t1]", calls)
	}
	if got := mustTask(t, o, "t1").Status; got != models.TaskStatusCompleted {
		t.Errorf("t1 status = %s", got)
	}
}

func TestDependentWaitsForCompletion(t *testing.T) {
	rec := newRecorder()
	rec.hold = 10 * time.Millisecond
	o := newTestOrchestrator(t, rec, WithMaxConcurrency(2))

	var mu sync.Mutex
	var t1AtT2 models.TaskStatus
	rec.respond = func(ctx context.Context, id string, c models.Category) (executor.Outcome, error) {
		if id == "t2" {
			t1, _ := o.Task("t1")
			mu.Lock()
			t1AtT2 = t1.Status
			mu.Unlock()
		}
		return executor.Outcome{Success: true, Output: "done"}, nil
	}

	mustSubmit(t, o, &models.Task{ID: "t1", Description: "first", Category: models.CategoryCoder})
	mustSubmit(t, o, &models.Task{ID: "t2", Description: "second", Category: models.CategoryCoder, Dependencies: []string{"t1"}})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if t1AtT2 != models.TaskStatusCompleted {
		t.Errorf("t1 was %s when t2 started", t1AtT2)
	}
	if got := mustTask(t, o, "t2").Status; got != models.TaskStatusCompleted {
		t.Errorf("t2 status = %s", got)
	}
}

func TestMissingDependencyDeadlocks(t *testing.T) {
	rec := newRecorder()
	o := newTestOrchestrator(t, rec)

	var deadlocked []string
	var evMu sync.Mutex
	go func() {
		for e := range o.Events() {
			if e.Type == EventTaskDeadlocked {
				evMu.Lock()
				deadlocked = append(deadlocked, e.TaskID)
				evMu.Unlock()
			}
		}
	}()

	mustSubmit(t, o, &models.Task{ID: "t3", Description: "orphan", Category: models.CategoryCoder, Dependencies: []string{"ghost"}})
	mustSubmit(t, o, &models.Task{ID: "t4", Description: "independent", Category: models.CategoryTester})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	t3 := mustTask(t, o, "t3")
	if t3.Status != models.TaskStatusFailed {
		t.Fatalf("t3 status = %s, want failed", t3.Status)
	}
	if t3.UnmetDependencyRetries != policy.Default().Loop.MaxUnmetRetries {
		t.Errorf("t3 retries = %d, want %d", t3.UnmetDependencyRetries, policy.Default().Loop.MaxUnmetRetries)
	}
	if !strings.Contains(t3.Error, "dependency deadlock") {
		t.Errorf("t3 error = %q", t3.Error)
	}
	if got := mustTask(t, o, "t4").Status; got != models.TaskStatusCompleted {
		t.Errorf("t4 status = %s, loop should keep running", got)
	}
	if errs := o.ContextStore().Errors("t3"); len(errs) != 1 {
		t.Errorf("expected one error entry for t3, got %d", len(errs))
	}

	waitFor(t, "deadlock event", func() bool {
		evMu.Lock()
		defer evMu.Unlock()
		return len(deadlocked) == 1 && deadlocked[0] == "t3"
	})
}

func TestDelegationMarkerCreatesChild(t *testing.T) {
	rec := newRecorder()
	rec.respond = func(ctx context.Context, id string, c models.Category) (executor.Outcome, error) {
		if id == "t1" {
			return executor.Outcome{Success: true, Output: "Found the module.\nDELEGATE_TO: tester - write unit tests for module X"}, nil
		}
		return executor.Outcome{Success: true, Output: "done"}, nil
	}
	o := newTestOrchestrator(t, rec)
	mustSubmit(t, o, &models.Task{ID: "t1", Description: "investigate", Category: models.CategoryResearcher})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	tasks := o.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	child := tasks[1]
	if child.Category != models.CategoryTester {
		t.Errorf("child category = %s", child.Category)
	}
	if len(child.Dependencies) != 1 || child.Dependencies[0] != "t1" || child.DelegatedBy != "t1" {
		t.Errorf("child deps = %v delegatedBy = %q", child.Dependencies, child.DelegatedBy)
	}
	if !strings.Contains(child.Description, "write unit tests for module X") {
		t.Errorf("child description = %q", child.Description)
	}
	if child.Status != models.TaskStatusCompleted {
		t.Errorf("child status = %s", child.Status)
	}

	var types []models.EntryType
	for _, e := range o.ContextStore().Entries("t1") {
		types = append(types, e.Type)
	}
	if len(types) != 2 || types[0] != models.EntryResult || types[1] != models.EntryDelegation {
		t.Errorf("t1 entries = %v, want [result delegation]", types)
	}
	if got := o.ContextStore().GetContext(models.CategoryTester, 5); len(got) == 0 {
		t.Error("delegation entry should be visible to the target category")
	}
}

func TestConflictingCategoriesNeverOverlap(t *testing.T) {
	rec := newRecorder()
	rec.hold = 15 * time.Millisecond
	rec.check = func(active map[string]models.Category) string {
		var coder, integrator bool
		for _, c := range active {
			coder = coder || c == models.CategoryCoder
			integrator = integrator || c == models.CategoryIntegrator
		}
		if coder && integrator {
			return fmt.Sprintf("coder and integrator overlap: %v", active)
		}
		return ""
	}
	o := newTestOrchestrator(t, rec, WithMaxConcurrency(2))
	mustSubmit(t, o, &models.Task{ID: "c", Description: "code", Category: models.CategoryCoder})
	mustSubmit(t, o, &models.Task{ID: "i", Description: "integrate", Category: models.CategoryIntegrator})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	calls, maxActive, problems := rec.snapshot()
	if len(problems) > 0 {
		t.Errorf("conflict violations: %v", problems)
	}
	if maxActive != 1 {
		t.Errorf("max active = %d, want 1", maxActive)
	}
	if len(calls) != 2 || calls[0] != "c" {
		t.Errorf("calls = %v, want coder first", calls)
	}
}

func TestConcurrencyBoundAndParallelDispatch(t *testing.T) {
	rec := newRecorder()
	rec.hold = 20 * time.Millisecond
	o := newTestOrchestrator(t, rec, WithMaxConcurrency(3))
	for i := 0; i < 10; i++ {
		mustSubmit(t, o, &models.Task{Description: fmt.Sprintf("task %d", i), Category: models.CategoryCoder})
	}

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	calls, maxActive, _ := rec.snapshot()
	if len(calls) != 10 {
		t.Errorf("executed %d tasks, want 10", len(calls))
	}
	if maxActive != 3 {
		t.Errorf("max active = %d, want exactly 3", maxActive)
	}
	if s := o.GetStatus(); s.CompletedCount != 10 || s.ActiveCount != 0 || s.Running {
		t.Errorf("status = %+v", s)
	}
}

func TestPriorityThenInsertionOrder(t *testing.T) {
	rec := newRecorder()
	o := newTestOrchestrator(t, rec, WithMaxConcurrency(1))
	mustSubmit(t, o, &models.Task{ID: "a", Description: "a", Category: models.CategoryCoder, Priority: models.PriorityLow})
	mustSubmit(t, o, &models.Task{ID: "b", Description: "b", Category: models.CategoryCoder, Priority: models.PriorityMedium})
	mustSubmit(t, o, &models.Task{ID: "c", Description: "c", Category: models.CategoryCoder, Priority: models.PriorityHigh})
	mustSubmit(t, o, &models.Task{ID: "d", Description: "d", Category: models.CategoryCoder, Priority: models.PriorityHigh})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	calls, _, _ := rec.snapshot()
	want := []string{"c", "d", "b", "a"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", calls, want)
	}
}

func TestSequentialCategoryRunsAlone(t *testing.T) {
	rec := newRecorder()
	rec.hold = 10 * time.Millisecond
	rec.check = func(active map[string]models.Category) string {
		for _, c := range active {
			if c == models.CategoryArchitect && len(active) > 1 {
				return fmt.Sprintf("architect ran alongside %v", active)
			}
		}
		return ""
	}
	o := newTestOrchestrator(t, rec, WithMaxConcurrency(4))
	mustSubmit(t, o, &models.Task{ID: "c1", Description: "c1", Category: models.CategoryCoder})
	mustSubmit(t, o, &models.Task{ID: "c2", Description: "c2", Category: models.CategoryCoder})
	mustSubmit(t, o, &models.Task{ID: "arch", Description: "design", Category: models.CategoryArchitect})
	mustSubmit(t, o, &models.Task{ID: "c3", Description: "c3", Category: models.CategoryCoder})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	calls, _, problems := rec.snapshot()
	if len(problems) > 0 {
		t.Errorf("violations: %v", problems)
	}
	if len(calls) != 4 || calls[3] != "arch" {
		t.Errorf("calls = %v, architect should wait for the coders", calls)
	}
}

func TestExecutorTimeoutFailsOnlyThatTask(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	pol := fastPolicy()
	pol.Timeouts.PerCategory[models.CategoryCoder] = 20 * time.Millisecond

	exec := executor.Func(func(ctx context.Context, prompt string, c models.Category) (executor.Outcome, error) {
		if c == models.CategoryCoder {
			<-block // ignores ctx
		}
		return executor.Outcome{Success: true, Output: "done"}, nil
	})
	o := newTestOrchestrator(t, exec, WithPolicy(pol), WithMaxConcurrency(2))
	mustSubmit(t, o, &models.Task{ID: "slow", Description: "hang", Category: models.CategoryCoder})
	mustSubmit(t, o, &models.Task{ID: "fast", Description: "ok", Category: models.CategoryTester})

	start := time.Now()
	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("run took %s; timeout should not wait on the executor", elapsed)
	}

	slow := mustTask(t, o, "slow")
	if slow.Status != models.TaskStatusFailed || !strings.Contains(slow.Error, "timed out") {
		t.Errorf("slow = %s %q", slow.Status, slow.Error)
	}
	if got := mustTask(t, o, "fast").Status; got != models.TaskStatusCompleted {
		t.Errorf("fast status = %s", got)
	}
	if errs := o.ContextStore().Errors("slow"); len(errs) != 1 {
		t.Errorf("want one error entry, got %d", len(errs))
	}
}

func TestFailureFailsDependentsTransitively(t *testing.T) {
	exec := executor.Func(func(ctx context.Context, prompt string, c models.Category) (executor.Outcome, error) {
		if prompt == "t1" {
			return executor.Outcome{Success: false, Error: "compile error"}, nil
		}
		return executor.Outcome{Success: true, Output: "done"}, nil
	})
	o := newTestOrchestrator(t, exec)
	mustSubmit(t, o, &models.Task{ID: "t1", Description: "build", Category: models.CategoryCoder})
	mustSubmit(t, o, &models.Task{ID: "t2", Description: "test", Category: models.CategoryTester, Dependencies: []string{"t1"}})
	mustSubmit(t, o, &models.Task{ID: "t3", Description: "review", Category: models.CategoryReviewer, Dependencies: []string{"t2"}})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	want := map[string]string{
		"t1": "compile error",
		"t2": "dependency t1 failed",
		"t3": "dependency t2 failed",
	}
	for id, reason := range want {
		task := mustTask(t, o, id)
		if task.Status != models.TaskStatusFailed || task.Error != reason {
			t.Errorf("%s = %s %q, want failed %q", id, task.Status, task.Error, reason)
		}
	}
	if s := o.GetStatus(); s.FailedCount != 3 {
		t.Errorf("FailedCount = %d", s.FailedCount)
	}
}

func TestExecutorErrorRecorded(t *testing.T) {
	exec := executor.Func(func(ctx context.Context, prompt string, c models.Category) (executor.Outcome, error) {
		return executor.Outcome{}, errors.New("connection refused")
	})
	o := newTestOrchestrator(t, exec)
	mustSubmit(t, o, &models.Task{ID: "t1", Description: "x", Category: models.CategoryDevOps})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	task := mustTask(t, o, "t1")
	if task.Status != models.TaskStatusFailed || !strings.Contains(task.Error, "connection refused") {
		t.Errorf("t1 = %s %q", task.Status, task.Error)
	}
	entries := o.ContextStore().Errors("t1")
	if len(entries) != 1 || !entries[0].HasTag(string(models.CategoryDevOps)) {
		t.Errorf("error entries = %+v", entries)
	}
}

func TestStopDrainsInFlightWork(t *testing.T) {
	release := make(chan struct{})
	exec := executor.Func(func(ctx context.Context, prompt string, c models.Category) (executor.Outcome, error) {
		<-release
		return executor.Outcome{Success: true, Output: "done"}, nil
	})
	o := newTestOrchestrator(t, exec, WithKeepAlive())
	mustSubmit(t, o, &models.Task{ID: "t1", Description: "work", Category: models.CategoryCoder})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	waitFor(t, "t1 to start", func() bool { return o.GetStatus().ActiveCount == 1 })

	stopped := make(chan error, 1)
	go func() { stopped <- o.Stop(context.Background()) }()
	waitFor(t, "draining", func() bool { return o.GetStatus().State == StateDraining })

	mustSubmit(t, o, &models.Task{ID: "t2", Description: "late", Category: models.CategoryTester})
	time.Sleep(20 * time.Millisecond)
	if got := mustTask(t, o, "t2").Status; got != models.TaskStatusPending {
		t.Errorf("t2 dispatched while draining: %s", got)
	}

	close(release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	if got := mustTask(t, o, "t1").Status; got != models.TaskStatusCompleted {
		t.Errorf("t1 status = %s, in-flight work should finish", got)
	}
	if s := o.GetStatus(); s.Running || s.State != StateStopped || s.PendingCount != 1 {
		t.Errorf("status = %+v", s)
	}
	if err := o.Wait(); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestStopBoundedByContext(t *testing.T) {
	release := make(chan struct{})
	exec := executor.Func(func(ctx context.Context, prompt string, c models.Category) (executor.Outcome, error) {
		<-release
		return executor.Outcome{Success: true, Output: "done"}, nil
	})
	o := newTestOrchestrator(t, exec, WithKeepAlive())
	mustSubmit(t, o, &models.Task{Description: "work", Category: models.CategoryCoder})
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	waitFor(t, "dispatch", func() bool { return o.GetStatus().ActiveCount == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := o.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() = %v, want deadline exceeded", err)
	}

	close(release)
	if err := o.Wait(); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestKillAbandonsInFlightWork(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	exec := executor.Func(func(ctx context.Context, prompt string, c models.Category) (executor.Outcome, error) {
		<-block
		return executor.Outcome{Success: true, Output: "too late"}, nil
	})
	o := newTestOrchestrator(t, exec, WithKeepAlive())
	mustSubmit(t, o, &models.Task{ID: "t1", Description: "work", Category: models.CategoryCoder})
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	waitFor(t, "dispatch", func() bool { return o.GetStatus().ActiveCount == 1 })

	o.Kill()
	if err := o.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}

	task := mustTask(t, o, "t1")
	if task.Status != models.TaskStatusFailed || !strings.Contains(task.Error, "cancel") {
		t.Errorf("t1 = %s %q", task.Status, task.Error)
	}
	if s := o.GetStatus(); s.Running || s.ActiveCount != 0 {
		t.Errorf("status = %+v", s)
	}
}

func TestLifecycleErrors(t *testing.T) {
	o := newTestOrchestrator(t, newRecorder(), WithKeepAlive())

	if err := o.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() before Start = %v, want ErrNotRunning", err)
	}
	if err := o.Wait(); err != nil {
		t.Errorf("Wait() before Start = %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := o.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}

	// A stopped orchestrator can run again.
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("restart = %v", err)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() after restart = %v", err)
	}
}

func TestNewRequiresExecutor(t *testing.T) {
	if _, err := New(RequiredConfig{}); err == nil {
		t.Error("New without executor should fail")
	}

	bad := policy.Default()
	bad.Dispatch.SequentialCategories = []models.Category{"wizard"}
	if _, err := New(RequiredConfig{Executor: newRecorder()}, WithPolicy(bad)); err == nil {
		t.Error("New with invalid policy should fail")
	}
}

func TestAddTaskValidation(t *testing.T) {
	o := newTestOrchestrator(t, newRecorder())

	tests := []struct {
		name     string
		desc     string
		category models.Category
	}{
		{"empty description", "  ", models.CategoryCoder},
		{"unknown category", "work", "wizard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.AddTask(tt.desc, tt.category, models.PriorityMedium, nil)
			var ve *models.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("AddTask() = %v, want ValidationError", err)
			}
		})
	}

	id, err := o.AddTask("work", models.CategoryCoder, "", nil)
	if err != nil || id == "" {
		t.Fatalf("AddTask() = %q, %v", id, err)
	}
	if got := mustTask(t, o, id).Priority; got != models.PriorityMedium {
		t.Errorf("default priority = %s", got)
	}
}

func TestIdleLoopPicksUpLateSubmissions(t *testing.T) {
	rec := newRecorder()
	o := newTestOrchestrator(t, rec, WithKeepAlive())
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer o.Kill()

	time.Sleep(10 * time.Millisecond)
	id, err := o.AddTask("late", models.CategoryCoder, models.PriorityHigh, nil)
	if err != nil {
		t.Fatalf("AddTask() = %v", err)
	}
	waitFor(t, "late task to complete", func() bool {
		return mustTask(t, o, id).Status == models.TaskStatusCompleted
	})

	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	rec := newRecorder()
	o := newTestOrchestrator(t, rec, WithKeepAlive())
	o.Pause()
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer o.Kill()

	mustSubmit(t, o, &models.Task{ID: "t1", Description: "work", Category: models.CategoryCoder})
	time.Sleep(20 * time.Millisecond)
	if got := mustTask(t, o, "t1").Status; got != models.TaskStatusPending {
		t.Fatalf("t1 dispatched while paused: %s", got)
	}
	if !o.GetStatus().Paused {
		t.Error("status should report paused")
	}

	o.Resume()
	waitFor(t, "t1 to complete", func() bool {
		return mustTask(t, o, "t1").Status == models.TaskStatusCompleted
	})
}

func TestDelegationDepthIsCapped(t *testing.T) {
	pol := fastPolicy()
	pol.Loop.MaxDelegationDepth = 3

	exec := executor.Func(func(ctx context.Context, prompt string, c models.Category) (executor.Outcome, error) {
		return executor.Outcome{Success: true, Output: "DELEGATE_TO: researcher - dig deeper"}, nil
	})
	o := newTestOrchestrator(t, exec, WithPolicy(pol))
	mustSubmit(t, o, &models.Task{ID: "root", Description: "start", Category: models.CategoryResearcher})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	tasks := o.Tasks()
	if len(tasks) != 4 {
		t.Fatalf("got %d tasks, want root plus 3 delegated", len(tasks))
	}
	for i := 1; i < len(tasks); i++ {
		if tasks[i].DelegatedBy != tasks[i-1].ID {
			t.Errorf("task %d delegated by %q, want %q", i, tasks[i].DelegatedBy, tasks[i-1].ID)
		}
	}
}

type panicRule struct{}

func (panicRule) Name() string { return "panics" }
func (panicRule) Apply(string) (delegation.Request, bool) {
	panic("rule exploded")
}

func TestPanicsAreIsolated(t *testing.T) {
	rules := delegation.RuleSet{}
	rules.Add(models.CategoryDocumenter, panicRule{})

	prompts := PromptBuilderFunc(func(task *models.Task, _ []models.ContextEntry) string {
		if task.Description == "explode" {
			panic("bad template")
		}
		return task.ID
	})

	rec := newRecorder()
	o := newTestOrchestrator(t, rec,
		WithPromptBuilder(prompts),
		WithParser(delegation.New(delegation.WithRules(rules))),
		WithMaxConcurrency(1),
	)
	mustSubmit(t, o, &models.Task{ID: "bad-prompt", Description: "explode", Category: models.CategoryCoder, Priority: models.PriorityHigh})
	mustSubmit(t, o, &models.Task{ID: "bad-rule", Description: "docs", Category: models.CategoryDocumenter, Priority: models.PriorityHigh})
	mustSubmit(t, o, &models.Task{ID: "fine", Description: "ok", Category: models.CategoryTester, Priority: models.PriorityLow})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if task := mustTask(t, o, "bad-prompt"); task.Status != models.TaskStatusFailed || !strings.Contains(task.Error, "build prompt") {
		t.Errorf("bad-prompt = %s %q", task.Status, task.Error)
	}
	if task := mustTask(t, o, "bad-rule"); task.Status != models.TaskStatusFailed || !strings.Contains(task.Error, "internal error") {
		t.Errorf("bad-rule = %s %q", task.Status, task.Error)
	}
	if got := mustTask(t, o, "fine").Status; got != models.TaskStatusCompleted {
		t.Errorf("fine status = %s, loop should survive panics", got)
	}
}

func TestEventsForOneTask(t *testing.T) {
	o := newTestOrchestrator(t, newRecorder())
	mustSubmit(t, o, &models.Task{ID: "t1", Description: "work", Category: models.CategoryCoder})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	var got []EventType
	for len(got) == 0 || got[len(got)-1] != EventStopped {
		select {
		case e := <-o.Events():
			got = append(got, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", got)
		}
	}

	want := []EventType{EventTaskAdded, EventStarted, EventWorkerSpawned, EventWorkerCompleted, EventTaskCompleted, EventStopped}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRunReturnsWhenWorkRunsOut(t *testing.T) {
	o, err := New(RequiredConfig{Executor: newRecorder()})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	id, err := o.AddTask("work", models.CategoryCoder, models.PriorityMedium, nil)
	if err != nil {
		t.Fatalf("AddTask() = %v", err)
	}

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := mustTask(t, o, id).Status; got != models.TaskStatusCompleted {
		t.Errorf("status = %s", got)
	}
	if s := o.GetStatus(); s.Running || s.State != StateStopped {
		t.Errorf("status = %+v", s)
	}
}

func TestUnreadEventsDoNotSlowTheLoop(t *testing.T) {
	instant := executor.Func(func(ctx context.Context, prompt string, c models.Category) (executor.Outcome, error) {
		return executor.Outcome{Success: true, Output: "done"}, nil
	})
	o, err := New(RequiredConfig{Executor: instant})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	const n = 250
	for i := 0; i < n; i++ {
		if _, err := o.AddTask(fmt.Sprintf("task %d", i), models.CategoryTester, models.PriorityMedium, nil); err != nil {
			t.Fatalf("AddTask() = %v", err)
		}
	}

	start := time.Now()
	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("run took %s with nobody reading events", elapsed)
	}

	s := o.GetStatus()
	if s.CompletedCount != n {
		t.Errorf("completed = %d, want %d", s.CompletedCount, n)
	}
	if s.DroppedEvents == 0 {
		t.Error("expected events past the buffer to be dropped")
	}
}

func TestCompletedTasksRetiredAfterRetention(t *testing.T) {
	pol := fastPolicy()
	pol.Loop.CompletedRetention = time.Nanosecond
	rec := newRecorder()
	o := newTestOrchestrator(t, rec, WithPolicy(pol), WithMaxConcurrency(1))
	mustSubmit(t, o, &models.Task{ID: "t1", Description: "first", Category: models.CategoryCoder})
	mustSubmit(t, o, &models.Task{ID: "t2", Description: "second", Category: models.CategoryCoder, Dependencies: []string{"t1"}})

	if err := runToIdle(t, o); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if calls, _, _ := rec.snapshot(); fmt.Sprint(calls) != "[t1 t2]" {
		t.Errorf("calls = %v, retired t1 should still satisfy t2", calls)
	}
	if _, ok := o.Task("t1"); ok {
		t.Error("t1 should have been removed from the queue")
	}
	if s := o.GetStatus(); s.CompletedCount != 2 {
		t.Errorf("completed = %d, want 2", s.CompletedCount)
	}
}
