package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/executor"
	"github.com/ShayCichocki/hive/pkg/models"
)

// completion is the result of one execution, sent back to the loop.
type completion struct {
	workerID string
	task     *models.Task
	outcome  executor.Outcome
	err      error
	finished time.Time
}

// runLoop dispatches work until the run is stopped, killed, or, unless
// kept alive, runs out of work. Only this goroutine changes task status
// after submission.
func (o *Orchestrator) runLoop(r *run) error {
	backoff := time.NewTimer(time.Hour)
	backoff.Stop()
	defer backoff.Stop()

	var backoffC <-chan time.Time
	stopCh := r.stopCh
	draining := false

	for {
		if err := r.ctx.Err(); err != nil {
			o.abandonInflight(err)
			return err
		}

		if !draining && !o.paused.Load() {
			if !o.guard("dispatch", func() { o.dispatch(r) }) {
				o.pause(r, stopCh)
				continue
			}
		}

		active := o.registry.Count()
		pending := o.queue.Size()
		o.metrics.SetLoad(active, pending)

		if draining && active == 0 {
			o.logger.Log("[runLoop] drained")
			return nil
		}
		if !draining && o.exitWhenIdle && active == 0 && pending == 0 {
			o.logger.Log("[runLoop] EXITING: nothing pending and nothing in flight")
			return nil
		}

		if !draining && backoffC == nil && len(o.queue.Stalled(active == 0)) > 0 {
			backoff.Reset(o.policy.Loop.RequeueBackoff)
			backoffC = backoff.C
		}

		ok := true
		select {
		case c := <-r.completions:
			ok = o.guard("completion", func() {
				o.handleCompletion(c)
				o.retireCompleted()
			})
		case <-o.wake:
		case <-backoffC:
			backoffC = nil
			if !o.paused.Load() {
				ok = o.guard("requeue", func() {
					o.dispatch(r)
					o.requeueStalled()
				})
			}
		case <-stopCh:
			stopCh = nil
			draining = true
			backoff.Stop()
			backoffC = nil
		case <-r.ctx.Done():
		}

		if !ok {
			o.pause(r, stopCh)
		}
	}
}

// guard runs fn and converts a panic into a logged error so one bad
// iteration never ends the loop.
func (o *Orchestrator) guard(stage string, fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[orchestrator] ERROR: recovered from panic during %s: %v", stage, rec)
			o.logger.Log("[runLoop] panic during %s: %v\n%s", stage, rec, debug.Stack())
			ok = false
		}
	}()
	fn()
	return true
}

// pause waits ErrorBackoff after a recovered panic.
func (o *Orchestrator) pause(r *run, stopCh <-chan struct{}) {
	timer := time.NewTimer(o.policy.Loop.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-stopCh:
	case <-r.ctx.Done():
	}
}

// dispatch fills every free slot with ready tasks. Tasks dispatched in this
// pass count as running when admitting the next one.
func (o *Orchestrator) dispatch(r *run) {
	running := o.registry.RunningCategories()
	for o.registry.Count() < o.maxConcurrency {
		task := o.queue.NextReady(running)
		if task == nil {
			return
		}
		running = append(running, task.Category)
		o.spawn(r, task)
	}
}

// spawn registers a worker for a task already marked running and starts
// the execution goroutine.
func (o *Orchestrator) spawn(r *run, task *models.Task) {
	prompt, err := o.buildPrompt(task)
	if err != nil {
		o.failTask(task, err.Error(), "internal", 0)
		return
	}

	w := &models.Worker{
		ID:        "w-" + uuid.New().String()[:8],
		TaskID:    task.ID,
		Category:  task.Category,
		Status:    models.TaskStatusRunning,
		StartTime: time.Now(),
	}
	o.registry.Register(w)

	timeout := o.policy.Timeouts.For(task.Category)
	o.logger.Log("[runLoop] spawning %s for task %s (%s, %s, timeout %s)", w.ID, task.ID, task.Category, task.Priority, timeout)
	wcopy := *w
	o.emit(Event{
		Type:     EventWorkerSpawned,
		TaskID:   task.ID,
		ParentID: task.DelegatedBy,
		Category: task.Category,
		Task:     task.Clone(),
		Worker:   &wcopy,
		Message:  task.Description,
	})

	execCtx, cancel := context.WithTimeout(r.ctx, timeout)
	go func() {
		defer cancel()
		outcome, err := o.execute(execCtx, prompt, task.Category)
		// completions holds one slot per worker, so this never blocks.
		r.completions <- completion{
			workerID: w.ID,
			task:     task,
			outcome:  outcome,
			err:      err,
			finished: time.Now(),
		}
	}()
}

// buildPrompt renders the prompt, converting a panicking builder into an error.
func (o *Orchestrator) buildPrompt(task *models.Task) (prompt string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("build prompt: %v", rec)
		}
	}()
	ctx := o.store.GetContext(task.Category, o.policy.Context.Limit)
	return o.prompts.Build(task, ctx), nil
}

// execute calls the executor and returns as soon as either it answers or
// ctx ends. A call that ignores ctx is left behind rather than waited for.
func (o *Orchestrator) execute(ctx context.Context, prompt string, category models.Category) (executor.Outcome, error) {
	type result struct {
		outcome executor.Outcome
		err     error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: executor.Wrap(category, fmt.Errorf("executor panic: %v", rec))}
			}
		}()
		outcome, err := o.executor.Execute(ctx, prompt, category)
		ch <- result{outcome: outcome, err: executor.Wrap(category, err)}
	}()

	select {
	case res := <-ch:
		if res.err == nil && ctx.Err() != nil {
			// Answered after the deadline: the deadline wins.
			return executor.Outcome{}, executor.Wrap(category, ctx.Err())
		}
		return res.outcome, res.err
	case <-ctx.Done():
		return executor.Outcome{}, executor.Wrap(category, ctx.Err())
	}
}

// handleCompletion records the result of one execution.
func (o *Orchestrator) handleCompletion(c completion) {
	w := o.registry.Unregister(c.workerID)
	if w == nil {
		// Abandoned by Kill; already recorded.
		return
	}
	task := c.task
	w.EndTime = c.finished
	duration := w.EndTime.Sub(w.StartTime)

	defer func() {
		if rec := recover(); rec != nil {
			// Keep the task from staying running forever, then let guard log it.
			if t, err := o.queue.Fail(task.ID, fmt.Sprintf("internal error: %v", rec)); err == nil {
				o.emit(Event{Type: EventTaskFailed, TaskID: t.ID, Category: t.Category, Task: t, Message: t.Error})
			}
			panic(rec)
		}
	}()

	if c.err == nil && c.outcome.Success {
		o.completeTask(task, w, c.outcome.Output, duration)
		return
	}

	reason, label := failureReason(c)
	w.Status = models.TaskStatusFailed
	w.Error = reason
	wcopy := *w
	o.emit(Event{
		Type:     EventWorkerFailed,
		TaskID:   task.ID,
		ParentID: task.DelegatedBy,
		Category: task.Category,
		Worker:   &wcopy,
		Error:    c.err,
		Message:  reason,
		Duration: duration,
	})
	o.failTask(task, reason, label, duration)
}

func failureReason(c completion) (reason, label string) {
	switch {
	case c.err != nil && executor.IsTimeout(c.err):
		return c.err.Error(), "timeout"
	case c.err != nil && errors.Is(c.err, context.Canceled):
		return c.err.Error(), "cancelled"
	case c.err != nil:
		return c.err.Error(), "executor"
	case c.outcome.Error != "":
		return c.outcome.Error, "executor"
	default:
		return "executor reported failure", "executor"
	}
}

// completeTask stores the result, enqueues delegated tasks and marks the
// task completed. Children are added before the parent completes and
// depend on it, so none of them can start early.
func (o *Orchestrator) completeTask(task *models.Task, w *models.Worker, output string, duration time.Duration) {
	o.storeEntry(task, models.EntryResult, output)

	children := o.delegate(task, output)

	done, err := o.queue.Complete(task.ID, output)
	if err != nil {
		log.Printf("[orchestrator] warning: failed to complete task %s: %v", task.ID, err)
		return
	}

	w.Status = models.TaskStatusCompleted
	w.Output = output
	wcopy := *w
	o.emit(Event{
		Type:     EventWorkerCompleted,
		TaskID:   task.ID,
		ParentID: task.DelegatedBy,
		Category: task.Category,
		Worker:   &wcopy,
		Duration: duration,
	})
	o.emit(Event{
		Type:     EventTaskCompleted,
		TaskID:   done.ID,
		ParentID: done.DelegatedBy,
		Category: done.Category,
		Task:     done,
		Message:  fmt.Sprintf("completed, %d delegated", children),
		Duration: duration,
	})
	o.metrics.TaskFinished(task.Category, true, "", duration)
	o.logger.Log("[runLoop] task %s completed in %s, %d delegated", task.ID, duration, children)
}

// delegate turns the delegation requests in output into new tasks and
// returns how many were added.
func (o *Orchestrator) delegate(parent *models.Task, output string) int {
	if depth := o.delegationDepth(parent); depth >= o.policy.Loop.MaxDelegationDepth {
		o.logger.Log("[delegate] task %s at delegation depth %d, not parsing output", parent.ID, depth)
		return 0
	}

	reqs, errs := o.parser.Parse(output, parent.Category)
	for _, err := range errs {
		o.logger.Log("[delegate] task %s: %v", parent.ID, err)
	}

	added := 0
	for _, req := range reqs {
		child, err := o.queue.Add(&models.Task{
			Description:  req.Description,
			Category:     req.Target,
			Priority:     req.Priority,
			Dependencies: []string{parent.ID},
			DelegatedBy:  parent.ID,
		})
		if err != nil {
			log.Printf("[orchestrator] warning: dropped delegation from %s to %s: %v", parent.ID, req.Target, err)
			continue
		}
		added++

		source := "marker"
		if req.Rule != "" {
			source = "rule " + req.Rule
		}
		o.storeEntry(parent, models.EntryDelegation,
			fmt.Sprintf("%s to %s (task %s, %s, %s): %s", req.Kind, req.Target, child.ID, child.Priority, source, req.Description),
			string(req.Target))
		o.metrics.TaskAdded(child.Category)
		o.metrics.Delegated(string(req.Kind), req.Target)
		o.emit(Event{
			Type:     EventTaskAdded,
			TaskID:   child.ID,
			ParentID: parent.ID,
			Category: child.Category,
			Task:     child,
			Message:  child.Description,
		})
	}
	return added
}

// delegationDepth counts the DelegatedBy links above task. Parents removed
// from the queue end the walk.
func (o *Orchestrator) delegationDepth(task *models.Task) int {
	depth := 0
	seen := map[string]bool{task.ID: true}
	for parent := task.DelegatedBy; parent != "" && !seen[parent]; depth++ {
		seen[parent] = true
		t, ok := o.queue.GetByID(parent)
		if !ok {
			return depth + 1
		}
		parent = t.DelegatedBy
	}
	return depth
}

// failTask marks a task failed, records the reason and fails its dependents.
func (o *Orchestrator) failTask(task *models.Task, reason, label string, duration time.Duration) {
	failed, err := o.queue.Fail(task.ID, reason)
	if err != nil {
		log.Printf("[orchestrator] warning: failed to fail task %s: %v", task.ID, err)
		return
	}
	log.Printf("[orchestrator] task %s (%s) failed: %s", task.ID, task.Category, reason)
	o.storeEntry(task, models.EntryError, reason)
	o.metrics.TaskFinished(task.Category, false, label, duration)
	o.emit(Event{
		Type:     EventTaskFailed,
		TaskID:   failed.ID,
		ParentID: failed.DelegatedBy,
		Category: failed.Category,
		Task:     failed,
		Message:  reason,
		Duration: duration,
	})
	o.failDependents()
}

// failDependents fails pending tasks that wait on a failed task.
func (o *Orchestrator) failDependents() {
	for _, t := range o.queue.FailDependentsOfFailed() {
		log.Printf("[orchestrator] task %s (%s) failed: %s", t.ID, t.Category, t.Error)
		o.storeEntry(t, models.EntryError, t.Error)
		o.metrics.TaskAbandoned(t.Category, "dependency")
		o.emit(Event{
			Type:     EventTaskFailed,
			TaskID:   t.ID,
			ParentID: t.DelegatedBy,
			Category: t.Category,
			Task:     t,
			Message:  t.Error,
		})
	}
}

// requeueStalled charges one retry to every task waiting on dependencies
// that cannot be met by current work, failing those that reach the bound.
func (o *Orchestrator) requeueStalled() {
	idle := o.registry.Count() == 0
	for _, id := range o.queue.Stalled(idle) {
		t, err := o.queue.RequeueWithBackoff(id)
		var deadlock *models.DependencyDeadlockError
		switch {
		case errors.As(err, &deadlock):
			log.Printf("[orchestrator] task %s (%s) failed: %v", t.ID, t.Category, deadlock)
			o.storeEntry(t, models.EntryError, deadlock.Error())
			o.metrics.Deadlock(t.Category)
			o.emit(Event{Type: EventTaskDeadlocked, TaskID: t.ID, Category: t.Category, Task: t, Error: deadlock, Message: deadlock.Error()})
			o.emit(Event{Type: EventTaskFailed, TaskID: t.ID, ParentID: t.DelegatedBy, Category: t.Category, Task: t, Error: deadlock, Message: deadlock.Error()})
			o.failDependents()
		case err != nil:
			o.logger.Log("[requeue] %s: %v", id, err)
		default:
			o.logger.Log("[requeue] %s waiting on dependencies (retry %d/%d)", id, t.UnmetDependencyRetries, o.queue.MaxRetries())
		}
	}
}

// retireCompleted drops completed tasks older than the retention window.
// Dependents still see them as done.
func (o *Orchestrator) retireCompleted() {
	retention := o.policy.Loop.CompletedRetention
	if retention <= 0 {
		return
	}
	if n := o.queue.Cleanup(retention); n > 0 {
		o.logger.Log("[runLoop] retired %d completed task(s) older than %s", n, retention)
	}
}

// abandonInflight fails every task still executing after the run context
// ended. Their goroutines may still be running; their results are ignored.
func (o *Orchestrator) abandonInflight(cause error) {
	for _, w := range o.registry.All() {
		if o.registry.Unregister(w.ID) == nil {
			continue
		}
		reason := fmt.Sprintf("cancelled: %v", cause)
		w.Status = models.TaskStatusFailed
		w.EndTime = time.Now()
		w.Error = reason
		o.emit(Event{Type: EventWorkerFailed, TaskID: w.TaskID, Category: w.Category, Worker: w, Error: cause, Message: reason})

		task, ok := o.queue.GetByID(w.TaskID)
		if !ok {
			continue
		}
		o.failTask(task, reason, "cancelled", w.EndTime.Sub(w.StartTime))
	}
}

// storeEntry records a context entry for task. The task's category is
// always the first tag.
func (o *Orchestrator) storeEntry(task *models.Task, typ models.EntryType, content string, extraTags ...string) {
	tags := append([]string{string(task.Category)}, extraTags...)
	if _, err := o.store.Store(models.ContextEntry{
		ProducerID: task.ID,
		Type:       typ,
		Content:    content,
		Tags:       tags,
	}); err != nil {
		log.Printf("[orchestrator] warning: failed to store %s entry for %s: %v", typ, task.ID, err)
	}
}
