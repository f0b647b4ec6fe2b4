package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/ShayCichocki/hive/internal/ctxstore"
	"github.com/ShayCichocki/hive/internal/delegation"
	"github.com/ShayCichocki/hive/internal/executor"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/orchestrator/policy"
	"github.com/ShayCichocki/hive/internal/queue"
	"github.com/ShayCichocki/hive/pkg/models"
)

var (
	// ErrAlreadyRunning is returned by Start when a run is in progress.
	ErrAlreadyRunning = errors.New("orchestrator is already running")
	// ErrNotRunning is returned by Stop when no run is in progress.
	ErrNotRunning = errors.New("orchestrator is not running")
)

// State is the lifecycle state of the run loop.
type State string

const (
	// StateStopped means no loop is running.
	StateStopped State = "stopped"
	// StateRunning means the loop is dispatching work.
	StateRunning State = "running"
	// StateDraining means Stop was called; the loop waits for in-flight
	// executions and dispatches nothing new.
	StateDraining State = "draining"
)

// Status is a point-in-time summary of the orchestrator.
type Status struct {
	Running        bool
	State          State
	Paused         bool
	ActiveCount    int
	PendingCount   int
	CompletedCount int
	FailedCount    int
	DroppedEvents  uint64
}

// run holds the channels of one Start..Stopped cycle.
type run struct {
	ctx         context.Context
	cancel      context.CancelFunc
	stopCh      chan struct{}
	done        chan struct{}
	completions chan completion
	err         error
}

// Orchestrator owns the task queue and context store and runs the loop that
// dispatches tasks to the executor.
type Orchestrator struct {
	executor       executor.Executor
	queue          *queue.Queue
	store          *ctxstore.Store
	parser         *delegation.Parser
	prompts        PromptBuilder
	policy         *policy.Config
	maxConcurrency int
	exitWhenIdle   bool

	logger   *DebugLogger
	metrics  *metrics.Metrics
	emitter  *EventEmitter
	registry *WorkerRegistry

	// wake is signalled by submissions and Resume.
	wake   chan struct{}
	paused atomic.Bool

	// mu protects state and current.
	mu      sync.Mutex
	state   State
	current *run
}

// New creates an Orchestrator.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if req.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	o := &orchestratorOptions{}
	for _, opt := range opts {
		opt(o)
	}

	pol := o.policyConfig
	if pol == nil {
		pol = policy.Default()
	}
	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	maxConcurrency := o.maxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	eventBuffer := o.eventBuffer
	if eventBuffer <= 0 {
		eventBuffer = DefaultEventBuffer
	}
	logger := o.logger
	if logger == nil {
		logger = NopLogger()
	}

	q := o.queue
	if q == nil {
		q = queue.New(
			queue.WithMaxRetries(pol.Loop.MaxUnmetRetries),
			queue.WithAdmission(pol.Dispatch),
			queue.WithDebugLog(logger.Log),
		)
	}
	store := o.store
	if store == nil {
		store = ctxstore.New(nil, ctxstore.WithSummaryLength(pol.Context.SummaryLength))
	}
	parser := o.parser
	if parser == nil {
		parser = delegation.New()
	}
	prompts := o.prompts
	if prompts == nil {
		prompts = DefaultPromptBuilder{}
	}

	return &Orchestrator{
		executor:       req.Executor,
		queue:          q,
		store:          store,
		parser:         parser,
		prompts:        prompts,
		policy:         pol,
		maxConcurrency: maxConcurrency,
		exitWhenIdle:   !o.keepAlive,
		logger:         logger,
		metrics:        o.metrics,
		emitter:        NewEventEmitter(eventBuffer),
		registry:       NewWorkerRegistry(),
		wake:           make(chan struct{}, 1),
		state:          StateStopped,
	}, nil
}

// Start launches the run loop and returns immediately. Cancelling ctx has
// the same effect as Kill.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStopped {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:         runCtx,
		cancel:      cancel,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		completions: make(chan completion, o.maxConcurrency),
	}
	o.current = r
	o.state = StateRunning
	o.mu.Unlock()

	log.Printf("[orchestrator] started (max concurrency %d)", o.maxConcurrency)
	o.emit(Event{Type: EventStarted})

	go o.loop(r)
	return nil
}

// Run starts the loop and waits for it to stop.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	return o.Wait()
}

// Wait blocks until the current run has stopped and returns its error:
// nil after Stop or an idle exit, the context error after Kill.
func (o *Orchestrator) Wait() error {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()

	if r == nil {
		return nil
	}
	<-r.done
	return r.err
}

// Stop stops dispatching new work and waits, bounded by ctx, for every
// in-flight execution to be recorded. The context store is flushed before
// the loop reports stopped. If ctx expires first the loop keeps draining
// and ctx's error is returned; Kill can then abandon the remaining work.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	r := o.current
	switch o.state {
	case StateStopped:
		o.mu.Unlock()
		return ErrNotRunning
	case StateRunning:
		o.state = StateDraining
		close(r.stopCh)
		log.Printf("[orchestrator] stopping, waiting for %d in-flight task(s)", o.registry.Count())
	}
	o.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill cancels the run immediately. In-flight executor calls are
// abandoned: they are not waited for, their results are discarded and
// their tasks are marked failed. Nothing they already did is rolled back.
// Kill does not wait for the loop; use Wait.
func (o *Orchestrator) Kill() {
	o.mu.Lock()
	r := o.current
	running := o.state != StateStopped
	o.mu.Unlock()

	if r != nil && running {
		log.Printf("[orchestrator] killed, abandoning %d in-flight task(s)", o.registry.Count())
		r.cancel()
	}
}

// Pause stops dispatching new tasks. In-flight executions continue.
func (o *Orchestrator) Pause() {
	if !o.paused.Swap(true) {
		log.Printf("[orchestrator] paused - no new tasks will be dispatched")
	}
}

// Resume undoes Pause.
func (o *Orchestrator) Resume() {
	if o.paused.Swap(false) {
		log.Printf("[orchestrator] resumed - dispatch enabled")
		o.signal()
	}
}

// AddTask submits a new task and returns its ID.
func (o *Orchestrator) AddTask(description string, category models.Category, priority models.Priority, deps []string) (string, error) {
	return o.Submit(&models.Task{
		Description:  description,
		Category:     category,
		Priority:     priority,
		Dependencies: deps,
	})
}

// Submit adds a copy of task to the queue and returns its ID. It is safe to
// call while the loop is running. Invalid tasks are rejected with a
// *models.ValidationError.
func (o *Orchestrator) Submit(task *models.Task) (string, error) {
	added, err := o.queue.Add(task)
	if err != nil {
		return "", err
	}
	o.logger.Log("[submit] %s (%s, %s) deps=%v", added.ID, added.Category, added.Priority, added.Dependencies)
	o.metrics.TaskAdded(added.Category)
	o.emit(Event{
		Type:     EventTaskAdded,
		TaskID:   added.ID,
		ParentID: added.DelegatedBy,
		Category: added.Category,
		Task:     added,
		Message:  added.Description,
	})
	o.signal()
	return added.ID, nil
}

// GetStatus returns the current counts. It is safe to call at any time.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	counts := o.queue.Counts()
	return Status{
		Running:        state != StateStopped,
		State:          state,
		Paused:         o.paused.Load(),
		ActiveCount:    o.registry.Count(),
		PendingCount:   counts.Pending,
		CompletedCount: counts.Completed,
		FailedCount:    counts.Failed,
		DroppedEvents:  o.emitter.DroppedCount(),
	}
}

// Task returns a copy of a task.
func (o *Orchestrator) Task(id string) (*models.Task, bool) {
	return o.queue.GetByID(id)
}

// Tasks returns copies of every task in submission order.
func (o *Orchestrator) Tasks() []*models.Task {
	return o.queue.Snapshot()
}

// Workers returns copies of the executions in flight.
func (o *Orchestrator) Workers() []*models.Worker {
	return o.registry.All()
}

// ContextStore returns the store results are recorded in.
func (o *Orchestrator) ContextStore() *ctxstore.Store {
	return o.store
}

// Events returns the notification channel. It is never closed; a run ends
// with EventStopped.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

func (o *Orchestrator) emit(e Event) {
	o.emitter.Emit(e)
}

// signal wakes the loop without blocking. One pending signal is enough.
func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// loop runs one cycle of the run loop and records its end.
func (o *Orchestrator) loop(r *run) {
	err := o.runLoop(r)

	if ferr := o.store.Flush(); ferr != nil {
		log.Printf("[orchestrator] warning: failed to flush context store: %v", ferr)
	}
	r.cancel()

	counts := o.queue.Counts()
	o.mu.Lock()
	o.state = StateStopped
	r.err = err
	o.mu.Unlock()

	log.Printf("[orchestrator] stopped: %d completed, %d failed, %d pending", counts.Completed, counts.Failed, counts.Pending)
	o.metrics.SetLoad(0, counts.Pending)
	o.emit(Event{
		Type:    EventStopped,
		Error:   err,
		Message: fmt.Sprintf("%d completed, %d failed, %d pending", counts.Completed, counts.Failed, counts.Pending),
	})
	close(r.done)
}
