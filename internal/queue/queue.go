// Package queue holds task records and answers which task may run next.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultMaxRetries is the unmet-dependency requeue bound.
const DefaultMaxRetries = 50

var (
	// ErrTaskNotFound is returned when a task ID is not in the queue.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned for a status change that would break
	// the pending -> running -> completed|failed order.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Admitter decides whether a category may start next to the running ones.
type Admitter interface {
	Admit(c models.Category, running []models.Category) (bool, string)
}

// AdmitFunc adapts a function to the Admitter interface.
type AdmitFunc func(c models.Category, running []models.Category) (bool, string)

// Admit calls f.
func (f AdmitFunc) Admit(c models.Category, running []models.Category) (bool, string) {
	return f(c, running)
}

var admitAll = AdmitFunc(func(models.Category, []models.Category) (bool, string) { return true, "" })

// Counts summarises the queue by status.
type Counts struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
}

// Total returns the number of tasks across all statuses.
func (c Counts) Total() int {
	return c.Pending + c.Running + c.Completed + c.Failed
}

// Queue is a dependency and priority aware task store. All methods are safe
// for concurrent use.
type Queue struct {
	mu sync.Mutex
	// tasks maps task ID to the stored record.
	tasks map[string]*models.Task
	// order holds task IDs in insertion order; its index is the FIFO tie-break.
	order []string
	// retired holds IDs of completed tasks removed by Cleanup, which still
	// satisfy dependencies.
	retired map[string]struct{}

	maxRetries int
	admitter   Admitter
	now        func() time.Time
	debugLog   func(format string, args ...interface{})
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxRetries sets the unmet-dependency requeue bound.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// WithAdmission sets the category admission policy used by NextReady.
func WithAdmission(a Admitter) Option {
	return func(q *Queue) {
		if a != nil {
			q.admitter = a
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(q *Queue) {
		if fn != nil {
			q.debugLog = fn
		}
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		tasks:      make(map[string]*models.Task),
		retired:    make(map[string]struct{}),
		maxRetries: DefaultMaxRetries,
		admitter:   admitAll,
		now:        time.Now,
		debugLog:   func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// MaxRetries returns the unmet-dependency requeue bound.
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Add validates and inserts a copy of task as pending. An empty ID is
// replaced with a generated one. It returns the stored copy.
func (q *Queue) Add(task *models.Task) (*models.Task, error) {
	if task == nil {
		return nil, &models.ValidationError{Field: "task", Reason: "must not be nil"}
	}
	if strings.TrimSpace(task.Description) == "" {
		return nil, &models.ValidationError{Field: "description", Reason: "must not be empty"}
	}
	if !task.Category.Valid() {
		return nil, &models.ValidationError{Field: "category", Value: string(task.Category), Reason: "is not a known category"}
	}

	t := task.Clone()
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	if !t.Priority.Valid() {
		return nil, &models.ValidationError{Field: "priority", Value: string(t.Priority), Reason: "must be low, medium or high"}
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.Dependencies = dedupe(t.Dependencies)
	t.Status = models.TaskStatusPending
	t.UnmetDependencyRetries = 0
	t.StartedAt = nil
	t.CompletedAt = nil
	t.Output = ""
	t.Error = ""

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.tasks[t.ID]; exists {
		return nil, &models.ValidationError{Field: "id", Value: t.ID, Reason: "already exists"}
	}
	if _, exists := q.retired[t.ID]; exists {
		return nil, &models.ValidationError{Field: "id", Value: t.ID, Reason: "already exists"}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = q.now()
	}

	q.tasks[t.ID] = t
	q.order = append(q.order, t.ID)
	q.debugLog("[queue] added %s category=%s priority=%s deps=%v", t.ID, t.Category, t.Priority, t.Dependencies)
	return t.Clone(), nil
}

// NextReady returns the highest priority pending task whose dependencies are
// all completed and whose category is admitted next to running. Equal
// priorities go in insertion order. The task is marked running before it is
// returned. Returns nil when nothing is ready.
func (q *Queue) NextReady(running []models.Category) *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *models.Task
	for _, id := range q.order {
		t := q.tasks[id]
		if t == nil || t.Status != models.TaskStatusPending {
			continue
		}
		// order is FIFO, so only a strictly higher rank displaces best.
		if best != nil && t.Priority.Rank() <= best.Priority.Rank() {
			continue
		}
		if !q.depsMetLocked(t) {
			continue
		}
		if ok, reason := q.admitter.Admit(t.Category, running); !ok {
			q.debugLog("[queue] skipping %s (%s): %s", t.ID, t.Category, reason)
			continue
		}
		best = t
	}

	if best == nil {
		return nil
	}

	now := q.now()
	best.Status = models.TaskStatusRunning
	best.StartedAt = &now
	return best.Clone()
}

// GetByID returns a copy of the task with the given ID.
func (q *Queue) GetByID(id string) (*models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Size returns the number of pending tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, t := range q.tasks {
		if t.Status == models.TaskStatusPending {
			n++
		}
	}
	return n
}

// RequeueWithBackoff records one more unmet-dependency retry for a task. A
// running task is put back to pending. When the retry counter reaches the
// bound the task is failed and a *models.DependencyDeadlockError is returned
// together with the failed task.
func (q *Queue) RequeueWithBackoff(id string) (*models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("requeue %s: %w", id, ErrTaskNotFound)
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("requeue %s from %s: %w", id, t.Status, ErrInvalidTransition)
	}

	if t.Status == models.TaskStatusRunning {
		t.Status = models.TaskStatusPending
		t.StartedAt = nil
	}
	t.UnmetDependencyRetries++

	if t.UnmetDependencyRetries < q.maxRetries {
		return t.Clone(), nil
	}

	deadlock := &models.DependencyDeadlockError{
		TaskID:  t.ID,
		Missing: q.unmetLocked(t),
		Retries: t.UnmetDependencyRetries,
	}
	q.failLocked(t, deadlock.Error())
	q.debugLog("[queue] %s", deadlock.Error())
	return t.Clone(), deadlock
}

// Complete marks a running task completed.
func (q *Queue) Complete(id, output string) (*models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("complete %s: %w", id, ErrTaskNotFound)
	}
	if !t.Status.CanTransitionTo(models.TaskStatusCompleted) {
		return nil, fmt.Errorf("complete %s from %s: %w", id, t.Status, ErrInvalidTransition)
	}

	now := q.now()
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &now
	t.Output = output
	return t.Clone(), nil
}

// Fail marks a pending or running task failed with the given reason.
func (q *Queue) Fail(id, reason string) (*models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("fail %s: %w", id, ErrTaskNotFound)
	}
	if !t.Status.CanTransitionTo(models.TaskStatusFailed) {
		return nil, fmt.Errorf("fail %s from %s: %w", id, t.Status, ErrInvalidTransition)
	}

	q.failLocked(t, reason)
	return t.Clone(), nil
}

// FailDependentsOfFailed fails every pending task that depends, directly or
// transitively, on a failed task. Such tasks could never become ready.
func (q *Queue) FailDependentsOfFailed() []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var failed []*models.Task
	for changed := true; changed; {
		changed = false
		for _, id := range q.order {
			t := q.tasks[id]
			if t == nil || t.Status != models.TaskStatusPending {
				continue
			}
			for _, dep := range t.Dependencies {
				d, ok := q.tasks[dep]
				if !ok || d.Status != models.TaskStatusFailed {
					continue
				}
				q.failLocked(t, fmt.Sprintf("dependency %s failed", dep))
				failed = append(failed, t.Clone())
				changed = true
				break
			}
		}
	}
	return failed
}

// Stalled returns IDs of pending tasks whose dependencies cannot be met by
// work already in the queue: at least one dependency ID is unknown. When idle
// is true, nothing is running or ready, so every pending task with an unmet
// dependency is stalled (for example a dependency cycle).
func (q *Queue) Stalled(idle bool) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for _, id := range q.order {
		t := q.tasks[id]
		if t == nil || t.Status != models.TaskStatusPending {
			continue
		}
		if q.depsMetLocked(t) {
			continue
		}
		if idle || q.hasMissingLocked(t) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Counts returns the number of tasks per status.
func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := Counts{Completed: len(q.retired)}
	for _, t := range q.tasks {
		switch t.Status {
		case models.TaskStatusPending:
			c.Pending++
		case models.TaskStatusRunning:
			c.Running++
		case models.TaskStatusCompleted:
			c.Completed++
		case models.TaskStatusFailed:
			c.Failed++
		}
	}
	return c
}

// Snapshot returns copies of every task in insertion order.
func (q *Queue) Snapshot() []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*models.Task, 0, len(q.order))
	for _, id := range q.order {
		if t, ok := q.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Cleanup removes completed tasks that finished more than olderThan ago and
// returns how many were removed. Removed tasks still satisfy dependencies.
func (q *Queue) Cleanup(olderThan time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	kept := q.order[:0]
	removed := 0
	for _, id := range q.order {
		t := q.tasks[id]
		if t.Status == models.TaskStatusCompleted && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(q.tasks, id)
			q.retired[id] = struct{}{}
			removed++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	return removed
}

// depsMetLocked reports whether every dependency of t is completed.
func (q *Queue) depsMetLocked(t *models.Task) bool {
	for _, dep := range t.Dependencies {
		if _, ok := q.retired[dep]; ok {
			continue
		}
		d, ok := q.tasks[dep]
		if !ok || d.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

func (q *Queue) hasMissingLocked(t *models.Task) bool {
	for _, dep := range t.Dependencies {
		if _, ok := q.retired[dep]; ok {
			continue
		}
		if _, ok := q.tasks[dep]; !ok {
			return true
		}
	}
	return false
}

func (q *Queue) unmetLocked(t *models.Task) []string {
	var unmet []string
	for _, dep := range t.Dependencies {
		if _, ok := q.retired[dep]; ok {
			continue
		}
		if d, ok := q.tasks[dep]; !ok || d.Status != models.TaskStatusCompleted {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

func (q *Queue) failLocked(t *models.Task, reason string) {
	now := q.now()
	t.Status = models.TaskStatusFailed
	t.CompletedAt = &now
	t.Error = reason
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
