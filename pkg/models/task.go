package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be dispatched.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates a worker is executing the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for completed and failed.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// monotonic: pending -> running -> completed|failed. A pending task may also
// fail directly (deadlock, failed dependency, kill).
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning || next == TaskStatusFailed
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// Task represents a unit of requested work.
type Task struct {
	// ID is the unique identifier for this task. Immutable once assigned.
	ID string `json:"id"`
	// Description is the work the executor is asked to perform.
	Description string `json:"description"`
	// Category selects the worker role and the dispatch rules.
	Category Category `json:"category"`
	// Priority orders ready tasks. Ties fall back to insertion order.
	Priority Priority `json:"priority"`
	// Dependencies lists task IDs that must complete before this task runs.
	// IDs that are not in the queue yet count as unmet.
	Dependencies []string `json:"dependencies,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// CreatedAt is when the task was accepted by the queue.
	CreatedAt time.Time `json:"created_at"`
	// DelegatedBy is the ID of the task whose output spawned this one.
	DelegatedBy string `json:"delegated_by,omitempty"`
	// UnmetDependencyRetries counts backoff requeues caused by unmet dependencies.
	UnmetDependencyRetries int `json:"unmet_dependency_retries,omitempty"`
	// StartedAt is when the task was dispatched, if applicable.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Output is the executor output of a completed task.
	Output string `json:"output,omitempty"`
	// Error contains the failure reason if the task failed.
	Error string `json:"error,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}
