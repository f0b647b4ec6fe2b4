package orchestrator

import (
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventStarted indicates the run loop has started.
	EventStarted EventType = "started"
	// EventStopped indicates the run loop has stopped.
	EventStopped EventType = "stopped"
	// EventTaskAdded indicates a task was accepted, by a caller or by delegation.
	EventTaskAdded EventType = "task_added"
	// EventWorkerSpawned indicates a task was handed to the executor.
	EventWorkerSpawned EventType = "worker_spawned"
	// EventWorkerCompleted indicates an execution finished successfully.
	EventWorkerCompleted EventType = "worker_completed"
	// EventWorkerFailed indicates an execution failed, timed out or was abandoned.
	EventWorkerFailed EventType = "worker_failed"
	// EventTaskCompleted indicates a task reached completed.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task reached failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskDeadlocked indicates a task exhausted its unmet dependency retries.
	// It is followed by EventTaskFailed for the same task.
	EventTaskDeadlocked EventType = "task_deadlocked"
)

// Event represents an event emitted by the orchestrator.
// These events are used to update the TUI and track progress.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// ParentID is the task that delegated TaskID, if any.
	ParentID string
	// Category is the category of the related task.
	Category models.Category
	// Task is a copy of the task for task events.
	Task *models.Task
	// Worker is a copy of the execution record for worker events.
	Worker *models.Worker
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the execution time for worker completion events.
	Duration time.Duration
}
