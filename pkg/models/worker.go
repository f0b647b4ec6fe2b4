package models

import "time"

// Worker is the execution record for one task while an executor runs it.
// It is owned by the orchestrator and dropped once the task is reported.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// TaskID is the task this worker executes.
	TaskID string `json:"task_id"`
	// Category is the category of the task.
	Category Category `json:"category"`
	// Status mirrors the owning task's status.
	Status TaskStatus `json:"status"`
	// StartTime is when execution began.
	StartTime time.Time `json:"start_time"`
	// EndTime is when execution finished; zero while running.
	EndTime time.Time `json:"end_time,omitempty"`
	// Output is the executor output, set on success.
	Output string `json:"output,omitempty"`
	// Error is the failure reason, set on failure.
	Error string `json:"error,omitempty"`
}

// Duration returns how long the worker ran, or has been running.
func (w *Worker) Duration() time.Duration {
	if w.EndTime.IsZero() {
		return time.Since(w.StartTime)
	}
	return w.EndTime.Sub(w.StartTime)
}
