package models

import "fmt"

// ValidationError reports a malformed task submission.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid task: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid task: %s %q %s", e.Field, e.Value, e.Reason)
}

// DependencyDeadlockError reports a task whose dependencies stayed unmet for
// the whole retry budget.
type DependencyDeadlockError struct {
	TaskID  string
	Missing []string
	Retries int
}

func (e *DependencyDeadlockError) Error() string {
	return fmt.Sprintf("dependency deadlock: task %s still waiting on %v after %d retries", e.TaskID, e.Missing, e.Retries)
}
