package models

import (
	"errors"
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"running is valid", TaskStatusRunning, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
		{"old in_progress is invalid", TaskStatus("in_progress"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusPending, TaskStatusRunning, true},
		{TaskStatusPending, TaskStatusFailed, true},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusPending, false},
		{TaskStatusCompleted, TaskStatusFailed, false},
		{TaskStatusCompleted, TaskStatusRunning, false},
		{TaskStatusFailed, TaskStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	if TaskStatusPending.Terminal() || TaskStatusRunning.Terminal() {
		t.Error("pending and running must not be terminal")
	}
	if !TaskStatusCompleted.Terminal() || !TaskStatusFailed.Terminal() {
		t.Error("completed and failed must be terminal")
	}
}

func TestTask_Clone(t *testing.T) {
	now := time.Now()
	orig := &Task{
		ID:           "t1",
		Dependencies: []string{"a", "b"},
		StartedAt:    &now,
	}

	c := orig.Clone()
	c.Dependencies[0] = "changed"
	*c.StartedAt = now.Add(time.Hour)

	if orig.Dependencies[0] != "a" {
		t.Errorf("clone shares dependency slice with original")
	}
	if !orig.StartedAt.Equal(now) {
		t.Errorf("clone shares StartedAt with original")
	}

	var nilTask *Task
	if nilTask.Clone() != nil {
		t.Error("Clone of nil task should be nil")
	}
}

func TestValidationError(t *testing.T) {
	var err error = &ValidationError{Field: "category", Value: "wizard", Reason: "is not a known category"}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected errors.As to find ValidationError")
	}
	want := `invalid task: category "wizard" is not a known category`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	empty := &ValidationError{Field: "description", Reason: "must not be empty"}
	if empty.Error() != "invalid task: description must not be empty" {
		t.Errorf("unexpected message %q", empty.Error())
	}
}

func TestDependencyDeadlockError(t *testing.T) {
	err := &DependencyDeadlockError{TaskID: "t3", Missing: []string{"ghost"}, Retries: 50}
	want := "dependency deadlock: task t3 still waiting on [ghost] after 50 retries"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
