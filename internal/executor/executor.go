// Package executor runs a single prompt against a text-generation worker.
//
// The orchestrator only needs one call shape: a prompt and a category in,
// an Outcome out. Implementations talk to the Anthropic Messages API
// (directly or through AWS Bedrock) or shell out to the claude CLI.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Outcome is the result of one execution.
type Outcome struct {
	// Success reports whether the worker finished the task.
	Success bool
	// Output is the worker's text output.
	Output string
	// Error describes why the worker did not succeed.
	Error string
}

// Executor performs the work of one task. Implementations must honour ctx
// cancellation; the orchestrator always passes a deadline.
type Executor interface {
	Execute(ctx context.Context, prompt string, category models.Category) (Outcome, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, prompt string, category models.Category) (Outcome, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, prompt string, category models.Category) (Outcome, error) {
	return f(ctx, prompt, category)
}

// ExecutorError wraps a failed or timed out execution.
type ExecutorError struct {
	Category models.Category
	// Timeout is true when the hard deadline expired.
	Timeout bool
	Err     error
}

func (e *ExecutorError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("executor (%s) timed out: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("executor (%s): %v", e.Category, e.Err)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// Wrap turns err into an *ExecutorError for category, marking deadline
// expiry as a timeout. It returns nil for nil and leaves an existing
// *ExecutorError untouched.
func Wrap(category models.Category, err error) error {
	if err == nil {
		return nil
	}
	var ee *ExecutorError
	if errors.As(err, &ee) {
		return err
	}
	return &ExecutorError{
		Category: category,
		Timeout:  errors.Is(err, context.DeadlineExceeded),
		Err:      err,
	}
}

// IsTimeout reports whether err is an executor timeout.
func IsTimeout(err error) bool {
	var ee *ExecutorError
	return errors.As(err, &ee) && ee.Timeout
}
