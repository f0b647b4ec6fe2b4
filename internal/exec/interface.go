// Package exec runs external commands behind an interface so callers can
// substitute a fake in tests.
package exec

import (
	"context"
)

// CommandRunner runs external commands.
type CommandRunner interface {
	// Run executes name with args and returns combined stdout/stderr.
	// The working directory is set to workDir if non-empty. Cancelling ctx
	// kills the process.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// LookPath resolves an executable name through PATH.
	LookPath(name string) (string, error)
}
