package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	iexec "github.com/ShayCichocki/hive/internal/exec"
	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultCLIPath is the claude binary looked up on PATH.
const DefaultCLIPath = "claude"

// DefaultAllowedTools are the tools the CLI may use without prompting.
const DefaultAllowedTools = "Read,Write,Edit,Bash,Glob,Grep,WebFetch"

// CLIConfig configures a CLIExecutor.
type CLIConfig struct {
	// Path is the claude binary. Defaults to DefaultCLIPath.
	Path string
	// WorkDir is the directory the CLI runs in.
	WorkDir string
	// Model is passed with --model when set.
	Model string
	// AllowedTools is passed with --allowedTools. Defaults to DefaultAllowedTools.
	AllowedTools string
}

// CLIExecutor runs each prompt through a one-shot `claude -p` subprocess.
type CLIExecutor struct {
	runner iexec.CommandRunner
	cfg    CLIConfig
}

// NewCLIExecutor creates a CLI executor. A nil runner uses os/exec.
func NewCLIExecutor(runner iexec.CommandRunner, cfg CLIConfig) *CLIExecutor {
	if runner == nil {
		runner = iexec.NewRunner()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultCLIPath
	}
	if cfg.AllowedTools == "" {
		cfg.AllowedTools = DefaultAllowedTools
	}
	return &CLIExecutor{runner: runner, cfg: cfg}
}

// Check verifies the binary can be found.
func (e *CLIExecutor) Check() error {
	if _, err := e.runner.LookPath(e.cfg.Path); err != nil {
		return fmt.Errorf("claude CLI not found at %q: %w", e.cfg.Path, err)
	}
	return nil
}

// Execute implements Executor. A non-zero exit is an unsuccessful Outcome
// carrying the CLI output; a cancelled or expired ctx is an error.
func (e *CLIExecutor) Execute(ctx context.Context, prompt string, category models.Category) (Outcome, error) {
	out, err := e.runner.Run(ctx, e.cfg.WorkDir, e.cfg.Path, e.args(prompt)...)
	text := strings.TrimSpace(string(out))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, Wrap(category, ctxErr)
	}
	if err != nil {
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			reason := text
			if reason == "" {
				reason = err.Error()
			}
			return Outcome{Success: false, Output: text, Error: reason}, nil
		}
		return Outcome{}, Wrap(category, fmt.Errorf("run %s: %w", e.cfg.Path, err))
	}
	if text == "" {
		return Outcome{Success: false, Error: "empty output"}, nil
	}
	return Outcome{Success: true, Output: text}, nil
}

func (e *CLIExecutor) args(prompt string) []string {
	args := []string{
		"--output-format", "text",
		"--print",
		"--allowedTools", e.cfg.AllowedTools,
	}
	if e.cfg.Model != "" {
		args = append(args, "--model", e.cfg.Model)
	}
	return append(args, "-p", prompt)
}
