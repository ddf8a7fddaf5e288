package llm

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// CLIRunner is the only concrete Runner this module ships: it shells
// out to a configured external command, feeding prompt on stdin and
// capturing stdout/stderr/exit code. It contains no prompt-rendering
// or model-selection logic — picking and invoking the actual LLM CLI
// is the out-of-scope collaborator (spec.md §1); this is just the
// process plumbing every concrete collaborator needs, grounded on the
// teacher's own exec.CommandContext usage in pkg/health/exec.go.
type CLIRunner struct {
	// Command is the binary and leading args to run for a task attempt,
	// e.g. []string{"claude", "-p"}.
	Command []string
	// EstimateCommand, if set, is used for Estimate calls instead of
	// Command. An empty slice falls back to Command.
	EstimateCommand []string
}

// NewCLIRunner builds a CLIRunner invoking command for both task
// attempts and estimate calls.
func NewCLIRunner(command []string) *CLIRunner {
	return &CLIRunner{Command: command}
}

func (r *CLIRunner) Run(ctx context.Context, prompt string) (Result, error) {
	return run(ctx, r.Command, prompt)
}

func (r *CLIRunner) Estimate(ctx context.Context, prompt string) (Result, error) {
	cmd := r.EstimateCommand
	if len(cmd) == 0 {
		cmd = r.Command
	}
	return run(ctx, cmd, prompt)
}

// run invokes command with prompt on stdin. A missing binary surfaces
// as ExitCode 127 per spec.md §4.5, not as a Go error, so callers can
// route it exactly like any other failed attempt.
func run(ctx context.Context, command []string, prompt string) (Result, error) {
	if len(command) == 0 {
		return Result{ExitCode: 127, Stderr: "llm: no command configured"}, nil
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return Result{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{ExitCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return Result{ExitCode: 127, Stderr: err.Error()}, nil
	}
	return Result{}, err
}
