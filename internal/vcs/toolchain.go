package vcs

import (
	"context"
	"os/exec"
)

// ToolchainChecker runs a configured command and reports failure via
// its exit code, satisfying ports.ToolchainChecker. Grounded on the
// teacher's health.ExecChecker — same exec.CommandContext shape, no
// concept of what the command actually checks.
type ToolchainChecker struct {
	Command []string
}

// NewToolchainChecker builds a checker that runs command to verify the
// wave's containerized test/lint toolchain is reachable (spec.md §4.8
// step 1). A typical command is []string{"docker", "info"}.
func NewToolchainChecker(command []string) *ToolchainChecker {
	return &ToolchainChecker{Command: command}
}

func (c *ToolchainChecker) CheckAvailable(ctx context.Context) error {
	if len(c.Command) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	return cmd.Run()
}
