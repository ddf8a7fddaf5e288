// Package vcs provides the only concrete ports.VCS this module ships:
// a thin os/exec wrapper around the git binary. Like llm.CLIRunner, it
// is pure process plumbing with no policy decisions, grounded on the
// teacher's exec.CommandContext usage in pkg/health/exec.go.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git shells out to the git binary in Dir for CommitAll/Push.
type Git struct {
	Dir string
}

// New builds a Git adapter operating against the repository rooted at dir.
func New(dir string) *Git {
	return &Git{Dir: dir}
}

// CommitAll stages every change, untracked files included, and commits it. committed is
// false when there was nothing to commit, which git reports via a
// non-zero exit from "git commit" that CommitAll treats as success.
func (g *Git) CommitAll(ctx context.Context, message string) (bool, error) {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return false, fmt.Errorf("vcs: git add: %w", err)
	}

	out, err := g.run(ctx, "commit", "-m", message)
	if err == nil {
		return true, nil
	}
	if strings.Contains(out, "nothing to commit") {
		return false, nil
	}
	return false, fmt.Errorf("vcs: git commit: %w", err)
}

// Push pushes the current branch to its configured upstream. Used both
// as the end-of-wave publish step and, with NoCommitPreflight unset, as
// the coordinator's credential round-trip check (spec.md §4.8 step 1).
func (g *Git) Push(ctx context.Context) error {
	if _, err := g.run(ctx, "push"); err != nil {
		return fmt.Errorf("vcs: git push: %w", err)
	}
	return nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}
