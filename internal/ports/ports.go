// Package ports declares the capability interfaces the wave coordinator
// (C8) depends on but does not implement: source control and the
// Quality Guardian. Both are external collaborators per spec.md §4.8 —
// "only the capability interface matters", the same stance taken by
// internal/ghapi for the GitHub transport and internal/llm for the
// LLM runner.
package ports

import "context"

// VCS is the capability port for the commit/push round-trip the
// coordinator performs during preflight and after a wave's Quality
// Guardian pass (spec.md §4.8 steps 1 and 6).
type VCS interface {
	// CommitAll stages every pending change and commits it with message,
	// returning false (no error) if there was nothing to commit.
	CommitAll(ctx context.Context, message string) (committed bool, err error)
	// Push pushes the current branch to its configured upstream.
	Push(ctx context.Context) error
}

// QualityGuardian is the external agent invoked once per wave (spec.md
// §4.8 step 5): "runs the containerized test suite, fixes regressions,
// commits locally." Its exit code is propagated by the caller.
type QualityGuardian interface {
	// Run executes one guardian pass scoped to wave and returns the
	// process exit code. A non-nil error means the guardian could not
	// even be invoked (missing binary, etc.) and is treated identically
	// to a nonzero exit code by the coordinator.
	Run(ctx context.Context, wave int) (exitCode int, err error)
}

// ToolchainChecker verifies the containerized test/lint toolchain a
// wave's Quality Guardian will need is actually reachable (spec.md
// §4.8 step 1's preflight). A nil Checker skips this check entirely.
type ToolchainChecker interface {
	CheckAvailable(ctx context.Context) error
}

// FollowUpCollector gathers the follow-up notes workers enqueued in
// their logs during a wave (spec.md §4.8 step 3) and clears them once
// read, so a second pass never replays the same notes.
type FollowUpCollector interface {
	CollectAndClear(ctx context.Context, wave int) ([]string, error)
}
