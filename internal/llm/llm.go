// Package llm declares the capability interface to the external LLM CLI.
// Execution itself is explicitly out of scope (spec.md §1): "an external
// CLI returning exit code plus stdout/stderr". Only the port matters here.
package llm

import "context"

// GuardrailPrefix is prepended to every task prompt before invocation, per
// spec.md §4.4 step 4: "a hard guardrail prefix (forbidding VCS operations)".
const GuardrailPrefix = "Do not run git, gh, or any version control command. " +
	"Do not push, commit, or open pull requests. Perform only the work described below.\n\n"

// Result is what a single invocation reports back.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Succeeded reports whether the invocation's exit code was 0.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Runner is the capability port workers and the watcher invoke through.
// A missing binary surfaces as ExitCode 127 (spec.md §4.5: "missing LLM
// binary surfaces as exit code 127 and is indistinguishable from a
// failed task") rather than a Go error, so routing logic stays uniform.
type Runner interface {
	// Run executes prompt as a single task attempt, bounded by the
	// context's deadline (spec.md §4.9's per-invocation timeout).
	Run(ctx context.Context, prompt string) (Result, error)

	// Estimate asks the LLM for an integer-minutes duration estimate
	// without performing the task (spec.md §4.9).
	Estimate(ctx context.Context, prompt string) (Result, error)
}
