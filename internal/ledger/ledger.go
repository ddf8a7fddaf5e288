// Package ledger implements C3, the per-issue attempt ledger: a
// monotonically increasing failure counter persisted across process
// restarts, plus the human-readable reason log and dead-letter footer
// described in spec.md §4.3.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Ledger tracks failed attempts per issue and the prose reason log that
// accumulates alongside them.
type Ledger interface {
	// Get returns the current attempt count for issue (0 if never failed).
	Get(ctx context.Context, issue int) (int, error)

	// Increment records one more failed attempt and returns the new count.
	// Called exactly once per routed failure, before any remediation
	// prompt is composed (spec.md §4.3).
	Increment(ctx context.Context, issue int) (int, error)

	// Set overwrites the attempt counter directly, used by the queue
	// store's set_attempt contract (spec.md §4.1) when restoring an
	// already-computed value rather than incrementing.
	Set(ctx context.Context, issue, n int) error

	// AppendReason appends one "Attempt number N" paragraph to the
	// issue's reason log. Append failures are swallowed after a single
	// attempt (spec.md §7); callers should not treat a returned error as
	// fatal.
	AppendReason(ctx context.Context, issue int, attempt int, reason string) error
}

// DeadLetterFooter is the terminal marker appended to a task body when its
// third failed attempt lands (spec.md §4.3, §8 seed test 3).
func DeadLetterFooter(issue int, at time.Time) string {
	return fmt.Sprintf("\n\n## DEAD LETTER: issue %d exhausted %d attempts at %s\n",
		issue, 3, at.UTC().Format(time.RFC3339))
}

// ReasonParagraph formats one entry in the per-issue reason log
// (spec.md §4.3: "a human-readable reason log per issue accumulates
// 'Attempt number N' paragraphs").
func ReasonParagraph(attempt int, reason string) string {
	return fmt.Sprintf("Attempt number %d: %s\n", attempt, reason)
}
