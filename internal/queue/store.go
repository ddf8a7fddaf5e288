// Package queue defines the backend-agnostic task store contract
// (spec.md §4.1): both the filesystem backend (queue/fsqueue) and the
// GitHub-Projects-fields backend (queue/ghqueue) implement Store.
package queue

import (
	"context"
	"errors"

	"github.com/flyingrobots/slaps/internal/task"
)

// ErrAlreadyMoved is returned by Transition when the source file is
// already gone — another worker won the race. Callers treat this as
// "not an error, just a lost claim", per spec.md §4.4 step 3.
var ErrAlreadyMoved = errors.New("queue: task already moved")

// Entry is a snapshot of a single task's queue-visible state.
type Entry struct {
	Issue    int
	Wave     int
	State    task.State
	WorkerID string
	Attempt  int
	Body     string
}

// Store is the shared contract from spec.md §4.1: "Both backends
// expose: list, transition, get, set_attempt, set_worker."
type Store interface {
	// List returns issue numbers currently in state for wave, sorted
	// lexicographically by the backend's on-disk/on-server filename
	// representation (spec.md §8's claim-order property).
	List(ctx context.Context, wave int, state task.State) ([]int, error)

	// Transition moves issue from one state to another. Implementations
	// reject edges task.State.CanTransitionTo forbids without mutating
	// anything (spec.md §4.1, "Invalid edges must fail without mutating").
	Transition(ctx context.Context, wave, issue int, from, to task.State, workerID string) error

	// Get loads the entry's current state, worker, and body. Attempt is
	// populated from the backend's attempt record (the attempt ledger
	// for fsqueue, the slaps-attempt-count field for ghqueue).
	Get(ctx context.Context, wave, issue int) (Entry, error)

	// SetAttempt writes the attempt counter for issue directly,
	// replacing its value instead of incrementing it.
	SetAttempt(ctx context.Context, wave, issue, n int) error

	// SetWorker reassigns the owning worker without changing state.
	SetWorker(ctx context.Context, wave, issue int, workerID string) error

	// WriteTask creates a new task file in the given state (used by wave
	// initialization to seed `blocked` entries).
	WriteTask(ctx context.Context, wave, issue int, state task.State, body string) error
}

// ClaimedLister is an optional capability a backend may implement to
// answer "what does worker W's own claimed slot currently hold?" — only
// meaningful for the filesystem backend, where a claimed slot is a real
// directory that could (by operator error or a crash mid-rename) hold
// more than one file (spec.md §4.4 step 1: "claim corruption"). The
// server-fields backend has no equivalent directory to inspect, so it
// simply doesn't implement this interface.
type ClaimedLister interface {
	ListClaimedByWorker(ctx context.Context, wave int, workerID string) ([]int, error)
}
