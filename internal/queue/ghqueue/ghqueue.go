// Package ghqueue implements backend B from spec.md §4.1/§6: task state
// lives on a GitHub Projects item's fields (slaps-state, slaps-wave,
// slaps-worker, slaps-attempt-count); only claim intent is local, via
// exclusive lease files (internal/queue/lease). All server-mutating
// calls are leader-gated (spec.md §4.6): "All server-mutating work ...
// is leader-only." Non-leader processes may still read, and may still
// create local leases, but every write here is refused unless isLeader
// reports true at call time.
package ghqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/flyingrobots/slaps/internal/ghapi"
	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/queue/lease"
	"github.com/flyingrobots/slaps/internal/task"
)

// ErrNotLeader is returned by every server-mutating call when the
// current process does not hold the leader lease.
var ErrNotLeader = errors.New("ghqueue: not leader, refusing server mutation")

const (
	fieldState   = "slaps-state"
	fieldWave    = "slaps-wave"
	fieldWorker  = "slaps-worker"
	fieldAttempt = "slaps-attempt-count"
)

// Store is the server-fields queue backend.
type Store struct {
	client   ghapi.Client
	leases   *lease.Store
	isLeader func() bool
	leaseTTL time.Duration

	mu       sync.Mutex
	itemIDs  map[int]string // issue -> project item id, learned from listings
}

func New(client ghapi.Client, leases *lease.Store, isLeader func() bool, leaseTTL time.Duration) *Store {
	if isLeader == nil {
		isLeader = func() bool { return true }
	}
	return &Store{
		client:   client,
		leases:   leases,
		isLeader: isLeader,
		leaseTTL: leaseTTL,
		itemIDs:  make(map[int]string),
	}
}

func (s *Store) rememberItem(issue int, itemID string) {
	s.mu.Lock()
	s.itemIDs[issue] = itemID
	s.mu.Unlock()
}

func (s *Store) itemFor(issue int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.itemIDs[issue]
	return id, ok
}

// List returns issue numbers whose slaps-state field matches state,
// sorted lexicographically by decimal issue number, for the given wave.
func (s *Store) List(ctx context.Context, wave int, state task.State) ([]int, error) {
	items, err := s.client.ListProjectItems(ctx, wave)
	if err != nil {
		return nil, fmt.Errorf("ghqueue: list project items: %w", err)
	}
	var out []int
	for _, it := range items {
		s.rememberItem(it.Issue, it.ItemID)
		if it.State == state.String() {
			out = append(out, it.Issue)
		}
	}
	return sortedInts(out), nil
}

// Transition validates the edge. A claim (to == StateClaimed) is first
// checked against the item's server state and then raced through an
// exclusive local lease; either check returns ErrAlreadyMoved when the
// claim is lost. On the leader the new state (and, for a claim, the
// worker) is written to the server and the claim lease is released; on
// a non-leader Transition returns nil without writing to the server.
func (s *Store) Transition(ctx context.Context, wave, issue int, from, to task.State, workerID string) error {
	if !from.CanTransitionTo(to) {
		return task.ErrInvalidTransition
	}

	if to == task.StateClaimed {
		items, err := s.client.ListProjectItems(ctx, wave)
		if err != nil {
			return fmt.Errorf("ghqueue: list project items: %w", err)
		}
		for _, it := range items {
			if it.Issue == issue {
				s.rememberItem(it.Issue, it.ItemID)
				if it.State != from.String() {
					return queue.ErrAlreadyMoved
				}
			}
		}
	}

	if to == task.StateClaimed {
		rec := lease.Record{WorkerID: workerID, StartedAt: time.Now().UTC()}
		if err := s.leases.Acquire(ctx, issue, rec, s.leaseTTL); err != nil {
			if errors.Is(err, lease.ErrHeld) {
				return queue.ErrAlreadyMoved
			}
			return fmt.Errorf("ghqueue: acquire lease: %w", err)
		}
	}

	if !s.isLeader() {
		// Non-leader workers still win the local claim race above; the
		// leader reflects it into server state on its next reconcile
		// tick (spec.md §4.6).
		return nil
	}

	itemID, ok := s.itemFor(issue)
	if !ok {
		return fmt.Errorf("ghqueue: unknown project item for issue %d", issue)
	}
	if err := s.client.SetProjectField(ctx, itemID, fieldState, to.String()); err != nil {
		return fmt.Errorf("ghqueue: set state field: %w", err)
	}
	if to == task.StateClaimed {
		if err := s.client.SetProjectNumberField(ctx, itemID, fieldWorker, workerIDAsNumber(workerID)); err != nil {
			return fmt.Errorf("ghqueue: set worker field: %w", err)
		}
		_ = s.leases.Release(ctx, issue)
	}
	return nil
}

// Get loads issue's current entry from the server-fields view plus the
// raw issue body for the prompt.
func (s *Store) Get(ctx context.Context, wave, issue int) (queue.Entry, error) {
	items, err := s.client.ListProjectItems(ctx, wave)
	if err != nil {
		return queue.Entry{}, fmt.Errorf("ghqueue: list project items: %w", err)
	}
	for _, it := range items {
		if it.Issue != issue {
			continue
		}
		s.rememberItem(it.Issue, it.ItemID)
		st, ok := task.ParseState(it.State)
		if !ok {
			st = task.StateBlocked
		}
		ghIssue, err := s.client.GetIssue(ctx, issue)
		body := ""
		if err == nil {
			body = ghIssue.Body
		}
		return queue.Entry{
			Issue:    issue,
			Wave:     it.Wave,
			State:    st,
			WorkerID: fmt.Sprintf("%d", it.Worker),
			Attempt:  it.Attempt,
			Body:     body,
		}, nil
	}
	return queue.Entry{}, fmt.Errorf("ghqueue: issue %d not found in wave %d", issue, wave)
}

// SetAttempt is leader-gated, per spec.md §4.6.
func (s *Store) SetAttempt(ctx context.Context, wave, issue, n int) error {
	if !s.isLeader() {
		return ErrNotLeader
	}
	itemID, ok := s.itemFor(issue)
	if !ok {
		return fmt.Errorf("ghqueue: unknown project item for issue %d", issue)
	}
	return s.client.SetProjectNumberField(ctx, itemID, fieldAttempt, n)
}

// SetWorker is leader-gated, per spec.md §4.6.
func (s *Store) SetWorker(ctx context.Context, wave, issue int, workerID string) error {
	if !s.isLeader() {
		return ErrNotLeader
	}
	itemID, ok := s.itemFor(issue)
	if !ok {
		return fmt.Errorf("ghqueue: unknown project item for issue %d", issue)
	}
	return s.client.SetProjectNumberField(ctx, itemID, fieldWorker, workerIDAsNumber(workerID))
}

// WriteTask seeds an existing project item's fields for wave
// initialization (spec.md §4.1: "used by wave initialization to seed
// blocked entries"). The project item itself must already exist;
// ghqueue never creates GitHub issues or project items.
func (s *Store) WriteTask(ctx context.Context, wave, issue int, state task.State, body string) error {
	if !s.isLeader() {
		return ErrNotLeader
	}
	itemID, ok := s.itemFor(issue)
	if !ok {
		return fmt.Errorf("ghqueue: unknown project item for issue %d; cannot seed state", issue)
	}
	if err := s.client.SetProjectField(ctx, itemID, fieldState, state.String()); err != nil {
		return fmt.Errorf("ghqueue: seed state field: %w", err)
	}
	if err := s.client.SetProjectNumberField(ctx, itemID, fieldWave, wave); err != nil {
		return fmt.Errorf("ghqueue: seed wave field: %w", err)
	}
	return s.client.SetProjectNumberField(ctx, itemID, fieldAttempt, 0)
}

func workerIDAsNumber(workerID string) int {
	n := 0
	for _, c := range workerID {
		if c < '0' || c > '9' {
			return hashString(workerID)
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 && workerID != "0" {
		return hashString(workerID)
	}
	return n
}

// hashString gives a stable positive number field value for non-numeric
// worker ids (e.g. "worker-3"), since slaps-worker is a server number
// field (spec.md §6).
func hashString(s string) int {
	h := 2166136261
	for _, c := range s {
		h = (h ^ int(c)) * 16777619
	}
	if h < 0 {
		h = -h
	}
	return h
}

func sortedInts(in []int) []int {
	out := append([]int(nil), in...)
	sort.Slice(out, func(i, j int) bool { return strconv.Itoa(out[i]) < strconv.Itoa(out[j]) })
	return out
}

var _ queue.Store = (*Store)(nil)
