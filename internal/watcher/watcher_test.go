package watcher

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/slaps/internal/closedmarker"
	"github.com/flyingrobots/slaps/internal/depgraph"
	"github.com/flyingrobots/slaps/internal/events"
	"github.com/flyingrobots/slaps/internal/ledger"
	"github.com/flyingrobots/slaps/internal/llm"
	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/task"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[int]queue.Entry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[int]queue.Entry)}
}

func (s *fakeStore) seed(wave, issue int, state task.State, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[issue] = queue.Entry{Issue: issue, Wave: wave, State: state, Body: body}
}

func (s *fakeStore) List(_ context.Context, wave int, state task.State) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for issue, e := range s.entries {
		if e.Wave == wave && e.State == state {
			out = append(out, issue)
		}
	}
	return out, nil
}

func (s *fakeStore) Transition(_ context.Context, wave, issue int, from, to task.State, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[issue]
	if !ok || e.Wave != wave || e.State != from {
		return queue.ErrAlreadyMoved
	}
	if !from.CanTransitionTo(to) {
		return task.ErrInvalidTransition
	}
	e.State = to
	e.WorkerID = workerID
	s.entries[issue] = e
	return nil
}

func (s *fakeStore) Get(_ context.Context, wave, issue int) (queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[issue]
	if !ok || e.Wave != wave {
		return queue.Entry{}, task.ErrTaskNotFound
	}
	return e, nil
}

func (s *fakeStore) SetAttempt(_ context.Context, _, issue, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[issue]
	e.Attempt = n
	s.entries[issue] = e
	return nil
}

func (s *fakeStore) SetWorker(_ context.Context, _, issue int, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[issue]
	e.WorkerID = workerID
	s.entries[issue] = e
	return nil
}

func (s *fakeStore) WriteTask(_ context.Context, wave, issue int, state task.State, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[issue]
	e.Issue = issue
	e.Wave = wave
	e.State = state
	e.Body = body
	s.entries[issue] = e
	return nil
}

var _ queue.Store = (*fakeStore)(nil)

type fakeRunner struct {
	result llm.Result
	err    error
}

func (f *fakeRunner) Run(_ context.Context, _ string) (llm.Result, error) {
	return f.result, f.err
}

func (f *fakeRunner) Estimate(_ context.Context, _ string) (llm.Result, error) {
	return llm.Result{}, nil
}

func newTestWatcher(t *testing.T, store queue.Store, graph *depgraph.Graph, runner llm.Runner) *Watcher {
	t.Helper()
	root := t.TempDir()
	closed, err := closedmarker.NewFS(root)
	require.NoError(t, err)
	led, err := ledger.NewFS(root)
	require.NoError(t, err)
	return New(store, []int{1}, closed, graph, led, runner, nil, time.Hour, 0, "")
}

func TestWatcher_ProcessClosedIssue_MarksAndUnlocksDependent(t *testing.T) {
	store := newFakeStore()
	store.seed(1, 1, task.StateClosed, "blocker done")
	store.seed(1, 2, task.StateBlocked, "dependent")

	graph := depgraph.New()
	graph.AddEdge(1, 2)
	graph.SetWave(2, 1)

	w := newTestWatcher(t, store, graph, &fakeRunner{})
	require.NoError(t, w.Tick(context.Background()))

	entry, err := store.Get(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, task.StateOpen, entry.State)
}

func TestWatcher_ProcessClosedIssue_DoesNotClobberAlreadyOpenDependent(t *testing.T) {
	store := newFakeStore()
	store.seed(1, 1, task.StateClosed, "blocker")
	store.seed(1, 2, task.StateOpen, "already open")

	graph := depgraph.New()
	graph.AddEdge(1, 2)
	graph.SetWave(2, 1)

	w := newTestWatcher(t, store, graph, &fakeRunner{})
	require.NoError(t, w.Tick(context.Background()))

	entry, err := store.Get(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, task.StateOpen, entry.State, "already-open dependent is left untouched")
}

func TestWatcher_ProcessClosedIssue_WaitsForAllBlockers(t *testing.T) {
	store := newFakeStore()
	store.seed(1, 1, task.StateClosed, "blocker A done")
	store.seed(1, 2, task.StateOpen, "blocker B still running")
	store.seed(1, 3, task.StateBlocked, "dependent on A and B")

	graph := depgraph.New()
	graph.AddEdge(1, 3)
	graph.AddEdge(2, 3)
	graph.SetWave(3, 1)

	w := newTestWatcher(t, store, graph, &fakeRunner{})
	require.NoError(t, w.Tick(context.Background()))

	entry, err := store.Get(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, task.StateBlocked, entry.State, "must not unlock until every blocker is closed")
}

func TestWatcher_ProcessFailedIssue_ReopensWithLLMRemediation(t *testing.T) {
	store := newFakeStore()
	store.seed(1, 10, task.StateFailure, "original prompt\n\n## FAILURE\nsomething broke\n")

	graph := depgraph.New()
	runner := &fakeRunner{result: llm.Result{ExitCode: 0, Stdout: "Attempt 2: Tried X, now trying Y because Z"}}

	w := newTestWatcher(t, store, graph, runner)
	require.NoError(t, w.Tick(context.Background()))

	entry, err := store.Get(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, task.StateOpen, entry.State)
	assert.Equal(t, "Attempt 2: Tried X, now trying Y because Z", entry.Body)
}

func TestWatcher_ProcessFailedIssue_FallsBackWhenLLMErrors(t *testing.T) {
	store := newFakeStore()
	store.seed(1, 11, task.StateFailure, "original prompt\n\n## FAILURE\nbroke again\n")

	graph := depgraph.New()
	runner := &fakeRunner{err: assertAnError{}}

	w := newTestWatcher(t, store, graph, runner)
	require.NoError(t, w.Tick(context.Background()))

	entry, err := store.Get(context.Background(), 1, 11)
	require.NoError(t, err)
	assert.Equal(t, task.StateOpen, entry.State)
	assert.True(t, strings.Contains(entry.Body, "Attempt 2"))
	assert.True(t, strings.Contains(entry.Body, "original prompt"))
}

func TestWatcher_ProcessFailedIssue_DeadLettersAfterThirdAttempt(t *testing.T) {
	store := newFakeStore()
	store.seed(1, 12, task.StateFailure, "original\n\n## FAILURE\nboom\n")

	graph := depgraph.New()
	w := newTestWatcher(t, store, graph, &fakeRunner{result: llm.Result{ExitCode: 0, Stdout: "next"}})

	ctx := context.Background()
	require.NoError(t, w.Tick(ctx)) // attempt 1 -> open
	entry, _ := store.Get(ctx, 1, 12)
	require.Equal(t, task.StateOpen, entry.State)

	store.seed(1, 12, task.StateFailure, "retry 1\n\n## FAILURE\nboom again\n")
	require.NoError(t, w.Tick(ctx)) // attempt 2 -> open
	entry, _ = store.Get(ctx, 1, 12)
	require.Equal(t, task.StateOpen, entry.State)

	store.seed(1, 12, task.StateFailure, "retry 2\n\n## FAILURE\nboom a third time\n")
	require.NoError(t, w.Tick(ctx)) // attempt 3 -> dead

	entry, err := store.Get(ctx, 1, 12)
	require.NoError(t, err)
	assert.Equal(t, task.StateDead, entry.State)
	assert.Contains(t, entry.Body, "DEAD LETTER")
}

func TestWatcher_Sweep_IsIdempotentAndReentrant(t *testing.T) {
	store := newFakeStore()
	store.seed(1, 1, task.StateClosed, "blocker")
	store.seed(1, 2, task.StateBlocked, "dependent")

	graph := depgraph.New()
	graph.AddEdge(1, 2)
	graph.SetWave(2, 1)

	w := newTestWatcher(t, store, graph, &fakeRunner{})
	require.NoError(t, w.Sweep(context.Background()))
	require.NoError(t, w.Sweep(context.Background()))

	entry, err := store.Get(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, task.StateOpen, entry.State)
}

func TestWatcher_Sweep_UnlocksDependentFromMarkerOnlyAcrossWaves(t *testing.T) {
	// Blocker 1 closed in an earlier wave this watcher was never scoped
	// to watch (coordinator.drainWave scopes each watcher to a single
	// wave): its only trace here is the closedmarker entry, not a
	// closed/ queue entry this store even has a wave bucket for.
	store := newFakeStore()
	store.seed(2, 2, task.StateBlocked, "dependent in a later wave")

	graph := depgraph.New()
	graph.AddEdge(1, 2)
	graph.SetWave(2, 2)

	root := t.TempDir()
	closed, err := closedmarker.NewFS(root)
	require.NoError(t, err)
	led, err := ledger.NewFS(root)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = closed.Mark(ctx, 1, time.Now())
	require.NoError(t, err)

	w := New(store, []int{2}, closed, graph, led, &fakeRunner{}, nil, time.Hour, 0, "")
	require.NoError(t, w.Sweep(ctx))

	entry, err := store.Get(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, task.StateOpen, entry.State, "marker-only blocker from an unwatched wave must still unlock the dependent")
}

func TestWatcher_EmitsMoveEventsThroughPublisher(t *testing.T) {
	store := newFakeStore()
	store.seed(1, 1, task.StateClosed, "blocker")
	store.seed(1, 2, task.StateBlocked, "dependent")

	graph := depgraph.New()
	graph.AddEdge(1, 2)
	graph.SetWave(2, 1)

	root := t.TempDir()
	closed, err := closedmarker.NewFS(root)
	require.NoError(t, err)
	led, err := ledger.NewFS(root)
	require.NoError(t, err)

	var captured []string
	pub := &capturingPublisher{onPublish: func(e *events.Event) { captured = append(captured, string(e.Event)) }}

	w := New(store, []int{1}, closed, graph, led, &fakeRunner{}, pub, time.Hour, 0, "")
	require.NoError(t, w.Tick(context.Background()))

	assert.Contains(t, captured, string(events.EventUnlockOpen))
}

type capturingPublisher struct {
	onPublish func(*events.Event)
}

func (p *capturingPublisher) Publish(_ context.Context, e *events.Event) error {
	p.onPublish(e)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

type assertAnError struct{}

func (assertAnError) Error() string { return "llm call failed" }
