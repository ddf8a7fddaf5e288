package worker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/slaps/internal/events"
	"github.com/flyingrobots/slaps/internal/llm"
	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/task"
)

// memStore is an in-memory queue.Store double with optional
// queue.ClaimedLister support, used to exercise the worker pool
// without any filesystem I/O.
type memStore struct {
	mu      sync.Mutex
	entries map[int]queue.Entry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[int]queue.Entry)}
}

func (m *memStore) seed(issue int, state task.State, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[issue] = queue.Entry{Issue: issue, Wave: 1, State: state, Body: body}
}

func (m *memStore) List(_ context.Context, _ int, state task.State) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for issue, e := range m.entries {
		if e.State == state {
			out = append(out, issue)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (m *memStore) Transition(_ context.Context, _, issue int, from, to task.State, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[issue]
	if !ok || e.State != from {
		return queue.ErrAlreadyMoved
	}
	if !from.CanTransitionTo(to) {
		return task.ErrInvalidTransition
	}
	e.State = to
	e.WorkerID = workerID
	m.entries[issue] = e
	return nil
}

func (m *memStore) Get(_ context.Context, _, issue int) (queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[issue]
	if !ok {
		return queue.Entry{}, task.ErrTaskNotFound
	}
	return e, nil
}

func (m *memStore) SetAttempt(_ context.Context, _, issue, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[issue]
	e.Attempt = n
	m.entries[issue] = e
	return nil
}

func (m *memStore) SetWorker(_ context.Context, _, issue int, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[issue]
	e.WorkerID = workerID
	m.entries[issue] = e
	return nil
}

func (m *memStore) WriteTask(_ context.Context, _, issue int, state task.State, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[issue]
	e.Issue = issue
	e.State = state
	e.Body = body
	m.entries[issue] = e
	return nil
}

// ListClaimedByWorker makes memStore satisfy queue.ClaimedLister so
// corruption-quarantine tests can force more than one file into a slot.
func (m *memStore) ListClaimedByWorker(_ context.Context, _ int, workerID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for issue, e := range m.entries {
		if e.State == task.StateClaimed && e.WorkerID == workerID {
			out = append(out, issue)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out, nil
}

var _ queue.Store = (*memStore)(nil)
var _ queue.ClaimedLister = (*memStore)(nil)

type memPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *memPublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *memPublisher) Close() error { return nil }

func (p *memPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = string(e.Event)
	}
	return out
}

func TestPool_RunOnce_ClaimsAndCloses(t *testing.T) {
	store := newMemStore()
	store.seed(1, task.StateOpen, "do the thing")
	pub := &memPublisher{}
	exec := NewExecutor(&fakeRunner{result: resultOK()})

	p := NewPool("w", 1, 1, store, nil, exec, pub, 0, 0)
	worked, err := p.RunOnce(context.Background(), "w-0")
	require.NoError(t, err)
	assert.True(t, worked)

	entry, err := store.Get(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, task.StateClosed, entry.State)
	assert.Contains(t, pub.names(), "claimed")
	assert.Contains(t, pub.names(), "success")
}

func TestPool_RunOnce_NothingOpenReturnsFalse(t *testing.T) {
	store := newMemStore()
	exec := NewExecutor(&fakeRunner{result: resultOK()})
	p := NewPool("w", 1, 1, store, nil, exec, nil, 0, 0)

	worked, err := p.RunOnce(context.Background(), "w-0")
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestPool_RunOnce_NonZeroExitRoutesToFailedWithFooter(t *testing.T) {
	store := newMemStore()
	store.seed(2, task.StateOpen, "do the thing")
	exec := NewExecutor(&fakeRunner{result: resultFail("boom")})

	p := NewPool("w", 1, 1, store, nil, exec, nil, 0, 0)
	worked, err := p.RunOnce(context.Background(), "w-0")
	require.NoError(t, err)
	assert.True(t, worked)

	entry, err := store.Get(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailure, entry.State)
	assert.True(t, strings.Contains(entry.Body, "## FAILURE"))
	assert.True(t, strings.Contains(entry.Body, "boom"))
}

func TestPool_RunOnce_SurvivesBriefDelayUnderDefaultTimeout(t *testing.T) {
	store := newMemStore()
	store.seed(3, task.StateOpen, "slow task")
	exec := NewExecutor(&fakeRunner{delay: 20 * time.Millisecond, result: resultOK()})

	p := NewPool("w", 1, 1, store, nil, exec, nil, 0, 0)
	worked, err := p.RunOnce(context.Background(), "w-0")
	require.NoError(t, err)
	assert.True(t, worked)

	entry, gerr := store.Get(context.Background(), 1, 3)
	require.NoError(t, gerr)
	assert.Equal(t, task.StateClosed, entry.State)
}

func TestPool_RunOnce_ResumesOwnClaimedSlotBeforeClaimingNew(t *testing.T) {
	store := newMemStore()
	store.entries[5] = queue.Entry{Issue: 5, Wave: 1, State: task.StateClaimed, WorkerID: "w-0", Body: "resume me"}
	store.seed(6, task.StateOpen, "untouched")
	exec := NewExecutor(&fakeRunner{result: resultOK()})

	p := NewPool("w", 1, 1, store, nil, exec, nil, 0, 0)
	worked, err := p.RunOnce(context.Background(), "w-0")
	require.NoError(t, err)
	assert.True(t, worked)

	resumed, err := store.Get(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, task.StateClosed, resumed.State)

	untouched, err := store.Get(context.Background(), 1, 6)
	require.NoError(t, err)
	assert.Equal(t, task.StateOpen, untouched.State, "a second run_once call should claim the untouched task next")
}

func TestPool_RunOnce_QuarantinesCorruptedClaimSlotExtras(t *testing.T) {
	store := newMemStore()
	store.entries[10] = queue.Entry{Issue: 10, Wave: 1, State: task.StateClaimed, WorkerID: "w-0", Body: "first"}
	store.entries[9] = queue.Entry{Issue: 9, Wave: 1, State: task.StateClaimed, WorkerID: "w-0", Body: "second"}
	exec := NewExecutor(&fakeRunner{result: resultOK()})

	p := NewPool("w", 1, 1, store, nil, exec, nil, 0, 0)
	worked, err := p.RunOnce(context.Background(), "w-0")
	require.NoError(t, err)
	assert.True(t, worked)

	survivor, err := store.Get(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, task.StateClosed, survivor.State, "the lexicographically-first file is the one resumed")

	quarantined, err := store.Get(context.Background(), 1, 9)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailure, quarantined.State)
	assert.Contains(t, quarantined.Body, "CLAIM CORRUPTION")
}

func TestPool_StartStop_GracefulShutdown(t *testing.T) {
	store := newMemStore()
	exec := NewExecutor(&fakeRunner{result: resultOK()})
	p := NewPool("w", 2, 1, store, nil, exec, nil, time.Millisecond, 2*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	p.Stop(context.Background(), time.Second)

	assert.Equal(t, StateShuttingDown, p.State())
}

func TestPool_PauseResume(t *testing.T) {
	store := newMemStore()
	exec := NewExecutor(&fakeRunner{result: resultOK()})
	p := NewPool("w", 1, 1, store, nil, exec, nil, time.Millisecond, 2*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	p.Pause()
	assert.Equal(t, StatePaused, p.State())
	p.Resume()
	assert.Equal(t, StateBusy, p.State())
	p.Stop(context.Background(), time.Second)
}

func resultOK() llm.Result {
	return llm.Result{ExitCode: 0, Stdout: "ok"}
}

func resultFail(stderr string) llm.Result {
	return llm.Result{ExitCode: 1, Stderr: stderr}
}
