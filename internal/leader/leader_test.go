package leader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLease_FirstAcquireWins(t *testing.T) {
	l, err := NewFileLease(t.TempDir(), "holder-a", time.Minute)
	require.NoError(t, err)

	won, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, won)
}

func TestFileLease_SecondHolderBlockedWhileFresh(t *testing.T) {
	root := t.TempDir()
	a, err := NewFileLease(root, "holder-a", time.Minute)
	require.NoError(t, err)
	b, err := NewFileLease(root, "holder-b", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	won, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	won, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestFileLease_SameHolderRenews(t *testing.T) {
	root := t.TempDir()
	a, err := NewFileLease(root, "holder-a", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Acquire(ctx)
	require.NoError(t, err)
	won, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestFileLease_TakeoverAfterStale(t *testing.T) {
	root := t.TempDir()
	a, err := NewFileLease(root, "holder-a", 10*time.Millisecond)
	require.NoError(t, err)
	b, err := NewFileLease(root, "holder-b", 10*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Acquire(ctx)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	won, err := b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, won, "stale heartbeat may be atomically overwritten")
}

func TestFileLease_ReleaseOnlyRemovesOwnLease(t *testing.T) {
	root := t.TempDir()
	a, err := NewFileLease(root, "holder-a", time.Minute)
	require.NoError(t, err)
	b, err := NewFileLease(root, "holder-b", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Release(ctx))

	won, err := b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, won, "holder-a's lease survives another holder's Release call")
}

type fakeLease struct {
	acquireResult bool
	acquireErr    error
	released      bool
}

func (f *fakeLease) Acquire(ctx context.Context) (bool, error) {
	return f.acquireResult, f.acquireErr
}

func (f *fakeLease) Release(ctx context.Context) error {
	f.released = true
	return nil
}

func TestElector_IsLeaderReflectsLastTick(t *testing.T) {
	fl := &fakeLease{acquireResult: true}
	e := NewElector(fl, time.Hour)
	assert.False(t, e.IsLeader())

	e.tick(context.Background())
	assert.True(t, e.IsLeader())
}

func TestElector_ErrorClearsLeadership(t *testing.T) {
	fl := &fakeLease{acquireResult: true}
	e := NewElector(fl, time.Hour)
	e.tick(context.Background())
	require.True(t, e.IsLeader())

	fl.acquireErr = errors.New("boom")
	e.tick(context.Background())
	assert.False(t, e.IsLeader())
}

func TestElector_RunReleasesOnContextCancel(t *testing.T) {
	fl := &fakeLease{acquireResult: true}
	e := NewElector(fl, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	assert.True(t, fl.released)
	assert.False(t, e.IsLeader())
}

func TestRedisLease_UnreachableServerReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
	})
	l := NewRedisLease(client, "holder-a", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx)
	assert.Error(t, err)
}

func TestRedisLeaderKeyName(t *testing.T) {
	assert.Equal(t, "slaps:leader", redisLeaderKey)
}
