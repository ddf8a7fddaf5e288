package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_FirstWinsSecondFails(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	rec := Record{WorkerID: "w1", PID: 100, StartedAt: time.Now(), EstTimeoutSec: 60}
	require.NoError(t, s.Acquire(ctx, 1, rec, time.Minute))

	err = s.Acquire(ctx, 1, Record{WorkerID: "w2", StartedAt: time.Now()}, time.Minute)
	assert.ErrorIs(t, err, ErrHeld)
}

func TestAcquire_StaleLeaseIsReaped(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	old := Record{WorkerID: "w1", StartedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, s.Acquire(ctx, 1, old, time.Minute))

	err = s.Acquire(ctx, 1, Record{WorkerID: "w2", StartedAt: time.Now()}, time.Minute)
	assert.NoError(t, err)

	got, ok := s.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "w2", got.WorkerID)
}

func TestRelease_RemovesLease(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx, 5, Record{WorkerID: "w1", StartedAt: time.Now()}, time.Minute))
	require.NoError(t, s.Release(ctx, 5))

	_, ok := s.Get(ctx, 5)
	assert.False(t, ok)
}

func TestRelease_MissingLeaseIsNotAnError(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.Release(context.Background(), 999))
}

func TestStale_ListsOnlyExpiredLeases(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx, 1, Record{WorkerID: "w1", StartedAt: time.Now().Add(-time.Hour)}, time.Hour*2))
	require.NoError(t, s.Acquire(ctx, 2, Record{WorkerID: "w2", StartedAt: time.Now()}, time.Hour*2))

	stale, err := s.Stale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, stale)
}
