// Package leader implements C6: the heartbeat-based single-writer guard
// described in spec.md §4.6, used only by the server-fields backend.
// Any watcher whose process reads a stale heartbeat (older than TTL)
// may atomically overwrite it with its own to become leader; otherwise
// it stands down and performs no server-mutating work that tick.
package leader

import (
	"context"
	"sync"
	"time"
)

// Lease is the leader-election transport. Both implementations make
// "become leader" and "renew leadership" the same call: Acquire.
type Lease interface {
	// Acquire attempts to become (or remain) leader, returning whether
	// this call won. A lost Acquire means another holder's heartbeat is
	// still fresh.
	Acquire(ctx context.Context) (bool, error)

	// Release gives up leadership early, e.g. during graceful shutdown.
	Release(ctx context.Context) error
}

// Elector runs a periodic Acquire loop and exposes the current
// leadership state to server-mutating components (e.g. ghqueue.Store's
// isLeader callback).
type Elector struct {
	lease    Lease
	interval time.Duration

	mu       sync.RWMutex
	isLeader bool
}

func NewElector(lease Lease, interval time.Duration) *Elector {
	return &Elector{lease: lease, interval: interval}
}

// IsLeader reports the most recently observed leadership state. Safe
// to pass directly as ghqueue.New's isLeader callback.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

func (e *Elector) setLeader(v bool) {
	e.mu.Lock()
	e.isLeader = v
	e.mu.Unlock()
}

// Run drives the acquire loop until ctx is done, blocking the caller.
// Intended to run in its own goroutine from the watcher's main loop.
func (e *Elector) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			_ = e.lease.Release(context.Background())
			e.setLeader(false)
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Elector) tick(ctx context.Context) {
	won, err := e.lease.Acquire(ctx)
	if err != nil {
		e.setLeader(false)
		return
	}
	e.setLeader(won)
}
