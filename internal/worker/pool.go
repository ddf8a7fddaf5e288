package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/flyingrobots/slaps/internal/estimator"
	"github.com/flyingrobots/slaps/internal/events"
	"github.com/flyingrobots/slaps/internal/logger"
	"github.com/flyingrobots/slaps/internal/metrics"
	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/task"
)

// State represents the worker pool's current operational state
type State int

const (
	StateIdle         State = iota // Not processing, waiting to start
	StateBusy                      // Actively processing tasks
	StatePaused                    // Temporarily stopped, can resume
	StateShuttingDown              // Gracefully stopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

const defaultTimeout = 20 * time.Minute

// Pool runs Count single-slotted worker loops (spec.md §4.4: "at most
// one task in flight") against one wave of one queue.Store. A worker
// never mutates dependencies or attempt counts directly; that is the
// watcher's responsibility.
type Pool struct {
	baseID string
	count  int
	wave   int
	store  queue.Store
	estim  *estimator.Estimator
	exec   *Executor
	pub    events.Publisher
	jitMin time.Duration
	jitMax time.Duration

	state   State
	stateMu sync.RWMutex

	wg       sync.WaitGroup
	stopCh   chan struct{}
	pauseCh  chan struct{}
	resumeCh chan struct{}
}

// NewPool builds a pool that will spawn count worker slots named
// "<baseID>-<n>" against wave.
func NewPool(baseID string, count, wave int, store queue.Store, estim *estimator.Estimator, exec *Executor, pub events.Publisher, jitterMin, jitterMax time.Duration) *Pool {
	if count <= 0 {
		count = 1
	}
	return &Pool{
		baseID:   baseID,
		count:    count,
		wave:     wave,
		store:    store,
		estim:    estim,
		exec:     exec,
		pub:      pub,
		jitMin:   jitterMin,
		jitMax:   jitterMax,
		state:    StateIdle,
		stopCh:   make(chan struct{}),
		pauseCh:  make(chan struct{}),
		resumeCh: make(chan struct{}),
	}
}

// Start spawns count worker goroutines, one per slot.
func (p *Pool) Start(ctx context.Context) {
	p.stateMu.Lock()
	p.state = StateBusy
	p.stateMu.Unlock()

	metrics.SetActiveWorkers(float64(p.count))
	for i := 0; i < p.count; i++ {
		workerID := fmt.Sprintf("%s-%d", p.baseID, i)
		p.wg.Add(1)
		go p.worker(ctx, workerID)
	}

	logger.Info().
		Str("worker_id", p.baseID).
		Int("count", p.count).
		Int("wave", p.wave).
		Msg("worker pool started")
}

// Stop signals every slot to finish its current task and exit, waiting
// up to timeout before giving up.
func (p *Pool) Stop(ctx context.Context, timeout time.Duration) {
	p.stateMu.Lock()
	p.state = StateShuttingDown
	p.stateMu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Str("worker_id", p.baseID).Msg("worker pool stopped gracefully")
	case <-time.After(timeout):
		logger.Warn().Str("worker_id", p.baseID).Msg("worker pool shutdown timed out")
	case <-ctx.Done():
		logger.Warn().Str("worker_id", p.baseID).Msg("worker pool shutdown canceled")
	}
	metrics.SetActiveWorkers(0)
}

// Pause stops slots from claiming new work; in-flight tasks still run
// to completion.
func (p *Pool) Pause() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.state == StateBusy {
		p.state = StatePaused
		close(p.pauseCh)
		p.pauseCh = make(chan struct{})
		logger.Info().Str("worker_id", p.baseID).Msg("worker pool paused")
	}
}

// Resume continues task processing after a pause.
func (p *Pool) Resume() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.state == StatePaused {
		p.state = StateBusy
		close(p.resumeCh)
		p.resumeCh = make(chan struct{})
		logger.Info().Str("worker_id", p.baseID).Msg("worker pool resumed")
	}
}

// State returns the current worker pool state.
func (p *Pool) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// worker is the main loop for one slot.
func (p *Pool) worker(ctx context.Context, workerID string) {
	defer p.wg.Done()

	log := logger.WithWorker(workerID)
	log.Info().Msg("worker slot started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		if p.State() == StatePaused {
			select {
			case <-p.resumeCh:
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		worked, err := p.RunOnce(ctx, workerID)
		if err != nil {
			log.Error().Err(err).Msg("run_once failed")
		}
		if !worked {
			p.idleSleep(ctx)
		}
	}
}

func (p *Pool) idleSleep(ctx context.Context) {
	jitter := p.jitMin
	if p.jitMax > p.jitMin {
		jitter += time.Duration(rand.Int63n(int64(p.jitMax - p.jitMin)))
	}
	select {
	case <-time.After(jitter):
	case <-p.stopCh:
	case <-ctx.Done():
	}
}

// RunOnce implements run_once() from spec.md §4.4: does at most one
// unit of work and reports whether work occurred.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	if worked, err := p.resumeOwnClaimedSlot(ctx, workerID); worked || err != nil {
		return worked, err
	}
	return p.claimAndRun(ctx, workerID)
}

// resumeOwnClaimedSlot handles step 1 of spec.md §4.4: if this worker's
// own claimed slot already holds a file (e.g. from a crash mid-task),
// quarantine any extras and resume the single survivor instead of
// claiming something new.
func (p *Pool) resumeOwnClaimedSlot(ctx context.Context, workerID string) (bool, error) {
	lister, ok := p.store.(queue.ClaimedLister)
	if !ok {
		return false, nil
	}
	issues, err := lister.ListClaimedByWorker(ctx, p.wave, workerID)
	if err != nil {
		return false, fmt.Errorf("worker: list claimed slot: %w", err)
	}
	if len(issues) == 0 {
		return false, nil
	}

	survivor := issues[0]
	for _, extra := range issues[1:] {
		if err := p.quarantineCorrupted(ctx, workerID, extra); err != nil {
			logger.WithWorker(workerID).Error().Err(err).Int("issue", extra).Msg("failed to quarantine corrupted claim")
		}
	}
	return true, p.runClaimedTask(ctx, workerID, survivor)
}

// quarantineCorrupted routes an extra file found in a worker's own
// claimed slot straight to failed with an explanatory footer, per
// spec.md §4.4 step 1.
func (p *Pool) quarantineCorrupted(ctx context.Context, workerID string, issue int) error {
	entry, err := p.store.Get(ctx, p.wave, issue)
	if err != nil {
		return err
	}
	if err := p.store.Transition(ctx, p.wave, issue, task.StateClaimed, task.StateFailure, workerID); err != nil {
		return err
	}
	footer := fmt.Sprintf("\n\n## CLAIM CORRUPTION\nExtra file found in claimed slot for worker %s.\n", workerID)
	return p.store.WriteTask(ctx, p.wave, issue, task.StateFailure, entry.Body+footer)
}

// claimAndRun implements steps 2-3 of spec.md §4.4: scan the open
// listing in lexicographic order and race to claim the first candidate.
func (p *Pool) claimAndRun(ctx context.Context, workerID string) (bool, error) {
	open, err := p.store.List(ctx, p.wave, task.StateOpen)
	if err != nil {
		return false, fmt.Errorf("worker: list open: %w", err)
	}

	for _, issue := range open {
		err := p.store.Transition(ctx, p.wave, issue, task.StateOpen, task.StateClaimed, workerID)
		if err != nil {
			if errors.Is(err, queue.ErrAlreadyMoved) {
				metrics.WorkerClaimRaces.Inc()
				continue
			}
			return false, fmt.Errorf("worker: claim issue %d: %w", issue, err)
		}
		metrics.RecordTaskClaim(workerID)
		p.emit(ctx, events.EventClaimed, events.MoveFields(issue, task.StateOpen.String(), task.StateClaimed.String(), workerID, "", nil))
		return true, p.runClaimedTask(ctx, workerID, issue)
	}
	return false, nil
}

// runClaimedTask implements steps 4-6 of spec.md §4.4: estimate,
// invoke with the guardrail prefix, and route by exit code.
func (p *Pool) runClaimedTask(ctx context.Context, workerID string, issue int) error {
	entry, err := p.store.Get(ctx, p.wave, issue)
	if err != nil {
		return fmt.Errorf("worker: load claimed entry %d: %w", issue, err)
	}

	timeout := defaultTimeout
	if p.estim != nil {
		est, estErr := p.estim.Estimate(ctx, issue, entry.Attempt, entry.Body)
		if estErr != nil {
			logger.WithIssue(issue).Warn().Err(estErr).Msg("estimate failed, using default timeout")
		} else {
			timeout = time.Duration(est.TimeoutSec) * time.Second
		}
	}

	start := time.Now()
	result, execErr := p.exec.Execute(ctx, issue, entry.Body, timeout)
	elapsed := time.Since(start)
	metrics.RecordWorkerBusyTime(workerID, elapsed.Seconds())

	if execErr != nil {
		// Any classified executor error (timeout, cancellation, runner
		// panic) routes exactly like a nonzero exit code.
		return p.routeFailure(ctx, workerID, issue, entry, execErr.Error())
	}
	if result.Succeeded() {
		return p.routeSuccess(ctx, workerID, issue, elapsed)
	}
	return p.routeFailure(ctx, workerID, issue, entry, result.Stderr)
}

func (p *Pool) routeSuccess(ctx context.Context, workerID string, issue int, elapsed time.Duration) error {
	if err := p.store.Transition(ctx, p.wave, issue, task.StateClaimed, task.StateClosed, workerID); err != nil {
		return fmt.Errorf("worker: close issue %d: %w", issue, err)
	}
	metrics.RecordTaskClosed(strconv.Itoa(p.wave), elapsed.Seconds())
	rc := 0
	p.emit(ctx, events.EventSuccess, events.MoveFields(issue, task.StateClaimed.String(), task.StateClosed.String(), workerID, "success", &rc))
	return nil
}

func (p *Pool) routeFailure(ctx context.Context, workerID string, issue int, entry queue.Entry, reason string) error {
	if err := p.store.Transition(ctx, p.wave, issue, task.StateClaimed, task.StateFailure, workerID); err != nil {
		return fmt.Errorf("worker: fail issue %d: %w", issue, err)
	}
	footer := fmt.Sprintf("\n\n## FAILURE\n%s\n", reason)
	if err := p.store.WriteTask(ctx, p.wave, issue, task.StateFailure, entry.Body+footer); err != nil {
		return fmt.Errorf("worker: append failure footer %d: %w", issue, err)
	}
	metrics.RecordTaskFailed(strconv.Itoa(p.wave), entry.Attempt)
	rc := 1
	p.emit(ctx, events.EventMove, events.MoveFields(issue, task.StateClaimed.String(), task.StateFailure.String(), workerID, "failure", &rc))
	return nil
}

func (p *Pool) emit(ctx context.Context, evt events.EventType, fields map[string]interface{}) {
	if p.pub == nil {
		return
	}
	if err := p.pub.Publish(ctx, events.New(time.Now(), evt, fields)); err != nil {
		logger.Warn().Err(err).Str("event", string(evt)).Msg("failed to publish event")
	}
}
