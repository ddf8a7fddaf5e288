// Package watcher implements C5: the single process that owns the
// transition graph's remaining edges (spec.md §4.5) — closed-marker
// writes, dependent unlocking, attempt-ledger increments, remediation,
// and dead-lettering. The worker package never touches any of this.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flyingrobots/slaps/internal/closedmarker"
	"github.com/flyingrobots/slaps/internal/depgraph"
	"github.com/flyingrobots/slaps/internal/events"
	"github.com/flyingrobots/slaps/internal/ledger"
	"github.com/flyingrobots/slaps/internal/llm"
	"github.com/flyingrobots/slaps/internal/logger"
	"github.com/flyingrobots/slaps/internal/metrics"
	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/task"
)

const maxAttempts = 3

// tickFloor is the correctness backstop poll interval (spec.md §5):
// fsnotify only accelerates ticks, it never replaces the floor.
const tickFloor = 2 * time.Second

// Watcher drives the blocked/open/claimed/closed/failure/dead state
// machine's watcher-owned edges across every configured wave.
type Watcher struct {
	store  queue.Store
	waves  []int
	closed closedmarker.Set
	graph  *depgraph.Graph
	ledger ledger.Ledger
	runner llm.Runner
	pub    events.Publisher

	tickInterval   time.Duration
	reportInterval time.Duration
	watchRoot      string
}

// New builds a Watcher. watchRoot, if non-empty, is passed to fsnotify
// to accelerate ticks on closed/failed renames; an empty value disables
// fsnotify acceleration (the poll floor alone still drives ticks).
func New(store queue.Store, waves []int, closed closedmarker.Set, graph *depgraph.Graph, led ledger.Ledger, runner llm.Runner, pub events.Publisher, tickInterval, reportInterval time.Duration, watchRoot string) *Watcher {
	if tickInterval <= 0 {
		tickInterval = tickFloor
	}
	return &Watcher{
		store:          store,
		waves:          waves,
		closed:         closed,
		graph:          graph,
		ledger:         led,
		runner:         runner,
		pub:            pub,
		tickInterval:   tickInterval,
		reportInterval: reportInterval,
		watchRoot:      watchRoot,
	}
}

// Run performs the startup sweep (spec.md §4.5 step 3) and then drives
// ticks until ctx is canceled: a 2s poll floor, accelerated by fsnotify
// events on watchRoot when configured.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Sweep(ctx); err != nil {
		logger.Error().Err(err).Msg("startup sweep failed")
	}

	accel := w.startFsnotify(ctx)
	if accel != nil {
		defer accel.Close()
	}

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	var reportTicker *time.Ticker
	var reportCh <-chan time.Time
	if w.reportInterval > 0 {
		reportTicker = time.NewTicker(w.reportInterval)
		defer reportTicker.Stop()
		reportCh = reportTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				logger.Error().Err(err).Msg("watcher tick failed")
			}
		case _, ok := <-accelChan(accel):
			if !ok {
				continue
			}
			if err := w.Tick(ctx); err != nil {
				logger.Error().Err(err).Msg("watcher tick failed (fsnotify-accelerated)")
			}
		case <-reportCh:
			w.emitReport(ctx)
		}
	}
}

func (w *Watcher) startFsnotify(ctx context.Context) *fsnotify.Watcher {
	if w.watchRoot == "" {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("fsnotify unavailable, falling back to poll floor only")
		return nil
	}
	if err := filepath.WalkDir(w.watchRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	}); err != nil {
		logger.Warn().Err(err).Str("path", w.watchRoot).Msg("fsnotify watch add failed")
		fw.Close()
		return nil
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("fsnotify error")
			}
		}
	}()
	return fw
}

// accelChan adapts a possibly-nil *fsnotify.Watcher into a channel that
// blocks forever when fsnotify is disabled, so the select above never
// fires spuriously.
func accelChan(fw *fsnotify.Watcher) <-chan fsnotify.Event {
	if fw == nil {
		return nil
	}
	return fw.Events
}

// Sweep implements spec.md §4.5 step 3: "enumerate all existing closed
// files and closed-markers and execute step 1 for each." processAllClosed
// only covers the first half — the closed/ directory of every
// *configured* wave. A dependent can also be unlocked by a blocker that
// closed in a wave this watcher was never scoped to watch (coordinator.
// drainWave scopes each watcher to a single wave), whose only remaining
// trace is its closedmarker entry. So Sweep also walks the full marker
// set and re-evaluates every still-blocked dependent against it,
// independent of which wave originally closed the blocker.
func (w *Watcher) Sweep(ctx context.Context) error {
	if err := w.processAllClosed(ctx); err != nil {
		return err
	}
	return w.unlockFromMarkers(ctx)
}

// unlockFromMarkers evaluates every marked-closed issue's dependents,
// including ones closed outside this watcher's configured waves (e.g.
// an earlier coordinator wave, or a closed file an admin action already
// moved out from under closed/). Safe to call repeatedly.
func (w *Watcher) unlockFromMarkers(ctx context.Context) error {
	marked, err := w.closed.All(ctx)
	if err != nil {
		return fmt.Errorf("watcher: list closed markers: %w", err)
	}
	for _, issue := range marked {
		for _, dependent := range w.graph.Dependents(issue) {
			if err := w.maybeUnlock(ctx, dependent); err != nil {
				logger.Error().Err(err).Int("issue", dependent).Msg("failed to evaluate dependent for unlock")
			}
		}
	}
	return nil
}

// Tick runs one full pass of steps 1 and 2.
func (w *Watcher) Tick(ctx context.Context) error {
	if err := w.processAllClosed(ctx); err != nil {
		return fmt.Errorf("watcher: process closed: %w", err)
	}
	if err := w.processAllFailed(ctx); err != nil {
		return fmt.Errorf("watcher: process failed: %w", err)
	}
	return nil
}

// processAllClosed implements spec.md §4.5 step 1 across every
// configured wave.
func (w *Watcher) processAllClosed(ctx context.Context) error {
	for _, wave := range w.waves {
		issues, err := w.store.List(ctx, wave, task.StateClosed)
		if err != nil {
			return fmt.Errorf("watcher: list closed wave %d: %w", wave, err)
		}
		for _, issue := range issues {
			if err := w.processClosedIssue(ctx, issue); err != nil {
				logger.Error().Err(err).Int("issue", issue).Msg("failed to process closed issue")
			}
		}
	}
	return nil
}

// processClosedIssue marks issue closed (idempotent) and unlocks any
// dependent whose blockers are now all satisfied. Safe to call more
// than once for the same issue.
func (w *Watcher) processClosedIssue(ctx context.Context, issue int) error {
	alreadyMarked, err := w.closed.Mark(ctx, issue, time.Now())
	if err != nil {
		return fmt.Errorf("closedmarker: mark %d: %w", issue, err)
	}
	if !alreadyMarked {
		logger.Info().Int("issue", issue).Msg("issue marked closed")
	}

	for _, dependent := range w.graph.Dependents(issue) {
		if err := w.maybeUnlock(ctx, dependent); err != nil {
			logger.Error().Err(err).Int("issue", dependent).Msg("failed to evaluate dependent for unlock")
		}
	}
	return nil
}

// maybeUnlock promotes dependent from blocked to open if every one of
// its blockers is now closed, and it is not already open or beyond
// (spec.md §4.5 step 1: "provided no newer open entry ... already
// exists — do not clobber").
func (w *Watcher) maybeUnlock(ctx context.Context, dependent int) error {
	wave, ok := w.graph.WaveOf(dependent)
	if !ok {
		return nil
	}
	entry, err := w.store.Get(ctx, wave, dependent)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			return nil
		}
		return err
	}
	if entry.State != task.StateBlocked {
		return nil
	}

	ok, err = w.graph.AllBlockersClosed(ctx, dependent, w.closed)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := w.store.Transition(ctx, wave, dependent, task.StateBlocked, task.StateOpen, ""); err != nil {
		if errors.Is(err, queue.ErrAlreadyMoved) {
			return nil
		}
		return err
	}
	metrics.RecordDependentsUnlocked(fmt.Sprint(wave), 1)
	w.emit(ctx, events.EventUnlockOpen, events.MoveFields(dependent, task.StateBlocked.String(), task.StateOpen.String(), "", "", nil))
	return nil
}

// processAllFailed implements spec.md §4.5 step 2 across every
// configured wave.
func (w *Watcher) processAllFailed(ctx context.Context) error {
	for _, wave := range w.waves {
		issues, err := w.store.List(ctx, wave, task.StateFailure)
		if err != nil {
			return fmt.Errorf("watcher: list failed wave %d: %w", wave, err)
		}
		for _, issue := range issues {
			if err := w.processFailedIssue(ctx, wave, issue); err != nil {
				logger.Error().Err(err).Int("issue", issue).Msg("failed to process failed issue")
			}
		}
	}
	return nil
}

// processFailedIssue increments the attempt ledger and either routes
// issue back to open with a remediation prompt, or dead-letters it once
// the attempt ceiling is reached (spec.md §4.5 step 2).
func (w *Watcher) processFailedIssue(ctx context.Context, wave, issue int) error {
	entry, err := w.store.Get(ctx, wave, issue)
	if err != nil {
		return fmt.Errorf("load failed entry %d: %w", issue, err)
	}

	attempt, err := w.ledger.Increment(ctx, issue)
	if err != nil {
		return fmt.Errorf("increment attempt ledger %d: %w", issue, err)
	}

	if attempt >= maxAttempts {
		return w.deadLetter(ctx, wave, issue, entry, attempt)
	}
	return w.remediate(ctx, wave, issue, entry, attempt)
}

func (w *Watcher) deadLetter(ctx context.Context, wave, issue int, entry queue.Entry, attempt int) error {
	footer := ledger.DeadLetterFooter(issue, time.Now())
	if err := w.store.Transition(ctx, wave, issue, task.StateFailure, task.StateDead, ""); err != nil {
		return fmt.Errorf("transition to dead %d: %w", issue, err)
	}
	if err := w.store.WriteTask(ctx, wave, issue, task.StateDead, entry.Body+footer); err != nil {
		return fmt.Errorf("write dead footer %d: %w", issue, err)
	}
	metrics.RecordTaskDead(fmt.Sprint(wave))
	w.emit(ctx, events.EventDead, events.MoveFields(issue, task.StateFailure.String(), task.StateDead.String(), "", "dead_letter", nil))
	logger.Warn().Int("issue", issue).Int("attempt", attempt).Msg("issue dead-lettered")
	return nil
}

// remediate composes a remediation prompt (spec.md §4.5 step 2),
// invokes the LLM to produce the next attempt's task body, and reopens
// the issue. An LLM failure never fails the watcher: it falls back to a
// deterministic remediation body so the task keeps moving.
func (w *Watcher) remediate(ctx context.Context, wave, issue int, entry queue.Entry, attempt int) error {
	reason := extractFailureReason(entry.Body)
	if err := w.ledger.AppendReason(ctx, issue, attempt, reason); err != nil {
		logger.Warn().Err(err).Int("issue", issue).Msg("failed to append reason log entry")
	}

	newBody := w.composeNextAttempt(ctx, issue, attempt, entry.Body, reason)

	if err := w.store.Transition(ctx, wave, issue, task.StateFailure, task.StateOpen, ""); err != nil {
		return fmt.Errorf("transition to open %d: %w", issue, err)
	}
	if err := w.store.WriteTask(ctx, wave, issue, task.StateOpen, newBody); err != nil {
		return fmt.Errorf("write remediated body %d: %w", issue, err)
	}
	w.emit(ctx, events.EventFailureReopen, events.MoveFields(issue, task.StateFailure.String(), task.StateOpen.String(), "", "retry", nil))
	logger.Info().Int("issue", issue).Int("attempt", attempt).Msg("issue reopened with remediation")
	return nil
}

// composeNextAttempt asks the LLM to produce the next attempt's prompt
// body. On any LLM error it falls back to a deterministic template.
func (w *Watcher) composeNextAttempt(ctx context.Context, issue, attempt int, originalBody, reason string) string {
	if w.runner != nil {
		prompt := remediationPrompt(issue, attempt, originalBody, reason)
		result, err := w.runner.Run(ctx, llm.GuardrailPrefix+prompt)
		if err == nil && result.Succeeded() && result.Stdout != "" {
			return result.Stdout
		}
		if err != nil {
			logger.Warn().Err(err).Int("issue", issue).Msg("remediation LLM call failed, using fallback body")
		}
	}
	return fallbackRemediationBody(attempt, originalBody, reason)
}

// remediationPrompt builds the instruction sent to the LLM, per
// spec.md §4.5 step 2: original task path, the failure footer,
// instructions to append a reason paragraph, and to produce a new
// prompt beginning with "Attempt N: Tried X, now trying Y because Z".
func remediationPrompt(issue, attempt int, originalBody, reason string) string {
	return fmt.Sprintf(
		"The following task (issue #%d) failed on attempt %d:\n\n%s\n\n"+
			"Failure reason: %s\n\n"+
			"Append a reason paragraph to the per-issue reason log, then produce a "+
			"replacement task prompt for attempt %d, beginning with the line "+
			"\"Attempt %d: Tried X, now trying Y because Z\" describing what changes "+
			"this attempt makes relative to the last.\n",
		issue, attempt, originalBody, reason, attempt+1, attempt+1,
	)
}

func fallbackRemediationBody(attempt int, originalBody, reason string) string {
	return fmt.Sprintf("Attempt %d: retrying after failure (%s)\n\n%s", attempt+1, reason, originalBody)
}

// extractFailureReason pulls the reason text out of a failed task's
// "## FAILURE" footer appended by the worker, falling back to the
// whole body when no such footer is present.
func extractFailureReason(body string) string {
	const marker = "## FAILURE\n"
	idx := strings.Index(body, marker)
	if idx < 0 {
		return body
	}
	return strings.TrimSpace(body[idx+len(marker):])
}

func (w *Watcher) emit(ctx context.Context, evt events.EventType, fields map[string]interface{}) {
	if w.pub == nil {
		return
	}
	if err := w.pub.Publish(ctx, events.New(time.Now(), evt, fields)); err != nil {
		logger.Warn().Err(err).Str("event", string(evt)).Msg("failed to publish event")
	}
}

// emitReport logs one structured progress line per wave with the count
// of tasks in each state and a "progressed/total" field (closed plus
// dead over all tasks), and updates the wave-progress and tasks-by-state
// gauges. It draws no progress bar and logs no per-worker lines; the
// text rendering in internal/reporter is not used here.
func (w *Watcher) emitReport(ctx context.Context) {
	for _, wave := range w.waves {
		counts := map[task.State]int{}
		for _, s := range []task.State{task.StateBlocked, task.StateOpen, task.StateClaimed, task.StateClosed, task.StateFailure, task.StateDead} {
			issues, err := w.store.List(ctx, wave, s)
			if err != nil {
				logger.Warn().Err(err).Int("wave", wave).Msg("report: list failed")
				continue
			}
			counts[s] = len(issues)
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		progressed := counts[task.StateClosed] + counts[task.StateDead]
		metrics.SetWaveProgress(fmt.Sprint(wave), progressRatio(progressed, total))
		for s, n := range counts {
			metrics.SetTasksByState(s.String(), float64(n))
		}
		logger.Info().
			Int("wave", wave).
			Int("blocked", counts[task.StateBlocked]).
			Int("open", counts[task.StateOpen]).
			Int("claimed", counts[task.StateClaimed]).
			Int("closed", counts[task.StateClosed]).
			Int("failure", counts[task.StateFailure]).
			Int("dead", counts[task.StateDead]).
			Str("progress", fmt.Sprintf("%d/%d", progressed, total)).
			Msg("wave progress report")
	}
}

func progressRatio(progressed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(progressed) / float64(total)
}
