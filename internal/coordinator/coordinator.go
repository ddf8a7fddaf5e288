// Package coordinator implements C8, the wave coordinator: the process
// that sequences waves from wave_start through the configured maximum,
// starting a watcher scoped to each wave, waiting for it to drain, then
// running a Quality Guardian pass before moving on (spec.md §4.8).
//
// Roadmap DAG validation is an explicit non-goal (spec.md's Non-goals),
// so the "maximum wave declared by the roadmap" is simply a configured
// integer here rather than something parsed from a dependency graph.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flyingrobots/slaps/internal/closedmarker"
	"github.com/flyingrobots/slaps/internal/depgraph"
	"github.com/flyingrobots/slaps/internal/events"
	"github.com/flyingrobots/slaps/internal/ledger"
	"github.com/flyingrobots/slaps/internal/llm"
	"github.com/flyingrobots/slaps/internal/logger"
	"github.com/flyingrobots/slaps/internal/ports"
	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/task"
	"github.com/flyingrobots/slaps/internal/watcher"
)

// ConfigError signals an exit-2 configuration failure (spec.md §4.8:
// "2 on configuration errors") — currently only a failed preflight
// toolchain or credential check.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("coordinator: configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("coordinator: configuration error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// WaveError signals an exit-1 wave-level failure (spec.md §4.8: "1 on
// any wave-level failure (dead overflow, guardian failure, push
// failure)").
type WaveError struct {
	Wave   int
	Reason string
	Err    error
}

func (e *WaveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("coordinator: wave %d failed: %s: %v", e.Wave, e.Reason, e.Err)
	}
	return fmt.Sprintf("coordinator: wave %d failed: %s", e.Wave, e.Reason)
}

func (e *WaveError) Unwrap() error { return e.Err }

// Config holds the coordinator's per-run knobs, distinct from the
// long-lived collaborators passed to New.
type Config struct {
	WaveStart         int
	MaxWave           int
	NoCommitPreflight bool
	TickInterval      time.Duration
	ReportInterval    time.Duration
	WatchRoot         string
	DrainPollInterval time.Duration
}

// Coordinator drives RunAll across Config.WaveStart..Config.MaxWave,
// building one watcher.Watcher per wave against the shared store,
// dependency graph, closed-marker set and attempt ledger.
type Coordinator struct {
	cfg Config

	store  queue.Store
	graph  *depgraph.Graph
	closed closedmarker.Set
	ledger ledger.Ledger
	runner llm.Runner
	pub    events.Publisher

	vcs       ports.VCS
	guardian  ports.QualityGuardian
	toolchain ports.ToolchainChecker
	followUps ports.FollowUpCollector

	followUpSeq int
}

// New builds a Coordinator. vcs, guardian, toolchain and followUps may
// all be nil: a nil vcs skips the credential preflight and the final
// push, a nil guardian skips the Quality Guardian pass entirely, a nil
// toolchain skips the toolchain preflight check, and a nil followUps
// means "no follow-up notes are ever collected".
func New(cfg Config, store queue.Store, graph *depgraph.Graph, closed closedmarker.Set, led ledger.Ledger, runner llm.Runner, pub events.Publisher, vcs ports.VCS, guardian ports.QualityGuardian, toolchain ports.ToolchainChecker, followUps ports.FollowUpCollector) *Coordinator {
	if cfg.DrainPollInterval <= 0 {
		cfg.DrainPollInterval = 2 * time.Second
	}
	return &Coordinator{
		cfg:       cfg,
		store:     store,
		graph:     graph,
		closed:    closed,
		ledger:    led,
		runner:    runner,
		pub:       pub,
		vcs:       vcs,
		guardian:  guardian,
		toolchain: toolchain,
		followUps: followUps,
	}
}

// RunAll sequences every wave from cfg.WaveStart to cfg.MaxWave,
// aborting the entire run on the first wave-level or configuration
// failure (spec.md §4.8).
func (c *Coordinator) RunAll(ctx context.Context) error {
	for wave := c.cfg.WaveStart; wave <= c.cfg.MaxWave; wave++ {
		c.emit(ctx, events.EventWaveStart, map[string]interface{}{"wave": wave})

		if err := c.RunWave(ctx, wave); err != nil {
			return err
		}

		c.emit(ctx, events.EventWaveComplete, map[string]interface{}{"wave": wave})
	}
	c.emit(ctx, events.EventAllComplete, map[string]interface{}{"wave_start": c.cfg.WaveStart, "max_wave": c.cfg.MaxWave})
	return nil
}

// RunWave implements one iteration of spec.md §4.8's per-wave algorithm.
func (c *Coordinator) RunWave(ctx context.Context, wave int) error {
	log := logger.WithWave(wave)

	if err := c.preflight(ctx); err != nil {
		return err
	}
	log.Info().Msg("preflight passed")

	if err := c.drainWave(ctx, wave); err != nil {
		return &WaveError{Wave: wave, Reason: "watcher pass failed", Err: err}
	}

	if err := c.runFollowUpPass(ctx, wave); err != nil {
		return &WaveError{Wave: wave, Reason: "follow-up pass failed", Err: err}
	}

	dead, err := c.store.List(ctx, wave, task.StateDead)
	if err != nil {
		return &WaveError{Wave: wave, Reason: "dead count failed", Err: err}
	}
	if len(dead) > 0 {
		log.Warn().Int("dead_count", len(dead)).Msg("wave aborted: dead-letter overflow")
		return &WaveError{Wave: wave, Reason: fmt.Sprintf("%d dead-lettered tasks", len(dead))}
	}

	if c.guardian != nil {
		exitCode, gerr := c.guardian.Run(ctx, wave)
		if gerr != nil {
			return &WaveError{Wave: wave, Reason: "quality guardian invocation failed", Err: gerr}
		}
		if exitCode != 0 {
			return &WaveError{Wave: wave, Reason: fmt.Sprintf("quality guardian exited %d", exitCode)}
		}
		log.Info().Msg("quality guardian pass succeeded")
	}

	if c.vcs != nil {
		if err := c.vcs.Push(ctx); err != nil {
			return &WaveError{Wave: wave, Reason: "push failed", Err: err}
		}
		log.Info().Msg("pushed wave commits")
	}

	return nil
}

// preflight implements spec.md §4.8 step 1: verify the toolchain is
// reachable and, unless disabled, validate push credentials with a
// round-trip before any worker spends an attempt.
func (c *Coordinator) preflight(ctx context.Context) error {
	if c.toolchain != nil {
		if err := c.toolchain.CheckAvailable(ctx); err != nil {
			return &ConfigError{Reason: "containerized test/lint toolchain unavailable", Err: err}
		}
	}
	if !c.cfg.NoCommitPreflight && c.vcs != nil {
		if err := c.vcs.Push(ctx); err != nil {
			return &ConfigError{Reason: "commit/push credential round-trip failed", Err: err}
		}
	}
	return nil
}

// drainWave implements spec.md §4.8 step 2: start a watcher scoped to
// wave and wait for it to drain before returning.
func (c *Coordinator) drainWave(ctx context.Context, wave int) error {
	w := watcher.New(c.store, []int{wave}, c.closed, c.graph, c.ledger, c.runner, c.pub, c.cfg.TickInterval, c.cfg.ReportInterval, c.cfg.WatchRoot)
	return c.runUntilDrained(ctx, w, wave)
}

// runUntilDrained starts w.Run in the background and polls the store
// until no blocked/open/claimed/failure entries remain for wave, then
// cancels the watcher and waits for it to return.
func (c *Coordinator) runUntilDrained(ctx context.Context, w *watcher.Watcher, wave int) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(watchCtx) }()

	ticker := time.NewTicker(c.cfg.DrainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-errCh
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			drained, err := c.waveDrained(ctx, wave)
			if err != nil {
				cancel()
				<-errCh
				return err
			}
			if drained {
				cancel()
				return <-errCh
			}
		}
	}
}

// waveDrained reports whether wave has no entries left in any
// watcher-mutable transient state. closed and dead are terminal and do
// not block drain.
func (c *Coordinator) waveDrained(ctx context.Context, wave int) (bool, error) {
	for _, s := range []task.State{task.StateBlocked, task.StateOpen, task.StateClaimed, task.StateFailure} {
		issues, err := c.store.List(ctx, wave, s)
		if err != nil {
			return false, fmt.Errorf("coordinator: list %s wave %d: %w", s, wave, err)
		}
		if len(issues) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// runFollowUpPass implements spec.md §4.8 step 3: collect any enqueued
// follow-up notes, consolidate them into a single open-queue task, and
// run a second drain pass. A nil collector or an empty note set is a
// no-op.
func (c *Coordinator) runFollowUpPass(ctx context.Context, wave int) error {
	if c.followUps == nil {
		return nil
	}
	notes, err := c.followUps.CollectAndClear(ctx, wave)
	if err != nil {
		return fmt.Errorf("coordinator: collect follow-up notes: %w", err)
	}
	if len(notes) == 0 {
		return nil
	}

	body := consolidateFollowUps(notes)
	issue := c.nextFollowUpIssue(wave)
	if err := c.store.WriteTask(ctx, wave, issue, task.StateOpen, body); err != nil {
		return fmt.Errorf("coordinator: enqueue follow-up task %d: %w", issue, err)
	}
	logger.WithWave(wave).Info().Int("issue", issue).Int("notes", len(notes)).Msg("enqueued consolidated follow-up task")

	return c.drainWave(ctx, wave)
}

// nextFollowUpIssue allocates a synthetic issue number for a
// consolidated follow-up task, kept well clear of real GitHub issue
// numbers by starting at a high, wave-scoped base.
func (c *Coordinator) nextFollowUpIssue(wave int) int {
	c.followUpSeq++
	return wave*1_000_000 + 900_000 + c.followUpSeq
}

// consolidateFollowUps joins worker follow-up notes into a single task
// body, numbering each note so the LLM addressing it can tell them
// apart.
func consolidateFollowUps(notes []string) string {
	body := "Consolidated follow-up from the prior wave pass:\n\n"
	for i, note := range notes {
		body += fmt.Sprintf("%d. %s\n", i+1, note)
	}
	return body
}

func (c *Coordinator) emit(ctx context.Context, evt events.EventType, fields map[string]interface{}) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(ctx, events.New(time.Now(), evt, fields)); err != nil {
		logger.Warn().Err(err).Str("event", string(evt)).Msg("failed to publish event")
	}
}

// ExitCode maps a RunAll error to spec.md §4.8's exit-code contract:
// 0 on nil, 2 on a ConfigError, 1 on anything else (WaveError or a
// plain wrapped error).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}
