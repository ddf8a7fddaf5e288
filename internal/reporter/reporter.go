// Package reporter renders the human-readable wave report spec.md
// §4.10 describes: per-worker state lines, a progress bar over total
// wave tasks, and category counts. It is a pure read model over
// queue.Store — it never mutates state — shared by the dashboard's
// status endpoint and any other text consumer.
//
// Rendering an ASCII progress bar has no natural library home in the
// teacher or example pack (it's a handful of strings.Repeat calls), so
// this stays on the standard library rather than reaching for a TUI
// dependency the rest of the module never otherwise needs.
package reporter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/task"
)

// WaveCounts holds the per-state issue counts for one wave.
type WaveCounts struct {
	Wave     int
	Blocked  int
	Open     int
	Claimed  int
	Closed   int
	Failure  int
	Dead     int
}

// Total returns the total number of tracked issues across all states.
func (c WaveCounts) Total() int {
	return c.Blocked + c.Open + c.Claimed + c.Closed + c.Failure + c.Dead
}

// Progressed returns the number of issues that have reached a terminal
// state (closed or dead).
func (c WaveCounts) Progressed() int {
	return c.Closed + c.Dead
}

// Ratio returns Progressed/Total, or 0 when Total is 0.
func (c WaveCounts) Ratio() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Progressed()) / float64(c.Total())
}

// CountsForWave reads the current per-state counts for wave directly
// from store.
func CountsForWave(ctx context.Context, store queue.Store, wave int) (WaveCounts, error) {
	counts := WaveCounts{Wave: wave}
	for _, s := range []task.State{task.StateBlocked, task.StateOpen, task.StateClaimed, task.StateClosed, task.StateFailure, task.StateDead} {
		issues, err := store.List(ctx, wave, s)
		if err != nil {
			return WaveCounts{}, fmt.Errorf("reporter: list %s wave %d: %w", s, wave, err)
		}
		switch s {
		case task.StateBlocked:
			counts.Blocked = len(issues)
		case task.StateOpen:
			counts.Open = len(issues)
		case task.StateClaimed:
			counts.Claimed = len(issues)
		case task.StateClosed:
			counts.Closed = len(issues)
		case task.StateFailure:
			counts.Failure = len(issues)
		case task.StateDead:
			counts.Dead = len(issues)
		}
	}
	return counts, nil
}

// WorkerLine is one worker's current state, for the per-worker lines
// the report includes (spec.md §4.10).
type WorkerLine struct {
	WorkerID string
	Issue    int // 0 when idle
}

// Render produces the full multi-line human-readable report: a
// progress bar, category counts, and one line per worker.
func Render(counts WaveCounts, workers []WorkerLine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wave %d: %s\n", counts.Wave, progressBar(counts.Ratio(), 30))
	fmt.Fprintf(&b, "  blocked=%d open=%d claimed=%d closed=%d failure=%d dead=%d (%d/%d)\n",
		counts.Blocked, counts.Open, counts.Claimed, counts.Closed, counts.Failure, counts.Dead,
		counts.Progressed(), counts.Total())

	sorted := make([]WorkerLine, len(workers))
	copy(sorted, workers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WorkerID < sorted[j].WorkerID })
	for _, w := range sorted {
		if w.Issue == 0 {
			fmt.Fprintf(&b, "  worker %s: idle\n", w.WorkerID)
		} else {
			fmt.Fprintf(&b, "  worker %s: issue #%d\n", w.WorkerID, w.Issue)
		}
	}
	return b.String()
}

func progressBar(ratio float64, width int) string {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * float64(width))
	return fmt.Sprintf("[%s%s] %3.0f%%", strings.Repeat("=", filled), strings.Repeat(" ", width-filled), ratio*100)
}
