// Package bootstrap loads a run's static inputs — per-issue raw
// records and the admin edges file (spec.md §6's filesystem layout) —
// into a dependency graph and seeds each issue's initial queue state.
// This is the one-time "wave init" step the original tooling performed
// as a maintenance script; here it runs inline at process startup for
// every cmd/ entrypoint that needs a populated queue.Store.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/flyingrobots/slaps/internal/closedmarker"
	"github.com/flyingrobots/slaps/internal/depgraph"
	"github.com/flyingrobots/slaps/internal/logger"
	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/task"
)

// LoadRawRecords reads every root/raw/issue-<N>.json file and returns
// them keyed by issue number. A record that fails to parse is logged
// and skipped, per spec.md §7's "malformed data is a warning, not a
// fatal error" stance.
func LoadRawRecords(root string) (map[int]task.RawRecord, error) {
	dir := filepath.Join(root, "raw")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[int]task.RawRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read raw dir: %w", err)
	}

	out := make(map[int]task.RawRecord, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			logger.Warn().Err(err).Str("file", e.Name()).Msg("bootstrap: failed to read raw record")
			continue
		}
		var rec task.RawRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.Warn().Err(err).Str("file", e.Name()).Msg("bootstrap: malformed raw record, skipping")
			continue
		}
		if rec.Number == 0 {
			continue
		}
		out[rec.Number] = rec
	}
	return out, nil
}

// LoadEdges reads root/admin/edges.csv, if present.
func LoadEdges(root string) ([]depgraph.Edge, error) {
	path := filepath.Join(root, "admin", "edges.csv")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open edges.csv: %w", err)
	}
	defer f.Close()
	return depgraph.ParseEdgesCSV(f)
}

// BuildGraph constructs the dependency graph from raw records'
// blockedBy relationships plus the admin edges file, and records each
// record's wave.
func BuildGraph(records map[int]task.RawRecord, edges []depgraph.Edge) *depgraph.Graph {
	g := depgraph.New()
	g.AddEdges(edges)

	issues := make([]int, 0, len(records))
	for issue := range records {
		issues = append(issues, issue)
	}
	sort.Ints(issues)

	for _, issue := range issues {
		rec := records[issue]
		g.SetBlockedBy(issue, rec.Relationships.BlockedBy)
		if wave, ok := rec.Wave(); ok {
			g.SetWave(issue, wave)
		}
	}
	return g
}

// SeedWave writes one queue entry per raw record whose Wave() matches
// wave: StateOpen if every blocker is already closed, StateBlocked
// otherwise. Existing entries (Get succeeds) are left untouched, so
// SeedWave is safe to call again on process restart.
func SeedWave(ctx context.Context, store queue.Store, graph *depgraph.Graph, closed closedmarker.Set, records map[int]task.RawRecord, wave int) error {
	issues := make([]int, 0)
	for issue, rec := range records {
		if w, ok := rec.Wave(); ok && w == wave {
			issues = append(issues, issue)
		}
	}
	sort.Ints(issues)

	for _, issue := range issues {
		if _, err := store.Get(ctx, wave, issue); err == nil {
			continue
		}

		rec := records[issue]
		allClosed, err := graph.AllBlockersClosed(ctx, issue, closed)
		if err != nil {
			return fmt.Errorf("bootstrap: check blockers for issue %d: %w", issue, err)
		}

		state := task.StateBlocked
		if allClosed {
			state = task.StateOpen
		}
		if err := store.WriteTask(ctx, wave, issue, state, rec.Body); err != nil {
			return fmt.Errorf("bootstrap: seed issue %d: %w", issue, err)
		}
	}
	return nil
}

// MaxWave returns the highest wave number any raw record declares, or
// fallback if no record declares one.
func MaxWave(records map[int]task.RawRecord, fallback int) int {
	max := fallback
	for _, rec := range records {
		if w, ok := rec.Wave(); ok && w > max {
			max = w
		}
	}
	return max
}

// ParseIntArg parses an integer argument value, wrapping a parse
// failure in an error that names the argument.
func ParseIntArg(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return n, nil
}
