// Package depgraph implements C2, the dependency index: blocker/dependent
// adjacency built from edges.csv, per-issue raw-record blockedBy lists,
// and (lazily) server-side edges, answering "are all of D's blockers
// closed?" against the closed-marker set (spec.md §4.2).
package depgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flyingrobots/slaps/internal/closedmarker"
)

// Graph holds the blocker -> dependent adjacency in both directions.
// Safe for concurrent use: bootstrap builds it, and the watcher reads it
// while unlocking dependents.
type Graph struct {
	mu         sync.RWMutex
	blockersOf map[int]map[int]bool // dependent -> blockers
	dependents map[int]map[int]bool // blocker -> dependents
	waveOf     map[int]int          // issue -> wave, when known
}

func New() *Graph {
	return &Graph{
		blockersOf: make(map[int]map[int]bool),
		dependents: make(map[int]map[int]bool),
		waveOf:     make(map[int]int),
	}
}

// AddEdge records a single blocker -> dependent edge, idempotently.
func (g *Graph) AddEdge(blocker, dependent int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdgeLocked(blocker, dependent)
}

func (g *Graph) addEdgeLocked(blocker, dependent int) {
	if g.blockersOf[dependent] == nil {
		g.blockersOf[dependent] = make(map[int]bool)
	}
	g.blockersOf[dependent][blocker] = true

	if g.dependents[blocker] == nil {
		g.dependents[blocker] = make(map[int]bool)
	}
	g.dependents[blocker][dependent] = true
}

// AddEdges bulk-loads edges, e.g. parsed from edges.csv.
func (g *Graph) AddEdges(edges []Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range edges {
		g.addEdgeLocked(e.Blocker, e.Dependent)
	}
}

// SetBlockedBy replaces issue's blocker set with blockers, used when
// ingesting a raw record's `blockedBy` field (spec.md §4.2, idempotent
// and case-insensitive on the key — case-insensitivity is handled by
// task.RawRelationships before this call). A nil or empty slice means
// "no blockers" and clears any prior blockers for issue.
func (g *Graph) SetBlockedBy(issue int, blockers []int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing := g.blockersOf[issue]; existing != nil {
		for b := range existing {
			if deps := g.dependents[b]; deps != nil {
				delete(deps, issue)
			}
		}
	}
	delete(g.blockersOf, issue)

	for _, b := range blockers {
		g.addEdgeLocked(b, issue)
	}
}

// SetWave records which wave issue belongs to, enabling the cross-wave
// "satisfied by marker" rule (spec.md §4.2).
func (g *Graph) SetWave(issue, wave int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waveOf[issue] = wave
}

// WaveOf returns the wave issue was registered under via SetWave, and
// whether it has been recorded at all.
func (g *Graph) WaveOf(issue int) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	wave, ok := g.waveOf[issue]
	return wave, ok
}

// Blockers returns issue's full blocker set.
func (g *Graph) Blockers(issue int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.blockersOf[issue])
}

// Dependents returns every issue that lists issue as a blocker.
func (g *Graph) Dependents(issue int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependents[issue])
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// AllBlockersClosed reports whether every blocker of issue is present in
// the closed-marker set. A blocker with no recorded wave, or in a
// strictly earlier wave than issue, is treated identically: closed iff
// marked (spec.md §4.2: "taking a blocker in a strictly earlier,
// satisfied wave as closed").
func (g *Graph) AllBlockersClosed(ctx context.Context, issue int, closed closedmarker.Set) (bool, error) {
	for _, b := range g.Blockers(issue) {
		ok, err := closed.IsClosed(ctx, b)
		if err != nil {
			return false, fmt.Errorf("depgraph: check blocker %d closed: %w", b, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// HasCycle reports whether the graph contains a dependency cycle and, if
// so, returns one cycle's issue numbers in traversal order.
func (g *Graph) HasCycle() (bool, []int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int)
	var stack []int

	var visit func(n int) []int
	visit = func(n int) []int {
		color[n] = gray
		stack = append(stack, n)
		for dep := range g.dependents[n] {
			switch color[dep] {
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			case gray:
				cycle := append([]int{}, stack...)
				return append(cycle, dep)
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}

	nodes := make(map[int]bool)
	for n := range g.dependents {
		nodes[n] = true
	}
	for n := range g.blockersOf {
		nodes[n] = true
	}
	sortedNodes := make([]int, 0, len(nodes))
	for n := range nodes {
		sortedNodes = append(sortedNodes, n)
	}
	sort.Ints(sortedNodes)

	for _, n := range sortedNodes {
		if color[n] == white {
			if cyc := visit(n); cyc != nil {
				return true, cyc
			}
		}
	}
	return false, nil
}
