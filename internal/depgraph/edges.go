package depgraph

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Edge is a directed blocker -> dependent relationship.
type Edge struct {
	Blocker   int
	Dependent int
}

var headerTokens = map[string]bool{
	"from": true, "to": true,
	"src": true, "dst": true,
	"blocker": true, "blocked": true,
	"prereq": true, "dependent": true,
}

// ParseEdgesCSV reads the edges.csv format from spec.md §6: optional
// header row (recognized tokens case-insensitive), headerless two-column
// rows otherwise, `#`-prefixed comment lines, blank lines ignored.
// Malformed rows are skipped rather than failing the parse.
func ParseEdgesCSV(r io.Reader) ([]Edge, error) {
	scanner := bufio.NewScanner(r)
	var edges []Edge
	first := true

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cols := strings.Split(line, ",")
		if len(cols) < 2 {
			first = false
			continue
		}
		a := strings.TrimSpace(cols[0])
		b := strings.TrimSpace(cols[1])

		if first {
			first = false
			if looksLikeHeader(a, b) {
				continue
			}
		}

		blocker, errA := strconv.Atoi(a)
		dependent, errB := strconv.Atoi(b)
		if errA != nil || errB != nil {
			continue // malformed row: skip, not fatal (spec.md §7)
		}
		edges = append(edges, Edge{Blocker: blocker, Dependent: dependent})
	}
	if err := scanner.Err(); err != nil {
		return edges, err
	}
	return edges, nil
}

func looksLikeHeader(a, b string) bool {
	return headerTokens[strings.ToLower(a)] && headerTokens[strings.ToLower(b)]
}
