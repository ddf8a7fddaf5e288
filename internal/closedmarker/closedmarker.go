// Package closedmarker implements the idempotent, monotonic closed-marker
// set described in spec.md §3: "A persistent, idempotent record that a
// given issue is closed... the marker must survive" a task file being
// moved out of its closed directory by later administrative action.
package closedmarker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flyingrobots/slaps/internal/fsutil"
)

// Set tracks which issues have ever closed. Once marked, an issue stays
// marked (spec.md §3 invariant: "Closed-marker presence is monotonic:
// once set for issue I, never cleared by normal operation").
type Set interface {
	// Mark records issue as closed. Calling Mark twice for the same
	// issue is a no-op the second time (spec.md §8: "Double-handling a
	// closed event produces the same state").
	Mark(ctx context.Context, issue int, at time.Time) (alreadyMarked bool, err error)

	// IsClosed reports whether issue has ever been marked closed.
	IsClosed(ctx context.Context, issue int) (bool, error)

	// All returns the full set of marked issue numbers.
	All(ctx context.Context) ([]int, error)
}

// FSSet persists one file per closed issue under
// admin/closed/<N>.closed, per spec.md §6's filesystem layout. Each file
// holds the RFC 3339 UTC time the issue was first marked.
type FSSet struct {
	dir string
	mu  sync.Mutex
}

func NewFS(root string) (*FSSet, error) {
	dir := filepath.Join(root, "admin", "closed")
	if err := fsutil.EnsureDirs(dir); err != nil {
		return nil, err
	}
	return &FSSet{dir: dir}, nil
}

func (s *FSSet) path(issue int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.closed", issue))
}

func (s *FSSet) Mark(_ context.Context, issue int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(issue)
	if _, err := os.Stat(path); err == nil {
		return true, nil
	}
	content := at.UTC().Format(time.RFC3339)
	if err := fsutil.AtomicWriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("closedmarker: write: %w", err)
	}
	return false, nil
}

func (s *FSSet) IsClosed(_ context.Context, issue int) (bool, error) {
	_, err := os.Stat(s.path(issue))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("closedmarker: stat: %w", err)
}

func (s *FSSet) All(_ context.Context) ([]int, error) {
	names, err := fsutil.ReadDirSorted(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(names))
	for _, n := range names {
		base := strings.TrimSuffix(n, ".closed")
		if base == n {
			continue
		}
		if v, err := strconv.Atoi(base); err == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

var _ Set = (*FSSet)(nil)
