// Package lease implements the backend B claim primitive described in
// spec.md §6: "Filename <issue>.lock.txt created exclusively; content is
// either a single integer worker id or a JSON record {worker_id, pid,
// started_at, est_timeout_sec}." A worker's exclusive-create win is its
// lock until the leader reflects the claim into the server state or the
// lease goes stale and is reaped.
package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/flyingrobots/slaps/internal/fsutil"
)

// Record is the JSON body written into a lease file.
type Record struct {
	WorkerID      string    `json:"worker_id"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	EstTimeoutSec int       `json:"est_timeout_sec"`
}

// Store manages lease files for the server-fields queue backend under a
// single directory (one file per issue, independent of wave).
type Store struct {
	dir string
}

func New(root string) (*Store, error) {
	dir := filepath.Join(root, "admin", "leases")
	if err := fsutil.EnsureDirs(dir); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(issue int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.lock.txt", issue))
}

// ErrHeld is returned by Acquire when another worker already holds a
// live (non-stale) lease for the issue.
var ErrHeld = fmt.Errorf("lease: already held")

// Acquire attempts to exclusively create issue's lease file. It fails
// with ErrHeld if a live lease already exists, after first reaping it
// if it has gone stale (older than ttl).
func (s *Store) Acquire(_ context.Context, issue int, rec Record, ttl time.Duration) error {
	path := s.path(issue)
	if existing, ok := s.readUnlocked(path); ok {
		if time.Since(existing.StartedAt) < ttl {
			return ErrHeld
		}
		// stale: reap before attempting to reacquire.
		_ = os.Remove(path)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("lease: marshal: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrHeld
		}
		return fmt.Errorf("lease: create: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("lease: write: %w", err)
	}
	return nil
}

// Release removes issue's lease file, regardless of owner. Called once
// the leader reflects the claim server-side, or when a worker gives up
// after a claim-reflection timeout (spec.md §4.1 backend B).
func (s *Store) Release(_ context.Context, issue int) error {
	if err := os.Remove(s.path(issue)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lease: release: %w", err)
	}
	return nil
}

// Get returns the current lease record for issue, if any.
func (s *Store) Get(_ context.Context, issue int) (Record, bool) {
	return s.readUnlocked(s.path(issue))
}

// Stale lists issue numbers whose lease has exceeded ttl. Nothing in the
// module calls it: the watcher runs no reaping pass, and a stale lease is
// only reaped by Acquire, for the issue being claimed.
func (s *Store) Stale(_ context.Context, ttl time.Duration) ([]int, error) {
	names, err := fsutil.ReadDirSorted(s.dir)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, name := range names {
		issue, ok := parseIssue(name)
		if !ok {
			continue
		}
		rec, ok := s.readUnlocked(filepath.Join(s.dir, name))
		if !ok {
			continue
		}
		if time.Since(rec.StartedAt) >= ttl {
			out = append(out, issue)
		}
	}
	return out, nil
}

func (s *Store) readUnlocked(path string) (Record, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err == nil && !rec.StartedAt.IsZero() {
		return rec, true
	}
	// legacy/minimal form: a bare integer worker id, per spec.md §6.
	if wid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
		return Record{WorkerID: strconv.Itoa(wid), StartedAt: time.Now()}, true
	}
	return Record{}, false
}

func parseIssue(name string) (int, bool) {
	base := strings.TrimSuffix(name, ".lock.txt")
	if base == name {
		return 0, false
	}
	n, err := strconv.Atoi(base)
	if err != nil {
		return 0, false
	}
	return n, true
}
