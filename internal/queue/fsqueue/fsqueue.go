// Package fsqueue implements the filesystem queue store backend
// (spec.md §4.1 backend A): one directory per state, atomic cross-directory
// rename as the sole mutation primitive.
package fsqueue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/flyingrobots/slaps/internal/fsutil"
	"github.com/flyingrobots/slaps/internal/ledger"
	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/task"
)

const (
	dirOpen    = "open"
	dirBlocked = "blocked"
	dirClaimed = "claimed"
	dirClosed  = "closed"
	dirFailed  = "failed"
	dirDead    = "dead"
)

var stateDirs = map[task.State]string{
	task.StateBlocked: dirBlocked,
	task.StateOpen:    dirOpen,
	task.StateClaimed: dirClaimed,
	task.StateClosed:  dirClosed,
	task.StateFailure: dirFailed,
	task.StateDead:    dirDead,
}

// Store is the filesystem-backed queue.Store implementation.
type Store struct {
	root   string
	ledger ledger.Ledger
}

// New opens (creating if absent) the per-wave state directories under
// root and verifies they share a single filesystem device, per spec.md
// §4.1: "The store refuses to start if the six state directories span
// multiple devices."
func New(root string, waves []int, led ledger.Ledger) (*Store, error) {
	s := &Store{root: root, ledger: led}

	var allDirs []string
	for _, w := range waves {
		for _, d := range []string{dirOpen, dirBlocked, dirClaimed, dirClosed, dirFailed, dirDead} {
			full := filepath.Join(s.waveDir(w), d)
			allDirs = append(allDirs, full)
		}
	}
	if err := fsutil.EnsureDirs(allDirs...); err != nil {
		return nil, err
	}

	same, err := fsutil.SameDevice(allDirs...)
	if err != nil {
		return nil, fmt.Errorf("fsqueue: device check: %w", err)
	}
	if !same {
		return nil, fmt.Errorf("fsqueue: state directories span multiple filesystem devices")
	}
	return s, nil
}

func (s *Store) waveDir(wave int) string {
	return filepath.Join(s.root, fmt.Sprintf("wave-%d", wave))
}

func (s *Store) stateDir(wave int, state task.State, workerID string) (string, error) {
	name, ok := stateDirs[state]
	if !ok {
		return "", fmt.Errorf("fsqueue: unknown state %s", state)
	}
	dir := filepath.Join(s.waveDir(wave), name)
	if state == task.StateClaimed {
		if workerID == "" {
			return "", fmt.Errorf("fsqueue: claimed state requires a worker id")
		}
		dir = filepath.Join(dir, workerID)
	}
	return dir, nil
}

func filename(issue int) string {
	return fmt.Sprintf("%d.txt", issue)
}

// parseIssue extracts the leading integer from a filename, ignoring any
// non-task file per spec.md §4.1 ("any non-task file is ignored").
func parseIssue(name string) (int, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	n, err := strconv.Atoi(base)
	if err != nil {
		return 0, false
	}
	return n, true
}

// List enumerates issues in state for wave, sorted lexicographically by
// filename (spec.md §8's claim-order property). For StateClaimed, every
// worker subdirectory is scanned.
func (s *Store) List(_ context.Context, wave int, state task.State) ([]int, error) {
	name, ok := stateDirs[state]
	if !ok {
		return nil, fmt.Errorf("fsqueue: unknown state %s", state)
	}
	base := filepath.Join(s.waveDir(wave), name)

	if state != task.StateClaimed {
		return listDir(base)
	}

	workers, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsqueue: list claimed: %w", err)
	}
	var out []int
	for _, w := range workers {
		if !w.IsDir() {
			continue
		}
		issues, err := listDir(filepath.Join(base, w.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, issues...)
	}
	return out, nil
}

func listDir(dir string) ([]int, error) {
	names, err := fsutil.ReadDirSorted(dir)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(names))
	for _, n := range names {
		if issue, ok := parseIssue(n); ok {
			out = append(out, issue)
		}
	}
	return out, nil
}

// Transition renames issue's file from its from-state directory to its
// to-state directory. workerID is required when from or to is
// task.StateClaimed.
func (s *Store) Transition(_ context.Context, wave, issue int, from, to task.State, workerID string) error {
	if !from.CanTransitionTo(to) {
		return task.ErrInvalidTransition
	}

	fromDir, err := s.stateDir(wave, from, workerID)
	if err != nil {
		return err
	}
	toDir, err := s.stateDir(wave, to, workerID)
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDirs(toDir); err != nil {
		return err
	}

	fromPath := filepath.Join(fromDir, filename(issue))
	toPath := filepath.Join(toDir, filename(issue))

	if err := os.Rename(fromPath, toPath); err != nil {
		if os.IsNotExist(err) {
			return queue.ErrAlreadyMoved
		}
		return fmt.Errorf("fsqueue: rename %s -> %s: %w", fromPath, toPath, err)
	}
	return nil
}

// WriteTask creates a new task file in the given state, used by wave
// initialization to seed blocked entries.
func (s *Store) WriteTask(_ context.Context, wave, issue int, state task.State, body string) error {
	dir, err := s.stateDir(wave, state, "")
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDirs(dir); err != nil {
		return err
	}
	path := filepath.Join(dir, filename(issue))
	return fsutil.AtomicWriteFile(path, []byte(body), 0o644)
}

// Get scans every state directory for issue's file, since the
// filesystem backend encodes state purely through location.
func (s *Store) Get(ctx context.Context, wave, issue int) (queue.Entry, error) {
	for state, name := range stateDirs {
		if state == task.StateClaimed {
			continue
		}
		path := filepath.Join(s.waveDir(wave), name, filename(issue))
		if body, ok := readIfExists(path); ok {
			return s.entry(ctx, wave, issue, state, "", body)
		}
	}

	claimedBase := filepath.Join(s.waveDir(wave), dirClaimed)
	workers, err := os.ReadDir(claimedBase)
	if err != nil && !os.IsNotExist(err) {
		return queue.Entry{}, fmt.Errorf("fsqueue: get: list claimed: %w", err)
	}
	for _, w := range workers {
		if !w.IsDir() {
			continue
		}
		path := filepath.Join(claimedBase, w.Name(), filename(issue))
		if body, ok := readIfExists(path); ok {
			return s.entry(ctx, wave, issue, task.StateClaimed, w.Name(), body)
		}
	}
	return queue.Entry{}, task.ErrTaskNotFound
}

func (s *Store) entry(ctx context.Context, wave, issue int, state task.State, worker, body string) (queue.Entry, error) {
	attempt := 0
	if s.ledger != nil {
		n, err := s.ledger.Get(ctx, issue)
		if err == nil {
			attempt = n
		}
	}
	return queue.Entry{
		Issue:    issue,
		Wave:     wave,
		State:    state,
		WorkerID: worker,
		Attempt:  attempt,
		Body:     body,
	}, nil
}

func readIfExists(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// SetAttempt delegates to the attempt ledger backing this store.
func (s *Store) SetAttempt(ctx context.Context, _, issue, n int) error {
	if s.ledger == nil {
		return fmt.Errorf("fsqueue: no ledger configured")
	}
	return s.ledger.Set(ctx, issue, n)
}

// SetWorker moves issue's file between claimed worker subdirectories
// without changing its state.
func (s *Store) SetWorker(_ context.Context, wave, issue int, workerID string) error {
	claimedBase := filepath.Join(s.waveDir(wave), dirClaimed)
	workers, err := os.ReadDir(claimedBase)
	if err != nil {
		if os.IsNotExist(err) {
			return task.ErrTaskNotFound
		}
		return fmt.Errorf("fsqueue: set worker: %w", err)
	}
	for _, w := range workers {
		if !w.IsDir() || w.Name() == workerID {
			continue
		}
		src := filepath.Join(claimedBase, w.Name(), filename(issue))
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dstDir := filepath.Join(claimedBase, workerID)
		if err := fsutil.EnsureDirs(dstDir); err != nil {
			return err
		}
		return os.Rename(src, filepath.Join(dstDir, filename(issue)))
	}
	return task.ErrTaskNotFound
}

// ListClaimedByWorker lists the issues currently sitting in workerID's
// own claimed subdirectory, letting the caller detect a corrupted slot
// (spec.md §4.4 step 1: "more than one file").
func (s *Store) ListClaimedByWorker(_ context.Context, wave int, workerID string) ([]int, error) {
	dir := filepath.Join(s.waveDir(wave), dirClaimed, workerID)
	return listDir(dir)
}

var _ queue.Store = (*Store)(nil)
var _ queue.ClaimedLister = (*Store)(nil)
