package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/flyingrobots/slaps/internal/fsutil"
	"github.com/flyingrobots/slaps/internal/logger"
)

// FSLedger persists attempt counters under admin/attempts/<N>.count and
// reason paragraphs under failures/reasons/<N>.txt, per spec.md §6's
// filesystem layout.
type FSLedger struct {
	attemptsDir string
	reasonsDir  string
	mu          sync.Mutex
}

func NewFS(root string) (*FSLedger, error) {
	attemptsDir := filepath.Join(root, "admin", "attempts")
	reasonsDir := filepath.Join(root, "failures", "reasons")
	if err := fsutil.EnsureDirs(attemptsDir, reasonsDir); err != nil {
		return nil, err
	}
	return &FSLedger{attemptsDir: attemptsDir, reasonsDir: reasonsDir}, nil
}

func (l *FSLedger) countPath(issue int) string {
	return filepath.Join(l.attemptsDir, fmt.Sprintf("%d.count", issue))
}

func (l *FSLedger) reasonPath(issue int) string {
	return filepath.Join(l.reasonsDir, fmt.Sprintf("%d.txt", issue))
}

func (l *FSLedger) Get(_ context.Context, issue int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(issue)
}

func (l *FSLedger) read(issue int) (int, error) {
	data, err := os.ReadFile(l.countPath(issue))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: read count: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, nil // corrupt counter: treat as never-failed rather than aborting the watcher
	}
	return n, nil
}

func (l *FSLedger) Increment(_ context.Context, issue int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.read(issue)
	if err != nil {
		return 0, err
	}
	n++
	if err := fsutil.AtomicWriteFile(l.countPath(issue), []byte(strconv.Itoa(n)), 0o644); err != nil {
		return n, fmt.Errorf("ledger: write count: %w", err)
	}
	return n, nil
}

func (l *FSLedger) Set(_ context.Context, issue, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := fsutil.AtomicWriteFile(l.countPath(issue), []byte(strconv.Itoa(n)), 0o644); err != nil {
		return fmt.Errorf("ledger: write count: %w", err)
	}
	return nil
}

func (l *FSLedger) AppendReason(_ context.Context, issue int, attempt int, reason string) error {
	para := ReasonParagraph(attempt, reason)
	if err := fsutil.AppendBestEffort(l.reasonPath(issue), para); err != nil {
		logger.Warn().Err(err).Int("issue", issue).Msg("failed to append reason log entry")
		return err
	}
	return nil
}

var _ Ledger = (*FSLedger)(nil)
