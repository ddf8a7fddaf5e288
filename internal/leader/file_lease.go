package leader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flyingrobots/slaps/internal/fsutil"
)

// FileLease is the filesystem-backend transport: a heartbeat file at
// admin/leader.json containing the holder's id and a timestamp,
// overwritten atomically by whichever process observes it stale
// (spec.md §4.6, TTL default 15s).
type FileLease struct {
	path string
	id   string
	ttl  time.Duration
	mu   sync.Mutex
}

type heartbeat struct {
	HolderID string    `json:"holder_id"`
	At       time.Time `json:"at"`
}

func NewFileLease(root, holderID string, ttl time.Duration) (*FileLease, error) {
	dir := filepath.Join(root, "admin")
	if err := fsutil.EnsureDirs(dir); err != nil {
		return nil, err
	}
	return &FileLease{path: filepath.Join(dir, "leader.json"), id: holderID, ttl: ttl}, nil
}

func (l *FileLease) Acquire(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hb, ok := l.read(); ok {
		if hb.HolderID != l.id && time.Since(hb.At) < l.ttl {
			return false, nil
		}
	}
	return true, l.write()
}

func (l *FileLease) Release(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hb, ok := l.read(); ok && hb.HolderID == l.id {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("leader: release file lease: %w", err)
		}
	}
	return nil
}

func (l *FileLease) read() (heartbeat, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return heartbeat{}, false
	}
	var hb heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return heartbeat{}, false
	}
	return hb, true
}

func (l *FileLease) write() error {
	data, err := json.Marshal(heartbeat{HolderID: l.id, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("leader: marshal heartbeat: %w", err)
	}
	return fsutil.AtomicWriteFile(l.path, data, 0o644)
}

var _ Lease = (*FileLease)(nil)
