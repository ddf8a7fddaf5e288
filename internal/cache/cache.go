// Package cache implements C7: the leader-writes/workers-read snapshot
// of project items and wave membership, per spec.md §4.7. Readers
// tolerate absence or staleness and fall back to a direct call. Every
// read records a hit or miss in Prometheus counters; SnapshotStats
// emits the in-process hit/miss counters as a cache_stats /
// cache_stats_warning event pair and resets them.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flyingrobots/slaps/internal/events"
	"github.com/flyingrobots/slaps/internal/fsutil"
	"github.com/flyingrobots/slaps/internal/metrics"
)

// ItemFields mirrors one project item's server-side fields at the time
// of the last refresh.
type ItemFields struct {
	State   string `json:"state"`
	Wave    int    `json:"wave"`
	Worker  int    `json:"worker"`
	Attempt int    `json:"attempt"`
}

// Item is one entry of the items cache.
type Item struct {
	ItemID      string     `json:"item_id"`
	IssueNumber int        `json:"issue_number"`
	Fields      ItemFields `json:"fields"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type itemsSnapshot struct {
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

type wavesSnapshot struct {
	Waves     map[int][]int `json:"waves"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Cache is the combined items + waves cache, persisted under
// admin/cache/{items,waves}.json.
type Cache struct {
	itemsPath string
	wavesPath string

	refreshInterval time.Duration
	wavesTTL        time.Duration
	hitRateWarn     float64
	publisher       events.Publisher

	mu    sync.RWMutex
	items itemsSnapshot
	waves wavesSnapshot

	hits   int64
	misses int64
}

func New(root string, refreshInterval, wavesTTL time.Duration, hitRateWarn float64, publisher events.Publisher) (*Cache, error) {
	dir := filepath.Join(root, "admin", "cache")
	if err := fsutil.EnsureDirs(dir); err != nil {
		return nil, err
	}
	c := &Cache{
		itemsPath:       filepath.Join(dir, "items.json"),
		wavesPath:       filepath.Join(dir, "waves.json"),
		refreshInterval: refreshInterval,
		wavesTTL:        wavesTTL,
		hitRateWarn:     hitRateWarn,
		publisher:       publisher,
	}
	c.loadFromDisk()
	return c, nil
}

func (c *Cache) loadFromDisk() {
	if data, err := loadJSON(c.itemsPath); err == nil {
		_ = json.Unmarshal(data, &c.items)
	}
	if data, err := loadJSON(c.wavesPath); err == nil {
		_ = json.Unmarshal(data, &c.waves)
	}
}

// RefreshDue reports whether enough time has passed since the items
// cache's last write to justify another refresh pass.
func (c *Cache) RefreshDue() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.items.UpdatedAt) >= c.refreshInterval
}

// WriteItems overwrites the items cache (leader-only in practice; the
// caller enforces that via its own isLeader check before calling).
func (c *Cache) WriteItems(items []Item) error {
	c.mu.Lock()
	c.items = itemsSnapshot{Items: items, UpdatedAt: time.Now().UTC()}
	snap := c.items
	c.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: marshal items: %w", err)
	}
	return fsutil.AtomicWriteFile(c.itemsPath, data, 0o644)
}

// WriteWaves overwrites the wave-membership cache.
func (c *Cache) WriteWaves(waves map[int][]int) error {
	c.mu.Lock()
	c.waves = wavesSnapshot{Waves: waves, UpdatedAt: time.Now().UTC()}
	snap := c.waves
	c.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: marshal waves: %w", err)
	}
	return fsutil.AtomicWriteFile(c.wavesPath, data, 0o644)
}

// FindItem looks up issue in the items cache. A cache miss (issue absent
// from the snapshot; the snapshot's age is not checked) falls back to fetch,
// which the caller supplies (e.g. a ghapi.Client call), and the result
// is NOT written back here — callers that want persistence call
// WriteItems after a full refresh pass.
func (c *Cache) FindItem(ctx context.Context, issue int, fetch func(context.Context) (Item, error)) (Item, error) {
	c.mu.RLock()
	for _, it := range c.items.Items {
		if it.IssueNumber == issue {
			c.mu.RUnlock()
			atomic.AddInt64(&c.hits, 1)
			metrics.RecordCacheAccess("items", true)
			return it, nil
		}
	}
	c.mu.RUnlock()

	atomic.AddInt64(&c.misses, 1)
	metrics.RecordCacheAccess("items", false)
	return fetch(ctx)
}

// IssuesForWave returns the cached issue list for wave, honoring the
// waves cache's TTL (default 600s); a stale or absent entry is a miss.
func (c *Cache) IssuesForWave(ctx context.Context, wave int, fetch func(context.Context) ([]int, error)) ([]int, error) {
	c.mu.RLock()
	fresh := time.Since(c.waves.UpdatedAt) < c.wavesTTL
	issues, ok := c.waves.Waves[wave]
	c.mu.RUnlock()

	if ok && fresh {
		atomic.AddInt64(&c.hits, 1)
		metrics.RecordCacheAccess("waves", true)
		return issues, nil
	}

	atomic.AddInt64(&c.misses, 1)
	metrics.RecordCacheAccess("waves", false)
	return fetch(ctx)
}

// HitRate returns the cumulative hit rate since the last SnapshotStats
// call, or 1.0 when there have been no accesses yet.
func (c *Cache) HitRate() float64 {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	if total == 0 {
		return 1.0
	}
	return float64(hits) / float64(total)
}

// SnapshotStats emits a cache_stats event (and a cache_stats_warning
// when the hit rate is below threshold), then resets the counters for
// the next window (spec.md §4.7: "periodically snapshotted and
// emitted").
func (c *Cache) SnapshotStats(ctx context.Context) error {
	hits := atomic.SwapInt64(&c.hits, 0)
	misses := atomic.SwapInt64(&c.misses, 0)
	total := hits + misses
	rate := 1.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}

	if c.publisher == nil {
		return nil
	}
	if err := c.publisher.Publish(ctx, events.New(time.Now(), events.EventCacheStats, map[string]interface{}{
		"hits": hits, "misses": misses, "hit_rate": rate,
	})); err != nil {
		return fmt.Errorf("cache: publish cache_stats: %w", err)
	}

	if total > 0 && rate < c.hitRateWarn {
		metrics.CacheHitRatioWarnings.Inc()
		if err := c.publisher.Publish(ctx, events.New(time.Now(), events.EventCacheStatsWarning, map[string]interface{}{
			"hit_rate": rate, "threshold": c.hitRateWarn,
		})); err != nil {
			return fmt.Errorf("cache: publish cache_stats_warning: %w", err)
		}
	}
	return nil
}

func loadJSON(path string) ([]byte, error) {
	return fsutil.ReadFileIfExists(path)
}
