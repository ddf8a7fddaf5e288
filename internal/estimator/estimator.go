// Package estimator implements C9: per-attempt execution time estimates
// and the timeout derived from them (spec.md §4.9).
package estimator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/flyingrobots/slaps/internal/fsutil"
	"github.com/flyingrobots/slaps/internal/llm"
	"github.com/flyingrobots/slaps/internal/logger"
	"github.com/flyingrobots/slaps/internal/metrics"
)

const (
	defaultEstimateMinutes = 20
	minTimeout             = 600 * time.Second
	maxTimeout             = 7200 * time.Second
)

// Estimate is the persisted per-attempt result (admin/estimates/<N>.json).
type Estimate struct {
	Attempt     int `json:"attempt"`
	EstimateSec int `json:"estimate_sec"`
	TimeoutSec  int `json:"timeout_sec"`
}

// Estimator loads or computes, then persists, the per-attempt estimate
// for a claimed task.
type Estimator struct {
	dir    string
	runner llm.Runner
	mu     sync.Mutex
}

func New(root string, runner llm.Runner) (*Estimator, error) {
	dir := filepath.Join(root, "admin", "estimates")
	if err := fsutil.EnsureDirs(dir); err != nil {
		return nil, err
	}
	return &Estimator{dir: dir, runner: runner}, nil
}

func (e *Estimator) path(issue int) string {
	return filepath.Join(e.dir, fmt.Sprintf("%d.json", issue))
}

// Estimate returns the estimate for (issue, attempt), loading a cached
// value from a prior identical attempt or invoking the LLM for a fresh
// one (spec.md §4.9: "On a new attempt for the same issue, re-estimate.").
func (e *Estimator) Estimate(ctx context.Context, issue, attempt int, prompt string) (Estimate, error) {
	e.mu.Lock()
	cached, ok := e.load(issue)
	e.mu.Unlock()
	if ok && cached.Attempt == attempt {
		return cached, nil
	}

	// The LLM call runs without e.mu held.
	minutes := e.runEstimatePrompt(ctx, prompt)
	estimateSec := minutes * 60
	timeoutSec := clampTimeout(2 * estimateSec)

	est := Estimate{Attempt: attempt, EstimateSec: estimateSec, TimeoutSec: timeoutSec}
	e.mu.Lock()
	err := e.persist(issue, est)
	e.mu.Unlock()
	if err != nil {
		logger.Warn().Err(err).Int("issue", issue).Msg("failed to persist estimate")
	}
	metrics.EstimatesComputed.Inc()
	return est, nil
}

func (e *Estimator) runEstimatePrompt(ctx context.Context, prompt string) int {
	res, err := e.runner.Estimate(ctx, llm.GuardrailPrefix+prompt)
	if err != nil || !res.Succeeded() {
		metrics.EstimateFallbacks.Inc()
		return defaultEstimateMinutes
	}
	minutes, ok := firstInteger(res.Stdout)
	if !ok {
		metrics.EstimateFallbacks.Inc()
		return defaultEstimateMinutes
	}
	return minutes
}

var integerPattern = regexp.MustCompile(`-?\d+`)

// firstInteger parses the first integer number of minutes out of the
// LLM's free-text response, per spec.md §4.9: "parse the first integer".
func firstInteger(s string) (int, bool) {
	match := integerPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(match, "%d", &n); err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func clampTimeout(sec int) int {
	d := time.Duration(sec) * time.Second
	if d < minTimeout {
		d = minTimeout
	}
	if d > maxTimeout {
		d = maxTimeout
	}
	return int(d / time.Second)
}

func (e *Estimator) load(issue int) (Estimate, bool) {
	data, err := os.ReadFile(e.path(issue))
	if err != nil {
		return Estimate{}, false
	}
	var est Estimate
	if err := json.Unmarshal(data, &est); err != nil {
		return Estimate{}, false
	}
	return est, true
}

func (e *Estimator) persist(issue int, est Estimate) error {
	data, err := json.Marshal(est)
	if err != nil {
		return err
	}
	return fsutil.AtomicWriteFile(e.path(issue), data, 0o644)
}
