// Package metrics exposes SLAPS's prometheus metrics, following the
// teacher's promauto-registered-package-vars pattern.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task lifecycle metrics
	TasksClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_tasks_claimed_total",
			Help: "Total number of tasks claimed by a worker",
		},
		[]string{"worker_id"},
	)

	TasksClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_tasks_closed_total",
			Help: "Total number of tasks closed successfully",
		},
		[]string{"wave"},
	)

	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_tasks_failed_total",
			Help: "Total number of task attempts that ended in failure",
		},
		[]string{"wave", "attempt"},
	)

	TasksDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_tasks_dead_total",
			Help: "Total number of tasks moved to dead after exhausting retries",
		},
		[]string{"wave"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slaps_task_duration_seconds",
			Help:    "Task execution duration in seconds, claim to terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
		},
		[]string{"wave"},
	)

	// Queue / state metrics
	TasksByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slaps_tasks_by_state",
			Help: "Current number of tasks in each state",
		},
		[]string{"state"},
	)

	WaveProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slaps_wave_progress_ratio",
			Help: "Fraction of a wave's tasks that are closed",
		},
		[]string{"wave"},
	)

	DependentsUnlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_dependents_unlocked_total",
			Help: "Total number of blocked tasks unlocked by a closed-marker",
		},
		[]string{"wave"},
	)

	// Worker metrics
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slaps_active_workers",
			Help: "Current number of running worker goroutines",
		},
	)

	WorkerBusyTime = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_worker_busy_seconds_total",
			Help: "Total time workers spent executing tasks",
		},
		[]string{"worker_id"},
	)

	WorkerClaimRaces = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slaps_worker_claim_races_total",
			Help: "Total number of atomic-rename claim attempts that lost the race",
		},
	)

	// Watcher / cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_cache_hits_total",
			Help: "Total number of cache reads served without a directory listing",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_cache_misses_total",
			Help: "Total number of cache reads that required a directory listing",
		},
		[]string{"cache"},
	)

	CacheHitRatioWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slaps_cache_hit_ratio_warnings_total",
			Help: "Total number of times the rolling cache hit ratio fell below the configured threshold",
		},
	)

	WatcherTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slaps_watcher_tick_duration_seconds",
			Help:    "Duration of a single watcher reconciliation tick",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	ReconcileBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slaps_reconcile_batch_size",
			Help:    "Number of closed/failed tasks processed in a single reconcile pass",
			Buckets: prometheus.LinearBuckets(0, 10, 20),
		},
	)

	// Leader election metrics
	LeaderElections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slaps_leader_elections_total",
			Help: "Total number of times this process acquired the leader lease",
		},
	)

	IsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slaps_is_leader",
			Help: "1 if this process currently holds the leader lease, else 0",
		},
	)

	// Estimator metrics
	EstimatesComputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slaps_estimates_computed_total",
			Help: "Total number of task duration estimates computed",
		},
	)

	EstimateFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slaps_estimate_fallbacks_total",
			Help: "Total number of estimates that fell back to the default after a parse failure",
		},
	)

	// GitHub API metrics
	GitHubRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slaps_github_request_duration_seconds",
			Help:    "GitHub API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	GitHubRateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slaps_github_rate_limit_remaining",
			Help: "Remaining GitHub API rate limit quota as of the last response",
		},
	)

	GitHubRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_github_retries_total",
			Help: "Total number of GitHub API requests retried after a rate limit or transient error",
		},
		[]string{"operation"},
	)

	// Dashboard HTTP/WebSocket metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slaps_http_request_duration_seconds",
			Help:    "Dashboard HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slaps_dashboard_websocket_connections",
			Help: "Current number of connected dashboard WebSocket clients",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_dashboard_websocket_messages_total",
			Help: "Total number of events broadcast to dashboard WebSocket clients",
		},
		[]string{"type"},
	)
)

func RecordTaskClaim(workerID string) {
	TasksClaimed.WithLabelValues(workerID).Inc()
}

func RecordTaskClosed(wave string, durationSec float64) {
	TasksClosed.WithLabelValues(wave).Inc()
	TaskDuration.WithLabelValues(wave).Observe(durationSec)
}

func RecordTaskFailed(wave string, attempt int) {
	TasksFailed.WithLabelValues(wave, strconv.Itoa(attempt)).Inc()
}

func RecordTaskDead(wave string) {
	TasksDeadLettered.WithLabelValues(wave).Inc()
}

func SetTasksByState(state string, count float64) {
	TasksByState.WithLabelValues(state).Set(count)
}

func SetWaveProgress(wave string, ratio float64) {
	WaveProgress.WithLabelValues(wave).Set(ratio)
}

func RecordDependentsUnlocked(wave string, n int) {
	DependentsUnlocked.WithLabelValues(wave).Add(float64(n))
}

func SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

func RecordWorkerBusyTime(workerID string, duration float64) {
	WorkerBusyTime.WithLabelValues(workerID).Add(duration)
}

func RecordCacheAccess(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
	} else {
		CacheMisses.WithLabelValues(cache).Inc()
	}
}

func RecordLeaderElected() {
	LeaderElections.Inc()
	IsLeader.Set(1)
}

func RecordLeaderLost() {
	IsLeader.Set(0)
}

func RecordGitHubRequest(operation string, duration float64) {
	GitHubRequestDuration.WithLabelValues(operation).Observe(duration)
}

func RecordGitHubRetry(operation string) {
	GitHubRetries.WithLabelValues(operation).Inc()
}

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
}

func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
