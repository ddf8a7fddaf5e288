package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./slaps-root", cfg.Root)
	assert.Equal(t, 1, cfg.Wave)
	assert.Equal(t, "fs", cfg.Backend)
	assert.Equal(t, "info", cfg.LogLevel)

	assert.Greater(t, cfg.Worker.Count, 0, "zero worker count should default to runtime.NumCPU()")
	assert.Equal(t, 30*time.Second, cfg.Worker.ShutdownTimeout)

	assert.Equal(t, 300*time.Second, cfg.Queue.BlockersTTL)
	assert.Equal(t, 2*time.Second, cfg.Queue.ReconcileSec)
	assert.Equal(t, 0, cfg.Queue.ReconcileMax)
	assert.Equal(t, 10*time.Second, cfg.Queue.ProgressMinSec)
	assert.Equal(t, "", cfg.Queue.WaveStatusIssue)
	assert.Equal(t, 1800*time.Second, cfg.Queue.LeaseTTL)

	assert.Equal(t, 15*time.Second, cfg.Leader.HeartbeatTTL)

	assert.Equal(t, 60*time.Second, cfg.Cache.RefreshIntervalSec)
	assert.Equal(t, 600*time.Second, cfg.Cache.WavesTTLSec)
	assert.Equal(t, 0.7, cfg.Cache.HitRateWarn)

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	assert.False(t, cfg.Dashboard.Enabled)
	assert.Equal(t, ":8090", cfg.Dashboard.Addr)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.False(t, cfg.Auth.Enabled)
}

func TestLoad_EnvKnobs(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	for k, v := range map[string]string{
		"TASK_WAVE":                "3",
		"WAVE_STATUS_ISSUE":        "42",
		"SLAPS_WORKERS":            "6",
		"SLAPS_REFRESH_SEC":        "90s",
		"SLAPS_BLOCKERS_TTL":       "600s",
		"SLAPS_CACHE_HIT_WARN":     "0.5",
		"SLAPS_RECONCILE_SEC":      "5s",
		"SLAPS_RECONCILE_MAX":      "10",
		"SLAPS_PROGRESS_MIN_SEC":   "20s",
	} {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Wave)
	assert.Equal(t, "42", cfg.Queue.WaveStatusIssue)
	assert.Equal(t, 6, cfg.Worker.Count)
	assert.Equal(t, 90*time.Second, cfg.Cache.RefreshIntervalSec)
	assert.Equal(t, 600*time.Second, cfg.Queue.BlockersTTL)
	assert.Equal(t, 0.5, cfg.Cache.HitRateWarn)
	assert.Equal(t, 5*time.Second, cfg.Queue.ReconcileSec)
	assert.Equal(t, 10, cfg.Queue.ReconcileMax)
	assert.Equal(t, 20*time.Second, cfg.Queue.ProgressMinSec)
}

func TestLoad_WorkerCountDefaultsToNumCPUWhenZero(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	t.Setenv("SLAPS_WORKERS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Greater(t, cfg.Worker.Count, 0)
}

func TestWorkerConfig_Fields(t *testing.T) {
	cfg := WorkerConfig{
		ID:              "worker-1",
		Count:           10,
		ShutdownTimeout: 30 * time.Second,
		PollJitterMin:   20 * time.Second,
		PollJitterMax:   30 * time.Second,
	}

	assert.Equal(t, "worker-1", cfg.ID)
	assert.Equal(t, 10, cfg.Count)
}

func TestQueueConfig_Fields(t *testing.T) {
	cfg := QueueConfig{
		BlockersTTL:     5 * time.Minute,
		ReconcileSec:    2 * time.Second,
		ReconcileMax:    5,
		ProgressMinSec:  10 * time.Second,
		TickInterval:    2 * time.Second,
		WaveStatusIssue: "7",
		LeaseTTL:        30 * time.Minute,
	}

	assert.Equal(t, 5*time.Minute, cfg.BlockersTTL)
	assert.Equal(t, "7", cfg.WaveStatusIssue)
}
