// Package config loads SLAPS's typed configuration from environment
// variables (spec.md §6 "Environment knobs") with viper, following the
// teacher's load-then-unmarshal pattern.
package config

import (
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Root     string
	Wave     int
	Backend  string // "fs" or "gh"
	Worker   WorkerConfig
	Queue    QueueConfig
	Leader   LeaderConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Dashboard DashboardConfig
	Metrics  MetricsConfig
	Auth     AuthConfig
	LogLevel string
}

type WorkerConfig struct {
	ID              string
	Count           int           // SLAPS_WORKERS
	ShutdownTimeout time.Duration
	PollJitterMin   time.Duration
	PollJitterMax   time.Duration
}

type QueueConfig struct {
	BlockersTTL      time.Duration // SLAPS_BLOCKERS_TTL
	ReconcileSec     time.Duration // SLAPS_RECONCILE_SEC
	ReconcileMax     int           // SLAPS_RECONCILE_MAX
	ProgressMinSec   time.Duration // SLAPS_PROGRESS_MIN_SEC
	TickInterval     time.Duration
	WaveStatusIssue  string // WAVE_STATUS_ISSUE
	LeaseTTL         time.Duration
}

type LeaderConfig struct {
	HeartbeatTTL      time.Duration
	HeartbeatInterval time.Duration
}

type CacheConfig struct {
	RefreshIntervalSec time.Duration // SLAPS_REFRESH_SEC
	WavesTTLSec        time.Duration
	HitRateWarn        float64 // SLAPS_CACHE_HIT_WARN
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DashboardConfig struct {
	Enabled bool
	Addr    string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

// Load reads SLAPS_*, TASK_WAVE, and WAVE_STATUS_ISSUE from the
// environment (spec.md §6), falling back to sensible defaults.
func Load() (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("SLAPS")
	viper.AutomaticEnv()

	// A handful of knobs intentionally don't carry the SLAPS_ prefix
	// (spec.md §6): bind them explicitly.
	_ = viper.BindEnv("wave", "TASK_WAVE")
	_ = viper.BindEnv("queue.wavestatusissue", "WAVE_STATUS_ISSUE")
	_ = viper.BindEnv("worker.count", "SLAPS_WORKERS")
	_ = viper.BindEnv("cache.refreshintervalsec", "SLAPS_REFRESH_SEC")
	_ = viper.BindEnv("queue.blockersttl", "SLAPS_BLOCKERS_TTL")
	_ = viper.BindEnv("cache.hitratewarn", "SLAPS_CACHE_HIT_WARN")
	_ = viper.BindEnv("queue.reconcilesec", "SLAPS_RECONCILE_SEC")
	_ = viper.BindEnv("queue.reconcilemax", "SLAPS_RECONCILE_MAX")
	_ = viper.BindEnv("queue.progressminsec", "SLAPS_PROGRESS_MIN_SEC")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Worker.Count <= 0 {
		cfg.Worker.Count = runtime.NumCPU()
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("root", "./slaps-root")
	viper.SetDefault("wave", 1)
	viper.SetDefault("backend", "fs")
	viper.SetDefault("loglevel", "info")

	viper.SetDefault("worker.id", "")
	viper.SetDefault("worker.count", 0) // 0 => runtime.NumCPU()
	viper.SetDefault("worker.shutdowntimeout", 30*time.Second)
	viper.SetDefault("worker.polljittermin", 20*time.Second)
	viper.SetDefault("worker.polljittermax", 30*time.Second)

	viper.SetDefault("queue.blockersttl", 300*time.Second)
	viper.SetDefault("queue.reconcilesec", 2*time.Second)
	viper.SetDefault("queue.reconcilemax", 0)
	viper.SetDefault("queue.progressminsec", 10*time.Second)
	viper.SetDefault("queue.tickinterval", 2*time.Second)
	viper.SetDefault("queue.wavestatusissue", "")
	viper.SetDefault("queue.leasettl", 1800*time.Second)

	viper.SetDefault("leader.heartbeatttl", 15*time.Second)
	viper.SetDefault("leader.heartbeatinterval", 5*time.Second)

	viper.SetDefault("cache.refreshintervalsec", 60*time.Second)
	viper.SetDefault("cache.wavesttlsec", 600*time.Second)
	viper.SetDefault("cache.hitratewarn", 0.7)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 20)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	viper.SetDefault("dashboard.enabled", false)
	viper.SetDefault("dashboard.addr", ":8090")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})
}
