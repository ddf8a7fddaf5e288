// Command slaps-watcher runs the single-instance watcher (C5): closed
// marker bookkeeping, dependent unlocking, attempt-ledger bumps and
// remediation, reporting a periodic progress summary.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flyingrobots/slaps/internal/bootstrap"
	"github.com/flyingrobots/slaps/internal/closedmarker"
	"github.com/flyingrobots/slaps/internal/config"
	"github.com/flyingrobots/slaps/internal/dashboard"
	"github.com/flyingrobots/slaps/internal/dashboard/middleware"
	"github.com/flyingrobots/slaps/internal/events"
	"github.com/flyingrobots/slaps/internal/ledger"
	"github.com/flyingrobots/slaps/internal/llm"
	"github.com/flyingrobots/slaps/internal/logger"
	"github.com/flyingrobots/slaps/internal/queue/fsqueue"
	"github.com/flyingrobots/slaps/internal/watcher"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "slaps-watcher",
	Short:   "Watch one or more SLAPS waves and remediate failures",
	Version: Version,
	RunE:    runWatcher,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("slaps-watcher %s (%s)\n", Version, Commit))
	rootCmd.Flags().IntSlice("wave", nil, "wave(s) to watch; defaults to the single configured wave")
	rootCmd.Flags().String("status-addr", "", "if set, serve the read-only status dashboard on this address (e.g. :8090)")
}

func runWatcher(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel, true)

	waves, _ := cmd.Flags().GetIntSlice("wave")
	if len(waves) == 0 {
		waves = []int{cfg.Wave}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	led, err := ledger.NewFS(cfg.Root)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if cfg.Backend == "gh" {
		return fmt.Errorf("backend %q requires a ghapi.Client implementation, which this build does not ship (see DESIGN.md)", cfg.Backend)
	}
	closed, err := closedmarker.NewFS(cfg.Root)
	if err != nil {
		return fmt.Errorf("open closed-marker set: %w", err)
	}
	store, err := fsqueue.New(cfg.Root, waves, led)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}

	records, err := bootstrap.LoadRawRecords(cfg.Root)
	if err != nil {
		return fmt.Errorf("load raw records: %w", err)
	}
	edges, err := bootstrap.LoadEdges(cfg.Root)
	if err != nil {
		return fmt.Errorf("load edges: %w", err)
	}
	graph := bootstrap.BuildGraph(records, edges)
	for _, wave := range waves {
		if err := bootstrap.SeedWave(ctx, store, graph, closed, records, wave); err != nil {
			return fmt.Errorf("seed wave %d: %w", wave, err)
		}
	}

	jsonLog, err := events.NewJSONLog(cfg.Root + "/admin/events.jsonl")
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	var pub events.Publisher = jsonLog

	var runner llm.Runner = llm.NewCLIRunner(nil)

	statusAddr, _ := cmd.Flags().GetString("status-addr")
	if statusAddr != "" {
		dashCfg := dashboard.Config{
			MetricsEnable: cfg.Metrics.Enabled,
			MetricsPath:   cfg.Metrics.Path,
			Auth:          dashMiddlewareAuthConfig(cfg),
		}
		srv := dashboard.NewServer(dashCfg, store, waves, nil, nil)
		srv.Start(ctx)
		go func() {
			logger.Get().Info().Str("addr", statusAddr).Msg("serving status dashboard")
			if err := http.ListenAndServe(statusAddr, srv.Router()); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("status dashboard stopped")
			}
		}()
		defer srv.Stop()

		pub = events.NewMultiPublisher(jsonLog, func(sink events.Publisher, err error) {
			logger.Warn().Err(err).Msg("dashboard: failed to mirror event to live sink")
		}, srv.Publisher())
	}

	w := watcher.New(store, waves, closed, graph, led, runner, pub, cfg.Queue.TickInterval, cfg.Queue.ProgressMinSec, cfg.Root)

	logger.Get().Info().Ints("waves", waves).Msg("starting watcher")
	return w.Run(ctx)
}

func dashMiddlewareAuthConfig(cfg *config.Config) middleware.AuthConfig {
	keys := make(map[string]bool, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		keys[k] = true
	}
	return middleware.AuthConfig{Enabled: cfg.Auth.Enabled, JWTSecret: cfg.Auth.JWTSecret, APIKeys: keys}
}
