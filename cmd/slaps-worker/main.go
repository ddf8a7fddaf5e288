// Command slaps-worker runs one pool of worker goroutines against a
// single wave's open queue (spec.md §4.4, C4). Grounded on the
// teacher's cobra root-command layout (cmd/warren/main.go): a single
// command with its own flags and a RunE doing the work.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/flyingrobots/slaps/internal/bootstrap"
	"github.com/flyingrobots/slaps/internal/closedmarker"
	"github.com/flyingrobots/slaps/internal/config"
	"github.com/flyingrobots/slaps/internal/estimator"
	"github.com/flyingrobots/slaps/internal/events"
	"github.com/flyingrobots/slaps/internal/ledger"
	"github.com/flyingrobots/slaps/internal/llm"
	"github.com/flyingrobots/slaps/internal/logger"
	"github.com/flyingrobots/slaps/internal/queue/fsqueue"
	"github.com/flyingrobots/slaps/internal/worker"
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
	Use:     "slaps-worker",
	Short:   "Run a pool of SLAPS workers against a single wave",
	Version: Version,
	RunE:    runWorker,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("slaps-worker %s (%s)\n", Version, Commit))
	rootCmd.Flags().String("llm-command", "", "space-free binary path to invoke for each task attempt (repeat for args via --llm-arg)")
	rootCmd.Flags().StringSlice("llm-arg", nil, "argument to append to --llm-command, may be repeated")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel, true)

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
	store, err := fsqueue.New(cfg.Root, []int{cfg.Wave}, led)
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
	if err := bootstrap.SeedWave(ctx, store, graph, closed, records, cfg.Wave); err != nil {
		return fmt.Errorf("seed wave %d: %w", cfg.Wave, err)
	}

	llmCommand, _ := cmd.Flags().GetString("llm-command")
	llmArgs, _ := cmd.Flags().GetStringSlice("llm-arg")
	var runner llm.Runner
	if llmCommand != "" {
		runner = llm.NewCLIRunner(append([]string{llmCommand}, llmArgs...))
	} else {
		runner = llm.NewCLIRunner(nil)
	}

	pub, err := events.NewJSONLog(cfg.Root + "/admin/events.jsonl")
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	estim, err := estimator.New(cfg.Root, runner)
	if err != nil {
		return fmt.Errorf("open estimator: %w", err)
	}

	exec := worker.NewExecutor(runner)
	pool := worker.NewPool(cfg.Worker.ID, cfg.Worker.Count, cfg.Wave, store, estim, exec, pub, cfg.Worker.PollJitterMin, cfg.Worker.PollJitterMax)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Path)
	}

	logger.Get().Info().Int("wave", cfg.Wave).Int("workers", cfg.Worker.Count).Msg("starting worker pool")
	pool.Start(ctx)
	<-ctx.Done()
	pool.Stop(context.Background(), cfg.Worker.ShutdownTimeout)
	return nil
}

func serveMetrics(path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	if err := http.ListenAndServe(":9090", mux); err != nil && err != http.ErrServerClosed {
		logger.Warn().Err(err).Msg("metrics server stopped")
	}
}
