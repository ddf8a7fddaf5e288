// Command slaps-coordinator sequences waves from --waveStart through
// a configured maximum (C8, spec.md §4.8): preflight, drain a wave's
// watcher, run a follow-up pass, check for dead-letter overflow, run
// the Quality Guardian, then push. Exit codes follow spec.md §4.8: 0
// success, 1 wave-level failure, 2 configuration error.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flyingrobots/slaps/internal/bootstrap"
	"github.com/flyingrobots/slaps/internal/closedmarker"
	"github.com/flyingrobots/slaps/internal/config"
	"github.com/flyingrobots/slaps/internal/coordinator"
	"github.com/flyingrobots/slaps/internal/events"
	"github.com/flyingrobots/slaps/internal/ledger"
	"github.com/flyingrobots/slaps/internal/llm"
	"github.com/flyingrobots/slaps/internal/logger"
	"github.com/flyingrobots/slaps/internal/ports"
	"github.com/flyingrobots/slaps/internal/queue/fsqueue"
	"github.com/flyingrobots/slaps/internal/vcs"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if coordExitCode == 0 {
			// cobra failed before RunE ran, e.g. on an unknown flag.
			return 2
		}
		return coordExitCode
	}
	return coordExitCode
}

// coordExitCode is set by runCoordinator before RunE returns, since
// cobra's own Execute() error path doesn't distinguish exit codes.
var coordExitCode int

var rootCmd = &cobra.Command{
	Use:     "slaps-coordinator",
	Short:   "Sequence SLAPS waves to completion",
	Version: Version,
	RunE:    runCoordinator,
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("slaps-coordinator %s (%s)\n", Version, Commit))
	rootCmd.Flags().Int("waveStart", 1, "first wave to run")
	rootCmd.Flags().Int("max-wave", 0, "last wave to run; 0 means derive it from the highest wave found in raw/ records")
	rootCmd.Flags().Bool("no-commit-preflight", false, "skip the commit/push credential round-trip before running any wave")
	rootCmd.Flags().StringSlice("toolchain-check", nil, "command to run during preflight to verify the test/lint toolchain is reachable, e.g. docker info")
}

func runCoordinator(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		coordExitCode = 2
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel, true)

	waveStart, _ := cmd.Flags().GetInt("waveStart")
	maxWave, _ := cmd.Flags().GetInt("max-wave")
	noCommitPreflight, _ := cmd.Flags().GetBool("no-commit-preflight")
	toolchainCmd, _ := cmd.Flags().GetStringSlice("toolchain-check")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	led, err := ledger.NewFS(cfg.Root)
	if err != nil {
		coordExitCode = 2
		return fmt.Errorf("open ledger: %w", err)
	}
	if cfg.Backend == "gh" {
		coordExitCode = 2
		return fmt.Errorf("backend %q requires a ghapi.Client implementation, which this build does not ship (see DESIGN.md)", cfg.Backend)
	}
	closed, err := closedmarker.NewFS(cfg.Root)
	if err != nil {
		coordExitCode = 2
		return fmt.Errorf("open closed-marker set: %w", err)
	}

	records, err := bootstrap.LoadRawRecords(cfg.Root)
	if err != nil {
		coordExitCode = 2
		return fmt.Errorf("load raw records: %w", err)
	}
	edges, err := bootstrap.LoadEdges(cfg.Root)
	if err != nil {
		coordExitCode = 2
		return fmt.Errorf("load edges: %w", err)
	}
	graph := bootstrap.BuildGraph(records, edges)
	if maxWave == 0 {
		maxWave = bootstrap.MaxWave(records, waveStart)
	}

	waves := make([]int, 0, maxWave-waveStart+1)
	for w := waveStart; w <= maxWave; w++ {
		waves = append(waves, w)
	}
	store, err := fsqueue.New(cfg.Root, waves, led)
	if err != nil {
		coordExitCode = 2
		return fmt.Errorf("open queue store: %w", err)
	}
	for _, w := range waves {
		if err := bootstrap.SeedWave(ctx, store, graph, closed, records, w); err != nil {
			coordExitCode = 2
			return fmt.Errorf("seed wave %d: %w", w, err)
		}
	}

	pub, err := events.NewJSONLog(cfg.Root + "/admin/events.jsonl")
	if err != nil {
		coordExitCode = 2
		return fmt.Errorf("open event log: %w", err)
	}

	var runner llm.Runner = llm.NewCLIRunner(nil)

	gitPort := vcs.New(cfg.Root)
	var vcsPort ports.VCS = gitPort

	var toolchainPort ports.ToolchainChecker
	if len(toolchainCmd) > 0 {
		toolchainPort = vcs.NewToolchainChecker(toolchainCmd)
	}

	// No concrete QualityGuardian or FollowUpCollector ships with this
	// module: both are external collaborators (spec.md §4.8 steps 3 and
	// 5) with no grounding precedent in the teacher or example pack, the
	// same stance the codebase already takes for ghapi.Client.
	var guardianPort ports.QualityGuardian
	var followUpPort ports.FollowUpCollector

	coordCfg := coordinator.Config{
		WaveStart:         waveStart,
		MaxWave:           maxWave,
		NoCommitPreflight: noCommitPreflight,
		TickInterval:      cfg.Queue.TickInterval,
		ReportInterval:    cfg.Queue.ProgressMinSec,
		WatchRoot:         cfg.Root,
	}

	c := coordinator.New(coordCfg, store, graph, closed, led, runner, pub, vcsPort, guardianPort, toolchainPort, followUpPort)

	logger.Get().Info().Int("wave_start", waveStart).Int("max_wave", maxWave).Msg("starting coordinator")
	err = c.RunAll(ctx)
	coordExitCode = coordinator.ExitCode(err)
	return err
}
