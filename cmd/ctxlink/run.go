package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ctxlink/internal/backends/git"
	"ctxlink/internal/changelog"
	"ctxlink/internal/conversation"
	"ctxlink/internal/diff"
	"ctxlink/internal/enricher"
	"ctxlink/internal/metrics"
	"ctxlink/internal/pipeline"
	"ctxlink/internal/poller"
	"ctxlink/internal/slogutil"
	"ctxlink/internal/snapshot"
	"ctxlink/internal/watcher"
)

var (
	runMetricsAddr string
	runNoSnapshot  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the conversation and working tree until interrupted",
	Long: `Start the file watcher and the conversation poller. Each completed exchange is
stored in .ctxlink/ctxlink.db and, unless disabled, committed to the snapshot
branch ctxlink/<identity>. Stops cleanly on SIGINT or SIGTERM after the cycle in
flight has finished.

Examples:
  ctxlink run
  ctxlink run -vv --no-snapshot
  ctxlink run --metrics-addr localhost:9464`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&runNoSnapshot, "no-snapshot", false, "Store contexts without snapshot commits")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	repoRoot, err := getRepoRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return err
	}
	if runNoSnapshot {
		cfg.Snapshot.Enabled = false
	}
	if runMetricsAddr != "" {
		cfg.Metrics.Addr = runMetricsAddr
	}

	factory := slogutil.NewLoggerFactory(repoRoot, cfg, cliLevel())
	defer func() { _ = factory.Close() }()
	logger := factory.PipelineLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := git.NewAdapter(repoRoot, millis(cfg.Git.TimeoutMs), logger)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, repoRoot, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	source, err := conversation.NewSource(
		cfg.Conversation.Source,
		cfg.ResolvePath(cfg.Conversation.Path),
		cfg.Conversation.ConversationID,
		logger,
	)
	if err != nil {
		return err
	}
	if closer, ok := source.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	m := metrics.New(nil)
	m.ObserveStored(store.Len())

	changes := changelog.New(changelog.WithRetention(millis(cfg.Correlation.ChangeRetentionMs)))
	enr := enricher.New(changes, diff.NewResolver(adapter, logger), millis(cfg.Correlation.GracePeriodMs), logger)

	opts := []pipeline.Option{pipeline.WithObserver(m)}
	if cfg.Snapshot.Enabled {
		snap, err := snapshot.New(adapter, snapshot.Mode(cfg.Snapshot.Mode), cfg.Snapshot.BranchPrefix, logger)
		if err != nil {
			return err
		}
		logger.Info("Snapshots enabled", "branch", snap.Branch(), "mode", string(snap.Mode()))
		opts = append(opts, pipeline.WithSnapshotter(snap))
	}
	pipe := pipeline.New(enr, store, logger, opts...)

	p := poller.New(source, pipe.Handle, poller.Config{
		Interval:       millis(cfg.Correlation.PollIntervalMs),
		CompletionWait: millis(cfg.Correlation.CompletionWaitMs),
	}, logger, poller.WithCycleHook(m.ObserveCycle))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Watcher.Enabled {
		wcfg := watcher.DefaultConfig()
		wcfg.IgnorePatterns = cfg.Watcher.IgnorePatterns
		w := watcher.New(repoRoot, wcfg, metrics.CountingSink{Log: changes, Metrics: m}, logger)
		g.Go(func() error { return w.Run(gctx) })
	} else {
		logger.Warn("File watcher disabled; every pair will be correlated with the full working-tree diff")
	}

	g.Go(func() error { return p.Run(gctx) })

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Addr, logger) })
	}

	logger.Info("ctxlink running",
		"repoRoot", repoRoot,
		"conversation", cfg.Conversation.Source,
		"store", storePath(cfg, repoRoot),
	)

	err = g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	logger.Info("ctxlink stopped", "contexts", store.Len())
	return nil
}
