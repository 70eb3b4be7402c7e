package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warming"
)

//nolint:gochecknoglobals // cobra flags
var (
	warmStrategy string
	warmOnce     bool
)

//nolint:gochecknoglobals // cobra commands are package level
var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Warm the SQL cache with likely questions",
	Long: `warm runs the cache warmer. By default it loops forever, running the
popularity, recency and financial strategies every interval and firing the
configured schedules. --once runs a single cycle; --strategy runs one strategy.`,
	Args: cobra.NoArgs,
	RunE: runWarm,
}

func init() {
	warmCmd.Flags().StringVar(&warmStrategy, "strategy", "", "run a single strategy: popularity, recency, financial or predictive")
	warmCmd.Flags().BoolVar(&warmOnce, "once", false, "run one warming cycle and exit")
	rootCmd.AddCommand(warmCmd)
}

func runWarm(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	wcfg, err := warming.ConfigFrom(cfg.Warming)
	if err != nil {
		return err
	}
	warmer := warming.NewWarmer(wcfg, a.generator, a.queryLog, a.hierarchy, logger)

	switch {
	case warmStrategy != "":
		s := warming.Strategy(warmStrategy)
		if !s.Valid() {
			return fmt.Errorf("unknown warming strategy %q", warmStrategy)
		}
		summary, err := warmer.RunStrategy(ctx, s)
		if err != nil {
			return err
		}
		return printSummaries([]*warming.WarmingSummary{summary})
	case warmOnce:
		summaries, err := warmer.RunCycle(ctx)
		if err != nil {
			return err
		}
		return printSummaries(summaries)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return observability.ServeMetrics(gctx, cfg.Metrics.Addr, logger) })
	g.Go(func() error { return warmer.Run(gctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printSummaries(summaries []*warming.WarmingSummary) error {
	if jsonOutput {
		return printJSON(summaries)
	}
	for _, s := range summaries {
		fmt.Printf("%-10s total=%d success=%d cached=%d failed=%d in %s\n",
			s.Strategy, s.Total, s.Success, s.AlreadyCached, s.Failed, s.Duration)
		for _, e := range s.Errors {
			fmt.Printf("  error: %s\n", e)
		}
	}
	return nil
}
