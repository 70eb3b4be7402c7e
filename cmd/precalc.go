package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
	"github.com/ekaya-inc/ekaya-finsight/pkg/precalc"
)

//nolint:gochecknoglobals // cobra flags
var (
	precalcWatch   bool
	precalcMetrics []string
)

//nolint:gochecknoglobals // cobra commands are package level
var precalcCmd = &cobra.Command{
	Use:   "precalc",
	Short: "Pre-calculate metric values into the cache",
	Long: `precalc computes every configured metric for each granularity, period
window and dimension, and stores the results where queries can be served from
them. With --watch it repeats every refresh interval and exposes metrics.`,
	Args: cobra.NoArgs,
	RunE: runPreCalc,
}

func init() {
	precalcCmd.Flags().BoolVar(&precalcWatch, "watch", false, "keep refreshing on the configured interval")
	precalcCmd.Flags().StringSliceVar(&precalcMetrics, "metric", nil, "limit to these metric codes")
	rootCmd.AddCommand(precalcCmd)
}

func runPreCalc(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newCoreApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pcfg, err := precalc.ConfigFrom(cfg.PreCalc)
	if err != nil {
		return err
	}
	if len(precalcMetrics) > 0 {
		pcfg.Metrics = precalcMetrics
	}
	reg := precalc.NewRegistry(a.cache, logger)
	calc := precalc.NewCalculator(pcfg, a.hierarchy, a.executor, a.cache, reg, logger)

	if precalcWatch {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return observability.ServeMetrics(gctx, cfg.Metrics.Addr, logger) })
		g.Go(func() error { return calc.RunPeriodically(gctx) })
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	summary, err := calc.Run(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(summary)
	}
	fmt.Printf("Pre-calculated %d records from %d queries (%d failed) in %s\n",
		summary.Records, summary.Queries, summary.Failures, summary.Duration)
	return nil
}
