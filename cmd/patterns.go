package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-finsight/pkg/patterns"
)

//nolint:gochecknoglobals // cobra flags
var (
	autoCreate    bool
	maxViews      int
	minConfidence float64
)

//nolint:gochecknoglobals // cobra commands are package level
var patternsCmd = &cobra.Command{
	Use:     "analyze-patterns",
	Aliases: []string{"patterns"},
	Short:   "Mine the query log and recommend materialized views",
	Args:    cobra.NoArgs,
	RunE:    runPatterns,
}

func init() {
	patternsCmd.Flags().BoolVar(&autoCreate, "auto-create", false, "create the recommended views in the warehouse")
	patternsCmd.Flags().IntVar(&maxViews, "max-views", 5, "maximum views to create with --auto-create")
	patternsCmd.Flags().Float64Var(&minConfidence, "min-confidence", 0.8, "minimum recommendation confidence for --auto-create")
	rootCmd.AddCommand(patternsCmd)
}

func runPatterns(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newCoreApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pcfg, err := patterns.ConfigFrom(cfg.Patterns)
	if err != nil {
		return err
	}
	pcfg.TimeColumn = a.hierarchy.Options().Columns.Time
	analyzer := patterns.NewAnalyzer(pcfg, a.queryLog, a.executor, logger)

	if autoCreate {
		created, err := analyzer.AutoCreateRecommendedMVs(ctx, maxViews, minConfidence)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(created)
		}
		fmt.Printf("Created %d materialized view(s)\n", len(created))
		for _, v := range created {
			fmt.Printf("  %s\n", v)
		}
		return nil
	}

	found, err := analyzer.Analyze(ctx)
	if err != nil {
		return err
	}
	recs, err := analyzer.GenerateMVRecommendations(found)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"patterns": found, "recommendations": recs})
	}

	fmt.Printf("%d pattern(s) found, %d recommendation(s)\n\n", len(found), len(recs))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VIEW\tPATTERN\tQUERIES\tSAVINGS/MO\tCONFIDENCE")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%d\t$%.2f\t%.2f\n",
			r.ViewName, r.Pattern.PatternType, r.AffectedQueries, r.EstMonthlySavings, r.Confidence)
	}
	return w.Flush()
}
