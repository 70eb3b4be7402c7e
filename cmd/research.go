package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/research"
)

//nolint:gochecknoglobals // cobra flags
var (
	researchDepth    string
	researchFocus    []string
	researchParallel bool
	planOnly         bool
)

//nolint:gochecknoglobals // cobra commands are package level
var researchCmd = &cobra.Command{
	Use:   "research <question>",
	Short: "Plan, execute and synthesize a multi-step financial analysis",
	Example: `  finsight research --depth deep "analyze gross margin trends by product"
  finsight research --plan-only "compare revenue and cogs by region"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	researchCmd.Flags().StringVar(&researchDepth, "depth", "", "research depth: quick, standard or deep")
	researchCmd.Flags().StringSliceVar(&researchFocus, "focus", nil, "focus areas to emphasize")
	researchCmd.Flags().BoolVar(&researchParallel, "parallel", true, "run independent steps concurrently")
	researchCmd.Flags().BoolVar(&planOnly, "plan-only", false, "print the plan without executing it")
	rootCmd.AddCommand(researchCmd)
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	depth := researchDepth
	if depth == "" {
		depth = cfg.Research.Depth
	}
	parallel := cfg.Research.Parallel
	if cmd.Flags().Changed("parallel") {
		parallel = researchParallel
	}

	planner := research.NewPlanner(a.parser, a.advisor, a.registry, a.knowledge, cfg.Tenant.ClientID, logger)
	plan, err := planner.CreateEnhancedPlan(ctx, strings.Join(args, " "), research.PlanOptions{
		Depth:      models.ResearchDepth(depth),
		FocusAreas: researchFocus,
		ClientID:   cfg.Tenant.ClientID,
	})
	if err != nil {
		return err
	}
	if plan, err = planner.OptimizePlan(plan); err != nil {
		return err
	}

	if planOnly {
		if jsonOutput {
			return printJSON(plan)
		}
		printPlan(plan)
		return nil
	}
	if !jsonOutput {
		printPlan(plan)
		fmt.Println()
	}

	executor := research.NewExecutor(a.generator, a.audit, cfg.Tenant.ClientID, logger)
	exec, err := executor.ExecutePlan(ctx, plan, func(s models.ProgressSnapshot) {
		logger.Info("Research progress",
			zap.String("execution_id", s.ExecutionID),
			zap.String("status", string(s.Status)),
			zap.Float64("progress", s.ProgressPercentage))
	}, parallel)
	if err != nil {
		return err
	}

	report := research.NewSynthesizer(logger).Synthesize(plan, exec)
	if jsonOutput {
		return printJSON(struct {
			Plan      *models.ResearchPlan      `json:"plan"`
			Execution *models.ResearchExecution `json:"execution"`
			Report    *models.ResearchReport    `json:"report"`
		}{plan, exec, report})
	}
	printReport(report)
	return nil
}

func printPlan(plan *models.ResearchPlan) {
	fmt.Printf("%s\n%s\n\n", plan.Title, plan.Objective)
	for _, s := range plan.Steps {
		deps := "-"
		if len(s.Dependencies) > 0 {
			deps = strings.Join(s.Dependencies, ",")
		}
		fmt.Printf("  %-8s %-10s after %-16s %s\n", s.ID, s.StepType, deps, s.Description)
	}
	fmt.Printf("\nEstimated duration: %ds\n", plan.EstimatedDurationS)
}

func printReport(r *models.ResearchReport) {
	fmt.Printf("%s\n\n%s\n", r.Title, r.ExecutiveSummary)
	if len(r.KeyFindings) > 0 {
		fmt.Println("\nKey findings:")
		for _, f := range r.KeyFindings {
			fmt.Printf("  - %s\n", f)
		}
	}
	if len(r.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, rec := range r.Recommendations {
			fmt.Printf("  [%s] %s: %s\n", rec.Priority, rec.Title, rec.Description)
		}
	}
	fmt.Printf("\nMethodology: %s\n", r.Methodology)
	d := r.DataSummary
	fmt.Printf("Steps: %d completed, %d failed. Rows: %d. Avg query: %.1fs\n",
		d.StepsCompleted, d.StepsFailed, d.TotalRows, d.AvgQueryTime)
}
