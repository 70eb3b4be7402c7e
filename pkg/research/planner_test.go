package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/gladvisor"
	"github.com/ekaya-inc/ekaya-finsight/pkg/hierarchy"
	"github.com/ekaya-inc/ekaya-finsight/pkg/knowledge"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/registry"
	"github.com/ekaya-inc/ekaya-finsight/pkg/semantic"
)

const tenant = "acme"

type stubLoader struct {
	cfg *models.BusinessConfiguration
}

func (s stubLoader) Load(_ context.Context, _, _ string) (*models.BusinessConfiguration, error) {
	return s.cfg, nil
}

func tenantConfig() *models.BusinessConfiguration {
	accounts := []*models.GLAccountMapping{
		{AccountNumber: "40000", Description: "Gross Sales", BucketID: "REV", BucketName: "Revenue"},
		{AccountNumber: "40100", Description: "Discounts", BucketID: "SALE_DS", BucketName: "Sales Discounts"},
		{AccountNumber: "50000", Description: "Raw Materials", BucketID: "COGS_DM", BucketName: "Direct Material"},
		{AccountNumber: "50100", Description: "Bottles", BucketID: "COGS_PK", BucketName: "Packaging"},
	}
	cfg := &models.BusinessConfiguration{ClientID: tenant, GLAccounts: make(map[string]*models.GLAccountMapping)}
	for _, a := range accounts {
		cfg.GLAccounts[a.AccountNumber] = a
	}
	return cfg
}

func newTestPlanner() *Planner {
	logger := zap.NewNop()
	h := hierarchy.NewStatic(hierarchy.DefaultOptions(), logger)
	parser := semantic.NewParser(h, semantic.Options{}, logger)
	reg := registry.New(logger)
	advisor := gladvisor.NewAdvisor(reg, stubLoader{cfg: tenantConfig()}, "finance", parser, hierarchy.DefaultOptions().Columns, logger)
	ks := knowledge.NewService(nil, nil, knowledge.Capabilities{HasDepreciation: true}, logger)
	return NewPlanner(parser, advisor, reg, ks, tenant, logger)
}

func TestEstimateComplexity(t *testing.T) {
	tests := []struct {
		query string
		want  models.Complexity
	}{
		{"forecast revenue next quarter", models.ComplexityExpert},
		{"find the root cause of the margin drop", models.ComplexityExpert},
		{"compare revenue and cogs", models.ComplexityComplex},
		{"analyze gross margin trends and break down by product this year", models.ComplexityComplex},
		{"show revenue this month", models.ComplexitySimple},
		{"show revenue trend", models.ComplexityModerate},
		{"revenue by region", models.ComplexityModerate},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateComplexity(tt.query))
		})
	}
}

func TestStepCap(t *testing.T) {
	assert.Equal(t, 1, StepCap(models.ComplexitySimple, models.DepthQuick))
	assert.Equal(t, 3, StepCap(models.ComplexityModerate, models.DepthStandard))
	assert.Equal(t, 7, StepCap(models.ComplexityComplex, models.DepthDeep))
	assert.Equal(t, 12, StepCap(models.ComplexityExpert, models.DepthDeep))
	assert.Equal(t, 4, StepCap(models.ComplexityExpert, models.DepthQuick))
}

func TestCreateEnhancedPlan_DeepTrendAndBreakdown(t *testing.T) {
	p := newTestPlanner()

	plan, err := p.CreateEnhancedPlan(context.Background(),
		"analyze gross margin trends and break down by product this year",
		PlanOptions{Depth: models.DepthDeep})
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	calc, trend, breakdown := plan.Steps[0], plan.Steps[1], plan.Steps[2]

	assert.Equal(t, models.StepMetricCalc, calc.StepType)
	assert.Equal(t, "financial", calc.Metadata.Approach)
	assert.Equal(t, gladvisor.ConceptGrossMargin, calc.Metadata.Concept)
	require.NotNil(t, calc.Metadata.GLContext)
	assert.Contains(t, calc.Metadata.GLContext.IdentifiedConcepts, gladvisor.ConceptGrossMargin)
	assert.Empty(t, calc.Dependencies)

	assert.Equal(t, models.StepTrend, trend.StepType)
	assert.Equal(t, []string{calc.ID}, trend.Dependencies)

	assert.Equal(t, models.StepBreakdown, breakdown.StepType)
	assert.Equal(t, []string{calc.ID}, breakdown.Dependencies)
	assert.Contains(t, breakdown.Description, "by product")

	assert.Equal(t, 30+45+40, plan.EstimatedDurationS)
	assert.Equal(t, models.DepthDeep, plan.Depth)
	assert.Equal(t, "complex", plan.Metadata["complexity"])
	assert.Equal(t, 7, plan.Metadata["step_cap"])
	require.NotNil(t, calc.Metadata.SchemaContext)
	assert.True(t, calc.Metadata.SchemaContext.GLMappingAvailable)
}

func TestCreateEnhancedPlan_QuickDepthCapsSteps(t *testing.T) {
	p := newTestPlanner()

	plan, err := p.CreateEnhancedPlan(context.Background(),
		"show gross margin trend this year", PlanOptions{Depth: models.DepthQuick})
	require.NoError(t, err)

	// moderate x quick = 1.5, floored to one step.
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, models.StepMetricCalc, plan.Steps[0].StepType)
	assert.Empty(t, plan.Steps[0].Dependencies)
}

func TestCreateEnhancedPlan_AlwaysHasAStep(t *testing.T) {
	p := newTestPlanner()

	plan, err := p.CreateEnhancedPlan(context.Background(), "how many vendors do we have", PlanOptions{})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, models.StepDetail, plan.Steps[0].StepType)
	assert.Equal(t, models.DepthStandard, plan.Depth)
}

func TestCreateEnhancedPlan_Rejects(t *testing.T) {
	p := newTestPlanner()
	_, err := p.CreateEnhancedPlan(context.Background(), "  ", PlanOptions{})
	assert.Error(t, err)
	_, err = p.CreateEnhancedPlan(context.Background(), "show revenue", PlanOptions{Depth: "bottomless"})
	assert.Error(t, err)
}

func TestCreateEnhancedPlan_FocusAreasShapeObjective(t *testing.T) {
	p := newTestPlanner()
	plan, err := p.CreateEnhancedPlan(context.Background(), "analyze gross margin trends",
		PlanOptions{FocusAreas: []string{"packaging", "freight"}})
	require.NoError(t, err)
	assert.Equal(t, "analyze gross margin trends, focusing on packaging, freight", plan.Objective)
	assert.Equal(t, "analyze gross margin trends", plan.OriginalQuery)
}

func TestCapSteps_DropsDanglingDependencies(t *testing.T) {
	steps := []*models.ResearchStep{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	}
	kept := capSteps(steps, 2)
	require.Len(t, kept, 2)
	assert.Equal(t, []string{"a"}, kept[1].Dependencies)
}

func TestOptimizePlan_GroupsIndependentSteps(t *testing.T) {
	p := newTestPlanner()
	plan := &models.ResearchPlan{
		ID: "plan-1",
		Steps: []*models.ResearchStep{
			{ID: "step_1"},
			{ID: "step_2", Dependencies: []string{"step_1"}},
			{ID: "step_3", Dependencies: []string{"step_1"}},
			{ID: "step_4", Dependencies: []string{"step_2", "step_3"}},
		},
	}

	out, err := p.OptimizePlan(plan)
	require.NoError(t, err)
	assert.Equal(t, true, out.Metadata["optimized"])
	assert.Equal(t, 3, out.Metadata["group_count"])
	assert.Equal(t, [][]string{{"step_1"}, {"step_2", "step_3"}, {"step_4"}}, out.Metadata["parallel_groups"])
}

func TestOptimizePlan_RejectsCycles(t *testing.T) {
	p := newTestPlanner()
	_, err := p.OptimizePlan(&models.ResearchPlan{
		ID: "loop",
		Steps: []*models.ResearchStep{
			{ID: "a", Dependencies: []string{"b"}},
			{ID: "b", Dependencies: []string{"a"}},
		},
	})
	assert.Error(t, err)
}

func TestStepGraph_LevelsHoldNoPaths(t *testing.T) {
	steps := []*models.ResearchStep{
		{ID: "s1"},
		{ID: "s2"},
		{ID: "s3", Dependencies: []string{"s1"}},
		{ID: "s4", Dependencies: []string{"s1", "s2"}},
		{ID: "s5", Dependencies: []string{"s3"}},
		{ID: "s6", Dependencies: []string{"s4", "s5"}},
	}
	g, err := NewStepGraph(steps)
	require.NoError(t, err)

	levels := g.Levels()
	assert.Equal(t, [][]string{{"s1", "s2"}, {"s3", "s4"}, {"s5"}, {"s6"}}, levels)
	for _, level := range levels {
		for i := range level {
			for j := i + 1; j < len(level); j++ {
				assert.True(t, g.Independent(level[i], level[j]), "%s and %s share a level", level[i], level[j])
			}
		}
	}
	assert.Equal(t, []string{"s1", "s2", "s3", "s4", "s5"}, g.Ancestors("s6"))
	assert.True(t, g.IsPathBetween("s1", "s6"))
	assert.False(t, g.IsPathBetween("s6", "s1"))
}

func TestNewStepGraph_UnknownDependency(t *testing.T) {
	_, err := NewStepGraph([]*models.ResearchStep{{ID: "a", Dependencies: []string{"ghost"}}})
	assert.ErrorIs(t, err, ErrUnknownDependency)

	_, err = NewStepGraph([]*models.ResearchStep{{ID: "a"}, {ID: "a"}})
	assert.ErrorIs(t, err, ErrDuplicateStep)
}
