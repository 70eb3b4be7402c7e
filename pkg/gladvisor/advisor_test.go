package gladvisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/hierarchy"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/registry"
)

const tenant = "acme"

type stubLoader struct {
	cfg *models.BusinessConfiguration
	err error
}

func (s stubLoader) Load(_ context.Context, _, _ string) (*models.BusinessConfiguration, error) {
	return s.cfg, s.err
}

func fixtureConfig() *models.BusinessConfiguration {
	accounts := []*models.GLAccountMapping{
		{AccountNumber: "40000", Description: "Gross Sales", BucketID: "REV", BucketName: "Revenue"},
		{AccountNumber: "40100", Description: "Discounts", BucketID: "SALE_DS", BucketName: "Sales Discounts"},
		{AccountNumber: "50000", Description: "Raw Materials", BucketID: "COGS_DM", BucketName: "Direct Material"},
		{AccountNumber: "50100", Description: "Bottles", BucketID: "COGS_PK", BucketName: "Packaging"},
		{AccountNumber: "50200", Description: "Plant Labor", BucketID: "COGS_DL", BucketName: "Direct Labor"},
		{AccountNumber: "60411", Description: "Office Rent", BucketID: "GNA_RENT", BucketName: "G&A Rent"},
		{AccountNumber: "60412", Description: "Warehouse Rent", BucketID: "GNA_RENT", BucketName: "G&A Rent"},
		{AccountNumber: "61900", Description: "Depreciation", BucketID: "GNA_DA", BucketName: "G&A Depreciation"},
		{AccountNumber: "63000", Description: "Advertising", BucketID: "SEL_ADV", BucketName: "Selling Advertising"},
	}
	cfg := &models.BusinessConfiguration{ClientID: tenant, GLAccounts: make(map[string]*models.GLAccountMapping)}
	for _, a := range accounts {
		cfg.GLAccounts[a.AccountNumber] = a
	}
	return cfg
}

func newTestAdvisor(loader hierarchy.ConfigLoader) *Advisor {
	return NewAdvisor(registry.New(zap.NewNop()), loader, "finance", nil, hierarchy.DefaultOptions().Columns, zap.NewNop())
}

func TestAnalyze_GrossMargin(t *testing.T) {
	a := newTestAdvisor(stubLoader{cfg: fixtureConfig()})

	glc := a.Analyze(context.Background(), "show gross margin by region for this quarter", tenant)

	assert.Equal(t, []string{ConceptGrossMargin}, glc.IdentifiedConcepts)
	assert.Equal(t, []string{"REV", "SALE_DS", "COGS_*"}, glc.RequiredBuckets)
	assert.False(t, glc.ClarificationNeeded)
	assert.Empty(t, glc.ClarificationQuestions)
	require.NotNil(t, glc.TimePeriod)
	assert.Equal(t, []string{"region"}, glc.Dimensions)
	assert.Equal(t,
		"SUM(CASE WHEN bucket_code = 'REV' THEN GL_Amount_in_CC ELSE 0 END) "+
			"- SUM(CASE WHEN bucket_code = 'SALE_DS' THEN GL_Amount_in_CC ELSE 0 END) "+
			"- SUM(CASE WHEN bucket_code IN ('COGS_DL', 'COGS_DM', 'COGS_PK') THEN GL_Amount_in_CC ELSE 0 END) AS gross_margin",
		glc.SuggestedCalculation)

	v := a.ValidateFinancialQuery(glc)
	assert.True(t, v.Valid)

	assert.Equal(t, "(bucket_code IN ('REV', 'SALE_DS') OR bucket_code LIKE 'COGS_%')", a.BuildGLFilter(glc))
}

func TestAnalyze_BreakdownExpandsComponents(t *testing.T) {
	a := newTestAdvisor(stubLoader{cfg: fixtureConfig()})

	glc := a.Analyze(context.Background(), "break down COGS by component", tenant)

	assert.True(t, glc.IsBreakdown)
	assert.Equal(t, []string{"COGS_DL", "COGS_DM", "COGS_PK"}, glc.RequiredBuckets)
	assert.NotContains(t, glc.ClarificationQuestions, QuestionDimension)
	assert.Contains(t, glc.ClarificationQuestions, QuestionTimePeriod)
}

func TestAnalyze_AccountValidationSuggestsByPrefix(t *testing.T) {
	a := newTestAdvisor(stubLoader{cfg: fixtureConfig()})

	glc := a.Analyze(context.Background(), "show transactions for GL account 60410 last month", tenant)

	assert.Equal(t, []string{"60410"}, glc.GLAccounts)
	assert.False(t, glc.ClarificationNeeded)

	v := a.ValidateFinancialQuery(glc)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"60410"}, v.InvalidAccounts)
	assert.Equal(t, []string{"60411", "60412"}, v.Suggestions["60410"])

	assert.Equal(t, "GL_Account IN ('60410')", a.BuildGLFilter(glc))
}

func TestAnalyze_MissingMapping(t *testing.T) {
	a := newTestAdvisor(stubLoader{err: errors.New("not found")})

	glc := a.Analyze(context.Background(), "gross margin this year", "unknown_tenant")

	assert.True(t, glc.ClarificationNeeded)
	require.Len(t, glc.ClarificationQuestions, 1)
	assert.Contains(t, glc.ClarificationQuestions[0], "GL mapping not found")
}

func TestAnalyze_NothingIdentified(t *testing.T) {
	a := newTestAdvisor(stubLoader{cfg: fixtureConfig()})

	glc := a.Analyze(context.Background(), "how are we doing", tenant)

	assert.True(t, glc.ClarificationNeeded)
	assert.Contains(t, glc.ClarificationQuestions, QuestionMetric)
	assert.Contains(t, glc.ClarificationQuestions, QuestionTimePeriod)
}

func TestAnalyze_ReservedConcept(t *testing.T) {
	a := newTestAdvisor(stubLoader{cfg: fixtureConfig()})

	glc := a.Analyze(context.Background(), "working capital this quarter", tenant)

	assert.Equal(t, []string{ConceptWorkingCapital}, glc.IdentifiedConcepts)
	assert.True(t, glc.ClarificationNeeded)
	assert.Empty(t, glc.SuggestedCalculation)
}

func TestValidate_MissingBuckets(t *testing.T) {
	a := newTestAdvisor(stubLoader{cfg: fixtureConfig()})

	glc := a.Analyze(context.Background(), "net income this year", tenant)
	v := a.ValidateFinancialQuery(glc)

	assert.False(t, v.Valid)
	assert.Equal(t, []string{"R_D", "FIN_INC", "FIN_EXP", "OOI", "OOE", "TAX_INC"}, v.MissingBuckets)
}

func TestFormula_Calculate(t *testing.T) {
	totals := map[string]float64{
		"REV":      1000,
		"SALE_DS":  50,
		"COGS_DM":  400,
		"COGS_PK":  150,
		"COGS_DP":  20,
		"GNA_RENT": 60,
		"GNA_DA":   30,
		"SEL_ADV":  40,
		"R_D":      10,
	}

	gm, _ := LookupConcept(ConceptGrossMargin)
	assert.InDelta(t, 380, gm.Formula.Calculate(totals), 1e-9)

	oi, _ := LookupConcept(ConceptOperatingIncome)
	assert.InDelta(t, 240, oi.Formula.Calculate(totals), 1e-9)

	ebitda, _ := LookupConcept(ConceptEBITDA)
	assert.InDelta(t, 290, ebitda.Formula.Calculate(totals), 1e-9, "depreciation is added back")

	rev, _ := LookupConcept(ConceptRevenue)
	assert.InDelta(t, 950, rev.Formula.Calculate(totals), 1e-9)

	opex, _ := LookupConcept(ConceptOpex)
	assert.InDelta(t, 140, opex.Formula.Calculate(totals), 1e-9)
}
