package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

func newTestParser() *Parser {
	return NewParser(nil, Options{}, zap.NewNop())
}

func TestParse_GrossMarginByRegion(t *testing.T) {
	p := newTestParser()

	qc := p.Parse("show gross margin by region for this quarter")

	assert.Equal(t, models.QueryTypeFinancial, qc.QueryType)
	assert.Equal(t, models.DepthL1, qc.HierarchyLevel)
	require.Len(t, qc.Metrics, 1)
	assert.Equal(t, "GROSS_MARGIN", qc.Metrics[0].Code)
	assert.Equal(t, "Gross Margin", qc.Metrics[0].Name)
	assert.Equal(t, models.IntentMetricCalculation, qc.Intent)
	require.NotNil(t, qc.TimePeriod)
	assert.Equal(t, PeriodCurrentQuarter, qc.TimePeriod.PeriodType)
	assert.Equal(t, "DATE_TRUNC(Posting_Date, QUARTER) = DATE_TRUNC(CURRENT_DATE(), QUARTER)", qc.TimePeriod.SQLFilter)
	assert.Equal(t, []string{"region"}, qc.Dimensions)
	assert.Empty(t, qc.GLSearchTerms)

	require.NotNil(t, qc.LLMContext)
	assert.Equal(t, qc.TimePeriod.SQLFilter, qc.LLMContext["time_filter"])
	formulas := qc.LLMContext["formulas"].(map[string]string)
	assert.Contains(t, formulas["GROSS_MARGIN"], "Gross_Revenue")
}

func TestParse_AccountDetail(t *testing.T) {
	p := newTestParser()

	qc := p.Parse("show transactions for GL account 60410 last month")

	assert.Equal(t, models.DepthL3, qc.HierarchyLevel)
	assert.Equal(t, []string{"60410", "transactions", "last", "month"}, qc.GLSearchTerms)
	assert.Equal(t, models.IntentDetail, qc.Intent)
	require.NotNil(t, qc.TimePeriod)
	assert.Equal(t, PeriodLastMonth, qc.TimePeriod.PeriodType)
	assert.Nil(t, qc.LLMContext)
}

func TestParse_Breakdown(t *testing.T) {
	p := newTestParser()

	qc := p.Parse("break down COGS by component")

	assert.Equal(t, models.IntentBreakdown, qc.Intent)
	assert.Equal(t, models.DepthL2, qc.HierarchyLevel)
	require.Len(t, qc.Metrics, 1)
	assert.Equal(t, "COGS", qc.Metrics[0].Code)
	assert.Equal(t, models.DepthL2, qc.Metrics[0].Level)
	assert.Equal(t, []string{"bucket"}, qc.Dimensions)
}

func TestParse_NoPeriodMeansNoFilter(t *testing.T) {
	p := newTestParser()

	qc := p.Parse("what is our ebitda by product")

	assert.Nil(t, qc.TimePeriod)
	assert.NotContains(t, qc.LLMContext, "time_filter")
}

func TestClassifyQueryDepth_Idempotent(t *testing.T) {
	p := newTestParser()
	queries := []string{
		"show gross margin by region for this quarter",
		"show transactions for GL account 60410 last month",
		"break down COGS by component",
		"how many orders were delivered last week",
		"revenue in Q1 2024",
	}
	for _, q := range queries {
		first := p.ClassifyQueryDepth(q)
		assert.Equal(t, first, p.ClassifyQueryDepth(q), q)
		assert.Equal(t, first, p.Parse(q).HierarchyLevel, q)
	}
	assert.Equal(t, models.DepthNone, p.ClassifyQueryDepth("how many orders were delivered last week"))
	assert.Equal(t, models.DepthL1, p.ClassifyQueryDepth("revenue in Q1 2024"), "years are not account numbers")
}

func TestClassifyQueryType(t *testing.T) {
	p := newTestParser()

	assert.Equal(t, models.QueryTypeSalesOrder, p.ClassifyQueryType("how many orders shipped yesterday"))
	assert.Equal(t, models.QueryTypeCombined, p.ClassifyQueryType("order margin for delivered orders"))
	assert.Equal(t, models.QueryTypeCombined, p.ClassifyQueryType("revenue from open orders"))
	assert.Equal(t, models.QueryTypeGeneral, p.ClassifyQueryType("hello there"))
	assert.Equal(t, []string{"general"}, p.IdentifyQueryDomains("hello there"))
	assert.Equal(t, []string{"financial", "customer"}, p.IdentifyQueryDomains("revenue by customer"))
}

func TestExtractFinancialMetrics_LongestMatchWins(t *testing.T) {
	p := newTestParser()

	metrics := p.ExtractFinancialMetrics("gross margin % and ebitda this year")
	require.Len(t, metrics, 2)
	assert.Equal(t, "GROSS_MARGIN_PCT", metrics[0].Code)
	assert.Equal(t, "EBITDA", metrics[1].Code)
}

func TestExtractTimePeriod(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		query      string
		periodType string
		filter     string
	}{
		{"revenue mtd", PeriodMTD, "Posting_Date >= DATE_TRUNC(CURRENT_DATE(), MONTH) AND Posting_Date <= CURRENT_DATE()"},
		{"revenue year to date", PeriodYTD, "Posting_Date >= DATE_TRUNC(CURRENT_DATE(), YEAR) AND Posting_Date <= CURRENT_DATE()"},
		{"revenue last quarter", PeriodLastQuarter, "DATE_TRUNC(Posting_Date, QUARTER) = DATE_TRUNC(DATE_SUB(CURRENT_DATE(), INTERVAL 1 QUARTER), QUARTER)"},
		{"revenue for January 2024", PeriodSpecificMonth, "Posting_Date >= DATE '2024-01-01' AND Posting_Date < DATE '2024-02-01'"},
		{"revenue in Q4 2023", PeriodSpecificQuarter, "Posting_Date >= DATE '2023-10-01' AND Posting_Date < DATE '2024-01-01'"},
		{"revenue in 2022", PeriodSpecificYear, "Posting_Date >= DATE '2022-01-01' AND Posting_Date < DATE '2023-01-01'"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			tp := p.ExtractTimePeriod(tt.query)
			require.NotNil(t, tp)
			assert.Equal(t, tt.periodType, tp.PeriodType)
			assert.Equal(t, tt.filter, tp.SQLFilter)
		})
	}

	assert.Nil(t, p.ExtractTimePeriod("revenue vs last year"), "comparison baseline is not the reporting window")
}

func TestExtractTimePeriod_PostgresAndTenantColumn(t *testing.T) {
	p := NewParser(nil, Options{TimeColumn: "posting_date", Dialect: models.DialectPostgreSQL}, zap.NewNop())

	tp := p.ExtractTimePeriod("gross margin last month")
	require.NotNil(t, tp)
	assert.Equal(t, "DATE_TRUNC('month', posting_date) = DATE_TRUNC('month', CURRENT_DATE - INTERVAL '1 month')", tp.SQLFilter)
}

func TestExtractComparison(t *testing.T) {
	p := newTestParser()

	assert.Equal(t, models.ComparisonVsLastYear, p.ExtractComparison("revenue this quarter vs last year"))
	assert.Equal(t, models.ComparisonVsLastMonth, p.ExtractComparison("opex month over month"))
	assert.Equal(t, models.ComparisonVsBudget, p.ExtractComparison("opex against budget"))
	assert.Equal(t, models.ComparisonVsForecast, p.ExtractComparison("revenue compared to forecast"))
	assert.Empty(t, p.ExtractComparison("revenue this quarter"))
	assert.Equal(t, models.IntentComparison, p.DetermineQueryIntent("revenue this quarter vs last year"))
}

func TestExtractFilters(t *testing.T) {
	p := newTestParser()

	f := p.ExtractFilters(`gross margin in the West for product "Green Tea"`)
	assert.Equal(t, map[string]string{"region": "West", "product": "Green Tea"}, f)

	f = p.ExtractFilters(`revenue for customer "x' OR 1=1 --"`)
	assert.NotContains(t, f, "customer")

	f = p.ExtractFilters(`revenue in EMEA`)
	assert.Equal(t, "EMEA", f["region"])
}

func TestExtractDimensions(t *testing.T) {
	p := newTestParser()

	assert.Equal(t, []string{"region", "product"}, p.ExtractDimensions("revenue by regions and by products"))
	assert.Equal(t, []string{"department"}, p.ExtractDimensions("opex by cost centers"))
	assert.Equal(t, []string{"month"}, p.ExtractDimensions("gross margin per month"))
	assert.Empty(t, p.ExtractDimensions("total revenue"))
}
