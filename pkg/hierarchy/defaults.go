package hierarchy

import "github.com/ekaya-inc/ekaya-finsight/pkg/models"

// L1 metric codes.
const (
	GrossMargin     = "GROSS_MARGIN"
	GrossMarginPct  = "GROSS_MARGIN_PCT"
	OperatingIncome = "OPERATING_INCOME"
	EBITDA          = "EBITDA"
	NetIncome       = "NET_INCOME"
	NetMarginPct    = "NET_MARGIN_PCT"
)

// Formula component names. Income components are reported as positive
// numbers even though the ledger carries them as credits.
const (
	CompRevenue         = "revenue"
	CompSalesDeductions = "sales_deductions"
	CompCOGS            = "cogs"
	CompOpex            = "opex"
	CompDepreciation    = "depreciation"
	CompFinanceIncome   = "finance_income"
	CompFinanceExpense  = "finance_expense"
	CompOtherIncome     = "other_income"
	CompOtherExpense    = "other_expense"
	CompIncomeTax       = "income_tax"
)

func defaultMetrics() []*models.L1Metric {
	return []*models.L1Metric{
		{
			Code:             GrossMargin,
			Name:             "Gross Margin",
			Description:      "Net revenue less cost of goods sold",
			FormulaText:      "Revenue - Sales Deductions - COGS",
			SubBuckets:       []string{"REVENUE_SALES", "SALES_DEDUCTIONS", "COGS_MATERIAL", "COGS_PACKAGING", "COGS_LABOR", "COGS_OVERHEAD", "COGS_FREIGHT", "COGS_DEPRECIATION"},
			CalculationOrder: 1,
			Keywords:         []string{"gross margin", "gross profit", "gm"},
		},
		{
			Code:             GrossMarginPct,
			Name:             "Gross Margin %",
			Description:      "Gross margin as a percentage of revenue",
			FormulaText:      "Gross Margin / Revenue * 100",
			CalculationOrder: 2,
			IsPercentage:     true,
			Keywords:         []string{"gross margin %", "gross margin percent", "gross margin percentage", "gross margin pct", "gm%", "gm %"},
		},
		{
			Code:             OperatingIncome,
			Name:             "Operating Income",
			Description:      "Gross margin less operating expenses",
			FormulaText:      "Gross Margin - G&A - Selling - R&D",
			SubBuckets:       []string{"OPEX_GNA", "OPEX_SELLING", "OPEX_RD"},
			CalculationOrder: 3,
			Keywords:         []string{"operating income", "operating profit", "ebit", "operating earnings"},
		},
		{
			Code:             EBITDA,
			Name:             "EBITDA",
			Description:      "Operating income with depreciation and amortization added back",
			FormulaText:      "Operating Income + Depreciation & Amortization",
			SubBuckets:       []string{"DEPRECIATION_AMORTIZATION"},
			CalculationOrder: 4,
			Keywords:         []string{"ebitda"},
		},
		{
			Code:             NetIncome,
			Name:             "Net Income",
			Description:      "Operating income after financing, other items and income tax",
			FormulaText:      "Operating Income + Finance Income - Finance Expense + Other Income - Other Expense - Income Tax",
			SubBuckets:       []string{"FINANCE_INCOME", "FINANCE_EXPENSE", "OTHER_INCOME", "OTHER_EXPENSE", "INCOME_TAX"},
			CalculationOrder: 5,
			Keywords:         []string{"net income", "net profit", "bottom line", "net earnings"},
		},
		{
			Code:             NetMarginPct,
			Name:             "Net Margin %",
			Description:      "Net income as a percentage of revenue",
			FormulaText:      "Net Income / Revenue * 100",
			CalculationOrder: 6,
			IsPercentage:     true,
			Keywords:         []string{"net margin", "net margin %", "net profit margin", "profit margin"},
		},
	}
}

func r(from, to string) models.AccountRange { return models.AccountRange{From: from, To: to} }

// defaultBuckets is ordered; an account found in several buckets resolves to the first.
func defaultBuckets() []*models.L2Bucket {
	return []*models.L2Bucket{
		{Code: "REVENUE_SALES", Name: "Revenue", ParentMetric: GrossMargin, IsRevenue: true,
			SourceBuckets: []string{"REV", "REVENUE*"}, GLAccountRanges: []models.AccountRange{r("40000000", "40099999")}},
		{Code: "SALES_DEDUCTIONS", Name: "Sales Deductions", ParentMetric: GrossMargin,
			SourceBuckets: []string{"SALE_DS"}, GLAccountRanges: []models.AccountRange{r("40100000", "40999999")}},
		{Code: "COGS_MATERIAL", Name: "Material Costs", ParentMetric: GrossMargin,
			SourceBuckets: []string{"COGS_DM", "COGS_RM", "COGS_*"}, GLAccountRanges: []models.AccountRange{r("50000000", "50099999")}},
		{Code: "COGS_PACKAGING", Name: "Packaging Costs", ParentMetric: GrossMargin,
			SourceBuckets: []string{"COGS_PK"}, GLAccountRanges: []models.AccountRange{r("50100000", "50199999")}},
		{Code: "COGS_LABOR", Name: "Direct Labor", ParentMetric: GrossMargin,
			SourceBuckets: []string{"COGS_DL"}, GLAccountRanges: []models.AccountRange{r("50200000", "50299999")}},
		{Code: "COGS_OVERHEAD", Name: "Manufacturing Overhead", ParentMetric: GrossMargin,
			SourceBuckets: []string{"COGS_OH"}, GLAccountRanges: []models.AccountRange{r("50300000", "50399999")}},
		{Code: "COGS_FREIGHT", Name: "Freight", ParentMetric: GrossMargin,
			SourceBuckets: []string{"COGS_FR"}, GLAccountRanges: []models.AccountRange{r("50400000", "50499999")}},
		{Code: "COGS_DEPRECIATION", Name: "Production Depreciation", ParentMetric: GrossMargin,
			SourceBuckets: []string{"COGS_DP"}, GLAccountRanges: []models.AccountRange{r("50500000", "50599999")}},
		{Code: "OPEX_GNA", Name: "General & Administrative", ParentMetric: OperatingIncome,
			SourceBuckets: []string{"GNA_*"}, GLAccountRanges: []models.AccountRange{r("60000000", "62999999")}},
		{Code: "OPEX_SELLING", Name: "Selling Expenses", ParentMetric: OperatingIncome,
			SourceBuckets: []string{"SEL_*"}, GLAccountRanges: []models.AccountRange{r("63000000", "65999999")}},
		{Code: "OPEX_RD", Name: "Research & Development", ParentMetric: OperatingIncome,
			SourceBuckets: []string{"R_D"}, GLAccountRanges: []models.AccountRange{r("66000000", "66999999")}},
		{Code: "DEPRECIATION_AMORTIZATION", Name: "Depreciation & Amortization", ParentMetric: EBITDA,
			SourceBuckets: []string{"GNA_DA", "COGS_DP"}, GLAccountRanges: []models.AccountRange{r("61900000", "61999999"), r("50500000", "50599999")}},
		{Code: "FINANCE_INCOME", Name: "Finance Income", ParentMetric: NetIncome, IsRevenue: true,
			SourceBuckets: []string{"FIN_INC"}, GLAccountRanges: []models.AccountRange{r("70000000", "70499999")}},
		{Code: "FINANCE_EXPENSE", Name: "Finance Expense", ParentMetric: NetIncome,
			SourceBuckets: []string{"FIN_EXP"}, GLAccountRanges: []models.AccountRange{r("70500000", "70999999")}},
		{Code: "OTHER_INCOME", Name: "Other Operating Income", ParentMetric: NetIncome, IsRevenue: true,
			SourceBuckets: []string{"OOI"}, GLAccountRanges: []models.AccountRange{r("71000000", "71499999")}},
		{Code: "OTHER_EXPENSE", Name: "Other Operating Expense", ParentMetric: NetIncome,
			SourceBuckets: []string{"OOE"}, GLAccountRanges: []models.AccountRange{r("71500000", "71999999")}},
		{Code: "INCOME_TAX", Name: "Income Tax", ParentMetric: NetIncome,
			SourceBuckets: []string{"TAX_INC"}, GLAccountRanges: []models.AccountRange{r("80000000", "80999999")}},
	}
}

// bucketNameAliases maps tenant bucket names (lowercase substrings) to L2
// codes for bucket ids no source pattern recognises.
var bucketNameAliases = []struct {
	substr string
	l2     string
}{
	{"discount", "SALES_DEDUCTIONS"},
	{"revenue", "REVENUE_SALES"},
	{"packag", "COGS_PACKAGING"},
	{"freight", "COGS_FREIGHT"},
	{"labor", "COGS_LABOR"},
	{"cogs", "COGS_MATERIAL"},
	{"cost of goods", "COGS_MATERIAL"},
	{"selling", "OPEX_SELLING"},
	{"admin", "OPEX_GNA"},
	{"research", "OPEX_RD"},
	{"interest income", "FINANCE_INCOME"},
	{"interest expense", "FINANCE_EXPENSE"},
	{"tax", "INCOME_TAX"},
}

// componentBuckets lists the L2 buckets summed into each formula component.
var componentBuckets = map[string][]string{
	CompRevenue:         {"REVENUE_SALES"},
	CompSalesDeductions: {"SALES_DEDUCTIONS"},
	CompCOGS:            {"COGS_MATERIAL", "COGS_PACKAGING", "COGS_LABOR", "COGS_OVERHEAD", "COGS_FREIGHT", "COGS_DEPRECIATION"},
	CompOpex:            {"OPEX_GNA", "OPEX_SELLING", "OPEX_RD"},
	CompDepreciation:    {"DEPRECIATION_AMORTIZATION"},
	CompFinanceIncome:   {"FINANCE_INCOME"},
	CompFinanceExpense:  {"FINANCE_EXPENSE"},
	CompOtherIncome:     {"OTHER_INCOME"},
	CompOtherExpense:    {"OTHER_EXPENSE"},
	CompIncomeTax:       {"INCOME_TAX"},
}

// creditComponents are negated so they read as positive income.
var creditComponents = map[string]bool{
	CompFinanceIncome: true,
	CompOtherIncome:   true,
}

// componentOrder fixes the order components are emitted in SQL.
var componentOrder = []string{
	CompRevenue, CompSalesDeductions, CompCOGS, CompOpex, CompDepreciation,
	CompFinanceIncome, CompFinanceExpense, CompOtherIncome, CompOtherExpense, CompIncomeTax,
}

// term is one signed input to a metric; ref is a component name or a metric code.
type term struct {
	ref  string
	sign int
}

// recipe composes a metric. Percentage metrics set ratio to {numerator, denominator}.
type recipe struct {
	terms []term
	ratio [2]string
}

var recipes = map[string]recipe{
	GrossMargin:     {terms: []term{{CompRevenue, 1}, {CompSalesDeductions, -1}, {CompCOGS, -1}}},
	GrossMarginPct:  {ratio: [2]string{GrossMargin, CompRevenue}},
	OperatingIncome: {terms: []term{{GrossMargin, 1}, {CompOpex, -1}}},
	EBITDA:          {terms: []term{{OperatingIncome, 1}, {CompDepreciation, 1}}},
	NetIncome: {terms: []term{
		{OperatingIncome, 1}, {CompFinanceIncome, 1}, {CompFinanceExpense, -1},
		{CompOtherIncome, 1}, {CompOtherExpense, -1}, {CompIncomeTax, -1},
	}},
	NetMarginPct: {ratio: [2]string{NetIncome, CompRevenue}},
}
