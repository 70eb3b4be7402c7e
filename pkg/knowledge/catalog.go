package knowledge

import "github.com/ekaya-inc/ekaya-finsight/pkg/models"

// Collection names in the vector store.
const (
	CollectionMetrics     = "FinancialMetrics"
	CollectionTerms       = "BusinessTerms"
	CollectionColumnTypes = "ColumnTypes"
	CollectionSQLExamples = "SQLExamples"
	CollectionSchema      = "SchemaTables"
)

// metricCatalog is the built-in metric library. FormulaSQL is written against
// the GL fact table's bucket_code and signed amount columns.
var metricCatalog = []models.MetricMatch{
	{
		Code:        "REVENUE",
		Name:        "Revenue",
		Description: "Net revenue after sales discounts",
		FormulaText: "Gross revenue - sales discounts",
		FormulaSQL:  "SUM(CASE WHEN bucket_code = 'REV' THEN Gross_Revenue ELSE 0 END) - SUM(CASE WHEN bucket_code = 'SALE_DS' THEN GL_Amount_in_CC ELSE 0 END)",
		Synonyms:    []string{"revenue", "net revenue", "sales", "net sales", "top line", "turnover"},
		Components:  []string{"REV", "SALE_DS"},
		IsCurrency:  true,
		Category:    "income_statement",
	},
	{
		Code:        "COGS",
		Name:        "Cost of Goods Sold",
		Description: "Direct costs of producing goods sold",
		FormulaText: "Sum of all COGS_* buckets",
		FormulaSQL:  "SUM(CASE WHEN bucket_code LIKE 'COGS_%' THEN GL_Amount_in_CC ELSE 0 END)",
		Synonyms:    []string{"cogs", "cost of goods sold", "cost of sales", "product cost", "cost of revenue"},
		Components:  []string{"COGS_*"},
		IsCurrency:  true,
		Category:    "income_statement",
	},
	{
		Code:        "GROSS_MARGIN",
		Name:        "Gross Margin",
		Description: "Revenue less cost of goods sold",
		FormulaText: "Revenue - COGS",
		FormulaSQL:  "(SUM(CASE WHEN bucket_code = 'REV' THEN Gross_Revenue ELSE 0 END) - SUM(CASE WHEN bucket_code = 'SALE_DS' OR bucket_code LIKE 'COGS_%' THEN GL_Amount_in_CC ELSE 0 END))",
		Synonyms:    []string{"gross margin", "gross profit", "gm"},
		Components:  []string{"REVENUE", "COGS"},
		IsCurrency:  true,
		Category:    "profitability",
	},
	{
		Code:         "GROSS_MARGIN_PCT",
		Name:         "Gross Margin %",
		Description:  "Gross margin as a percentage of revenue",
		FormulaText:  "Gross Margin / Revenue * 100",
		FormulaSQL:   "SAFE_DIVIDE(gross_margin, revenue) * 100",
		Synonyms:     []string{"gross margin %", "gross margin percent", "gross margin percentage", "gross margin pct", "gm%", "gross margin ratio"},
		Components:   []string{"GROSS_MARGIN", "REVENUE"},
		IsPercentage: true,
		Category:     "profitability",
	},
	{
		Code:        "OPEX",
		Name:        "Operating Expenses",
		Description: "G&A, selling and R&D expenses",
		FormulaText: "Sum of GNA_*, SEL_* and R_D buckets",
		FormulaSQL:  "SUM(CASE WHEN bucket_code LIKE 'GNA_%' OR bucket_code LIKE 'SEL_%' OR bucket_code = 'R_D' THEN GL_Amount_in_CC ELSE 0 END)",
		Synonyms:    []string{"opex", "operating expenses", "operating costs", "overhead", "sg&a"},
		Components:  []string{"GNA_*", "SEL_*", "R_D"},
		IsCurrency:  true,
		Category:    "income_statement",
	},
	{
		Code:        "OPERATING_INCOME",
		Name:        "Operating Income",
		Description: "Gross margin less operating expenses",
		FormulaText: "Gross Margin - OPEX",
		FormulaSQL:  "gross_margin - opex",
		Synonyms:    []string{"operating income", "operating profit", "ebit", "operating earnings"},
		Components:  []string{"GROSS_MARGIN", "OPEX"},
		IsCurrency:  true,
		Category:    "profitability",
	},
	{
		Code:        "EBITDA",
		Name:        "EBITDA",
		Description: "Operating income with depreciation and amortization added back",
		FormulaText: "Operating Income + Depreciation + Amortization",
		FormulaSQL:  "operating_income + SUM(CASE WHEN bucket_code IN ('GNA_DA', 'COGS_DP') THEN GL_Amount_in_CC ELSE 0 END)",
		Synonyms:    []string{"ebitda", "earnings before interest taxes depreciation and amortization"},
		Components:  []string{"OPERATING_INCOME", "GNA_DA", "COGS_DP"},
		IsCurrency:  true,
		Category:    "profitability",
	},
	{
		Code:        "NET_INCOME",
		Name:        "Net Income",
		Description: "Operating income after financing, other items and tax",
		FormulaText: "Operating Income + FIN_INC - FIN_EXP + OOI - OOE - TAX_INC",
		FormulaSQL:  "operating_income - SUM(CASE WHEN bucket_code IN ('FIN_EXP', 'OOE', 'TAX_INC') THEN GL_Amount_in_CC WHEN bucket_code IN ('FIN_INC', 'OOI') THEN -GL_Amount_in_CC ELSE 0 END)",
		Synonyms:    []string{"net income", "net profit", "bottom line", "earnings", "profit after tax"},
		Components:  []string{"OPERATING_INCOME", "FIN_INC", "FIN_EXP", "OOI", "OOE", "TAX_INC"},
		IsCurrency:  true,
		Category:    "profitability",
	},
	{
		Code:         "NET_MARGIN_PCT",
		Name:         "Net Margin %",
		Description:  "Net income as a percentage of revenue",
		FormulaText:  "Net Income / Revenue * 100",
		FormulaSQL:   "SAFE_DIVIDE(net_income, revenue) * 100",
		Synonyms:     []string{"net margin", "net margin %", "net profit margin", "profit margin"},
		Components:   []string{"NET_INCOME", "REVENUE"},
		IsPercentage: true,
		Category:     "profitability",
	},
	{
		Code:         "ROI",
		Name:         "Return on Investment",
		Description:  "Net income relative to invested capital",
		FormulaText:  "Net Income / Total Investment * 100",
		FormulaSQL:   "SAFE_DIVIDE(net_income, total_investment) * 100",
		Synonyms:     []string{"roi", "return on investment"},
		Components:   []string{"NET_INCOME", "ASSET_*"},
		IsPercentage: true,
		Category:     "returns",
	},
	{
		Code:         "ROE",
		Name:         "Return on Equity",
		Description:  "Net income relative to shareholder equity",
		FormulaText:  "Net Income / Shareholder Equity * 100",
		FormulaSQL:   "SAFE_DIVIDE(net_income, shareholder_equity) * 100",
		Synonyms:     []string{"roe", "return on equity"},
		Components:   []string{"NET_INCOME", "EQUITY_*"},
		IsPercentage: true,
		Category:     "returns",
	},
}

var termCatalog = []models.TermMatch{
	{Term: "sales", CanonicalTerm: "revenue", Category: "income_statement", RelatedMetrics: []string{"REVENUE"}},
	{Term: "turnover", CanonicalTerm: "revenue", Category: "income_statement", RelatedMetrics: []string{"REVENUE"}},
	{Term: "top line", CanonicalTerm: "revenue", Category: "income_statement", RelatedMetrics: []string{"REVENUE"}},
	{Term: "gross profit", CanonicalTerm: "gross margin", Category: "profitability", RelatedMetrics: []string{"GROSS_MARGIN", "GROSS_MARGIN_PCT"}},
	{Term: "gm", CanonicalTerm: "gross margin", Category: "profitability", RelatedMetrics: []string{"GROSS_MARGIN"}},
	{Term: "cost of sales", CanonicalTerm: "cogs", Category: "income_statement", RelatedMetrics: []string{"COGS", "GROSS_MARGIN"}},
	{Term: "product cost", CanonicalTerm: "cogs", Category: "income_statement", RelatedMetrics: []string{"COGS"}},
	{Term: "overhead", CanonicalTerm: "opex", Category: "income_statement", RelatedMetrics: []string{"OPEX"}},
	{Term: "sg&a", CanonicalTerm: "opex", Category: "income_statement", RelatedMetrics: []string{"OPEX"}},
	{Term: "ebit", CanonicalTerm: "operating income", Category: "profitability", RelatedMetrics: []string{"OPERATING_INCOME"}},
	{Term: "operating profit", CanonicalTerm: "operating income", Category: "profitability", RelatedMetrics: []string{"OPERATING_INCOME"}},
	{Term: "bottom line", CanonicalTerm: "net income", Category: "profitability", RelatedMetrics: []string{"NET_INCOME"}},
	{Term: "net profit", CanonicalTerm: "net income", Category: "profitability", RelatedMetrics: []string{"NET_INCOME"}},
	{Term: "territory", CanonicalTerm: "region", Category: "dimension"},
	{Term: "area", CanonicalTerm: "region", Category: "dimension"},
	{Term: "sku", CanonicalTerm: "product", Category: "dimension"},
	{Term: "item", CanonicalTerm: "product", Category: "dimension"},
	{Term: "client", CanonicalTerm: "customer", Category: "dimension"},
	{Term: "account", CanonicalTerm: "customer", Category: "dimension"},
	{Term: "supplier", CanonicalTerm: "vendor", Category: "dimension"},
	{Term: "cost center", CanonicalTerm: "department", Category: "dimension"},
}

// columnRule maps a column-name keyword to a display type. Rules are checked
// in order, so percentage keywords win over the currency keywords they contain.
type columnRule struct {
	keywords []string
	suffix   bool
	display  models.DisplayType
}

var columnRules = []columnRule{
	{keywords: []string{"_pct", "_percent", "_percentage", "_ratio", "_rate"}, suffix: true, display: models.DisplayPercentage},
	{keywords: []string{"percent", "pct", "margin_%", "growth"}, display: models.DisplayPercentage},
	{keywords: []string{"_date", "_at", "_time"}, suffix: true, display: models.DisplayDate},
	{keywords: []string{"date", "timestamp", "period_start", "month_start"}, display: models.DisplayDate},
	{keywords: []string{"_count", "_qty", "_quantity", "_units"}, suffix: true, display: models.DisplayInteger},
	{keywords: []string{"quantity", "count", "units", "volume", "cases"}, display: models.DisplayInteger},
	{keywords: []string{"region", "_name", "_desc", "description", "_code", "_id", "category", "country", "channel"}, display: models.DisplayText},
	{keywords: []string{"revenue", "cost", "margin", "amount", "price", "income", "expense", "sales", "profit", "ebitda", "cogs", "opex", "value", "total"}, display: models.DisplayCurrency},
}

// columnTypeSeeds is indexed in the vector store for names no rule matches.
var columnTypeSeeds = []models.ColumnTypeMatch{
	{ColumnPattern: "gross_revenue net_sales turnover", DisplayType: models.DisplayCurrency},
	{ColumnPattern: "gl_amount_in_cc local currency amount", DisplayType: models.DisplayCurrency},
	{ColumnPattern: "share mix contribution", DisplayType: models.DisplayPercentage},
	{ColumnPattern: "posting_date fiscal_period calendar day", DisplayType: models.DisplayDate},
	{ColumnPattern: "order_lines transactions number of orders", DisplayType: models.DisplayInteger},
	{ColumnPattern: "sales_region customer_name material description", DisplayType: models.DisplayText},
}

var sqlExampleCatalog = []models.SQLExample{
	{
		Question:    "Top 10 customers by revenue this year",
		SQL:         "SELECT Customer_Name, SUM(Gross_Revenue) AS revenue\nFROM `{project}.{dataset}.gl_transactions`\nWHERE EXTRACT(YEAR FROM Posting_Date) = EXTRACT(YEAR FROM CURRENT_DATE())\nGROUP BY Customer_Name\nORDER BY revenue DESC\nLIMIT 10",
		Explanation: "Ranks customers by summed revenue",
		Category:    "ranking",
		Complexity:  "simple",
		Dialect:     models.DialectBigQuery,
	},
	{
		Question:    "Monthly revenue trend for the last 12 months",
		SQL:         "SELECT DATE_TRUNC(Posting_Date, MONTH) AS month, SUM(Gross_Revenue) AS revenue\nFROM `{project}.{dataset}.gl_transactions`\nWHERE Posting_Date >= DATE_SUB(CURRENT_DATE(), INTERVAL 12 MONTH)\nGROUP BY month\nORDER BY month",
		Explanation: "Buckets revenue by month",
		Category:    "time_series",
		Complexity:  "moderate",
		Dialect:     models.DialectBigQuery,
	},
	{
		Question:    "Gross margin and gross margin percent by region",
		SQL:         "WITH totals AS (\n  SELECT Sales_Region,\n    SUM(CASE WHEN bucket_code = 'REV' THEN Gross_Revenue ELSE 0 END) AS revenue,\n    SUM(CASE WHEN bucket_code = 'SALE_DS' OR bucket_code LIKE 'COGS_%' THEN GL_Amount_in_CC ELSE 0 END) AS deductions\n  FROM `{project}.{dataset}.gl_transactions`\n  GROUP BY Sales_Region\n)\nSELECT Sales_Region, revenue - deductions AS gross_margin,\n  SAFE_DIVIDE(revenue - deductions, revenue) * 100 AS gross_margin_pct\nFROM totals\nORDER BY gross_margin DESC",
		Explanation: "Revenue uses the revenue column; deductions use the signed amount",
		Category:    "margin",
		Complexity:  "complex",
		Dialect:     models.DialectBigQuery,
	},
	{
		Question:    "Compare revenue this year vs last year by product",
		SQL:         "SELECT Material_Description,\n  SUM(IF(EXTRACT(YEAR FROM Posting_Date) = EXTRACT(YEAR FROM CURRENT_DATE()), Gross_Revenue, 0)) AS current_year,\n  SUM(IF(EXTRACT(YEAR FROM Posting_Date) = EXTRACT(YEAR FROM CURRENT_DATE()) - 1, Gross_Revenue, 0)) AS prior_year\nFROM `{project}.{dataset}.gl_transactions`\nGROUP BY Material_Description\nORDER BY current_year DESC",
		Explanation: "Pivots two years side by side",
		Category:    "comparison",
		Complexity:  "moderate",
		Dialect:     models.DialectBigQuery,
	},
	{
		Question:    "COGS breakdown by bucket with share of total",
		SQL:         "SELECT bucket_code, SUM(GL_Amount_in_CC) AS amount,\n  SAFE_DIVIDE(SUM(GL_Amount_in_CC), SUM(SUM(GL_Amount_in_CC)) OVER ()) * 100 AS pct_of_total\nFROM `{project}.{dataset}.gl_transactions`\nWHERE bucket_code LIKE 'COGS_%'\nGROUP BY bucket_code\nORDER BY amount DESC",
		Explanation: "Groups COGS by bucket and computes percentages over the total",
		Category:    "breakdown",
		Complexity:  "moderate",
		Dialect:     models.DialectBigQuery,
	},
	{
		Question:    "Top 10 customers by revenue this year",
		SQL:         "SELECT customer_name, SUM(gross_revenue) AS revenue\nFROM gl_transactions\nWHERE date_part('year', posting_date) = date_part('year', CURRENT_DATE)\nGROUP BY customer_name\nORDER BY revenue DESC\nLIMIT 10",
		Explanation: "Ranks customers by summed revenue",
		Category:    "ranking",
		Complexity:  "simple",
		Dialect:     models.DialectPostgreSQL,
	},
	{
		Question:    "Monthly revenue trend for the last 12 months",
		SQL:         "SELECT date_trunc('month', posting_date) AS month, SUM(gross_revenue) AS revenue\nFROM gl_transactions\nWHERE posting_date >= CURRENT_DATE - INTERVAL '12 months'\nGROUP BY month\nORDER BY month",
		Explanation: "Buckets revenue by month",
		Category:    "time_series",
		Complexity:  "moderate",
		Dialect:     models.DialectPostgreSQL,
	},
	{
		Question:    "Gross margin percent by region",
		SQL:         "SELECT sales_region,\n  SUM(CASE WHEN bucket_code = 'REV' THEN gross_revenue ELSE 0 END)\n    - SUM(CASE WHEN bucket_code = 'SALE_DS' OR bucket_code LIKE 'COGS_%' THEN gl_amount_in_cc ELSE 0 END) AS gross_margin\nFROM gl_transactions\nGROUP BY sales_region",
		Explanation: "Revenue uses the revenue column; deductions use the signed amount",
		Category:    "margin",
		Complexity:  "moderate",
		Dialect:     models.DialectPostgreSQL,
	},
}

// exampleCategoryKeywords selects fallback examples when the vector store is unavailable.
var exampleCategoryKeywords = map[string][]string{
	"ranking":     {"top", "rank", "best", "worst", "highest", "lowest", "largest"},
	"time_series": {"trend", "over time", "monthly", "weekly", "daily", "by month", "growth"},
	"margin":      {"margin", "profit"},
	"comparison":  {" vs ", "versus", "compare", "compared", "last year", "prior"},
	"breakdown":   {"break down", "breakdown", "component", "composition", "share"},
}
