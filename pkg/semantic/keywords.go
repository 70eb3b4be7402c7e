package semantic

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	salesOrderKeywords = []string{
		"sales order", "sales orders", "order", "orders", "delivery", "deliveries", "delivered",
		"shipment", "shipments", "shipped", "backlog", "fulfillment", "fill rate", "open orders",
	}
	financialKeywords = []string{
		"revenue", "margin", "profit", "cost", "costs", "cogs", "expense", "expenses", "opex",
		"ebitda", "income", "gl", "ledger", "account", "accounts", "budget", "p&l", "depreciation",
		"amortization", "earnings", "roi", "roe", "tax", "financial", "gross", "net sales",
	}
	// combinedIndicators mark questions that join order data to financials.
	combinedIndicators = []string{
		"delivered orders", "order margin", "order profitability", "revenue per order",
		"margin per order", "cost per order", "order revenue",
	}
	breakdownKeywords = []string{
		"break down", "breakdown", "broken down", "by component", "components", "composition",
		"split by", "what makes up", "drill down", "drill into", "decompose",
	}
	// specificExpenseTerms push a question to account level.
	specificExpenseTerms = []string{
		"transactions", "transaction", "journal", "journal entries", "line items", "rent",
		"travel", "utilities", "salaries", "office supplies", "invoice", "invoices", "postings",
	}
	trendKeywords = []string{
		"trend", "trends", "over time", "trajectory", "growth", "month over month",
		"evolution", "history", "historical",
	}
	comparisonKeywords = []string{"compare", "compared", "comparison", "versus", "vs"}
	detailKeywords     = []string{"list", "detail", "details", "transactions", "line items", "show all"}

	domainKeywords = map[string][]string{
		"inventory": {"inventory", "stock", "on hand", "stockout", "warehouse stock"},
		"customer":  {"customer", "customers", "client", "clients", "churn", "retention"},
		"product":   {"product", "products", "sku", "skus", "material", "materials", "brand", "flavor"},
	}
	domainOrder = []string{"financial", "sales_operations", "inventory", "customer", "product"}
)

// baseMeasures are metrics below L1 that questions still name directly.
var baseMeasures = []struct {
	code     string
	name     string
	keywords []string
}{
	{"REVENUE", "Revenue", []string{"revenue", "net sales", "gross sales", "turnover", "top line"}},
	{"COGS", "Cost of Goods Sold", []string{"cogs", "cost of goods sold", "cost of sales", "cost of goods"}},
	{"OPEX", "Operating Expenses", []string{"opex", "operating expenses", "operating costs", "overhead"}},
}

var (
	glNumberPattern = regexp.MustCompile(`\b\d{4,8}\b`)
	yearPattern     = regexp.MustCompile(`^(19|20)\d{2}$`)
	quotedPattern   = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
)

// normalize lowercases s and collapses punctuation to single spaces.
func normalize(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '%' || r == '&' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// phraseIndex returns the offset of phrase in text on word boundaries, or -1.
func phraseIndex(text, phrase string) int {
	i := strings.Index(" "+text+" ", " "+phrase+" ")
	return i
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if phraseIndex(text, p) >= 0 {
			return true
		}
	}
	return false
}

// glNumbers returns 4-8 digit tokens that are not calendar years.
func glNumbers(query string) []string {
	var out []string
	for _, m := range glNumberPattern.FindAllString(query, -1) {
		if len(m) == 4 && yearPattern.MatchString(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}
