package models

// HierarchyDepth is the level a question should be answered at.
type HierarchyDepth string

const (
	DepthNone HierarchyDepth = ""
	DepthL1   HierarchyDepth = "L1"
	DepthL2   HierarchyDepth = "L2"
	DepthL3   HierarchyDepth = "L3"
)

// L1Metric is a derived financial metric computed from L2 buckets.
// FormulaComponents holds structured SQL fragments keyed by component name so
// tenant overrides can rebuild them mechanically.
type L1Metric struct {
	Code              string            `json:"code" yaml:"code"`
	Name              string            `json:"name" yaml:"name"`
	Description       string            `json:"description" yaml:"description"`
	FormulaText       string            `json:"formula_text" yaml:"formula_text"`
	FormulaComponents map[string]string `json:"formula_components" yaml:"formula_components"`
	SubBuckets        []string          `json:"sub_buckets" yaml:"sub_buckets"`
	CalculationOrder  int               `json:"calculation_order" yaml:"calculation_order"`
	IsPercentage      bool              `json:"is_percentage" yaml:"is_percentage"`
	Keywords          []string          `json:"keywords,omitempty" yaml:"keywords"`
}

// AccountRange is an inclusive GL account number range.
type AccountRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Contains reports whether account falls within the range (numeric-string comparison
// for equal-length numbers, lexical otherwise).
func (r AccountRange) Contains(account string) bool {
	if len(account) == len(r.From) && len(account) == len(r.To) {
		return account >= r.From && account <= r.To
	}
	return account >= r.From && account <= r.To
}

// L2Bucket is a named group of GL accounts rolling up into an L1 metric.
type L2Bucket struct {
	Code            string         `json:"code"`
	Name            string         `json:"name"`
	ParentMetric    string         `json:"parent_metric"`
	GLAccounts      []string       `json:"gl_accounts"`
	GLAccountRanges []AccountRange `json:"gl_account_ranges,omitempty"`
	SourceBuckets   []string       `json:"source_buckets,omitempty"`
	IsRevenue       bool           `json:"is_revenue"`
}

// HierarchyPath locates a GL account in the three-tier hierarchy.
type HierarchyPath struct {
	GLAccount     string `json:"gl_account"`
	GLDescription string `json:"gl_description,omitempty"`
	L2Bucket      string `json:"l2_bucket,omitempty"`
	L2Name        string `json:"l2_name,omitempty"`
	L1Metric      string `json:"l1_metric,omitempty"`
	L1Name        string `json:"l1_name,omitempty"`
}
