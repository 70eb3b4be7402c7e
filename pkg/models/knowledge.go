package models

// DisplayType is how a result column should be rendered.
type DisplayType string

const (
	DisplayCurrency   DisplayType = "currency"
	DisplayPercentage DisplayType = "percentage"
	DisplayInteger    DisplayType = "integer"
	DisplayDate       DisplayType = "date"
	DisplayText       DisplayType = "text"
)

// Format templates for each display type.
const (
	FormatCurrency   = "$#,##0.00"
	FormatPercentage = "#.##%"
	FormatInteger    = "#,##0"
	FormatDate       = "YYYY-MM-DD"
	FormatText       = "@"
)

// FormatTemplate returns the canonical format template for a display type.
func (d DisplayType) FormatTemplate() string {
	switch d {
	case DisplayCurrency:
		return FormatCurrency
	case DisplayPercentage:
		return FormatPercentage
	case DisplayInteger:
		return FormatInteger
	case DisplayDate:
		return FormatDate
	default:
		return FormatText
	}
}

// SQL dialects supported for example retrieval.
const (
	DialectBigQuery   = "bigquery"
	DialectPostgreSQL = "postgresql"
)

// MetricMatch is a metric definition resolved from the knowledge base.
type MetricMatch struct {
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	FormulaText  string   `json:"formula_text"`
	FormulaSQL   string   `json:"formula_sql"`
	Synonyms     []string `json:"synonyms"`
	Components   []string `json:"components"`
	IsPercentage bool     `json:"is_percentage"`
	IsCurrency   bool     `json:"is_currency"`
	Category     string   `json:"category"`
	Confidence   float64  `json:"confidence"`
	Available    bool     `json:"available"`
	Substitute   string   `json:"substitute,omitempty"`
	Note         string   `json:"note,omitempty"`
}

// TermMatch resolves a business synonym to its canonical term.
type TermMatch struct {
	Term           string   `json:"term"`
	CanonicalTerm  string   `json:"canonical_term"`
	Category       string   `json:"category"`
	RelatedMetrics []string `json:"related_metrics"`
	Confidence     float64  `json:"confidence"`
}

// ColumnTypeMatch is the inferred display type of a result column.
type ColumnTypeMatch struct {
	ColumnPattern  string      `json:"column_pattern"`
	DisplayType    DisplayType `json:"display_type"`
	FormatTemplate string      `json:"format_template"`
	Confidence     float64     `json:"confidence"`
}

// SQLExample is a curated question/SQL pair used for few-shot prompting.
type SQLExample struct {
	Question    string  `json:"question"`
	SQL         string  `json:"sql"`
	Explanation string  `json:"explanation"`
	Category    string  `json:"category"`
	Complexity  string  `json:"complexity"`
	Dialect     string  `json:"dialect"`
	Confidence  float64 `json:"confidence"`
}
