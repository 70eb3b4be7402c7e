package models

// QueryType classifies a user question.
type QueryType string

const (
	QueryTypeFinancial  QueryType = "financial"
	QueryTypeSalesOrder QueryType = "sales_order"
	QueryTypeCombined   QueryType = "combined"
	QueryTypeGeneral    QueryType = "general"
)

// QueryIntent is what the user wants done with the metric.
type QueryIntent string

const (
	IntentMetricCalculation QueryIntent = "metric_calculation"
	IntentBreakdown         QueryIntent = "breakdown"
	IntentComparison        QueryIntent = "comparison"
	IntentTrend             QueryIntent = "trend"
	IntentDetail            QueryIntent = "detail"
)

// ComparisonType names a supported comparison.
type ComparisonType string

const (
	ComparisonVsLastYear  ComparisonType = "vs_last_year"
	ComparisonVsLastMonth ComparisonType = "vs_last_month"
	ComparisonVsBudget    ComparisonType = "vs_budget"
	ComparisonVsForecast  ComparisonType = "vs_forecast"
)

// TimePeriod is an extracted time window with its SQL filter.
type TimePeriod struct {
	PeriodType string `json:"period_type"`
	Text       string `json:"text"`
	SQLFilter  string `json:"sql_filter"`
}

// MetricRef is a metric identified in a question.
type MetricRef struct {
	Name       string            `json:"name"`
	Code       string            `json:"code"`
	Level      HierarchyDepth    `json:"level"`
	TimePeriod *TimePeriod       `json:"time_period,omitempty"`
	Dimensions []string          `json:"dimensions,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
	Comparison ComparisonType    `json:"comparison,omitempty"`
}

// QueryContext is the semantic parse of one question. Never persisted.
type QueryContext struct {
	Query          string            `json:"query"`
	QueryType      QueryType         `json:"query_type"`
	Domains        []string          `json:"domains"`
	HierarchyLevel HierarchyDepth    `json:"hierarchy_level,omitempty"`
	Metrics        []MetricRef       `json:"metrics"`
	Intent         QueryIntent       `json:"intent"`
	TimePeriod     *TimePeriod       `json:"time_period,omitempty"`
	Dimensions     []string          `json:"dimensions"`
	Comparison     ComparisonType    `json:"comparison,omitempty"`
	Filters        map[string]string `json:"filters"`
	GLSearchTerms  []string          `json:"gl_search_terms,omitempty"`
	LLMContext     map[string]any    `json:"llm_context,omitempty"`
}

// PrimaryMetric returns the first identified metric, or nil.
func (q *QueryContext) PrimaryMetric() *MetricRef {
	if len(q.Metrics) == 0 {
		return nil
	}
	return &q.Metrics[0]
}

// IsFinancial reports whether the question touches financial data.
func (q *QueryContext) IsFinancial() bool {
	return q.QueryType == QueryTypeFinancial || q.QueryType == QueryTypeCombined
}

// GLQueryContext is the GL advisor's analysis of a financial question.
type GLQueryContext struct {
	Query                  string      `json:"query"`
	ClientID               string      `json:"client_id"`
	IdentifiedConcepts     []string    `json:"identified_concepts"`
	RequiredBuckets        []string    `json:"required_buckets"`
	GLAccounts             []string    `json:"gl_accounts"`
	TimePeriod             *TimePeriod `json:"time_period,omitempty"`
	Dimensions             []string    `json:"dimensions"`
	ClarificationNeeded    bool        `json:"clarification_needed"`
	ClarificationQuestions []string    `json:"clarification_questions"`
	SuggestedCalculation   string      `json:"suggested_calculation,omitempty"`
	IsBreakdown            bool        `json:"is_breakdown"`
}

// GLValidation is the inline result of validating a financial query against a tenant mapping.
type GLValidation struct {
	Valid           bool                `json:"valid"`
	MissingBuckets  []string            `json:"missing_buckets"`
	InvalidAccounts []string            `json:"invalid_accounts"`
	Suggestions     map[string][]string `json:"suggestions"`
}
