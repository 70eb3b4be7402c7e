package models

import "time"

// PatternType classifies the shape of a recurring query.
type PatternType string

const (
	PatternAggregation        PatternType = "aggregation"
	PatternTimeSeries         PatternType = "time_series"
	PatternJoin               PatternType = "join"
	PatternFilter             PatternType = "filter"
	PatternDimensionBreakdown PatternType = "dimension_breakdown"
)

// QueryLogEntry is one executed query in the query log.
type QueryLogEntry struct {
	ID              int64     `json:"id"`
	ClientID        string    `json:"client_id"`
	Question        string    `json:"question"`
	SQL             string    `json:"sql"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	BytesProcessed  int64     `json:"bytes_processed"`
	RowCount        int       `json:"row_count"`
	Error           string    `json:"error,omitempty"`
	FromPreCalc     bool      `json:"from_precalc"`
	CreatedAt       time.Time `json:"created_at"`
}

// QueryPattern is a canonical query shape mined from the log.
type QueryPattern struct {
	PatternID           string      `json:"pattern_id"`
	PatternType         PatternType `json:"pattern_type"`
	Tables              []string    `json:"tables"`
	Columns             []string    `json:"columns"`
	Aggregations        []string    `json:"aggregations"`
	Filters             []string    `json:"filters"`
	GroupBy             []string    `json:"group_by"`
	Frequency           int         `json:"frequency"`
	AvgExecutionMs      float64     `json:"avg_execution_ms"`
	TotalBytesProcessed int64       `json:"total_bytes_processed"`
	SampleQueries       []string    `json:"sample_queries"`
}

// MVRecommendation proposes a materialized view for a pattern.
type MVRecommendation struct {
	ID                  string        `json:"id"`
	Pattern             *QueryPattern `json:"pattern"`
	ViewName            string        `json:"view_name"`
	SuggestedQuery      string        `json:"suggested_query"`
	EstCostReductionPct float64       `json:"est_cost_reduction_pct"`
	EstMonthlyCost      float64       `json:"est_monthly_cost"`
	EstMonthlySavings   float64       `json:"est_monthly_savings"`
	AffectedQueries     int           `json:"affected_queries"`
	Confidence          float64       `json:"confidence"`
	Reasoning           string        `json:"reasoning"`
}
