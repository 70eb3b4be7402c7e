package models

import "time"

// Granularity is the time bucket of a pre-calculated metric.
type Granularity string

const (
	GranularityDaily     Granularity = "daily"
	GranularityWeekly    Granularity = "weekly"
	GranularityMonthly   Granularity = "monthly"
	GranularityQuarterly Granularity = "quarterly"
	GranularityYearly    Granularity = "yearly"
	GranularityMTD       Granularity = "mtd"
	GranularityQTD       Granularity = "qtd"
	GranularityYTD       Granularity = "ytd"
)

// MetricCalculation is one cached pre-calculated metric value.
type MetricCalculation struct {
	MetricCode   string            `json:"metric_code"`
	MetricName   string            `json:"metric_name"`
	TimePeriod   string            `json:"time_period"`
	Granularity  Granularity       `json:"granularity"`
	Dimensions   map[string]string `json:"dimensions"`
	Value        float64           `json:"value"`
	CalculatedAt time.Time         `json:"calculated_at"`
	RowCount     int               `json:"row_count"`
	CacheKey     string            `json:"cache_key"`
}

// MatchType describes how well pre-calculated data covers a query.
type MatchType string

const (
	MatchExact        MatchType = "exact"
	MatchAggregatable MatchType = "aggregatable"
	MatchPartial      MatchType = "partial"
	MatchNone         MatchType = "none"
)

// PreCalcMatch is the decomposer's verdict for a query.
type PreCalcMatch struct {
	MatchType             MatchType            `json:"match_type"`
	MetricCode            string               `json:"metric_code"`
	AvailableCalculations []*MetricCalculation `json:"available_calculations"`
	SuggestedAggregation  string               `json:"suggested_aggregation,omitempty"`
	Confidence            float64              `json:"confidence"`
	Reason                string               `json:"reason"`
}
