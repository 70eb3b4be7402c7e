// Package semantic turns a natural-language business question into a
// QueryContext using keyword tables and regular expressions. No model is
// consulted, so the same question always parses the same way.
package semantic

import (
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/hierarchy"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// Options control SQL fragments the parser emits.
type Options struct {
	TimeColumn string
	Dialect    string
}

type Parser struct {
	opts      Options
	hierarchy *hierarchy.Hierarchy
	logger    *zap.Logger
}

// NewParser creates a parser. A nil hierarchy uses the default metric tables.
func NewParser(h *hierarchy.Hierarchy, opts Options, logger *zap.Logger) *Parser {
	if h == nil {
		h = hierarchy.NewStatic(hierarchy.DefaultOptions(), logger)
	}
	if opts.TimeColumn == "" {
		opts.TimeColumn = h.Options().Columns.Time
	}
	if opts.Dialect == "" {
		opts.Dialect = h.Options().Dialect
	}
	return &Parser{
		opts:      opts,
		hierarchy: h,
		logger:    logger.Named("semantic"),
	}
}

// Parse runs every extraction step over query.
func (p *Parser) Parse(query string) *models.QueryContext {
	qc := &models.QueryContext{
		Query:          query,
		QueryType:      p.ClassifyQueryType(query),
		Domains:        p.IdentifyQueryDomains(query),
		HierarchyLevel: p.ClassifyQueryDepth(query),
		Metrics:        p.ExtractFinancialMetrics(query),
		Intent:         p.DetermineQueryIntent(query),
		TimePeriod:     p.ExtractTimePeriod(query),
		Dimensions:     p.ExtractDimensions(query),
		Comparison:     p.ExtractComparison(query),
		Filters:        p.ExtractFilters(query),
	}
	for i := range qc.Metrics {
		m := &qc.Metrics[i]
		m.TimePeriod = qc.TimePeriod
		m.Dimensions = qc.Dimensions
		m.Filters = qc.Filters
		m.Comparison = qc.Comparison
	}
	if qc.HierarchyLevel == models.DepthL3 {
		qc.GLSearchTerms = p.ExtractGLSearchTerms(query)
	}
	if qc.HierarchyLevel == models.DepthL1 && len(qc.Metrics) > 0 {
		qc.LLMContext = p.BuildLLMContext(qc)
	}

	p.logger.Debug("Parsed question",
		zap.String("query_type", string(qc.QueryType)),
		zap.String("level", string(qc.HierarchyLevel)),
		zap.String("intent", string(qc.Intent)),
		zap.Int("metrics", len(qc.Metrics)))
	return qc
}

func (p *Parser) ClassifyQueryType(query string) models.QueryType {
	q := normalize(query)
	if containsAny(q, combinedIndicators) {
		return models.QueryTypeCombined
	}
	sales := containsAny(q, salesOrderKeywords)
	financial := containsAny(q, financialKeywords) || len(p.ExtractFinancialMetrics(query)) > 0
	switch {
	case sales && financial:
		return models.QueryTypeCombined
	case sales:
		return models.QueryTypeSalesOrder
	case financial:
		return models.QueryTypeFinancial
	default:
		return models.QueryTypeGeneral
	}
}

// IdentifyQueryDomains is multi-label; "general" only when nothing else applies.
func (p *Parser) IdentifyQueryDomains(query string) []string {
	q := normalize(query)
	hit := map[string]bool{
		"financial":        containsAny(q, financialKeywords) || len(p.ExtractFinancialMetrics(query)) > 0,
		"sales_operations": containsAny(q, salesOrderKeywords),
	}
	for domain, kws := range domainKeywords {
		hit[domain] = containsAny(q, kws)
	}
	var out []string
	for _, d := range domainOrder {
		if hit[d] {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		out = []string{"general"}
	}
	return out
}

// ClassifyQueryDepth picks the hierarchy level a question should be answered at.
func (p *Parser) ClassifyQueryDepth(query string) models.HierarchyDepth {
	if p.ClassifyQueryType(query) == models.QueryTypeSalesOrder {
		return models.DepthNone
	}
	q := normalize(query)
	breakdown := containsAny(q, breakdownKeywords)
	if !breakdown && (len(glNumbers(query)) > 0 || containsAny(q, specificExpenseTerms)) {
		return models.DepthL3
	}
	if breakdown {
		return models.DepthL2
	}
	return models.DepthL1
}

type metricHit struct {
	ref   models.MetricRef
	start int
	end   int
}

// ExtractFinancialMetrics matches metric names and keywords, longest phrase
// first, so "gross margin %" does not also report gross margin.
func (p *Parser) ExtractFinancialMetrics(query string) []models.MetricRef {
	q := normalize(query)
	level := models.DepthL1
	if containsAny(q, breakdownKeywords) {
		level = models.DepthL2
	}

	var hits []metricHit
	consider := func(code, name string, phrases []string) {
		var best *metricHit
		for _, ph := range phrases {
			n := normalize(ph)
			if n == "" {
				continue
			}
			if i := phraseIndex(q, n); i >= 0 && (best == nil || len(n) > best.end-best.start) {
				best = &metricHit{ref: models.MetricRef{Name: name, Code: code, Level: level}, start: i, end: i + len(n)}
			}
		}
		if best != nil {
			hits = append(hits, *best)
		}
	}
	for _, m := range p.hierarchy.Metrics() {
		consider(m.Code, m.Name, append([]string{m.Name}, m.Keywords...))
	}
	for _, b := range baseMeasures {
		consider(b.code, b.name, b.keywords)
	}

	// Longer spans shadow shorter ones they contain.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].end-hits[i].start > hits[j].end-hits[j].start
	})
	var kept []metricHit
	for _, h := range hits {
		shadowed := false
		for _, k := range kept {
			if h.start >= k.start && h.end <= k.end {
				shadowed = true
				break
			}
		}
		if !shadowed {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].start < kept[j].start })

	out := make([]models.MetricRef, 0, len(kept))
	for _, k := range kept {
		out = append(out, k.ref)
	}
	return out
}

func (p *Parser) DetermineQueryIntent(query string) models.QueryIntent {
	q := normalize(query)
	switch {
	case containsAny(q, breakdownKeywords):
		return models.IntentBreakdown
	case p.ExtractComparison(query) != "" || containsAny(q, comparisonKeywords):
		return models.IntentComparison
	case containsAny(q, trendKeywords):
		return models.IntentTrend
	case containsAny(q, detailKeywords) || len(glNumbers(query)) > 0:
		return models.IntentDetail
	default:
		return models.IntentMetricCalculation
	}
}

// IsBreakdown reports whether the question asks for a component breakdown.
func IsBreakdown(query string) bool {
	return containsAny(normalize(query), breakdownKeywords)
}
