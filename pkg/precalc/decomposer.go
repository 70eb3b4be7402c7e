package precalc

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/hierarchy"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
	"github.com/ekaya-inc/ekaya-finsight/pkg/semantic"
)

// Request is the pre-calc view of a question.
type Request struct {
	MetricCode  string
	Granularity models.Granularity
	Period      string
	Dimensions  map[string]string
}

type Decomposer struct {
	parser    *semantic.Parser
	registry  *Registry
	hierarchy *hierarchy.Hierarchy
	logger    *zap.Logger
	now       func() time.Time
}

func NewDecomposer(parser *semantic.Parser, registry *Registry, h *hierarchy.Hierarchy, logger *zap.Logger) *Decomposer {
	return &Decomposer{
		parser:    parser,
		registry:  registry,
		hierarchy: h,
		logger:    logger.Named("precalc-decomposer"),
		now:       time.Now,
	}
}

// periodFor maps a parsed time period onto a cached granularity and label.
func periodFor(tp *models.TimePeriod, now time.Time) (models.Granularity, string, bool) {
	now = day(now.UTC())
	switch tp.PeriodType {
	case semantic.PeriodMTD:
		return models.GranularityMTD, "MTD", true
	case semantic.PeriodQTD:
		return models.GranularityQTD, "QTD", true
	case semantic.PeriodYTD:
		return models.GranularityYTD, "YTD", true
	case semantic.PeriodCurrentMonth:
		return models.GranularityMonthly, PeriodLabel(models.GranularityMonthly, now), true
	case semantic.PeriodLastMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return models.GranularityMonthly, PeriodLabel(models.GranularityMonthly, first.AddDate(0, -1, 0)), true
	case semantic.PeriodCurrentQuarter:
		return models.GranularityQuarterly, PeriodLabel(models.GranularityQuarterly, now), true
	case semantic.PeriodLastQuarter:
		return models.GranularityQuarterly, PeriodLabel(models.GranularityQuarterly, quarterStart(now).AddDate(0, -3, 0)), true
	case semantic.PeriodCurrentYear:
		return models.GranularityYearly, PeriodLabel(models.GranularityYearly, now), true
	case semantic.PeriodLastYear:
		return models.GranularityYearly, PeriodLabel(models.GranularityYearly, now.AddDate(-1, 0, 0)), true
	case semantic.PeriodSpecificMonth:
		if t, err := time.Parse("January 2006", tp.Text); err == nil {
			return models.GranularityMonthly, PeriodLabel(models.GranularityMonthly, t), true
		}
	case semantic.PeriodSpecificQuarter:
		var q, y int
		if _, err := fmt.Sscanf(tp.Text, "Q%d %d", &q, &y); err == nil {
			return models.GranularityQuarterly, fmt.Sprintf("%d-Q%d", y, q), true
		}
	case semantic.PeriodSpecificYear:
		return models.GranularityYearly, tp.Text, true
	}
	return "", "", false
}

// Extract decides whether a question can be expressed as a pre-calc lookup.
func (d *Decomposer) Extract(query string) (*Request, string) {
	qc := d.parser.Parse(query)
	ref := qc.PrimaryMetric()
	if ref == nil {
		return nil, "no metric identified"
	}
	if _, ok := d.hierarchy.Metric(ref.Code); !ok {
		return nil, fmt.Sprintf("%s is not pre-calculated", ref.Code)
	}
	if qc.TimePeriod == nil {
		return nil, "no time period"
	}
	g, period, ok := periodFor(qc.TimePeriod, d.now())
	if !ok {
		return nil, fmt.Sprintf("period %q has no pre-calculated granularity", qc.TimePeriod.Text)
	}

	dims := map[string]string{}
	for _, dim := range qc.Dimensions {
		dims[dim] = AnyValue
	}
	for k, v := range qc.Filters {
		dims[k] = v
	}
	return &Request{MetricCode: ref.Code, Granularity: g, Period: period, Dimensions: dims}, ""
}

// Decompose returns the best available match for query.
func (d *Decomposer) Decompose(query string) *models.PreCalcMatch {
	match := d.decompose(query)
	d.record(match)
	return match
}

func (d *Decomposer) record(match *models.PreCalcMatch) {
	observability.PreCalcMatchesTotal.WithLabelValues(string(match.MatchType)).Inc()
	d.logger.Debug("Pre-calc decomposition",
		zap.String("match_type", string(match.MatchType)),
		zap.String("metric", match.MetricCode),
		zap.String("reason", match.Reason))
}

func (d *Decomposer) decompose(query string) *models.PreCalcMatch {
	req, reason := d.Extract(query)
	if req == nil {
		return &models.PreCalcMatch{MatchType: models.MatchNone, Reason: reason}
	}
	return d.Match(req)
}

// Match consults the registry for a decomposed request.
func (d *Decomposer) Match(req *Request) *models.PreCalcMatch {
	match := &models.PreCalcMatch{MatchType: models.MatchNone, MetricCode: req.MetricCode}

	if rows := d.registry.FindMatches(req.MetricCode, req.Period, req.Granularity, req.Dimensions); len(rows) > 0 {
		match.MatchType = models.MatchExact
		match.AvailableCalculations = rows
		match.Confidence = 1.0
		match.Reason = fmt.Sprintf("%d cached value(s) for %s %s", len(rows), req.MetricCode, req.Period)
		return match
	}

	m, _ := d.hierarchy.Metric(req.MetricCode)
	if len(req.Dimensions) == 0 && !m.IsPercentage {
		rows, complete := d.registry.FindAggregatableMatches(req.MetricCode, req.Period, req.Granularity)
		switch {
		case complete:
			match.MatchType = models.MatchAggregatable
			match.AvailableCalculations = rows
			match.SuggestedAggregation = "SUM"
			match.Confidence = 0.85
			match.Reason = fmt.Sprintf("%s %s can be summed from %d finer values", req.MetricCode, req.Period, len(rows))
			return match
		case len(rows) > 0:
			match.MatchType = models.MatchPartial
			match.AvailableCalculations = rows
			match.Confidence = 0.4
			match.Reason = fmt.Sprintf("only %d finer values cover %s", len(rows), req.Period)
			return match
		}
	}

	if d.registry.HasMetric(req.MetricCode) {
		match.MatchType = models.MatchPartial
		match.Confidence = 0.2
		match.Reason = fmt.Sprintf("%s is cached but not for %s with the requested dimensions", req.MetricCode, req.Period)
		return match
	}
	match.Reason = fmt.Sprintf("no cached values for %s", req.MetricCode)
	return match
}
