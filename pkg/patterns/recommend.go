package patterns

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

const (
	bytesPerTB = 1e12
	bytesPerGB = 1e9
	daysPerMo  = 30.0
)

const viewNameTemplate = `{{ .Prefix }}{{ .Table | splitList "." | last | lower | replace "-" "_" }}_{{ .PatternID | trunc 8 }}`

const breakdownTemplate = `CREATE MATERIALIZED VIEW {{ .View }} AS
SELECT {{ join ", " .GroupBy }}, {{ join ", " .Measures }}
FROM {{ .Table }}
GROUP BY {{ join ", " .GroupBy }}`

const timeSeriesTemplate = `CREATE MATERIALIZED VIEW {{ .View }} AS
SELECT {{ .Period }} AS period{{ range .GroupBy }}, {{ . }}{{ end }}, {{ join ", " .Measures }}
FROM {{ .Table }}
GROUP BY period{{ range .GroupBy }}, {{ . }}{{ end }}`

const aggregationTemplate = `CREATE MATERIALIZED VIEW {{ .View }} AS
SELECT {{ join ", " .Measures }}
FROM {{ .Table }}`

const passthroughTemplate = `CREATE MATERIALIZED VIEW {{ .View }} AS
{{ .Sample | trimSuffix ";" | trim }}`

var templates = func() map[string]*template.Template {
	funcs := sprig.TxtFuncMap()
	parse := func(name, body string) *template.Template {
		return template.Must(template.New(name).Funcs(funcs).Parse(body))
	}
	return map[string]*template.Template{
		"view":        parse("view", viewNameTemplate),
		"breakdown":   parse("breakdown", breakdownTemplate),
		"time_series": parse("time_series", timeSeriesTemplate),
		"aggregation": parse("aggregation", aggregationTemplate),
		"passthrough": parse("passthrough", passthroughTemplate),
	}
}()

func render(name string, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := templates[name].Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// GenerateMVRecommendations proposes a view for every pattern frequent and
// heavy enough to pay for one, highest savings first.
func (a *Analyzer) GenerateMVRecommendations(patterns []*models.QueryPattern) ([]*models.MVRecommendation, error) {
	var recs []*models.MVRecommendation
	for _, p := range patterns {
		if p.Frequency < a.cfg.RecommendMinFrequency || p.TotalBytesProcessed < a.cfg.RecommendMinBytes {
			continue
		}
		rec, err := a.recommend(p)
		if err != nil {
			return nil, fmt.Errorf("failed to recommend view for pattern %s: %w", p.PatternID, err)
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].EstMonthlySavings > recs[j].EstMonthlySavings
	})
	return recs, nil
}

func (a *Analyzer) recommend(p *models.QueryPattern) (*models.MVRecommendation, error) {
	var f Features
	sample := ""
	if len(p.SampleQueries) > 0 {
		sample = p.SampleQueries[0]
		f = ExtractFeatures(sample)
	}

	table := p.Tables[0]
	view, err := render("view", map[string]any{
		"Prefix":    a.cfg.ViewNamePrefix,
		"Table":     table,
		"PatternID": p.PatternID,
	})
	if err != nil {
		return nil, err
	}
	if ds := a.executor.DatasetID(); ds != "" && !strings.Contains(view, ".") {
		view = ds + "." + view
	}

	ddl, err := a.viewSQL(p, f, view, table, sample)
	if err != nil {
		return nil, err
	}

	reduction := 0.8
	if len(p.Aggregations) > 0 {
		reduction = 0.9
	}
	cost := a.estimate(p, reduction)

	return &models.MVRecommendation{
		ID:                  uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.PatternID)).String(),
		Pattern:             p,
		ViewName:            view,
		SuggestedQuery:      ddl,
		EstCostReductionPct: round2(cost.reductionPct),
		EstMonthlyCost:      round2(cost.current),
		EstMonthlySavings:   round2(cost.current - cost.withView),
		AffectedQueries:     p.Frequency,
		Confidence:          a.confidence(p),
		Reasoning: fmt.Sprintf("%s pattern on %s ran %d times in %d days scanning %.2f GB; a pre-aggregated view cuts scanned bytes by about %.0f%%",
			strings.ReplaceAll(string(p.PatternType), "_", " "), table, p.Frequency, a.cfg.LookbackDays,
			float64(p.TotalBytesProcessed)/bytesPerGB, reduction*100),
	}, nil
}

func (a *Analyzer) viewSQL(p *models.QueryPattern, f Features, view, table, sample string) (string, error) {
	data := map[string]any{
		"View":     view,
		"Table":    table,
		"GroupBy":  plainGroupBy(p.GroupBy),
		"Measures": f.Measures,
		"Sample":   sample,
	}
	if len(f.Measures) == 0 {
		return render("passthrough", data)
	}

	switch p.PatternType {
	case models.PatternTimeSeries:
		col := f.TimeColumn
		if col == "" {
			col = a.cfg.TimeColumn
		}
		data["Period"] = a.dayTrunc(col)
		data["GroupBy"] = withoutTimeAliases(plainGroupBy(p.GroupBy), sample)
		return render("time_series", data)
	case models.PatternDimensionBreakdown:
		return render("breakdown", data)
	case models.PatternAggregation:
		return render("aggregation", data)
	default:
		return render("passthrough", data)
	}
}

func (a *Analyzer) dayTrunc(col string) string {
	if strings.EqualFold(a.executor.Dialect(), models.DialectPostgreSQL) {
		return fmt.Sprintf("DATE_TRUNC('day', %s)", col)
	}
	return fmt.Sprintf("DATE_TRUNC(%s, DAY)", col)
}

type costEstimate struct {
	current      float64
	withView     float64
	reductionPct float64
}

// estimate prices the pattern at on-demand scan rates, then prices the same
// traffic against a view that stores MVSizeRatio of the scanned bytes.
func (a *Analyzer) estimate(p *models.QueryPattern, reduction float64) costEstimate {
	lookback := float64(a.cfg.LookbackDays)
	if lookback <= 0 {
		lookback = daysPerMo
	}
	monthlyQueries := float64(p.Frequency) * daysPerMo / lookback
	avgBytes := float64(p.TotalBytesProcessed) / float64(p.Frequency)

	current := monthlyQueries * avgBytes / bytesPerTB * a.cfg.PricePerTB
	scan := monthlyQueries * avgBytes * (1 - reduction) / bytesPerTB * a.cfg.PricePerTB
	storage := avgBytes * a.cfg.MVSizeRatio / bytesPerGB * a.cfg.StoragePerGBMonth
	withView := scan + storage

	est := costEstimate{current: current, withView: withView}
	if current > 0 {
		est.reductionPct = (current - withView) / current * 100
	}
	return est
}

// confidence scores frequency, scanned volume and how well the shape
// pre-aggregates.
func (a *Analyzer) confidence(p *models.QueryPattern) float64 {
	score := 0.0
	switch {
	case p.Frequency >= 50:
		score += 0.4
	case p.Frequency >= 20:
		score += 0.35
	case p.Frequency >= 10:
		score += 0.25
	default:
		score += 0.1
	}

	gb := float64(p.TotalBytesProcessed) / bytesPerGB
	switch {
	case gb >= 100:
		score += 0.3
	case gb >= 10:
		score += 0.25
	case gb >= 1:
		score += 0.15
	}

	switch p.PatternType {
	case models.PatternDimensionBreakdown, models.PatternAggregation, models.PatternTimeSeries:
		score += 0.3
	case models.PatternJoin:
		score += 0.2
	default:
		score += 0.1
	}
	return math.Min(1, round2(score))
}

// AutoCreateRecommendedMVs analyzes the log and creates up to maxViews views whose
// confidence reaches minConfidence. It returns the views it created.
func (a *Analyzer) AutoCreateRecommendedMVs(ctx context.Context, maxViews int, minConfidence float64) ([]string, error) {
	patterns, err := a.Analyze(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := a.GenerateMVRecommendations(patterns)
	if err != nil {
		return nil, err
	}

	var created []string
	var failed int
	for _, rec := range recs {
		if len(created) >= maxViews {
			break
		}
		if rec.Confidence < minConfidence {
			continue
		}
		if err := a.executor.Exec(ctx, rec.SuggestedQuery); err != nil {
			failed++
			a.logger.Error("Failed to create materialized view",
				zap.String("view", rec.ViewName),
				zap.Error(err))
			continue
		}
		a.logger.Info("Created materialized view",
			zap.String("view", rec.ViewName),
			zap.Float64("confidence", rec.Confidence),
			zap.Float64("est_monthly_savings", rec.EstMonthlySavings))
		created = append(created, rec.ViewName)
	}
	if failed > 0 && len(created) == 0 {
		return nil, fmt.Errorf("failed to create %d materialized views", failed)
	}
	return created, nil
}

func plainGroupBy(groupBy []string) []string {
	out := make([]string, 0, len(groupBy))
	for _, g := range groupBy {
		if strings.Contains(g, "(") {
			continue
		}
		out = append(out, g)
	}
	return out
}

func withoutTimeAliases(groupBy []string, sample string) []string {
	aliases := make(map[string]bool)
	for _, item := range selectTimeAliases(sample) {
		aliases[strings.ToLower(item)] = true
	}
	out := make([]string, 0, len(groupBy))
	for _, g := range groupBy {
		if aliases[strings.ToLower(g)] {
			continue
		}
		out = append(out, g)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
