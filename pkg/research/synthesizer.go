package research

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

const (
	growthRatio        = 1.5
	maxTrendInsights   = 2
	maxKeyFindings     = 5
	crossStepSummaries = 3
)

// Insight categories.
const (
	CategoryTrend      = "trend"
	CategoryComparison = "comparison"
	CategoryAnomaly    = "anomaly"
	CategoryIntegrated = "integrated"
)

// Synthesizer turns a finished execution into a report.
type Synthesizer struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewSynthesizer(logger *zap.Logger) *Synthesizer {
	return &Synthesizer{logger: logger.Named("research-synthesizer"), now: time.Now}
}

type completedStep struct {
	step   *models.ResearchStep
	result *models.StepResult
}

// Synthesize derives insights, recommendations and a summary from exec.
func (s *Synthesizer) Synthesize(plan *models.ResearchPlan, exec *models.ResearchExecution) *models.ResearchReport {
	var done []completedStep
	for _, step := range plan.Steps {
		if res, ok := exec.StepResults[step.ID]; ok && res.Status == models.StepStatusCompleted {
			done = append(done, completedStep{step: step, result: res})
		}
	}

	var insights []models.Insight
	for _, c := range done {
		switch c.step.StepType {
		case models.StepTrend:
			insights = append(insights, trendInsights(c)...)
		case models.StepComparison, models.StepSegmentation, models.StepBreakdown:
			if in, ok := comparisonInsight(c); ok {
				insights = append(insights, in)
			}
		case models.StepAnomaly:
			if len(c.result.Results) > 0 {
				insights = append(insights, anomalyInsight(c))
			}
		}
	}
	if len(done) > 0 {
		insights = append(insights, crossStepInsight(done))
	}
	for i := range insights {
		insights[i].ID = uuid.New().String()
	}

	summary := dataSummary(exec)
	report := &models.ResearchReport{
		ID:              uuid.New().String(),
		PlanID:          plan.ID,
		ExecutionID:     exec.ID,
		Title:           "Research Report: " + plan.OriginalQuery,
		Insights:        insights,
		Recommendations: recommendations(insights),
		KeyFindings:     keyFindings(insights),
		Methodology:     methodology(plan, summary),
		DataSummary:     summary,
		GeneratedAt:     s.now().UTC(),
	}
	if report.Insights == nil {
		report.Insights = []models.Insight{}
	}
	report.ExecutiveSummary = executiveSummary(plan, report)

	s.logger.Info("Synthesized research report",
		zap.String("execution_id", exec.ID),
		zap.Int("insights", len(report.Insights)),
		zap.Int("recommendations", len(report.Recommendations)))
	return report
}

// toFloat converts warehouse values to float64. Strings are accepted when
// they parse as decimals.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case decimal.Decimal:
		return n.InexactFloat64(), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return d.InexactFloat64(), true
	}
	return 0, false
}

var calendarColumns = []string{"year", "month", "quarter", "date", "period", "week", "day"}

func isCalendarColumn(name string) bool {
	n := strings.ToLower(name)
	for _, c := range calendarColumns {
		if strings.Contains(n, c) {
			return true
		}
	}
	return false
}

type columnRange struct {
	name     string
	min, max float64
}

// numericColumns returns the min and max of every column whose values are
// all numeric, skipping calendar columns.
func numericColumns(rows []map[string]any) []columnRange {
	if len(rows) == 0 {
		return nil
	}
	names := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		if !isCalendarColumn(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var out []columnRange
	for _, name := range names {
		r := columnRange{name: name}
		ok := true
		for i, row := range rows {
			f, isNum := toFloat(row[name])
			if !isNum {
				ok = false
				break
			}
			if i == 0 || f < r.min {
				r.min = f
			}
			if i == 0 || f > r.max {
				r.max = f
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}

func labelColumn(rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	names := make([]string, 0, len(rows[0]))
	for k, v := range rows[0] {
		if _, isNum := toFloat(v); !isNum {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func trendInsights(c completedStep) []models.Insight {
	var growing []columnRange
	for _, r := range numericColumns(c.result.Results) {
		if r.min > 0 && r.max > growthRatio*r.min {
			growing = append(growing, r)
		}
	}
	sort.SliceStable(growing, func(i, j int) bool {
		return growing[i].max/growing[i].min > growing[j].max/growing[j].min
	})
	if len(growing) > maxTrendInsights {
		growing = growing[:maxTrendInsights]
	}

	out := make([]models.Insight, 0, len(growing))
	for _, r := range growing {
		change := (r.max - r.min) / r.min * 100
		out = append(out, models.Insight{
			Title: fmt.Sprintf("Significant growth in %s", r.name),
			Description: fmt.Sprintf("%s ranged from %.2f to %.2f across %d periods, a %.1f%% spread.",
				r.name, r.min, r.max, len(c.result.Results), change),
			Importance: models.ImportanceHigh,
			Category:   CategoryTrend,
			SupportingData: map[string]any{
				"column": r.name,
				"min":    r.min,
				"max":    r.max,
				"change": change,
			},
			SourceSteps: []string{c.step.ID},
			Confidence:  0.8,
		})
	}
	return out
}

func comparisonInsight(c completedStep) (models.Insight, bool) {
	rows := c.result.Results
	if len(rows) < 2 {
		return models.Insight{}, false
	}
	desc := fmt.Sprintf("%s compared %d segments.", c.step.Name, len(rows))
	data := map[string]any{"segments": len(rows)}

	label := labelColumn(rows)
	if cols := numericColumns(rows); label != "" && len(cols) > 0 {
		measure := cols[0].name
		top := rows[0]
		topVal, _ := toFloat(top[measure])
		for _, row := range rows[1:] {
			if v, _ := toFloat(row[measure]); v > topVal {
				top, topVal = row, v
			}
		}
		desc = fmt.Sprintf("%s compared %d segments; %v leads on %s at %.2f.",
			c.step.Name, len(rows), top[label], measure, topVal)
		data["leader"] = top[label]
		data["measure"] = measure
	}
	return models.Insight{
		Title:          "Segment comparison for " + c.step.Name,
		Description:    desc,
		Importance:     models.ImportanceMedium,
		Category:       CategoryComparison,
		SupportingData: data,
		SourceSteps:    []string{c.step.ID},
		Confidence:     0.7,
	}, true
}

func anomalyInsight(c completedStep) models.Insight {
	n := len(c.result.Results)
	return models.Insight{
		Title:          fmt.Sprintf("Detected %d anomalies", n),
		Description:    fmt.Sprintf("%s flagged %d rows outside the expected range.", c.step.Name, n),
		Importance:     models.ImportanceHigh,
		Category:       CategoryAnomaly,
		SupportingData: map[string]any{"row_count": n},
		SourceSteps:    []string{c.step.ID},
		Confidence:     0.75,
	}
}

func crossStepInsight(done []completedStep) models.Insight {
	ranked := append([]completedStep(nil), done...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return len(ranked[i].result.Results) > len(ranked[j].result.Results)
	})
	if len(ranked) > crossStepSummaries {
		ranked = ranked[:crossStepSummaries]
	}
	parts := make([]string, 0, len(ranked))
	ids := make([]string, 0, len(ranked))
	for _, c := range ranked {
		parts = append(parts, fmt.Sprintf("%s returned %d rows", c.step.Name, len(c.result.Results)))
		ids = append(ids, c.step.ID)
	}
	return models.Insight{
		Title:       "Integrated finding",
		Description: strings.Join(parts, "; ") + ".",
		Importance:  models.ImportanceMedium,
		Category:    CategoryIntegrated,
		SourceSteps: ids,
		Confidence:  0.6,
	}
}

func recommendations(insights []models.Insight) []models.Recommendation {
	var out []models.Recommendation
	for _, in := range insights {
		if in.Importance != models.ImportanceHigh {
			continue
		}
		rec := models.Recommendation{
			ID:              uuid.New().String(),
			Priority:        "high",
			RelatedInsights: []string{in.ID},
		}
		switch in.Category {
		case CategoryTrend:
			rec.Title = "Capitalize on growth in " + fmt.Sprint(in.SupportingData["column"])
			rec.Description = "Identify what drove the increase and extend it to comparable segments."
			rec.ExpectedImpact = "Sustained improvement in the growing metric."
		case CategoryAnomaly:
			rec.Title = "Address detected anomalies"
			rec.Description = "Review the flagged transactions with the account owners and correct misstatements."
			rec.ExpectedImpact = "Cleaner reporting and fewer surprises at close."
		default:
			rec.Title = "Follow up on " + in.Title
			rec.Description = in.Description
			rec.ExpectedImpact = "Better understanding of a material finding."
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		out = append(out, models.Recommendation{
			ID:              uuid.New().String(),
			Title:           "Continue monitoring",
			Description:     "No high-importance findings surfaced; keep tracking these metrics on the regular reporting cadence.",
			Priority:        "low",
			ExpectedImpact:  "Early detection of future changes.",
			RelatedInsights: []string{},
		})
	}
	return out
}

func keyFindings(insights []models.Insight) []string {
	ranked := append([]models.Insight(nil), insights...)
	sort.SliceStable(ranked, func(i, j int) bool {
		hi, hj := ranked[i].Importance == models.ImportanceHigh, ranked[j].Importance == models.ImportanceHigh
		if hi != hj {
			return hi
		}
		return ranked[i].Confidence > ranked[j].Confidence
	})
	if len(ranked) > maxKeyFindings {
		ranked = ranked[:maxKeyFindings]
	}
	out := make([]string, 0, len(ranked))
	for _, in := range ranked {
		out = append(out, in.Title+": "+in.Description)
	}
	return out
}

func dataSummary(exec *models.ResearchExecution) models.DataSummary {
	var ds models.DataSummary
	var total time.Duration
	for _, res := range exec.StepResults {
		switch res.Status {
		case models.StepStatusCompleted:
			ds.StepsCompleted++
			ds.TotalQueries++
			ds.TotalRows += len(res.Results)
			total += res.Duration()
		case models.StepStatusFailed:
			ds.StepsFailed++
			if res.StartedAt != nil {
				ds.TotalQueries++
			}
		}
	}
	if ds.StepsCompleted > 0 {
		ds.AvgQueryTime = total.Seconds() / float64(ds.StepsCompleted)
	}
	return ds
}

func methodology(plan *models.ResearchPlan, ds models.DataSummary) string {
	types := make([]string, 0, len(plan.Steps))
	seen := make(map[models.StepType]bool)
	for _, s := range plan.Steps {
		if !seen[s.StepType] {
			seen[s.StepType] = true
			types = append(types, string(s.StepType))
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The question was decomposed into %d steps (%s) executed in dependency order",
		len(plan.Steps), strings.Join(types, ", "))
	if n, ok := plan.Metadata["group_count"].(int); ok {
		fmt.Fprintf(&b, " across %d parallel groups", n)
	}
	b.WriteString(". Insights were derived from the returned rows using growth, segment comparison and anomaly heuristics.")
	if ds.StepsFailed > 0 {
		fmt.Fprintf(&b, " Coverage is partial: %d of %d steps failed.", ds.StepsFailed, len(plan.Steps))
	}
	return b.String()
}

func executiveSummary(plan *models.ResearchPlan, r *models.ResearchReport) string {
	high := 0
	for _, in := range r.Insights {
		if in.Importance == models.ImportanceHigh {
			high++
		}
	}
	sentences := []string{
		fmt.Sprintf("This analysis of %q ran %d research steps, of which %d completed and %d failed.",
			plan.OriginalQuery, len(plan.Steps), r.DataSummary.StepsCompleted, r.DataSummary.StepsFailed),
		fmt.Sprintf("It produced %d insights, %d of them high importance, from %d rows of data.",
			len(r.Insights), high, r.DataSummary.TotalRows),
	}
	if len(r.KeyFindings) > 0 {
		sentences = append(sentences, "The most significant finding is "+strings.TrimSuffix(r.KeyFindings[0], ".")+".")
	}
	sentences = append(sentences, fmt.Sprintf("%d recommendations follow.", len(r.Recommendations)))
	if r.DataSummary.StepsFailed > 0 {
		sentences = append(sentences, "Results are partial because some steps did not complete.")
	}
	return strings.Join(sentences, " ")
}
