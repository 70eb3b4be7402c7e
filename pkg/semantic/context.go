package semantic

import (
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// BuildLLMContext bundles what a model needs to write SQL for an L1 metric
// question: formulas, bucket metadata, resolved accounts, and the filters the
// parser already extracted.
func (p *Parser) BuildLLMContext(qc *models.QueryContext) map[string]any {
	h := p.hierarchy
	formulaText := make(map[string]string)
	formulas := make(map[string]string)
	components := make(map[string]map[string]string)
	accounts := make(map[string][]string)
	var buckets []map[string]any

	seenBucket := make(map[string]bool)
	for _, ref := range qc.Metrics {
		m, ok := h.Metric(ref.Code)
		if !ok {
			continue
		}
		formulaText[m.Code] = m.FormulaText
		if expr, err := h.Expression(m.Code); err == nil {
			formulas[m.Code] = expr
		}
		components[m.Code] = m.FormulaComponents
		accounts[m.Code] = h.GetGLAccountsForMetric(m.Code)

		codes := append([]string(nil), m.SubBuckets...)
		for _, dep := range h.GetMetricDependencies(m.Code) {
			if d, ok := h.Metric(dep); ok {
				codes = append(codes, d.SubBuckets...)
			}
		}
		for _, bc := range codes {
			b, ok := h.Bucket(bc)
			if !ok || seenBucket[bc] {
				continue
			}
			seenBucket[bc] = true
			buckets = append(buckets, map[string]any{
				"code":          b.Code,
				"name":          b.Name,
				"parent_metric": b.ParentMetric,
				"gl_accounts":   len(b.GLAccounts),
				"is_revenue":    b.IsRevenue,
			})
		}
	}

	cols := h.Options().Columns
	out := map[string]any{
		"metric_formulas":    formulaText,
		"formulas":           formulas,
		"formula_components": components,
		"gl_accounts":        accounts,
		"buckets":            buckets,
		"dimensions":         qc.Dimensions,
		"filters":            qc.Filters,
		"filter_columns":     sortedKeys(qc.Filters),
		"columns": map[string]string{
			"account": cols.Account,
			"time":    p.opts.TimeColumn,
			"revenue": cols.Revenue,
			"amount":  cols.Amount,
		},
		"table": h.Options().Table,
	}
	if qc.TimePeriod != nil {
		out["time_filter"] = qc.TimePeriod.SQLFilter
		out["time_period"] = qc.TimePeriod.Text
	}
	if qc.Comparison != "" {
		out["comparison"] = string(qc.Comparison)
	}
	return out
}
