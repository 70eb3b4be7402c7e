package hierarchy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Component is one named SQL fragment of a metric.
type Component struct {
	Name string
	SQL  string
}

// SQLOptions narrows a generated metric query.
type SQLOptions struct {
	// Filters are equality predicates, column -> value.
	Filters map[string]string
	// TimeFilter is a ready-made predicate on the time column.
	TimeFilter string
	GroupBy    []string
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}

// componentAccounts unions the concrete accounts and ranges of a component's buckets.
func (h *Hierarchy) componentAccounts(name string) ([]string, []models.AccountRange) {
	seen := make(map[string]bool)
	var accounts []string
	var ranges []models.AccountRange
	for _, bc := range componentBuckets[name] {
		b, ok := h.buckets[bc]
		if !ok {
			continue
		}
		if len(b.GLAccounts) == 0 {
			ranges = append(ranges, b.GLAccountRanges...)
			continue
		}
		for _, a := range b.GLAccounts {
			if !seen[a] {
				seen[a] = true
				accounts = append(accounts, a)
			}
		}
	}
	sort.Strings(accounts)
	return accounts, ranges
}

// buildComponent renders the SUM for one component. Revenue reads the revenue
// column; every other component reads the signed amount column, negated for
// credit-side income.
func (h *Hierarchy) buildComponent(name string) string {
	cols := h.opts.Columns
	accounts, ranges := h.componentAccounts(name)

	valueCol := cols.Amount
	negate := creditComponents[name]
	if name == CompRevenue {
		if cols.Revenue != "" {
			valueCol = cols.Revenue
		} else {
			negate = true
		}
	}

	var cond string
	switch {
	case len(accounts) > 0:
		cond = fmt.Sprintf("%s IN (%s)", cols.Account, quoteList(accounts))
	case len(ranges) > 0:
		parts := make([]string, len(ranges))
		for i, rg := range ranges {
			parts[i] = fmt.Sprintf("%s BETWEEN '%s' AND '%s'", cols.Account, rg.From, rg.To)
		}
		cond = strings.Join(parts, " OR ")
	default:
		if name == CompRevenue && cols.Revenue != "" {
			return fmt.Sprintf("SUM(%s)", cols.Revenue)
		}
		return "0"
	}

	sum := fmt.Sprintf("SUM(CASE WHEN %s THEN %s ELSE 0 END)", cond, valueCol)
	if negate {
		return "-" + sum
	}
	return sum
}

// regenerateFormulas rebuilds every component and each metric's FormulaComponents.
func (h *Hierarchy) regenerateFormulas() {
	h.components = make(map[string]string, len(componentOrder))
	for _, name := range componentOrder {
		if sql, ok := h.overridden[name]; ok {
			h.components[name] = sql
			continue
		}
		h.components[name] = h.buildComponent(name)
	}

	for _, code := range h.metricOrder {
		m := h.metrics[code]
		m.FormulaComponents = make(map[string]string)
		for _, c := range h.MetricComponents(code) {
			m.FormulaComponents[c.Name] = c.SQL
		}
	}
}

// baseComponents flattens a metric recipe into the component names it reads.
func baseComponents(ref string, seen map[string]bool) []string {
	rec, isMetric := recipes[ref]
	if !isMetric {
		if seen[ref] {
			return nil
		}
		seen[ref] = true
		return []string{ref}
	}
	var out []string
	for _, t := range rec.terms {
		out = append(out, baseComponents(t.ref, seen)...)
	}
	if rec.ratio[0] != "" {
		out = append(out, baseComponents(rec.ratio[0], seen)...)
		out = append(out, baseComponents(rec.ratio[1], seen)...)
	}
	return out
}

// MetricComponents returns the SQL fragments a metric is computed from, in a stable order.
func (h *Hierarchy) MetricComponents(code string) []Component {
	names := baseComponents(strings.ToUpper(code), make(map[string]bool))
	rank := make(map[string]int, len(componentOrder))
	for i, n := range componentOrder {
		rank[n] = i
	}
	sort.SliceStable(names, func(i, j int) bool { return rank[names[i]] < rank[names[j]] })

	out := make([]Component, 0, len(names))
	for _, n := range names {
		out = append(out, Component{Name: n, SQL: h.components[n]})
	}
	return out
}

func (h *Hierarchy) safeDivide(num, den string) string {
	if strings.EqualFold(h.opts.Dialect, models.DialectPostgreSQL) {
		return fmt.Sprintf("(%s) / NULLIF(%s, 0) * 100", num, den)
	}
	return fmt.Sprintf("SAFE_DIVIDE(%s, %s) * 100", num, den)
}

// Expression expands a metric or component into a single SQL expression.
func (h *Hierarchy) Expression(ref string) (string, error) {
	rec, isMetric := recipes[strings.ToUpper(ref)]
	if !isMetric {
		sql, ok := h.components[ref]
		if !ok {
			return "", fmt.Errorf("unknown metric or component %q", ref)
		}
		return sql, nil
	}
	if rec.ratio[0] != "" {
		num, err := h.Expression(rec.ratio[0])
		if err != nil {
			return "", err
		}
		den, err := h.Expression(rec.ratio[1])
		if err != nil {
			return "", err
		}
		return h.safeDivide(num, den), nil
	}

	var b strings.Builder
	b.WriteString("(")
	for i, t := range rec.terms {
		sub, err := h.Expression(t.ref)
		if err != nil {
			return "", err
		}
		switch {
		case i == 0 && t.sign < 0:
			b.WriteString("-")
		case i > 0 && t.sign < 0:
			b.WriteString(" - ")
		case i > 0:
			b.WriteString(" + ")
		}
		b.WriteString("(" + sub + ")")
	}
	b.WriteString(")")
	return b.String(), nil
}

// Combine evaluates a metric from component totals, as selected by MetricComponents.
// Percentages are returned in percentage points; a zero denominator yields 0.
func (h *Hierarchy) Combine(code string, values map[string]float64) (float64, error) {
	d, err := combine(strings.ToUpper(code), values)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

func combine(ref string, values map[string]float64) (decimal.Decimal, error) {
	rec, isMetric := recipes[ref]
	if !isMetric {
		v, ok := values[ref]
		if !ok {
			return decimal.Zero, fmt.Errorf("missing component %q", ref)
		}
		return decimal.NewFromFloat(v), nil
	}
	if rec.ratio[0] != "" {
		num, err := combine(rec.ratio[0], values)
		if err != nil {
			return decimal.Zero, err
		}
		den, err := combine(rec.ratio[1], values)
		if err != nil {
			return decimal.Zero, err
		}
		if den.IsZero() {
			return decimal.Zero, nil
		}
		return num.Div(den).Mul(decimal.NewFromInt(100)), nil
	}
	total := decimal.Zero
	for _, t := range rec.terms {
		v, err := combine(t.ref, values)
		if err != nil {
			return decimal.Zero, err
		}
		if t.sign < 0 {
			total = total.Sub(v)
		} else {
			total = total.Add(v)
		}
	}
	return total, nil
}

// GenerateMetricSQL renders a complete query computing one metric.
func (h *Hierarchy) GenerateMetricSQL(code string, opts SQLOptions) (string, error) {
	m, ok := h.Metric(code)
	if !ok {
		return "", fmt.Errorf("unknown metric %q", code)
	}
	expr, err := h.Expression(m.Code)
	if err != nil {
		return "", err
	}

	for _, col := range opts.GroupBy {
		if !identifierPattern.MatchString(col) {
			return "", fmt.Errorf("invalid group by column %q", col)
		}
	}

	var where []string
	if opts.TimeFilter != "" {
		where = append(where, opts.TimeFilter)
	}
	cols := make([]string, 0, len(opts.Filters))
	for col := range opts.Filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if !identifierPattern.MatchString(col) {
			return "", fmt.Errorf("invalid filter column %q", col)
		}
		where = append(where, fmt.Sprintf("%s = %s", col, quoteList([]string{opts.Filters[col]})))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	for _, col := range opts.GroupBy {
		b.WriteString(col + ", ")
	}
	fmt.Fprintf(&b, "%s AS %s\nFROM %s", expr, strings.ToLower(m.Code), h.opts.Table)
	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, " AND "))
	}
	if len(opts.GroupBy) > 0 {
		b.WriteString("\nGROUP BY " + strings.Join(opts.GroupBy, ", "))
	}
	return b.String(), nil
}
