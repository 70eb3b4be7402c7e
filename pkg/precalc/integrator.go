package precalc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlsafe"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

// Served is an answer produced from pre-calculated data.
type Served struct {
	Match       *models.PreCalcMatch
	SQL         string
	Columns     []string
	Rows        []map[string]any
	FromPreCalc bool
}

type Integrator struct {
	decomposer *Decomposer
	executor   warehouse.Executor
	logger     *zap.Logger
}

func NewIntegrator(decomposer *Decomposer, executor warehouse.Executor, logger *zap.Logger) *Integrator {
	return &Integrator{
		decomposer: decomposer,
		executor:   executor,
		logger:     logger.Named("precalc-integrator"),
	}
}

// TryServe answers query from pre-calculated data. It returns nil when the
// caller should fall back to generating SQL (partial or no match).
func (i *Integrator) TryServe(ctx context.Context, query string) (*Served, error) {
	req, reason := i.decomposer.Extract(query)
	if req == nil {
		i.decomposer.logger.Debug("Pre-calc not applicable", zap.String("reason", reason))
		return nil, nil
	}
	match := i.decomposer.Match(req)
	i.decomposer.record(match)

	switch match.MatchType {
	case models.MatchExact:
		return i.serveExact(req, match), nil
	case models.MatchAggregatable:
		return i.serveAggregate(ctx, req, match)
	default:
		return nil, nil
	}
}

func (i *Integrator) serveExact(req *Request, match *models.PreCalcMatch) *Served {
	column := strings.ToLower(req.MetricCode)
	dimKeys := sortedDimKeys(req.Dimensions)

	rows := make([]map[string]any, 0, len(match.AvailableCalculations))
	keys := make([]string, 0, len(match.AvailableCalculations))
	for _, c := range match.AvailableCalculations {
		row := map[string]any{
			column:          c.Value,
			"time_period":   c.TimePeriod,
			"calculated_at": c.CalculatedAt.Format(time.RFC3339),
		}
		for _, k := range dimKeys {
			row[k] = c.Dimensions[k]
		}
		rows = append(rows, row)
		keys = append(keys, c.CacheKey)
	}

	columns := append(append([]string{}, dimKeys...), column, "time_period", "calculated_at")
	return &Served{
		Match:       match,
		SQL:         "-- served from pre-calculated metrics: " + strings.Join(keys, ", "),
		Columns:     columns,
		Rows:        rows,
		FromPreCalc: true,
	}
}

// AggregateSQL sums the collected values in one trivial query.
func AggregateSQL(dialect, metric, period, aggregation string, calcs []*models.MetricCalculation) string {
	column := strings.ToLower(metric)
	var cte string
	if strings.EqualFold(dialect, models.DialectPostgreSQL) {
		values := make([]string, len(calcs))
		for j, c := range calcs {
			values[j] = fmt.Sprintf("(%s, %v)", sqlsafe.QuoteLiteral(c.TimePeriod), c.Value)
		}
		cte = fmt.Sprintf("WITH precalc(period, value) AS (VALUES %s)", strings.Join(values, ", "))
	} else {
		values := make([]string, len(calcs))
		for j, c := range calcs {
			values[j] = fmt.Sprintf("STRUCT(%s AS period, %v AS value)", sqlsafe.QuoteLiteral(c.TimePeriod), c.Value)
		}
		cte = fmt.Sprintf("WITH precalc AS (SELECT * FROM UNNEST([%s]))", strings.Join(values, ", "))
	}
	return fmt.Sprintf("%s\nSELECT %s AS time_period, %s(value) AS %s FROM precalc",
		cte, sqlsafe.QuoteLiteral(period), aggregation, column)
}

func (i *Integrator) serveAggregate(ctx context.Context, req *Request, match *models.PreCalcMatch) (*Served, error) {
	sql := AggregateSQL(i.executor.Dialect(), req.MetricCode, req.Period, match.SuggestedAggregation, match.AvailableCalculations)
	result, err := i.executor.ExecuteQuery(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate pre-calculated values: %w", err)
	}
	columns := result.Columns
	if len(columns) == 0 {
		columns = []string{"time_period", strings.ToLower(req.MetricCode)}
	}
	return &Served{
		Match:       match,
		SQL:         sql,
		Columns:     columns,
		Rows:        result.Rows,
		FromPreCalc: true,
	}, nil
}

func sortedDimKeys(dims map[string]string) []string {
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
