package precalc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/cache"
	"github.com/ekaya-inc/ekaya-finsight/pkg/format"
	"github.com/ekaya-inc/ekaya-finsight/pkg/hierarchy"
	"github.com/ekaya-inc/ekaya-finsight/pkg/logging"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlsafe"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

const rowCountColumn = "row_count"

// RunSummary reports one calculator pass.
type RunSummary struct {
	Queries  int
	Records  int
	Failures int
	Duration time.Duration
}

type Calculator struct {
	cfg       Config
	hierarchy *hierarchy.Hierarchy
	executor  warehouse.Executor
	cache     cache.Store
	registry  *Registry
	logger    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCalculator wires a calculator. registry may be nil; when set, written
// records are added to it as they are cached.
func NewCalculator(cfg Config, h *hierarchy.Hierarchy, executor warehouse.Executor, store cache.Store, registry *Registry, logger *zap.Logger) *Calculator {
	return &Calculator{
		cfg:       cfg,
		hierarchy: h,
		executor:  executor,
		cache:     store,
		registry:  registry,
		logger:    logger.Named("precalc"),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run computes every configured metric x granularity x window x dimension
// combination. Individual query failures are logged and counted; Run only
// fails when ctx is cancelled.
func (c *Calculator) Run(ctx context.Context) (*RunSummary, error) {
	start := c.now()
	summary := &RunSummary{}

	dims := []string{""}
	for name := range c.cfg.Dimensions {
		dims = append(dims, name)
	}
	sort.Strings(dims[1:])

	for _, metric := range c.cfg.Metrics {
		if _, ok := c.hierarchy.Metric(metric); !ok {
			c.logger.Warn("Skipping unknown metric", zap.String("metric", metric))
			continue
		}
		for _, g := range c.cfg.Granularities {
			for _, w := range Windows(g, start) {
				for _, dim := range dims {
					if err := c.sleep(ctx, c.cfg.Pacing); err != nil {
						summary.Duration = c.now().Sub(start)
						return summary, err
					}
					summary.Queries++
					records, err := c.Calculate(ctx, metric, w, dim)
					if err != nil {
						summary.Failures++
						observability.PreCalcRecordsTotal.WithLabelValues(metric, "error").Inc()
						c.logger.Error("Pre-calculation failed",
							zap.String("metric", metric),
							zap.String("period", w.Label),
							zap.String("dimension", dim),
							zap.String("error", logging.SanitizeError(err)))
						continue
					}
					summary.Records += len(records)
					if c.cfg.BatchSize > 0 && summary.Queries%c.cfg.BatchSize == 0 {
						c.logger.Debug("Pre-calculation progress",
							zap.Int("queries", summary.Queries), zap.Int("records", summary.Records))
					}
				}
			}
		}
	}

	summary.Duration = c.now().Sub(start)
	c.logger.Info("Pre-calculation complete",
		zap.Int("queries", summary.Queries),
		zap.Int("records", summary.Records),
		zap.Int("failures", summary.Failures),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// RunPeriodically repeats Run every RefreshIntervalHours until ctx ends.
func (c *Calculator) RunPeriodically(ctx context.Context) error {
	interval := time.Duration(c.cfg.RefreshIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	for {
		if _, err := c.Run(ctx); err != nil {
			return err
		}
		if err := c.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// BuildQuery renders the component query for one window, optionally grouped by a dimension.
func (c *Calculator) BuildQuery(metric string, w Window, dim string) (string, error) {
	comps := c.hierarchy.MetricComponents(metric)
	if len(comps) == 0 {
		return "", fmt.Errorf("metric %s has no formula components", metric)
	}
	opts := c.hierarchy.Options()

	var selects []string
	var column string
	if dim != "" {
		column = c.cfg.Dimensions[dim]
		if !sqlsafe.ValidIdentifier(column) {
			return "", fmt.Errorf("invalid column %q for dimension %s", column, dim)
		}
		selects = append(selects, fmt.Sprintf("%s AS %s", column, dim))
	}
	for _, comp := range comps {
		selects = append(selects, fmt.Sprintf("%s AS %s", comp.SQL, comp.Name))
	}
	selects = append(selects, "COUNT(*) AS "+rowCountColumn)

	sql := fmt.Sprintf("SELECT %s\nFROM %s\nWHERE %s >= DATE '%s' AND %s < DATE '%s'",
		strings.Join(selects, ",\n  "), opts.Table,
		opts.Columns.Time, w.Start.Format(dateLayout), opts.Columns.Time, w.End.Format(dateLayout))
	if column != "" {
		sql += "\nGROUP BY " + column
	}
	return sql, nil
}

// Calculate runs one window and caches a record per result row.
func (c *Calculator) Calculate(ctx context.Context, metric string, w Window, dim string) ([]*models.MetricCalculation, error) {
	m, ok := c.hierarchy.Metric(metric)
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	sql, err := c.BuildQuery(m.Code, w, dim)
	if err != nil {
		return nil, err
	}
	result, err := c.executor.ExecuteQuery(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to compute %s for %s: %w", m.Code, w.Label, err)
	}

	comps := c.hierarchy.MetricComponents(m.Code)
	now := c.now().UTC()
	var out []*models.MetricCalculation
	for _, row := range result.Rows {
		values := make(map[string]float64, len(comps))
		for _, comp := range comps {
			v, _ := format.ToFloat(row[comp.Name])
			values[comp.Name] = v
		}
		value, err := c.hierarchy.Combine(m.Code, values)
		if err != nil {
			return out, err
		}

		dims := map[string]string{}
		if dim != "" {
			if v := row[dim]; v != nil {
				dims[dim] = fmt.Sprint(v)
			}
		}
		rowCount, _ := format.ToFloat(row[rowCountColumn])
		calc := &models.MetricCalculation{
			MetricCode:   m.Code,
			MetricName:   m.Name,
			TimePeriod:   w.Label,
			Granularity:  w.Granularity,
			Dimensions:   dims,
			Value:        value,
			CalculatedAt: now,
			RowCount:     int(rowCount),
		}
		calc.CacheKey = KeyFor(calc)
		if err := cache.SetJSON(ctx, c.cache, calc.CacheKey, calc, c.cfg.TTL); err != nil {
			return out, fmt.Errorf("failed to cache %s: %w", calc.CacheKey, err)
		}
		observability.PreCalcRecordsTotal.WithLabelValues(m.Code, "success").Inc()
		if c.registry != nil {
			c.registry.Add(calc)
		}
		out = append(out, calc)
	}
	return out, nil
}
