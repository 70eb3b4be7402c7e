package patterns

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/repositories"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

// Analyzer groups logged queries into patterns and turns the heavy ones
// into materialized view recommendations.
type Analyzer struct {
	cfg      Config
	queryLog repositories.QueryLogRepository
	executor warehouse.Executor
	logger   *zap.Logger
	now      func() time.Time
}

func NewAnalyzer(cfg Config, queryLog repositories.QueryLogRepository, executor warehouse.Executor, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		cfg:      cfg,
		queryLog: queryLog,
		executor: executor,
		logger:   logger.Named("patterns"),
		now:      time.Now,
	}
}

type accumulator struct {
	pattern  *models.QueryPattern
	features Features
	totalMs  int64
	seen     map[string]bool
}

// Analyze reads the lookback window of the query log and returns every
// pattern seen at least MinFrequency times, most frequent first.
func (a *Analyzer) Analyze(ctx context.Context) ([]*models.QueryPattern, error) {
	since := a.now().Add(-time.Duration(a.cfg.LookbackDays) * 24 * time.Hour)
	entries, err := a.queryLog.GetQueryHistory(ctx, since, a.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load query history: %w", err)
	}

	patterns := a.AnalyzeEntries(entries)
	a.logger.Info("Query patterns analyzed",
		zap.Int("entries", len(entries)),
		zap.Int("patterns", len(patterns)),
		zap.Int("lookback_days", a.cfg.LookbackDays))
	return patterns, nil
}

// AnalyzeEntries is Analyze over an already loaded history.
func (a *Analyzer) AnalyzeEntries(entries []*models.QueryLogEntry) []*models.QueryPattern {
	groups := make(map[string]*accumulator)
	for _, e := range entries {
		if e.Error != "" || e.FromPreCalc || strings.TrimSpace(e.SQL) == "" {
			continue
		}
		f := ExtractFeatures(e.SQL)
		if len(f.Tables) == 0 {
			continue
		}
		key := f.canonicalKey()
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{
				features: f,
				seen:     make(map[string]bool),
				pattern: &models.QueryPattern{
					PatternID:    patternID(key),
					PatternType:  classify(f),
					Tables:       f.Tables,
					Columns:      f.Columns,
					Aggregations: f.Aggregations,
					Filters:      f.Filters,
					GroupBy:      f.GroupBy,
				},
			}
			groups[key] = acc
		}
		p := acc.pattern
		p.Frequency++
		p.TotalBytesProcessed += e.BytesProcessed
		acc.totalMs += e.ExecutionTimeMs

		normalized := NormalizeSQL(e.SQL)
		if len(p.SampleQueries) < a.cfg.MaxSamples && !acc.seen[normalized] {
			acc.seen[normalized] = true
			p.SampleQueries = append(p.SampleQueries, e.SQL)
		}
	}

	out := make([]*models.QueryPattern, 0, len(groups))
	for _, acc := range groups {
		p := acc.pattern
		if p.Frequency < a.cfg.MinFrequency {
			continue
		}
		p.AvgExecutionMs = float64(acc.totalMs) / float64(p.Frequency)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].PatternID < out[j].PatternID
	})
	return out
}

func classify(f Features) models.PatternType {
	switch {
	case f.HasTimeFunc:
		return models.PatternTimeSeries
	case f.HasJoin:
		return models.PatternJoin
	case len(f.Aggregations) > 0 && len(f.GroupBy) > 0:
		return models.PatternDimensionBreakdown
	case len(f.Aggregations) > 0:
		return models.PatternAggregation
	default:
		return models.PatternFilter
	}
}
