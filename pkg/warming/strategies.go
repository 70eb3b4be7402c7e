package warming

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// Strategy selects which questions to warm.
type Strategy string

const (
	StrategyPopularity Strategy = "popularity"
	StrategyRecency    Strategy = "recency"
	StrategyFinancial  Strategy = "financial"
	StrategyPredictive Strategy = "predictive"
)

// cycleStrategies run on every interval tick, in order.
var cycleStrategies = []Strategy{StrategyPopularity, StrategyRecency, StrategyFinancial}

func (s Strategy) Valid() bool {
	switch s {
	case StrategyPopularity, StrategyRecency, StrategyFinancial, StrategyPredictive:
		return true
	}
	return false
}

var (
	financialWindows    = []string{"this month", "last month", "this quarter", "year to date"}
	financialDimensions = []string{"", "by region"}
)

// Queries returns the questions strategy would warm right now.
func (w *Warmer) Queries(ctx context.Context, strategy Strategy) ([]string, error) {
	switch strategy {
	case StrategyPopularity:
		return w.popularQueries(ctx)
	case StrategyRecency:
		return w.recentQueries(ctx)
	case StrategyFinancial:
		return w.financialQueries(), nil
	case StrategyPredictive:
		return w.predictiveQueries(), nil
	default:
		return nil, fmt.Errorf("unknown warming strategy %q", strategy)
	}
}

func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func (w *Warmer) history(ctx context.Context, days int) ([]*models.QueryLogEntry, error) {
	if w.queryLog == nil {
		return nil, nil
	}
	since := w.now().Add(-time.Duration(days) * 24 * time.Hour)
	entries, err := w.queryLog.GetQueryHistory(ctx, since, w.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load query history: %w", err)
	}
	return entries, nil
}

// popularQueries ranks questions asked at least PopularityThreshold times.
func (w *Warmer) popularQueries(ctx context.Context) ([]string, error) {
	entries, err := w.history(ctx, w.cfg.PopularityDays)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	first := make(map[string]string)
	for _, e := range entries {
		if e.Error != "" || strings.TrimSpace(e.Question) == "" {
			continue
		}
		key := normalizeQuestion(e.Question)
		counts[key]++
		if _, ok := first[key]; !ok {
			first[key] = e.Question
		}
	}

	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		if n >= w.cfg.PopularityThreshold {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, first[k])
	}
	return w.limit(out), nil
}

// recentQueries returns distinct successful questions, newest first.
func (w *Warmer) recentQueries(ctx context.Context) ([]string, error) {
	entries, err := w.history(ctx, w.cfg.RecencyDays)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if e.Error != "" || strings.TrimSpace(e.Question) == "" {
			continue
		}
		key := normalizeQuestion(e.Question)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e.Question)
	}
	return w.limit(out), nil
}

// financialQueries crosses the L1 metrics with common windows and dimensions.
func (w *Warmer) financialQueries() []string {
	var out []string
	for _, m := range w.hierarchy.Metrics() {
		name := strings.ReplaceAll(strings.ToLower(m.Name), "%", "percentage")
		for _, window := range financialWindows {
			for _, dim := range financialDimensions {
				parts := []string{"show", name}
				if dim != "" {
					parts = append(parts, dim)
				}
				parts = append(parts, window)
				out = append(out, strings.Join(parts, " "))
			}
		}
	}
	return w.limit(out)
}

// predictiveQueries anticipates questions from the calendar: weekly reviews
// on Mondays, month-end close early in the month, quarter close after a
// quarter ends, and morning revenue checks.
func (w *Warmer) predictiveQueries() []string {
	now := w.now()
	var out []string
	if now.Weekday() == time.Monday {
		out = append(out,
			"show revenue last week",
			"show operating expenses last week",
			"show gross margin by region last week")
	}
	if now.Day() <= 5 {
		out = append(out,
			"show net income last month",
			"show operating income last month",
			"show gross margin by region last month",
			"break down cogs by component last month")
	}
	if now.Month()%3 == 1 && now.Day() <= 10 {
		out = append(out,
			"show net income last quarter",
			"show ebitda last quarter",
			"compare gross margin this quarter vs last quarter")
	}
	if now.Hour() < 10 {
		out = append(out, "show revenue month to date", "show gross margin month to date")
	}
	if len(out) == 0 {
		out = append(out, "show revenue month to date")
	}
	return w.limit(out)
}

func (w *Warmer) limit(qs []string) []string {
	if w.cfg.MaxQueries > 0 && len(qs) > w.cfg.MaxQueries {
		return qs[:w.cfg.MaxQueries]
	}
	return qs
}
