package precalc

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/cache"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// AnyValue in a requested dimension matches every cached value for that key.
const AnyValue = "*"

// sourceGranularities lists, per target, the finer granularities whose
// values can be summed into it, most preferred first.
var sourceGranularities = map[models.Granularity][]models.Granularity{
	models.GranularityYearly:    {models.GranularityQuarterly, models.GranularityMonthly},
	models.GranularityQuarterly: {models.GranularityMonthly, models.GranularityDaily},
	models.GranularityMonthly:   {models.GranularityDaily},
	models.GranularityWeekly:    {models.GranularityDaily},
}

// Registry indexes cached pre-calculations by metric.
type Registry struct {
	cache  cache.Store
	logger *zap.Logger

	mu       sync.RWMutex
	byMetric map[string]map[string]*models.MetricCalculation
}

func NewRegistry(store cache.Store, logger *zap.Logger) *Registry {
	return &Registry{
		cache:    store,
		logger:   logger.Named("precalc-registry"),
		byMetric: make(map[string]map[string]*models.MetricCalculation),
	}
}

// Load replaces the index with every record currently in the cache.
// Records that expired between scan and read are skipped.
func (r *Registry) Load(ctx context.Context) (int, error) {
	keys, err := cache.ScanAll(ctx, r.cache, KeyPrefix+"*")
	if err != nil {
		return 0, err
	}
	index := make(map[string]map[string]*models.MetricCalculation)
	loaded := 0
	for _, key := range keys {
		var calc models.MetricCalculation
		if err := cache.GetJSON(ctx, r.cache, key, &calc); err != nil {
			if !cache.IsMiss(err) {
				r.logger.Warn("Skipping unreadable pre-calculation", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		calc.CacheKey = key
		if index[calc.MetricCode] == nil {
			index[calc.MetricCode] = make(map[string]*models.MetricCalculation)
		}
		index[calc.MetricCode][key] = &calc
		loaded++
	}

	r.mu.Lock()
	r.byMetric = index
	r.mu.Unlock()
	r.logger.Info("Loaded pre-calculations", zap.Int("records", loaded), zap.Int("metrics", len(index)))
	return loaded, nil
}

// Add indexes one record, replacing any with the same key.
func (r *Registry) Add(calc *models.MetricCalculation) {
	key := calc.CacheKey
	if key == "" {
		key = KeyFor(calc)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byMetric[calc.MetricCode] == nil {
		r.byMetric[calc.MetricCode] = make(map[string]*models.MetricCalculation)
	}
	r.byMetric[calc.MetricCode][key] = calc
}

// HasMetric reports whether any record exists for metric.
func (r *Registry) HasMetric(metric string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byMetric[metric]) > 0
}

func (r *Registry) rows(metric string) []*models.MetricCalculation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.MetricCalculation, 0, len(r.byMetric[metric]))
	for _, c := range r.byMetric[metric] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CacheKey < out[j].CacheKey })
	return out
}

func dimsMatch(cached, wanted map[string]string) bool {
	if len(cached) != len(wanted) {
		return false
	}
	for k, want := range wanted {
		got, ok := cached[k]
		if !ok || (want != AnyValue && got != want) {
			return false
		}
	}
	return true
}

// FindMatches filters by every supplied field. An empty period or
// granularity is unconstrained; empty dims only match undimensioned rows.
func (r *Registry) FindMatches(metric, period string, g models.Granularity, dims map[string]string) []*models.MetricCalculation {
	var out []*models.MetricCalculation
	for _, c := range r.rows(metric) {
		if period != "" && c.TimePeriod != period {
			continue
		}
		if g != "" && c.Granularity != g {
			continue
		}
		if !dimsMatch(c.Dimensions, dims) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// FindAggregatableMatches collects undimensioned rows of a finer granularity
// that fall inside the target period. complete is true when the rows cover
// every sub-period, so summing them yields the target value.
func (r *Registry) FindAggregatableMatches(metric, targetPeriod string, target models.Granularity) (matches []*models.MetricCalculation, complete bool) {
	tStart, tEnd, err := ParsePeriod(target, targetPeriod)
	if err != nil {
		return nil, false
	}
	var best []*models.MetricCalculation
	for _, src := range sourceGranularities[target] {
		var within []*models.MetricCalculation
		for _, c := range r.FindMatches(metric, "", src, nil) {
			s, e, err := ParsePeriod(src, c.TimePeriod)
			if err != nil || s.Before(tStart) || e.After(tEnd) {
				continue
			}
			within = append(within, c)
		}
		if len(within) > 0 && len(within) == expectedParts(src, tStart, tEnd) {
			sort.Slice(within, func(i, j int) bool { return within[i].TimePeriod < within[j].TimePeriod })
			return within, true
		}
		if len(within) > len(best) {
			best = within
		}
	}
	return best, false
}

// expectedParts counts the src periods inside [start, end).
func expectedParts(src models.Granularity, start, end time.Time) int {
	n := 0
	for t := start; t.Before(end); n++ {
		switch src {
		case models.GranularityDaily:
			t = t.AddDate(0, 0, 1)
		case models.GranularityMonthly:
			t = t.AddDate(0, 1, 0)
		case models.GranularityQuarterly:
			t = t.AddDate(0, 3, 0)
		default:
			return -1
		}
	}
	return n
}
