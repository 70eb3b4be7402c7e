package precalc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/cache"
	"github.com/ekaya-inc/ekaya-finsight/pkg/hierarchy"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/semantic"
	"github.com/ekaya-inc/ekaya-finsight/pkg/testhelpers"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

func seed(t *testing.T, store cache.Store, calcs ...*models.MetricCalculation) {
	t.Helper()
	for _, c := range calcs {
		c.CacheKey = KeyFor(c)
		require.NoError(t, cache.SetJSON(context.Background(), store, c.CacheKey, c, 24*time.Hour))
	}
}

type fixture struct {
	store      cache.Store
	registry   *Registry
	decomposer *Decomposer
	executor   *warehouse.MockExecutor
	integrator *Integrator
}

func newFixture(t *testing.T, store cache.Store) *fixture {
	logger := zap.NewNop()
	h := hierarchy.NewStatic(hierarchy.DefaultOptions(), logger)
	reg := NewRegistry(store, logger)
	dec := NewDecomposer(semantic.NewParser(h, semantic.Options{}, logger), reg, h, logger)
	dec.now = func() time.Time { return time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC) }
	exec := warehouse.NewMockExecutor()
	return &fixture{
		store:      store,
		registry:   reg,
		decomposer: dec,
		executor:   exec,
		integrator: NewIntegrator(dec, exec, logger),
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	a := CacheKey("gross_margin", models.GranularityMonthly, "2024-01", map[string]string{"region": "West", "product": "Tea"})
	b := CacheKey("GROSS_MARGIN", models.GranularityMonthly, "2024-01", map[string]string{"product": "Tea", "region": "West"})
	assert.Equal(t, a, b)
	assert.Equal(t, `precalc:GROSS_MARGIN:monthly:2024-01:{"product":"Tea","region":"West"}`, a)
	assert.Equal(t, "precalc:EBITDA:mtd:MTD:{}", CacheKey("EBITDA", models.GranularityMTD, "MTD", nil))
}

func TestPeriodLabels(t *testing.T) {
	d := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-15", PeriodLabel(models.GranularityDaily, d))
	assert.Equal(t, "2024-W03", PeriodLabel(models.GranularityWeekly, d))
	assert.Equal(t, "2024-01", PeriodLabel(models.GranularityMonthly, d))
	assert.Equal(t, "2024-Q1", PeriodLabel(models.GranularityQuarterly, d))
	assert.Equal(t, "2024", PeriodLabel(models.GranularityYearly, d))
	assert.Equal(t, "YTD", PeriodLabel(models.GranularityYTD, d))

	assert.Len(t, Windows(models.GranularityDaily, d), 30)
	assert.Len(t, Windows(models.GranularityMonthly, d), 12)
	assert.Len(t, Windows(models.GranularityQuarterly, d), 4)
	mtd := Windows(models.GranularityMTD, d)
	require.Len(t, mtd, 1)
	assert.Equal(t, "MTD", mtd[0].Label)
	assert.Equal(t, time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), mtd[0].End)

	s, e, err := ParsePeriod(models.GranularityWeekly, "2024-W03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), s)
	assert.Equal(t, time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC), e)
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.Pacing)
	assert.Equal(t, 24*time.Hour, cfg.TTL)
	assert.Contains(t, cfg.Metrics, "GROSS_MARGIN")
	assert.Equal(t, "Sales_Region", cfg.Dimensions["region"])
}

func TestFindMatches_DimensionOrderIndependent(t *testing.T) {
	f := newFixture(t, cache.NewMemoryStore())
	seed(t, f.store,
		&models.MetricCalculation{MetricCode: "GROSS_MARGIN", Granularity: models.GranularityMonthly, TimePeriod: "2024-01",
			Dimensions: map[string]string{"region": "West", "product": "Tea"}, Value: 10},
		&models.MetricCalculation{MetricCode: "GROSS_MARGIN", Granularity: models.GranularityMonthly, TimePeriod: "2024-01", Value: 99},
	)
	_, err := f.registry.Load(context.Background())
	require.NoError(t, err)

	a := f.registry.FindMatches("GROSS_MARGIN", "2024-01", models.GranularityMonthly, map[string]string{"region": "West", "product": "Tea"})
	b := f.registry.FindMatches("GROSS_MARGIN", "2024-01", models.GranularityMonthly, map[string]string{"product": "Tea", "region": "West"})
	require.Len(t, a, 1)
	assert.Equal(t, a, b)
	assert.Equal(t, 10.0, a[0].Value)

	plain := f.registry.FindMatches("GROSS_MARGIN", "2024-01", models.GranularityMonthly, nil)
	require.Len(t, plain, 1, "empty dimensions only match undimensioned rows")
	assert.Equal(t, 99.0, plain[0].Value)
}

func TestTryServe_ExactMTD(t *testing.T) {
	_, client := testhelpers.NewMiniredisClient(t)
	f := newFixture(t, cache.NewRedisStore(client))
	calculated := time.Date(2024, 5, 20, 6, 0, 0, 0, time.UTC)
	seed(t, f.store, &models.MetricCalculation{
		MetricCode: "GROSS_MARGIN", MetricName: "Gross Margin", Granularity: models.GranularityMTD,
		TimePeriod: "MTD", Value: 123456.78, CalculatedAt: calculated,
	})
	_, err := f.registry.Load(context.Background())
	require.NoError(t, err)

	served, err := f.integrator.TryServe(context.Background(), "gross margin MTD")
	require.NoError(t, err)
	require.NotNil(t, served)

	assert.Equal(t, models.MatchExact, served.Match.MatchType)
	assert.True(t, served.FromPreCalc)
	assert.True(t, strings.HasPrefix(served.SQL, "--"))
	require.Len(t, served.Rows, 1)
	assert.Equal(t, 123456.78, served.Rows[0]["gross_margin"])
	assert.Equal(t, "MTD", served.Rows[0]["time_period"])
	assert.Equal(t, "2024-05-20T06:00:00Z", served.Rows[0]["calculated_at"])
	assert.Empty(t, f.executor.Executed(), "exact hits never reach the warehouse")
}

func TestTryServe_NoFalseExact(t *testing.T) {
	f := newFixture(t, cache.NewMemoryStore())
	seed(t, f.store, &models.MetricCalculation{
		MetricCode: "GROSS_MARGIN", Granularity: models.GranularityMTD, TimePeriod: "MTD", Value: 1,
	})
	_, err := f.registry.Load(context.Background())
	require.NoError(t, err)

	match := f.decomposer.Decompose("gross margin by region MTD")
	assert.Equal(t, models.MatchPartial, match.MatchType)

	served, err := f.integrator.TryServe(context.Background(), "gross margin by region MTD")
	require.NoError(t, err)
	assert.Nil(t, served)

	assert.Equal(t, models.MatchNone, f.decomposer.Decompose("gross margin").MatchType, "no period, no lookup")
}

func TestTryServe_AggregatesMonthsIntoQuarter(t *testing.T) {
	f := newFixture(t, cache.NewMemoryStore())
	for _, m := range []string{"2024-01", "2024-02", "2024-03"} {
		seed(t, f.store, &models.MetricCalculation{
			MetricCode: "GROSS_MARGIN", Granularity: models.GranularityMonthly, TimePeriod: m, Value: 100,
		})
	}
	_, err := f.registry.Load(context.Background())
	require.NoError(t, err)

	f.executor.ExecuteQueryFunc = func(_ context.Context, sql string) (*warehouse.Result, error) {
		return &warehouse.Result{
			Columns: []string{"time_period", "gross_margin"},
			Rows:    []map[string]any{{"time_period": "2024-Q1", "gross_margin": 300.0}},
		}, nil
	}

	served, err := f.integrator.TryServe(context.Background(), "gross margin in Q1 2024")
	require.NoError(t, err)
	require.NotNil(t, served)
	assert.Equal(t, models.MatchAggregatable, served.Match.MatchType)
	assert.Equal(t, "SUM", served.Match.SuggestedAggregation)
	assert.Contains(t, served.SQL, "UNNEST([STRUCT('2024-01' AS period, 100 AS value)")
	assert.Contains(t, served.SQL, "SUM(value) AS gross_margin")
	assert.Equal(t, 300.0, served.Rows[0]["gross_margin"])

	pct := f.decomposer.Decompose("gross margin % in Q1 2024")
	assert.NotEqual(t, models.MatchAggregatable, pct.MatchType, "ratios cannot be summed")
}

func TestTryServe_IncompleteCoverageIsPartial(t *testing.T) {
	f := newFixture(t, cache.NewMemoryStore())
	seed(t, f.store, &models.MetricCalculation{
		MetricCode: "NET_INCOME", Granularity: models.GranularityMonthly, TimePeriod: "2024-01", Value: 5,
	})
	_, err := f.registry.Load(context.Background())
	require.NoError(t, err)

	match := f.decomposer.Decompose("net income in Q1 2024")
	assert.Equal(t, models.MatchPartial, match.MatchType)
	assert.Len(t, match.AvailableCalculations, 1)
}

func TestAggregateSQL_Postgres(t *testing.T) {
	sql := AggregateSQL(models.DialectPostgreSQL, "NET_INCOME", "2024", "SUM", []*models.MetricCalculation{
		{TimePeriod: "2024-Q1", Value: 1.5},
		{TimePeriod: "2024-Q2", Value: 2},
	})
	assert.Equal(t, "WITH precalc(period, value) AS (VALUES ('2024-Q1', 1.5), ('2024-Q2', 2))\n"+
		"SELECT '2024' AS time_period, SUM(value) AS net_income FROM precalc", sql)
}

func TestCalculator_RunCachesCombinedValues(t *testing.T) {
	logger := zap.NewNop()
	h := hierarchy.NewStatic(hierarchy.DefaultOptions(), logger)
	store := cache.NewMemoryStore()
	reg := NewRegistry(store, logger)
	exec := warehouse.NewMockExecutor()
	exec.ExecuteQueryFunc = func(_ context.Context, sql string) (*warehouse.Result, error) {
		row := map[string]any{"revenue": 1000.0, "sales_deductions": 50.0, "cogs": "600", "row_count": int64(42)}
		if strings.Contains(sql, "GROUP BY Sales_Region") {
			row["region"] = "West"
		}
		return &warehouse.Result{Rows: []map[string]any{row}}, nil
	}

	cfg, err := NewConfig()
	require.NoError(t, err)
	cfg.Metrics = []string{"GROSS_MARGIN", "HEADCOUNT"}
	cfg.Granularities = []models.Granularity{models.GranularityMTD}
	cfg.Pacing = 0

	calc := NewCalculator(cfg, h, exec, store, reg, logger)
	calc.now = func() time.Time { return time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC) }

	summary, err := calc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Queries)
	assert.Equal(t, 2, summary.Records)
	assert.Zero(t, summary.Failures)

	queries := exec.Executed()
	require.Len(t, queries, 2)
	assert.Contains(t, queries[0], "WHERE Posting_Date >= DATE '2024-05-01' AND Posting_Date < DATE '2024-05-21'")
	assert.Contains(t, queries[1], "Sales_Region AS region")

	var stored models.MetricCalculation
	require.NoError(t, cache.GetJSON(context.Background(), store, "precalc:GROSS_MARGIN:mtd:MTD:{}", &stored))
	assert.InDelta(t, 350.0, stored.Value, 1e-9)
	assert.Equal(t, 42, stored.RowCount)

	byRegion := reg.FindMatches("GROSS_MARGIN", "MTD", models.GranularityMTD, map[string]string{"region": "*"})
	require.Len(t, byRegion, 1)
	assert.Equal(t, "West", byRegion[0].Dimensions["region"])
}

func TestCalculator_RunPeriodicallySleepsRefreshInterval(t *testing.T) {
	logger := zap.NewNop()
	h := hierarchy.NewStatic(hierarchy.DefaultOptions(), logger)
	store := cache.NewMemoryStore()
	exec := warehouse.NewMockExecutor()

	cfg, err := NewConfig()
	require.NoError(t, err)
	cfg.Metrics = []string{"GROSS_MARGIN"}
	cfg.Granularities = []models.Granularity{models.GranularityMTD}
	cfg.Dimensions = map[string]string{}
	cfg.Pacing = 0
	cfg.RefreshIntervalHours = 2

	calc := NewCalculator(cfg, h, exec, store, nil, logger)
	var slept []time.Duration
	calc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		if d == 2*time.Hour {
			return context.Canceled
		}
		return nil
	}

	err = calc.RunPeriodically(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, time.Duration(0), slept[0])
	assert.Equal(t, 2*time.Hour, slept[len(slept)-1])
	assert.Len(t, exec.Executed(), 1)
}
