package patterns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/repositories"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

const regionQuery = "SELECT Sales_Region, SUM(Gross_Revenue) AS revenue FROM dataset_25m_table WHERE Posting_Date >= '2024-01-%02d' GROUP BY Sales_Region"

func regionEntries(n int) []*models.QueryLogEntry {
	now := time.Now().UTC()
	out := make([]*models.QueryLogEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &models.QueryLogEntry{
			ClientID:        "arizona_beverages",
			SQL:             fmt.Sprintf(regionQuery, i+1),
			ExecutionTimeMs: 2000,
			BytesProcessed:  500_000_000,
			CreatedAt:       now.Add(-time.Duration(i) * time.Hour),
		})
	}
	return out
}

func newTestAnalyzer(t *testing.T, log repositories.QueryLogRepository, exec warehouse.Executor) *Analyzer {
	t.Helper()
	cfg, err := NewConfig()
	require.NoError(t, err)
	if log == nil {
		log = repositories.NewMemoryQueryLog()
	}
	if exec == nil {
		exec = warehouse.NewMockExecutor()
	}
	return NewAnalyzer(cfg, log, exec, zap.NewNop())
}

func TestNormalizeSQL(t *testing.T) {
	a := NormalizeSQL("select  x\n from t where d >= '2024-01-01' and n = 42;")
	b := NormalizeSQL("SELECT x FROM t WHERE d >= '2023-12-31' AND n = 7")
	assert.Equal(t, "SELECT X FROM T WHERE D >= ? AND N = ?", a)
	assert.Equal(t, a, b)
}

func TestExtractFeatures_Parsed(t *testing.T) {
	f := ExtractFeatures(fmt.Sprintf(regionQuery, 1))

	assert.Equal(t, []string{"dataset_25m_table"}, f.Tables)
	assert.Equal(t, []string{"SUM(Gross_Revenue)"}, f.Aggregations)
	assert.Equal(t, []string{"Sales_Region"}, f.GroupBy)
	assert.Equal(t, []string{"Posting_Date"}, f.Filters)
	assert.Equal(t, []string{"SUM(Gross_Revenue) AS revenue"}, f.Measures)
	assert.False(t, f.HasJoin)
	assert.False(t, f.HasTimeFunc)
}

func TestExtractFeatures_Join(t *testing.T) {
	f := ExtractFeatures("SELECT a.x, b.y FROM a JOIN b ON a.id = b.id WHERE a.z = 1")
	assert.True(t, f.HasJoin)
	assert.Equal(t, models.PatternJoin, classify(f))
}

func TestAnalyze_RegionBreakdownScenario(t *testing.T) {
	log := repositories.NewMemoryQueryLog()
	for _, e := range regionEntries(12) {
		require.NoError(t, log.Record(context.Background(), e))
	}
	a := newTestAnalyzer(t, log, nil)

	patterns, err := a.Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, models.PatternDimensionBreakdown, p.PatternType)
	assert.Equal(t, 12, p.Frequency)
	assert.Equal(t, int64(6_000_000_000), p.TotalBytesProcessed)
	assert.InDelta(t, 2000, p.AvgExecutionMs, 0.001)
	assert.Len(t, p.SampleQueries, 3)

	recs, err := a.GenerateMVRecommendations(patterns)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.GreaterOrEqual(t, rec.EstCostReductionPct, 89.0)
	assert.LessOrEqual(t, rec.EstCostReductionPct, 90.0)
	assert.GreaterOrEqual(t, rec.Confidence, 0.7)
	assert.Equal(t, 12, rec.AffectedQueries)
	assert.True(t, strings.HasPrefix(rec.ViewName, "finance.mv_dataset_25m_table_"))
	assert.Contains(t, rec.SuggestedQuery, "GROUP BY Sales_Region")
	assert.Contains(t, rec.SuggestedQuery, "SUM(Gross_Revenue) AS revenue")
	assert.Contains(t, rec.SuggestedQuery, "FROM dataset_25m_table")
	assert.NotEmpty(t, rec.Reasoning)
}

func TestAnalyze_PatternIDsStable(t *testing.T) {
	entries := regionEntries(6)
	first := newTestAnalyzer(t, nil, nil).AnalyzeEntries(entries)
	second := newTestAnalyzer(t, nil, nil).AnalyzeEntries(entries)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].PatternID, second[0].PatternID)
	assert.Len(t, first[0].PatternID, 16)
}

func TestAnalyze_SkipsFailedAndPreCalcAndRare(t *testing.T) {
	entries := regionEntries(4)
	entries = append(entries,
		&models.QueryLogEntry{SQL: fmt.Sprintf(regionQuery, 9), Error: "boom"},
		&models.QueryLogEntry{SQL: "-- served from pre-calculated metrics", FromPreCalc: true},
	)

	patterns := newTestAnalyzer(t, nil, nil).AnalyzeEntries(entries)
	assert.Empty(t, patterns, "four successful runs stay below the default frequency of five")
}

func TestGenerateMVRecommendations_BelowThresholds(t *testing.T) {
	a := newTestAnalyzer(t, nil, nil)
	patterns := a.AnalyzeEntries(regionEntries(6))
	require.Len(t, patterns, 1)

	recs, err := a.GenerateMVRecommendations(patterns)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestGenerateMVRecommendations_TimeSeries(t *testing.T) {
	query := "SELECT DATE_TRUNC(Posting_Date, MONTH) AS month, SUM(GL_Amount_in_CC) AS total FROM `proj.finance.gl` WHERE Posting_Date >= DATE '2024-01-01' GROUP BY month"
	var entries []*models.QueryLogEntry
	for i := 0; i < 20; i++ {
		entries = append(entries, &models.QueryLogEntry{SQL: query, BytesProcessed: 2_000_000_000, ExecutionTimeMs: 100})
	}

	a := newTestAnalyzer(t, nil, nil)
	patterns := a.AnalyzeEntries(entries)
	require.Len(t, patterns, 1)
	assert.Equal(t, models.PatternTimeSeries, patterns[0].PatternType)
	assert.Equal(t, []string{"proj.finance.gl"}, patterns[0].Tables)

	recs, err := a.GenerateMVRecommendations(patterns)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	ddl := recs[0].SuggestedQuery
	assert.Contains(t, ddl, "DATE_TRUNC(Posting_Date, DAY) AS period")
	assert.Contains(t, ddl, "GROUP BY period")
	assert.NotContains(t, ddl, ", month")
	assert.True(t, strings.HasPrefix(recs[0].ViewName, "finance.mv_gl_"))
}

func TestAutoCreateRecommendedMVs(t *testing.T) {
	log := repositories.NewMemoryQueryLog()
	for _, e := range regionEntries(12) {
		require.NoError(t, log.Record(context.Background(), e))
	}
	exec := warehouse.NewMockExecutor()
	a := newTestAnalyzer(t, log, exec)

	created, err := a.AutoCreateRecommendedMVs(context.Background(), 5, 0.7)
	require.NoError(t, err)
	require.Len(t, created, 1)

	executed := exec.Executed()
	require.Len(t, executed, 1)
	assert.True(t, strings.HasPrefix(executed[0], "CREATE MATERIALIZED VIEW "+created[0]))
}

func TestAutoCreateRecommendedMVs_ConfidenceGateAndFailure(t *testing.T) {
	log := repositories.NewMemoryQueryLog()
	for _, e := range regionEntries(12) {
		require.NoError(t, log.Record(context.Background(), e))
	}

	exec := warehouse.NewMockExecutor()
	created, err := newTestAnalyzer(t, log, exec).AutoCreateRecommendedMVs(context.Background(), 5, 0.95)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, exec.Executed())

	failing := warehouse.NewMockExecutor()
	failing.ExecFunc = func(context.Context, string) error { return errors.New("permission denied") }
	_, err = newTestAnalyzer(t, log, failing).AutoCreateRecommendedMVs(context.Background(), 5, 0.5)
	require.Error(t, err)
}
