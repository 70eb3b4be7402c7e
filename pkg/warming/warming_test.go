package warming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/repositories"
	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlgen"
)

type fakeGenerator struct {
	IsCachedFunc func(question string) (bool, error)
	GenerateFunc func(question string) error

	mu        sync.Mutex
	generated []string
	opts      []sqlgen.Options
}

func (f *fakeGenerator) IsCached(_ context.Context, _, question string) (bool, error) {
	if f.IsCachedFunc != nil {
		return f.IsCachedFunc(question)
	}
	return false, nil
}

func (f *fakeGenerator) Generate(_ context.Context, question string, opts sqlgen.Options) (*sqlgen.Generated, error) {
	f.mu.Lock()
	f.generated = append(f.generated, question)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.GenerateFunc != nil {
		if err := f.GenerateFunc(question); err != nil {
			return nil, err
		}
	}
	return &sqlgen.Generated{SQL: "SELECT 1"}, nil
}

type failingLog struct{}

func (failingLog) Record(context.Context, *models.QueryLogEntry) error { return errors.New("down") }
func (failingLog) GetQueryHistory(context.Context, time.Time, int) ([]*models.QueryLogEntry, error) {
	return nil, errors.New("connection refused")
}

var monday = time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

func newTestWarmer(t *testing.T, gen Generator, log repositories.QueryLogRepository) (*Warmer, *[]time.Duration) {
	t.Helper()
	cfg, err := NewConfig()
	require.NoError(t, err)
	w := NewWarmer(cfg, gen, log, nil, zap.NewNop())
	w.now = func() time.Time { return monday }

	var mu sync.Mutex
	var slept []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	return w, &slept
}

func record(t *testing.T, log *repositories.MemoryQueryLog, question string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, log.Record(context.Background(), &models.QueryLogEntry{
			Question:  question,
			CreatedAt: monday.Add(-time.Duration(i+1) * time.Hour),
		}))
	}
}

func TestRunStrategy_Popularity(t *testing.T) {
	log := repositories.NewMemoryQueryLog()
	record(t, log, "show revenue this month", 6)
	record(t, log, "Show  revenue this month", 1)
	record(t, log, "show ebitda last quarter", 2)
	gen := &fakeGenerator{}
	w, slept := newTestWarmer(t, gen, log)

	summary, err := w.RunStrategy(context.Background(), StrategyPopularity)
	require.NoError(t, err)

	assert.Equal(t, StrategyPopularity, summary.Strategy)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, []string{"show revenue this month"}, summary.QueriesWarmed)
	require.Len(t, gen.opts, 1)
	assert.True(t, gen.opts[0].ForceRefresh)
	assert.Empty(t, *slept, "no pacing after the last question")
}

func TestRunStrategy_RecencyCountsCachedAndFailures(t *testing.T) {
	log := repositories.NewMemoryQueryLog()
	record(t, log, "show revenue this month", 2)
	record(t, log, "show gross margin by region", 1)
	record(t, log, "show net income last quarter", 1)
	require.NoError(t, log.Record(context.Background(), &models.QueryLogEntry{
		Question: "broken question", Error: "boom", CreatedAt: monday.Add(-time.Minute),
	}))

	gen := &fakeGenerator{
		IsCachedFunc: func(q string) (bool, error) { return q == "show revenue this month", nil },
		GenerateFunc: func(q string) error {
			if q == "show net income last quarter" {
				return errors.New("model unavailable")
			}
			return nil
		},
	}
	w, slept := newTestWarmer(t, gen, log)

	summary, err := w.RunStrategy(context.Background(), StrategyRecency)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.AlreadyCached)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "model unavailable")
	assert.NotContains(t, gen.generated, "broken question")
	for _, d := range *slept {
		assert.Equal(t, 500*time.Millisecond, d)
	}
}

func TestQueries_Financial(t *testing.T) {
	w, _ := newTestWarmer(t, &fakeGenerator{}, nil)

	qs, err := w.Queries(context.Background(), StrategyFinancial)
	require.NoError(t, err)
	assert.Len(t, qs, 48)
	assert.Contains(t, qs, "show gross margin by region this quarter")
	assert.Contains(t, qs, "show gross margin percentage year to date")
	assert.Contains(t, qs, "show net income last month")
}

func TestQueries_Predictive(t *testing.T) {
	w, _ := newTestWarmer(t, &fakeGenerator{}, nil)

	qs, err := w.Queries(context.Background(), StrategyPredictive)
	require.NoError(t, err)
	assert.Contains(t, qs, "show revenue last week")
	assert.Contains(t, qs, "show net income last month")
	assert.Contains(t, qs, "show net income last quarter")
	assert.Contains(t, qs, "show revenue month to date")

	w.now = func() time.Time { return time.Date(2024, 7, 17, 15, 0, 0, 0, time.UTC) }
	qs, err = w.Queries(context.Background(), StrategyPredictive)
	require.NoError(t, err)
	assert.Equal(t, []string{"show revenue month to date"}, qs)
}

func TestQueries_UnknownStrategy(t *testing.T) {
	w, _ := newTestWarmer(t, &fakeGenerator{}, nil)
	_, err := w.Queries(context.Background(), Strategy("psychic"))
	assert.Error(t, err)
}

func TestParseSchedules_AndDue(t *testing.T) {
	doc := []byte(`
schedules:
  - name: morning
    strategy: financial
    schedule_time: "09:00"
    enabled: true
  - name: month-end
    strategy: predictive
    schedule_time: "30 6 1 * *"
    enabled: true
  - name: disabled
    strategy: recency
    schedule_time: "09:00"
    enabled: false
`)
	schedules, err := ParseSchedules(doc)
	require.NoError(t, err)
	require.Len(t, schedules, 3)
	morning, monthEnd, disabled := schedules[0], schedules[1], schedules[2]
	window := 5 * time.Minute

	assert.True(t, morning.Due(time.Date(2024, 7, 1, 9, 3, 0, 0, time.UTC), window))
	assert.True(t, morning.Due(time.Date(2024, 7, 1, 8, 56, 0, 0, time.UTC), window))
	assert.False(t, morning.Due(time.Date(2024, 7, 1, 9, 10, 0, 0, time.UTC), window))
	assert.False(t, disabled.Due(time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC), window))

	assert.True(t, monthEnd.Due(time.Date(2024, 7, 1, 6, 31, 0, 0, time.UTC), window))
	assert.False(t, monthEnd.Due(time.Date(2024, 7, 2, 6, 31, 0, 0, time.UTC), window))

	ran := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	morning.LastRun = &ran
	assert.False(t, morning.Due(time.Date(2024, 7, 1, 9, 3, 0, 0, time.UTC), window), "already ran today")
	assert.True(t, morning.Due(time.Date(2024, 7, 2, 9, 3, 0, 0, time.UTC), window))
}

func TestParseSchedules_Invalid(t *testing.T) {
	_, err := ParseSchedules([]byte("schedules:\n  - name: x\n    strategy: financial\n    schedule_time: \"25:99\"\n"))
	assert.Error(t, err)

	_, err = ParseSchedules([]byte("schedules:\n  - name: x\n    strategy: nope\n    schedule_time: \"09:00\"\n"))
	assert.Error(t, err)
}

func TestCheckSchedules_RunsOncePerDay(t *testing.T) {
	gen := &fakeGenerator{}
	w, _ := newTestWarmer(t, gen, nil)
	w.now = func() time.Time { return time.Date(2024, 7, 1, 9, 2, 0, 0, time.UTC) }
	require.NoError(t, w.AddSchedule(&Schedule{
		Name: "close", ScheduleTime: "09:00", Enabled: true,
		Queries: []string{"show net income last month", "show ebitda last month"},
	}))

	require.NoError(t, w.CheckSchedules(context.Background()))
	assert.Equal(t, []string{"show net income last month", "show ebitda last month"}, gen.generated)
	require.NotNil(t, w.Schedules()[0].LastRun)

	require.NoError(t, w.CheckSchedules(context.Background()))
	assert.Len(t, gen.generated, 2)
}

func TestIntervalLoop_BacksOffAfterFailedCycle(t *testing.T) {
	w, _ := newTestWarmer(t, &fakeGenerator{}, failingLog{})
	ctx, cancel := context.WithCancel(context.Background())
	var slept []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		cancel()
		return context.Canceled
	}

	err := w.intervalLoop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{10 * time.Minute}, slept)
}

func TestScheduleLoop_BacksOffAfterFailedSchedule(t *testing.T) {
	w, _ := newTestWarmer(t, &fakeGenerator{}, failingLog{})
	w.now = func() time.Time { return time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC) }
	require.NoError(t, w.AddSchedule(&Schedule{Name: "popular", Strategy: StrategyPopularity, ScheduleTime: "09:00", Enabled: true}))

	ctx, cancel := context.WithCancel(context.Background())
	var slept []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		cancel()
		return context.Canceled
	}

	err := w.scheduleLoop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{5 * time.Minute}, slept)
}

func TestRun_StopsOnCancel(t *testing.T) {
	w, _ := newTestWarmer(t, &fakeGenerator{}, repositories.NewMemoryQueryLog())
	ctx, cancel := context.WithCancel(context.Background())
	w.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	assert.NoError(t, w.Run(ctx))
}
