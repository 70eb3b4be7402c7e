package research

import (
	"context"
	"errors"
	"strings"
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

type answerCall struct {
	question string
	opts     sqlgen.Options
}

type fakeAnswerer struct {
	AnswerFunc func(ctx context.Context, question string, opts sqlgen.Options) (*sqlgen.QueryResponse, error)

	mu    sync.Mutex
	calls []answerCall
}

func (f *fakeAnswerer) Answer(ctx context.Context, question string, opts sqlgen.Options) (*sqlgen.QueryResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, answerCall{question: question, opts: opts})
	f.mu.Unlock()
	if f.AnswerFunc != nil {
		return f.AnswerFunc(ctx, question, opts)
	}
	return rowsResponse(question, 2), nil
}

func rowsResponse(question string, n int) *sqlgen.QueryResponse {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"month": i + 1, "gross_margin": float64(100 * (i + 1))}
	}
	return &sqlgen.QueryResponse{
		Question: question,
		SQL:      "SELECT 1 -- " + question,
		Rows:     rows,
		RowCount: n,
		Columns:  []sqlgen.ColumnInfo{{Name: "month"}, {Name: "gross_margin"}},
	}
}

// tickingClock advances one millisecond per reading.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func deepPlan() *models.ResearchPlan {
	return &models.ResearchPlan{
		ID:            "plan-1",
		Objective:     "analyze gross margin trends",
		OriginalQuery: "analyze gross margin trends",
		Metadata:      map[string]any{"client_id": tenant},
		Steps: []*models.ResearchStep{
			{ID: "step_1", Name: "Calculate gross margin", Description: "Calculate gross margin", StepType: models.StepMetricCalc,
				Metadata: models.StepMetadata{Concept: "gross_margin", GLContext: &models.GLQueryContext{RequiredBuckets: []string{"REV", "SALE_DS", "COGS_*"}}}},
			{ID: "step_2", Name: "Analyze gross margin trend", Description: "Show the monthly trend of gross margin", StepType: models.StepTrend, Dependencies: []string{"step_1"}},
			{ID: "step_3", Name: "Break down gross margin", Description: "Break down gross margin by product", StepType: models.StepBreakdown, Dependencies: []string{"step_1"}},
		},
	}
}

func newTestExecutor(a Answerer) (*Executor, *repositories.MemoryResearchAudit) {
	audit := &repositories.MemoryResearchAudit{}
	e := NewExecutor(a, audit, "default", zap.NewNop())
	clock := &tickingClock{t: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)}
	e.now = clock.Now
	return e, audit
}

func TestExecutePlan_SequentialCompletes(t *testing.T) {
	fa := &fakeAnswerer{}
	e, audit := newTestExecutor(fa)

	exec, err := e.ExecutePlan(context.Background(), deepPlan(), nil, false)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, 100.0, exec.ProgressPercentage())
	require.NotNil(t, exec.CompletedAt)
	for _, id := range []string{"step_1", "step_2", "step_3"} {
		res := exec.StepResults[id]
		assert.Equal(t, models.StepStatusCompleted, res.Status, id)
		assert.Len(t, res.Results, 2)
	}

	require.Len(t, fa.calls, 3)
	first := fa.calls[0]
	assert.Equal(t, "Calculate gross margin for analyze gross margin trends", first.question)
	assert.Equal(t, tenant, first.opts.ClientID)
	assert.Equal(t, "none. Concept: gross_margin. GL buckets: REV, SALE_DS, COGS_*", first.opts.PriorAnalysis)
	assert.Equal(t,
		"Calculate gross margin for analyze gross margin trends. Previous analysis context: none. Concept: gross_margin. GL buckets: REV, SALE_DS, COGS_*",
		exec.StepResults["step_1"].Query)

	second := fa.calls[1]
	assert.Equal(t, "Calculate gross margin returned 2 rows with columns month, gross_margin", second.opts.PriorAnalysis)

	records := audit.All()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, exec.ID, rec.ExecutionID)
	assert.Equal(t, models.ExecutionCompleted, rec.Status)
	assert.Equal(t, 3, rec.StepsTotal)
	assert.Equal(t, 3, rec.StepsCompleted)
	assert.Len(t, rec.StepSQL, 3)
}

func TestExecutePlan_FailedDependencyFailsDependents(t *testing.T) {
	fa := &fakeAnswerer{AnswerFunc: func(_ context.Context, q string, _ sqlgen.Options) (*sqlgen.QueryResponse, error) {
		if strings.HasPrefix(q, "Calculate") {
			return nil, errors.New("query timed out")
		}
		return rowsResponse(q, 1), nil
	}}
	e, audit := newTestExecutor(fa)

	exec, err := e.ExecutePlan(context.Background(), deepPlan(), nil, true)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, exec.Status, "a failing step does not fail the plan")
	assert.Equal(t, "query timed out", exec.StepResults["step_1"].Error)
	for _, id := range []string{"step_2", "step_3"} {
		assert.Equal(t, models.StepStatusFailed, exec.StepResults[id].Status)
		assert.Equal(t, DependenciesFailed, exec.StepResults[id].Error)
	}
	assert.Len(t, fa.calls, 1)
	assert.Equal(t, 0.0, exec.ProgressPercentage())
	assert.Equal(t, 3, audit.All()[0].StepsFailed)
}

func TestExecutePlan_ResponseErrorAndClarificationFailStep(t *testing.T) {
	fa := &fakeAnswerer{AnswerFunc: func(_ context.Context, q string, _ sqlgen.Options) (*sqlgen.QueryResponse, error) {
		if strings.HasPrefix(q, "Show") {
			return &sqlgen.QueryResponse{Error: "warehouse unavailable"}, nil
		}
		if strings.HasPrefix(q, "Break") {
			return &sqlgen.QueryResponse{ClarifyingQuestions: []string{"What time period?"}}, nil
		}
		return rowsResponse(q, 1), nil
	}}
	e, _ := newTestExecutor(fa)

	exec, err := e.ExecutePlan(context.Background(), deepPlan(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, "warehouse unavailable", exec.StepResults["step_2"].Error)
	assert.Equal(t, "needs clarification: What time period?", exec.StepResults["step_3"].Error)
	assert.InDelta(t, 33.33, exec.ProgressPercentage(), 0.01)
}

func TestExecutePlan_ParallelRunsLevelConcurrently(t *testing.T) {
	arrived := make(chan string, 2)
	release := make(chan struct{})
	fa := &fakeAnswerer{AnswerFunc: func(_ context.Context, q string, _ sqlgen.Options) (*sqlgen.QueryResponse, error) {
		if !strings.HasPrefix(q, "Calculate") {
			arrived <- q
			select {
			case <-release:
			case <-time.After(2 * time.Second):
				return nil, errors.New("sibling never started")
			}
		}
		return rowsResponse(q, 3), nil
	}}
	e, _ := newTestExecutor(fa)

	go func() {
		<-arrived
		<-arrived
		close(release)
	}()

	exec, err := e.ExecutePlan(context.Background(), deepPlan(), nil, true)
	require.NoError(t, err)

	for _, id := range []string{"step_1", "step_2", "step_3"} {
		assert.Equal(t, models.StepStatusCompleted, exec.StepResults[id].Status, id)
	}
	dep := exec.StepResults["step_1"]
	for _, id := range []string{"step_2", "step_3"} {
		res := exec.StepResults[id]
		require.NotNil(t, res.StartedAt)
		assert.True(t, res.StartedAt.After(*dep.CompletedAt), "%s started before its dependency completed", id)
	}
}

func TestExecutePlan_ProgressCallbacksInOrder(t *testing.T) {
	e, _ := newTestExecutor(&fakeAnswerer{})
	var snapshots []models.ProgressSnapshot
	cb := func(s models.ProgressSnapshot) { snapshots = append(snapshots, s) }

	exec, err := e.ExecutePlan(context.Background(), deepPlan(), cb, false)
	require.NoError(t, err)

	// initial + running/completed per step + final
	require.Len(t, snapshots, 8)
	assert.Equal(t, models.ExecutionRunning, snapshots[0].Status)
	assert.Equal(t, 0.0, snapshots[0].ProgressPercentage)
	assert.Equal(t, models.StepStatusRunning, snapshots[1].Steps["step_1"].Status)
	assert.Equal(t, models.StepStatusCompleted, snapshots[2].Steps["step_1"].Status)
	assert.Equal(t, 2, snapshots[2].Steps["step_1"].RowCount)

	last := snapshots[len(snapshots)-1]
	assert.Equal(t, exec.ID, last.ExecutionID)
	assert.Equal(t, "plan-1", last.PlanID)
	assert.Equal(t, models.ExecutionCompleted, last.Status)
	assert.Equal(t, 100.0, last.ProgressPercentage)
	for i := 1; i < len(snapshots); i++ {
		assert.GreaterOrEqual(t, snapshots[i].ProgressPercentage, snapshots[i-1].ProgressPercentage)
	}
}

func TestExecutePlan_PanickingCallbackDoesNotStopExecution(t *testing.T) {
	e, _ := newTestExecutor(&fakeAnswerer{})
	exec, err := e.ExecutePlan(context.Background(), deepPlan(), func(models.ProgressSnapshot) { panic("boom") }, true)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
}

func TestCancelExecution_StopsRemainingSteps(t *testing.T) {
	var e *Executor
	cancelled := false
	fa := &fakeAnswerer{AnswerFunc: func(_ context.Context, q string, _ sqlgen.Options) (*sqlgen.QueryResponse, error) {
		e.mu.RLock()
		var ids []string
		for id := range e.executions {
			ids = append(ids, id)
		}
		e.mu.RUnlock()
		require.Len(t, ids, 1)
		cancelled = e.CancelExecution(ids[0])
		return rowsResponse(q, 1), nil
	}}
	e, _ = newTestExecutor(fa)

	exec, err := e.ExecutePlan(context.Background(), deepPlan(), nil, false)
	require.NoError(t, err)

	assert.True(t, cancelled)
	assert.Equal(t, models.ExecutionCancelled, exec.Status)
	assert.Equal(t, models.StepStatusCompleted, exec.StepResults["step_1"].Status, "in-flight step finishes")
	assert.Equal(t, models.StepStatusCancelled, exec.StepResults["step_2"].Status)
	assert.Equal(t, models.StepStatusCancelled, exec.StepResults["step_3"].Status)
	assert.Len(t, fa.calls, 1)

	assert.False(t, e.CancelExecution(exec.ID), "only running executions can be cancelled")
}

func TestExecutePlan_ContextCancelled(t *testing.T) {
	e, audit := newTestExecutor(&fakeAnswerer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec, err := e.ExecutePlan(ctx, deepPlan(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, exec.Status)
	assert.Equal(t, models.ExecutionCancelled, audit.All()[0].Status)
}

func TestExecutePlan_InvalidPlan(t *testing.T) {
	e, _ := newTestExecutor(&fakeAnswerer{})
	plan := &models.ResearchPlan{ID: "bad", Steps: []*models.ResearchStep{{ID: "a", Dependencies: []string{"missing"}}}}
	_, err := e.ExecutePlan(context.Background(), plan, nil, false)
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

func TestGetExecution(t *testing.T) {
	e, _ := newTestExecutor(&fakeAnswerer{})
	_, ok := e.GetExecution("missing")
	assert.False(t, ok)

	exec, err := e.ExecutePlan(context.Background(), deepPlan(), nil, false)
	require.NoError(t, err)

	got, ok := e.GetExecution(exec.ID)
	require.True(t, ok)
	got.StepResults["step_1"].Status = models.StepStatusFailed
	again, _ := e.GetExecution(exec.ID)
	assert.Equal(t, models.StepStatusCompleted, again.StepResults["step_1"].Status, "returned executions are copies")
}
