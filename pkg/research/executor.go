package research

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
	"github.com/ekaya-inc/ekaya-finsight/pkg/repositories"
	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlgen"
)

// DependenciesFailed is the error recorded on steps whose dependencies did not complete.
const DependenciesFailed = "Dependencies failed"

// Answerer turns a question into executed SQL results.
type Answerer interface {
	Answer(ctx context.Context, question string, opts sqlgen.Options) (*sqlgen.QueryResponse, error)
}

var _ Answerer = (*sqlgen.Generator)(nil)

// Executor runs research plans step by step or level by level.
type Executor struct {
	answerer Answerer
	audit    repositories.ResearchAuditRepository
	clientID string
	logger   *zap.Logger

	mu         sync.RWMutex
	executions map[string]*run

	now func() time.Time
}

// run is the mutable state of one execution. Fields of exec are guarded by Executor.mu.
type run struct {
	plan       *models.ResearchPlan
	exec       *models.ResearchExecution
	dispatcher *dispatcher
}

func NewExecutor(answerer Answerer, audit repositories.ResearchAuditRepository, clientID string, logger *zap.Logger) *Executor {
	return &Executor{
		answerer:   answerer,
		audit:      audit,
		clientID:   clientID,
		logger:     logger.Named("research-executor"),
		executions: make(map[string]*run),
		now:        time.Now,
	}
}

// ExecutePlan runs plan and returns the finished execution. A failing step
// never aborts the plan; its dependents fail with "Dependencies failed".
// In parallel mode the steps of each dependency level run concurrently.
func (e *Executor) ExecutePlan(ctx context.Context, plan *models.ResearchPlan, cb ProgressCallback, parallel bool) (*models.ResearchExecution, error) {
	graph, err := NewStepGraph(plan.Steps)
	if err != nil {
		return nil, fmt.Errorf("invalid research plan %s: %w", plan.ID, err)
	}

	exec := &models.ResearchExecution{
		ID:          uuid.New().String(),
		PlanID:      plan.ID,
		Status:      models.ExecutionRunning,
		StartedAt:   e.now().UTC(),
		StepResults: make(map[string]*models.StepResult, len(plan.Steps)),
	}
	for _, s := range plan.Steps {
		exec.StepResults[s.ID] = &models.StepResult{StepID: s.ID, Status: models.StepStatusPending}
	}
	r := &run{plan: plan, exec: exec}
	if cb != nil {
		r.dispatcher = newDispatcher([]ProgressCallback{cb}, e.logger)
	}

	e.mu.Lock()
	e.executions[exec.ID] = r
	e.publishLocked(r)
	e.mu.Unlock()

	e.logger.Info("Starting research execution",
		zap.String("execution_id", exec.ID),
		zap.String("plan_id", plan.ID),
		zap.Int("steps", len(plan.Steps)),
		zap.Bool("parallel", parallel))

	if parallel {
		e.runLevels(ctx, r, graph)
	} else {
		e.runSequential(ctx, r, graph)
	}

	e.finish(ctx, r)
	if r.dispatcher != nil {
		r.dispatcher.close()
	}

	out, _ := e.GetExecution(exec.ID)
	return out, nil
}

func (e *Executor) stopped(ctx context.Context, r *run) bool {
	if ctx.Err() != nil {
		e.mu.Lock()
		if r.exec.Status == models.ExecutionRunning {
			r.exec.Status = models.ExecutionCancelled
			e.publishLocked(r)
		}
		e.mu.Unlock()
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return r.exec.Status == models.ExecutionCancelled
}

// ready reports whether every dependency of step completed. Steps whose
// dependencies did not are failed in place.
func (e *Executor) ready(r *run, graph *StepGraph, step *models.ResearchStep) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range graph.Dependencies(step.ID) {
		if r.exec.StepResults[dep].Status != models.StepStatusCompleted {
			res := r.exec.StepResults[step.ID]
			now := e.now().UTC()
			res.Status = models.StepStatusFailed
			res.Error = DependenciesFailed
			res.CompletedAt = &now
			observability.ResearchStepsTotal.WithLabelValues(string(step.StepType), string(res.Status)).Inc()
			e.publishLocked(r)
			return false
		}
	}
	return true
}

func (e *Executor) runSequential(ctx context.Context, r *run, graph *StepGraph) {
	for _, step := range r.plan.Steps {
		if e.stopped(ctx, r) {
			return
		}
		if !e.ready(r, graph, step) {
			continue
		}
		e.runStep(ctx, r, graph, step)
	}
}

func (e *Executor) runLevels(ctx context.Context, r *run, graph *StepGraph) {
	for _, level := range graph.Levels() {
		if e.stopped(ctx, r) {
			return
		}
		var g errgroup.Group
		for _, id := range level {
			step := r.plan.Step(id)
			if !e.ready(r, graph, step) {
				continue
			}
			g.Go(func() error {
				e.runStep(ctx, r, graph, step)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (e *Executor) runStep(ctx context.Context, r *run, graph *StepGraph, step *models.ResearchStep) {
	e.mu.Lock()
	res := r.exec.StepResults[step.ID]
	started := e.now().UTC()
	res.Status = models.StepStatusRunning
	res.StartedAt = &started
	prior := e.priorContextLocked(r, graph, step)
	question := step.Description + " for " + r.plan.Objective
	res.Query = question + ". Previous analysis context: " + prior
	e.publishLocked(r)
	e.mu.Unlock()

	resp, err := e.answerer.Answer(ctx, question, sqlgen.Options{
		ClientID:      e.clientFor(r.plan),
		PriorAnalysis: prior,
	})
	if err == nil && resp != nil && resp.Error == "" && len(resp.ClarifyingQuestions) > 0 && resp.SQL == "" {
		err = fmt.Errorf("needs clarification: %s", strings.Join(resp.ClarifyingQuestions, " "))
	}
	if err == nil && resp != nil && resp.Error != "" {
		err = errors.New(resp.Error)
	}
	if err == nil && resp == nil {
		err = errors.New("no response from sql generator")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	completed := e.now().UTC()
	res.CompletedAt = &completed
	if err != nil {
		res.Status = models.StepStatusFailed
		res.Error = err.Error()
		e.logger.Warn("Research step failed",
			zap.String("step_id", step.ID),
			zap.String("step_type", string(step.StepType)),
			zap.Error(err))
	} else {
		res.Status = models.StepStatusCompleted
		res.Results = resp.Rows
		columns := make([]string, 0, len(resp.Columns))
		for _, c := range resp.Columns {
			columns = append(columns, c.Name)
		}
		res.Metadata = map[string]any{
			"sql":          resp.SQL,
			"row_count":    resp.RowCount,
			"columns":      columns,
			"from_precalc": resp.FromPreCalc,
			"from_cache":   resp.FromCache,
		}
	}
	observability.ResearchStepsTotal.WithLabelValues(string(step.StepType), string(res.Status)).Inc()
	e.publishLocked(r)
}

func (e *Executor) clientFor(plan *models.ResearchPlan) string {
	if id, ok := plan.Metadata["client_id"].(string); ok && id != "" {
		return id
	}
	return e.clientID
}

// priorContextLocked summarises what the dependencies of step returned.
func (e *Executor) priorContextLocked(r *run, graph *StepGraph, step *models.ResearchStep) string {
	var parts []string
	for _, dep := range graph.Dependencies(step.ID) {
		res := r.exec.StepResults[dep]
		name := dep
		if s := r.plan.Step(dep); s != nil {
			name = s.Name
		}
		parts = append(parts, fmt.Sprintf("%s returned %d rows with columns %s",
			name, len(res.Results), strings.Join(resultColumns(res), ", ")))
	}
	summary := "none"
	if len(parts) > 0 {
		summary = strings.Join(parts, "; ")
	}
	if glc := step.Metadata.GLContext; glc != nil {
		if step.Metadata.Concept != "" {
			summary += fmt.Sprintf(". Concept: %s", step.Metadata.Concept)
		}
		if len(glc.RequiredBuckets) > 0 {
			summary += fmt.Sprintf(". GL buckets: %s", strings.Join(glc.RequiredBuckets, ", "))
		}
	}
	return summary
}

func resultColumns(res *models.StepResult) []string {
	if cols, ok := res.Metadata["columns"].([]string); ok && len(cols) > 0 {
		return cols
	}
	if len(res.Results) == 0 {
		return nil
	}
	cols := make([]string, 0, len(res.Results[0]))
	for k := range res.Results[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func (e *Executor) finish(ctx context.Context, r *run) {
	e.mu.Lock()
	now := e.now().UTC()
	for _, res := range r.exec.StepResults {
		if res.Status == models.StepStatusPending {
			res.Status = models.StepStatusCancelled
		}
	}
	if r.exec.Status == models.ExecutionRunning {
		r.exec.Status = models.ExecutionCompleted
	}
	r.exec.CompletedAt = &now
	e.publishLocked(r)
	rec := auditRecord(r)
	e.mu.Unlock()

	e.logger.Info("Research execution finished",
		zap.String("execution_id", rec.ExecutionID),
		zap.String("status", string(rec.Status)),
		zap.Int("completed", rec.StepsCompleted),
		zap.Int("failed", rec.StepsFailed))

	if e.audit == nil {
		return
	}
	if err := e.audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Error("Failed to record research audit",
			zap.String("execution_id", rec.ExecutionID),
			zap.Error(err))
	}
}

func auditRecord(r *run) *models.ResearchAuditRecord {
	rec := &models.ResearchAuditRecord{
		ExecutionID:   r.exec.ID,
		PlanID:        r.plan.ID,
		OriginalQuery: r.plan.OriginalQuery,
		Status:        r.exec.Status,
		StepsTotal:    len(r.plan.Steps),
		StepSQL:       make(map[string]string),
		StartedAt:     r.exec.StartedAt,
		CompletedAt:   r.exec.CompletedAt,
	}
	for id, res := range r.exec.StepResults {
		switch res.Status {
		case models.StepStatusCompleted:
			rec.StepsCompleted++
		case models.StepStatusFailed:
			rec.StepsFailed++
		}
		if sql, ok := res.Metadata["sql"].(string); ok && sql != "" {
			rec.StepSQL[id] = sql
		}
	}
	return rec
}

// publishLocked queues a snapshot of r. Callers hold e.mu.
func (e *Executor) publishLocked(r *run) {
	if r.dispatcher == nil {
		return
	}
	s := models.ProgressSnapshot{
		ExecutionID:        r.exec.ID,
		PlanID:             r.exec.PlanID,
		Status:             r.exec.Status,
		ProgressPercentage: r.exec.ProgressPercentage(),
		Steps:              make(map[string]models.StepProgress, len(r.exec.StepResults)),
	}
	for id, res := range r.exec.StepResults {
		s.Steps[id] = models.StepProgress{
			Status:   res.Status,
			RowCount: len(res.Results),
			Duration: res.Duration().Seconds(),
		}
	}
	r.dispatcher.publish(s)
}

// CancelExecution marks a running execution cancelled. Steps already in
// flight finish; no further steps start. It reports whether the status changed.
func (e *Executor) CancelExecution(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.executions[id]
	if !ok || r.exec.Status != models.ExecutionRunning {
		return false
	}
	r.exec.Status = models.ExecutionCancelled
	e.publishLocked(r)
	e.logger.Info("Research execution cancelled", zap.String("execution_id", id))
	return true
}

// GetExecution returns a copy of the execution's current state.
func (e *Executor) GetExecution(id string) (*models.ResearchExecution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.executions[id]
	if !ok {
		return nil, false
	}
	return copyExecution(r.exec), true
}

func copyExecution(src *models.ResearchExecution) *models.ResearchExecution {
	out := *src
	if src.CompletedAt != nil {
		t := *src.CompletedAt
		out.CompletedAt = &t
	}
	out.StepResults = make(map[string]*models.StepResult, len(src.StepResults))
	for id, res := range src.StepResults {
		cp := *res
		out.StepResults[id] = &cp
	}
	return &out
}
