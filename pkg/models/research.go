package models

import (
	"time"
)

// ============================================================================
// Research Plan
// ============================================================================

// StepType is the analytical kind of a research step.
type StepType string

const (
	StepMetricCalc   StepType = "metric_calc"
	StepTrend        StepType = "trend"
	StepComparison   StepType = "comparison"
	StepSegmentation StepType = "segmentation"
	StepCorrelation  StepType = "correlation"
	StepAnomaly      StepType = "anomaly"
	StepDetail       StepType = "detail"
	// StepBreakdown is emitted by the planner for "break down" questions and is
	// synthesized like a segmentation.
	StepBreakdown StepType = "breakdown"
)

// ResearchDepth scales how many steps a plan may contain.
type ResearchDepth string

const (
	DepthQuick    ResearchDepth = "quick"
	DepthStandard ResearchDepth = "standard"
	DepthDeep     ResearchDepth = "deep"
)

// Complexity is the planner's estimate of question difficulty.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityExpert   Complexity = "expert"
)

// StepMetadata carries planning context for a step.
type StepMetadata struct {
	Complexity     Complexity      `json:"complexity"`
	Approach       string          `json:"approach"`
	RequiredTables []string        `json:"required_tables,omitempty"`
	GLContext      *GLQueryContext `json:"gl_context,omitempty"`
	SchemaContext  *SchemaContext  `json:"schema_context,omitempty"`
	Concept        string          `json:"concept,omitempty"`
}

// ResearchStep is one node of a research plan DAG.
type ResearchStep struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	StepType           StepType     `json:"step_type"`
	QueryTemplate      string       `json:"query_template"`
	Dependencies       []string     `json:"dependencies"`
	EstimatedDurationS int          `json:"estimated_duration_s"`
	Priority           int          `json:"priority"`
	Metadata           StepMetadata `json:"metadata"`
}

// ResearchPlan is an ordered decomposition of a complex question.
type ResearchPlan struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Objective          string          `json:"objective"`
	OriginalQuery      string          `json:"original_query"`
	Steps              []*ResearchStep `json:"steps"`
	Depth              ResearchDepth   `json:"depth"`
	EstimatedDurationS int             `json:"estimated_duration_s"`
	CreatedAt          time.Time       `json:"created_at"`
	Metadata           map[string]any  `json:"metadata"`
}

// Step returns the step with the given id, or nil.
func (p *ResearchPlan) Step(id string) *ResearchStep {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// SchemaContext is what the planner learned about the warehouse schema for a question.
type SchemaContext struct {
	Tables             []string            `json:"tables"`
	Columns            map[string][]string `json:"columns"`
	GLMappingAvailable bool                `json:"gl_mapping_available"`
}

// ============================================================================
// Execution
// ============================================================================

// StepStatus is the state of one step within an execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCancelled StepStatus = "cancelled"
)

// ExecutionStatus is the state of a research execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// StepResult is the outcome of executing one research step.
type StepResult struct {
	StepID      string           `json:"step_id"`
	Status      StepStatus       `json:"status"`
	Query       string           `json:"query"`
	Results     []map[string]any `json:"results,omitempty"`
	Error       string           `json:"error,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// Duration returns the wall time of the step, or zero if it has not finished.
func (r *StepResult) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// ResearchExecution tracks one run of a plan.
type ResearchExecution struct {
	ID          string                 `json:"id"`
	PlanID      string                 `json:"plan_id"`
	Status      ExecutionStatus        `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	StepResults map[string]*StepResult `json:"step_results"`
}

// ProgressPercentage is completed steps over total steps, in [0,100].
func (e *ResearchExecution) ProgressPercentage() float64 {
	if len(e.StepResults) == 0 {
		return 0
	}
	completed := 0
	for _, r := range e.StepResults {
		if r.Status == StepStatusCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(e.StepResults)) * 100
}

// StepProgress is the per-step part of a progress snapshot.
type StepProgress struct {
	Status   StepStatus `json:"status"`
	RowCount int        `json:"row_count"`
	Duration float64    `json:"duration"`
}

// ProgressSnapshot is published to progress callbacks after every transition.
type ProgressSnapshot struct {
	ExecutionID        string                  `json:"execution_id"`
	PlanID             string                  `json:"plan_id"`
	Status             ExecutionStatus         `json:"status"`
	ProgressPercentage float64                 `json:"progress_percentage"`
	Steps              map[string]StepProgress `json:"steps"`
}

// ============================================================================
// Report
// ============================================================================

// Importance ranks an insight.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// Insight is a finding derived from step results.
type Insight struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Importance     Importance     `json:"importance"`
	Category       string         `json:"category"`
	SupportingData map[string]any `json:"supporting_data,omitempty"`
	SourceSteps    []string       `json:"source_steps"`
	Confidence     float64        `json:"confidence"`
}

// Recommendation is an action suggested by the synthesizer.
type Recommendation struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Priority        string   `json:"priority"`
	ExpectedImpact  string   `json:"expected_impact"`
	RelatedInsights []string `json:"related_insights"`
}

// DataSummary aggregates execution statistics for a report.
type DataSummary struct {
	TotalQueries   int     `json:"total_queries"`
	TotalRows      int     `json:"total_rows"`
	AvgQueryTime   float64 `json:"avg_query_time"`
	StepsCompleted int     `json:"steps_completed"`
	StepsFailed    int     `json:"steps_failed"`
}

// ResearchReport is the synthesized output of a research execution.
type ResearchReport struct {
	ID               string           `json:"id"`
	PlanID           string           `json:"plan_id"`
	ExecutionID      string           `json:"execution_id"`
	Title            string           `json:"title"`
	ExecutiveSummary string           `json:"executive_summary"`
	KeyFindings      []string         `json:"key_findings"`
	Insights         []Insight        `json:"insights"`
	Recommendations  []Recommendation `json:"recommendations"`
	Methodology      string           `json:"methodology"`
	DataSummary      DataSummary      `json:"data_summary"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// ResearchAuditRecord is the single audit row written when an execution finishes.
type ResearchAuditRecord struct {
	ExecutionID    string            `json:"execution_id"`
	PlanID         string            `json:"plan_id"`
	OriginalQuery  string            `json:"original_query"`
	Status         ExecutionStatus   `json:"status"`
	StepsTotal     int               `json:"steps_total"`
	StepsCompleted int               `json:"steps_completed"`
	StepsFailed    int               `json:"steps_failed"`
	StepSQL        map[string]string `json:"step_sql"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}
