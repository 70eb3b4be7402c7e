package research

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/gladvisor"
	"github.com/ekaya-inc/ekaya-finsight/pkg/knowledge"
	"github.com/ekaya-inc/ekaya-finsight/pkg/logging"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/registry"
	"github.com/ekaya-inc/ekaya-finsight/pkg/semantic"
)

const (
	schemaTableLimit  = 10
	schemaColumnLimit = 5
)

var (
	expertKeywords  = []string{"predict", "forecast", "anomaly", "anomalies", "root cause"}
	complexKeywords = []string{"analyze", "analyse", "compare", "correlat", "trend", "break down", "breakdown", "impact", "driver", "why", "segment", "variance"}
	simpleKeywords  = []string{"show", "what is", "what was", "total", "list", "how much", "get"}

	baseStepCap = map[models.Complexity]float64{
		models.ComplexitySimple:   1,
		models.ComplexityModerate: 3,
		models.ComplexityComplex:  5,
		models.ComplexityExpert:   8,
	}
	depthMultiplier = map[models.ResearchDepth]float64{
		models.DepthQuick:    0.5,
		models.DepthStandard: 1.0,
		models.DepthDeep:     1.5,
	}
	stepDuration = map[models.StepType]int{
		models.StepMetricCalc: 30,
		models.StepTrend:      45,
		models.StepBreakdown:  40,
		models.StepDetail:     20,
	}
)

// PlanOptions tunes plan creation.
type PlanOptions struct {
	Depth       models.ResearchDepth
	FocusAreas  []string
	ClientID    string
	Interactive bool
}

// Planner decomposes complex questions into research plans.
type Planner struct {
	parser    *semantic.Parser
	advisor   *gladvisor.Advisor
	registry  *registry.Registry
	knowledge knowledge.Service
	clientID  string
	logger    *zap.Logger
	now       func() time.Time
}

func NewPlanner(parser *semantic.Parser, advisor *gladvisor.Advisor, reg *registry.Registry, ks knowledge.Service, clientID string, logger *zap.Logger) *Planner {
	return &Planner{
		parser:    parser,
		advisor:   advisor,
		registry:  reg,
		knowledge: ks,
		clientID:  clientID,
		logger:    logger.Named("research-planner"),
		now:       time.Now,
	}
}

// EstimateComplexity classifies a question from its keywords.
func EstimateComplexity(query string) models.Complexity {
	q := strings.ToLower(query)
	if countKeywords(q, expertKeywords) > 0 {
		return models.ComplexityExpert
	}
	complexHits := countKeywords(q, complexKeywords)
	if complexHits >= 2 || (complexHits == 1 && containsWord(q, "and")) {
		return models.ComplexityComplex
	}
	if complexHits == 0 && countKeywords(q, simpleKeywords) > 0 {
		return models.ComplexitySimple
	}
	return models.ComplexityModerate
}

func countKeywords(q string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(q, k) {
			n++
		}
	}
	return n
}

func containsWord(q, word string) bool {
	for _, f := range strings.Fields(q) {
		if f == word {
			return true
		}
	}
	return false
}

// StepCap is the maximum number of steps a plan of the given complexity and depth may hold.
func StepCap(c models.Complexity, d models.ResearchDepth) int {
	base, ok := baseStepCap[c]
	if !ok {
		base = baseStepCap[models.ComplexityModerate]
	}
	mult, ok := depthMultiplier[d]
	if !ok {
		mult = 1
	}
	return max(1, int(math.Floor(base*mult)))
}

// CreateEnhancedPlan builds a schema- and GL-aware plan for query.
func (p *Planner) CreateEnhancedPlan(ctx context.Context, query string, opts PlanOptions) (*models.ResearchPlan, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("research query is empty")
	}
	depth := opts.Depth
	if depth == "" {
		depth = models.DepthStandard
	}
	if _, ok := depthMultiplier[depth]; !ok {
		return nil, fmt.Errorf("unknown research depth %q", depth)
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = p.clientID
	}

	complexity := EstimateComplexity(query)
	qc := p.parser.Parse(query)

	var glc *models.GLQueryContext
	if qc.IsFinancial() && p.advisor != nil {
		glc = p.advisor.Analyze(ctx, query, clientID)
	}
	schema := p.schemaContext(ctx, query, clientID)

	objective := query
	if len(opts.FocusAreas) > 0 {
		objective = fmt.Sprintf("%s, focusing on %s", query, strings.Join(opts.FocusAreas, ", "))
	}

	steps := decompose(query, qc, glc, complexity, schema)
	stepCap := StepCap(complexity, depth)
	steps = capSteps(steps, stepCap)

	total := 0
	for _, s := range steps {
		total += s.EstimatedDurationS
	}

	plan := &models.ResearchPlan{
		ID:                 uuid.New().String(),
		Title:              "Research: " + logging.TruncateString(query, 80),
		Objective:          objective,
		OriginalQuery:      query,
		Steps:              steps,
		Depth:              depth,
		EstimatedDurationS: total,
		CreatedAt:          p.now().UTC(),
		Metadata: map[string]any{
			"complexity":  string(complexity),
			"client_id":   clientID,
			"step_cap":    stepCap,
			"focus_areas": append([]string{}, opts.FocusAreas...),
			"interactive": opts.Interactive,
		},
	}
	if opts.Interactive && glc != nil && len(glc.ClarificationQuestions) > 0 {
		plan.Metadata["clarification_questions"] = glc.ClarificationQuestions
	}

	p.logger.Info("Created research plan",
		zap.String("plan_id", plan.ID),
		zap.String("complexity", string(complexity)),
		zap.String("depth", string(depth)),
		zap.Int("steps", len(steps)))
	return plan, nil
}

func (p *Planner) schemaContext(ctx context.Context, query, clientID string) *models.SchemaContext {
	sc := &models.SchemaContext{Tables: []string{}, Columns: map[string][]string{}}
	if p.registry != nil {
		sc.GLMappingAvailable = p.registry.HasMappings(clientID)
	}
	if p.knowledge == nil {
		return sc
	}
	for i, t := range p.knowledge.SearchTables(ctx, query, schemaTableLimit) {
		sc.Tables = append(sc.Tables, t.Name)
		if i >= schemaColumnLimit {
			continue
		}
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, c.Name)
		}
		sc.Columns[t.Name] = cols
	}
	return sc
}

// concept is one financial quantity a plan computes.
type concept struct {
	key  string
	name string
}

func planConcepts(qc *models.QueryContext, glc *models.GLQueryContext) []concept {
	var out []concept
	seen := make(map[string]bool)
	add := func(key, name string) {
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, concept{key: key, name: name})
	}
	if glc != nil {
		for _, c := range glc.IdentifiedConcepts {
			add(c, strings.ReplaceAll(c, "_", " "))
		}
	}
	for _, m := range qc.Metrics {
		add(strings.ToLower(m.Code), strings.ToLower(m.Name))
	}
	return out
}

func decompose(query string, qc *models.QueryContext, glc *models.GLQueryContext, complexity models.Complexity, schema *models.SchemaContext) []*models.ResearchStep {
	q := strings.ToLower(query)
	var steps []*models.ResearchStep
	newStep := func(typ models.StepType, name, description string, deps []string, meta models.StepMetadata) *models.ResearchStep {
		meta.Complexity = complexity
		meta.SchemaContext = schema
		meta.RequiredTables = schema.Tables
		s := &models.ResearchStep{
			ID:                 fmt.Sprintf("step_%d", len(steps)+1),
			Name:               name,
			Description:        description,
			StepType:           typ,
			QueryTemplate:      description,
			Dependencies:       deps,
			EstimatedDurationS: stepDuration[typ],
			Priority:           len(steps) + 1,
			Metadata:           meta,
		}
		steps = append(steps, s)
		return s
	}

	period := ""
	if qc.TimePeriod != nil && qc.TimePeriod.Text != "" {
		period = " " + qc.TimePeriod.Text
	}

	var last *models.ResearchStep
	for _, c := range planConcepts(qc, glc) {
		deps := []string{}
		if last != nil {
			deps = []string{last.ID}
		}
		last = newStep(models.StepMetricCalc,
			"Calculate "+c.name,
			"Calculate "+c.name+period,
			deps,
			models.StepMetadata{Approach: "financial", GLContext: glc, Concept: c.key})
	}

	subject := "the results"
	var anchor []string
	if last != nil {
		subject = last.Metadata.Concept
		subject = strings.ReplaceAll(subject, "_", " ")
		anchor = []string{last.ID}
	}
	if strings.Contains(q, "trend") {
		newStep(models.StepTrend,
			"Analyze "+subject+" trend",
			"Show the monthly trend of "+subject+period,
			anchor,
			models.StepMetadata{Approach: "time_series", GLContext: glc})
	}
	if semantic.IsBreakdown(query) {
		by := "by component"
		if len(qc.Dimensions) > 0 {
			by = "by " + strings.Join(qc.Dimensions, " and ")
		}
		newStep(models.StepBreakdown,
			"Break down "+subject,
			"Break down "+subject+" "+by+period,
			anchor,
			models.StepMetadata{Approach: "breakdown", GLContext: glc})
	}
	if len(steps) == 0 {
		newStep(models.StepDetail, "Answer question", query, []string{}, models.StepMetadata{Approach: "direct"})
	}
	return steps
}

// capSteps keeps the first n steps and drops dependencies on removed steps.
func capSteps(steps []*models.ResearchStep, n int) []*models.ResearchStep {
	if len(steps) <= n {
		return steps
	}
	kept := steps[:n]
	ids := make(map[string]bool, n)
	for _, s := range kept {
		ids[s.ID] = true
	}
	for _, s := range kept {
		deps := s.Dependencies[:0]
		for _, d := range s.Dependencies {
			if ids[d] {
				deps = append(deps, d)
			}
		}
		s.Dependencies = deps
	}
	return kept
}

// OptimizePlan groups steps that may run concurrently. Two steps share a
// group only when neither transitively depends on the other.
func (p *Planner) OptimizePlan(plan *models.ResearchPlan) (*models.ResearchPlan, error) {
	g, err := NewStepGraph(plan.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to optimize plan %s: %w", plan.ID, err)
	}
	groups := g.Levels()
	if plan.Metadata == nil {
		plan.Metadata = map[string]any{}
	}
	plan.Metadata["optimized"] = true
	plan.Metadata["parallel_groups"] = groups
	plan.Metadata["group_count"] = len(groups)

	p.logger.Debug("Optimized research plan",
		zap.String("plan_id", plan.ID),
		zap.Int("groups", len(groups)))
	return plan, nil
}
